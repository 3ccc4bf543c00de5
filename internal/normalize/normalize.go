package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alertdesk/internal/model"
)

// ValidationError reports a stream payload that cannot be turned into a
// model entity. Callers drop the frame and keep going.
type ValidationError struct {
	Event  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s payload: %s: %v", e.Event, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Event, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(event, reason string, err error) error {
	return &ValidationError{Event: event, Reason: reason, Err: err}
}

// wireTime accepts RFC3339 strings, layout variants and unix seconds or
// milliseconds.
type wireTime struct {
	time.Time
	set bool
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var raw string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		raw = string(b)
	}
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parsed, err := ParseTimestamp(raw, time.UTC)
	if err != nil {
		return err
	}
	t.Time = parsed.UTC()
	t.set = true
	return nil
}

func (t wireTime) or(fallback time.Time) time.Time {
	if t.set {
		return t.Time
	}
	return fallback
}

// wireID accepts string or numeric identifiers.
type wireID string

func (id *wireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = wireID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = wireID(n.String())
	return nil
}

func firstID(ids ...wireID) string {
	for _, id := range ids {
		if id != "" {
			return string(id)
		}
	}
	return ""
}

func firstString(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type incidentWire struct {
	ID            wireID   `json:"id"`
	MongoID       wireID   `json:"_id"`
	Type          string   `json:"type"`
	Severity      string   `json:"severity"`
	Zone          string   `json:"zone"`
	Status        string   `json:"status"`
	Description   string   `json:"description"`
	AssignedTo    wireID   `json:"assignedTo"`
	AssignedToAlt wireID   `json:"assigned_to"`
	HumanApproved bool     `json:"humanApproved"`
	CreatedAt     wireTime `json:"createdAt"`
	CreatedAtAlt  wireTime `json:"created_at"`
	UpdatedAt     wireTime `json:"updatedAt"`
	UpdatedAtAlt  wireTime `json:"updated_at"`
}

func Incident(event string, data []byte, now time.Time) (model.Incident, error) {
	var w incidentWire
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Incident{}, invalid(event, "decode", err)
	}
	id := firstID(w.ID, w.MongoID)
	if id == "" {
		return model.Incident{}, invalid(event, "missing id", nil)
	}
	created := w.CreatedAt.or(w.CreatedAtAlt.or(now))
	return model.Incident{
		ID:            id,
		Type:          strings.TrimSpace(w.Type),
		Severity:      model.ParseSeverity(w.Severity),
		Zone:          strings.TrimSpace(w.Zone),
		Status:        ParseIncidentStatus(w.Status),
		Description:   w.Description,
		AssignedTo:    firstID(w.AssignedTo, w.AssignedToAlt),
		HumanApproved: w.HumanApproved,
		CreatedAt:     created,
		UpdatedAt:     w.UpdatedAt.or(w.UpdatedAtAlt.or(created)),
	}, nil
}

// ParseIncidentStatus maps backend status strings onto the four client
// states. dismissed is terminal on the backend and shown as resolved.
func ParseIncidentStatus(s string) model.IncidentStatus {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))) {
	case "assigned":
		return model.IncidentAssigned
	case "in_progress", "inprogress":
		return model.IncidentInProgress
	case "resolved", "dismissed", "closed":
		return model.IncidentResolved
	default:
		return model.IncidentActive
	}
}

type coordsWire struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
}

func (c coordsWire) resolve() (float64, float64, bool) {
	lat, lng := c.Latitude, c.Longitude
	if lat == nil {
		lat = c.Lat
	}
	if lng == nil {
		lng = c.Lng
	}
	if lat == nil || lng == nil {
		return 0, 0, false
	}
	return *lat, *lng, true
}

type responderWire struct {
	coordsWire

	UserID    wireID      `json:"userId"`
	UserIDAlt wireID      `json:"user_id"`
	Location  *coordsWire `json:"location"`
	Status    string      `json:"status"`
	Timestamp wireTime    `json:"timestamp"`
}

func ResponderLocation(data []byte, now time.Time) (model.ResponderPosition, error) {
	const event = model.EventResponderLocation
	var w responderWire
	if err := json.Unmarshal(data, &w); err != nil {
		return model.ResponderPosition{}, invalid(event, "decode", err)
	}
	uid := firstID(w.UserID, w.UserIDAlt)
	if uid == "" {
		return model.ResponderPosition{}, invalid(event, "missing userId", nil)
	}
	coords := w.coordsWire
	if w.Location != nil {
		coords = *w.Location
	}
	lat, lng, ok := coords.resolve()
	if !ok {
		return model.ResponderPosition{}, invalid(event, "missing coordinates", nil)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return model.ResponderPosition{}, invalid(event, fmt.Sprintf("coordinates out of range (%v,%v)", lat, lng), nil)
	}
	return model.ResponderPosition{
		UserID:    uid,
		Latitude:  lat,
		Longitude: lng,
		Status:    strings.TrimSpace(w.Status),
		Timestamp: w.Timestamp.or(now),
	}, nil
}

func ResponderStatus(data []byte, now time.Time) (model.ResponderPosition, error) {
	const event = model.EventResponderStatus
	var w responderWire
	if err := json.Unmarshal(data, &w); err != nil {
		return model.ResponderPosition{}, invalid(event, "decode", err)
	}
	uid := firstID(w.UserID, w.UserIDAlt)
	if uid == "" {
		return model.ResponderPosition{}, invalid(event, "missing userId", nil)
	}
	status := strings.TrimSpace(w.Status)
	if status == "" {
		return model.ResponderPosition{}, invalid(event, "missing status", nil)
	}
	return model.ResponderPosition{
		UserID:     uid,
		Status:     status,
		Timestamp:  w.Timestamp.or(now),
		StatusOnly: true,
	}, nil
}

type systemAlertWire struct {
	ID        wireID   `json:"id"`
	MongoID   wireID   `json:"_id"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	Severity  string   `json:"severity"`
	Timestamp wireTime `json:"timestamp"`
}

func SystemAlert(data []byte, now time.Time) (model.SystemAlert, error) {
	const event = model.EventSystemAlert
	var w systemAlertWire
	if err := json.Unmarshal(data, &w); err != nil {
		return model.SystemAlert{}, invalid(event, "decode", err)
	}
	id := firstID(w.ID, w.MongoID)
	ts := w.Timestamp.or(now)
	if id == "" {
		// Backend system alerts may omit ids; the arrival instant stands in.
		id = strconv.FormatInt(ts.UnixMilli(), 10)
	}
	title := firstString(w.Title, "System Alert")
	return model.SystemAlert{
		ID:        id,
		Title:     title,
		Message:   w.Message,
		Severity:  model.ParseSeverity(w.Severity),
		Timestamp: ts,
	}, nil
}

type metadataWire struct {
	EventType        string  `json:"eventType"`
	EventTypeAlt     string  `json:"event_type"`
	Confidence       float64 `json:"confidence"`
	CameraID         wireID  `json:"camera_id"`
	CameraIDAlt      wireID  `json:"cameraId"`
	Location         string  `json:"location"`
	RequiresAudio    bool    `json:"requiresAudio"`
	RequiresAudioAlt bool    `json:"requires_audio"`
	AudioFile        string  `json:"audioFile"`
	AudioRef         string  `json:"audio_ref"`
}

type emergencyWire struct {
	ID            wireID       `json:"id"`
	MongoID       wireID       `json:"_id"`
	Title         string       `json:"title"`
	Message       string       `json:"message"`
	Severity      string       `json:"severity"`
	Timestamp     wireTime     `json:"timestamp"`
	Metadata      metadataWire `json:"metadata"`
	UserID        wireID       `json:"userId"`
	RequiresAudio bool         `json:"requiresAudio"`
}

func EmergencyAlert(event string, data []byte, now time.Time, defaultSound string) (model.EmergencyAlert, error) {
	var w emergencyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return model.EmergencyAlert{}, invalid(event, "decode", err)
	}
	id := firstID(w.ID, w.MongoID)
	if id == "" {
		id = strconv.FormatInt(now.UnixMilli(), 10)
	}
	if strings.TrimSpace(w.Title) == "" && strings.TrimSpace(w.Message) == "" {
		return model.EmergencyAlert{}, invalid(event, "missing title and message", nil)
	}
	md := w.Metadata
	meta := model.AlertMetadata{
		EventType:     firstString(md.EventType, md.EventTypeAlt),
		Confidence:    md.Confidence,
		CameraID:      firstID(md.CameraID, md.CameraIDAlt),
		Location:      strings.TrimSpace(md.Location),
		RequiresAudio: md.RequiresAudio || md.RequiresAudioAlt || w.RequiresAudio,
		AudioRef:      firstString(md.AudioFile, md.AudioRef),
	}
	if meta.RequiresAudio && meta.AudioRef == "" {
		meta.AudioRef = defaultSound
	}
	return model.EmergencyAlert{
		ID:         id,
		Title:      firstString(w.Title, "Emergency Alert"),
		Message:    w.Message,
		Severity:   model.ParseSeverity(w.Severity),
		Metadata:   meta,
		UserID:     string(w.UserID),
		ReceivedAt: w.Timestamp.or(now),
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
