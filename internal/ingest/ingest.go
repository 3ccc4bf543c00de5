package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"alertdesk/internal/model"
	"alertdesk/internal/normalize"
)

// Sink receives side-channel notifications. *notify.Store implements it.
type Sink interface {
	Add(n model.Notification) (model.Notification, bool)
	AddEmail(n model.Notification) (model.Notification, bool)
}

type Observer interface {
	SideChannelAccepted(channel string, n int)
}

var errEmptyNotification = errors.New("notification needs a title or message")

type notificationWire struct {
	ID        json.RawMessage   `json:"id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Severity  string            `json:"severity"`
	Timestamp json.RawMessage   `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

// decodeNotifications accepts one JSON object or an array of them. Entries
// that fail validation are counted, not fatal.
func decodeNotifications(body []byte, source model.SourceType) ([]model.Notification, int, error) {
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		return nil, 0, errors.New("empty body")
	}
	var raw []json.RawMessage
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &raw); err != nil {
			return nil, 0, err
		}
	} else {
		raw = []json.RawMessage{trim}
	}
	out := make([]model.Notification, 0, len(raw))
	failed := 0
	for _, item := range raw {
		n, err := decodeNotification(item, source)
		if err != nil {
			failed++
			continue
		}
		out = append(out, n)
	}
	return out, failed, nil
}

func decodeNotification(data []byte, source model.SourceType) (model.Notification, error) {
	var w notificationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return model.Notification{}, err
	}
	if strings.TrimSpace(w.Title) == "" && strings.TrimSpace(w.Message) == "" {
		return model.Notification{}, errEmptyNotification
	}
	n := model.Notification{
		ID:       rawString(w.ID),
		Source:   source,
		Title:    w.Title,
		Message:  w.Message,
		Severity: model.ParseSeverity(w.Severity),
		Data:     w.Data,
	}
	if ts := rawString(w.Timestamp); ts != "" {
		if t, err := normalize.ParseTimestamp(ts, time.UTC); err == nil {
			n.Timestamp = t.UTC()
		}
	}
	return n, nil
}

// rawString unquotes a JSON string or returns a JSON number verbatim.
func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return unq
	}
	return s
}

// BackoffSleep waits d, or returns false when ctx ends first.
func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
