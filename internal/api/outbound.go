package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"alertdesk/internal/model"
	"alertdesk/internal/outbound"
	"alertdesk/internal/stream"
)

type Sender interface {
	SendNotification(ctx context.Context, n outbound.Notification) (*outbound.Result, error)
	SendBulk(ctx context.Context, ns []outbound.Notification) (*outbound.Result, error)
	SendEmergency(ctx context.Context, n outbound.Notification) (*outbound.Result, error)
	History(ctx context.Context, f outbound.HistoryFilter) (*outbound.Result, error)
	Stats(ctx context.Context, timeRange string) (*outbound.Result, error)
	Preferences(ctx context.Context, userID string) (*outbound.Result, error)
	UpdatePreferences(ctx context.Context, userID string, prefs map[string]any) (*outbound.Result, error)
}

type Emitter interface {
	LocationUpdate(ctx context.Context, loc outbound.Location) error
	StatusUpdate(ctx context.Context, status string) error
	ReportIncident(ctx context.Context, inc model.Incident) error
	UpdateIncident(ctx context.Context, inc model.Incident) error
	SendMessage(ctx context.Context, msg outbound.Message) error
}

func (s *Server) registerOutbound(mux *http.ServeMux) {
	if s.deps.Sender != nil {
		mux.HandleFunc("POST /outbound/notifications", s.handleSend)
		mux.HandleFunc("POST /outbound/notifications/bulk", s.handleSendBulk)
		mux.HandleFunc("POST /outbound/emergency", s.handleSendEmergency)
		mux.HandleFunc("GET /outbound/history", s.handleHistory)
		mux.HandleFunc("GET /outbound/stats", s.handleStats)
		mux.HandleFunc("GET /outbound/preferences/{user}", s.handlePreferences)
		mux.HandleFunc("PUT /outbound/preferences/{user}", s.handleUpdatePreferences)
	}
	if s.deps.Emitter != nil {
		mux.HandleFunc("POST /stream/location", s.handleLocation)
		mux.HandleFunc("POST /stream/status", s.handleResponderStatus)
		mux.HandleFunc("POST /stream/incidents", s.handleReportIncident)
		mux.HandleFunc("PUT /stream/incidents/{id}", s.handleUpdateIncident)
		mux.HandleFunc("POST /stream/messages", s.handleMessage)
	}
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var n outbound.Notification
	if !readJSON(w, r, &n) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := s.deps.Sender.SendNotification(r.Context(), n)
	s.writeResult(w, res, err)
}

func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var ns []outbound.Notification
	if !readJSON(w, r, &ns) || len(ns) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := s.deps.Sender.SendBulk(r.Context(), ns)
	s.writeResult(w, res, err)
}

func (s *Server) handleSendEmergency(w http.ResponseWriter, r *http.Request) {
	var n outbound.Notification
	if !readJSON(w, r, &n) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := s.deps.Sender.SendEmergency(r.Context(), n)
	s.writeResult(w, res, err)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := outbound.HistoryFilter{
		Type:     q.Get("type"),
		Severity: q.Get("severity"),
		SentBy:   q.Get("sentBy"),
	}
	var err error
	if f.Page, err = optionalInt(q.Get("page")); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if f.Limit, err = optionalInt(q.Get("limit")); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if f.DateFrom, err = optionalTime(q.Get("dateFrom")); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if f.DateTo, err = optionalTime(q.Get("dateTo")); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := s.deps.Sender.History(r.Context(), f)
	s.writeResult(w, res, err)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Sender.Stats(r.Context(), r.URL.Query().Get("range"))
	s.writeResult(w, res, err)
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Sender.Preferences(r.Context(), r.PathValue("user"))
	s.writeResult(w, res, err)
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var prefs map[string]any
	if !readJSON(w, r, &prefs) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := s.deps.Sender.UpdatePreferences(r.Context(), r.PathValue("user"), prefs)
	s.writeResult(w, res, err)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var loc outbound.Location
	if !readJSON(w, r, &loc) || loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.writeEmit(w, s.deps.Emitter.LocationUpdate(r.Context(), loc))
}

func (s *Server) handleResponderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !readJSON(w, r, &req) || strings.TrimSpace(req.Status) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.writeEmit(w, s.deps.Emitter.StatusUpdate(r.Context(), req.Status))
}

func (s *Server) handleReportIncident(w http.ResponseWriter, r *http.Request) {
	var inc model.Incident
	if !readJSON(w, r, &inc) || inc.Type == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if inc.Status == "" {
		inc.Status = model.IncidentActive
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = s.now().UTC()
	}
	s.writeEmit(w, s.deps.Emitter.ReportIncident(r.Context(), inc))
}

func (s *Server) handleUpdateIncident(w http.ResponseWriter, r *http.Request) {
	var inc model.Incident
	if !readJSON(w, r, &inc) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	inc.ID = r.PathValue("id")
	inc.UpdatedAt = s.now().UTC()
	s.writeEmit(w, s.deps.Emitter.UpdateIncident(r.Context(), inc))
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg outbound.Message
	if !readJSON(w, r, &msg) || strings.TrimSpace(msg.Text) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	s.writeEmit(w, s.deps.Emitter.SendMessage(r.Context(), msg))
}

func (s *Server) writeResult(w http.ResponseWriter, res *outbound.Result, err error) {
	if err != nil {
		var rerr *outbound.RequestError
		if errors.As(err, &rerr) {
			writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "message": rerr.Message, "status": rerr.Status})
			return
		}
		s.logError("outbound request failed", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"success": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeEmit(w http.ResponseWriter, err error) {
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, stream.ErrNotConnected) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent"})
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid number")
	}
	return n, nil
}

func optionalTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
