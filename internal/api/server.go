package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"alertdesk/internal/audio"
	"alertdesk/internal/config"
	"alertdesk/internal/model"
	"alertdesk/internal/notify"
)

type Alerts interface {
	Active() (model.EmergencyAlert, bool)
	QueueLength() int
	History(limit int) []model.EmergencyAlert
	UnacknowledgedCount() int
	Acknowledge(ctx context.Context, id string) bool
	RetryAudio() (bool, audio.Status)
	ClearHistory()
}

type Audio interface {
	Unlock()
	Status() audio.Status
	Volume() float64
	SetVolume(v float64)
}

type Notifications interface {
	List(f notify.Filter) []model.Notification
	UnreadCount() int
	MarkRead(id string) bool
	MarkAllRead()
	Remove(id string) bool
	ClearAll()
}

type EmailSettings interface {
	EmailSettings() model.EmailSettings
	UpdateEmailSettings(s model.EmailSettings)
}

type Stream interface {
	State() model.ConnState
	Session() model.Session
	Reconnect(ctx context.Context) error
}

// AckLog lists acknowledged alerts, newest first.
type AckLog interface {
	RecentAlerts(ctx context.Context, limit int) ([]model.EmergencyAlert, error)
}

type Incidents interface {
	List(limit int) []model.Incident
}

type Responders interface {
	Snapshot(now time.Time) []model.ResponderPosition
}

// Deps are the components the control API reads and drives. Nil members
// disable the routes that need them.
type Deps struct {
	Config        *config.Manager
	Alerts        Alerts
	AckLog        AckLog
	Audio         Audio
	Notifications Notifications
	Settings      EmailSettings
	Stream        Stream
	Incidents     Incidents
	Responders    Responders
	Sender        Sender
	Emitter       Emitter
	Metrics       http.Handler
	// OnConfig is called after the API persisted a config change.
	OnConfig func(*config.Config)
	Logger   *slog.Logger
	Version  string
}

type Server struct {
	deps Deps
	now  func() time.Time
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps, now: time.Now}
}

type statusResponse struct {
	Status         string          `json:"status"`
	Time           string          `json:"time"`
	Version        string          `json:"version"`
	ConfigPath     string          `json:"config_path,omitempty"`
	Connection     model.ConnState `json:"connection"`
	UserID         string          `json:"user_id,omitempty"`
	ActiveAlert    *string         `json:"active_alert"`
	QueueLength    int             `json:"queue_length"`
	Unacknowledged int             `json:"unacknowledged"`
	Unread         int             `json:"unread"`
	Audio          audio.Status    `json:"audio"`
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	if s.deps.Alerts != nil {
		mux.HandleFunc("GET /alerts", s.handleAlerts)
		mux.HandleFunc("POST /alerts/ack", s.handleAck)
		mux.HandleFunc("POST /alerts/clear", s.handleClearAlerts)
	}
	if s.deps.AckLog != nil {
		mux.HandleFunc("GET /alerts/acknowledged", s.handleAcknowledged)
	}
	if s.deps.Audio != nil {
		mux.HandleFunc("POST /audio/unlock", s.handleUnlock)
		mux.HandleFunc("GET /settings/audio", s.handleGetAudio)
		mux.HandleFunc("PUT /settings/audio", s.handlePutAudio)
	}
	if s.deps.Notifications != nil {
		mux.HandleFunc("GET /notifications", s.handleNotifications)
		mux.HandleFunc("POST /notifications/read", s.handleRead)
		mux.HandleFunc("POST /notifications/read-all", s.handleReadAll)
		mux.HandleFunc("POST /notifications/clear", s.handleClearNotifications)
		mux.HandleFunc("DELETE /notifications/{id}", s.handleDelete)
	}
	if s.deps.Settings != nil {
		mux.HandleFunc("GET /settings/email", s.handleGetEmail)
		mux.HandleFunc("PUT /settings/email", s.handlePutEmail)
	}
	if s.deps.Stream != nil {
		mux.HandleFunc("POST /admin/reconnect", s.handleReconnect)
	}
	if s.deps.Incidents != nil {
		mux.HandleFunc("GET /incidents", s.handleIncidents)
	}
	if s.deps.Responders != nil {
		mux.HandleFunc("GET /responders", s.handleResponders)
	}
	s.registerOutbound(mux)
	return mux
}

func Start(ctx context.Context, cfg config.APIConfig, server *Server, logger *slog.Logger) *http.Server {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", cfg.Addr)
	}
	httpServer := &http.Server{Addr: cfg.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:  "ok",
		Time:    s.now().UTC().Format(time.RFC3339Nano),
		Version: s.deps.Version,
	}
	if s.deps.Config != nil {
		resp.ConfigPath = s.deps.Config.Path()
	}
	if s.deps.Stream != nil {
		resp.Connection = s.deps.Stream.State()
		resp.UserID = s.deps.Stream.Session().UserID
	}
	if s.deps.Alerts != nil {
		if a, ok := s.deps.Alerts.Active(); ok {
			resp.ActiveAlert = &a.ID
		}
		resp.QueueLength = s.deps.Alerts.QueueLength()
		resp.Unacknowledged = s.deps.Alerts.UnacknowledgedCount()
	}
	if s.deps.Notifications != nil {
		resp.Unread = s.deps.Notifications.UnreadCount()
	}
	if s.deps.Audio != nil {
		resp.Audio = s.deps.Audio.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	list := s.deps.Alerts.History(limit)
	resp := map[string]any{
		"alerts":         list,
		"count":          len(list),
		"unacknowledged": s.deps.Alerts.UnacknowledgedCount(),
		"queue_length":   s.deps.Alerts.QueueLength(),
	}
	if a, ok := s.deps.Alerts.Active(); ok {
		resp["active"] = a
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAcknowledged(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	var since time.Time
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		since = ts
	}
	list, err := s.deps.AckLog.RecentAlerts(r.Context(), limit)
	if err != nil {
		s.logError("read alert log failed", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !since.IsZero() {
		kept := list[:0]
		for _, a := range list {
			if a.AcknowledgedAt != nil && !a.AcknowledgedAt.Before(since) {
				kept = append(kept, a)
			}
		}
		list = kept
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": list, "count": len(list)})
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !readJSON(w, r, &req) || strings.TrimSpace(req.ID) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !s.deps.Alerts.Acknowledge(r.Context(), req.ID) {
		writeJSON(w, http.StatusConflict, map[string]any{"status": "not_active", "id": req.ID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": req.ID})
}

func (s *Server) handleClearAlerts(w http.ResponseWriter, r *http.Request) {
	s.deps.Alerts.ClearHistory()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleUnlock records a user gesture and retries audio blocked by the
// autoplay policy.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	s.deps.Audio.Unlock()
	playing, status := false, s.deps.Audio.Status()
	if s.deps.Alerts != nil {
		playing, status = s.deps.Alerts.RetryAudio()
	}
	writeJSON(w, http.StatusOK, map[string]any{"playing": playing, "audio": status})
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"volume": s.deps.Audio.Volume(), "audio": s.deps.Audio.Status()})
}

func (s *Server) handlePutAudio(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume *float64 `json:"volume"`
	}
	if !readJSON(w, r, &req) || req.Volume == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.deps.Audio.SetVolume(*req.Volume)
	if s.deps.Config != nil {
		next := *s.deps.Config.Get()
		next.Audio.Volume = s.deps.Audio.Volume()
		if err := s.deps.Config.Update(&next); err != nil {
			s.logError("persist audio settings failed", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.deps.OnConfig != nil {
			s.deps.OnConfig(&next)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"volume": s.deps.Audio.Volume()})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list := s.deps.Notifications.List(notify.Filter{Source: q.Get("source"), Search: q.Get("q")})
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"count":         len(list),
		"unread":        s.deps.Notifications.UnreadCount(),
	})
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !readJSON(w, r, &req) || strings.TrimSpace(req.ID) == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !s.deps.Notifications.MarkRead(req.ID) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "unread": s.deps.Notifications.UnreadCount()})
}

func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	s.deps.Notifications.MarkAllRead()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "unread": s.deps.Notifications.UnreadCount()})
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	s.deps.Notifications.ClearAll()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "unread": s.deps.Notifications.UnreadCount()})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Notifications.Remove(r.PathValue("id")) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "unread": s.deps.Notifications.UnreadCount()})
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.EmailSettings())
}

func (s *Server) handlePutEmail(w http.ResponseWriter, r *http.Request) {
	var settings model.EmailSettings
	if !readJSON(w, r, &settings) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.deps.Settings.UpdateEmailSettings(sanitizeSettings(settings))
	writeJSON(w, http.StatusOK, s.deps.Settings.EmailSettings())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Stream.Reconnect(r.Context()); err != nil {
		s.logError("manual reconnect failed", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"status": "error", "error": err.Error(), "connection": s.deps.Stream.State()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connection": s.deps.Stream.State()})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Incidents.List(0)
	writeJSON(w, http.StatusOK, map[string]any{"incidents": list, "count": len(list)})
}

func (s *Server) handleResponders(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Responders.Snapshot(s.now())
	writeJSON(w, http.StatusOK, map[string]any{"responders": list, "count": len(list)})
}

func sanitizeRoles(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func sanitizeSettings(s model.EmailSettings) model.EmailSettings {
	s.IncidentCreated.NotifyRoles = sanitizeRoles(s.IncidentCreated.NotifyRoles)
	s.IncidentAssigned.NotifyRoles = sanitizeRoles(s.IncidentAssigned.NotifyRoles)
	s.IncidentStatusUpdate.NotifyRoles = sanitizeRoles(s.IncidentStatusUpdate.NotifyRoles)
	s.IncidentApproval.NotifyRoles = sanitizeRoles(s.IncidentApproval.NotifyRoles)
	return s
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return false
	}
	return json.Unmarshal(body, dst) == nil
}

func (s *Server) logError(msg string, err error) {
	if s.deps.Logger != nil {
		s.deps.Logger.Error(msg, "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
