package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alertdesk/internal/alerts"
	"alertdesk/internal/audio"
	"alertdesk/internal/cache"
	"alertdesk/internal/config"
	"alertdesk/internal/metrics"
	"alertdesk/internal/model"
	"alertdesk/internal/notify"
	"alertdesk/internal/sequencer"
)

type fakeStream struct {
	state      model.ConnState
	reconnects int
	err        error
}

func (f *fakeStream) State() model.ConnState { return f.state }
func (f *fakeStream) Session() model.Session { return model.Session{UserID: "op-1"} }
func (f *fakeStream) Reconnect(ctx context.Context) error {
	f.reconnects++
	if f.err != nil {
		return f.err
	}
	f.state = model.StateConnected
	return nil
}

type harness struct {
	handler   http.Handler
	seq       *sequencer.Sequencer
	store     *notify.Store
	incidents *cache.Incidents
	stream    *fakeStream
	player    *audio.Controller
	cfg       *config.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m := metrics.New()
	player := audio.NewController(audio.NewHeadless(true, time.Minute, time.Now), 0.7, true, nil, m)
	ackLog := alerts.NewStore(10)
	seq := sequencer.New(player, sequencer.Options{SettleDelay: 0, DefaultSound: "/audio/alarm.mp3", Observer: m, AlertLog: ackLog})
	store := notify.NewStore(notify.StoreOptions{})
	incidents := cache.NewIncidents(50)
	systems := cache.NewSystemAlerts(50)
	agg := notify.NewAggregator(store, incidents, systems, notify.AggregatorOptions{Observer: m})
	stream := &fakeStream{state: model.StateDisconnected}

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := config.Save(cfgPath, config.DefaultConfig()); err != nil {
		t.Fatalf("save config: %v", err)
	}
	cfg, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("config manager: %v", err)
	}

	srv := NewServer(Deps{
		Config:        cfg,
		Alerts:        seq,
		AckLog:        ackLog,
		Audio:         player,
		Notifications: agg,
		Settings:      store,
		Stream:        stream,
		Incidents:     incidents,
		Responders:    cache.NewResponders(50, time.Minute),
		Metrics:       m.Handler(),
		Version:       "test",
	})
	return &harness{handler: srv.Handler(), seq: seq, store: store, incidents: incidents, stream: stream, player: player, cfg: cfg}
}

func (h *harness) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return rec.Code, out
}

func TestAlertAckFlow(t *testing.T) {
	h := newHarness(t)
	h.seq.Enqueue(model.EmergencyAlert{ID: "a1", Title: "Fire", Severity: model.SeverityCritical})
	h.seq.Enqueue(model.EmergencyAlert{ID: "a2", Title: "Smoke", Severity: model.SeverityHigh})

	code, out := h.do(t, http.MethodGet, "/status", "")
	if code != http.StatusOK || out["active_alert"] != "a1" || out["queue_length"].(float64) != 1 {
		t.Fatalf("unexpected status: %d %v", code, out)
	}
	if out["audio"] != string(audio.StatusBlocked) {
		t.Fatalf("expected blocked audio before a gesture, got %v", out["audio"])
	}

	if code, _ := h.do(t, http.MethodPost, "/alerts/ack", `{"id":"a2"}`); code != http.StatusConflict {
		t.Fatalf("acking a queued alert should conflict, got %d", code)
	}
	if code, _ := h.do(t, http.MethodPost, "/alerts/ack", `{"id":"a1"}`); code != http.StatusOK {
		t.Fatalf("ack failed: %d", code)
	}
	if a, ok := h.seq.Active(); !ok || a.ID != "a2" {
		t.Fatalf("expected a2 promoted")
	}

	code, out = h.do(t, http.MethodGet, "/alerts/acknowledged", "")
	if code != http.StatusOK || out["count"].(float64) != 1 {
		t.Fatalf("unexpected acknowledged log: %d %v", code, out)
	}
	if code, _ := h.do(t, http.MethodGet, "/alerts/acknowledged?since=yesterday", ""); code != http.StatusBadRequest {
		t.Fatalf("bad since accepted")
	}

	code, out = h.do(t, http.MethodGet, "/alerts?limit=1", "")
	if code != http.StatusOK || out["count"].(float64) != 1 {
		t.Fatalf("unexpected alerts: %d %v", code, out)
	}
	if code, _ := h.do(t, http.MethodGet, "/alerts?limit=x", ""); code != http.StatusBadRequest {
		t.Fatalf("bad limit accepted")
	}
	if code, _ := h.do(t, http.MethodPost, "/alerts/ack", `{}`); code != http.StatusBadRequest {
		t.Fatalf("empty ack accepted")
	}
}

func TestAudioUnlockRetriesBlockedAlert(t *testing.T) {
	h := newHarness(t)
	h.seq.Enqueue(model.EmergencyAlert{ID: "a1", Title: "Fire", Severity: model.SeverityCritical})
	if h.player.IsPlaying() {
		t.Fatalf("audio should be blocked")
	}
	code, out := h.do(t, http.MethodPost, "/audio/unlock", "")
	if code != http.StatusOK || out["playing"] != true {
		t.Fatalf("unexpected unlock response: %d %v", code, out)
	}
	if !h.player.IsPlaying() {
		t.Fatalf("expected audio playing after unlock")
	}
}

func TestAudioVolumePersists(t *testing.T) {
	h := newHarness(t)
	code, out := h.do(t, http.MethodPut, "/settings/audio", `{"volume":1.7}`)
	if code != http.StatusOK || out["volume"].(float64) != 1 {
		t.Fatalf("unexpected response: %d %v", code, out)
	}
	reloaded, err := config.Load(h.cfg.Path())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Audio.Volume != 1 {
		t.Fatalf("volume not persisted: %v", reloaded.Audio.Volume)
	}
	if code, _ := h.do(t, http.MethodPut, "/settings/audio", `{}`); code != http.StatusBadRequest {
		t.Fatalf("missing volume accepted")
	}
}

func TestNotificationRoutes(t *testing.T) {
	h := newHarness(t)
	h.store.Add(model.Notification{ID: "n1", Title: "hello"})
	h.store.Add(model.Notification{ID: "n2", Title: "world"})
	h.incidents.Apply(model.EventNewIncident, model.Incident{ID: "i1", Type: "fire", CreatedAt: time.Now()})

	code, out := h.do(t, http.MethodGet, "/notifications", "")
	if code != http.StatusOK || out["count"].(float64) != 3 || out["unread"].(float64) != 3 {
		t.Fatalf("unexpected list: %d %v", code, out)
	}
	code, out = h.do(t, http.MethodGet, "/notifications?source=incident", "")
	if out["count"].(float64) != 1 {
		t.Fatalf("filter not applied: %v", out)
	}
	code, out = h.do(t, http.MethodGet, "/notifications?q=WORLD", "")
	if out["count"].(float64) != 1 {
		t.Fatalf("search not applied: %v", out)
	}

	code, out = h.do(t, http.MethodPost, "/notifications/read", `{"id":"incident-i1"}`)
	if code != http.StatusOK || out["unread"].(float64) != 2 {
		t.Fatalf("mark read: %d %v", code, out)
	}
	if code, _ := h.do(t, http.MethodPost, "/notifications/read", `{"id":"nope"}`); code != http.StatusNotFound {
		t.Fatalf("unknown id should 404, got %d", code)
	}
	code, out = h.do(t, http.MethodDelete, "/notifications/n1", "")
	if code != http.StatusOK || out["unread"].(float64) != 1 {
		t.Fatalf("delete: %d %v", code, out)
	}
	if code, _ := h.do(t, http.MethodDelete, "/notifications/n1", ""); code != http.StatusNotFound {
		t.Fatalf("second delete should 404")
	}
	code, out = h.do(t, http.MethodPost, "/notifications/read-all", "")
	if out["unread"].(float64) != 0 {
		t.Fatalf("read-all: %v", out)
	}
	h.do(t, http.MethodPost, "/notifications/clear", "")
	if len(h.store.List()) != 0 {
		t.Fatalf("store not cleared")
	}
}

func TestEmailSettingsRoundTrip(t *testing.T) {
	h := newHarness(t)
	s := model.DefaultEmailSettings()
	s.SeverityFilters.Low = false
	s.IncidentCreated.NotifyRoles = []string{" Admin ", ""}
	body, _ := json.Marshal(s)
	if code, _ := h.do(t, http.MethodPut, "/settings/email", string(body)); code != http.StatusOK {
		t.Fatalf("put settings: %d", code)
	}
	got := h.store.EmailSettings()
	if got.SeverityFilters.Low || len(got.IncidentCreated.NotifyRoles) != 1 || got.IncidentCreated.NotifyRoles[0] != "admin" {
		t.Fatalf("unexpected settings: %+v", got)
	}
	if code, _ := h.do(t, http.MethodPut, "/settings/email", `nope`); code != http.StatusBadRequest {
		t.Fatalf("bad body accepted")
	}
}

func TestReconnectAndMetrics(t *testing.T) {
	h := newHarness(t)
	code, out := h.do(t, http.MethodPost, "/admin/reconnect", "")
	if code != http.StatusOK || out["connection"] != string(model.StateConnected) || h.stream.reconnects != 1 {
		t.Fatalf("reconnect: %d %v", code, out)
	}
	h.stream.state = model.StateDisconnected
	h.stream.err = errors.New("refused")
	if code, _ := h.do(t, http.MethodPost, "/admin/reconnect", ""); code != http.StatusBadGateway {
		t.Fatalf("expected 502 on failed reconnect, got %d", code)
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "alertdesk_") {
		t.Fatalf("metrics not exposed: %d", rec.Code)
	}
	if code, _ := h.do(t, http.MethodPost, "/status", ""); code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", code)
	}
}
