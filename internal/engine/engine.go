package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"alertdesk/internal/cache"
	"alertdesk/internal/events"
	"alertdesk/internal/model"
	"alertdesk/internal/normalize"
	"alertdesk/internal/sequencer"
)

// invalidWarnEvery bounds how often a malformed event name is logged at warn.
const invalidWarnEvery = 10 * time.Second

type Observer interface {
	FrameReceived(event string)
	FrameInvalid(event string)
	FrameReplayed(event string)
}

// Alerts is the part of the sequencer the router feeds.
type Alerts interface {
	Enqueue(alert model.EmergencyAlert) sequencer.Outcome
}

type Caches struct {
	Incidents    *cache.Incidents
	Responders   *cache.Responders
	SystemAlerts *cache.SystemAlerts
}

type Options struct {
	DedupeWindow time.Duration
	DefaultSound string
	Observer     Observer
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine routes inbound stream frames: replays are dropped, payloads are
// normalized, cached and published, and emergency alerts are sequenced.
type Engine struct {
	logger       *slog.Logger
	caches       Caches
	bus          *events.Bus
	alerts       Alerts
	observer     Observer
	deDupe       *DedupeCache
	warnings     *Cooldown
	dedupeWindow atomic.Int64
	defaultSound atomic.Value
	now          func() time.Time
}

func NewEngine(caches Caches, bus *events.Bus, alerts Alerts, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		logger:   opts.Logger,
		caches:   caches,
		bus:      bus,
		alerts:   alerts,
		observer: opts.Observer,
		deDupe:   NewDedupeCache(),
		warnings: NewCooldown(),
		now:      opts.Now,
	}
	e.dedupeWindow.Store(int64(opts.DedupeWindow))
	e.defaultSound.Store(opts.DefaultSound)
	return e
}

func (e *Engine) UpdateDedupeWindow(d time.Duration) {
	e.dedupeWindow.Store(int64(d))
}

func (e *Engine) UpdateDefaultSound(path string) {
	e.defaultSound.Store(path)
}

func (e *Engine) Start(ctx context.Context, in <-chan model.Envelope) {
	go func() {
		for {
			select {
			case env := <-in:
				e.ProcessFrame(env)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessFrame handles one frame and returns the published payload, or nil
// when the frame was a replay, malformed or of an unknown event.
func (e *Engine) ProcessFrame(env model.Envelope) model.Payload {
	now := env.ReceivedAt
	if now.IsZero() {
		now = e.now().UTC()
	}
	e.received(env.Event)
	if e.isReplay(env, now) {
		if e.observer != nil {
			e.observer.FrameReplayed(env.Event)
		}
		if e.logger != nil {
			e.logger.Debug("replayed frame dropped", "event", env.Event)
		}
		return nil
	}

	payload, err := e.decode(env, now)
	if err != nil {
		if e.observer != nil {
			e.observer.FrameInvalid(env.Event)
		}
		e.logInvalid(env.Event, now, err)
		return nil
	}
	if payload == nil {
		if e.logger != nil {
			e.logger.Debug("unknown event ignored", "event", env.Event)
		}
		return nil
	}

	e.apply(env.Event, payload)
	e.bus.Publish(events.Event{Name: env.Event, Payload: payload, At: now})
	return payload
}

func (e *Engine) logInvalid(event string, now time.Time, err error) {
	if e.logger == nil {
		return
	}
	level := slog.LevelDebug
	if e.warnings.Allow(event, now, invalidWarnEvery) {
		level = slog.LevelWarn
	}
	var verr *normalize.ValidationError
	if errors.As(err, &verr) {
		e.logger.Log(context.Background(), level, "invalid frame dropped", "event", verr.Event, "reason", verr.Reason)
		return
	}
	e.logger.Log(context.Background(), level, "invalid frame dropped", "event", event, "err", err)
}

func (e *Engine) received(event string) {
	if e.observer != nil {
		e.observer.FrameReceived(event)
	}
}

func (e *Engine) decode(env model.Envelope, now time.Time) (model.Payload, error) {
	switch env.Event {
	case model.EventNewIncident, model.EventIncidentUpdated:
		return normalize.Incident(env.Event, env.Data, now)
	case model.EventResponderLocation:
		return normalize.ResponderLocation(env.Data, now)
	case model.EventResponderStatus:
		return normalize.ResponderStatus(env.Data, now)
	case model.EventSystemAlert:
		return normalize.SystemAlert(env.Data, now)
	case model.EventEmergencyAlert, model.EventPushNotification:
		sound, _ := e.defaultSound.Load().(string)
		return normalize.EmergencyAlert(env.Event, env.Data, now, sound)
	}
	return nil, nil
}

func (e *Engine) apply(event string, payload model.Payload) {
	switch p := payload.(type) {
	case model.Incident:
		if e.caches.Incidents != nil {
			e.caches.Incidents.Apply(event, p)
		}
	case model.ResponderPosition:
		if e.caches.Responders != nil {
			e.caches.Responders.Apply(p)
		}
	case model.SystemAlert:
		if e.caches.SystemAlerts != nil {
			e.caches.SystemAlerts.Push(p)
		}
	case model.EmergencyAlert:
		if event == model.EventPushNotification && !p.Metadata.RequiresAudio {
			return
		}
		if e.alerts == nil {
			return
		}
		outcome := e.alerts.Enqueue(p)
		if e.logger != nil {
			e.logger.Info("emergency alert", "alert_id", p.ID, "severity", p.Severity, "outcome", string(outcome))
		}
	}
}

func (e *Engine) isReplay(env model.Envelope, now time.Time) bool {
	window := time.Duration(e.dedupeWindow.Load())
	if window <= 0 {
		return false
	}
	return e.deDupe.Seen(hashFrame(env), now, window)
}

// hashFrame keys a frame by event name and compacted payload bytes.
func hashFrame(env model.Envelope) string {
	h := sha256.New()
	h.Write([]byte(env.Event))
	h.Write([]byte{'|'})
	var buf bytes.Buffer
	if err := json.Compact(&buf, env.Data); err == nil {
		h.Write(buf.Bytes())
	} else {
		h.Write(env.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
