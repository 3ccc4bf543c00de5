package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"alertdesk/internal/alerts"
	"alertdesk/internal/api"
	"alertdesk/internal/audio"
	"alertdesk/internal/cache"
	"alertdesk/internal/config"
	"alertdesk/internal/dedup"
	"alertdesk/internal/engine"
	"alertdesk/internal/events"
	"alertdesk/internal/ingest"
	"alertdesk/internal/logging"
	"alertdesk/internal/metrics"
	"alertdesk/internal/model"
	"alertdesk/internal/notify"
	"alertdesk/internal/outbound"
	"alertdesk/internal/sequencer"
	"alertdesk/internal/storage"
	"alertdesk/internal/stream"

	"github.com/google/uuid"
)

const watchInterval = 2 * time.Second

type Options struct {
	Version string
	// Override is applied to the loaded config at startup and after every
	// reload, so command-line values survive hot reloads.
	Override func(*config.Config)
}

// App owns every long-lived component of one desk process.
type App struct {
	cfg      *config.Manager
	logger   *slog.Logger
	version  string
	override func(*config.Config)

	metrics    *metrics.Metrics
	bus        *events.Bus
	incidents  *cache.Incidents
	responders *cache.Responders
	systems    *cache.SystemAlerts
	player     *audio.Controller
	seq        *sequencer.Sequencer
	ackLog     storage.AlertLog
	snapshots  storage.SnapshotStore
	store      *notify.Store
	agg        *notify.Aggregator
	client     *outbound.Client
	emitter    *outbound.Emitter
	stream     *stream.Manager
	engine     *engine.Engine
	frames     chan model.Envelope

	mu        sync.Mutex
	session   model.Session
	mqtt      *ingest.MQTTListener
	unsubs    []func()
	closeOnce sync.Once
}

// New builds the component graph from the current config. Nothing is
// started until Run.
func New(ctx context.Context, cfg *config.Manager, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	c := cfg.Get()
	if opts.Override != nil {
		opts.Override(c)
	}
	a := &App{
		cfg:        cfg,
		logger:     logger,
		version:    opts.Version,
		override:   opts.Override,
		metrics:    metrics.New(),
		bus:        events.NewBus(logger),
		incidents:  cache.NewIncidents(c.Stream.CacheSize),
		responders: cache.NewResponders(c.Stream.CacheSize, c.Stream.StaleAfter),
		systems:    cache.NewSystemAlerts(c.Stream.CacheSize),
		frames:     make(chan model.Envelope, c.Stream.ChannelBuffer),
	}
	a.session = c.Session
	if a.session.ID == "" {
		a.session.ID = uuid.NewString()
	}

	backend, err := newBackend(c.Audio, logger)
	if err != nil {
		return nil, err
	}
	a.player = audio.NewController(backend, c.Audio.Volume, c.Audio.Loop, logger, a.metrics)

	a.snapshots, err = storage.NewStore(ctx, c.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if persisted, ok := a.snapshots.(storage.AlertLog); ok {
		a.ackLog = persisted
	} else {
		a.ackLog = alerts.NewStore(c.Alerts.HistoryLimit)
	}

	transport, err := newTransport(c.Stream)
	if err != nil {
		return nil, err
	}
	a.stream = stream.NewManager(transport, a.bus, a.frames, stream.Options{
		Reconnect:      c.Stream.Reconnect,
		ConnectTimeout: c.Stream.ConnectTimeout,
		Observer:       a.metrics,
		Logger:         logger.With("component", "stream"),
	})

	group := dedup.New(a.metrics)
	a.emitter = outbound.NewEmitter(a.stream, group)
	if c.Outbound.BaseURL != "" {
		a.client = outbound.NewClient(c.Outbound.BaseURL, c.Outbound.Token, c.Outbound.Timeout, group, logger.With("component", "outbound"), a.metrics)
	}

	a.seq = sequencer.New(a.player, sequencer.Options{
		SettleDelay:  c.Alerts.SettleDelay,
		HistoryLimit: c.Alerts.HistoryLimit,
		DefaultSound: c.Alerts.DefaultSound,
		UserID:       a.session.UserID,
		Presenter:    logPresenter{logger: logger.With("component", "modal")},
		Acknowledger: a.emitter,
		AlertLog:     a.ackLog,
		Observer:     a.metrics,
		Logger:       logger.With("component", "sequencer"),
	})

	a.store = notify.NewStore(notify.StoreOptions{
		Limit:      c.Notifications.StoreLimit,
		EmailLimit: c.Notifications.EmailLimit,
		Persist:    a.snapshots,
		Logger:     logger.With("component", "notifications"),
	})
	a.agg = notify.NewAggregator(a.store, a.incidents, a.systems, notify.AggregatorOptions{
		Session:       a.session,
		SimulateEmail: c.Notifications.SimulateEmail,
		Observer:      a.metrics,
		Logger:        logger.With("component", "notifications"),
	})

	a.engine = engine.NewEngine(engine.Caches{
		Incidents:    a.incidents,
		Responders:   a.responders,
		SystemAlerts: a.systems,
	}, a.bus, a.seq, engine.Options{
		DedupeWindow: c.Stream.DedupeWindow,
		DefaultSound: c.Alerts.DefaultSound,
		Observer:     a.metrics,
		Logger:       logger.With("component", "engine"),
	})
	return a, nil
}

func newBackend(cfg config.AudioConfig, logger *slog.Logger) (audio.Backend, error) {
	if strings.EqualFold(cfg.Backend, "exec") {
		backend, err := audio.NewExec(cfg.Command, cfg.Args, logger)
		if err != nil {
			return nil, fmt.Errorf("audio backend: %w", err)
		}
		return backend, nil
	}
	return audio.NewHeadless(cfg.RequireGesture, 0, nil), nil
}

func newTransport(cfg config.StreamConfig) (stream.Transport, error) {
	switch strings.ToLower(cfg.Transport) {
	case "websocket", "ws":
		return stream.NewWebSocket(cfg.URL), nil
	case "kafka":
		return stream.NewKafka(cfg.Kafka), nil
	}
	return nil, fmt.Errorf("unsupported stream transport %q", cfg.Transport)
}

// Run starts every component and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	c := a.cfg.Get()
	if err := a.store.Restore(ctx); err != nil {
		a.logger.Warn("notification restore failed", "err", err)
	}

	a.mu.Lock()
	a.unsubs = append(a.unsubs,
		a.agg.Subscribe(a.bus),
		a.bus.Subscribe(model.EventPushNotification, a.storePush),
	)
	a.mu.Unlock()

	a.engine.Start(ctx, a.frames)
	if err := a.stream.Connect(ctx, a.currentSession()); err != nil {
		a.logger.Warn("initial connect failed; retrying in background", "err", err)
	}

	restSrv := ingest.StartREST(ctx, c.SideChannels.REST, a.store, a.metrics, a.logger.With("component", "rest"))
	mqtt := ingest.StartMQTT(ctx, c.SideChannels.MQTT, a.store, a.metrics, a.logger.With("component", "mqtt"))
	a.mu.Lock()
	a.mqtt = mqtt
	a.mu.Unlock()

	apiSrv := api.Start(ctx, c.API, api.NewServer(a.apiDeps()), a.logger.With("component", "api"))

	go a.cfg.Watch(watchInterval, a.reloaded, func(err error) {
		a.logger.Warn("config reload failed", "err", err)
	}, ctx.Done())

	a.logger.Info("alertdesk started",
		"user_id", c.Session.UserID,
		"transport", c.Stream.Transport,
		"rest", restSrv != nil,
		"mqtt", mqtt != nil,
		"api", apiSrv != nil,
	)
	<-ctx.Done()
	a.Close()
	return nil
}

func (a *App) apiDeps() api.Deps {
	deps := api.Deps{
		Config:        a.cfg,
		Alerts:        a.seq,
		AckLog:        a.ackLog,
		Audio:         a.player,
		Notifications: a.agg,
		Settings:      a.store,
		Stream:        a.stream,
		Incidents:     a.incidents,
		Responders:    a.responders,
		Emitter:       a.emitter,
		Metrics:       a.metrics.Handler(),
		OnConfig:      a.applyConfig,
		Logger:        a.logger.With("component", "api"),
		Version:       a.version,
	}
	if a.client != nil {
		deps.Sender = a.client
	}
	return deps
}

// storePush keeps push notifications that did not go to the sequencer.
func (a *App) storePush(ev events.Event) {
	alert, ok := ev.Payload.(model.EmergencyAlert)
	if !ok || alert.Metadata.RequiresAudio {
		return
	}
	a.store.Add(model.Notification{
		ID:        alert.ID,
		Title:     alert.Title,
		Message:   alert.Message,
		Severity:  alert.Severity,
		Timestamp: alert.ReceivedAt,
	})
}

func (a *App) reloaded(cfg *config.Config) {
	if a.override != nil {
		a.override(cfg)
	}
	a.applyConfig(cfg)
}

// applyConfig pushes the hot settings of cfg into the running components.
func (a *App) applyConfig(cfg *config.Config) {
	logging.SetLevel(cfg.LogLevel)
	a.seq.UpdateSettleDelay(cfg.Alerts.SettleDelay)
	a.player.SetVolume(cfg.Audio.Volume)
	a.engine.UpdateDedupeWindow(cfg.Stream.DedupeWindow)
	a.engine.UpdateDefaultSound(cfg.Alerts.DefaultSound)
	a.responders.SetStaleAfter(cfg.Stream.StaleAfter)
	a.agg.SetSimulateEmail(cfg.Notifications.SimulateEmail)
	if a.client != nil {
		a.client.SetToken(cfg.Outbound.Token)
	}

	a.mu.Lock()
	prev := a.session
	next := cfg.Session
	next.ID = prev.ID
	a.session = next
	a.mu.Unlock()
	if next.UserID != prev.UserID || next.Role != prev.Role || next.Zone != prev.Zone {
		a.seq.SetUserID(next.UserID)
		a.agg.SetSession(next)
		if next.UserID == prev.UserID {
			// Same identity: drop the connection so join-room is sent again
			// with the new role and zone.
			a.stream.Disconnect()
		}
		if err := a.stream.Connect(context.Background(), next); err != nil {
			a.logger.Warn("reconnect after session change failed", "err", err)
		}
	}
	a.logger.Info("config applied", "log_level", cfg.LogLevel, "volume", cfg.Audio.Volume)
}

func (a *App) currentSession() model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Handler exposes the control API without binding a listener.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.apiDeps()).Handler()
}

// Close stops every component. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(a.close)
}

func (a *App) close() {
	a.mu.Lock()
	unsubs := a.unsubs
	a.unsubs = nil
	mqtt := a.mqtt
	a.mqtt = nil
	a.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	a.stream.Close()
	if mqtt != nil {
		mqtt.Close()
	}
	a.seq.Close()
	if err := a.player.Close(); err != nil {
		a.logger.Warn("audio close failed", "err", err)
	}
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			a.logger.Warn("storage close failed", "err", err)
		}
	}
}

// logPresenter stands in for the modal: it records what an operator sees.
type logPresenter struct {
	logger *slog.Logger
}

func (p logPresenter) Present(alert model.EmergencyAlert) {
	p.logger.Warn("emergency alert active",
		"alert_id", alert.ID,
		"title", alert.Title,
		"severity", alert.Severity,
		"camera_id", alert.Metadata.CameraID,
	)
}

func (p logPresenter) Dismiss(alert model.EmergencyAlert) {
	p.logger.Info("emergency alert dismissed", "alert_id", alert.ID)
}
