package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"alertdesk/internal/config"
	"alertdesk/internal/events"
	"alertdesk/internal/model"
)

var ErrNotConnected = errors.New("stream not connected")

// ConnectionError is a transient transport failure. The manager retries it
// and reports it through State.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Conn is one live transport connection.
type Conn interface {
	Read(ctx context.Context) (model.Envelope, error)
	Write(ctx context.Context, event string, payload any) error
	Close() error
}

type Transport interface {
	Dial(ctx context.Context, session model.Session) (Conn, error)
}

type Observer interface {
	SetConnState(state model.ConnState)
	ReconnectAttempt()
}

type Options struct {
	Reconnect      config.ReconnectConfig
	ConnectTimeout time.Duration
	Observer       Observer
	Logger         *slog.Logger
	// Jitter returns a value in [0,1); nil uses math/rand.
	Jitter func() float64
}

// Manager owns the single live connection of a session and forwards every
// received frame, in arrival order, to out.
type Manager struct {
	mu         sync.Mutex
	session    model.Session
	state      model.ConnState
	conn       Conn
	cancel     context.CancelFunc
	connecting bool
	attempts   int
	gen        uint64

	transport Transport
	bus       *events.Bus
	out       chan<- model.Envelope
	opts      Options
	logger    *slog.Logger
}

func NewManager(transport Transport, bus *events.Bus, out chan<- model.Envelope, opts Options) *Manager {
	if opts.Jitter == nil {
		opts.Jitter = rand.Float64
	}
	return &Manager{
		state:     model.StateDisconnected,
		transport: transport,
		bus:       bus,
		out:       out,
		opts:      opts,
		logger:    opts.Logger,
	}
}

func (m *Manager) Subscribe(event string, fn events.Handler) func() {
	return m.bus.Subscribe(event, fn)
}

func (m *Manager) State() model.ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Session() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Attempts reports the reconnect attempt currently in progress, 0 when none.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect opens the connection for s. For the current user id it is a
// no-op while a connect is in flight or once connected. A different user id
// replaces the current connection, including one still dialing.
func (m *Manager) Connect(ctx context.Context, s model.Session) error {
	m.mu.Lock()
	if m.session.UserID == s.UserID && (m.connecting || m.state == model.StateConnected || m.state == model.StateReconnecting) {
		m.mu.Unlock()
		return nil
	}
	return m.startLocked(ctx, s)
}

// Reconnect restarts the connection of the current session with a fresh
// attempt budget. It does nothing when already connected.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == model.StateConnected || m.connecting {
		m.mu.Unlock()
		return nil
	}
	return m.startLocked(ctx, m.session)
}

func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.teardownLocked()
	m.connecting = false
	m.attempts = 0
	m.setStateLocked(model.StateDisconnected)
	m.mu.Unlock()
}

// Emit writes one outbound frame on the live connection.
func (m *Manager) Emit(ctx context.Context, event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return &ConnectionError{Op: "emit " + event, Err: ErrNotConnected}
	}
	if err := conn.Write(ctx, event, payload); err != nil {
		return &ConnectionError{Op: "emit " + event, Err: err}
	}
	return nil
}

// startLocked is entered with m.mu held and releases it.
func (m *Manager) startLocked(ctx context.Context, s model.Session) error {
	m.teardownLocked()
	m.gen++
	gen := m.gen
	m.session = s
	m.attempts = 0
	m.connecting = true
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.setStateLocked(model.StateConnecting)
	m.mu.Unlock()

	conn, err := m.dial(ctx, s)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	m.connecting = false
	if err != nil {
		m.setStateLocked(model.StateDisconnected)
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Warn("stream connect failed", "user_id", s.UserID, "err", err)
		}
		go m.reconnectLoop(runCtx, gen)
		return &ConnectionError{Op: "dial", Err: err}
	}
	m.attachLocked(conn)
	m.mu.Unlock()
	m.joined(runCtx, gen, conn, s)
	return nil
}

func (m *Manager) dial(ctx context.Context, s model.Session) (Conn, error) {
	if m.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
	}
	return m.transport.Dial(ctx, s)
}

func (m *Manager) attachLocked(conn Conn) {
	m.conn = conn
	m.attempts = 0
	m.setStateLocked(model.StateConnected)
}

// joined announces the session and starts reading.
func (m *Manager) joined(ctx context.Context, gen uint64, conn Conn, s model.Session) {
	room := map[string]string{"userId": s.UserID, "role": s.Role, "zone": s.Zone}
	if err := conn.Write(ctx, model.EmitJoinRoom, room); err != nil && m.logger != nil {
		m.logger.Warn("join-room failed", "user_id", s.UserID, "err", err)
	}
	if m.logger != nil {
		m.logger.Info("stream connected", "user_id", s.UserID)
	}
	go m.readLoop(ctx, gen, conn)
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		env, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.lost(ctx, gen, conn, err)
			return
		}
		if env.ReceivedAt.IsZero() {
			env.ReceivedAt = time.Now().UTC()
		}
		select {
		case m.out <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) lost(ctx context.Context, gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.setStateLocked(model.StateDisconnected)
	m.mu.Unlock()
	conn.Close()
	if m.logger != nil {
		m.logger.Warn("stream connection lost", "err", err)
	}
	go m.reconnectLoop(ctx, gen)
}

func (m *Manager) reconnectLoop(ctx context.Context, gen uint64) {
	for attempt := 1; attempt <= m.opts.Reconnect.MaxAttempts; attempt++ {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.attempts = attempt
		m.setStateLocked(model.StateReconnecting)
		s := m.session
		m.mu.Unlock()
		if m.opts.Observer != nil {
			m.opts.Observer.ReconnectAttempt()
		}

		if !sleep(ctx, Backoff(attempt, m.opts.Reconnect, m.opts.Jitter)) {
			return
		}
		conn, err := m.dial(ctx, s)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("stream reconnect failed", "attempt", attempt, "err", err)
			}
			continue
		}
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			conn.Close()
			return
		}
		m.attachLocked(conn)
		m.mu.Unlock()
		m.joined(ctx, gen, conn, s)
		return
	}
	m.mu.Lock()
	if gen == m.gen {
		m.attempts = 0
		m.setStateLocked(model.StateDisconnected)
	}
	m.mu.Unlock()
	if m.logger != nil {
		m.logger.Error("stream reconnect attempts exhausted", "max_attempts", m.opts.Reconnect.MaxAttempts)
	}
}

func (m *Manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

func (m *Manager) setStateLocked(s model.ConnState) {
	m.state = s
	if m.opts.Observer != nil {
		m.opts.Observer.SetConnState(s)
	}
}

// Close tears the connection down for good.
func (m *Manager) Close() {
	m.Disconnect()
}

// Backoff returns the wait before reconnect attempt n (1-based):
// initial*factor^(n-1) capped at max, spread by +/-20% jitter.
func Backoff(n int, cfg config.ReconnectConfig, jitter func() float64) time.Duration {
	if n < 1 {
		n = 1
	}
	factor := cfg.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(cfg.InitialDelay) * math.Pow(factor, float64(n-1))
	if cfg.MaxDelay > 0 && d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if jitter != nil {
		d *= 0.8 + 0.4*jitter()
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
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
