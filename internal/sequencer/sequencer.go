package sequencer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"alertdesk/internal/audio"
	"alertdesk/internal/model"
)

type Outcome string

const (
	Activated  Outcome = "activated"
	Queued     Outcome = "queued"
	Suppressed Outcome = "suppressed"
)

// Ack is the acknowledgment frame sent back to the backend.
type Ack struct {
	AlertID        string    `json:"alertId"`
	AcknowledgedAt time.Time `json:"acknowledgedAt"`
	UserID         string    `json:"userId"`
}

// Presenter shows and hides the modal for the active alert.
type Presenter interface {
	Present(alert model.EmergencyAlert)
	Dismiss(alert model.EmergencyAlert)
}

type Acknowledger interface {
	AcknowledgeAlert(ctx context.Context, ack Ack) error
}

type AlertLog interface {
	SaveAlert(ctx context.Context, alert model.EmergencyAlert) error
}

type Player interface {
	Play(asset string) (bool, audio.Status)
	Stop()
}

type Observer interface {
	AlertEnqueued(outcome string)
	AlertAcknowledged()
	SetQueueLength(n int)
}

type Options struct {
	SettleDelay  time.Duration
	HistoryLimit int
	DefaultSound string
	UserID       string
	Presenter    Presenter
	Acknowledger Acknowledger
	AlertLog     AlertLog
	Observer     Observer
	Logger       *slog.Logger
}

// Sequencer owns the single active emergency alert and the FIFO queue
// behind it. It is the only component that starts alert audio.
type Sequencer struct {
	mu           sync.Mutex
	active       *model.EmergencyAlert
	queue        []model.EmergencyAlert
	history      []model.EmergencyAlert
	settling     bool
	settleTimer  *time.Timer
	settleDelay  time.Duration
	historyLimit int
	defaultSound string
	userID       string

	player       Player
	presenter    Presenter
	acknowledger Acknowledger
	alertLog     AlertLog
	observer     Observer
	logger       *slog.Logger
}

func New(player Player, opts Options) *Sequencer {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	return &Sequencer{
		settleDelay:  opts.SettleDelay,
		historyLimit: opts.HistoryLimit,
		defaultSound: opts.DefaultSound,
		userID:       opts.UserID,
		player:       player,
		presenter:    opts.Presenter,
		acknowledger: opts.Acknowledger,
		alertLog:     opts.AlertLog,
		observer:     opts.Observer,
		logger:       opts.Logger,
	}
}

// Enqueue offers an alert. An id that is active or queued is suppressed.
// Byte-identical redeliveries are dropped earlier by the router's replay
// window, so an acknowledged id may be enqueued again.
func (s *Sequencer) Enqueue(alert model.EmergencyAlert) Outcome {
	s.mu.Lock()
	if s.knownLocked(alert.ID) {
		s.mu.Unlock()
		s.report(Suppressed)
		if s.logger != nil {
			s.logger.Debug("duplicate emergency alert suppressed", "alert_id", alert.ID)
		}
		return Suppressed
	}
	alert.AcknowledgedAt = nil
	s.queue = append(s.queue, alert)
	s.history = append([]model.EmergencyAlert{alert}, s.history...)
	s.trimHistoryLocked()
	outcome := Queued
	var promoted *model.EmergencyAlert
	if s.active == nil && !s.settling {
		promoted = s.promoteLocked()
		if promoted != nil && promoted.ID == alert.ID {
			outcome = Activated
		}
	}
	queueLen := len(s.queue)
	s.mu.Unlock()

	s.report(outcome)
	if s.observer != nil {
		s.observer.SetQueueLength(queueLen)
	}
	if promoted != nil {
		s.present(*promoted)
	}
	return outcome
}

func (s *Sequencer) knownLocked(id string) bool {
	if s.active != nil && s.active.ID == id {
		return true
	}
	for _, q := range s.queue {
		if q.ID == id {
			return true
		}
	}
	return false
}

// trimHistoryLocked drops the oldest acknowledged entries beyond the limit.
// Unacknowledged entries are the active and queued alerts; they stay so
// Acknowledge can stamp them.
func (s *Sequencer) trimHistoryLocked() {
	for i := len(s.history) - 1; i >= 0 && len(s.history) > s.historyLimit; i-- {
		if s.history[i].AcknowledgedAt != nil {
			s.history = append(s.history[:i], s.history[i+1:]...)
		}
	}
}

// promoteLocked moves the queue head into the active slot and starts its
// audio.
func (s *Sequencer) promoteLocked() *model.EmergencyAlert {
	if s.active != nil || len(s.queue) == 0 {
		return nil
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.active = &next
	if next.NeedsAudio() && s.player != nil {
		if ok, status := s.player.Play(s.soundFor(next)); !ok && s.logger != nil {
			s.logger.Warn("alert audio not started", "alert_id", next.ID, "status", status)
		}
	}
	promoted := next
	return &promoted
}

func (s *Sequencer) soundFor(a model.EmergencyAlert) string {
	if a.Metadata.AudioRef != "" {
		return a.Metadata.AudioRef
	}
	return s.defaultSound
}

// Acknowledge closes the active alert if id matches it. The next queued
// alert is promoted after the settle delay.
func (s *Sequencer) Acknowledge(ctx context.Context, id string) bool {
	s.mu.Lock()
	if s.active == nil || s.active.ID != id {
		s.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	acked := *s.active
	acked.AcknowledgedAt = &now
	for i := range s.history {
		if s.history[i].ID == id {
			s.history[i].AcknowledgedAt = &now
			break
		}
	}
	s.trimHistoryLocked()
	if acked.NeedsAudio() && s.player != nil {
		s.player.Stop()
	}
	s.active = nil
	var promoted *model.EmergencyAlert
	if s.settleDelay <= 0 {
		promoted = s.promoteLocked()
	} else {
		s.settling = true
		s.settleTimer = time.AfterFunc(s.settleDelay, s.settled)
	}
	queueLen := len(s.queue)
	userID := s.userID
	s.mu.Unlock()

	if s.presenter != nil {
		s.presenter.Dismiss(acked)
	}
	if s.observer != nil {
		s.observer.AlertAcknowledged()
		s.observer.SetQueueLength(queueLen)
	}
	if s.acknowledger != nil {
		if userID == "" {
			userID = acked.UserID
		}
		ack := Ack{AlertID: acked.ID, AcknowledgedAt: now, UserID: userID}
		if err := s.acknowledger.AcknowledgeAlert(ctx, ack); err != nil && s.logger != nil {
			s.logger.Warn("alert acknowledgment not delivered", "alert_id", id, "error", err)
		}
	}
	if s.alertLog != nil {
		if err := s.alertLog.SaveAlert(ctx, acked); err != nil && s.logger != nil {
			s.logger.Warn("alert audit write failed", "alert_id", id, "error", err)
		}
	}
	if s.logger != nil {
		s.logger.Info("emergency alert acknowledged", "alert_id", id, "queued", queueLen)
	}
	if promoted != nil {
		s.present(*promoted)
	}
	return true
}

func (s *Sequencer) settled() {
	s.mu.Lock()
	s.settling = false
	s.settleTimer = nil
	promoted := s.promoteLocked()
	queueLen := len(s.queue)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.SetQueueLength(queueLen)
	}
	if promoted != nil {
		s.present(*promoted)
	}
}

func (s *Sequencer) present(a model.EmergencyAlert) {
	if s.logger != nil {
		s.logger.Info("emergency alert active", "alert_id", a.ID, "severity", a.Severity, "audio", a.NeedsAudio())
	}
	if s.presenter != nil {
		s.presenter.Present(a)
	}
}

func (s *Sequencer) report(o Outcome) {
	if s.observer != nil {
		s.observer.AlertEnqueued(string(o))
	}
}

// RetryAudio restarts audio for the active alert after a user gesture.
func (s *Sequencer) RetryAudio() (bool, audio.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || !s.active.NeedsAudio() || s.player == nil {
		return false, audio.StatusIdle
	}
	return s.player.Play(s.soundFor(*s.active))
}

func (s *Sequencer) Active() (model.EmergencyAlert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return model.EmergencyAlert{}, false
	}
	return *s.active, true
}

func (s *Sequencer) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Sequencer) Queue() []model.EmergencyAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.EmergencyAlert(nil), s.queue...)
}

// History returns up to limit alerts, newest first. limit <= 0 means all.
func (s *Sequencer) History(limit int) []model.EmergencyAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	return append([]model.EmergencyAlert(nil), s.history[:limit]...)
}

func (s *Sequencer) UnacknowledgedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.history {
		if h.AcknowledgedAt == nil {
			n++
		}
	}
	return n
}

func (s *Sequencer) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

func (s *Sequencer) UpdateSettleDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	s.settleDelay = d
	s.mu.Unlock()
}

func (s *Sequencer) SetUserID(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

// Close stops audio and any pending settle timer.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	if s.player != nil {
		s.player.Stop()
	}
}
