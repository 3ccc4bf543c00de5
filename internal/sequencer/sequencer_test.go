package sequencer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"alertdesk/internal/audio"
	"alertdesk/internal/model"
)

type fakePlayer struct {
	mu      sync.Mutex
	playing string
	plays   int
	stops   int
	block   bool
}

func (p *fakePlayer) Play(asset string) (bool, audio.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.block {
		return false, audio.StatusBlocked
	}
	p.plays++
	p.playing = asset
	return true, audio.StatusPlaying
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.playing = ""
}

func (p *fakePlayer) state() (string, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing, p.plays, p.stops
}

type recorder struct {
	mu        sync.Mutex
	presented []string
	dismissed []string
	acks      []Ack
	saved     []model.EmergencyAlert
	ackErr    error
}

func (r *recorder) Present(a model.EmergencyAlert) {
	r.mu.Lock()
	r.presented = append(r.presented, a.ID)
	r.mu.Unlock()
}

func (r *recorder) Dismiss(a model.EmergencyAlert) {
	r.mu.Lock()
	r.dismissed = append(r.dismissed, a.ID)
	r.mu.Unlock()
}

func (r *recorder) AcknowledgeAlert(_ context.Context, ack Ack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, ack)
	return r.ackErr
}

func (r *recorder) SaveAlert(_ context.Context, a model.EmergencyAlert) error {
	r.mu.Lock()
	r.saved = append(r.saved, a)
	r.mu.Unlock()
	return nil
}

func (r *recorder) presentedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.presented...)
}

func newTestSequencer(settle time.Duration) (*Sequencer, *fakePlayer, *recorder) {
	p := &fakePlayer{}
	r := &recorder{}
	s := New(p, Options{
		SettleDelay:  settle,
		HistoryLimit: 50,
		DefaultSound: "/audio/alarm.mp3",
		UserID:       "op-1",
		Presenter:    r,
		Acknowledger: r,
		AlertLog:     r,
	})
	return s, p, r
}

func alert(id string, critical bool) model.EmergencyAlert {
	sev := model.SeverityHigh
	if critical {
		sev = model.SeverityCritical
	}
	return model.EmergencyAlert{ID: id, Title: "alert " + id, Severity: sev, ReceivedAt: time.Now()}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestAcknowledgePromotesNextAfterSettleDelay(t *testing.T) {
	s, p, r := newTestSequencer(50 * time.Millisecond)
	if got := s.Enqueue(alert("A", true)); got != Activated {
		t.Fatalf("expected A activated, got %s", got)
	}
	if got := s.Enqueue(alert("B", true)); got != Queued {
		t.Fatalf("expected B queued, got %s", got)
	}
	if a, ok := s.Active(); !ok || a.ID != "A" {
		t.Fatalf("expected A active")
	}
	if playing, _, _ := p.state(); playing != "/audio/alarm.mp3" {
		t.Fatalf("expected audio for critical alert")
	}

	ackedAt := time.Now()
	if !s.Acknowledge(context.Background(), "A") {
		t.Fatalf("acknowledge A failed")
	}
	if _, ok := s.Active(); ok {
		t.Fatalf("nothing should be active during settle")
	}
	if playing, _, stops := p.state(); playing != "" || stops != 1 {
		t.Fatalf("audio should stop on acknowledge")
	}
	waitFor(t, func() bool {
		a, ok := s.Active()
		return ok && a.ID == "B"
	})
	if time.Since(ackedAt) < 50*time.Millisecond {
		t.Fatalf("B promoted before settle delay")
	}
	if ids := r.presentedIDs(); fmt.Sprint(ids) != "[A B]" {
		t.Fatalf("unexpected presentation order: %v", ids)
	}
	if len(r.acks) != 1 || r.acks[0].AlertID != "A" || r.acks[0].UserID != "op-1" {
		t.Fatalf("unexpected ack frames: %+v", r.acks)
	}
	if len(r.saved) != 1 || r.saved[0].AcknowledgedAt == nil {
		t.Fatalf("acknowledged alert not written to audit log")
	}
}

func TestDuplicateAlertSuppressed(t *testing.T) {
	s, _, _ := newTestSequencer(0)
	if got := s.Enqueue(alert("fire-1", true)); got != Activated {
		t.Fatalf("expected activated, got %s", got)
	}
	if got := s.Enqueue(alert("fire-1", true)); got != Suppressed {
		t.Fatalf("expected suppressed, got %s", got)
	}
	if h := s.History(0); len(h) != 1 {
		t.Fatalf("expected one history entry, got %d", len(h))
	}
}

func TestAcknowledgedAlertCanBeEnqueuedAgain(t *testing.T) {
	s, _, _ := newTestSequencer(0)
	s.Enqueue(alert("fire-1", true))
	if !s.Acknowledge(context.Background(), "fire-1") {
		t.Fatalf("acknowledge failed")
	}
	if got := s.Enqueue(alert("fire-1", true)); got != Activated {
		t.Fatalf("new occurrence after acknowledgment should activate, got %s", got)
	}
	h := s.History(0)
	if len(h) != 2 || h[0].AcknowledgedAt != nil || h[1].AcknowledgedAt == nil {
		t.Fatalf("expected a fresh entry ahead of the acknowledged one: %+v", h)
	}
	if s.UnacknowledgedCount() != 1 {
		t.Fatalf("expected one unacknowledged, got %d", s.UnacknowledgedCount())
	}
}

func TestAcknowledgeWrongIDIsNoop(t *testing.T) {
	s, _, r := newTestSequencer(0)
	if s.Acknowledge(context.Background(), "A") {
		t.Fatalf("acknowledge with nothing active should be false")
	}
	s.Enqueue(alert("A", false))
	s.Enqueue(alert("B", false))
	if s.Acknowledge(context.Background(), "B") {
		t.Fatalf("acknowledging a queued alert should be false")
	}
	if s.QueueLength() != 1 {
		t.Fatalf("queued alert must not be dropped")
	}
	if len(r.acks) != 0 {
		t.Fatalf("no ack frame expected")
	}
}

func TestEnqueueDuringSettleWaits(t *testing.T) {
	s, _, _ := newTestSequencer(40 * time.Millisecond)
	s.Enqueue(alert("A", false))
	s.Acknowledge(context.Background(), "A")
	if got := s.Enqueue(alert("B", false)); got != Queued {
		t.Fatalf("enqueue during settle should queue, got %s", got)
	}
	waitFor(t, func() bool {
		a, ok := s.Active()
		return ok && a.ID == "B"
	})
}

func TestNonAudioAlertDoesNotStartAudio(t *testing.T) {
	s, p, _ := newTestSequencer(0)
	s.Enqueue(alert("quiet", false))
	if _, plays, _ := p.state(); plays != 0 {
		t.Fatalf("audio started for non-audio alert")
	}
	loud := alert("loud", false)
	loud.Metadata.RequiresAudio = true
	loud.Metadata.AudioRef = "/audio/custom.mp3"
	s.Acknowledge(context.Background(), "quiet")
	s.Enqueue(loud)
	if playing, _, _ := p.state(); playing != "/audio/custom.mp3" {
		t.Fatalf("expected custom sound, got %q", playing)
	}
}

func TestBlockedAudioRetriedOnGesture(t *testing.T) {
	s, p, _ := newTestSequencer(0)
	p.block = true
	if got := s.Enqueue(alert("A", true)); got != Activated {
		t.Fatalf("blocked audio must not affect activation, got %s", got)
	}
	p.mu.Lock()
	p.block = false
	p.mu.Unlock()
	ok, status := s.RetryAudio()
	if !ok || status != audio.StatusPlaying {
		t.Fatalf("retry failed: %v %v", ok, status)
	}
}

func TestAcknowledgerErrorStillAcknowledges(t *testing.T) {
	s, _, r := newTestSequencer(0)
	r.ackErr = errors.New("not connected")
	s.Enqueue(alert("A", false))
	if !s.Acknowledge(context.Background(), "A") {
		t.Fatalf("acknowledge should succeed locally")
	}
	if s.UnacknowledgedCount() != 0 {
		t.Fatalf("history entry not stamped")
	}
}

func TestHistoryBoundedNewestFirst(t *testing.T) {
	s, _, _ := newTestSequencer(0)
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("a%d", i)
		s.Enqueue(alert(id, false))
		s.Acknowledge(context.Background(), id)
	}
	h := s.History(0)
	if len(h) != 50 || h[0].ID != "a59" || h[49].ID != "a10" {
		t.Fatalf("unexpected history: len=%d first=%s", len(h), h[0].ID)
	}
	if s.UnacknowledgedCount() != 0 {
		t.Fatalf("expected 0 unacknowledged, got %d", s.UnacknowledgedCount())
	}
	s.ClearHistory()
	if len(s.History(0)) != 0 {
		t.Fatalf("history not cleared")
	}
}

func TestHistoryKeepsPendingAlertsBeyondLimit(t *testing.T) {
	s, _, _ := newTestSequencer(0)
	for i := 0; i < 60; i++ {
		s.Enqueue(alert(fmt.Sprintf("q%d", i), false))
	}
	if got := len(s.History(0)); got != 60 {
		t.Fatalf("queued alerts must stay in history, got %d entries", got)
	}
	if s.UnacknowledgedCount() != 60 {
		t.Fatalf("expected 60 unacknowledged, got %d", s.UnacknowledgedCount())
	}
	for i := 0; i < 60; i++ {
		if !s.Acknowledge(context.Background(), fmt.Sprintf("q%d", i)) {
			t.Fatalf("acknowledge q%d failed", i)
		}
	}
	h := s.History(0)
	if len(h) != 50 || h[0].ID != "q59" || h[49].ID != "q10" {
		t.Fatalf("unexpected history after draining: len=%d", len(h))
	}
	for _, e := range h {
		if e.AcknowledgedAt == nil {
			t.Fatalf("%s not stamped", e.ID)
		}
	}
}

func TestQueueOrderAndSingleActiveUnderConcurrency(t *testing.T) {
	s, _, r := newTestSequencer(0)
	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
			s.Enqueue(alert(fmt.Sprintf("c%d", i), i%2 == 0))
		}(i)
	}
	wg.Wait()

	queue := s.Queue()
	active, ok := s.Active()
	if !ok {
		t.Fatalf("expected an active alert")
	}
	// Arrival order is the history order reversed.
	hist := s.History(0)
	arrival := make([]string, 0, n)
	for i := len(hist) - 1; i >= 0; i-- {
		arrival = append(arrival, hist[i].ID)
	}
	if arrival[0] != active.ID {
		t.Fatalf("first arrival %s is not active %s", arrival[0], active.ID)
	}
	for i, q := range queue {
		if arrival[i+1] != q.ID {
			t.Fatalf("queue position %d: want %s got %s", i, arrival[i+1], q.ID)
		}
	}

	seen := map[string]bool{}
	for {
		a, ok := s.Active()
		if !ok {
			break
		}
		if seen[a.ID] {
			t.Fatalf("alert %s re-entered active", a.ID)
		}
		seen[a.ID] = true
		s.Acknowledge(context.Background(), a.ID)
	}
	if len(seen) != n {
		t.Fatalf("expected %d activations, got %d", n, len(seen))
	}
	if got := r.presentedIDs(); len(got) != n {
		t.Fatalf("expected %d presentations, got %d", n, len(got))
	}
}
