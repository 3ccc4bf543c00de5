package audio

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingObserver struct{ blocked int }

func (o *countingObserver) AudioBlocked() { o.blocked++ }

func newTestController(requireGesture bool) (*Controller, *fakeClock, *countingObserver) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	obs := &countingObserver{}
	backend := NewHeadless(requireGesture, 0, clock.Now)
	return NewController(backend, 0.7, true, nil, obs), clock, obs
}

func TestPlayTwiceDoesNotRestart(t *testing.T) {
	c, clock, _ := newTestController(false)
	ok, status := c.Play("alarm.mp3")
	if !ok || status != StatusPlaying {
		t.Fatalf("expected playing, got %v %v", ok, status)
	}
	clock.Advance(3 * time.Second)
	ok, status = c.Play("alarm.mp3")
	if !ok || status != StatusPlaying {
		t.Fatalf("second play should report playing, got %v %v", ok, status)
	}
	if pos := c.Position(); pos != 3*time.Second {
		t.Fatalf("position reset by second play: %v", pos)
	}
}

func TestStopRewinds(t *testing.T) {
	c, clock, _ := newTestController(false)
	c.Play("alarm.mp3")
	clock.Advance(2 * time.Second)
	c.Stop()
	if c.IsPlaying() || c.Position() != 0 {
		t.Fatalf("stop should halt and rewind, pos=%v", c.Position())
	}
	c.Play("alarm.mp3")
	clock.Advance(time.Second)
	if c.Position() != time.Second {
		t.Fatalf("replay should start at zero, pos=%v", c.Position())
	}
}

func TestPauseResumeKeepsPosition(t *testing.T) {
	c, clock, _ := newTestController(false)
	c.Play("alarm.mp3")
	clock.Advance(2 * time.Second)
	c.Pause()
	if c.Status() != StatusPaused {
		t.Fatalf("expected paused, got %v", c.Status())
	}
	clock.Advance(10 * time.Second)
	if !c.Resume() {
		t.Fatalf("resume failed")
	}
	clock.Advance(time.Second)
	if c.Position() != 3*time.Second {
		t.Fatalf("expected 3s, got %v", c.Position())
	}
}

func TestBlockedUntilUnlock(t *testing.T) {
	c, _, obs := newTestController(true)
	ok, status := c.Play("alarm.mp3")
	if ok || status != StatusBlocked {
		t.Fatalf("expected blocked, got %v %v", ok, status)
	}
	if obs.blocked != 1 {
		t.Fatalf("observer not notified")
	}
	c.Unlock()
	ok, status = c.Play("alarm.mp3")
	if !ok || status != StatusPlaying {
		t.Fatalf("expected playing after unlock, got %v %v", ok, status)
	}
}

func TestVolumeClamped(t *testing.T) {
	c, _, _ := newTestController(false)
	c.SetVolume(1.7)
	if c.Volume() != 1 {
		t.Fatalf("expected 1, got %v", c.Volume())
	}
	c.SetVolume(-0.2)
	if c.Volume() != 0 {
		t.Fatalf("expected 0, got %v", c.Volume())
	}
}

func TestSwitchingAssetStopsPrevious(t *testing.T) {
	c, clock, _ := newTestController(false)
	c.Play("a.mp3")
	clock.Advance(time.Second)
	c.Play("b.mp3")
	if c.Current() != "b.mp3" || !c.IsPlaying() {
		t.Fatalf("expected b.mp3 playing")
	}
	if c.Position() != 0 {
		t.Fatalf("new asset should start at zero")
	}
}

type failingBackend struct{}

func (failingBackend) Open(string) (Track, error) { return nil, errors.New("no device") }

func TestOpenFailureIsStatusError(t *testing.T) {
	c := NewController(failingBackend{}, 0.5, true, nil, nil)
	ok, status := c.Play("x")
	if ok || status != StatusError {
		t.Fatalf("expected error status, got %v %v", ok, status)
	}
}

func TestHeadlessLoopWrapsPosition(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := NewController(NewHeadless(false, 4*time.Second, clock.Now), 1, true, nil, nil)
	c.Play("a")
	clock.Advance(5 * time.Second)
	if c.Position() != time.Second {
		t.Fatalf("expected wrapped position 1s, got %v", c.Position())
	}
}
