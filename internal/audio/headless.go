package audio

import (
	"sync"
	"sync/atomic"
	"time"
)

// Headless plays nothing; it tracks position against a clock so the
// controller behaves as it would with a real device.
type Headless struct {
	requireGesture bool
	unlocked       atomic.Bool
	length         time.Duration
	now            func() time.Time
}

// NewHeadless builds a clock-driven backend. length is the asset duration
// used for looping and end-of-track; zero means unbounded.
func NewHeadless(requireGesture bool, length time.Duration, now func() time.Time) *Headless {
	if now == nil {
		now = time.Now
	}
	return &Headless{requireGesture: requireGesture, length: length, now: now}
}

func (h *Headless) Unlock() {
	h.unlocked.Store(true)
}

func (h *Headless) Open(asset string) (Track, error) {
	return &headlessTrack{backend: h, asset: asset}, nil
}

type headlessTrack struct {
	mu        sync.Mutex
	backend   *Headless
	asset     string
	running   bool
	startedAt time.Time
	offset    time.Duration
	volume    float64
	loop      bool
}

func (t *headlessTrack) Play() error {
	if t.backend.requireGesture && !t.backend.unlocked.Load() {
		return ErrAutoplayBlocked
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = 0
	t.startedAt = t.backend.now()
	t.running = true
	return nil
}

func (t *headlessTrack) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.offset = t.positionLocked()
		t.running = false
	}
	return nil
}

func (t *headlessTrack) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		t.startedAt = t.backend.now()
		t.running = true
	}
	return nil
}

func (t *headlessTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.offset = 0
	return nil
}

func (t *headlessTrack) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

func (t *headlessTrack) positionLocked() time.Duration {
	pos := t.offset
	if t.running {
		pos += t.backend.now().Sub(t.startedAt)
	}
	length := t.backend.length
	if length <= 0 {
		return pos
	}
	if t.loop {
		return pos % length
	}
	if pos > length {
		return length
	}
	return pos
}

func (t *headlessTrack) SetVolume(v float64) {
	t.mu.Lock()
	t.volume = v
	t.mu.Unlock()
}

func (t *headlessTrack) SetLoop(loop bool) {
	t.mu.Lock()
	t.loop = loop
	t.mu.Unlock()
}

func (t *headlessTrack) Close() error {
	return t.Stop()
}
