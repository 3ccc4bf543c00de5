package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
	StatusBlocked Status = "blocked"
	StatusError   Status = "error"
)

// ErrAutoplayBlocked is returned by a Track when playback needs a user
// gesture first.
var ErrAutoplayBlocked = errors.New("audio: playback blocked until user interaction")

// Track is one opened sound asset.
type Track interface {
	// Play starts playback from position zero.
	Play() error
	Pause() error
	Resume() error
	// Stop halts playback and rewinds.
	Stop() error
	Position() time.Duration
	SetVolume(v float64)
	SetLoop(loop bool)
	Close() error
}

type Backend interface {
	Open(asset string) (Track, error)
}

// Unlocker is implemented by backends that gate playback on a user gesture.
type Unlocker interface {
	Unlock()
}

type Observer interface {
	AudioBlocked()
}

type Controller struct {
	mu       sync.Mutex
	backend  Backend
	tracks   map[string]Track
	current  string
	status   Status
	volume   float64
	loop     bool
	logger   *slog.Logger
	observer Observer
}

func NewController(backend Backend, volume float64, loop bool, logger *slog.Logger, observer Observer) *Controller {
	return &Controller{
		backend:  backend,
		tracks:   make(map[string]Track),
		status:   StatusIdle,
		volume:   clamp(volume),
		loop:     loop,
		logger:   logger,
		observer: observer,
	}
}

// Play starts asset from the beginning. If asset is already playing it
// reports true without restarting. A blocked start is reported as
// StatusBlocked, not as an error.
func (c *Controller) Play(asset string) (bool, Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusPlaying && c.current == asset {
		return true, StatusPlaying
	}
	if c.current != "" && c.current != asset {
		c.stopLocked()
	}
	track, err := c.trackLocked(asset)
	if err != nil {
		c.status = StatusError
		c.logWarn("audio open failed", "asset", asset, "error", err)
		return false, c.status
	}
	c.current = asset
	track.SetVolume(c.volume)
	track.SetLoop(c.loop)
	if err := track.Play(); err != nil {
		if errors.Is(err, ErrAutoplayBlocked) {
			c.status = StatusBlocked
			if c.observer != nil {
				c.observer.AudioBlocked()
			}
			c.logWarn("audio blocked until user interaction", "asset", asset)
			return false, c.status
		}
		c.status = StatusError
		c.logWarn("audio play failed", "asset", asset, "error", err)
		return false, c.status
	}
	c.status = StatusPlaying
	return true, c.status
}

func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if track, ok := c.tracks[c.current]; ok {
		if err := track.Stop(); err != nil {
			c.logWarn("audio stop failed", "asset", c.current, "error", err)
		}
	}
	c.status = StatusIdle
}

func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPlaying {
		return
	}
	if err := c.tracks[c.current].Pause(); err != nil {
		c.logWarn("audio pause failed", "asset", c.current, "error", err)
		return
	}
	c.status = StatusPaused
}

func (c *Controller) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPaused {
		return c.status == StatusPlaying
	}
	if err := c.tracks[c.current].Resume(); err != nil {
		c.logWarn("audio resume failed", "asset", c.current, "error", err)
		return false
	}
	c.status = StatusPlaying
	return true
}

// Unlock records a user gesture on backends that require one.
func (c *Controller) Unlock() {
	if u, ok := c.backend.(Unlocker); ok {
		u.Unlock()
	}
}

func (c *Controller) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = clamp(v)
	for _, t := range c.tracks {
		t.SetVolume(c.volume)
	}
}

func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusPlaying
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) Position() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tracks[c.current]; ok {
		return t.Position()
	}
	return 0
}

func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for asset, t := range c.tracks {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", asset, err))
		}
	}
	c.tracks = make(map[string]Track)
	c.current = ""
	c.status = StatusIdle
	return errors.Join(errs...)
}

func (c *Controller) trackLocked(asset string) (Track, error) {
	if t, ok := c.tracks[asset]; ok {
		return t, nil
	}
	if c.backend == nil {
		return nil, errors.New("audio: no backend configured")
	}
	t, err := c.backend.Open(asset)
	if err != nil {
		return nil, err
	}
	c.tracks[asset] = t
	return t, nil
}

func (c *Controller) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
