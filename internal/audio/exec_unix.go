//go:build unix

package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Exec plays assets through an external player such as mpg123 or paplay.
// The asset path is appended to args.
type Exec struct {
	command string
	args    []string
	logger  *slog.Logger
}

func NewExec(command string, args []string, logger *slog.Logger) (*Exec, error) {
	if command == "" {
		return nil, errors.New("audio: exec backend needs a command")
	}
	if _, err := exec.LookPath(command); err != nil {
		return nil, fmt.Errorf("audio: player %q: %w", command, err)
	}
	return &Exec{command: command, args: append([]string(nil), args...), logger: logger}, nil
}

func (e *Exec) Open(asset string) (Track, error) {
	return &execTrack{backend: e, asset: asset}, nil
}

type execTrack struct {
	mu        sync.Mutex
	backend   *Exec
	asset     string
	cmd       *exec.Cmd
	gen       int
	loop      bool
	paused    bool
	startedAt time.Time
	offset    time.Duration
}

func (t *execTrack) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.killLocked()
	t.offset = 0
	t.paused = false
	return t.spawnLocked()
}

func (t *execTrack) spawnLocked() error {
	args := append(append([]string(nil), t.backend.args...), t.asset)
	cmd := exec.Command(t.backend.command, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	t.gen++
	t.cmd = cmd
	t.startedAt = time.Now()
	go t.wait(cmd, t.gen)
	return nil
}

// wait reaps the player and respawns it while the track is looping.
func (t *execTrack) wait(cmd *exec.Cmd, gen int) {
	err := cmd.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || t.cmd != cmd {
		return
	}
	t.cmd = nil
	if !t.loop {
		return
	}
	if err != nil && t.backend.logger != nil {
		t.backend.logger.Debug("player exited", "asset", t.asset, "error", err)
	}
	t.offset = 0
	if err := t.spawnLocked(); err != nil && t.backend.logger != nil {
		t.backend.logger.Warn("player respawn failed", "asset", t.asset, "error", err)
	}
}

func (t *execTrack) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.paused {
		return nil
	}
	if err := t.cmd.Process.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("pause player: %w", err)
	}
	t.offset += time.Since(t.startedAt)
	t.paused = true
	return nil
}

func (t *execTrack) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || !t.paused {
		return nil
	}
	if err := t.cmd.Process.Signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("resume player: %w", err)
	}
	t.startedAt = time.Now()
	t.paused = false
	return nil
}

func (t *execTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.killLocked()
	t.offset = 0
	t.paused = false
	return nil
}

func (t *execTrack) killLocked() {
	if t.cmd == nil {
		return
	}
	t.gen++
	if t.paused {
		_ = t.cmd.Process.Signal(syscall.SIGCONT)
	}
	_ = t.cmd.Process.Kill()
	t.cmd = nil
}

func (t *execTrack) Position() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil {
		return t.offset
	}
	if t.paused {
		return t.offset
	}
	return t.offset + time.Since(t.startedAt)
}

// SetVolume is a no-op; external players take volume through args.
func (t *execTrack) SetVolume(float64) {}

func (t *execTrack) SetLoop(loop bool) {
	t.mu.Lock()
	t.loop = loop
	t.mu.Unlock()
}

func (t *execTrack) Close() error {
	return t.Stop()
}
