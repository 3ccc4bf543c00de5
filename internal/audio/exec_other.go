//go:build !unix

package audio

import (
	"errors"
	"log/slog"
)

type Exec struct{}

func NewExec(command string, args []string, logger *slog.Logger) (*Exec, error) {
	return nil, errors.New("audio: exec backend is only available on unix")
}

func (e *Exec) Open(asset string) (Track, error) {
	return nil, errors.New("audio: exec backend is only available on unix")
}
