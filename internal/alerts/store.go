package alerts

import (
	"context"
	"sync"
	"time"

	"alertdesk/internal/model"
)

// Store is the in-memory log of acknowledged emergency alerts, used when
// the configured storage driver keeps no alert log of its own.
type Store struct {
	mu    sync.RWMutex
	buf   []model.EmergencyAlert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 500
	}
	return &Store{limit: limit}
}

func (s *Store) SaveAlert(_ context.Context, alert model.EmergencyAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return nil
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Store) RecentAlerts(_ context.Context, limit int) ([]model.EmergencyAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.EmergencyAlert, 0, limit)
	for i := len(s.buf) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.buf[i])
	}
	return out, nil
}

// Since returns alerts acknowledged at or after ts, oldest first.
func (s *Store) Since(ts time.Time) []model.EmergencyAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.EmergencyAlert, 0)
	for _, a := range s.buf {
		if a.AcknowledgedAt != nil && !a.AcknowledgedAt.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
