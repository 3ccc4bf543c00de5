package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"alertdesk/internal/model"
	"alertdesk/internal/storage"
)

// Store is the persisted notification log. Email notifications are kept in
// both lists; the email list is a bounded sub-view.
type Store struct {
	mu            sync.Mutex
	notifications []model.Notification
	emails        []model.Notification
	settings      model.EmailSettings
	limit         int
	emailLimit    int

	gen       uint64
	persistMu sync.Mutex
	savedGen  uint64
	persist   storage.SnapshotStore
	logger    *slog.Logger
	now       func() time.Time
	onChange  func()
}

type StoreOptions struct {
	Limit      int
	EmailLimit int
	Persist    storage.SnapshotStore
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewStore(opts StoreOptions) *Store {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.EmailLimit <= 0 {
		opts.EmailLimit = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		settings:   model.DefaultEmailSettings(),
		limit:      opts.Limit,
		emailLimit: opts.EmailLimit,
		persist:    opts.Persist,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// Restore loads the persisted snapshot. A missing snapshot leaves the store
// empty; an unreadable one is reported and also leaves it empty.
func (s *Store) Restore(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	snap, err := s.persist.Load(ctx)
	if errors.Is(err, storage.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore notifications: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = capList(dedupeIDs(snap.Notifications), s.limit)
	s.emails = capList(dedupeIDs(snap.EmailNotifications), s.emailLimit)
	if !reflect.DeepEqual(snap.EmailSettings, model.EmailSettings{}) {
		s.settings = snap.EmailSettings
	}
	return nil
}

func (s *Store) snapshotLocked() storage.Snapshot {
	return storage.Snapshot{
		Version:            storage.SnapshotVersion,
		Notifications:      append([]model.Notification(nil), s.notifications...),
		EmailNotifications: append([]model.Notification(nil), s.emails...),
		EmailSettings:      s.settings,
	}
}

func (s *Store) Snapshot() storage.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// stageLocked numbers a post-mutation snapshot for commit.
func (s *Store) stageLocked() (storage.Snapshot, uint64) {
	s.gen++
	return s.snapshotLocked(), s.gen
}

// OnChange registers a hook run after every mutation.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// commit persists snap unless a newer snapshot has already been written.
// It runs after the state lock is released.
func (s *Store) commit(snap storage.Snapshot, gen uint64) {
	s.mu.Lock()
	hook := s.onChange
	s.mu.Unlock()

	if s.persist != nil {
		s.persistMu.Lock()
		if gen > s.savedGen {
			if err := s.persist.Save(context.Background(), snap); err != nil {
				if s.logger != nil {
					s.logger.Error("persist notifications failed", "error", err)
				}
			} else {
				s.savedGen = gen
			}
		}
		s.persistMu.Unlock()
	}
	if hook != nil {
		hook()
	}
}

func (s *Store) fill(n model.Notification, source model.SourceType, prefix string) model.Notification {
	if n.ID == "" {
		n.ID = prefix + uuid.NewString()
	}
	if n.Source == "" {
		n.Source = source
	}
	if n.Severity == "" {
		n.Severity = model.SeverityMedium
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now().UTC()
	}
	n.Read = false
	return n
}

// Add prepends a notification. An id already present is left untouched and
// Add reports false.
func (s *Store) Add(n model.Notification) (model.Notification, bool) {
	s.mu.Lock()
	n = s.fill(n, model.SourceStored, "notification-")
	if indexOf(s.notifications, n.ID) >= 0 {
		s.mu.Unlock()
		return n, false
	}
	s.notifications = prepend(s.notifications, n, s.limit)
	snap, gen := s.stageLocked()
	s.mu.Unlock()
	s.commit(snap, gen)
	return n, true
}

func (s *Store) AddEmail(n model.Notification) (model.Notification, bool) {
	s.mu.Lock()
	n = s.fill(n, model.SourceEmail, "email-")
	if indexOf(s.notifications, n.ID) >= 0 || indexOf(s.emails, n.ID) >= 0 {
		s.mu.Unlock()
		return n, false
	}
	s.emails = prepend(s.emails, n, s.emailLimit)
	s.notifications = prepend(s.notifications, n, s.limit)
	snap, gen := s.stageLocked()
	s.mu.Unlock()
	s.commit(snap, gen)
	return n, true
}

func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(s.notifications, id) >= 0 || indexOf(s.emails, id) >= 0
}

func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	found := false
	for _, list := range [][]model.Notification{s.notifications, s.emails} {
		if i := indexOf(list, id); i >= 0 {
			list[i].Read = true
			found = true
		}
	}
	if !found {
		s.mu.Unlock()
		return false
	}
	snap, gen := s.stageLocked()
	s.mu.Unlock()
	s.commit(snap, gen)
	return true
}

func (s *Store) MarkAllRead() {
	s.mu.Lock()
	for i := range s.notifications {
		s.notifications[i].Read = true
	}
	for i := range s.emails {
		s.emails[i].Read = true
	}
	snap, gen := s.stageLocked()
	s.mu.Unlock()
	s.commit(snap, gen)
}

func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	var removed bool
	s.notifications, removed = without(s.notifications, id)
	var removedEmail bool
	s.emails, removedEmail = without(s.emails, id)
	if !removed && !removedEmail {
		s.mu.Unlock()
		return false
	}
	snap, gen := s.stageLocked()
	s.mu.Unlock()
	s.commit(snap, gen)
	return true
}

func (s *Store) ClearAll() {
	s.mu.Lock()
	s.notifications = nil
	s.emails = nil
	snap, gen := s.stageLocked()
	s.mu.Unlock()
	s.commit(snap, gen)
}

func (s *Store) EmailSettings() model.EmailSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *Store) UpdateEmailSettings(settings model.EmailSettings) {
	s.mu.Lock()
	s.settings = settings
	snap, gen := s.stageLocked()
	s.mu.Unlock()
	s.commit(snap, gen)
}

func (s *Store) List() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.notifications...)
}

func (s *Store) Emails() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.emails...)
}

func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.notifications {
		if !item.Read {
			n++
		}
	}
	return n
}

func indexOf(list []model.Notification, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func prepend(list []model.Notification, n model.Notification, limit int) []model.Notification {
	out := make([]model.Notification, 0, min(len(list)+1, limit))
	out = append(out, n)
	for _, item := range list {
		if len(out) >= limit {
			break
		}
		out = append(out, item)
	}
	return out
}

func without(list []model.Notification, id string) ([]model.Notification, bool) {
	i := indexOf(list, id)
	if i < 0 {
		return list, false
	}
	out := make([]model.Notification, 0, len(list)-1)
	out = append(out, list[:i]...)
	out = append(out, list[i+1:]...)
	return out, true
}

func dedupeIDs(list []model.Notification) []model.Notification {
	seen := make(map[string]struct{}, len(list))
	out := make([]model.Notification, 0, len(list))
	for _, n := range list {
		if n.ID == "" {
			continue
		}
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}

func capList(list []model.Notification, limit int) []model.Notification {
	if len(list) > limit {
		return list[:limit]
	}
	return list
}
