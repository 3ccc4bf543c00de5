package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"alertdesk/internal/cache"
	"alertdesk/internal/events"
	"alertdesk/internal/model"
	"alertdesk/internal/storage"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type unreadGauge struct{ v atomic.Int64 }

func (g *unreadGauge) SetUnread(n int) { g.v.Store(int64(n)) }

func newTestAggregator(t *testing.T, persist storage.SnapshotStore) (*Aggregator, *Store, *cache.Incidents, *cache.SystemAlerts, *unreadGauge) {
	t.Helper()
	store := NewStore(StoreOptions{Persist: persist, Now: func() time.Time { return base }})
	incidents := cache.NewIncidents(50)
	systems := cache.NewSystemAlerts(50)
	gauge := &unreadGauge{}
	agg := NewAggregator(store, incidents, systems, AggregatorOptions{
		Session:       model.Session{UserID: "op-1", Role: "operator", Zone: "north"},
		SimulateEmail: true,
		Observer:      gauge,
	})
	return agg, store, incidents, systems, gauge
}

func TestStoreBoundedAndAllUnread(t *testing.T) {
	agg, store, _, _, gauge := newTestAggregator(t, nil)
	for i := 0; i < 120; i++ {
		store.Add(model.Notification{
			ID:        fmt.Sprintf("n-%d", i),
			Title:     "stored",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	list := store.List()
	if len(list) != 100 {
		t.Fatalf("expected 100 stored notifications, got %d", len(list))
	}
	if list[0].ID != "n-119" || list[99].ID != "n-20" {
		t.Fatalf("expected newest first, got %s..%s", list[0].ID, list[99].ID)
	}
	if got := agg.UnreadCount(); got != 100 {
		t.Fatalf("expected unread 100, got %d", got)
	}
	if gauge.v.Load() != 100 {
		t.Fatalf("observer not updated: %d", gauge.v.Load())
	}
}

func TestAddDuplicateIDIsNoop(t *testing.T) {
	store := NewStore(StoreOptions{})
	if _, ok := store.Add(model.Notification{ID: "a", Title: "first"}); !ok {
		t.Fatalf("expected first add to succeed")
	}
	if _, ok := store.Add(model.Notification{ID: "a", Title: "second"}); ok {
		t.Fatalf("expected duplicate add to be ignored")
	}
	if l := store.List(); len(l) != 1 || l[0].Title != "first" {
		t.Fatalf("unexpected list: %+v", l)
	}
}

func TestAggregateMergesAndUnreadInvariant(t *testing.T) {
	agg, store, incidents, systems, _ := newTestAggregator(t, nil)
	agg.SetSimulateEmail(false)
	incidents.Apply(model.EventNewIncident, model.Incident{ID: "i1", Type: "fire_alarm", Zone: "north", Severity: model.SeverityHigh, Status: model.IncidentActive, CreatedAt: base.Add(time.Minute)})
	systems.Push(model.SystemAlert{ID: "s1", Message: "maintenance", Timestamp: base.Add(2 * time.Minute)})
	store.Add(model.Notification{ID: "n1", Title: "hello", Timestamp: base})

	all := agg.Aggregate()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].ID != "system-s1" || all[1].ID != "incident-i1" || all[2].ID != "n1" {
		t.Fatalf("unexpected order: %s %s %s", all[0].ID, all[1].ID, all[2].ID)
	}
	if all[1].Title != "fire alarm Incident" || all[0].Title != "System Alert" {
		t.Fatalf("unexpected titles: %q %q", all[1].Title, all[0].Title)
	}

	countUnread := func() int {
		n := 0
		for _, e := range agg.Aggregate() {
			if !e.Read {
				n++
			}
		}
		return n
	}
	if agg.UnreadCount() != countUnread() || agg.UnreadCount() != 3 {
		t.Fatalf("unread mismatch")
	}
	if !agg.MarkRead("incident-i1") {
		t.Fatalf("expected live entry to be markable")
	}
	if agg.UnreadCount() != 2 || agg.UnreadCount() != countUnread() {
		t.Fatalf("unread after live mark: %d", agg.UnreadCount())
	}
	agg.MarkAllRead()
	if agg.UnreadCount() != 0 {
		t.Fatalf("expected zero unread, got %d", agg.UnreadCount())
	}
	if agg.MarkRead("missing") {
		t.Fatalf("unknown id should report false")
	}
}

func TestAggregateStoreWinsOnCollision(t *testing.T) {
	agg, store, incidents, _, _ := newTestAggregator(t, nil)
	agg.SetSimulateEmail(false)
	incidents.Apply(model.EventNewIncident, model.Incident{ID: "i1", Type: "fire", CreatedAt: base})
	store.Add(model.Notification{ID: "incident-i1", Title: "stored copy", Timestamp: base})

	all := agg.Aggregate()
	if len(all) != 1 || all[0].Title != "stored copy" {
		t.Fatalf("expected stored entry to win: %+v", all)
	}
	seen := map[string]bool{}
	for _, e := range all {
		if seen[e.ID] {
			t.Fatalf("duplicate id %s", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestRemoveRoutesByOwner(t *testing.T) {
	agg, store, incidents, systems, _ := newTestAggregator(t, nil)
	agg.SetSimulateEmail(false)
	incidents.Apply(model.EventNewIncident, model.Incident{ID: "i1", CreatedAt: base})
	systems.Push(model.SystemAlert{ID: "s1", Timestamp: base})
	store.Add(model.Notification{ID: "n1", Timestamp: base})

	for _, id := range []string{"incident-i1", "system-s1", "n1"} {
		if !agg.Remove(id) {
			t.Fatalf("remove %s failed", id)
		}
	}
	if incidents.Len() != 0 || systems.Len() != 0 || len(store.List()) != 0 {
		t.Fatalf("expected every channel empty")
	}
	if agg.Remove("incident-i1") {
		t.Fatalf("second remove should report false")
	}
}

func TestListFilterAndSearch(t *testing.T) {
	agg, store, incidents, _, _ := newTestAggregator(t, nil)
	agg.SetSimulateEmail(false)
	incidents.Apply(model.EventNewIncident, model.Incident{ID: "i1", Type: "fire", Description: "smoke in hall", CreatedAt: base})
	store.AddEmail(model.Notification{ID: "e1", Title: "Weekly digest", Timestamp: base})

	if got := agg.List(Filter{Source: "incidents"}); len(got) != 1 || got[0].ID != "incident-i1" {
		t.Fatalf("incident filter: %+v", got)
	}
	if got := agg.List(Filter{Source: "email"}); len(got) != 1 || got[0].ID != "e1" {
		t.Fatalf("email filter: %+v", got)
	}
	if got := agg.List(Filter{Search: "SMOKE"}); len(got) != 1 {
		t.Fatalf("search: %+v", got)
	}
}

func TestIncidentEventsSimulateEmailOnce(t *testing.T) {
	agg, store, incidents, _, _ := newTestAggregator(t, nil)
	bus := events.NewBus(nil)
	defer agg.Subscribe(bus)()

	inc := model.Incident{ID: "i9", Type: "intrusion_detected", Zone: "north", Severity: model.SeverityCritical,
		Status: model.IncidentActive, Description: "door forced", CreatedAt: base}
	incidents.Apply(model.EventNewIncident, inc)
	bus.Publish(events.Event{Name: model.EventNewIncident, Payload: inc})
	bus.Publish(events.Event{Name: model.EventNewIncident, Payload: inc})

	emails := store.Emails()
	if len(emails) != 1 {
		t.Fatalf("expected one simulated email, got %d", len(emails))
	}
	e := emails[0]
	if e.ID != "email-created-i9" || e.Title != "New critical Incident Alert" {
		t.Fatalf("unexpected email: %+v", e)
	}
	if e.Message != "intrusion detected detected in north: door forced" {
		t.Fatalf("unexpected message: %q", e.Message)
	}
	if e.Data["emailType"] != string(EmailIncidentCreated) {
		t.Fatalf("missing email type: %+v", e.Data)
	}
}

func TestEmailSettingsGate(t *testing.T) {
	store := NewStore(StoreOptions{})
	inc := model.Incident{ID: "i1", Type: "fire", Zone: "south", Severity: model.SeverityLow, Status: model.IncidentActive, AssignedTo: "r-2"}

	s := model.DefaultEmailSettings()
	s.SeverityFilters.Low = false
	store.UpdateEmailSettings(s)
	if _, ok := store.SimulateEmail(EmailIncidentCreated, inc, model.Session{Role: "operator"}); ok {
		t.Fatalf("low severity should be filtered")
	}

	s = model.DefaultEmailSettings()
	store.UpdateEmailSettings(s)
	responder := model.Session{UserID: "r-2", Role: "responder", Zone: "north"}
	if _, ok := store.SimulateEmail(EmailIncidentCreated, inc, responder); ok {
		t.Fatalf("responder outside the zone should not receive created email")
	}
	if _, ok := store.SimulateEmail(EmailIncidentAssigned, inc, responder); !ok {
		t.Fatalf("assigned responder should receive assignment email")
	}

	inc.Status = model.IncidentResolved
	s.IncidentStatusUpdate.NotifyOnResolved = false
	store.UpdateEmailSettings(s)
	if _, ok := store.SimulateEmail(EmailIncidentStatusUpdate, inc, model.Session{Role: "admin"}); ok {
		t.Fatalf("resolved updates are disabled")
	}

	s.Enabled = false
	store.UpdateEmailSettings(s)
	if _, ok := store.SimulateEmail(EmailIncidentApproval, inc, model.Session{Role: "admin"}); ok {
		t.Fatalf("global switch should block every email")
	}
}

func TestStorePersistsAndRestores(t *testing.T) {
	persist, err := storage.NewFile(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	store := NewStore(StoreOptions{Persist: persist})
	store.Add(model.Notification{ID: "n1", Title: "kept"})
	store.AddEmail(model.Notification{ID: "e1", Title: "mail"})
	store.MarkRead("n1")
	s := store.EmailSettings()
	s.IncidentApproval.NotifyOnDismissed = false
	store.UpdateEmailSettings(s)

	restored := NewStore(StoreOptions{Persist: persist})
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	list := restored.List()
	if len(list) != 2 || len(restored.Emails()) != 1 {
		t.Fatalf("unexpected restored lists: %+v", list)
	}
	if restored.UnreadCount() != 1 {
		t.Fatalf("read flag not persisted")
	}
	if restored.EmailSettings().IncidentApproval.NotifyOnDismissed {
		t.Fatalf("settings not persisted")
	}
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	persist, err := storage.NewFile(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	store := NewStore(StoreOptions{Persist: persist})
	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("missing snapshot should not fail: %v", err)
	}
	if len(store.List()) != 0 {
		t.Fatalf("expected empty store")
	}
}
