package cache

import (
	"fmt"
	"testing"
	"time"

	"alertdesk/internal/model"
)

func TestRingEvictsOldestAndKeepsNewestFirst(t *testing.T) {
	r := NewRing(3, func(s string) string { return s })
	for _, v := range []string{"a", "b", "c", "d"} {
		r.Push(v)
	}
	got := r.List(0)
	if fmt.Sprint(got) != "[d c b]" {
		t.Fatalf("unexpected order: %v", got)
	}
	if r.Len() != 3 {
		t.Fatalf("expected len 3, got %d", r.Len())
	}
	if got := r.List(2); fmt.Sprint(got) != "[d c]" {
		t.Fatalf("unexpected limited list: %v", got)
	}
}

func TestRingPushReplacesInPlace(t *testing.T) {
	type item struct{ id, v string }
	r := NewRing(5, func(i item) string { return i.id })
	r.Push(item{"1", "old"})
	r.Push(item{"2", "x"})
	if r.Push(item{"1", "new"}) {
		t.Fatalf("expected replace, not insert")
	}
	list := r.List(0)
	if list[1].v != "new" || list[0].id != "2" {
		t.Fatalf("unexpected list: %+v", list)
	}
	r.Promote(item{"1", "newest"})
	if list := r.List(0); list[0].v != "newest" || len(list) != 2 {
		t.Fatalf("promote failed: %+v", list)
	}
}

func TestIncidentsApply(t *testing.T) {
	c := NewIncidents(50)
	c.Apply(model.EventNewIncident, model.Incident{ID: "i1", Status: model.IncidentActive})
	c.Apply(model.EventNewIncident, model.Incident{ID: "i2", Status: model.IncidentActive})
	c.Apply(model.EventIncidentUpdated, model.Incident{ID: "i1", Status: model.IncidentAssigned})
	c.Apply(model.EventIncidentUpdated, model.Incident{ID: "i3"})

	list := c.List(0)
	if len(list) != 3 || list[0].ID != "i3" || list[2].ID != "i1" {
		t.Fatalf("unexpected incidents: %+v", list)
	}
	if list[2].Status != model.IncidentAssigned {
		t.Fatalf("update not applied in place")
	}
	if !c.Remove("i2") || c.Remove("i2") {
		t.Fatalf("remove semantics broken")
	}
}

func TestIncidentsBoundedAt50(t *testing.T) {
	c := NewIncidents(50)
	for i := 0; i < 60; i++ {
		c.Apply(model.EventNewIncident, model.Incident{ID: fmt.Sprintf("i%d", i)})
	}
	list := c.List(0)
	if len(list) != 50 || list[0].ID != "i59" || list[49].ID != "i10" {
		t.Fatalf("unexpected bounded cache: len=%d first=%s last=%s", len(list), list[0].ID, list[len(list)-1].ID)
	}
}

func TestRespondersStatusAndStaleness(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewResponders(10, time.Minute)
	c.Apply(model.ResponderPosition{UserID: "r1", Latitude: 1, Longitude: 2, Timestamp: now.Add(-2 * time.Minute)})
	c.Apply(model.ResponderPosition{UserID: "r2", Latitude: 3, Longitude: 4, Timestamp: now.Add(-10 * time.Second)})

	if !c.Apply(model.ResponderPosition{UserID: "r1", Status: "busy", StatusOnly: true}) {
		t.Fatalf("expected status update for known responder")
	}
	if c.Apply(model.ResponderPosition{UserID: "ghost", Status: "busy", StatusOnly: true}) {
		t.Fatalf("status for unknown responder should be ignored")
	}

	snap := c.Snapshot(now)
	if len(snap) != 2 {
		t.Fatalf("expected 2 responders, got %d", len(snap))
	}
	byID := map[string]model.ResponderPosition{}
	for _, p := range snap {
		byID[p.UserID] = p
	}
	if !byID["r1"].Stale || byID["r2"].Stale {
		t.Fatalf("unexpected staleness: %+v", snap)
	}
	if byID["r1"].Status != "busy" || byID["r1"].Latitude != 1 {
		t.Fatalf("status update clobbered position: %+v", byID["r1"])
	}
}

func TestSystemAlertsClear(t *testing.T) {
	c := NewSystemAlerts(5)
	c.Push(model.SystemAlert{ID: "s1"})
	c.Push(model.SystemAlert{ID: "s2"})
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache")
	}
}
