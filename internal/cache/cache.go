package cache

import (
	"sync/atomic"
	"time"

	"alertdesk/internal/model"
)

type Incidents struct {
	*Ring[model.Incident]
}

func NewIncidents(limit int) *Incidents {
	return &Incidents{NewRing(limit, func(i model.Incident) string { return i.ID })}
}

// Apply folds a stream incident event into the cache. Updates for unknown
// ids are treated as new incidents.
func (c *Incidents) Apply(event string, inc model.Incident) {
	if event == model.EventIncidentUpdated && c.Replace(inc) {
		return
	}
	c.Push(inc)
}

type Responders struct {
	*Ring[model.ResponderPosition]
	staleAfter atomic.Int64
}

func NewResponders(limit int, staleAfter time.Duration) *Responders {
	c := &Responders{Ring: NewRing(limit, func(p model.ResponderPosition) string { return p.UserID })}
	c.staleAfter.Store(int64(staleAfter))
	return c
}

// Apply upserts a location update or sets the status of a known responder.
// Status-only updates for unknown responders are ignored.
func (c *Responders) Apply(pos model.ResponderPosition) bool {
	if !pos.StatusOnly {
		c.Promote(pos)
		return true
	}
	return c.Update(pos.UserID, func(p *model.ResponderPosition) {
		p.Status = pos.Status
	})
}

// Snapshot lists responders newest first with Stale computed against now.
func (c *Responders) Snapshot(now time.Time) []model.ResponderPosition {
	staleAfter := time.Duration(c.staleAfter.Load())
	out := c.List(0)
	for i := range out {
		out[i].Stale = staleAfter > 0 && now.Sub(out[i].Timestamp) > staleAfter
	}
	return out
}

func (c *Responders) SetStaleAfter(d time.Duration) {
	c.staleAfter.Store(int64(d))
}

type SystemAlerts struct {
	*Ring[model.SystemAlert]
}

func NewSystemAlerts(limit int) *SystemAlerts {
	return &SystemAlerts{NewRing(limit, func(a model.SystemAlert) string { return a.ID })}
}
