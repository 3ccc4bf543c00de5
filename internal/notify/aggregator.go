package notify

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"alertdesk/internal/cache"
	"alertdesk/internal/events"
	"alertdesk/internal/model"
)

const (
	incidentPrefix = "incident-"
	systemPrefix   = "system-"
)

type Filter struct {
	// Source is one of all, incident, system, email or stored.
	Source string
	Search string
}

type UnreadObserver interface {
	SetUnread(n int)
}

type AggregatorOptions struct {
	Session       model.Session
	SimulateEmail bool
	Observer      UnreadObserver
	Logger        *slog.Logger
}

// Aggregator merges the live incident and system-alert caches with the
// persisted store into one id-unique view. Read state for live entries is
// held here and never persisted.
type Aggregator struct {
	mu        sync.Mutex
	liveRead  map[string]bool
	session   model.Session
	simulate  bool
	store     *Store
	incidents *cache.Incidents
	systems   *cache.SystemAlerts
	observer  UnreadObserver
	logger    *slog.Logger
}

func NewAggregator(store *Store, incidents *cache.Incidents, systems *cache.SystemAlerts, opts AggregatorOptions) *Aggregator {
	a := &Aggregator{
		liveRead:  make(map[string]bool),
		session:   opts.Session,
		simulate:  opts.SimulateEmail,
		store:     store,
		incidents: incidents,
		systems:   systems,
		observer:  opts.Observer,
		logger:    opts.Logger,
	}
	store.OnChange(a.refresh)
	return a
}

func incidentEntry(inc model.Incident) model.Notification {
	return model.Notification{
		ID:        incidentPrefix + inc.ID,
		Source:    model.SourceIncident,
		Title:     humanType(inc.Type) + " Incident",
		Message:   inc.Description,
		Severity:  inc.Severity,
		Timestamp: inc.CreatedAt,
		Data: map[string]string{
			"incidentId": inc.ID,
			"zone":       inc.Zone,
			"status":     string(inc.Status),
		},
	}
}

func systemEntry(al model.SystemAlert) model.Notification {
	title := al.Title
	if title == "" {
		title = "System Alert"
	}
	sev := al.Severity
	if sev == "" {
		sev = model.SeverityMedium
	}
	return model.Notification{
		ID:        systemPrefix + al.ID,
		Source:    model.SourceSystem,
		Title:     title,
		Message:   al.Message,
		Severity:  sev,
		Timestamp: al.Timestamp,
	}
}

// Aggregate returns the merged view, newest first. On an id collision the
// store entry wins.
func (a *Aggregator) Aggregate() []model.Notification {
	stored := a.store.List()
	incidents := a.incidents.List(0)
	systems := a.systems.List(0)

	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Notification, 0, len(stored)+len(incidents)+len(systems))
	seen := make(map[string]struct{}, cap(out))
	for _, n := range stored {
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	live := make(map[string]struct{}, len(incidents)+len(systems))
	add := func(n model.Notification) {
		live[n.ID] = struct{}{}
		if _, ok := seen[n.ID]; ok {
			return
		}
		seen[n.ID] = struct{}{}
		n.Read = a.liveRead[n.ID]
		out = append(out, n)
	}
	for _, inc := range incidents {
		add(incidentEntry(inc))
	}
	for _, al := range systems {
		add(systemEntry(al))
	}
	for id := range a.liveRead {
		if _, ok := live[id]; !ok {
			delete(a.liveRead, id)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (a *Aggregator) List(f Filter) []model.Notification {
	all := a.Aggregate()
	source := strings.ToLower(strings.TrimSpace(f.Source))
	source = strings.TrimSuffix(source, "s")
	q := strings.ToLower(strings.TrimSpace(f.Search))
	if (source == "" || source == "all") && q == "" {
		return all
	}
	out := all[:0:0]
	for _, n := range all {
		if source != "" && source != "all" && string(n.Source) != source {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(n.Title), q) && !strings.Contains(strings.ToLower(n.Message), q) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// UnreadCount is recomputed from the merged view on every call.
func (a *Aggregator) UnreadCount() int {
	n := 0
	for _, item := range a.Aggregate() {
		if !item.Read {
			n++
		}
	}
	return n
}

func (a *Aggregator) MarkRead(id string) bool {
	if a.store.Has(id) {
		return a.store.MarkRead(id)
	}
	if !a.isLive(id) {
		return false
	}
	a.mu.Lock()
	a.liveRead[id] = true
	a.mu.Unlock()
	a.refresh()
	return true
}

func (a *Aggregator) MarkAllRead() {
	incidents := a.incidents.List(0)
	systems := a.systems.List(0)
	a.mu.Lock()
	for _, inc := range incidents {
		a.liveRead[incidentPrefix+inc.ID] = true
	}
	for _, al := range systems {
		a.liveRead[systemPrefix+al.ID] = true
	}
	a.mu.Unlock()
	a.store.MarkAllRead()
}

// Remove deletes id from whichever channel owns it.
func (a *Aggregator) Remove(id string) bool {
	if a.store.Has(id) {
		return a.store.Remove(id)
	}
	removed := false
	switch {
	case strings.HasPrefix(id, incidentPrefix):
		removed = a.incidents.Remove(strings.TrimPrefix(id, incidentPrefix))
	case strings.HasPrefix(id, systemPrefix):
		removed = a.systems.Remove(strings.TrimPrefix(id, systemPrefix))
	}
	if removed {
		a.mu.Lock()
		delete(a.liveRead, id)
		a.mu.Unlock()
		a.refresh()
	}
	return removed
}

func (a *Aggregator) ClearAll() {
	a.store.ClearAll()
}

func (a *Aggregator) SetSession(s model.Session) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
}

func (a *Aggregator) SetSimulateEmail(on bool) {
	a.mu.Lock()
	a.simulate = on
	a.mu.Unlock()
}

func (a *Aggregator) isLive(id string) bool {
	switch {
	case strings.HasPrefix(id, incidentPrefix):
		_, ok := a.incidents.Get(strings.TrimPrefix(id, incidentPrefix))
		return ok
	case strings.HasPrefix(id, systemPrefix):
		_, ok := a.systems.Get(strings.TrimPrefix(id, systemPrefix))
		return ok
	}
	return false
}

// HandleIncident derives simulated emails from a live incident event.
func (a *Aggregator) HandleIncident(inc model.Incident) {
	a.mu.Lock()
	simulate, who := a.simulate, a.session
	a.mu.Unlock()
	if simulate {
		if inc.Status == model.IncidentActive {
			a.store.SimulateEmail(EmailIncidentCreated, inc, who)
		}
		if inc.AssignedTo != "" {
			a.store.SimulateEmail(EmailIncidentAssigned, inc, who)
		}
	}
	a.refresh()
}

// Subscribe wires the aggregator to live incident and system-alert events.
func (a *Aggregator) Subscribe(bus *events.Bus) func() {
	onIncident := func(ev events.Event) {
		if inc, ok := ev.Payload.(model.Incident); ok {
			a.HandleIncident(inc)
		}
	}
	unsubs := []func(){
		bus.Subscribe(model.EventNewIncident, onIncident),
		bus.Subscribe(model.EventIncidentUpdated, onIncident),
		bus.Subscribe(model.EventSystemAlert, func(events.Event) { a.refresh() }),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (a *Aggregator) refresh() {
	if a.observer != nil {
		a.observer.SetUnread(a.UnreadCount())
	}
}
