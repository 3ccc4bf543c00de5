package dedup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

type Observer interface {
	RequestShared()
}

// Group collapses concurrent identical requests into one execution. It is
// not a cache: once a call settles the next identical request runs again.
type Group struct {
	sf       singleflight.Group
	mu       sync.Mutex
	inflight map[string]struct{}
	observer Observer
}

func New(observer Observer) *Group {
	return &Group{inflight: make(map[string]struct{}), observer: observer}
}

// Key builds "METHOD url body" where body is JSON with object keys sorted.
func Key(method, url string, body any) (string, error) {
	canon, err := canonicalJSON(body)
	if err != nil {
		return "", fmt.Errorf("dedup key: %w", err)
	}
	return strings.ToUpper(method) + " " + url + " " + canon, nil
}

func canonicalJSON(body any) (string, error) {
	var raw []byte
	switch b := body.(type) {
	case nil:
		return "", nil
	case json.RawMessage:
		raw = b
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return "", err
		}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Do runs fn once for all concurrent callers sharing the same key. fn gets
// a context detached from any one caller's cancellation; a caller whose ctx
// ends stops waiting but does not cancel the shared call. shared reports
// whether the result was delivered to more than one caller.
func (g *Group) Do(ctx context.Context, method, url string, body any, fn func(context.Context) (any, error)) (v any, shared bool, err error) {
	key, err := Key(method, url, body)
	if err != nil {
		return nil, false, err
	}
	return g.DoKey(ctx, key, fn)
}

func (g *Group) DoKey(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		g.track(key)
		defer g.settle(key)
		return fn(detached)
	})
	select {
	case res := <-ch:
		if res.Shared && g.observer != nil {
			g.observer.RequestShared()
		}
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (g *Group) track(key string) {
	g.mu.Lock()
	g.inflight[key] = struct{}{}
	g.mu.Unlock()
}

func (g *Group) settle(key string) {
	g.mu.Lock()
	delete(g.inflight, key)
	g.mu.Unlock()
}

// InFlight lists the keys of calls that have not settled yet.
func (g *Group) InFlight() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.inflight))
	for k := range g.inflight {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
