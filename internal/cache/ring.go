package cache

import "sync"

// Ring is a bounded, newest-first collection keyed by id. When full the
// oldest entry is evicted.
type Ring[T any] struct {
	mu    sync.RWMutex
	buf   []T
	limit int
	key   func(T) string
}

func NewRing[T any](limit int, key func(T) string) *Ring[T] {
	if limit <= 0 {
		limit = 50
	}
	return &Ring[T]{limit: limit, key: key}
}

// Push replaces an entry with the same id in place, or prepends it.
// It reports whether the entry was new.
func (r *Ring[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(r.key(item)); i >= 0 {
		r.buf[i] = item
		return false
	}
	r.prependLocked(item)
	return true
}

// Promote moves the entry to the front, replacing any entry with the same id.
func (r *Ring[T]) Promote(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(r.key(item)); i >= 0 {
		r.buf = append(r.buf[:i], r.buf[i+1:]...)
	}
	r.prependLocked(item)
}

// Replace overwrites an existing entry and reports whether one was found.
func (r *Ring[T]) Replace(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(r.key(item)); i >= 0 {
		r.buf[i] = item
		return true
	}
	return false
}

// Update applies fn to the entry with the given id.
func (r *Ring[T]) Update(id string, fn func(*T)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		fn(&r.buf[i])
		return true
	}
	return false
}

func (r *Ring[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.buf[i], true
	}
	var zero T
	return zero, false
}

func (r *Ring[T]) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		r.buf = append(r.buf[:i], r.buf[i+1:]...)
		return true
	}
	return false
}

// List returns up to limit entries, newest first. limit <= 0 means all.
func (r *Ring[T]) List(limit int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.buf) {
		limit = len(r.buf)
	}
	out := make([]T, limit)
	copy(out, r.buf[:limit])
	return out
}

func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}

func (r *Ring[T]) Limit() int {
	return r.limit
}

func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
}

func (r *Ring[T]) indexLocked(id string) int {
	for i := range r.buf {
		if r.key(r.buf[i]) == id {
			return i
		}
	}
	return -1
}

func (r *Ring[T]) prependLocked(item T) {
	if len(r.buf) >= r.limit {
		r.buf = r.buf[:r.limit-1]
	}
	r.buf = append(r.buf, item)
	copy(r.buf[1:], r.buf[:len(r.buf)-1])
	r.buf[0] = item
}
