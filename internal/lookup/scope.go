// Package lookup provides an invocation-scoped memoization layer for the
// external tracker clients. A Scope is attached to the context of one
// top-level event-handler invocation; any memoized call made with that
// context pays for at most one upstream round trip per key. Nothing is
// shared between scopes, so a later event always observes fresh upstream
// state.
package lookup

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// scopeCtxKey is the context key under which the active Scope is stored.
type scopeCtxKey struct{}

// Scope memoizes lookup results for the dynamic extent of one handler
// invocation. Entries record both values and errors, so a failing upstream
// is not hammered repeatedly within one event.
type Scope struct {
	// id identifies the scope, mostly for log correlation.
	id string

	mu      sync.Mutex
	entries map[string]scopeEntry
}

// scopeEntry is one memoized result.
type scopeEntry struct {
	val any
	err error
}

// NewScope creates an empty Scope with a fresh identity.
func NewScope() *Scope {
	return &Scope{
		id:      uuid.NewString(),
		entries: make(map[string]scopeEntry),
	}
}

// ID returns the scope's unique identifier.
func (s *Scope) ID() string {
	return s.id
}

// Len returns the number of memoized entries.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// WithScope returns a context carrying a fresh Scope. The dispatcher calls
// this once per event so that every lookup made while handling that event
// shares one cache.
func WithScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, NewScope())
}

// FromContext returns the Scope attached to ctx, if any.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeCtxKey{}).(*Scope)
	return s, ok
}

// Memoize runs fetch at most once per (scope, key) pair and returns the
// recorded result on later calls with the same key. When ctx carries no
// Scope, fetch runs directly; callers outside an event invocation simply
// get no caching.
func Memoize[V any](ctx context.Context, key string,
	fetch func(ctx context.Context) (V, error)) (V, error) {

	s, ok := FromContext(ctx)
	if !ok {
		return fetch(ctx)
	}

	s.mu.Lock()
	if e, hit := s.entries[key]; hit {
		s.mu.Unlock()

		if e.err != nil {
			var zero V
			return zero, e.err
		}

		return e.val.(V), nil
	}
	s.mu.Unlock()

	// Run the fetch outside the lock. Handler invocations are single
	// goroutines, so there is no duplicate-fetch race to suppress here;
	// the lock only protects the map itself.
	val, err := fetch(ctx)

	s.mu.Lock()
	s.entries[key] = scopeEntry{val: val, err: err}
	s.mu.Unlock()

	return val, err
}
