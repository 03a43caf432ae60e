package statestore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

const (
	// KeyRegisteredUsers is the state key holding the sorted list of
	// recipients who opted in to direct notices.
	KeyRegisteredUsers = "registered_users"

	// KeyComponentChannels is the state key holding the mapping from a
	// tracker component to notification channels.
	KeyComponentChannels = "bugzilla_component_to_channel"
)

// Records is the in-memory view of the persisted opt-in and routing state.
// Many concurrent handlers read it while the admin commands mutate it
// rarely; an RWMutex keeps readers from ever observing a torn collection.
type Records struct {
	store *Store
	log   *slog.Logger

	mu         sync.RWMutex
	recipients map[string]struct{}
	channels   map[string][]string
}

// NewRecords loads both records from the store, treating missing records
// as empty.
func NewRecords(store *Store, log *slog.Logger) (*Records, error) {
	if log == nil {
		log = slog.Default()
	}

	r := &Records{
		store: store,
		log:   log.With("component", "statestore"),
	}

	users, err := Get(store, KeyRegisteredUsers, []string{})
	if err != nil {
		return nil, fmt.Errorf("load registered users: %w", err)
	}
	r.recipients = make(map[string]struct{}, len(users))
	for _, u := range users {
		r.recipients[u] = struct{}{}
	}

	if err := r.ReloadComponentMap(); err != nil {
		return nil, err
	}

	return r, nil
}

// Register adds the recipient to the opted-in set and persists it. It
// reports whether the recipient was newly added.
func (r *Records) Register(recipient string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.recipients[recipient]; ok {
		return false, nil
	}

	r.recipients[recipient] = struct{}{}
	if err := r.persistRecipientsLocked(); err != nil {
		delete(r.recipients, recipient)
		return false, err
	}

	return true, nil
}

// Deregister removes the recipient from the opted-in set and persists it.
// It reports whether the recipient had been registered.
func (r *Records) Deregister(recipient string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.recipients[recipient]; !ok {
		return false, nil
	}

	delete(r.recipients, recipient)
	if err := r.persistRecipientsLocked(); err != nil {
		r.recipients[recipient] = struct{}{}
		return false, err
	}

	return true, nil
}

// IsRegistered reports whether the recipient opted in to direct notices.
func (r *Records) IsRegistered(recipient string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.recipients[recipient]
	return ok
}

// Recipients returns the opted-in set as a sorted slice.
func (r *Records) Recipients() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedRecipientsLocked()
}

// ChannelsFor returns the channels mapped to the given component. The
// returned slice is a copy.
func (r *Records) ChannelsFor(component string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chans := r.channels[component]
	if len(chans) == 0 {
		return nil
	}

	out := make([]string, len(chans))
	copy(out, chans)
	return out
}

// ComponentMap returns a copy of the full component-to-channels mapping.
func (r *Records) ComponentMap() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]string, len(r.channels))
	for comp, chans := range r.channels {
		cp := make([]string, len(chans))
		copy(cp, chans)
		out[comp] = cp
	}

	return out
}

// ReloadComponentMap re-reads the component-to-channel mapping from the
// store, replacing the in-memory view. Invoked at startup and by the
// reload admin command.
func (r *Records) ReloadComponentMap() error {
	channels, err := Get(
		r.store, KeyComponentChannels, map[string][]string{},
	)
	if err != nil {
		return fmt.Errorf("load component map: %w", err)
	}

	r.mu.Lock()
	r.channels = channels
	r.mu.Unlock()

	r.log.Info("component map loaded", "components", len(channels))

	return nil
}

// persistRecipientsLocked writes the opted-in set as a sorted list. The
// caller holds the write lock.
func (r *Records) persistRecipientsLocked() error {
	return r.store.Put(KeyRegisteredUsers, r.sortedRecipientsLocked())
}

// sortedRecipientsLocked snapshots the opted-in set as a sorted slice. The
// caller holds at least the read lock.
func (r *Records) sortedRecipientsLocked() []string {
	out := make([]string, 0, len(r.recipients))
	for u := range r.recipients {
		out = append(out, u)
	}
	sort.Strings(out)

	return out
}
