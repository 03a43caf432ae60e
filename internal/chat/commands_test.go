package chat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/pulsebot/internal/statestore"
)

func newTestCommands(t *testing.T, admins ...string) (*Commands,
	*statestore.Records, *statestore.Store) {

	t.Helper()

	store, err := statestore.Open(t.TempDir())
	require.NoError(t, err)

	records, err := statestore.NewRecords(store, nil)
	require.NoError(t, err)

	return NewCommands(records, admins, nil), records, store
}

// TestRegisterCommand verifies the register verb mutates and persists the
// opt-in set, and is idempotent.
func TestRegisterCommand(t *testing.T) {
	commands, records, store := newTestCommands(t)

	reply := commands.Handle("alice", "register")
	require.Contains(t, reply, "notified")
	require.True(t, records.IsRegistered("alice"))

	// Survives a reload from disk.
	fresh, err := statestore.NewRecords(store, nil)
	require.NoError(t, err)
	require.True(t, fresh.IsRegistered("alice"))

	reply = commands.Handle("alice", "register")
	require.Contains(t, reply, "already")
}

// TestDeregisterCommand verifies the deregister verb and its no-op reply.
func TestDeregisterCommand(t *testing.T) {
	commands, records, _ := newTestCommands(t)

	commands.Handle("bob", "register")
	require.True(t, records.IsRegistered("bob"))

	reply := commands.Handle("bob", "deregister")
	require.Contains(t, reply, "no longer")
	require.False(t, records.IsRegistered("bob"))

	reply = commands.Handle("bob", "deregister")
	require.Contains(t, reply, "not registered")
}

// TestReloadCommandIsAdminGated verifies the reload verb refuses non-admin
// callers and refreshes the mapping for admins.
func TestReloadCommandIsAdminGated(t *testing.T) {
	commands, records, store := newTestCommands(t, "op")

	reply := commands.Handle("rando", "reload-component-map")
	require.Contains(t, reply, "admin-only")

	err := store.Put(statestore.KeyComponentChannels, map[string][]string{
		"Core :: DOM": {"#dom"},
	})
	require.NoError(t, err)

	reply = commands.Handle("op", "reload-component-map")
	require.Contains(t, reply, "1 components")
	require.Equal(t, []string{"#dom"}, records.ChannelsFor("Core :: DOM"))
}

// TestCommandParsing covers trimming, case folding, and unknown verbs.
func TestCommandParsing(t *testing.T) {
	commands, records, _ := newTestCommands(t)

	commands.Handle("carol", "  REGISTER  ")
	require.True(t, records.IsRegistered("carol"))

	reply := commands.Handle("carol", "dance")
	require.Contains(t, reply, "unknown command")
	require.Contains(t, reply, "register")

	reply = commands.Handle("carol", "help")
	require.Contains(t, reply, "register")
}
