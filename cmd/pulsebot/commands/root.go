// Package commands implements the pulsebot admin CLI. It operates directly
// on the daemon's state directory, so registrations and channel mappings
// can be inspected and edited offline; the daemon picks up component-map
// edits via its reload command.
package commands

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roasbeef/pulsebot/internal/statestore"
)

var (
	// stateDir is the daemon's state directory.
	stateDir string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "pulsebot",
	Short: "Administer the pulsebot review notification daemon",
	Long: `Inspect and edit the pulsebot state directory: the set of nicks
registered for direct notices and the mapping from bugzilla components to
notification channels.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&stateDir, "state-dir", "~/.pulsebot/state",
		"Path to the daemon's state directory",
	)
}

// openRecords opens the state store and loads the typed records.
func openRecords() (*statestore.Records, *statestore.Store, error) {
	store, err := statestore.Open(expandHome(stateDir))
	if err != nil {
		return nil, nil, err
	}

	records, err := statestore.NewRecords(store, nil)
	if err != nil {
		return nil, nil, err
	}

	return records, store, nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return home + path[1:]
}
