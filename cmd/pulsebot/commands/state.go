package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roasbeef/pulsebot/internal/statestore"
)

// stateCmd is the parent command for raw state-record access.
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Raw access to state store records",
}

// stateGetCmd prints a record as JSON.
var stateGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a state record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateGet,
}

// statePutCmd replaces a record with a JSON document.
var statePutCmd = &cobra.Command{
	Use:   "put <key> <json>",
	Short: "Replace a state record with the given JSON document",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatePut,
}

func init() {
	stateCmd.AddCommand(stateGetCmd)
	stateCmd.AddCommand(statePutCmd)
	rootCmd.AddCommand(stateCmd)
}

func runStateGet(cmd *cobra.Command, args []string) error {
	_, store, err := openRecords()
	if err != nil {
		return err
	}

	value, err := statestore.Get[any](store, args[0], nil)
	if err != nil {
		return err
	}
	if value == nil {
		cmd.Println("null")
		return nil
	}

	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))

	return nil
}

func runStatePut(cmd *cobra.Command, args []string) error {
	_, store, err := openRecords()
	if err != nil {
		return err
	}

	var value any
	if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
		return fmt.Errorf("parse value: %w", err)
	}

	if err := store.Put(args[0], value); err != nil {
		return err
	}

	cmd.Printf("wrote %s\n", args[0])

	return nil
}
