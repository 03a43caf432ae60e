package commands

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roasbeef/pulsebot/internal/statestore"
)

// componentsCmd is the parent command for the component-to-channel map.
var componentsCmd = &cobra.Command{
	Use:   "components",
	Short: "Manage the component-to-channel mapping",
	Long: `Manage the mapping from bugzilla "product :: component" keys to the
channels that receive copies of notifications for that component. The
running daemon re-reads this record on its reload-component-map command.`,
}

// componentsListCmd prints the mapping.
var componentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List component-to-channel mappings",
	RunE:  runComponentsList,
}

// componentsSetCmd maps a component to a set of channels.
var componentsSetCmd = &cobra.Command{
	Use:   "set <component> <channel> [channel...]",
	Short: "Map a component to notification channels",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runComponentsSet,
}

// componentsUnsetCmd removes a component's mapping.
var componentsUnsetCmd = &cobra.Command{
	Use:   "unset <component>",
	Short: "Remove a component's mapping",
	Args:  cobra.ExactArgs(1),
	RunE:  runComponentsUnset,
}

func init() {
	componentsCmd.AddCommand(componentsListCmd)
	componentsCmd.AddCommand(componentsSetCmd)
	componentsCmd.AddCommand(componentsUnsetCmd)
	rootCmd.AddCommand(componentsCmd)
}

func runComponentsList(cmd *cobra.Command, args []string) error {
	records, _, err := openRecords()
	if err != nil {
		return err
	}

	mapping := records.ComponentMap()
	if len(mapping) == 0 {
		cmd.Println("no components mapped")
		return nil
	}

	components := make([]string, 0, len(mapping))
	for component := range mapping {
		components = append(components, component)
	}
	sort.Strings(components)

	for _, component := range components {
		cmd.Printf("%s -> %s\n",
			component, strings.Join(mapping[component], ", "))
	}

	return nil
}

func runComponentsSet(cmd *cobra.Command, args []string) error {
	records, store, err := openRecords()
	if err != nil {
		return err
	}

	mapping := records.ComponentMap()
	mapping[args[0]] = args[1:]

	if err := store.Put(statestore.KeyComponentChannels, mapping); err != nil {
		return err
	}

	cmd.Printf("%s -> %s\n", args[0], strings.Join(args[1:], ", "))

	return nil
}

func runComponentsUnset(cmd *cobra.Command, args []string) error {
	records, store, err := openRecords()
	if err != nil {
		return err
	}

	mapping := records.ComponentMap()
	if _, ok := mapping[args[0]]; !ok {
		cmd.Printf("%s was not mapped\n", args[0])
		return nil
	}
	delete(mapping, args[0])

	if err := store.Put(statestore.KeyComponentChannels, mapping); err != nil {
		return err
	}

	cmd.Printf("unmapped %s\n", args[0])

	return nil
}
