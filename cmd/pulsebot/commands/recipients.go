package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// recipientsCmd is the parent command for opt-in management.
var recipientsCmd = &cobra.Command{
	Use:   "recipients",
	Short: "Manage the nicks registered for direct notices",
}

// recipientsListCmd lists the registered recipients.
var recipientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered recipients",
	RunE:  runRecipientsList,
}

// recipientsAddCmd registers one or more nicks.
var recipientsAddCmd = &cobra.Command{
	Use:   "add <nick> [nick...]",
	Short: "Register nicks for direct notices",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecipientsAdd,
}

// recipientsRemoveCmd deregisters one or more nicks.
var recipientsRemoveCmd = &cobra.Command{
	Use:   "remove <nick> [nick...]",
	Short: "Deregister nicks",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecipientsRemove,
}

func init() {
	recipientsCmd.AddCommand(recipientsListCmd)
	recipientsCmd.AddCommand(recipientsAddCmd)
	recipientsCmd.AddCommand(recipientsRemoveCmd)
	rootCmd.AddCommand(recipientsCmd)
}

func runRecipientsList(cmd *cobra.Command, args []string) error {
	records, _, err := openRecords()
	if err != nil {
		return err
	}

	recipients := records.Recipients()
	if len(recipients) == 0 {
		cmd.Println("no recipients registered")
		return nil
	}

	for _, nick := range recipients {
		cmd.Println(nick)
	}

	return nil
}

func runRecipientsAdd(cmd *cobra.Command, args []string) error {
	records, _, err := openRecords()
	if err != nil {
		return err
	}

	for _, nick := range args {
		added, err := records.Register(nick)
		if err != nil {
			return fmt.Errorf("register %q: %w", nick, err)
		}
		if added {
			cmd.Printf("registered %s\n", nick)
		} else {
			cmd.Printf("%s was already registered\n", nick)
		}
	}

	return nil
}

func runRecipientsRemove(cmd *cobra.Command, args []string) error {
	records, _, err := openRecords()
	if err != nil {
		return err
	}

	for _, nick := range args {
		removed, err := records.Deregister(nick)
		if err != nil {
			return fmt.Errorf("deregister %q: %w", nick, err)
		}
		if removed {
			cmd.Printf("deregistered %s\n", nick)
		} else {
			cmd.Printf("%s was not registered\n", nick)
		}
	}

	return nil
}
