package chat

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roasbeef/pulsebot/internal/statestore"
)

// Command verbs accepted over direct message.
const (
	cmdRegister   = "register"
	cmdDeregister = "deregister"
	cmdReload     = "reload-component-map"
	cmdHelp       = "help"
)

// Commands handles the admin verbs surfaced through chat. Opt-in and
// opt-out are self-service; the component-map reload is restricted to the
// configured admins.
type Commands struct {
	records *statestore.Records
	admins  map[string]struct{}
	log     *slog.Logger
}

// NewCommands creates the command handler. admins lists the nicks allowed
// to run restricted verbs; an empty list restricts them to nobody.
func NewCommands(records *statestore.Records, admins []string,
	log *slog.Logger) *Commands {

	if log == nil {
		log = slog.Default()
	}

	adminSet := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		adminSet[a] = struct{}{}
	}

	return &Commands{
		records: records,
		admins:  adminSet,
		log:     log.With("component", "commands"),
	}
}

// Handle processes one direct-message line from the given nick and returns
// the acknowledgment to send back.
func (c *Commands) Handle(from, line string) string {
	verb := strings.ToLower(strings.TrimSpace(line))

	switch verb {
	case cmdRegister:
		added, err := c.records.Register(from)
		if err != nil {
			c.log.Error("register failed", "nick", from, "err", err)
			return "something went wrong, try again later"
		}
		if !added {
			return "you are already registered"
		}
		return "you will now be notified of reviews and review requests"

	case cmdDeregister:
		removed, err := c.records.Deregister(from)
		if err != nil {
			c.log.Error("deregister failed", "nick", from, "err", err)
			return "something went wrong, try again later"
		}
		if !removed {
			return "you were not registered"
		}
		return "you will no longer be notified"

	case cmdReload:
		if _, ok := c.admins[from]; !ok {
			return "sorry, that command is admin-only"
		}
		if err := c.records.ReloadComponentMap(); err != nil {
			c.log.Error("component map reload failed", "err", err)
			return "reload failed, see the logs"
		}
		return fmt.Sprintf(
			"component map reloaded (%d components)",
			len(c.records.ComponentMap()),
		)

	case cmdHelp, "":
		return c.usage()

	default:
		return fmt.Sprintf("unknown command %q; %s", verb, c.usage())
	}
}

// usage is the one-line help text.
func (c *Commands) usage() string {
	return fmt.Sprintf("commands: %s, %s, %s",
		cmdRegister, cmdDeregister, cmdReload)
}
