package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ipc"
)

// namespacedAction is the shape shared by every "<verb> <name>" subcommand
// that targets one declared cron/worker/queue under the current namespace.
type namespacedAction func(client *ipc.Client, namespace, name string) ([]event.Event, error)

// runNamespaced resolves the namespace, builds a client, runs action, and
// reports either the events it produced or its error.
func runNamespaced(name string, action namespacedAction) error {
	ns, err := resolvedNamespace()
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	events, err := action(client, ns, name)
	if err != nil {
		return err
	}
	printEvents(events)
	return nil
}

// withNamespacedArg adapts a namespacedAction into a cobra RunE taking the
// target name as its sole positional argument.
func withNamespacedArg(action namespacedAction) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		return runNamespaced(args[0], action)
	}
}
