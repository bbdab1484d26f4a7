package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ipc"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage declared queues",
}

var queuePushCmd = &cobra.Command{
	Use:  "push <name> <json-data>",
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return runNamespaced(args[0], func(c *ipc.Client, ns, name string) ([]event.Event, error) {
			return c.QueuePush(ns, name, []byte(args[1]))
		})
	},
}

var queueDropCmd = &cobra.Command{
	Use:  "drop <name> <item-id>",
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return runNamespaced(args[0], func(c *ipc.Client, ns, name string) ([]event.Event, error) {
			return c.QueueDrop(ns, name, args[1])
		})
	},
}

var queueRetryCmd = &cobra.Command{
	Use:  "retry <name> <item-id>",
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return runNamespaced(args[0], func(c *ipc.Client, ns, name string) ([]event.Event, error) {
			return c.QueueRetry(ns, name, args[1])
		})
	},
}

var queueDrainCmd = &cobra.Command{
	Use:  "drain <name>",
	Args: cobra.ExactArgs(1),
	RunE: withNamespacedArg(func(c *ipc.Client, ns, name string) ([]event.Event, error) { return c.QueueDrain(ns, name) }),
}

var queuePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove completed, dead, and dropped items in the current namespace",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runNamespaced("", func(c *ipc.Client, ns, _ string) ([]event.Event, error) { return c.QueuePrune(ns) })
	},
}

func init() {
	queueCmd.AddCommand(queuePushCmd, queueDropCmd, queueRetryCmd, queueDrainCmd, queuePruneCmd)
	rootCmd.AddCommand(queueCmd)
}
