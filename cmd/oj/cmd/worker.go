package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ipc"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage declared workers",
}

var workerStartCmd = &cobra.Command{
	Use:  "start <name>",
	Args: cobra.ExactArgs(1),
	RunE: withNamespacedArg(func(c *ipc.Client, ns, name string) ([]event.Event, error) { return c.WorkerStart(ns, name) }),
}

var workerStopCmd = &cobra.Command{
	Use:  "stop <name>",
	Args: cobra.ExactArgs(1),
	RunE: withNamespacedArg(func(c *ipc.Client, ns, name string) ([]event.Event, error) { return c.WorkerStop(ns, name) }),
}

var workerRestartCmd = &cobra.Command{
	Use:  "restart <name>",
	Args: cobra.ExactArgs(1),
	RunE: withNamespacedArg(func(c *ipc.Client, ns, name string) ([]event.Event, error) { return c.WorkerRestart(ns, name) }),
}

var workerResizeCmd = &cobra.Command{
	Use:  "resize <name> <concurrency>",
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		return runNamespaced(args[0], func(c *ipc.Client, ns, name string) ([]event.Event, error) {
			return c.WorkerResize(ns, name, n)
		})
	},
}

var workerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove stopped worker records in the current namespace",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runNamespaced("", func(c *ipc.Client, ns, _ string) ([]event.Event, error) { return c.WorkerPrune(ns) })
	},
}

func init() {
	workerCmd.AddCommand(workerStartCmd, workerStopCmd, workerRestartCmd, workerResizeCmd, workerPruneCmd)
	rootCmd.AddCommand(workerCmd)
}
