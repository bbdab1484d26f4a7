package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ipc"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage declared crons",
}

var cronStartCmd = &cobra.Command{
	Use:  "start <name>",
	Args: cobra.ExactArgs(1),
	RunE: withNamespacedArg(func(c *ipc.Client, ns, name string) ([]event.Event, error) { return c.CronStart(ns, name) }),
}

var cronStopCmd = &cobra.Command{
	Use:  "stop <name>",
	Args: cobra.ExactArgs(1),
	RunE: withNamespacedArg(func(c *ipc.Client, ns, name string) ([]event.Event, error) { return c.CronStop(ns, name) }),
}

var cronOnceCmd = &cobra.Command{
	Use:   "once <name>",
	Short: "Fire a cron's target exactly once, ignoring its timer and concurrency cap",
	Args:  cobra.ExactArgs(1),
	RunE:  withNamespacedArg(func(c *ipc.Client, ns, name string) ([]event.Event, error) { return c.CronOnce(ns, name) }),
}

var cronRestartCmd = &cobra.Command{
	Use:  "restart <name>",
	Args: cobra.ExactArgs(1),
	RunE: withNamespacedArg(func(c *ipc.Client, ns, name string) ([]event.Event, error) { return c.CronRestart(ns, name) }),
}

func init() {
	cronCmd.AddCommand(cronStartCmd, cronStopCmd, cronOnceCmd, cronRestartCmd)
	rootCmd.AddCommand(cronCmd)
}
