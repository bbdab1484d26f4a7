package cmd

import (
	"github.com/spf13/cobra"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ipc"
)

var pipelinePruneCmd = &cobra.Command{
	Use:   "pipeline-prune",
	Short: "Remove terminal job records in the current namespace",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runNamespaced("", func(c *ipc.Client, ns, _ string) ([]event.Event, error) { return c.PipelinePrune(ns) })
	},
}

var workspacePruneCmd = &cobra.Command{
	Use:   "workspace-prune",
	Short: "Remove ephemeral workspaces whose owning job or agent run has finished",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runNamespaced("", func(c *ipc.Client, ns, _ string) ([]event.Event, error) { return c.WorkspacePrune(ns) })
	},
}

func init() {
	rootCmd.AddCommand(pipelinePruneCmd, workspacePruneCmd)
}
