package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/ipc"
)

var sendPressEnter bool

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Interact with running agents",
}

var agentSendCmd = &cobra.Command{
	Use:   "send <agent-id> <text>",
	Short: "Send text to an agent's live session",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.AgentSend(args[0], args[1], sendPressEnter); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var agentPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove exited, gone, and failed agent records in the current namespace",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runNamespaced("", func(c *ipc.Client, ns, _ string) ([]event.Event, error) { return c.AgentPrune(ns) })
	},
}

func init() {
	agentSendCmd.Flags().BoolVar(&sendPressEnter, "enter", true, "press Enter after sending the text")
	agentCmd.AddCommand(agentSendCmd, agentPruneCmd)
	rootCmd.AddCommand(agentCmd)
}
