package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var shutdownKill bool

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask the daemon to stop",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Shutdown(shutdownKill); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	shutdownCmd.Flags().BoolVar(&shutdownKill, "kill", false, "also kill live multiplexer sessions")
	rootCmd.AddCommand(shutdownCmd)
}
