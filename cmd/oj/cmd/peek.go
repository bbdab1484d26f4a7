package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var peekLines int

var peekCmd = &cobra.Command{
	Use:   "peek <session-id>",
	Short: "Capture the tail of a live multiplexer session without attaching to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		lines, err := client.PeekSession(args[0], peekLines)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l)
		}
		return nil
	},
}

func init() {
	peekCmd.Flags().IntVar(&peekLines, "lines", 0, "limit output to the last N lines (0 means no limit)")
	rootCmd.AddCommand(peekCmd)
}
