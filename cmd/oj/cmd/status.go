package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oddjobs/oj/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status [job|worker|cron|agent]",
	Short: "Query materialized daemon state",
	Long: `Query prints a JSON view of one record, or the whole materialized
state with no arguments.

  oj status                          # full state
  oj status job <job-id>
  oj status worker <name>
  oj status cron <name>
  oj status agent <agent-id>`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		ns, err := resolvedNamespace()
		if err != nil {
			return err
		}
		q := ipc.QueryRequest{Kind: ipc.QueryState, Namespace: ns}
		if len(args) >= 1 {
			if len(args) != 2 {
				return fmt.Errorf("status %s requires a name or id argument", args[0])
			}
			switch args[0] {
			case "job":
				q = ipc.QueryRequest{Kind: ipc.QueryJob, JobId: args[1]}
			case "worker":
				q = ipc.QueryRequest{Kind: ipc.QueryWorker, Namespace: ns, Name: args[1]}
			case "cron":
				q = ipc.QueryRequest{Kind: ipc.QueryCron, Namespace: ns, Name: args[1]}
			case "agent":
				q = ipc.QueryRequest{Kind: ipc.QueryAgent, JobId: args[1]}
			default:
				return fmt.Errorf("unknown status kind %q", args[0])
			}
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		result, err := client.Query(q)
		if err != nil {
			return err
		}
		if !result.Found {
			fmt.Println("not found")
			return nil
		}
		return printIndentedJSON(result.Data)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printIndentedJSON(raw json.RawMessage) error {
	var buf []byte
	var err error
	buf, err = json.MarshalIndent(json.RawMessage(raw), "", "  ")
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(buf, '\n'))
	return err
}
