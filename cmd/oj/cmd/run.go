package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/runtime"
	"github.com/oddjobs/oj/internal/types"
)

var runVars []string

var runCmd = &cobra.Command{
	Use:   "run <job-kind>",
	Short: "Start a pipeline job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		ns, err := resolvedNamespace()
		if err != nil {
			return err
		}
		rb, hash, err := findRunbook(ns, func(rb *runbook.Runbook) bool {
			_, ok := rb.Job[args[0]]
			return ok
		}, fmt.Sprintf("job %q", args[0]))
		if err != nil {
			return err
		}

		vars, err := parseVars(runVars)
		if err != nil {
			return err
		}

		evt, err := runtime.BuildJobCreated(rb, runtime.NewJobParams{
			Kind: args[0], Namespace: ns, Cwd: ns, RunbookHash: hash, Vars: vars,
		}, time.Now().UnixMilli())
		if err != nil {
			return err
		}

		client, err := newClient()
		if err != nil {
			return err
		}
		resp, err := client.SendEvent(evt)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return resp.AsError()
		}
		if resp.Ok != nil && len(resp.Ok.Events) > 0 {
			if je := resp.Ok.Events[0].JobCreated; je != nil {
				fmt.Println(je.JobId)
				return nil
			}
		}
		fmt.Println("ok")
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		evt := event.Event{Type: event.TypeJobCancelRequested, JobCancelRequested: &event.JobCancelRequested{
			JobId: types.JobId(args[0]),
		}}
		resp, err := client.SendEvent(evt)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return resp.AsError()
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "variable values for the job (format: name=value)")
	rootCmd.AddCommand(runCmd, cancelCmd)
}

func parseVars(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --var %q: expected name=value", kv)
		}
		vars[k] = v
	}
	return vars, nil
}

// findRunbook scans every runbook discovered under namespace for one that
// satisfies has, loading and hashing each file along the way. Mirrors the
// daemon's own resolution so a client-built event always carries a
// runbook_hash the daemon itself would also derive.
func findRunbook(namespace string, has func(*runbook.Runbook) bool, what string) (*runbook.Runbook, string, error) {
	paths, err := runbook.Discover(namespace)
	if err != nil {
		return nil, "", fmt.Errorf("discovering runbooks in %s: %w", namespace, err)
	}
	for _, path := range paths {
		rb, hash, err := runbook.ParseFile(path)
		if err != nil {
			continue
		}
		if has(rb) {
			return rb, hash, nil
		}
	}
	return nil, "", fmt.Errorf("%s not declared in any runbook under %s", what, namespace)
}
