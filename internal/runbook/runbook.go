// Package runbook parses the TOML files under a project's
// `.oj/runbooks/` directory into the command/job/agent/queue/worker/cron
// declarations the runtime dispatches against. Only a content hash of each
// file is ever persisted to daemon state; the parsed Runbook itself lives
// only in the in-process Cache, keyed by that hash.
package runbook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// WorkspaceDef declares how a job's working directory is provisioned.
type WorkspaceDef struct {
	Mode   string `toml:"mode"` // "folder" or "git_worktree"
	Branch string `toml:"branch,omitempty"`
	Ref    string `toml:"ref,omitempty"`
}

// StepDef is one step of a job. Exactly one of Run (shell), Agent, or Job
// identifies what the step executes; a nested Job reference is accepted
// at parse time but rejected when the runtime renders the step (spec:
// "the last of which is rejected at step-level").
type StepDef struct {
	Name    string `toml:"name"`
	Cwd     string `toml:"cwd,omitempty"`
	Run     string `toml:"run,omitempty"`
	Agent   string `toml:"agent,omitempty"`
	Job     string `toml:"job,omitempty"`
	OnDone  string `toml:"on_done,omitempty"`
	OnFail  string `toml:"on_fail,omitempty"`
}

// JobDef declares a job kind: its steps, workspace intent, and the local
// variables computed before the first step runs.
type JobDef struct {
	Name      string            `toml:"name"`
	Cwd       string            `toml:"cwd,omitempty"`
	Workspace *WorkspaceDef     `toml:"workspace,omitempty"`
	Locals    map[string]string `toml:"locals,omitempty"`
	Vars      map[string]string `toml:"vars,omitempty"`
	OnStart   string            `toml:"on_start,omitempty"`
	Steps     []StepDef         `toml:"step"`
}

// AgentDef declares a standalone agent command and its supervision
// actions.
type AgentDef struct {
	Name        string `toml:"name"`
	Run         string `toml:"run"`
	Prompt      string `toml:"prompt,omitempty"`
	PromptFile  string `toml:"prompt_file,omitempty"`
	Liveness    string `toml:"liveness,omitempty"`
	IdleAction  string `toml:"idle_action,omitempty"`
	ExitAction  string `toml:"exit_action,omitempty"`
	ErrorAction string `toml:"error_action,omitempty"`
}

// QueueDef declares an external or persisted work queue.
type QueueDef struct {
	Name          string `toml:"name"`
	Type          string `toml:"type"` // "external" or "persisted"
	Push          string `toml:"push,omitempty"`
	Take          string `toml:"take,omitempty"`
	List          string `toml:"list,omitempty"`
	RetryAttempts int    `toml:"retry_attempts,omitempty"`
	RetryCooldown string `toml:"retry_cooldown,omitempty"`
}

// WorkerDef declares a queue-draining worker pool.
type WorkerDef struct {
	Name         string `toml:"name"`
	Queue        string `toml:"queue"`
	JobKind      string `toml:"job_kind"`
	Concurrency  int    `toml:"concurrency,omitempty"`
	PollInterval string `toml:"poll_interval,omitempty"`
}

// CronDef declares an interval-scheduled job or agent run.
type CronDef struct {
	Name          string `toml:"name"`
	Interval      string `toml:"interval"`
	RunTargetKind string `toml:"run_target_kind"` // "pipeline" or "agent"
	RunTargetName string `toml:"run_target_name"`
	Concurrency   int    `toml:"concurrency,omitempty"`
}

// CommandDef is a bare shell command usable as a step's run directive by
// name, so commonly repeated commands don't need to be inlined in full
// wherever they appear.
type CommandDef struct {
	Run string `toml:"run"`
}

// Runbook is one parsed `.toml` file's worth of declarations.
type Runbook struct {
	Command map[string]CommandDef `toml:"command"`
	Job     map[string]JobDef      `toml:"job"`
	Agent   map[string]AgentDef    `toml:"agent"`
	Queue   map[string]QueueDef    `toml:"queue"`
	Worker  map[string]WorkerDef   `toml:"worker"`
	Cron    map[string]CronDef     `toml:"cron"`
}

// Hash returns the canonical content hash of raw runbook bytes. This is
// the only representation of a runbook's identity ever written into
// daemon state (Job.RunbookHash, WorkerRecord.RunbookHash, ...); the
// parsed form is cache-only.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Parse decodes raw TOML bytes into a Runbook and validates cross-references
// between its sections.
func Parse(data []byte) (*Runbook, error) {
	var rb Runbook
	if _, err := toml.Decode(string(data), &rb); err != nil {
		return nil, fmt.Errorf("parsing runbook: %w", err)
	}
	if err := rb.Validate(); err != nil {
		return nil, err
	}
	return &rb, nil
}

// ParseFile reads and parses a runbook file from disk.
func ParseFile(path string) (*Runbook, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading runbook %s: %w", path, err)
	}
	rb, err := Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return rb, Hash(data), nil
}

// Validate checks that every step has exactly one run directive
// (run/agent/job) and that an agent step names a declared agent, that
// workspace modes and queue types are known, and that worker/cron targets
// resolve. A step's job reference and shell command are not checked.
func (rb *Runbook) Validate() error {
	for jobName, job := range rb.Job {
		for i, step := range job.Steps {
			kinds := 0
			if step.Run != "" {
				kinds++
			}
			if step.Agent != "" {
				kinds++
				if _, ok := rb.Agent[step.Agent]; !ok {
					return fmt.Errorf("job %q step[%d]: unknown agent %q", jobName, i, step.Agent)
				}
			}
			if step.Job != "" {
				kinds++
			}
			if kinds == 0 {
				return fmt.Errorf("job %q step[%d]: no run directive (run/agent/job)", jobName, i)
			}
			if kinds > 1 {
				return fmt.Errorf("job %q step[%d]: more than one run directive", jobName, i)
			}
		}
		if job.Workspace != nil {
			switch job.Workspace.Mode {
			case "", "folder", "git_worktree":
			default:
				return fmt.Errorf("job %q: unknown workspace mode %q", jobName, job.Workspace.Mode)
			}
		}
	}

	for workerName, w := range rb.Worker {
		if _, ok := rb.Queue[w.Queue]; !ok {
			return fmt.Errorf("worker %q: unknown queue %q", workerName, w.Queue)
		}
		if _, ok := rb.Job[w.JobKind]; !ok {
			return fmt.Errorf("worker %q: unknown job kind %q", workerName, w.JobKind)
		}
	}

	for cronName, c := range rb.Cron {
		switch c.RunTargetKind {
		case "pipeline":
			if _, ok := rb.Job[c.RunTargetName]; !ok {
				return fmt.Errorf("cron %q: unknown job %q", cronName, c.RunTargetName)
			}
		case "agent":
			if _, ok := rb.Agent[c.RunTargetName]; !ok {
				return fmt.Errorf("cron %q: unknown agent %q", cronName, c.RunTargetName)
			}
		default:
			return fmt.Errorf("cron %q: run_target_kind must be \"pipeline\" or \"agent\", got %q", cronName, c.RunTargetKind)
		}
	}

	for queueName, q := range rb.Queue {
		switch q.Type {
		case "external", "persisted":
		default:
			return fmt.Errorf("queue %q: type must be \"external\" or \"persisted\", got %q", queueName, q.Type)
		}
	}

	return nil
}

// Discover returns every `.toml` runbook path under
// <project_root>/.oj/runbooks/, sorted for deterministic load order.
func Discover(projectRoot string) ([]string, error) {
	dir := filepath.Join(projectRoot, ".oj", "runbooks")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing runbooks in %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".toml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}
