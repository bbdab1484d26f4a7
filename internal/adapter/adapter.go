// Package adapter defines the four trait-object-style boundaries the
// executor calls through: Session (multiplexer), Agent (observation of a
// spawned coding agent), Notifier (desktop notifications), and Clock (wall
// time). Handlers never call these directly; only internal/executor does,
// so tests can substitute in-memory fakes without touching runtime logic.
package adapter

import (
	"context"
	"time"
)

// Session abstracts the terminal multiplexer: creating, addressing, and
// tearing down one pane per agent.
type Session interface {
	// Start creates a new session named sessionName running cmd in cwd
	// with env, sized per the tmux SessionOptions the teacher's wrapper
	// exposes (width/height left at adapter defaults).
	Start(ctx context.Context, sessionName, cwd, cmd string, env map[string]string, statusLeft, statusRight string) error
	// Exists reports whether sessionName is still alive.
	Exists(ctx context.Context, sessionName string) bool
	// Send delivers literal text into the session; if pressEnter, Enter is
	// sent as a separate keystroke afterward.
	Send(ctx context.Context, sessionName, text string, pressEnter bool) error
	// Capture returns the current visible pane content.
	Capture(ctx context.Context, sessionName string) (string, error)
	// Kill terminates the session. Killing an already-gone session is a
	// no-op, matching the spec's at-least-once idempotency guard.
	Kill(ctx context.Context, sessionName string) error
}

// AgentState is the liveness/activity classification Agent.Observe derives
// from a session log.
type AgentState string

const (
	StateWorking         AgentState = "working"
	StateWaitingForInput AgentState = "waiting_for_input"
	StateFailed          AgentState = "failed"
	StateExited          AgentState = "exited"
	StateGone            AgentState = "gone"
)

// Observation is one derived state transition plus, when relevant, a
// structured log summary and/or classified error.
type Observation struct {
	State     AgentState
	LogSize   int64
	Summary   string
	ErrorKind string
	ErrorText string
}

// Agent abstracts observation of one spawned coding-agent process via its
// JSONL session log; it never drives the agent, only watches it.
type Agent interface {
	// Watch begins tailing the session log for claudeSessionID (resolved
	// from its per-project log directory) and delivers Observations derived
	// from it on the returned channel until ctx is cancelled.
	Watch(ctx context.Context, claudeSessionID string) (<-chan Observation, error)
	// LogSize returns the current byte length of the session log, or 0 if
	// it does not exist yet (used by the idle-grace dual check).
	LogSize(claudeSessionID string) int64
	// LogExists reports whether <id>.jsonl exists on disk. The runtime's
	// resume action does not call it.
	LogExists(claudeSessionID string) bool
}

// Notifier abstracts desktop notifications.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Clock abstracts wall time so timer contracts (liveness 30s, exit-deferred
// 5s, idle-grace, cooldown) are advanceable under test without real sleep.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}
