// Package types holds the data model for the oddjobs daemon: jobs, steps,
// agents, workspaces, queues, workers, crons and decisions as described by
// the materialized state the write-ahead log projects.
package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// id is the common representation behind every opaque identifier: a short
// component prefix followed by a UUID, e.g. "job-3f9c2e4a-...".
type id string

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// JobId identifies one instance of a job kind.
type JobId string

// NewJobId generates a fresh job identifier.
func NewJobId() JobId { return JobId(newID("job")) }

func (i JobId) String() string { return string(i) }

// ParseJobId validates and wraps a raw job id string.
func ParseJobId(s string) (JobId, error) {
	if s == "" {
		return "", fmt.Errorf("empty job id")
	}
	return JobId(s), nil
}

// PipelineId is a legacy alias for JobId retained for events emitted
// before jobs were renamed from "pipelines".
type PipelineId = JobId

// AgentId identifies a single spawned agent process (the registry row).
type AgentId string

// NewAgentId generates a fresh agent identifier.
func NewAgentId() AgentId { return AgentId(newID("agent")) }

func (i AgentId) String() string { return string(i) }

// ParseAgentId validates and wraps a raw agent id string.
func ParseAgentId(s string) (AgentId, error) {
	if s == "" {
		return "", fmt.Errorf("empty agent id")
	}
	return AgentId(s), nil
}

// AgentRunId identifies a standalone agent invocation, not owned by a job.
type AgentRunId string

// NewAgentRunId generates a fresh agent-run identifier.
func NewAgentRunId() AgentRunId { return AgentRunId(newID("arun")) }

func (i AgentRunId) String() string { return string(i) }

// ParseAgentRunId validates and wraps a raw agent-run id string.
func ParseAgentRunId(s string) (AgentRunId, error) {
	if s == "" {
		return "", fmt.Errorf("empty agent run id")
	}
	return AgentRunId(s), nil
}

// SessionId identifies one multiplexer session hosting one agent.
type SessionId string

// NewSessionId generates a fresh session identifier.
func NewSessionId() SessionId { return SessionId(newID("sess")) }

func (i SessionId) String() string { return string(i) }

// WorkspaceId identifies a per-job directory (folder or git worktree).
type WorkspaceId string

// NewWorkspaceId builds a workspace id from a name and nonce, matching the
// on-disk naming convention "ws-<name>-<nonce>".
func NewWorkspaceId(name, nonce string) WorkspaceId {
	return WorkspaceId(fmt.Sprintf("ws-%s-%s", name, nonce))
}

func (i WorkspaceId) String() string { return string(i) }

// TimerId identifies a scheduled timer using the grammar
// "<kind>:<owner>[:<extra>]". Owners belonging to an agent run are
// prefixed "ar:" to disambiguate from job-owned timers that share the
// same bare id.
type TimerId string

// TimerKind enumerates the recognized timer kinds.
type TimerKind string

const (
	TimerLiveness     TimerKind = "liveness"
	TimerExitDeferred TimerKind = "exit-deferred"
	TimerIdleGrace    TimerKind = "idle-grace"
	TimerCooldown     TimerKind = "cooldown"
	TimerCron         TimerKind = "cron"
	TimerQueuePoll    TimerKind = "queue-poll"
	TimerQueueRetry   TimerKind = "queue-retry"
)

// OwnerRef is an owner identifier interpolated into a TimerId; agent-run
// owners get the "ar:" disambiguation prefix.
type OwnerRef string

// JobOwner formats a job id as a timer owner.
func JobOwner(id JobId) OwnerRef { return OwnerRef(id.String()) }

// AgentRunOwner formats an agent-run id as a timer owner.
func AgentRunOwner(id AgentRunId) OwnerRef { return OwnerRef("ar:" + id.String()) }

// NewTimerId builds a TimerId from its kind, owner and optional extra
// components.
func NewTimerId(kind TimerKind, owner OwnerRef, extra ...string) TimerId {
	parts := append([]string{string(kind), string(owner)}, extra...)
	return TimerId(strings.Join(parts, ":"))
}

// Split decomposes a TimerId back into kind, owner and extras.
func (t TimerId) Split() (kind TimerKind, owner OwnerRef, extra []string) {
	parts := strings.Split(string(t), ":")
	if len(parts) == 0 {
		return "", "", nil
	}
	kind = TimerKind(parts[0])
	if len(parts) > 1 {
		owner = OwnerRef(parts[1])
	}
	if len(parts) > 2 {
		extra = parts[2:]
	}
	return kind, owner, extra
}

// DecisionId identifies a pending human-review escalation record.
type DecisionId string

// NewDecisionId generates a fresh decision identifier.
func NewDecisionId() DecisionId { return DecisionId(newID("dec")) }

// ScopedName returns "{ns}/{bare}" when ns is non-empty, else bare.
func ScopedName(ns, bare string) string {
	if ns == "" {
		return bare
	}
	return ns + "/" + bare
}

// SplitScopedName splits a scoped name at the last "/".
func SplitScopedName(scoped string) (ns, bare string) {
	idx := strings.LastIndex(scoped, "/")
	if idx < 0 {
		return "", scoped
	}
	return scoped[:idx], scoped[idx+1:]
}
