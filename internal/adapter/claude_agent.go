package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// errorPatterns classifies a Claude error message into the canonical kinds
// the agent-supervision on_error matcher dispatches on. First match wins.
var errorPatterns = []struct {
	kind    string
	needles []string
}{
	{"unauthorized", []string{"unauthorized", "invalid api key", "authentication"}},
	{"out_of_credit", []string{"out of credit", "insufficient credit", "billing"}},
	{"no_internet", []string{"no internet", "network unreachable", "dns"}},
	{"rate_limit", []string{"rate limit", "429", "too many requests"}},
}

func classifyError(msg string) string {
	lower := strings.ToLower(msg)
	for _, p := range errorPatterns {
		for _, n := range p.needles {
			if strings.Contains(lower, n) {
				return p.kind
			}
		}
	}
	return "unknown"
}

// claudeRecord is the subset of a Claude Code JSONL session-log line this
// watcher cares about.
type claudeRecord struct {
	Type       string `json:"type"`
	StopReason string `json:"stop_reason"`
	Error      string `json:"error"`
	Message    struct {
		Content []struct {
			Type string `json:"type"` // "tool_use", "thinking", "text", ...
		} `json:"content"`
	} `json:"message"`
}

func (r claudeRecord) hasActiveBlock() bool {
	for _, c := range r.Message.Content {
		if c.Type == "tool_use" || c.Type == "thinking" {
			return true
		}
	}
	return false
}

// ClaudeAgent watches Claude Code's per-project JSONL session logs and
// derives AgentState transitions from the last complete line of each file.
type ClaudeAgent struct {
	// LogDirFor maps a Claude session id to the directory containing
	// "<id>.jsonl" (Claude keys this by a canonical-path hash of the
	// project directory; callers supply the resolved path).
	LogDirFor func(claudeSessionID string) string
	PollEvery time.Duration
}

// NewClaudeAgent builds an adapter that resolves log directories through
// logDirFor. Watch rescans the log every pollEvery (default 5s) in addition
// to any fsnotify events, so a log is still observed when no watch could be
// established.
func NewClaudeAgent(logDirFor func(string) string, pollEvery time.Duration) *ClaudeAgent {
	if pollEvery <= 0 {
		pollEvery = 5 * time.Second
	}
	return &ClaudeAgent{LogDirFor: logDirFor, PollEvery: pollEvery}
}

func (c *ClaudeAgent) path(claudeSessionID string) string {
	return filepath.Join(c.LogDirFor(claudeSessionID), claudeSessionID+".jsonl")
}

func (c *ClaudeAgent) LogExists(claudeSessionID string) bool {
	_, err := os.Stat(c.path(claudeSessionID))
	return err == nil
}

func (c *ClaudeAgent) LogSize(claudeSessionID string) int64 {
	info, err := os.Stat(c.path(claudeSessionID))
	if err != nil {
		return 0
	}
	return info.Size()
}

// Watch tails the session log. Each scan that consumes new complete JSONL
// lines emits one Observation derived from the last of them, whether or not
// the state differs from the previous one. A trailing partial line is
// never consumed; the next scan resumes from the same offset. If the log
// file shrinks (truncation), the offset resets to 0.
func (c *ClaudeAgent) Watch(ctx context.Context, claudeSessionID string) (<-chan Observation, error) {
	out := make(chan Observation, 16)
	path := c.path(claudeSessionID)

	go func() {
		defer close(out)
		var offset int64

		watcher, werr := fsnotify.NewWatcher()
		usingWatcher := werr == nil
		if usingWatcher {
			defer watcher.Close()
			dir := filepath.Dir(path)
			if err := watcher.Add(dir); err != nil {
				usingWatcher = false
			}
		}

		ticker := time.NewTicker(c.PollEvery)
		defer ticker.Stop()

		scan := func() {
			info, err := os.Stat(path)
			if err != nil {
				return
			}
			if info.Size() < offset {
				offset = 0 // truncated: reset parser offset
			}
			if info.Size() == offset {
				return
			}
			f, err := os.Open(path)
			if err != nil {
				return
			}
			defer f.Close()
			if _, err := f.Seek(offset, 0); err != nil {
				return
			}

			r := bufio.NewReader(f)
			var lastRecord *claudeRecord
			var consumed int64
			for {
				line, rerr := r.ReadString('\n')
				if rerr != nil && line == "" {
					break
				}
				if rerr != nil && !strings.HasSuffix(line, "\n") {
					break // incomplete trailing line: do not consume
				}
				consumed += int64(len(line))
				trimmed := strings.TrimSpace(line)
				if trimmed == "" {
					continue
				}
				var rec claudeRecord
				if json.Unmarshal([]byte(trimmed), &rec) == nil {
					cp := rec
					lastRecord = &cp
				}
			}
			offset += consumed

			if lastRecord == nil {
				return
			}
			obs := observationFrom(*lastRecord)
			obs.LogSize = offset
			select {
			case out <- obs:
			case <-ctx.Done():
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				scan()
			case ev, ok := <-watchEvents(watcher, usingWatcher):
				if !ok {
					continue
				}
				if filepath.Base(ev.Name) == filepath.Base(path) {
					scan()
				}
			}
		}
	}()

	return out, nil
}

func watchEvents(w *fsnotify.Watcher, active bool) chan fsnotify.Event {
	if !active || w == nil {
		return nil
	}
	return w.Events
}

func observationFrom(rec claudeRecord) Observation {
	if rec.Error != "" {
		return Observation{State: StateFailed, ErrorKind: classifyError(rec.Error), ErrorText: rec.Error}
	}
	switch rec.Type {
	case "user":
		return Observation{State: StateWorking}
	case "assistant":
		if rec.hasActiveBlock() && rec.StopReason == "" {
			return Observation{State: StateWorking}
		}
		if rec.StopReason == "end_turn" && !rec.hasActiveBlock() {
			return Observation{State: StateWaitingForInput}
		}
		return Observation{State: StateWorking}
	default:
		return Observation{State: StateWorking}
	}
}
