// Package metrics runs the background usage-metrics collector: every
// interval it scans each tracked agent's Claude Code JSONL session log
// incrementally, sums token usage, and appends one record per session per
// cycle to a rotating usage.jsonl file. It also periodically flags "ghost"
// multiplexer sessions — sessions named with the project prefix that the
// agent registry no longer knows about.
package metrics

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oddjobs/oj/internal/adapter"
	"github.com/oddjobs/oj/internal/agent"
	"github.com/oddjobs/oj/internal/config"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/types"
)

// Record is one line appended to usage.jsonl.
type Record struct {
	Timestamp                string `json:"timestamp"`
	AgentId                  string `json:"agent_id"`
	SessionId                string `json:"session_id"`
	AgentKind                string `json:"agent_kind,omitempty"`
	JobId                    string `json:"job_id,omitempty"`
	JobKind                  string `json:"job_kind,omitempty"`
	JobStep                  string `json:"job_step,omitempty"`
	Namespace                string `json:"namespace,omitempty"`
	Status                   string `json:"status"`
	InputTokens              uint64 `json:"input_tokens"`
	OutputTokens             uint64 `json:"output_tokens"`
	CacheCreationInputTokens uint64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     uint64 `json:"cache_read_input_tokens"`
	Model                    string `json:"model,omitempty"`
}

// Health is the latest collection outcome, exposed for a status query.
type Health struct {
	mu               sync.Mutex
	LastCollectionMs int64
	SessionsTracked  int
	LastError        string
	GhostSessions    []string
}

// Snapshot returns a copy of the current health fields.
func (h *Health) Snapshot() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Health{
		LastCollectionMs: h.LastCollectionMs,
		SessionsTracked:  h.SessionsTracked,
		LastError:        h.LastError,
		GhostSessions:    append([]string(nil), h.GhostSessions...),
	}
}

func (h *Health) set(lastMs int64, tracked int, ghosts []string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LastCollectionMs = lastMs
	h.SessionsTracked = tracked
	h.GhostSessions = ghosts
	if err != nil {
		h.LastError = err.Error()
	} else {
		h.LastError = ""
	}
}

type sessionUsage struct {
	offset                   int64
	inputTokens              uint64
	outputTokens             uint64
	cacheCreationInputTokens uint64
	cacheReadInputTokens     uint64
	model                    string
}

// Collector periodically scans agent session logs and writes cumulative
// usage records to a rotating JSONL file under cfg.MetricsPath().
type Collector struct {
	cfg    *config.Config
	state  *state.State
	tmux   *agent.TmuxWrapper
	log    *slog.Logger
	logDir func(claudeSessionID string) string

	sessions   map[string]*sessionUsage
	cycleCount uint64
	health     *Health
}

// New builds a collector. logDir resolves a Claude session id to the
// directory holding its "<id>.jsonl" log, matching adapter.ClaudeAgent's
// own resolution so both consume the identical file.
func New(cfg *config.Config, st *state.State, tmux *agent.TmuxWrapper, logDir func(string) string, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{
		cfg: cfg, state: st, tmux: tmux, log: log, logDir: logDir,
		sessions: make(map[string]*sessionUsage),
		health:   &Health{},
	}
}

// Health returns the shared health handle callers can snapshot for status
// reporting while Run is active.
func (c *Collector) Health() *Health { return c.health }

// Run ticks every cfg.MetricsInterval() until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	interval := c.cfg.MetricsInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.collectOnce(ctx)
		}
	}
}

// collectOnce runs a single pass: snapshot agents/jobs, parse incremental
// usage from each agent's session log, detect ghosts every GhostEveryN
// cycles, and append one record per tracked session.
func (c *Collector) collectOnce(ctx context.Context) {
	c.cycleCount++

	c.state.RLock()
	agents := make([]*types.AgentRecord, 0, len(c.state.Agents))
	for _, a := range c.state.Agents {
		agents = append(agents, a)
	}
	jobs := c.state.Jobs
	jobByID := make(map[types.JobId]*types.Job, len(jobs))
	for id, j := range jobs {
		jobByID[id] = j
	}
	c.state.RUnlock()

	now := time.Now().UTC()
	var records []Record
	for _, a := range agents {
		if a.ClaudeSessionId == "" {
			continue
		}
		su, ok := c.sessions[a.ClaudeSessionId]
		if !ok {
			su = &sessionUsage{}
			c.sessions[a.ClaudeSessionId] = su
		}
		path := filepath.Join(c.logDir(a.ClaudeSessionId), a.ClaudeSessionId+".jsonl")
		parseSessionUsage(path, su)

		var jobID, jobKind, jobStep string
		if a.Owner.Kind == types.OwnerJob {
			if j := jobByID[a.Owner.JobId]; j != nil {
				jobID, jobKind, jobStep = string(j.ID), j.Kind, j.CurrentStep
			}
		}
		records = append(records, Record{
			Timestamp: now.Format(time.RFC3339), AgentId: string(a.AgentId), SessionId: a.ClaudeSessionId,
			AgentKind: a.AgentName, JobId: jobID, JobKind: jobKind, JobStep: jobStep,
			Namespace: a.Namespace, Status: string(a.Status),
			InputTokens: su.inputTokens, OutputTokens: su.outputTokens,
			CacheCreationInputTokens: su.cacheCreationInputTokens, CacheReadInputTokens: su.cacheReadInputTokens,
			Model: su.model,
		})
	}

	var ghosts []string
	if c.cycleCount%uint64(max(c.cfg.Metrics.GhostEveryN, 1)) == 0 {
		ghosts = c.detectGhosts(ctx, agents)
	} else {
		ghosts = c.health.Snapshot().GhostSessions
	}

	var writeErr error
	if len(records) > 0 {
		if err := c.rotateIfNeeded(); err != nil {
			c.log.Warn("metrics rotation failed", "error", err)
		}
		writeErr = c.writeRecords(records)
		if writeErr != nil {
			c.log.Warn("metrics write failed", "error", writeErr)
		}
	}

	c.health.set(now.UnixMilli(), len(c.sessions), ghosts, writeErr)
}

// parseSessionUsage reads path starting at su.offset, summing token usage
// from assistant records and advancing the offset past every complete
// line consumed. A trailing partial line is left unconsumed. If the file
// has shrunk since the last read (rotated away underneath us), the offset
// resets to the start.
func parseSessionUsage(path string, su *sessionUsage) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Size() < su.offset {
		su.offset = 0
	}
	if info.Size() == su.offset {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Seek(su.offset, io.SeekStart); err != nil {
		return
	}

	r := bufio.NewReader(f)
	var consumed int64
	for {
		line, rerr := r.ReadString('\n')
		if rerr != nil && line == "" {
			break
		}
		if rerr != nil && !strings.HasSuffix(line, "\n") {
			break
		}
		consumed += int64(len(line))
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		var rec struct {
			Type    string `json:"type"`
			Message struct {
				Model string `json:"model"`
				Usage struct {
					InputTokens              uint64 `json:"input_tokens"`
					OutputTokens             uint64 `json:"output_tokens"`
					CacheCreationInputTokens uint64 `json:"cache_creation_input_tokens"`
					CacheReadInputTokens     uint64 `json:"cache_read_input_tokens"`
				} `json:"usage"`
			} `json:"message"`
		}
		if json.Unmarshal([]byte(trimmed), &rec) != nil || rec.Type != "assistant" {
			continue
		}
		su.inputTokens += rec.Message.Usage.InputTokens
		su.outputTokens += rec.Message.Usage.OutputTokens
		su.cacheCreationInputTokens += rec.Message.Usage.CacheCreationInputTokens
		su.cacheReadInputTokens += rec.Message.Usage.CacheReadInputTokens
		if rec.Message.Model != "" {
			su.model = rec.Message.Model
		}
	}
	su.offset += consumed
}

// detectGhosts lists every live multiplexer session named with the
// configured prefix and reports the ones no agent record claims.
func (c *Collector) detectGhosts(ctx context.Context, agents []*types.AgentRecord) []string {
	names, err := c.tmux.ListSessions(ctx, c.cfg.Session.NamePrefix)
	if err != nil {
		return nil
	}
	known := make(map[string]bool, len(agents))
	for _, a := range agents {
		known[adapter.SessionName(string(a.SessionId))] = true
	}
	var ghosts []string
	for _, n := range names {
		if !known[n] {
			ghosts = append(ghosts, n)
		}
	}
	return ghosts
}

func (c *Collector) writeRecords(records []Record) error {
	path := c.cfg.MetricsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// rotateIfNeeded shifts usage.jsonl.(N-1)->.N down to RotateKeep
// generations, renames the current file to .1 gzip-compressed, and writes
// a baseline of every currently-tracked session's cumulative totals to the
// fresh file so a reader starting from it alone still has complete data.
func (c *Collector) rotateIfNeeded() error {
	path := c.cfg.MetricsPath()
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if info.Size() < c.cfg.Metrics.RotateBytes {
		return nil
	}

	keep := c.cfg.Metrics.RotateKeep
	for i := keep - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d.gz", path, i)
		to := fmt.Sprintf("%s.%d.gz", path, i+1)
		if i+1 > keep {
			os.Remove(from)
			continue
		}
		os.Rename(from, to)
	}
	if err := compressToFile(path, fmt.Sprintf("%s.1.gz", path)); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return err
	}

	now := time.Now().UTC()
	var baseline []Record
	for id, su := range c.sessions {
		baseline = append(baseline, Record{
			Timestamp: now.Format(time.RFC3339), AgentId: id, SessionId: id, Status: "baseline",
			InputTokens: su.inputTokens, OutputTokens: su.outputTokens,
			CacheCreationInputTokens: su.cacheCreationInputTokens, CacheReadInputTokens: su.cacheReadInputTokens,
			Model: su.model,
		})
	}
	return c.writeRecords(baseline)
}

func compressToFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return err
	}
	return gz.Close()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
