// Package daemon wires the independently-built packages — wal, state,
// runtime, executor, adapter, ipc — into the long-running "ojd" process:
// load config, restore state from snapshot+WAL replay, stand up adapters
// and the dispatch engine, and serve control requests over a Unix socket
// until asked to shut down.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/oddjobs/oj/internal/adapter"
	"github.com/oddjobs/oj/internal/agent"
	"github.com/oddjobs/oj/internal/config"
	"github.com/oddjobs/oj/internal/executor"
	"github.com/oddjobs/oj/internal/ipc"
	"github.com/oddjobs/oj/internal/metrics"
	"github.com/oddjobs/oj/internal/ojerr"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/runtime"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/wal"
)

// Daemon owns every long-lived resource the running process holds: the WAL
// file, the materialized state it backs, the dispatch engine, and the IPC
// server that fronts it.
type Daemon struct {
	Cfg *config.Config
	Log *slog.Logger

	WAL      *wal.WAL
	State    *state.State
	Runbooks *runbook.Cache
	Engine   *runtime.Engine
	Exec     *executor.Executor
	IPC      *ipc.Server
	Metrics  *metrics.Collector

	checkpointEvery time.Duration
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// New opens the WAL, restores state from the last snapshot plus any WAL
// entries after it, and wires the engine and IPC server. It does not start
// any goroutines; call Start for that.
func New(cfg *config.Config, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.StateDir, 0o755); err != nil {
		return nil, ojerr.Wrap(ojerr.CodeIOWrite, "creating state dir", err)
	}

	if err := acquirePidLock(cfg.PidPath()); err != nil {
		return nil, err
	}

	st, restoredSeq, err := restoreState(cfg.SnapshotPath())
	if err != nil {
		releasePidLock(cfg.PidPath())
		return nil, err
	}

	w, err := wal.Open(cfg.WALPath())
	if err != nil {
		releasePidLock(cfg.PidPath())
		return nil, err
	}
	if err := replayWAL(w, st, restoredSeq); err != nil {
		w.Close()
		releasePidLock(cfg.PidPath())
		return nil, err
	}
	st.RebuildQueueIndex()

	runbooks := runbook.NewCache()
	clock := adapter.WallClock{}

	tmux := agent.NewTmuxWrapper()
	session := adapter.NewTmuxSession(tmux)
	claude := adapter.NewClaudeAgent(func(claudeSessionID string) string {
		return cfg.LogsDir()
	}, cfg.WatcherPollInterval())
	notifier := adapter.DesktopNotifier{}

	exec := executor.New(session, claude, notifier, clock, log.With("component", "executor"))
	handler := runtime.NewHandler(st, runbooks, clock)
	engine := runtime.NewEngine(w, st, handler, exec, log.With("component", "engine"))
	usage := metrics.New(cfg, st, tmux, func(claudeSessionID string) string { return cfg.LogsDir() }, log.With("component", "metrics"))

	d := &Daemon{
		Cfg: cfg, Log: log,
		WAL: w, State: st, Runbooks: runbooks, Engine: engine, Exec: exec, Metrics: usage,
		checkpointEvery: 30 * time.Second,
	}
	d.IPC = ipc.NewServer(cfg.SockPath(), d, log.With("component", "ipc"))
	return d, nil
}

// restoreState loads the last snapshot (if any) and returns the seq it is
// consistent through, so the caller only replays WAL entries after it.
func restoreState(path string) (*state.State, uint64, error) {
	snap, err := wal.LoadSnapshot(path)
	if err != nil {
		return nil, 0, err
	}
	if snap == nil {
		return state.New(), 0, nil
	}
	return snap.State, snap.Seq, nil
}

// replayWAL applies every entry after fromSeq to st in order, bringing a
// restored (or fresh) state fully current with the durable log.
func replayWAL(w *wal.WAL, st *state.State, fromSeq uint64) error {
	entries, err := w.EntriesAfter(fromSeq)
	if err != nil {
		return err
	}
	for _, e := range entries {
		st.Apply(e.Event)
	}
	return nil
}

// Start runs the engine's dispatch loop, the IPC server, and a periodic
// snapshot checkpoint, all until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.IPC.StartAsync(ctx); err != nil {
		cancel()
		return err
	}

	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		d.Engine.Run(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.checkpointLoop(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.Metrics.Run(ctx)
	}()

	d.Log.Info("daemon started", "state_dir", d.Cfg.Paths.StateDir, "socket", d.IPC.Path())
	return nil
}

// Wait blocks until ctx is cancelled and every daemon goroutine has
// returned, then performs a final checkpoint, closes the WAL, stops the
// IPC server, and releases the pid lock.
func (d *Daemon) Wait(ctx context.Context) error {
	<-ctx.Done()
	return d.Shutdown()
}

// Shutdown stops every daemon goroutine, takes a final snapshot, and
// releases the process-level resources acquired in New.
func (d *Daemon) Shutdown() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	if err := d.IPC.Shutdown(); err != nil {
		d.Log.Error("ipc shutdown", "error", err)
	}
	if err := wal.CheckpointSync(d.Cfg.SnapshotPath(), d.WAL.Seq(), d.State); err != nil {
		d.Log.Error("final checkpoint", "error", err)
	}
	if err := d.WAL.Close(); err != nil {
		d.Log.Error("closing wal", "error", err)
	}
	releasePidLock(d.Cfg.PidPath())
	d.Log.Info("daemon stopped")
	return nil
}

func (d *Daemon) checkpointLoop(ctx context.Context) {
	t := time.NewTicker(d.checkpointEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			seq := d.WAL.Seq()
			if err := wal.CheckpointSync(d.Cfg.SnapshotPath(), seq, d.State); err != nil {
				d.Log.Error("periodic checkpoint", "error", err, "seq", seq)
			}
		}
	}
}

// acquirePidLock writes the current pid to path, refusing if an existing
// pidfile names a process that is still alive.
func acquirePidLock(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, perr := strconv.Atoi(string(data)); perr == nil && processAlive(pid) {
			return ojerr.Newf(ojerr.CodeIOLock, "daemon already running (pid %d)", pid)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return ojerr.Wrap(ojerr.CodeIOLock, "writing pid file", err)
	}
	return nil
}

func releasePidLock(path string) {
	_ = os.Remove(path)
}

// processAlive probes pid with signal 0, which performs error checking
// without actually delivering a signal.
func processAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}
