package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oddjobs/oj/internal/event"
	"github.com/oddjobs/oj/internal/runbook"
	"github.com/oddjobs/oj/internal/runtime"
	"github.com/oddjobs/oj/internal/state"
	"github.com/oddjobs/oj/internal/types"
	"github.com/oddjobs/oj/internal/wal"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	w, err := wal.Open(filepath.Join(t.TempDir(), "events.wal"))
	if err != nil {
		t.Fatalf("opening wal: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	st := state.New()
	engine := runtime.NewEngine(w, st, nil, nil, nil)
	return &Daemon{State: st, Engine: engine, Runbooks: runbook.NewCache()}
}

func prunedIds(t *testing.T, evt event.Event) []string {
	t.Helper()
	if evt.Type != event.TypePruned || evt.Pruned == nil {
		t.Fatalf("expected a Pruned event, got %+v", evt)
	}
	return evt.Pruned.Ids
}

func TestHandleWorkerPruneOnlyStopped(t *testing.T) {
	d := newTestDaemon(t)
	d.State.Workers["ns/build"] = &types.WorkerRecord{Name: "build", Namespace: "ns", Status: types.WorkerStopped}
	d.State.Workers["ns/deploy"] = &types.WorkerRecord{Name: "deploy", Namespace: "ns", Status: types.WorkerRunning}

	resp := d.handleWorkerPrune("ns")
	if resp.IsError() {
		t.Fatalf("unexpected error: %v", resp.AsError())
	}
	ids := prunedIds(t, resp.Ok.Events[0])
	if len(ids) != 1 || ids[0] != "ns/build" {
		t.Fatalf("expected only the stopped worker pruned, got %v", ids)
	}
}

func TestHandleWorkerPruneNamespaceScoped(t *testing.T) {
	d := newTestDaemon(t)
	d.State.Workers["a/w"] = &types.WorkerRecord{Name: "w", Namespace: "a", Status: types.WorkerStopped}
	d.State.Workers["b/w"] = &types.WorkerRecord{Name: "w", Namespace: "b", Status: types.WorkerStopped}

	resp := d.handleWorkerPrune("a")
	ids := prunedIds(t, resp.Ok.Events[0])
	if len(ids) != 1 || ids[0] != "a/w" {
		t.Fatalf("expected namespace filter to exclude the other namespace's worker, got %v", ids)
	}

	resp = d.handleWorkerPrune("")
	ids = prunedIds(t, resp.Ok.Events[0])
	if len(ids) != 2 {
		t.Fatalf("expected empty namespace to match every namespace, got %v", ids)
	}
}

func TestHandlePipelinePruneOnlyTerminal(t *testing.T) {
	d := newTestDaemon(t)
	d.State.Jobs["job-done"] = &types.Job{ID: "job-done", Namespace: "ns", CurrentStep: types.StepDone}
	d.State.Jobs["job-running"] = &types.Job{ID: "job-running", Namespace: "ns", CurrentStep: "build"}

	resp := d.handlePipelinePrune("ns")
	ids := prunedIds(t, resp.Ok.Events[0])
	if len(ids) != 1 || ids[0] != "job-done" {
		t.Fatalf("expected only the terminal job pruned, got %v", ids)
	}
}

func TestHandleAgentPruneFiltersByStatus(t *testing.T) {
	d := newTestDaemon(t)
	d.State.Agents["agent-exited"] = &types.AgentRecord{AgentId: "agent-exited", Namespace: "ns", Status: types.AgentExited}
	d.State.Agents["agent-working"] = &types.AgentRecord{AgentId: "agent-working", Namespace: "ns", Status: types.AgentWorking}

	resp := d.handleAgentPrune("ns")
	ids := prunedIds(t, resp.Ok.Events[0])
	if len(ids) != 1 || ids[0] != "agent-exited" {
		t.Fatalf("expected only the exited agent pruned, got %v", ids)
	}
}

func TestHandleWorkspacePruneReclaimsOnlyFinishedOwners(t *testing.T) {
	d := newTestDaemon(t)
	d.State.Jobs["job-done"] = &types.Job{ID: "job-done", CurrentStep: types.StepDone}
	d.State.Jobs["job-running"] = &types.Job{ID: "job-running", CurrentStep: "build"}

	d.State.Workspaces["ws-done"] = &types.Workspace{
		ID: "ws-done", Ephemeral: true, Owner: types.OwnerFromJob("job-done"),
	}
	d.State.Workspaces["ws-running"] = &types.Workspace{
		ID: "ws-running", Ephemeral: true, Owner: types.OwnerFromJob("job-running"),
	}
	d.State.Workspaces["ws-persistent"] = &types.Workspace{
		ID: "ws-persistent", Ephemeral: false, Owner: types.OwnerFromJob("job-done"),
	}

	resp := d.handleWorkspacePrune("")
	ids := prunedIds(t, resp.Ok.Events[0])
	if len(ids) != 1 || ids[0] != "ws-done" {
		t.Fatalf("expected only the ephemeral, finished-owner workspace pruned, got %v", ids)
	}
}

func TestFindInRunbooksResolvesDeclaringFile(t *testing.T) {
	d := newTestDaemon(t)
	root := t.TempDir()
	dir := filepath.Join(root, ".oj", "runbooks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := []byte("" +
		"[job.build]\n" +
		"[[job.build.step]]\n" +
		"name = \"compile\"\n" +
		"run = \"go build ./...\"\n" +
		"\n" +
		"[cron.nightly]\n" +
		"interval = \"1h\"\n" +
		"run_target_kind = \"pipeline\"\n" +
		"run_target_name = \"build\"\n")
	if err := os.WriteFile(filepath.Join(dir, "main.toml"), content, 0o644); err != nil {
		t.Fatalf("write runbook: %v", err)
	}

	rb, hash, err := d.findInRunbooks(root, "nightly", func(rb *runbook.Runbook) bool {
		_, ok := rb.Cron["nightly"]
		return ok
	})
	if err != nil {
		t.Fatalf("findInRunbooks: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected a non-empty content hash")
	}
	if _, ok := rb.Cron["nightly"]; !ok {
		t.Fatalf("resolved runbook does not declare the requested cron")
	}

	if _, _, err := d.findInRunbooks(root, "missing", func(rb *runbook.Runbook) bool {
		_, ok := rb.Cron["missing"]
		return ok
	}); err == nil {
		t.Fatalf("expected an error when no runbook declares the target")
	}
}
