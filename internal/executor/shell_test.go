package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oddjobs/oj/internal/effect"
)

func TestNewShellRunner(t *testing.T) {
	r := NewShellRunner()
	if r.DefaultShell != "/bin/sh" {
		t.Errorf("expected default shell /bin/sh, got %s", r.DefaultShell)
	}
}

func TestRunSimpleCommand(t *testing.T) {
	r := NewShellRunner()
	res, err := r.Run(context.Background(), &effect.Shell{Command: "echo hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("expected stdout 'hello\\n', got %q", res.Stdout)
	}
}

func TestRunCaptureStdoutAndStderr(t *testing.T) {
	r := NewShellRunner()
	res, err := r.Run(context.Background(), &effect.Shell{
		Command: "echo out; echo err >&2",
		Outputs: []effect.OutputSpec{
			{Name: "out", Source: effect.OutputStdout},
			{Name: "err", Source: effect.OutputStderr},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["out"] != "out" || res.Outputs["err"] != "err" {
		t.Fatalf("unexpected outputs: %+v", res.Outputs)
	}
}

func TestRunCaptureExitCode(t *testing.T) {
	r := NewShellRunner()
	res, err := r.Run(context.Background(), &effect.Shell{
		Command: "exit 42",
		Outputs: []effect.OutputSpec{{Name: "code", Source: effect.OutputExitCode}},
	})
	if err != nil {
		t.Fatalf("non-zero exit must not be a Go error: %v", err)
	}
	if res.ExitCode != 42 || res.Outputs["code"] != "42" {
		t.Fatalf("expected exit code 42, got %+v", res)
	}
}

func TestRunCaptureFile(t *testing.T) {
	r := NewShellRunner()
	tmpFile := filepath.Join(t.TempDir(), "output.txt")
	res, err := r.Run(context.Background(), &effect.Shell{
		Command: "echo file-content > " + tmpFile,
		Outputs: []effect.OutputSpec{{Name: "f", Source: effect.OutputFile, Path: tmpFile}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["f"] != "file-content" {
		t.Errorf("expected 'file-content', got %q", res.Outputs["f"])
	}
}

func TestRunMissingFileOutputIsEmptyNotError(t *testing.T) {
	r := NewShellRunner()
	res, err := r.Run(context.Background(), &effect.Shell{
		Command: "true",
		Outputs: []effect.OutputSpec{{Name: "missing", Source: effect.OutputFile, Path: "/nonexistent/file"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["missing"] != "" {
		t.Errorf("expected empty string for missing file, got %q", res.Outputs["missing"])
	}
}

func TestRunWorkingDirectory(t *testing.T) {
	r := NewShellRunner()
	tmpDir := t.TempDir()
	res, err := r.Run(context.Background(), &effect.Shell{
		Command: "pwd",
		Cwd:     tmpDir,
		Outputs: []effect.OutputSpec{{Name: "cwd", Source: effect.OutputStdout}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["cwd"] != tmpDir {
		t.Errorf("expected cwd %q, got %q", tmpDir, res.Outputs["cwd"])
	}
}

func TestRunEnvironment(t *testing.T) {
	r := NewShellRunner()
	res, err := r.Run(context.Background(), &effect.Shell{
		Command: "echo $TEST_VAR",
		Env:     map[string]string{"TEST_VAR": "test-value"},
		Outputs: []effect.OutputSpec{{Name: "result", Source: effect.OutputStdout}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["result"] != "test-value" {
		t.Errorf("expected 'test-value', got %q", res.Outputs["result"])
	}
}

func TestRunContextCancellationKillsProcessGroup(t *testing.T) {
	r := NewShellRunner()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var res *ShellResult
	var execErr error
	go func() {
		res, execErr = r.Run(ctx, &effect.Shell{Command: "sleep 30"})
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not complete after cancellation")
	}

	if execErr != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", execErr)
	}
	if res.ExitCode != -1 {
		t.Errorf("expected exit code -1, got %d", res.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	r := NewShellRunner()
	res, err := r.Run(context.Background(), &effect.Shell{Command: "sleep 30", Timeout: 100 * time.Millisecond})
	if err != context.DeadlineExceeded {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if res.ExitCode != -1 {
		t.Errorf("expected exit code -1, got %d", res.ExitCode)
	}
}

func TestRunNilSpec(t *testing.T) {
	r := NewShellRunner()
	if _, err := r.Run(context.Background(), nil); err == nil {
		t.Error("expected error for nil spec")
	}
}

func TestRunEmptyCommand(t *testing.T) {
	r := NewShellRunner()
	if _, err := r.Run(context.Background(), &effect.Shell{}); err == nil {
		t.Error("expected error for empty command")
	}
}
