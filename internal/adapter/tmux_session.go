package adapter

import (
	"context"
	"fmt"

	"github.com/oddjobs/oj/internal/agent"
)

// TmuxSession is the production Session adapter: it drives the low-level
// agent.TmuxWrapper, naming every session "oj-<id>" so the daemon can list
// and reconcile its own sessions without colliding with a user's unrelated
// tmux sessions.
type TmuxSession struct {
	w *agent.TmuxWrapper
}

// NewTmuxSession wraps w for use as a Session adapter.
func NewTmuxSession(w *agent.TmuxWrapper) *TmuxSession {
	return &TmuxSession{w: w}
}

// SessionName formats the tmux session name for a given opaque session id.
func SessionName(sessionID string) string { return "oj-" + sessionID }

func (t *TmuxSession) Start(ctx context.Context, sessionName, cwd, cmd string, env map[string]string, statusLeft, statusRight string) error {
	if err := t.w.NewSession(ctx, agent.SessionOptions{
		Name:    sessionName,
		Workdir: cwd,
		Env:     env,
		Command: cmd,
	}); err != nil {
		return fmt.Errorf("starting session %s: %w", sessionName, err)
	}
	if statusLeft != "" {
		if err := t.w.SetEnv(ctx, sessionName, "TMUX_STATUS_LEFT", statusLeft); err != nil {
			return fmt.Errorf("setting status-left for %s: %w", sessionName, err)
		}
	}
	if statusRight != "" {
		if err := t.w.SetEnv(ctx, sessionName, "TMUX_STATUS_RIGHT", statusRight); err != nil {
			return fmt.Errorf("setting status-right for %s: %w", sessionName, err)
		}
	}
	return nil
}

func (t *TmuxSession) Exists(ctx context.Context, sessionName string) bool {
	return t.w.SessionExists(ctx, sessionName)
}

func (t *TmuxSession) Send(ctx context.Context, sessionName, text string, pressEnter bool) error {
	if pressEnter {
		return t.w.SendKeys(ctx, sessionName, text)
	}
	return t.w.SendKeysLiteral(ctx, sessionName, text)
}

func (t *TmuxSession) Capture(ctx context.Context, sessionName string) (string, error) {
	return t.w.CapturePane(ctx, sessionName)
}

func (t *TmuxSession) Kill(ctx context.Context, sessionName string) error {
	return t.w.KillSession(ctx, sessionName)
}
