package adapter

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier shells out to the host's native notification tool
// (osascript on macOS, notify-send on Linux). No library in the reference
// corpus covers desktop notifications, so this stays on os/exec rather than
// introducing an unfamiliar dependency.
type DesktopNotifier struct{}

func (DesktopNotifier) Notify(ctx context.Context, title, message string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", message, title)
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	case "linux":
		cmd = exec.CommandContext(ctx, "notify-send", title, message)
	default:
		return nil // unsupported platform: notification is best-effort
	}
	return cmd.Run()
}
