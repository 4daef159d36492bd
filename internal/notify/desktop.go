package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

const desktopCmdTimeout = 5 * time.Second

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// sendDesktop shows an OS-native banner. One banner per 10 seconds per
// process; excess calls drop silently and report success.
func (d *Dispatcher) sendDesktop(title, body string) bool {
	d.desktopMu.Lock()
	now := d.clock()
	if !d.lastDesktop.IsZero() && now.Sub(d.lastDesktop) < desktopInterval {
		d.desktopMu.Unlock()
		return true
	}
	d.lastDesktop = now
	d.desktopMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), desktopCmdTimeout)
	defer cancel()

	if err := d.showBanner(ctx, title, body); err != nil {
		d.log.WithError(err).Debug("desktop notification failed")
		return false
	}
	return true
}

func (d *Dispatcher) showBanner(ctx context.Context, title, body string) error {
	switch runtime.GOOS {
	case "darwin":
		if _, err := exec.LookPath("terminal-notifier"); err == nil {
			return d.runCmd(ctx, "terminal-notifier", "-title", title, "-message", body, "-sound", "default")
		}
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		return d.runCmd(ctx, "osascript", "-e", script)
	case "linux":
		return d.runCmd(ctx, "notify-send", "-u", "normal", title, body)
	case "windows":
		script := fmt.Sprintf(
			`New-BurntToastNotification -Text %q, %q`,
			title, body,
		)
		return d.runCmd(ctx, "powershell", "-NoProfile", "-Command", script)
	default:
		return fmt.Errorf("no desktop notifier for %s", runtime.GOOS)
	}
}
