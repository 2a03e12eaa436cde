package callback

import (
	"os/exec"
	"runtime"

	"github.com/pkg/errors"
)

// OpenBrowser opens url in the user's default browser without waiting for
// the browser process to exit. Callers should print the URL as a fallback
// for headless environments.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return errors.Errorf("[OpenBrowser] unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "[OpenBrowser] launching browser")
	}
	return nil
}
