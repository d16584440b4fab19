// Package permissions runs a one-shot capability probe at startup. Its
// findings are advisory: they produce user-facing guidance on stderr and
// never gate functionality.
package permissions

import (
	"fmt"
	"io"
	"runtime"
)

// Probe attempts to enumerate capture devices. It is expected to return
// quickly; the check is performed exactly once per process start.
type Probe func() error

// Check runs probe and, on failure, writes platform-specific guidance to w.
// On macOS a note about the Accessibility permission needed for global
// hotkeys is always printed. The return value reports whether the probe
// succeeded; callers must not use it to block startup.
func Check(w io.Writer, probe Probe) bool {
	ok := true
	if err := probe(); err != nil {
		ok = false
		switch runtime.GOOS {
		case "darwin":
			fmt.Fprintln(w, "Microphone access may be needed.")
			fmt.Fprintln(w, "  Grant access in: System Settings > Privacy & Security > Microphone")
			fmt.Fprintln(w, "  Add your terminal app (Terminal, iTerm2, etc.) to the allowed list.")
		case "linux":
			fmt.Fprintln(w, "PortAudio could not open an input device.")
			fmt.Fprintln(w, "  Install it with: sudo apt install portaudio19-dev")
			fmt.Fprintln(w, "  Or on Fedora: sudo dnf install portaudio-devel")
		case "windows":
			fmt.Fprintln(w, "Audio device issue detected.")
			fmt.Fprintln(w, "  Check Windows Settings > Privacy > Microphone")
			fmt.Fprintln(w, "  Ensure microphone access is enabled for desktop apps.")
		default:
			fmt.Fprintf(w, "Audio capture probe failed: %v\n", err)
		}
	}

	if runtime.GOOS == "darwin" {
		fmt.Fprintln(w, "Note: global hotkeys require Accessibility permission.")
		fmt.Fprintln(w, "  If hotkeys don't work, go to: System Settings > Privacy & Security > Accessibility")
		fmt.Fprintln(w, "  and add your terminal app.")
	}
	return ok
}
