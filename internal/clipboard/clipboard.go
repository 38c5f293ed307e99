// Package clipboard copies text to the system clipboard, falling back to the
// OSC 52 escape sequence when no native tool is available.
package clipboard

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/tabdeck/tabdeck/internal/platform"
)

// CopyResult describes a successful copy.
type CopyResult struct {
	Method    string // e.g. "pbcopy", "xclip", "osc52"
	ByteSize  int
	LineCount int
}

// Copy places text on the system clipboard. The chain is: native clipboard
// tool for the detected platform, then OSC 52 through the terminal.
func Copy(text string) (*CopyResult, error) {
	if text == "" {
		return nil, fmt.Errorf("no content to copy")
	}

	result := &CopyResult{
		ByteSize:  len(text),
		LineCount: countLines(text),
	}

	method, err := copyNative(text)
	if err == nil {
		result.Method = method
		return result, nil
	}

	if err := copyOSC52(text); err != nil {
		return nil, fmt.Errorf("clipboard unavailable (install pbcopy, xclip, xsel, or wl-copy): %w", err)
	}
	result.Method = "osc52"
	return result, nil
}

// copyNative runs a platform clipboard command with text on stdin.
func copyNative(text string) (string, error) {
	switch platform.Detect() {
	case platform.PlatformMacOS:
		return "pbcopy", runClipCmd("pbcopy", nil, text)

	case platform.PlatformWSL:
		return "clip.exe", runClipCmd("clip.exe", nil, text)

	case platform.PlatformLinux:
		// Wayland takes priority over X11.
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			if path, err := exec.LookPath("wl-copy"); err == nil {
				return "wl-copy", runClipCmd(path, nil, text)
			}
		}
		if path, err := exec.LookPath("xclip"); err == nil {
			return "xclip", runClipCmd(path, []string{"-selection", "clipboard"}, text)
		}
		if path, err := exec.LookPath("xsel"); err == nil {
			return "xsel", runClipCmd(path, []string{"--clipboard", "--input"}, text)
		}
		return "", fmt.Errorf("no clipboard command found on Linux")

	default:
		return "", fmt.Errorf("unsupported platform: %s", platform.Detect())
	}
}

func runClipCmd(name string, args []string, text string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

// copyOSC52 writes the OSC 52 sequence to the controlling terminal, wrapped
// in a DCS passthrough when inside tmux.
func copyOSC52(text string) error {
	seq := osc52Sequence(base64.StdEncoding.EncodeToString([]byte(text)), platform.InTmux())

	// /dev/tty bypasses any stdout redirection.
	tty, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open /dev/tty: %w", err)
	}
	defer tty.Close()

	_, err = tty.WriteString(seq)
	return err
}

func osc52Sequence(base64Content string, inTmux bool) string {
	osc := "\x1b]52;c;" + base64Content + "\x07"
	if inTmux {
		return "\x1bPtmux;\x1b" + osc + "\x1b\\"
	}
	return osc
}

func countLines(text string) int {
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
