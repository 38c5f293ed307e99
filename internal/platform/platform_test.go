package platform

import (
	"runtime"
	"testing"
)

func TestDetectMatchesGOOS(t *testing.T) {
	p := Detect()
	switch runtime.GOOS {
	case "darwin":
		if p != PlatformMacOS {
			t.Errorf("Detect() = %s on darwin", p)
		}
	case "linux":
		if p != PlatformLinux && p != PlatformWSL {
			t.Errorf("Detect() = %s on linux", p)
		}
	case "windows":
		if p != PlatformWindows {
			t.Errorf("Detect() = %s on windows", p)
		}
	}
}

func TestDetectIsCached(t *testing.T) {
	if Detect() != Detect() {
		t.Error("Detect() not stable across calls")
	}
}

func TestInTmux(t *testing.T) {
	t.Setenv("TMUX", "")
	if InTmux() {
		t.Error("InTmux() true with empty TMUX")
	}
	t.Setenv("TMUX", "/tmp/tmux-1000/default,1234,0")
	if !InTmux() {
		t.Error("InTmux() false with TMUX set")
	}
}
