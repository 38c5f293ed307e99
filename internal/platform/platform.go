// Package platform detects the host environment, mainly to pick the right
// clipboard integration.
package platform

import (
	"os"
	"runtime"
	"strings"
	"sync"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL     Platform = "wsl"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

var (
	detectOnce sync.Once
	detected   Platform
)

// Detect returns the current platform, caching the result.
func Detect() Platform {
	detectOnce.Do(func() {
		detected = detect()
	})
	return detected
}

func detect() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		if isWSL() {
			return PlatformWSL
		}
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// isWSL checks the well-known WSL markers. WSL sets WSL_DISTRO_NAME, and
// /proc/version carries a Microsoft signature.
func isWSL() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	procVersion, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	v := strings.ToLower(string(procVersion))
	return strings.Contains(v, "microsoft")
}

// InTmux reports whether the process runs inside a tmux session.
func InTmux() bool {
	return os.Getenv("TMUX") != ""
}
