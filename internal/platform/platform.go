// Package platform answers host questions the daemon cares about: which OS
// family it runs on, whether a browser window can be shown, and whether file
// watching works for a given path.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Platform is a detected host family.
type Platform string

const (
	MacOS   Platform = "macos"
	Linux   Platform = "linux"
	WSL1    Platform = "wsl1"
	WSL2    Platform = "wsl2"
	Windows Platform = "windows"
	Unknown Platform = "unknown"
)

var (
	detectOnce sync.Once
	detected   Platform
)

// Detect returns the host platform. The result is computed once.
func Detect() Platform {
	detectOnce.Do(func() {
		detected = classify(runtime.GOOS, os.Getenv("WSL_DISTRO_NAME"), readFile("/proc/version"), exists)
	})
	return detected
}

func readFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// classify is Detect with its inputs made explicit.
func classify(goos, wslDistro, procVersion string, exists func(string) bool) Platform {
	switch goos {
	case "darwin":
		return MacOS
	case "windows":
		return Windows
	case "linux":
	default:
		return Unknown
	}

	isWSL := wslDistro != "" ||
		strings.Contains(procVersion, "microsoft") ||
		strings.Contains(procVersion, "Microsoft")
	if !isWSL {
		return Linux
	}
	// WSL2 kernels report "microsoft-standard"; WSL1 only "Microsoft".
	if strings.Contains(procVersion, "microsoft-standard") {
		return WSL2
	}
	if strings.Contains(procVersion, "Microsoft") {
		return WSL1
	}
	if exists("/run/WSL") || exists("/dev/vsock") {
		return WSL2
	}
	return WSL1
}

// IsWSL reports whether the daemon runs under either WSL version.
func IsWSL() bool {
	p := Detect()
	return p == WSL1 || p == WSL2
}

// HasDisplay reports whether a headful browser window can be opened.
// macOS and Windows always have one; Linux needs X11 or Wayland.
func HasDisplay() bool {
	switch Detect() {
	case MacOS, Windows:
		return true
	}
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

func (p Platform) String() string {
	switch p {
	case MacOS:
		return "macOS"
	case Linux:
		return "Linux"
	case WSL1:
		return "WSL1"
	case WSL2:
		return "WSL2"
	case Windows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// WatchLimitation returns a warning when path lives on a filesystem where
// fsnotify events are missing or unreliable, or "" when watching works.
func WatchLimitation(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return watchLimitation(mountFSType(abs, readFile("/proc/mounts")))
}

// mountFSType finds the filesystem type of the longest mount point
// containing path in a /proc/mounts listing.
func mountFSType(path, mounts string) string {
	var best, fsType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mp := fields[1]
		if !strings.HasPrefix(path, mp) || len(mp) <= len(best) {
			continue
		}
		if mp != "/" && len(path) > len(mp) && path[len(mp)] != '/' {
			continue
		}
		best, fsType = mp, fields[2]
	}
	return fsType
}

func watchLimitation(fsType string) string {
	switch {
	case fsType == "9p":
		return "config is on a 9p mount (WSL2 Windows drive); hot reload will not fire, restart the daemon after edits"
	case fsType == "nfs" || fsType == "nfs4":
		return "config is on an NFS mount; hot reload may miss edits"
	case fsType == "cifs" || fsType == "smbfs":
		return "config is on a CIFS/SMB mount; hot reload may miss edits"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "config is on an SSHFS mount; hot reload will not fire, restart the daemon after edits"
	}
	return ""
}
