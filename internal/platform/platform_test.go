package platform

import (
	"runtime"
	"testing"
)

func TestDetectIsCached(t *testing.T) {
	p := Detect()
	if p == "" {
		t.Fatal("Detect() returned empty platform")
	}
	if runtime.GOOS == "darwin" && p != MacOS {
		t.Errorf("expected MacOS on darwin, got %s", p)
	}
	if p2 := Detect(); p != p2 {
		t.Errorf("Detect() not stable: got %s then %s", p, p2)
	}
}

func TestClassify(t *testing.T) {
	none := func(string) bool { return false }
	vsock := func(p string) bool { return p == "/dev/vsock" }

	tests := []struct {
		name        string
		goos        string
		distro      string
		procVersion string
		exists      func(string) bool
		want        Platform
	}{
		{"darwin", "darwin", "", "", none, MacOS},
		{"windows", "windows", "", "", none, Windows},
		{"freebsd", "freebsd", "", "", none, Unknown},
		{"native linux", "linux", "", "Linux version 6.8.0-generic", none, Linux},
		{"wsl2 kernel", "linux", "", "Linux version 5.15.90.1-microsoft-standard-WSL2", none, WSL2},
		{"wsl1 kernel", "linux", "", "Linux version 4.4.0-19041-Microsoft", none, WSL1},
		{"distro env with vsock", "linux", "Ubuntu", "", vsock, WSL2},
		{"distro env only", "linux", "Ubuntu", "", none, WSL1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.goos, tt.distro, tt.procVersion, tt.exists); got != tt.want {
				t.Errorf("classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPlatformString(t *testing.T) {
	tests := map[Platform]string{
		MacOS:   "macOS",
		Linux:   "Linux",
		WSL1:    "WSL1",
		WSL2:    "WSL2",
		Windows: "Windows",
		Unknown: "Unknown",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("Platform(%s).String() = %s, want %s", string(p), got, want)
		}
	}
}

func TestMountFSType(t *testing.T) {
	mounts := `/dev/sda1 / ext4 rw 0 0
drvfs /mnt/c 9p rw 0 0
server:/export /mnt/nfs nfs4 rw 0 0
host:/home /mnt/cc fuse.sshfs rw 0 0
`
	tests := map[string]string{
		"/home/me/.linkdeck/config.toml": "ext4",
		"/mnt/c/Users/me/config.toml":    "9p",
		"/mnt/nfs/config.toml":           "nfs4",
		"/mnt/cc/config.toml":            "fuse.sshfs",
		"/mnt/ccc/config.toml":           "ext4",
	}
	for path, want := range tests {
		if got := mountFSType(path, mounts); got != want {
			t.Errorf("mountFSType(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestWatchLimitation(t *testing.T) {
	for _, fs := range []string{"9p", "nfs", "nfs4", "cifs", "smbfs", "fuse.sshfs"} {
		if watchLimitation(fs) == "" {
			t.Errorf("expected a warning for %s", fs)
		}
	}
	for _, fs := range []string{"ext4", "apfs", "btrfs", ""} {
		if msg := watchLimitation(fs); msg != "" {
			t.Errorf("unexpected warning for %s: %s", fs, msg)
		}
	}
}
