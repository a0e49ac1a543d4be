// Package clipboard copies short strings such as pairing codes to the
// system clipboard.
package clipboard

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/asheshgoplani/linkdeck/internal/platform"
)

// ErrEmpty is returned when there is nothing to copy.
var ErrEmpty = errors.New("no content to copy")

// Method names how text reached the clipboard.
type Method string

const (
	MethodPbcopy Method = "pbcopy"
	MethodClip   Method = "clip.exe"
	MethodWlCopy Method = "wl-copy"
	MethodXclip  Method = "xclip"
	MethodXsel   Method = "xsel"
	MethodOSC52  Method = "osc52"
)

// Copy puts text on the clipboard with the host's native tool, falling back
// to an OSC 52 escape written to tty when allowOSC52 is set.
func Copy(text string, allowOSC52 bool) (Method, error) {
	if text == "" {
		return "", ErrEmpty
	}
	cmd, ok := nativeCommand(platform.Detect(), os.Getenv("WAYLAND_DISPLAY") != "", exec.LookPath)
	if ok {
		c := exec.Command(cmd.path, cmd.args...)
		c.Stdin = strings.NewReader(text)
		if err := c.Run(); err == nil {
			return cmd.method, nil
		}
	}
	if !allowOSC52 {
		return "", fmt.Errorf("no clipboard method available (install pbcopy, xclip, xsel or wl-copy)")
	}

	tty, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
	if err != nil {
		return "", fmt.Errorf("cannot open /dev/tty: %w", err)
	}
	defer tty.Close()
	if err := writeOSC52(tty, text, os.Getenv("TMUX") != ""); err != nil {
		return "", fmt.Errorf("OSC 52 clipboard failed: %w", err)
	}
	return MethodOSC52, nil
}

type clipCommand struct {
	method Method
	path   string
	args   []string
}

// nativeCommand picks the clipboard tool for p. Wayland wins over X11.
func nativeCommand(p platform.Platform, wayland bool, lookPath func(string) (string, error)) (clipCommand, bool) {
	switch p {
	case platform.MacOS:
		return clipCommand{method: MethodPbcopy, path: "pbcopy"}, true
	case platform.WSL1, platform.WSL2:
		return clipCommand{method: MethodClip, path: "clip.exe"}, true
	case platform.Linux:
		if wayland {
			if path, err := lookPath("wl-copy"); err == nil {
				return clipCommand{method: MethodWlCopy, path: path}, true
			}
		}
		if path, err := lookPath("xclip"); err == nil {
			return clipCommand{method: MethodXclip, path: path, args: []string{"-selection", "clipboard"}}, true
		}
		if path, err := lookPath("xsel"); err == nil {
			return clipCommand{method: MethodXsel, path: path, args: []string{"--clipboard", "--input"}}, true
		}
	}
	return clipCommand{}, false
}

// writeOSC52 emits the OSC 52 set-clipboard sequence, wrapped in a DCS
// passthrough inside tmux.
func writeOSC52(w io.Writer, text string, inTmux bool) error {
	seq := "\x1b]52;c;" + base64.StdEncoding.EncodeToString([]byte(text)) + "\x07"
	if inTmux {
		seq = "\x1bPtmux;\x1b" + seq + "\x1b\\"
	}
	_, err := io.WriteString(w, seq)
	return err
}
