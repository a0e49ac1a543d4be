package logging

import (
	"bytes"
	"log/slog"
	"strings"
)

// BridgeWriter adapts slog to io.Writer so that libraries logging through the
// standard "log" package (browser launcher, sqlite driver) end up in the
// structured log. A leading "[category]" prefix becomes the component.
type BridgeWriter struct {
	component string
}

// NewBridgeWriter creates a writer that forwards each write as one info record.
func NewBridgeWriter(defaultComponent string) *BridgeWriter {
	return &BridgeWriter{component: defaultComponent}
}

// Write implements io.Writer.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	n := len(p)
	msg := string(bytes.TrimSpace(p))
	if msg == "" {
		return n, nil
	}

	msg = stripLogTimestamp(msg)

	component := bw.component
	if strings.HasPrefix(msg, "[") {
		if idx := strings.Index(msg, "] "); idx > 0 {
			component = canonicalComponent(strings.ToLower(msg[1:idx]))
			msg = msg[idx+2:]
		}
	}

	Logger().Info(msg, slog.String("component", component))
	return n, nil
}

// stripLogTimestamp removes the "2006/01/02 15:04:05 " or "15:04:05.000000 "
// prefix added by the standard logger.
func stripLogTimestamp(s string) string {
	if len(s) > 20 && s[4] == '/' && s[7] == '/' && s[10] == ' ' && s[13] == ':' && s[19] == ' ' {
		return s[20:]
	}
	if len(s) > 16 && s[2] == ':' && s[5] == ':' && s[8] == '.' && s[15] == ' ' {
		return s[16:]
	}
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}

func canonicalComponent(cat string) string {
	switch cat {
	case "rod", "launcher", "browser", "cdp":
		return CompSession
	case "sqlite", "db":
		return CompStorage
	case "http", "ws", "sse":
		return CompWeb
	default:
		return cat
	}
}
