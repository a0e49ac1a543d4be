package web

import (
	"net/http"
	"strconv"

	"github.com/asheshgoplani/linkdeck/internal/logging"
)

const (
	defaultLogLines = 100
	maxLogLines     = 1000
)

type logsResponse struct {
	Lines []string `json:"lines"`
}

// handleLogs returns the tail of the in-memory log ring, oldest first.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "lines must be a positive integer")
			return
		}
		n = min(v, maxLogLines)
	}
	lines := logging.RecentLines(n)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Lines: lines})
}
