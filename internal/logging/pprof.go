package logging

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof handlers
	"os"
)

// startPprof serves pprof on localhost:6060 (or LINKDECK_PPROF_ADDR).
func startPprof() {
	addr := os.Getenv("LINKDECK_PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		Logger().Info("pprof_server_start", slog.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			Logger().Error("pprof_server_error", slog.String("error", err.Error()))
		}
	}()
}
