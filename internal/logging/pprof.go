package logging

import (
	"log/slog"
	"net/http"
	_ "net/http/pprof" // registers the /debug/pprof handlers
	"os"
)

// startPprof serves pprof on localhost:6060 (override with TABDECK_PPROF_ADDR).
// Gated by PprofEnabled in Config.
func startPprof() {
	addr := os.Getenv("TABDECK_PPROF_ADDR")
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
