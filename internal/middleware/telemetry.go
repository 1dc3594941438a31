package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// telemetryPaths are analytics beacons that chat clients fire at whatever
// base URL they are pointed at.
var telemetryPaths = []string{
	"/v1/initialize",
	"/v1/log_event",
	"/v1/rgstr",
	"/statsig",
	"/telemetry",
	"/analytics",
	"/api/claude_code/metrics",
}

type TelemetrySinkMiddleware struct {
	logger *slog.Logger
}

// NewTelemetrySinkMiddleware answers telemetry beacons locally so they are
// never mistaken for chat traffic or forwarded upstream.
func NewTelemetrySinkMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tsm := &TelemetrySinkMiddleware{
		logger: logger,
	}

	return tsm.middleware
}

func (tsm *TelemetrySinkMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isTelemetryPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tsm.logger.Debug("Absorbed telemetry request", "path", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		if _, err := w.Write([]byte(`{"success":true}`)); err != nil {
			tsm.logger.Debug("Failed to answer telemetry request", "error", err)
		}
	})
}

func isTelemetryPath(path string) bool {
	for _, prefix := range telemetryPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}
