package httpserver

import (
	"log/slog"
	"net/http"
	"time"
)

// New builds the HTTP server. Connection level errors from net/http are
// routed into the structured logger at warn level.
func New(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Bulk decisions fan out up to the configured batch size before responding.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
