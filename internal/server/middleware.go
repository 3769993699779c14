package server

import (
	"log"
	"net/http"
	"strings"
	"time"
)

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestLogger logs API calls with their status and duration. Static files,
// health checks and the WebSocket are not logged.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		icon := "✅"
		switch {
		case rec.status >= 500:
			icon = "❌"
		case rec.status >= 400:
			icon = "⚠️ "
		}
		log.Printf("%s %s %s -> %d (%s)", icon, r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}
