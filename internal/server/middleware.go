package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// requestIDHeader is echoed back to the caller so panel logs and server logs
// can be correlated.
const requestIDHeader = "X-Request-ID"

// withRequestID tags every request with a UUID and logs the request line.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.Debug(r.Context(), "request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
