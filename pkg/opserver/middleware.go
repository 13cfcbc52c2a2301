package opserver

import (
	"crypto/subtle"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// tokenHeader matches the header convention of the outbound client.
const tokenHeader = "X-Agent-Token"

// authenticate guards the project operation endpoints with the agent token.
// The expected token is re-read per request because re-registration can
// rotate it while the server is running.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(tokenHeader)
		expected := s.cfg.LoadToken()

		if token == "" || expected == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request with its duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Handled request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
