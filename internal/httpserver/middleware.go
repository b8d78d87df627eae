package httpserver

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

type requestLoggerKey struct{}

var errNoHijack = errors.New("httpserver: underlying writer cannot be hijacked")

// statusRecorder remembers the status code and body size written through it.
// It passes Flush and Hijack through so streaming and WebSocket upgrades keep
// working behind the access log.
type statusRecorder struct {
	http.ResponseWriter
	code    int
	written int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.code == 0 {
		sr.code = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(p []byte) (int, error) {
	if sr.code == 0 {
		sr.code = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(p)
	sr.written += int64(n)
	return n, err
}

func (sr *statusRecorder) status() int {
	if sr.code == 0 {
		return http.StatusOK
	}
	return sr.code
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errNoHijack
	}
	return hj.Hijack()
}

// pollingPaths are hit on a schedule by health checks and scrapers.
var pollingPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// requestLogLevel picks the access log level for a finished request.
func requestLogLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case pollingPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// withRequestLogging tags every response with a request number and the
// session ID, and stores a request-scoped logger in the context.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		id := strconv.FormatUint(s.requestIDs.Add(1), 10)

		attrs := []any{"req_id", id, "method", r.Method, "path", r.URL.Path}
		if r.RemoteAddr != "" {
			attrs = append(attrs, "remote_addr", r.RemoteAddr)
		}
		reqLogger := s.logger.With(attrs...)

		w.Header().Set("X-Request-ID", id)
		if s.session != nil {
			w.Header().Set("X-Hotdiag-Session", s.session.SessionID())
		}

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestLoggerKey{}, reqLogger)))

		status := rec.status()
		reqLogger.Log(r.Context(), requestLogLevel(r.URL.Path, status), "request complete",
			"status", status,
			"bytes", rec.written,
			"elapsed", time.Since(started),
		)
	})
}

// loggerFromContext returns the request logger, or the server logger outside
// a request.
func (s *Server) loggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return s.logger
	}
	if l, ok := ctx.Value(requestLoggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return s.logger
}
