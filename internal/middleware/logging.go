package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/renova/internal/auth"
)

// AccessLog writes one structured line per API request. Progress streams
// are logged when the stream closes, with the bytes sent over its lifetime.
type AccessLog struct {
	logger   *slog.Logger
	skip     []string
	redacted map[string]struct{}
}

// AccessLogOption configures an AccessLog.
type AccessLogOption func(*AccessLog)

// WithSkippedPrefixes replaces the path prefixes that are never logged.
func WithSkippedPrefixes(prefixes ...string) AccessLogOption {
	return func(a *AccessLog) {
		a.skip = prefixes
	}
}

// WithRedactedParams adds query parameter names whose values are masked.
func WithRedactedParams(names ...string) AccessLogOption {
	return func(a *AccessLog) {
		for _, n := range names {
			a.redacted[strings.ToLower(n)] = struct{}{}
		}
	}
}

var defaultRedactedParams = []string{
	"token", "code", "key", "secret", "password",
	"api_key", "apikey", "access_token", "refresh_token",
}

// NewAccessLog creates an access logger. Health checks and the metrics
// scrape are skipped unless overridden.
func NewAccessLog(logger *slog.Logger, opts ...AccessLogOption) *AccessLog {
	a := &AccessLog{
		logger:   logger,
		skip:     []string{"/health", "/metrics"},
		redacted: make(map[string]struct{}, len(defaultRedactedParams)),
	}
	WithRedactedParams(defaultRedactedParams...)(a)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler wraps next with access logging.
func (a *AccessLog) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &recordingWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)

		a.logger.LogAttrs(r.Context(), levelForStatus(rw.status()), "request", a.attrs(r, rw, time.Since(start))...)
	})
}

func (a *AccessLog) attrs(r *http.Request, rw *recordingWriter, elapsed time.Duration) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", a.redact(r.URL.Path, r.URL.RawQuery)),
		slog.Int("status", rw.status()),
		slog.Int64("bytes", rw.written),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
		slog.String("ip", getClientIP(r)),
		slog.String("user_agent", r.UserAgent()),
	}
	if r.Pattern != "" {
		attrs = append(attrs, slog.String("route", r.Pattern))
	}
	if strings.HasPrefix(rw.Header().Get("Content-Type"), "text/event-stream") {
		attrs = append(attrs, slog.Bool("stream", true))
	}
	if id := auth.GetIdentityFromRequest(r); id != nil {
		attrs = append(attrs, slog.String("user_id", id.UserID.String()))
		if id.Tier != "" {
			attrs = append(attrs, slog.String("tier_claim", string(id.Tier)))
		}
	}
	return attrs
}

func (a *AccessLog) skipped(path string) bool {
	for _, prefix := range a.skip {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// redact rebuilds path and query, masking sensitive values. Pairs without
// a value are dropped; the order of the rest is kept.
func (a *AccessLog) redact(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}

	var b strings.Builder
	for _, pair := range strings.Split(rawQuery, "&") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if _, masked := a.redacted[strings.ToLower(name)]; masked {
			value = "[REDACTED]"
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(value)
	}
	if b.Len() == 0 {
		return path
	}
	return path + "?" + b.String()
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// recordingWriter captures the status and body size written by a handler.
type recordingWriter struct {
	http.ResponseWriter
	code    int
	written int64
}

func (rw *recordingWriter) WriteHeader(code int) {
	if rw.code == 0 {
		rw.code = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(p []byte) (int, error) {
	if rw.code == 0 {
		rw.code = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(p)
	rw.written += int64(n)
	return n, err
}

func (rw *recordingWriter) status() int {
	if rw.code == 0 {
		return http.StatusOK
	}
	return rw.code
}

func (rw *recordingWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *recordingWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
