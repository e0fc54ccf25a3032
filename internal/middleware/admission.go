// Package middleware implements the admission layer in front of the
// registration and discovery pipelines: an API-key guard on writes, a
// per-IP fixed-window rate limiter, request-id propagation with
// structured access logging, and a body-size cap.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentindex/agentindexd/internal/apierr"
	"github.com/agentindex/agentindexd/internal/httpjson"
)

type contextKey string

const ctxRequestIDKey contextKey = "request_id"

// writeMethods is the set of HTTP methods that mutate state and therefore
// require the API key.
var writeMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// APIKeyGuard rejects write requests lacking a matching x-api-key header.
// An empty key disables the guard entirely (writes are allowed); reads
// are never checked.
func APIKeyGuard(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" && writeMethods[r.Method] && r.Header.Get("x-api-key") != key {
				httpjson.WriteError(w, apierr.Unauthorized("missing or invalid api key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bucket is one IP's fixed-window counter.
type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a per-IP fixed-window limiter. Entries are
// never evicted; memory is bounded by the cardinality of distinct client
// IPs seen, which the core accepts as acceptable.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     int
	window  time.Duration
}

// NewRateLimiter builds a limiter allowing max requests per window per IP.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucket), max: max, window: window}
}

// Middleware runs the limiter ahead of APIKeyGuard.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		allowed, retryAfter := l.allow(ip, time.Now())
		if !allowed {
			w.Header().Set("Retry-After", retryAfter)
			httpjson.WriteError(w, apierr.RateLimited("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ip string, t time.Time) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok || t.After(b.resetAt) {
		l.buckets[ip] = &bucket{count: 1, resetAt: t.Add(l.window)}
		return true, ""
	}
	if b.count >= l.max {
		secs := int(math.Ceil(b.resetAt.Sub(t).Seconds()))
		if secs < 0 {
			secs = 0
		}
		return false, strconv.Itoa(secs)
	}
	b.count++
	return true, ""
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("x-forwarded-for"); xff != "" {
		parts := strings.Split(xff, ",")
		if first := strings.TrimSpace(parts[0]); first != "" {
			return first
		}
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}

// RequestID resolves the request id from x-request-id or x-correlation-id,
// generating a fresh uuid when neither is present, echoes it on the
// response, and logs an access line once the handler returns.
func RequestID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := firstNonEmpty(r.Header.Get("x-request-id"), r.Header.Get("x-correlation-id"))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("x-request-id", id)

			ctx := context.WithValue(r.Context(), ctxRequestIDKey, id)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(rec, r.WithContext(ctx))

			logger.Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", id,
				"client_ip", clientIP(r),
			)
		})
	}
}

// RequestIDFromCtx returns the request id attached by RequestID, or "".
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestIDKey).(string)
	return id
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// MaxBodyBytes is the transport-level request body cap: 512 KiB.
const MaxBodyBytes = 512 * 1024

// LimitBody wraps r.Body in http.MaxBytesReader so oversized bodies are
// rejected while reading, before any schema validation runs.
func LimitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}
