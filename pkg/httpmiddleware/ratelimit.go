package httpmiddleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRateLimitKeys bounds the number of clients tracked at once.
const DefaultRateLimitKeys = 10000

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max is the maximum number of requests allowed per window.
	Max int
	// Window is the duration of each sliding window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
	// MaxKeys bounds the tracked keys; least recently seen keys are evicted
	// first. Defaults to DefaultRateLimitKeys.
	MaxKeys int
}

// counter approximates a sliding window from two fixed windows: the previous
// window count is weighted by its overlap with the sliding one.
type counter struct {
	start time.Time
	prev  float64
	curr  float64
}

// hit records a request at now. It reports the requests left in the window,
// when the current fixed window ends and whether the request is allowed.
func (c *counter) hit(now time.Time, limit int, size time.Duration) (left int, reset time.Time, ok bool) {
	switch elapsed := now.Sub(c.start); {
	case elapsed >= 2*size:
		c.prev, c.curr = 0, 0
		c.start = now.Truncate(size)
	case elapsed >= size:
		c.prev, c.curr = c.curr, 0
		c.start = c.start.Add(size)
	}

	weight := 1 - now.Sub(c.start).Seconds()/size.Seconds()
	used := c.prev*math.Max(weight, 0) + c.curr
	reset = c.start.Add(size)
	if used >= float64(limit) {
		return 0, reset, false
	}
	c.curr++
	return max(int(float64(limit)-used-1), 0), reset, true
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu       sync.Mutex
	counters *lru.Cache[string, *counter]
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultRateLimitKeys
	}
	// Only fails for a non-positive size.
	counters, _ := lru.New[string, *counter](cfg.MaxKeys)
	return &rateLimiter{cfg: cfg, counters: counters}
}

func (rl *rateLimiter) allow(key string, now time.Time) (int, time.Time, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.counters.Get(key)
	if !ok {
		c = &counter{start: now.Truncate(rl.cfg.Window)}
		rl.counters.Add(key, c)
	}
	return c.hit(now, rl.cfg.Max, rl.cfg.Window)
}

// RateLimit returns a middleware that enforces a per-key sliding window rate
// limit. Rejected requests get 429 with the RATE_LIMITED error body and a
// Retry-After header. Every response carries X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset.
func RateLimit(cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			left, reset, ok := rl.allow(rl.cfg.KeyFunc(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(left))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			wait := max(time.Until(reset), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errorBody{
				Code:    http.StatusTooManyRequests,
				Error:   "RATE_LIMITED",
				Message: "rate limit exceeded",
			})
		})
	}
}

// errorBody mirrors the API error envelope.
type errorBody struct {
	Code    int    `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// clientIP keys by the first X-Forwarded-For hop, then X-Real-IP, then the
// remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// HeaderKeyFunc keys the limiter by the given request header, falling back to
// the client IP for requests without it.
func HeaderKeyFunc(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return clientIP(r)
	}
}
