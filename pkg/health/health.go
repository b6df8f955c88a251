// Package health serves /livez and /readyz probes for the points API.
//
// Every registered check is polled in the background. A check flips to
// unhealthy only after FailureThreshold consecutive failures and back to
// healthy after SuccessThreshold consecutive passes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Thresholds controls flapping protection for every check of a Health.
type Thresholds struct {
	Failure int
	Success int
}

// DefaultThresholds matches the kubelet probe defaults.
var DefaultThresholds = Thresholds{Failure: 3, Success: 1}

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
	limits  Thresholds
	lg      *zap.Logger

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Owned by the polling goroutine.
	fails int
	oks   int
}

func (c *check) isHealthy() bool { return c.healthy.Load() }

func (c *check) getLastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)

	was := c.healthy.Load()
	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.limits.Failure {
			c.healthy.Store(false)
		}
	} else {
		c.fails = 0
		c.oks++
		if c.oks >= c.limits.Success {
			c.healthy.Store(true)
		}
	}
	if now := c.healthy.Load(); now != was {
		if now {
			c.lg.Info("Check recovered", zap.String("check", c.name))
		} else {
			c.lg.Warn("Check failing", zap.String("check", c.name), zap.Error(err))
		}
	}
}

// probe is a named group of checks.
type probe []*check

// failures maps every unhealthy check to its last error text.
func (p probe) failures() map[string]string {
	out := map[string]string{}
	for _, c := range p {
		if c.isHealthy() {
			continue
		}
		msg := "unhealthy"
		if err := c.getLastError(); err != nil {
			msg = err.Error()
		}
		out[c.name] = msg
	}
	return out
}

// Health owns liveness and readiness checks plus a manual readiness gate.
type Health struct {
	limits Thresholds
	lg     *zap.Logger

	live  probe
	ready probe
	gate  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Health.
type Option func(*Health)

// WithThresholds overrides DefaultThresholds.
func WithThresholds(t Thresholds) Option {
	return func(h *Health) { h.limits = t }
}

// WithLogger sets the logger used for check state transitions.
func WithLogger(lg *zap.Logger) Option {
	return func(h *Health) { h.lg = lg }
}

// New creates a Health that is live but not yet ready.
func New(opts ...Option) *Health {
	h := &Health{limits: DefaultThresholds, lg: zap.NewNop()}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Health) newCheck(name string, timeout time.Duration, fn CheckFunc) *check {
	c := &check{name: name, timeout: timeout, fn: fn, limits: h.limits, lg: h.lg}
	c.healthy.Store(true)
	return c
}

// AddLivenessCheck registers a check for /livez. Call before Start.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.live = append(h.live, h.newCheck(name, timeout, fn))
}

// AddReadinessCheck registers a check for /readyz. Call before Start.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.ready = append(h.ready, h.newCheck(name, timeout, fn))
}

// Start polls every check at interval until ctx is done or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, h.cancel = context.WithCancel(ctx)
	for _, c := range append(append(probe{}, h.live...), h.ready...) {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			t := time.NewTicker(interval)
			defer t.Stop()
			c.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					c.run(ctx)
				}
			}
		}()
	}
}

// Stop cancels polling and waits for in-flight checks. Safe to call twice.
func (h *Health) Stop() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// SetReady opens or closes the readiness gate.
func (h *Health) SetReady(ready bool) { h.gate.Store(ready) }

// IsReady reports the gate state.
func (h *Health) IsReady() bool { return h.gate.Load() }

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.live.failures())
}

// ReadyEndpoint serves /readyz. A closed gate reports as "_readiness".
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := h.ready.failures()
	if !h.IsReady() {
		failed["_readiness"] = "not ready"
	}
	writeStatus(w, failed)
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeStatus(w http.ResponseWriter, failed map[string]string) {
	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failed) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: failed}
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
