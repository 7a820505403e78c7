// Package health serves liveness and readiness endpoints.
//
// Every check runs in its own goroutine. A check flips to unhealthy only
// after failureThreshold consecutive failures and back after
// successThreshold consecutive passes. Optional checks are reported but
// never fail readiness; the API uses them for best-effort dependencies such
// as the order cache and the event broker.
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

// CheckFunc returns nil when the dependency is healthy.
type CheckFunc func(ctx context.Context) error

// Probe response statuses.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// CheckOption configures a registered check.
type CheckOption func(*check)

// Optional marks a check as non-critical.
func Optional() CheckOption {
	return func(c *check) { c.optional = true }
}

// WithThresholds overrides the consecutive failure and success counts
// needed to change state.
func WithThresholds(failures, successes int) CheckOption {
	return func(c *check) {
		if failures > 0 {
			c.failureThreshold = failures
		}
		if successes > 0 {
			c.successThreshold = successes
		}
	}
}

// check is run by a single goroutine; only healthy and lastErr are read
// concurrently.
type check struct {
	name             string
	timeout          time.Duration
	fn               CheckFunc
	optional         bool
	failureThreshold int
	successThreshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails, passes int
}

func newCheck(name string, timeout time.Duration, fn CheckFunc, opts []CheckOption) *check {
	c := &check{
		name:             name,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)
	return c
}

// run executes the check once and reports whether its state changed.
func (c *check) run(ctx context.Context) (changed bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)

	was := c.healthy.Load()
	if err != nil {
		c.passes = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy.Store(false)
		}
	} else {
		c.fails = 0
		c.passes++
		if c.passes >= c.successThreshold {
			c.healthy.Store(true)
		}
	}
	return was != c.healthy.Load()
}

func (c *check) failure() string {
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "check is unhealthy"
}

// Health holds the registered checks and the manual readiness flag.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
}

// New creates a Health that starts not ready. State changes of checks are
// logged to lg.
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

// AddLivenessCheck registers a check of the process itself.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newCheck(name, timeout, fn, opts))
}

// AddReadinessCheck registers a check of a dependency needed to serve
// traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newCheck(name, timeout, fn, opts))
}

// Start runs every check now and then every interval until Stop or ctx is
// done. Register checks before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append(append([]*check{}, h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, c := range checks {
		go h.loop(ctx, c, interval)
	}
}

func (h *Health) loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if c.run(ctx) {
			h.logTransition(c)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Health) logTransition(c *check) {
	fields := []zap.Field{zap.String("check", c.name), zap.Bool("optional", c.optional)}
	if c.healthy.Load() {
		h.lg.Info("Health check recovered", fields...)
		return
	}
	h.lg.Warn("Health check failing", append(fields, zap.String("error", c.failure()))...)
}

// SetReady sets the manual readiness flag. The server sets it once wiring
// is done and clears it when draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the flag is set and every critical readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	critical, _ := evaluate(h.snapshot(false))
	return len(critical) == 0
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Health) snapshot(liveness bool) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if liveness {
		return append([]*check{}, h.liveness...)
	}
	return append([]*check{}, h.readiness...)
}

// evaluate splits unhealthy checks into critical and optional failures.
func evaluate(checks []*check) (critical, optional map[string]string) {
	critical = make(map[string]string)
	optional = make(map[string]string)
	for _, c := range checks {
		if c.healthy.Load() {
			continue
		}
		if c.optional {
			optional[c.name] = c.failure()
		} else {
			critical[c.name] = c.failure()
		}
	}
	return critical, optional
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	critical, optional := evaluate(h.snapshot(true))
	writeResponse(w, critical, optional)
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	critical, optional := evaluate(h.snapshot(false))
	if !h.ready.Load() {
		critical["_readiness"] = "service is not ready"
	}
	writeResponse(w, critical, optional)
}

func writeResponse(w http.ResponseWriter, critical, optional map[string]string) {
	resp := statusResponse{Status: StatusOK}
	code := http.StatusOK

	switch {
	case len(critical) > 0:
		resp.Status = StatusUnhealthy
		code = http.StatusServiceUnavailable
	case len(optional) > 0:
		resp.Status = StatusDegraded
	}
	if len(critical)+len(optional) > 0 {
		resp.Checks = make(map[string]string, len(critical)+len(optional))
		for k, v := range optional {
			resp.Checks[k] = v
		}
		for k, v := range critical {
			resp.Checks[k] = v
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
