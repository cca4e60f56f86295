// Package handlers holds the health checker and the middleware of the
// diagnostics API.
package handlers

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker reports the state of the service dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns nil when the dependency answers.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is served by /health and consulted by /ready.
// Healthy needs every check to pass; Ready only the required ones.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Required bool   `json:"required"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type probe struct {
	name     string
	fn       HealthCheckFunc
	required bool
}

// CompositeHealthChecker runs registered probes in parallel, each under its
// own timeout.
type CompositeHealthChecker struct {
	mu      sync.RWMutex
	probes  []probe
	started time.Time
	version string
	timeout time.Duration
}

func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{started: time.Now(), version: version, timeout: 5 * time.Second}
}

func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
}

// AddCheck registers a probe that gates readiness. A probe with the same
// name is replaced.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.register(probe{name: name, fn: fn, required: true})
}

// AddOptionalCheck registers a probe that only affects Healthy.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, fn HealthCheckFunc) {
	c.register(probe{name: name, fn: fn})
}

func (c *CompositeHealthChecker) register(p probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = slices.DeleteFunc(c.probes, func(q probe) bool { return q.name == p.name })
	c.probes = append(c.probes, p)
}

func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	probes := slices.Clone(c.probes)
	timeout := c.timeout
	c.mu.RUnlock()

	results := make([]CheckResult, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			results[i] = run(ctx, p, timeout)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(probes)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	var failed []string
	for i, p := range probes {
		r := results[i]
		status.Checks[p.name] = r
		if r.Healthy {
			continue
		}
		failed = append(failed, p.name)
		status.Healthy = false
		status.Ready = status.Ready && !r.Required
	}

	switch {
	case len(probes) == 0:
		status.Message = "No health checks registered"
	case len(failed) == 0:
		status.Message = "All checks passed"
	default:
		slices.Sort(failed)
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

func run(ctx context.Context, p probe, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.fn(ctx)
	r := CheckResult{
		Healthy:  err == nil,
		Required: p.required,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// Pinger is implemented by the ledger stores and the Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewPingCheck(p Pinger) HealthCheckFunc {
	return p.Ping
}
