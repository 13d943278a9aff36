package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthStatus is the overall readiness.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthChecker checks one dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

// Name implements HealthChecker.
func (c CheckFunc) Name() string { return c.CheckName }

// Check implements HealthChecker.
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// HealthCheckResult is the outcome of one check.
type HealthCheckResult struct {
	Name    string        `json:"name"`
	Status  string        `json:"status"` // "ok" or "error"
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// HealthReport aggregates every check.
type HealthReport struct {
	Status    HealthStatus                 `json:"status"`
	Checks    map[string]HealthCheckResult `json:"checks"`
	Uptime    time.Duration                `json:"uptime"`
	Timestamp time.Time                    `json:"timestamp"`
}

// Healthy reports whether every check passed.
func (r HealthReport) Healthy() bool { return r.Status == HealthStatusHealthy }

// HealthRegistry holds the dependency checks behind /health/ready.
type HealthRegistry struct {
	mu      sync.RWMutex
	checks  map[string]HealthChecker
	timeout time.Duration
}

// NewHealthRegistry creates a registry. timeout bounds each check; zero means 5s.
func NewHealthRegistry(timeout time.Duration) *HealthRegistry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthRegistry{checks: make(map[string]HealthChecker), timeout: timeout}
}

// Register adds or replaces a check.
func (r *HealthRegistry) Register(check HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[check.Name()] = check
}

// RegisterFunc registers fn under name.
func (r *HealthRegistry) RegisterFunc(name string, fn func(ctx context.Context) error) {
	r.Register(CheckFunc{CheckName: name, Fn: fn})
}

// Names returns the registered check names, sorted.
func (r *HealthRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunAll runs every check concurrently. One failing check makes the report unhealthy.
func (r *HealthRegistry) RunAll(ctx context.Context) HealthReport {
	r.mu.RLock()
	checks := make([]HealthChecker, 0, len(r.checks))
	for _, c := range r.checks {
		checks = append(checks, c)
	}
	r.mu.RUnlock()

	report := HealthReport{
		Status:    HealthStatusHealthy,
		Checks:    make(map[string]HealthCheckResult, len(checks)),
		Uptime:    time.Since(startTime),
		Timestamp: time.Now().UTC(),
	}

	results := make(chan HealthCheckResult, len(checks))
	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			start := time.Now()
			err := c.Check(checkCtx)
			result := HealthCheckResult{Name: c.Name(), Status: "ok", Latency: time.Since(start)}
			if err != nil {
				result.Status = "error"
				result.Error = err.Error()
			}
			results <- result
		}(c)
	}
	wg.Wait()
	close(results)

	for result := range results {
		report.Checks[result.Name] = result
		if result.Status != "ok" {
			report.Status = HealthStatusUnhealthy
		}
	}
	return report
}
