package monitoring

import (
	"context"
	"sync"
	"time"
)

// HealthChecker runs named checks. A check registered with an Interval is
// evaluated in the background once StartBackgroundChecks runs, and CheckAll
// reports its most recent result instead of calling it inline.
type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex

	resultsMu sync.RWMutex
	results   map[string]checkResult
}

type checkResult struct {
	healthy bool
	err     error
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) (bool, error)
	Interval time.Duration
	Timeout  time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make([]HealthCheck, 0),
		results: make(map[string]checkResult),
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:     name,
		Check:    check,
		Interval: interval,
		Timeout:  timeout,
	})
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	for _, check := range h.checks {
		healthy, err := h.evaluate(ctx, check)
		if err != nil || !healthy {
			status.Status = "unhealthy"
			if err != nil {
				status.Checks[check.Name] = err.Error()
			} else {
				status.Checks[check.Name] = "check failed"
			}
		} else {
			status.Checks[check.Name] = "healthy"
		}
	}

	return status
}

func (h *HealthChecker) IsHealthy(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}

func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, check := range h.checks {
		if check.Interval > 0 {
			go h.runCheckPeriodically(ctx, check)
		}
	}
}

func (h *HealthChecker) evaluate(ctx context.Context, check HealthCheck) (bool, error) {
	if check.Interval > 0 {
		h.resultsMu.RLock()
		res, ok := h.results[check.Name]
		h.resultsMu.RUnlock()
		if ok {
			return res.healthy, res.err
		}
	}
	return runCheck(ctx, check)
}

func (h *HealthChecker) runCheckPeriodically(ctx context.Context, check HealthCheck) {
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	for {
		h.record(ctx, check)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthChecker) record(ctx context.Context, check HealthCheck) {
	healthy, err := runCheck(ctx, check)
	if ctx.Err() != nil {
		return
	}
	h.resultsMu.Lock()
	h.results[check.Name] = checkResult{healthy: healthy, err: err}
	h.resultsMu.Unlock()
}

func runCheck(ctx context.Context, check HealthCheck) (bool, error) {
	if check.Timeout <= 0 {
		return check.Check(ctx)
	}
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()
	return check.Check(checkCtx)
}
