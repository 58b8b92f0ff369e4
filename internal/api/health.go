package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// dependency is one readiness check. Losing a critical dependency takes the
// instance out of rotation; losing any other only degrades it.
type dependency struct {
	name     string
	critical bool
	pinger   Pinger
}

type HealthHandler struct {
	deps    []dependency
	timeout time.Duration // per check
	metrics *metrics.SchedulingMetrics
	env     string
	version string
}

// NewHealthHandler checks Postgres as critical: it holds the ledger and the
// unique slot index. Redis is not: without it bookings lose the slot lock and
// the notification stream, but the index still rules out double booking.
func NewHealthHandler(postgres Pinger, rdb *redis.Client, m *metrics.SchedulingMetrics, env, version string) *HealthHandler {
	h := &HealthHandler{
		timeout: time.Second,
		metrics: m,
		env:     env,
		version: version,
	}
	if postgres != nil {
		h.deps = append(h.deps, dependency{name: "postgres", critical: true, pinger: postgres})
	}
	if rdb != nil {
		h.deps = append(h.deps, dependency{name: "redis", pinger: PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})})
	}
	return h
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type DependencyStatus struct {
	Status    string  `json:"status"` // ok, down
	Critical  bool    `json:"critical"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"` // timeout, unreachable
}

type ReadinessResponse struct {
	Status       string                      `json:"status"` // ok, degraded, error
	Version      string                      `json:"version,omitempty"`
	Env          string                      `json:"env,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness runs every check concurrently, each under its own timeout, so
// one hung dependency does not hide the state of the others.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	results := make([]DependencyStatus, len(h.deps))

	var wg sync.WaitGroup
	for i, dep := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.check(r.Context(), dep)
		}()
	}
	wg.Wait()

	resp := ReadinessResponse{
		Status:       "ok",
		Version:      h.version,
		Env:          h.env,
		Dependencies: make(map[string]DependencyStatus, len(h.deps)),
	}
	for i, dep := range h.deps {
		res := results[i]
		resp.Dependencies[dep.name] = res
		h.metrics.ObserveDependency(dep.name, res.Status == "ok")

		switch {
		case res.Status == "ok":
		case dep.critical:
			resp.Status = "error"
		case resp.Status == "ok":
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status == "error" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *HealthHandler) check(ctx context.Context, dep dependency) DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := dep.pinger.Ping(ctx)
	res := DependencyStatus{
		Status:    "ok",
		Critical:  dep.critical,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Status = "down"
		res.Error = "unreachable"
		if errors.Is(err, context.DeadlineExceeded) {
			res.Error = "timeout"
		}
	}
	return res
}
