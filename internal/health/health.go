// Package health reports the status of the snapshot service dependencies.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/matrixise/holder-snapshot/internal/graph"
	"github.com/matrixise/holder-snapshot/internal/scheduler"
)

// metaQuery asks an indexer for the block it has synced to.
const metaQuery = `{ _meta { block { number } } }`

// Pinger is satisfied by storage.Store
type Pinger interface {
	Ping(ctx context.Context) error
}

// RPC is satisfied by blockchain.Client
type RPC interface {
	Ping(ctx context.Context) error
	EndpointsHealth() map[string]bool
}

// Daemon is satisfied by scheduler.Scheduler
type Daemon interface {
	LastStatus() scheduler.RunStatus
	ExpectedInterval() time.Duration
}

// Checker performs health checks on application dependencies. Nil
// dependencies are not checked.
type Checker struct {
	store  Pinger
	rpc    RPC
	graphs map[string]graph.Querier
	daemon Daemon
	now    func() time.Time
}

// NewChecker creates a new health checker
func NewChecker(store Pinger, rpc RPC, graphs map[string]graph.Querier, daemon Daemon) *Checker {
	return &Checker{
		store:  store,
		rpc:    rpc,
		graphs: graphs,
		daemon: daemon,
		now:    time.Now,
	}
}

// CheckStatus represents the health status of a component
type CheckStatus string

const (
	StatusOK       CheckStatus = "ok"
	StatusDegraded CheckStatus = "degraded"
	StatusError    CheckStatus = "error"
)

// HealthResponse is the JSON response structure
type HealthResponse struct {
	Status    CheckStatus            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckDetail `json:"checks"`
	Uptime    string                 `json:"uptime,omitempty"`
}

// CheckDetail contains details about a specific health check
type CheckDetail struct {
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

var startTime = time.Now()

// Check performs all health checks and returns the aggregated status
func (c *Checker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]CheckDetail)
	overall := StatusOK

	record := func(name string, detail CheckDetail) {
		checks[name] = detail
		overall = worst(overall, detail.Status)
	}

	if c.store != nil {
		record("database", c.checkDatabase(ctx))
	}
	if c.rpc != nil {
		record("rpc_endpoints", c.checkRPC(ctx))
	}
	if len(c.graphs) > 0 {
		record("graph_endpoints", c.checkGraphs(ctx))
	}
	if c.daemon != nil {
		record("daemon", c.checkDaemon())
	}

	return HealthResponse{
		Status:    overall,
		Timestamp: c.now(),
		Checks:    checks,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
}

func worst(a, b CheckStatus) CheckStatus {
	rank := map[CheckStatus]int{StatusOK: 0, StatusDegraded: 1, StatusError: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// checkDatabase verifies PostgreSQL connectivity
func (c *Checker) checkDatabase(ctx context.Context) CheckDetail {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		slog.Error("Health check: database ping failed", "error", err)
		return CheckDetail{Status: StatusError, Message: "database unreachable: " + err.Error()}
	}
	return CheckDetail{Status: StatusOK, Message: "database connection healthy"}
}

// checkRPC verifies that at least one RPC endpoint answers
func (c *Checker) checkRPC(ctx context.Context) CheckDetail {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.rpc.Ping(ctx); err != nil {
		slog.Error("Health check: RPC endpoint failed", "error", err)
		return CheckDetail{Status: StatusError, Message: "RPC endpoint not responding: " + err.Error()}
	}

	endpoints := c.rpc.EndpointsHealth()
	healthy := 0
	for _, ok := range endpoints {
		if ok {
			healthy++
		}
	}
	if healthy == len(endpoints) {
		return CheckDetail{Status: StatusOK, Message: "all RPC endpoints healthy"}
	}
	return CheckDetail{
		Status:  StatusDegraded,
		Message: fmt.Sprintf("%d/%d RPC endpoints healthy", healthy, len(endpoints)),
	}
}

// checkGraphs probes every indexer with a _meta query. Any failure degrades
// the service; all failing is an error since no snapshot can be taken.
func (c *Checker) checkGraphs(ctx context.Context) CheckDetail {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	endpoints := make([]string, 0, len(c.graphs))
	for endpoint := range c.graphs {
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)

	var failed []string
	for _, endpoint := range endpoints {
		if _, err := c.graphs[endpoint].Query(ctx, metaQuery, nil); err != nil {
			slog.Warn("Health check: graph endpoint failed", "endpoint", endpoint, "error", err)
			failed = append(failed, endpoint)
		}
	}

	switch {
	case len(failed) == 0:
		return CheckDetail{Status: StatusOK, Message: fmt.Sprintf("%d graph endpoints healthy", len(endpoints))}
	case len(failed) == len(endpoints):
		return CheckDetail{Status: StatusError, Message: "no graph endpoint responding"}
	default:
		return CheckDetail{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d/%d graph endpoints failing: %v", len(failed), len(endpoints), failed),
		}
	}
}

// checkDaemon verifies the daemon is executing at expected intervals
func (c *Checker) checkDaemon() CheckDetail {
	last := c.daemon.LastStatus()
	if last.FinishedAt.IsZero() {
		return CheckDetail{Status: StatusOK, Message: "daemon not yet executed (startup)"}
	}
	if last.Err != nil {
		return CheckDetail{Status: StatusDegraded, Message: "last execution failed: " + last.Err.Error()}
	}

	// Allow a 2x interval grace period
	interval := c.daemon.ExpectedInterval()
	since := c.now().Sub(last.FinishedAt)
	if since > interval*2 {
		return CheckDetail{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("no execution in %s (expected every %s)", since.Round(time.Second), interval),
		}
	}
	return CheckDetail{
		Status:  StatusOK,
		Message: fmt.Sprintf("last executed %s ago", since.Round(time.Second)),
	}
}

// Handler returns an http.HandlerFunc for the health endpoint
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.Check(r.Context())

		statusCode := http.StatusOK
		if status.Status == StatusError {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Error("Failed to encode health response", "error", err)
		}
	}
}
