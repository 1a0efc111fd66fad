package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/holder-snapshot/internal/graph"
	"github.com/matrixise/holder-snapshot/internal/scheduler"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeRPC struct {
	err       error
	endpoints map[string]bool
}

func (f fakeRPC) Ping(context.Context) error       { return f.err }
func (f fakeRPC) EndpointsHealth() map[string]bool { return f.endpoints }

type fakeGraph struct{ err error }

func (f fakeGraph) Query(context.Context, string, map[string]any) (map[string]json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]json.RawMessage{"_meta": json.RawMessage(`{"block":{"number":1}}`)}, nil
}

type fakeDaemon struct {
	status   scheduler.RunStatus
	interval time.Duration
}

func (f fakeDaemon) LastStatus() scheduler.RunStatus { return f.status }
func (f fakeDaemon) ExpectedInterval() time.Duration { return f.interval }

var (
	now     = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	boom    = errors.New("boom")
	allRPCs = map[string]bool{"https://a": true, "https://b": true}
)

func newTestChecker(store Pinger, rpc RPC, graphs map[string]graph.Querier, daemon Daemon) *Checker {
	c := NewChecker(store, rpc, graphs, daemon)
	c.now = func() time.Time { return now }
	return c
}

func TestCheck(t *testing.T) {
	healthyGraphs := map[string]graph.Querier{"https://g1": fakeGraph{}, "https://g2": fakeGraph{}}

	tests := []struct {
		name       string
		checker    *Checker
		wantStatus CheckStatus
		wantChecks map[string]CheckStatus
	}{
		{
			name:       "all healthy",
			checker:    newTestChecker(fakePinger{}, fakeRPC{endpoints: allRPCs}, healthyGraphs, nil),
			wantStatus: StatusOK,
			wantChecks: map[string]CheckStatus{"database": StatusOK, "rpc_endpoints": StatusOK, "graph_endpoints": StatusOK},
		},
		{
			name:       "database down",
			checker:    newTestChecker(fakePinger{err: boom}, fakeRPC{endpoints: allRPCs}, nil, nil),
			wantStatus: StatusError,
			wantChecks: map[string]CheckStatus{"database": StatusError, "rpc_endpoints": StatusOK},
		},
		{
			name:       "one rpc endpoint unhealthy",
			checker:    newTestChecker(nil, fakeRPC{endpoints: map[string]bool{"https://a": true, "https://b": false}}, nil, nil),
			wantStatus: StatusDegraded,
			wantChecks: map[string]CheckStatus{"rpc_endpoints": StatusDegraded},
		},
		{
			name:       "rpc not responding",
			checker:    newTestChecker(nil, fakeRPC{err: boom}, nil, nil),
			wantStatus: StatusError,
			wantChecks: map[string]CheckStatus{"rpc_endpoints": StatusError},
		},
		{
			name: "one graph endpoint failing",
			checker: newTestChecker(nil, nil, map[string]graph.Querier{
				"https://g1": fakeGraph{},
				"https://g2": fakeGraph{err: boom},
			}, nil),
			wantStatus: StatusDegraded,
			wantChecks: map[string]CheckStatus{"graph_endpoints": StatusDegraded},
		},
		{
			name:       "every graph endpoint failing",
			checker:    newTestChecker(nil, nil, map[string]graph.Querier{"https://g1": fakeGraph{err: boom}}, nil),
			wantStatus: StatusError,
			wantChecks: map[string]CheckStatus{"graph_endpoints": StatusError},
		},
		{
			name:       "daemon not yet run",
			checker:    newTestChecker(nil, nil, nil, fakeDaemon{interval: time.Hour}),
			wantStatus: StatusOK,
			wantChecks: map[string]CheckStatus{"daemon": StatusOK},
		},
		{
			name: "daemon last run failed",
			checker: newTestChecker(nil, nil, nil, fakeDaemon{
				status:   scheduler.RunStatus{FinishedAt: now.Add(-time.Minute), Err: boom},
				interval: time.Hour,
			}),
			wantStatus: StatusDegraded,
			wantChecks: map[string]CheckStatus{"daemon": StatusDegraded},
		},
		{
			name: "daemon late",
			checker: newTestChecker(nil, nil, nil, fakeDaemon{
				status:   scheduler.RunStatus{FinishedAt: now.Add(-3 * time.Hour)},
				interval: time.Hour,
			}),
			wantStatus: StatusDegraded,
			wantChecks: map[string]CheckStatus{"daemon": StatusDegraded},
		},
		{
			name: "daemon on schedule",
			checker: newTestChecker(nil, nil, nil, fakeDaemon{
				status:   scheduler.RunStatus{FinishedAt: now.Add(-30 * time.Minute)},
				interval: time.Hour,
			}),
			wantStatus: StatusOK,
			wantChecks: map[string]CheckStatus{"daemon": StatusOK},
		},
		{
			name:       "nothing configured",
			checker:    newTestChecker(nil, nil, nil, nil),
			wantStatus: StatusOK,
			wantChecks: map[string]CheckStatus{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.checker.Check(context.Background())

			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, now, resp.Timestamp)
			got := make(map[string]CheckStatus, len(resp.Checks))
			for name, detail := range resp.Checks {
				got[name] = detail.Status
			}
			assert.Equal(t, tt.wantChecks, got)
		})
	}
}

func TestHandler(t *testing.T) {
	tests := []struct {
		name     string
		checker  *Checker
		wantCode int
	}{
		{"healthy", newTestChecker(fakePinger{}, nil, nil, nil), http.StatusOK},
		{"degraded still serves 200", newTestChecker(nil, fakeRPC{endpoints: map[string]bool{"https://a": false, "https://b": true}}, nil, nil), http.StatusOK},
		{"error serves 503", newTestChecker(fakePinger{err: boom}, nil, nil, nil), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.checker.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Status)
		})
	}
}
