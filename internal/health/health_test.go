package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(context.Context) CheckResult {
	return CheckResult{Name: c.name, Status: c.status}
}

func TestManager_CheckAll(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig(), nil)
	mgr.Register(NewPingChecker("checkpoint-store", func(ctx context.Context) error { return nil }))
	mgr.Register(NewPingChecker("task-queue", func(ctx context.Context) error { return errors.New("connection refused") }))

	results := mgr.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results["checkpoint-store"].Status != StatusHealthy {
		t.Errorf("checkpoint-store status = %v, want healthy", results["checkpoint-store"].Status)
	}
	if r := results["task-queue"]; r.Status != StatusUnhealthy || r.Error != "connection refused" {
		t.Errorf("task-queue result = %+v", r)
	}

	if r, ok := mgr.GetResult("task-queue"); !ok || r.Status != StatusUnhealthy {
		t.Errorf("GetResult() = %+v, %v", r, ok)
	}
}

func TestManager_GetOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"one unknown", []Status{StatusUnknown, StatusHealthy}, StatusUnknown},
		{"one unhealthy", []Status{StatusHealthy, StatusUnhealthy}, StatusUnhealthy},
		{"degraded and unhealthy", []Status{StatusDegraded, StatusUnhealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager(DefaultManagerConfig(), nil)
			for i, status := range tt.statuses {
				mgr.Register(staticChecker{name: string(rune('a' + i)), status: status})
			}
			if got := mgr.GetOverallStatus(context.Background()).Status; got != tt.want {
				t.Errorf("overall status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSourceChecker(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status SourceStatus
		want   Status
	}{
		{"running", SourceStatus{State: "running", Cursor: 10, LastProgressAt: now.Add(-time.Minute)}, StatusHealthy},
		{"running without progress yet", SourceStatus{State: "running"}, StatusHealthy},
		{"stalled", SourceStatus{State: "running", LastProgressAt: now.Add(-2 * time.Hour)}, StatusDegraded},
		{"terminated", SourceStatus{State: "terminated", Cursor: 10}, StatusDegraded},
		{"cancelled", SourceStatus{State: "cancelled"}, StatusDegraded},
		{"failed", SourceStatus{State: "failed", Cursor: 10}, StatusUnhealthy},
		{"idle", SourceStatus{State: "idle"}, StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewSourceChecker("source", time.Hour, func() SourceStatus { return tt.status })
			c.now = func() time.Time { return now }

			result := c.Check(context.Background())
			if result.Status != tt.want {
				t.Errorf("status = %v (%s), want %v", result.Status, result.Message, tt.want)
			}
		})
	}
}

func TestSourceChecker_ContextDone(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := NewSourceChecker("source", 0, func() SourceStatus {
		<-release
		return SourceStatus{State: "running"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := c.Check(ctx)
	if result.Status != StatusUnhealthy {
		t.Errorf("status = %v (%s), want unhealthy", result.Status, result.Message)
	}
}

func TestServer_Endpoints(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		status   Status
		wantCode int
		wantBody string
	}{
		{"live", "/health/live", StatusUnhealthy, http.StatusOK, "alive"},
		{"ready", "/health/ready", StatusHealthy, http.StatusOK, `"ready"`},
		{"not ready", "/health/ready", StatusUnknown, http.StatusServiceUnavailable, "not_ready"},
		{"healthy", "/health", StatusHealthy, http.StatusOK, `"status":"healthy"`},
		{"degraded", "/health", StatusDegraded, http.StatusOK, `"status":"degraded"`},
		{"unhealthy", "/health", StatusUnhealthy, http.StatusServiceUnavailable, `"status":"unhealthy"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager(DefaultManagerConfig(), nil)
			mgr.Register(staticChecker{name: "source", status: tt.status})
			server := NewServer(mgr, DefaultServerConfig(), nil)

			w := httptest.NewRecorder()
			server.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body %q missing %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_Handle(t *testing.T) {
	server := NewServer(NewManager(DefaultManagerConfig(), nil), DefaultServerConfig(), nil)
	server.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("snapstream_source_cycles_total 1"))
	}))

	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), "snapstream_source_cycles_total") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.ListenAddr != ":8081" {
		t.Errorf("expected listen addr :8081, got %s", cfg.ListenAddr)
	}
	if cfg.ReadTimeout != 5*time.Second || cfg.WriteTimeout != 10*time.Second {
		t.Errorf("unexpected timeouts %v/%v", cfg.ReadTimeout, cfg.WriteTimeout)
	}
}
