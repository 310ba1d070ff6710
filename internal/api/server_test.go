package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/janovincze/snapstream/internal/api/middleware"
	"github.com/janovincze/snapstream/internal/api/models"
	"github.com/janovincze/snapstream/internal/checkpoint"
	"github.com/janovincze/snapstream/internal/source"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSource struct {
	mu     sync.Mutex
	state  source.State
	cursor int64
}

func (f *fakeSource) Name() string { return "db.events" }

func (f *fakeSource) State() source.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) Cursor() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

func (f *fakeSource) PollingState() source.PollingState {
	return source.PollingState{Current: 2 * time.Second, Min: time.Second, Max: 8 * time.Second}
}

func (f *fakeSource) Stats() source.Stats {
	return source.Stats{Cycles: 4, SnapshotsConsumed: 2, TasksEmitted: 7, LastProgressAt: time.Unix(1700000000, 0)}
}

func (f *fakeSource) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = source.StateCancelled
}

func (f *fakeSource) OnRestore(context.Context, checkpoint.RestoreContext) error { return nil }

func (f *fakeSource) OnCheckpoint(_ context.Context, sc checkpoint.SnapshotContext) error {
	sc.State.Clear()
	sc.State.Add(f.Cursor())
	return nil
}

func newTestServer(t *testing.T, withCoordinator bool) (*Server, *fakeSource) {
	t.Helper()
	src := &fakeSource{state: source.StateRunning, cursor: 55}
	cfg := ServerConfig{
		Version:         "1.2.3",
		Source:          src,
		MetricsEnabled:  true,
		CORSConfig:      middleware.DefaultCORSConfig(),
		RateLimitConfig: middleware.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	}
	if withCoordinator {
		coord, err := checkpoint.NewCoordinator(checkpoint.NewMemoryManager(), checkpoint.DefaultConfig(), nil)
		if err != nil {
			t.Fatalf("NewCoordinator() error = %v", err)
		}
		cfg.Coordinator = coord
	}
	return NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), src
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestServer_Version(t *testing.T) {
	s, _ := newTestServer(t, false)

	w := do(s, http.MethodGet, "/api/v1/version")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp models.VersionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Version != "1.2.3" || resp.APIVersion != "v1" || resp.GoVersion == "" {
		t.Errorf("unexpected version response %+v", resp)
	}
}

func TestServer_SourceStatus(t *testing.T) {
	s, _ := newTestServer(t, false)

	w := do(s, http.MethodGet, "/api/v1/source")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp models.SourceStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Name != "db.events" || resp.State != "running" || resp.Cursor != 55 {
		t.Errorf("unexpected status %+v", resp)
	}
	if resp.PollIntervalMs != 2000 || resp.MinPollIntervalMs != 1000 || resp.MaxPollIntervalMs != 8000 {
		t.Errorf("unexpected intervals %+v", resp)
	}
	if resp.TasksEmitted != 7 || resp.LastProgressAt == nil {
		t.Errorf("unexpected stats %+v", resp)
	}
}

func TestServer_CancelSource(t *testing.T) {
	s, src := newTestServer(t, false)

	w := do(s, http.MethodPost, "/api/v1/source/cancel")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, w.Code)
	}
	if src.State() != source.StateCancelled {
		t.Errorf("source state = %v, want cancelled", src.State())
	}

	w = do(s, http.MethodPost, "/api/v1/source/cancel")
	if w.Code != http.StatusConflict {
		t.Errorf("second cancel: expected status %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestServer_Checkpoint(t *testing.T) {
	s, _ := newTestServer(t, true)

	if w := do(s, http.MethodGet, "/api/v1/checkpoint"); w.Code != http.StatusNotFound {
		t.Fatalf("before any checkpoint: expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	w := do(s, http.MethodPost, "/api/v1/checkpoint")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, w.Code)
	}
	var created models.CheckpointResponse
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.SourceID != "db.events" || len(created.Values) != 1 || created.Values[0] != 55 {
		t.Errorf("unexpected checkpoint %+v", created)
	}

	w = do(s, http.MethodGet, "/api/v1/checkpoint")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var last models.CheckpointResponse
	if err := json.NewDecoder(w.Body).Decode(&last); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if last.CheckpointID != created.CheckpointID {
		t.Errorf("last checkpoint id = %q, want %q", last.CheckpointID, created.CheckpointID)
	}
}

func TestServer_CheckpointRoutesNeedCoordinator(t *testing.T) {
	s, _ := newTestServer(t, false)

	if w := do(s, http.MethodPost, "/api/v1/checkpoint"); w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestServer_AuthGuardsMutatingRoutes(t *testing.T) {
	secret := []byte("admin-secret")
	src := &fakeSource{state: source.StateRunning, cursor: 55}
	coord, err := checkpoint.NewCoordinator(checkpoint.NewMemoryManager(), checkpoint.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	s := NewServer(ServerConfig{
		Source:          src,
		Coordinator:     coord,
		CORSConfig:      middleware.DefaultCORSConfig(),
		RateLimitConfig: middleware.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
		AuthConfig:      middleware.AuthConfig{Enabled: true, Secret: secret},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, path := range []string{"/api/v1/source/cancel", "/api/v1/checkpoint"} {
		if w := do(s, http.MethodPost, path); w.Code != http.StatusUnauthorized {
			t.Errorf("POST %s without token: status %d, want 401", path, w.Code)
		}
	}
	if src.State() != source.StateRunning {
		t.Fatalf("source state = %s, an unauthenticated cancel must not stop it", src.State())
	}
	if w := do(s, http.MethodGet, "/api/v1/source"); w.Code != http.StatusOK {
		t.Errorf("GET /api/v1/source: status %d, want 200 without a token", w.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkpoint", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("POST /api/v1/checkpoint with token: status %d, want 201 (body %s)", w.Code, w.Body.String())
	}
}
