// Package health reports the health of a running snapshot source over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component is degraded but functional.
	StatusDegraded Status = "degraded"
	// StatusUnknown indicates the health status is unknown.
	StatusUnknown Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	LastCheck time.Time     `json:"last_check"`
	Error     string        `json:"error,omitempty"`
}

// Checker defines the interface for health check providers.
type Checker interface {
	// Check performs the health check.
	Check(ctx context.Context) CheckResult

	// Name returns the name of the component.
	Name() string
}

// Manager runs the registered checks.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	results  map[string]CheckResult
	logger   *slog.Logger
	timeout  time.Duration
}

// ManagerConfig holds configuration for the health manager.
type ManagerConfig struct {
	// Timeout is the timeout for individual health checks.
	Timeout time.Duration
}

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{Timeout: 5 * time.Second}
}

// NewManager creates a new health manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		results: make(map[string]CheckResult),
		logger:  logger.With("component", "health-manager"),
		timeout: cfg.Timeout,
	}
}

// Register adds a checker.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
	m.logger.Debug("registered health checker", "name", checker.Name())
}

// CheckAll runs every registered check and records the results.
func (m *Manager) CheckAll(ctx context.Context) map[string]CheckResult {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	for _, checker := range checkers {
		checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
		results[checker.Name()] = checker.Check(checkCtx)
		cancel()
	}

	m.mu.Lock()
	for name, result := range results {
		m.results[name] = result
	}
	m.mu.Unlock()

	return results
}

// GetResult returns the last result for a specific checker.
func (m *Manager) GetResult(name string) (CheckResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result, ok := m.results[name]
	return result, ok
}

// IsReady reports whether every component is healthy or degraded.
func (m *Manager) IsReady(ctx context.Context) bool {
	for _, result := range m.CheckAll(ctx) {
		if result.Status != StatusHealthy && result.Status != StatusDegraded {
			return false
		}
	}
	return true
}

// OverallStatus is the aggregated health of all components.
type OverallStatus struct {
	Status     Status                 `json:"status"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// GetOverallStatus returns the worst status across components.
func (m *Manager) GetOverallStatus(ctx context.Context) OverallStatus {
	results := m.CheckAll(ctx)

	overall := OverallStatus{
		Status:     StatusHealthy,
		Components: results,
		Timestamp:  time.Now(),
	}

	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			overall.Status = StatusUnhealthy
			return overall
		case StatusDegraded, StatusUnknown:
			if overall.Status == StatusHealthy {
				overall.Status = result.Status
			}
		}
	}
	return overall
}

// Server provides HTTP endpoints for health checks.
type Server struct {
	manager *Manager
	logger  *slog.Logger
	mux     *http.ServeMux
	server  *http.Server
}

// ServerConfig holds configuration for the health server.
type ServerConfig struct {
	ListenAddr   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:   ":8081",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates a new health server.
func NewServer(manager *Manager, cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		manager: manager,
		logger:  logger.With("component", "health-server"),
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/health/live", s.handleLiveness)
	s.mux.HandleFunc("/health/ready", s.handleReadiness)

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handle mounts an extra handler, such as a metrics endpoint, on the server.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting health server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the health server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping health server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.manager.GetOverallStatus(r.Context())

	w.Header().Set("Content-Type", "application/json")
	switch status.Status {
	case StatusHealthy, StatusDegraded:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("failed to encode health response", "error", err)
	}
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"alive","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.manager.IsReady(r.Context()) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ready","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, `{"status":"not_ready","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// PingChecker reports a dependency healthy when its ping succeeds.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingChecker creates a checker for a store or connection.
func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

// Name returns the name of the component.
func (c *PingChecker) Name() string {
	return c.name
}

// Check performs the health check.
func (c *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.name, LastCheck: start}

	err := c.ping(ctx)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "ping failed"
	} else {
		result.Status = StatusHealthy
		result.Message = "reachable"
	}
	return result
}

// SourceStatus is what SourceChecker needs to know about a source.
type SourceStatus struct {
	// State is the lifecycle state name (idle, running, cancelled, terminated, failed).
	State string

	// Cursor is the last consumed snapshot id.
	Cursor int64

	// LastProgressAt is when the source last consumed a snapshot.
	LastProgressAt time.Time
}

// SourceChecker maps a source's lifecycle state to a health status.
type SourceChecker struct {
	name       string
	status     func() SourceStatus
	stallAfter time.Duration
	now        func() time.Time
}

// NewSourceChecker creates a checker for a source. When stallAfter is
// positive, a running source without progress for that long is degraded.
func NewSourceChecker(name string, stallAfter time.Duration, status func() SourceStatus) *SourceChecker {
	return &SourceChecker{name: name, status: status, stallAfter: stallAfter, now: time.Now}
}

// Name returns the name of the component.
func (c *SourceChecker) Name() string {
	return c.name
}

// Check performs the health check. The check is unhealthy if the status
// callback does not return before ctx is done.
func (c *SourceChecker) Check(ctx context.Context) CheckResult {
	start := c.now()
	result := CheckResult{Name: c.name, LastCheck: start}

	statusCh := make(chan SourceStatus, 1)
	go func() { statusCh <- c.status() }()

	var st SourceStatus
	select {
	case st = <-statusCh:
	case <-ctx.Done():
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("source status unavailable: %v", ctx.Err())
		result.Duration = c.now().Sub(start)
		return result
	}

	switch st.State {
	case "running":
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("polling at snapshot %d", st.Cursor)
		if c.stallAfter > 0 && !st.LastProgressAt.IsZero() && start.Sub(st.LastProgressAt) > c.stallAfter {
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("no new snapshot since %s", st.LastProgressAt.Format(time.RFC3339))
		}
	case "failed":
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("source failed at snapshot %d", st.Cursor)
	case "cancelled", "terminated":
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("source %s at snapshot %d", st.State, st.Cursor)
	default:
		result.Status = StatusUnknown
		result.Message = "source not started"
	}

	result.Duration = c.now().Sub(start)
	return result
}

var (
	_ Checker = (*PingChecker)(nil)
	_ Checker = (*SourceChecker)(nil)
)
