package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/imyashkale/mcphost/internal/connection"
	"github.com/imyashkale/mcphost/internal/database"
	"github.com/imyashkale/mcphost/internal/models"
	"github.com/imyashkale/mcphost/internal/repository"
	"github.com/stretchr/testify/require"
)

// fakeConn is a scriptable connection.Connection
type fakeConn struct {
	mu         sync.Mutex
	startErr   error
	listErr    error
	tools      []models.ToolSchema
	call       func(ctx context.Context, name string, args map[string]interface{}) (string, error)
	stopDelay  time.Duration
	startDelay time.Duration
	running    bool
	started    int
	stopped    int
}

func (f *fakeConn) Start(ctx context.Context) error {
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	if f.startErr != nil {
		return &connection.StartupError{Server: "fake", Err: f.startErr}
	}
	f.running = true
	return nil
}

func (f *fakeConn) Stop() {
	if f.stopDelay > 0 {
		time.Sleep(f.stopDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.running = false
}

func (f *fakeConn) ListTools(ctx context.Context) ([]models.ToolSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil, connection.ErrNotStarted
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.ToolSchema(nil), f.tools...), nil
}

func (f *fakeConn) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	f.mu.Lock()
	call := f.call
	f.mu.Unlock()
	if call == nil {
		return "ok:" + name, nil
	}
	return call(ctx, name, args)
}

func (f *fakeConn) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeConn) SandboxStats() *models.SandboxStats {
	return &models.SandboxStats{Status: "running", PID: 4242}
}

func (f *fakeConn) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

func (f *fakeConn) setTools(tools ...models.ToolSchema) {
	f.mu.Lock()
	f.tools = tools
	f.mu.Unlock()
}

func (f *fakeConn) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// script describes how connections built for one server behave
type script struct {
	startErr   error
	listErr    error
	tools      []models.ToolSchema
	call       func(ctx context.Context, name string, args map[string]interface{}) (string, error)
	stopDelay  time.Duration
	startDelay time.Duration
}

// fakeFactory builds a fresh fakeConn per start from the server's script
type fakeFactory struct {
	mu      sync.Mutex
	scripts map[string]script
	last    map[string]*fakeConn
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		scripts: make(map[string]script),
		last:    make(map[string]*fakeConn),
	}
}

func (f *fakeFactory) set(name string, s script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[name] = s
}

// conn returns the most recent connection built for name
func (f *fakeFactory) conn(name string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[name]
}

func (f *fakeFactory) build(server *models.MCPServer) (connection.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.scripts[server.Name]
	if !ok {
		s = script{tools: []models.ToolSchema{{Name: "echo", Description: "Echo"}}}
	}
	conn := &fakeConn{
		startErr:   s.startErr,
		listErr:    s.listErr,
		tools:      s.tools,
		call:       s.call,
		stopDelay:  s.stopDelay,
		startDelay: s.startDelay,
	}
	f.last[server.Name] = conn
	return conn, nil
}

func newTestStore(t *testing.T) repository.Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "mcphost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.NewSQLiteStore(db)
}

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		HealthCheckInterval: time.Hour,
		HealthStopTimeout:   time.Second,
		ShutdownTimeout:     2 * time.Second,
		ServerStopTimeout:   time.Second,
		ToolCallTimeout:     2 * time.Second,
		StartupWorkers:      2,
	}
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*MCPManager, *fakeFactory, repository.Store) {
	t.Helper()
	store := newTestStore(t)
	factory := newFakeFactory()
	m := NewMCPManager(store, cfg, WithConnectionFactory(factory.build))
	t.Cleanup(m.Stop)
	return m, factory, store
}

// statusLog records every status write on top of a real store
type statusLog struct {
	repository.Store

	mu     sync.Mutex
	writes map[string][]models.ServerStatus
}

func newStatusLog(store repository.Store) *statusLog {
	return &statusLog{Store: store, writes: make(map[string][]models.ServerStatus)}
}

func (s *statusLog) UpdateServerStatus(ctx context.Context, id string, status models.ServerStatus, message string) error {
	s.mu.Lock()
	s.writes[id] = append(s.writes[id], status)
	s.mu.Unlock()
	return s.Store.UpdateServerStatus(ctx, id, status, message)
}

func (s *statusLog) statuses(id string) []models.ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ServerStatus(nil), s.writes[id]...)
}

func boolPtr(b bool) *bool {
	return &b
}

func localRequest(name string) *models.RegisterServerRequest {
	return &models.RegisterServerRequest{
		Name:       name,
		ServerType: models.ServerTypeLocal,
		Config: models.ServerConfig{
			"command": "python",
			"args":    []interface{}{name + "_server.py"},
		},
	}
}
