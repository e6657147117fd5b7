package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/imyashkale/mcphost/internal/config"
	"github.com/imyashkale/mcphost/internal/connection"
	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/metrics"
	"github.com/imyashkale/mcphost/internal/models"
	"github.com/imyashkale/mcphost/internal/queue"
	"github.com/imyashkale/mcphost/internal/repository"
	"github.com/imyashkale/mcphost/internal/sandbox"
)

// serverStartTimeout bounds the spawn and handshake of a single server
const serverStartTimeout = 30 * time.Second

// ManagerConfig holds the orchestration timings
type ManagerConfig struct {
	HealthCheckInterval time.Duration
	HealthStopTimeout   time.Duration
	ShutdownTimeout     time.Duration
	ServerStopTimeout   time.Duration
	ToolCallTimeout     time.Duration
	StartupWorkers      int
}

// DefaultManagerConfig returns the production defaults
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HealthCheckInterval: 60 * time.Second,
		HealthStopTimeout:   2 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		ServerStopTimeout:   sandbox.DefaultStopTimeout,
		ToolCallTimeout:     120 * time.Second,
		StartupWorkers:      4,
	}
}

// NewManagerConfig creates the manager configuration from the application config
func NewManagerConfig(cfg *config.Config) ManagerConfig {
	return ManagerConfig{
		HealthCheckInterval: cfg.HealthCheckInterval,
		HealthStopTimeout:   cfg.HealthStopTimeout,
		ShutdownTimeout:     cfg.ShutdownTimeout,
		ServerStopTimeout:   cfg.ServerStopTimeout,
		ToolCallTimeout:     cfg.ToolCallTimeout,
		StartupWorkers:      cfg.StartupWorkers,
	}
}

// ConnectionFactory builds an unstarted connection for a server record
type ConnectionFactory func(server *models.MCPServer) (connection.Connection, error)

// Option configures an MCPManager
type Option func(*MCPManager)

// WithMetrics records executions and health checks on c
func WithMetrics(c *metrics.Collector) Option {
	return func(m *MCPManager) {
		m.metrics = c
	}
}

// WithConnectionFactory replaces the default local/remote factory
func WithConnectionFactory(f ConnectionFactory) Option {
	return func(m *MCPManager) {
		m.newConnection = f
	}
}

// liveServer is a started connection plus the context its calls run under
type liveServer struct {
	name   string
	conn   connection.Connection
	ctx    context.Context
	cancel context.CancelFunc
}

// MCPManager owns the live connections and drives every server lifecycle
type MCPManager struct {
	store         repository.Store
	cfg           ManagerConfig
	metrics       *metrics.Collector
	newConnection ConnectionFactory

	// registry serializes register, unregister, stop and restart
	registry sync.Mutex

	mu       sync.RWMutex
	live     map[string]*liveServer
	starting map[string]bool
	// closed is set by Stop; starts that finish afterwards are torn down
	closed bool

	healthMu     sync.Mutex
	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// NewMCPManager creates a new manager
func NewMCPManager(store repository.Store, cfg ManagerConfig, opts ...Option) *MCPManager {
	defaults := DefaultManagerConfig()
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if cfg.HealthStopTimeout <= 0 {
		cfg.HealthStopTimeout = defaults.HealthStopTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if cfg.ServerStopTimeout <= 0 {
		cfg.ServerStopTimeout = defaults.ServerStopTimeout
	}
	if cfg.ToolCallTimeout <= 0 {
		cfg.ToolCallTimeout = defaults.ToolCallTimeout
	}
	if cfg.StartupWorkers < 1 {
		cfg.StartupWorkers = defaults.StartupWorkers
	}

	m := &MCPManager{
		store:    store,
		cfg:      cfg,
		live:     make(map[string]*liveServer),
		starting: make(map[string]bool),
	}
	m.newConnection = m.defaultConnection
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// defaultConnection picks the transport once, from the server type
func (m *MCPManager) defaultConnection(server *models.MCPServer) (connection.Connection, error) {
	switch server.ServerType {
	case models.ServerTypeLocal:
		sb := sandbox.New(server.SandboxEnabled, sandbox.LimitsFromResourceLimits(server.ResourceLimits))
		return connection.NewLocalConnection(server.Id, server.Config, sb, m.cfg.ServerStopTimeout), nil
	case models.ServerTypeRemote:
		return connection.NewRemoteConnection(server.Id, server.Config), nil
	default:
		return nil, &ConfigError{Field: "server_type", Reason: fmt.Sprintf("unsupported value %q", server.ServerType)}
	}
}

// Start launches every enabled server, then the health check loop. A failing
// server is recorded in the error state and never blocks the others.
func (m *MCPManager) Start(ctx context.Context) error {
	servers, err := m.store.ListServers(ctx, "", true)
	if err != nil {
		return fmt.Errorf("failed to list enabled servers: %w", err)
	}

	byID := make(map[string]*models.MCPServer, len(servers))
	jobs := make([]*queue.LifecycleJob, 0, len(servers))
	for _, server := range servers {
		byID[server.Id] = server
		jobs = append(jobs, &queue.LifecycleJob{
			ServerID:   server.Id,
			ServerName: server.Name,
			Action:     queue.ActionStart,
		})
	}

	started := queue.RunAll(jobs, m.cfg.StartupWorkers, func(job *queue.LifecycleJob) error {
		return m.startServer(ctx, byID[job.ServerID])
	})

	logger.WithFields(map[string]interface{}{
		"started": started,
		"total":   len(servers),
	}).Infof("Started %d of %d MCP servers", started, len(servers))

	m.startHealthLoop()
	return nil
}

// Stop cancels the health loop and stops all live servers concurrently.
// It returns once every server stopped or the shutdown timeout elapsed.
func (m *MCPManager) Stop() {
	m.stopHealthLoop()

	m.mu.Lock()
	m.closed = true
	live := m.live
	m.live = make(map[string]*liveServer)
	m.mu.Unlock()
	m.metrics.SetLiveServers(0)

	if len(live) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for id, ls := range live {
		wg.Add(1)
		go func(id string, ls *liveServer) {
			defer wg.Done()
			if err := m.store.UpdateServerStatus(ctx, id, models.StatusStopping, ""); err != nil {
				logger.WithField("server_id", id).Warnf("Failed to record stopping state: %v", err)
			}
			ls.cancel()
			ls.conn.Stop()
			if err := m.store.UpdateServerStatus(ctx, id, models.StatusInactive, ""); err != nil {
				logger.WithFields(map[string]interface{}{
					"server_id": id,
					"error":     err.Error(),
				}).Warn("Failed to record server shutdown")
			}
		}(id, ls)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.WithField("servers", len(live)).Info("All MCP servers stopped")
	case <-ctx.Done():
		logger.WithFields(map[string]interface{}{
			"servers": len(live),
			"timeout": m.cfg.ShutdownTimeout.String(),
		}).Warn("Shutdown timed out, abandoning remaining servers")
	}
}

// SyncServers registers the servers from a declarative list whose names are
// not registered yet. Existing records are never overwritten. Servers are
// not started here; the startup sweep picks up the enabled ones.
func (m *MCPManager) SyncServers(ctx context.Context, reqs []models.RegisterServerRequest) (int, error) {
	registered := 0
	for i := range reqs {
		req := reqs[i]
		noStart := false
		req.AutoStart = &noStart

		_, err := m.RegisterServer(ctx, &req)
		if errors.Is(err, ErrDuplicateName) {
			logger.WithField("server_name", req.Name).Debug("Server already registered, skipping")
			continue
		}
		if err != nil {
			return registered, fmt.Errorf("server %q: %w", req.Name, err)
		}
		registered++
	}
	return registered, nil
}

// RegisterServer validates, persists and optionally starts a server. A
// startup failure is not returned; the record comes back in the error state.
func (m *MCPManager) RegisterServer(ctx context.Context, req *models.RegisterServerRequest) (*models.MCPServer, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	m.registry.Lock()
	defer m.registry.Unlock()

	if _, err := m.store.GetServerByName(ctx, req.Name); err == nil {
		return nil, duplicateName(req.Name)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check server name: %w", err)
	}

	server := req.ToDomain()
	server.Id = uuid.New().String()

	if err := m.store.CreateServer(ctx, server); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, duplicateName(req.Name)
		}
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"server_id":   server.Id,
		"server_name": server.Name,
		"server_type": string(server.ServerType),
		"sandboxed":   server.SandboxEnabled,
	}).Info("Registered MCP server")

	if !req.ShouldAutoStart() || !server.Enabled {
		return server, nil
	}

	// Failure is already persisted on the record
	_ = m.startServer(ctx, server)

	updated, err := m.store.GetServer(context.WithoutCancel(ctx), server.Id)
	if err != nil {
		return server, nil
	}
	return updated, nil
}

// UnregisterServer stops the server if it is running and deletes it along
// with its tools and execution history
func (m *MCPManager) UnregisterServer(ctx context.Context, id string) error {
	m.registry.Lock()
	defer m.registry.Unlock()

	server, err := m.getServer(ctx, id)
	if err != nil {
		return err
	}

	m.stopServer(ctx, id)

	if err := m.store.DeleteServer(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return serverNotFound(id)
		}
		return fmt.Errorf("failed to delete server: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"server_id":   id,
		"server_name": server.Name,
	}).Info("Unregistered MCP server")
	return nil
}

// StopServer stops a live server and marks it inactive
func (m *MCPManager) StopServer(ctx context.Context, id string) (*models.MCPServer, error) {
	m.registry.Lock()
	defer m.registry.Unlock()

	if _, err := m.getServer(ctx, id); err != nil {
		return nil, err
	}
	m.stopServer(ctx, id)
	return m.getServer(ctx, id)
}

// RestartServer stops the server if running and starts it again
func (m *MCPManager) RestartServer(ctx context.Context, id string) (*models.MCPServer, error) {
	m.registry.Lock()
	defer m.registry.Unlock()

	server, err := m.getServer(ctx, id)
	if err != nil {
		return nil, err
	}

	m.stopServer(ctx, id)
	startErr := m.startServer(ctx, server)

	updated, err := m.getServer(context.WithoutCancel(ctx), id)
	if err != nil {
		return nil, err
	}
	return updated, startErr
}

// GetServerInfo merges the durable record with live runtime state
func (m *MCPManager) GetServerInfo(ctx context.Context, id string) (*models.ServerInfo, error) {
	server, err := m.getServer(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.serverInfo(server), nil
}

// ListServers returns all records, each with its live state
func (m *MCPManager) ListServers(ctx context.Context, status models.ServerStatus, enabledOnly bool) ([]*models.ServerInfo, error) {
	servers, err := m.store.ListServers(ctx, status, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	infos := make([]*models.ServerInfo, 0, len(servers))
	for _, server := range servers {
		infos = append(infos, m.serverInfo(server))
	}
	return infos, nil
}

func (m *MCPManager) serverInfo(server *models.MCPServer) *models.ServerInfo {
	info := &models.ServerInfo{Server: server}
	if ls, ok := m.liveServer(server.Id); ok {
		info.IsRunning = ls.conn.IsRunning()
		info.SandboxStats = ls.conn.SandboxStats()
	}
	return info
}

// GetTools returns the tools of a server. A live server answers from the
// cache unless refresh is set or nothing is cached. A server that is not
// live can only answer from the cache and fails with ErrNotRunning when
// there is none.
func (m *MCPManager) GetTools(ctx context.Context, id string, refresh bool) ([]models.ToolSchema, error) {
	server, err := m.getServer(ctx, id)
	if err != nil {
		return nil, err
	}

	ls, live := m.liveServer(id)
	if live && refresh {
		return m.refreshTools(ctx, id, ls.conn)
	}

	records, err := m.store.GetTools(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached tools: %w", err)
	}
	if len(records) == 0 {
		if !live {
			return nil, notRunning(server.Name)
		}
		return m.refreshTools(ctx, id, ls.conn)
	}

	tools := make([]models.ToolSchema, 0, len(records))
	for _, rec := range records {
		tools = append(tools, rec.ToSchema())
	}
	return tools, nil
}

// GetExecutionHistory returns audit records, newest first
func (m *MCPManager) GetExecutionHistory(ctx context.Context, filter models.ExecutionFilter) ([]models.ExecutionRecord, error) {
	return m.store.GetExecutionHistory(ctx, filter)
}

// GetServerStats aggregates the execution log of a server
func (m *MCPManager) GetServerStats(ctx context.Context, id string) (*models.ServerStats, error) {
	stats, err := m.store.GetServerStats(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, serverNotFound(id)
	}
	return stats, err
}

// IsRunning reports whether the server has a live connection
func (m *MCPManager) IsRunning(id string) bool {
	ls, ok := m.liveServer(id)
	return ok && ls.conn.IsRunning()
}

// LiveCount returns the number of live servers
func (m *MCPManager) LiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

func (m *MCPManager) getServer(ctx context.Context, id string) (*models.MCPServer, error) {
	server, err := m.store.GetServer(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, serverNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return server, nil
}

func (m *MCPManager) liveServer(id string) (*liveServer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ls, ok := m.live[id]
	return ls, ok
}

// startServer connects a server and caches its tools. Failures are persisted
// as the error state and returned.
func (m *MCPManager) startServer(ctx context.Context, server *models.MCPServer) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	if _, ok := m.live[server.Id]; ok || m.starting[server.Id] {
		m.mu.Unlock()
		return nil
	}
	m.starting[server.Id] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.starting, server.Id)
		m.mu.Unlock()
	}()

	fields := map[string]interface{}{
		"server_id":   server.Id,
		"server_name": server.Name,
		"server_type": string(server.ServerType),
	}
	stateCtx := context.WithoutCancel(ctx)

	if err := m.store.UpdateServerStatus(stateCtx, server.Id, models.StatusStarting, ""); err != nil {
		logger.WithFields(fields).Warnf("Failed to record starting state: %v", err)
	}

	conn, err := m.newConnection(server)
	if err == nil {
		startCtx, cancel := context.WithTimeout(ctx, serverStartTimeout)
		err = conn.Start(startCtx)
		cancel()
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("Failed to start MCP server")
		if uerr := m.store.UpdateServerStatus(stateCtx, server.Id, models.StatusError, err.Error()); uerr != nil {
			logger.WithFields(fields).Warnf("Failed to record error state: %v", uerr)
		}
		return err
	}

	serverCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		conn.Stop()
		if err := m.store.UpdateServerStatus(stateCtx, server.Id, models.StatusInactive, ""); err != nil {
			logger.WithFields(fields).Warnf("Failed to record inactive state: %v", err)
		}
		logger.WithFields(fields).Warn("Manager stopped during startup, discarding MCP server")
		return ErrShuttingDown
	}
	m.live[server.Id] = &liveServer{
		name:   server.Name,
		conn:   conn,
		ctx:    serverCtx,
		cancel: cancel,
	}
	liveCount := len(m.live)
	m.mu.Unlock()
	m.metrics.SetLiveServers(liveCount)

	if err := m.store.UpdateServerStatus(stateCtx, server.Id, models.StatusActive, ""); err != nil {
		logger.WithFields(fields).Warnf("Failed to record active state: %v", err)
	}

	// A server whose tools cannot be listed yet is still active
	if tools, err := m.refreshTools(ctx, server.Id, conn); err != nil {
		logger.WithFields(fields).Warnf("Started without caching tools: %v", err)
	} else {
		fields["tools"] = len(tools)
	}

	logger.WithFields(fields).Info("Started MCP server")
	return nil
}

// stopServer tears down a live server. In-flight calls see their context
// cancelled first.
func (m *MCPManager) stopServer(ctx context.Context, id string) {
	m.mu.Lock()
	ls, ok := m.live[id]
	delete(m.live, id)
	liveCount := len(m.live)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.metrics.SetLiveServers(liveCount)

	stateCtx := context.WithoutCancel(ctx)
	if err := m.store.UpdateServerStatus(stateCtx, id, models.StatusStopping, ""); err != nil {
		logger.WithField("server_id", id).Warnf("Failed to record stopping state: %v", err)
	}

	ls.cancel()
	ls.conn.Stop()

	if err := m.store.UpdateServerStatus(stateCtx, id, models.StatusInactive, ""); err != nil {
		logger.WithField("server_id", id).Warnf("Failed to record inactive state: %v", err)
	}

	logger.WithFields(map[string]interface{}{
		"server_id":   id,
		"server_name": ls.name,
	}).Info("Stopped MCP server")
}

// refreshTools lists the tools of a live server and replaces the cache
func (m *MCPManager) refreshTools(ctx context.Context, id string, conn connection.Connection) ([]models.ToolSchema, error) {
	listCtx, cancel := context.WithTimeout(ctx, m.cfg.ToolCallTimeout)
	defer cancel()

	tools, err := conn.ListTools(listCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	records := make([]models.ToolRecord, 0, len(tools))
	for _, tool := range tools {
		records = append(records, models.ToolRecordFromSchema(id, tool))
	}
	if err := m.store.ReplaceTools(context.WithoutCancel(ctx), id, records); err != nil {
		return nil, fmt.Errorf("failed to cache tools: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"server_id": id,
		"tools":     len(tools),
	}).Debug("Refreshed tool cache")
	return tools, nil
}
