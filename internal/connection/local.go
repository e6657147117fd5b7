package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
	"github.com/imyashkale/mcphost/internal/sandbox"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const clientName = "mcphost"

// ClientVersion is reported to servers during the initialize handshake
var ClientVersion = "v1.0.0"

// LocalConnection speaks MCP over the stdio of a sandboxed subprocess
type LocalConnection struct {
	serverID    string
	spec        sandbox.ProcessSpec
	sandbox     sandbox.Sandbox
	stopTimeout time.Duration

	mu      sync.Mutex
	session *mcp.ClientSession
}

// NewLocalConnection prepares a connection that runs the configured
// command inside sb
func NewLocalConnection(serverID string, cfg models.ServerConfig, sb sandbox.Sandbox, stopTimeout time.Duration) *LocalConnection {
	if stopTimeout <= 0 {
		stopTimeout = sandbox.DefaultStopTimeout
	}
	return &LocalConnection{
		serverID: serverID,
		spec: sandbox.ProcessSpec{
			Command:    cfg.Command(),
			Args:       cfg.Args(),
			Env:        cfg.Env(),
			WorkingDir: cfg.WorkingDir(),
		},
		sandbox:     sb,
		stopTimeout: stopTimeout,
	}
}

func (c *LocalConnection) Start(ctx context.Context) error {
	if c.spec.Command == "" {
		return &StartupError{Server: c.serverID, Err: errors.New("command is required for local servers")}
	}

	c.mu.Lock()
	started := c.session != nil
	c.mu.Unlock()
	if started {
		return nil
	}

	stdin, stdout, err := c.sandbox.Start(ctx, c.spec)
	if err != nil {
		c.Stop()
		return &StartupError{Server: c.serverID, Err: err}
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: ClientVersion,
	}, nil)

	session, err := client.Connect(ctx, &mcp.IOTransport{Reader: stdout, Writer: stdin}, nil)
	if err != nil {
		c.Stop()
		return &StartupError{Server: c.serverID, Err: err}
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"server_id": c.serverID,
		"command":   c.spec.Command,
	}).Info("Connected to local MCP server")

	return nil
}

func (c *LocalConnection) Stop() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			logStopError(c.serverID, "MCP session", err)
		}
	}
	if err := c.sandbox.Stop(c.stopTimeout); err != nil {
		logStopError(c.serverID, "sandbox", err)
	}
}

func (c *LocalConnection) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil && c.sandbox.IsRunning()
}

func (c *LocalConnection) SandboxStats() *models.SandboxStats {
	stats := c.sandbox.Stats()
	return &stats
}

func (c *LocalConnection) current() (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNotStarted
	}
	return c.session, nil
}

// ListTools pages through tools/list and converts each tool to the
// canonical schema
func (c *LocalConnection) ListTools(ctx context.Context) ([]models.ToolSchema, error) {
	session, err := c.current()
	if err != nil {
		return nil, err
	}

	tools := []models.ToolSchema{}
	params := &mcp.ListToolsParams{}
	for {
		res, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			tools = append(tools, models.ToolSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaMap(t.InputSchema),
			})
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		params.Cursor = res.NextCursor
	}
}

func (c *LocalConnection) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (string, error) {
	session, err := c.current()
	if err != nil {
		return "", err
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return "", &ExecutionError{Tool: name, Err: err}
	}

	text := normalizeCallResult(res)
	if res.IsError {
		return "", &ExecutionError{Tool: name, Err: errors.New(text)}
	}
	return text, nil
}

// schemaMap converts a decoded JSON schema into a plain map
func schemaMap(schema interface{}) map[string]interface{} {
	switch s := schema.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return s
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
