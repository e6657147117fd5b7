package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
)

const maxRemoteBody = 10 << 20

// remoteRequestTimeout bounds requests whose context carries no deadline.
// Callers with a deadline (tool calls, startup, refresh) are bounded by it
// alone.
var remoteRequestTimeout = 60 * time.Second

// RemoteConnection talks to an MCP server exposed over plain HTTP
// endpoints GET /tools and POST /execute
type RemoteConnection struct {
	serverID  string
	baseURL   string
	tlsVerify bool

	mu     sync.Mutex
	client *http.Client
}

func NewRemoteConnection(serverID string, cfg models.ServerConfig) *RemoteConnection {
	return &RemoteConnection{
		serverID:  serverID,
		baseURL:   strings.TrimRight(cfg.URL(), "/"),
		tlsVerify: cfg.TLSVerify(),
	}
}

type remoteToolsResponse struct {
	Tools []remoteTool `json:"tools"`
}

type remoteTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type remoteExecuteRequest struct {
	ToolName  string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type remoteExecuteResponse struct {
	Result interface{} `json:"result"`
	Error  string      `json:"error,omitempty"`
}

// Start opens the pooled client and verifies the server answers /tools
func (c *RemoteConnection) Start(ctx context.Context) error {
	if c.baseURL == "" {
		return &StartupError{Server: c.serverID, Err: errors.New("url is required for remote servers")}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 10
	if !c.tlsVerify {
		// Internal deployments commonly use self-signed certificates
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c.mu.Lock()
	c.client = &http.Client{Transport: transport}
	c.mu.Unlock()

	if _, err := c.ListTools(ctx); err != nil {
		c.Stop()
		return &StartupError{Server: c.serverID, Err: err}
	}

	logger.WithFields(map[string]interface{}{
		"server_id":  c.serverID,
		"url":        c.baseURL,
		"tls_verify": c.tlsVerify,
	}).Info("Connected to remote MCP server")

	return nil
}

func (c *RemoteConnection) Stop() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		client.CloseIdleConnections()
	}
}

func (c *RemoteConnection) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

func (c *RemoteConnection) SandboxStats() *models.SandboxStats {
	return nil
}

func (c *RemoteConnection) ListTools(ctx context.Context) ([]models.ToolSchema, error) {
	var resp remoteToolsResponse
	if err := c.do(ctx, http.MethodGet, "/tools", nil, &resp); err != nil {
		return nil, err
	}

	tools := make([]models.ToolSchema, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		params := t.Parameters
		if params == nil {
			params = t.InputSchema
		}
		tools = append(tools, models.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return tools, nil
}

func (c *RemoteConnection) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (string, error) {
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	var resp remoteExecuteResponse
	err := c.do(ctx, http.MethodPost, "/execute", remoteExecuteRequest{
		ToolName:  name,
		Arguments: arguments,
	}, &resp)
	if errors.Is(err, ErrNotStarted) {
		return "", err
	}
	if err != nil {
		return "", &ExecutionError{Tool: name, Err: err}
	}
	if resp.Error != "" {
		return "", &ExecutionError{Tool: name, Err: errors.New(resp.Error)}
	}

	return normalizeResult(resp.Result), nil
}

func (c *RemoteConnection) do(ctx context.Context, method, path string, body, out interface{}) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return ErrNotStarted
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, remoteRequestTimeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
