package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const helperEnv = "MCP_HELPER_PROCESS"

// TestMain lets the test binary double as a stdio MCP server
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		if err := runHelperServer(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

var objectSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"message": map[string]interface{}{"type": "string"},
	},
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

func runHelperServer() error {
	server := mcp.NewServer(&mcp.Implementation{Name: "helper", Version: "v0.0.1"}, nil)

	server.AddTool(&mcp.Tool{
		Name:        "echo",
		Description: "Echo the message back",
		InputSchema: objectSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return textResult(err.Error(), true), nil
		}
		return textResult(args.Message, false), nil
	})

	server.AddTool(&mcp.Tool{
		Name:        "fail",
		Description: "Always fails",
		InputSchema: map[string]interface{}{"type": "object"},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("boom", true), nil
	})

	server.AddTool(&mcp.Tool{
		Name:        "parts",
		Description: "Returns several content parts",
		InputSchema: map[string]interface{}{"type": "object"},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{
			&mcp.TextContent{Text: "first"},
			&mcp.TextContent{Text: "second"},
		}}, nil
	})

	return server.Run(context.Background(), &mcp.StdioTransport{})
}
