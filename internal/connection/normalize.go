package connection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// normalizeResult flattens a decoded tool result into a single string.
// Strings pass through, content part lists are joined by their text, an
// object with a content field is unwrapped once and anything else is
// rendered as JSON.
func normalizeResult(v interface{}) string {
	return normalizeDepth(v, 0)
}

func normalizeDepth(v interface{}, depth int) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []interface{}:
		if text, ok := joinParts(val); ok {
			return text
		}
	case map[string]interface{}:
		if content, ok := val["content"]; ok && depth == 0 {
			return normalizeDepth(content, depth+1)
		}
		if text, ok := val["text"].(string); ok && depth > 0 {
			return text
		}
	}
	return toJSON(v)
}

// joinParts concatenates the text of content parts. It reports false when
// no part carried text.
func joinParts(parts []interface{}) (string, bool) {
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch p := part.(type) {
		case string:
			texts = append(texts, p)
		case map[string]interface{}:
			if text, ok := p["text"].(string); ok {
				texts = append(texts, text)
			}
		}
	}
	if len(texts) == 0 {
		return "", len(parts) == 0
	}
	return strings.Join(texts, "\n"), true
}

// normalizeCallResult flattens an MCP tools/call result
func normalizeCallResult(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}

	texts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		switch part := c.(type) {
		case *mcp.TextContent:
			texts = append(texts, part.Text)
		case *mcp.EmbeddedResource:
			if part.Resource != nil && part.Resource.Text != "" {
				texts = append(texts, part.Resource.Text)
			}
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n")
	}

	if res.StructuredContent != nil {
		return normalizeResult(res.StructuredContent)
	}
	if len(res.Content) > 0 {
		return toJSON(res.Content)
	}
	return ""
}

func toJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
