package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPClient is the subset of mark3labs/mcp-go's client the registry needs,
// named so registry_test.go and callers can substitute a fake. Grounded on
// domain/mcpregistry/proxy.go's ProxyManager.CallTool, which dials the
// same mcp-go client and forwards tools/call.
type MCPClient interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// RegisterMCPTool registers name as a Handler that proxies to an external
// MCP server via cli, following the teacher's "servername_toolname"
// external-tool prefixing (proxy.go ParsePrefixedToolName) and result
// conversion (proxy.go convertCallToolResult).
func RegisterMCPTool(reg *Registry, serverName, toolName string, schema *Schema, cli MCPClient) {
	qualifiedName := serverName + "_" + toolName

	reg.Register(Registration{
		Name:   qualifiedName,
		Schema: schema,
		Handler: func(ctx context.Context, invCtx InvocationContext, args map[string]any) (any, error) {
			req := mcp.CallToolRequest{
				Params: mcp.CallToolParams{
					Name:      toolName,
					Arguments: args,
				},
			}

			result, err := cli.CallTool(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("mcp call %s.%s: %w", serverName, toolName, err)
			}
			return convertToolResult(result)
		},
	})
}

// convertToolResult mirrors toolpool.go's convertToolResult: surface a
// single text block as a plain string, JSON-decode it when possible, and
// concatenate multiple text blocks otherwise.
func convertToolResult(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, nil
	}
	if result.IsError {
		return nil, fmt.Errorf("tool returned an error result")
	}

	var texts []string
	for _, block := range result.Content {
		if tc, ok := mcp.AsTextContent(block); ok {
			texts = append(texts, tc.Text)
		}
	}

	if len(texts) == 1 {
		var decoded any
		if err := json.Unmarshal([]byte(texts[0]), &decoded); err == nil {
			return decoded, nil
		}
		return texts[0], nil
	}

	joined := ""
	for i, t := range texts {
		if i > 0 {
			joined += "\n"
		}
		joined += t
	}
	return joined, nil
}

// NewMCPClient constructs an MCP client over SSE per mark3labs/mcp-go,
// matching the transport the teacher's mcp domain expects registered
// external servers to speak.
func NewMCPClient(endpoint string) (*client.Client, error) {
	return client.NewSSEMCPClient(endpoint)
}
