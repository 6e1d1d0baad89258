package tools

import (
	"context"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// RegisterMCPTools connects to an external MCP server over stdio, performs
// the handshake, and registers every tool it advertises as a Definition in
// reg — bridging spec.md's local filesystem/shell tool surface (B) with
// third-party tools a user opts into via an MCP server command. Grounded
// on the teacher's internal/mcp/manager_connect.go connectServer, narrowed
// to stdio transport and collapsed into one call rather than the teacher's
// supervised multi-server health-check/reconnect manager, since spec.md
// has no standing background-service lifecycle for this to supervise.
func RegisterMCPTools(ctx context.Context, reg *Registry, command string, args []string, env map[string]string) error {
	client, err := mcpclient.NewStdioMCPClient(command, mapToEnvSlice(env), args...)
	if err != nil {
		return fmt.Errorf("mcp: start %s: %w", command, err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "ggcode", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, initReq); err != nil {
		_ = client.Close()
		return fmt.Errorf("mcp: initialize %s: %w", command, err)
	}

	listed, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("mcp: list tools on %s: %w", command, err)
	}

	for _, t := range listed.Tools {
		def := &Definition{
			Name:        "mcp_" + t.Name,
			Description: t.Description,
			Category:    CategorySystem,
			Permission:  PermissionNetwork,
			Handler:     mcpHandler(client, t.Name),
		}
		reg.Register(def)
	}
	return nil
}

// mcpHandler adapts one remote MCP tool into a local Handler, forwarding
// params as the call's arguments and flattening the result's text content
// blocks into a single Result, the same shape the filesystem/shell tools
// return to the executor.
func mcpHandler(client *mcpclient.Client, toolName string) Handler {
	return func(ec *ExecContext, params map[string]interface{}) *Result {
		req := mcpgo.CallToolRequest{}
		req.Params.Name = toolName
		req.Params.Arguments = params

		out, err := client.CallTool(ec.Context, req)
		if err != nil {
			return ErrorResult(fmt.Sprintf("mcp call %s: %v", toolName, err))
		}

		var sb strings.Builder
		for _, content := range out.Content {
			if tc, ok := content.(mcpgo.TextContent); ok {
				sb.WriteString(tc.Text)
				sb.WriteString("\n")
			}
		}
		text := strings.TrimRight(sb.String(), "\n")
		if out.IsError {
			return ErrorResult(text)
		}
		return NewResult(text)
	}
}

func mapToEnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
