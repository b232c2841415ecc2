// Package assistant exposes the device to MCP clients as two tools:
// run_command and get_state. It is served over streamable HTTP and mounted on
// the web server.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dokzlo13/sunrised/internal/command"
	"github.com/dokzlo13/sunrised/internal/device"
	"github.com/dokzlo13/sunrised/internal/version"
)

// Source tags commands received through the assistant.
const Source = "assistant"

// Device is what the tools drive.
type Device interface {
	Submit(ctx context.Context, source, raw string) (command.Reply, error)
	State(ctx context.Context) (device.State, error)
}

// Server wraps the MCP server.
type Server struct {
	mcpServer *server.MCPServer
	device    Device
}

// NewServer creates the MCP server and registers its tools.
func NewServer(name string, dev Device) *Server {
	s := &Server{device: dev}

	s.mcpServer = server.NewMCPServer(
		name,
		version.Version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

// Handler returns the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("run_command",
			mcp.WithDescription("Run a sunrise alarm command, exactly as typed into a chat. "+
				"Commands: /settime H:MM, /status, /setduration N, /setbrightness N, "+
				"/setmaxbrightness N, /cancelalarm, /reboot"),
			mcp.WithString("command",
				mcp.Required(),
				mcp.Description("Command text, e.g. \"/settime 7:00\""),
			),
		),
		s.handleRunCommand,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_state",
			mcp.WithDescription("Get the light level, ramp settings and alarm schedule"),
		),
		s.handleGetState,
	)
}

type runCommandOutput struct {
	Command string   `json:"command"`
	Lines   []string `json:"lines"`
}

func (s *Server) handleRunCommand(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := requiredString(request, "command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	reply, err := s.device.Submit(ctx, Source, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to run command: %s", err)), nil
	}
	if reply.Err != nil {
		return mcp.NewToolResultError(reply.Text()), nil
	}
	if reply.Silent() {
		return mcp.NewToolResultError(fmt.Sprintf("unrecognized command: %q", raw)), nil
	}

	return mcp.NewToolResultText(formatJSON(runCommandOutput{Command: raw, Lines: reply.Lines})), nil
}

func (s *Server) handleGetState(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.device.State(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get state: %s", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(st)), nil
}

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	v, ok := request.GetArguments()[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func formatJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}
