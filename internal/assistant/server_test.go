package assistant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/sunrised/internal/command"
	"github.com/dokzlo13/sunrised/internal/device"
)

type fakeDevice struct {
	submitted []string
	reply     command.Reply
	state     device.State
	err       error
}

func (d *fakeDevice) Submit(_ context.Context, source, raw string) (command.Reply, error) {
	d.submitted = append(d.submitted, source+" "+raw)
	return d.reply, d.err
}

func (d *fakeDevice) State(context.Context) (device.State, error) {
	return d.state, d.err
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{reply: command.Reply{
		Kind:  command.KindSetTime,
		Lines: []string{"Time set to 6:15", "Minutes until alarm: 75"},
	}}
	s := NewServer("MorningLEDs", dev)

	res, err := s.handleRunCommand(context.Background(), callRequest("run_command", map[string]any{"command": "/settime 7:00"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Contains(t, resultText(t, res), "Minutes until alarm: 75")
	require.Equal(t, []string{"assistant /settime 7:00"}, dev.submitted)
}

func TestRunCommand_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args map[string]any
		dev  *fakeDevice
		want string
	}{
		{
			name: "missing argument",
			args: map[string]any{},
			dev:  &fakeDevice{},
			want: `required parameter "command" is missing`,
		},
		{
			name: "validation error",
			args: map[string]any{"command": "/setbrightness 5000"},
			dev: &fakeDevice{reply: command.Reply{
				Kind:  command.KindSetBrightness,
				Lines: []string{command.MsgInvalidBrightness},
				Err:   errors.New("out of range"),
			}},
			want: command.MsgInvalidBrightness,
		},
		{
			name: "unrecognized",
			args: map[string]any{"command": "hello"},
			dev:  &fakeDevice{},
			want: `unrecognized command: "hello"`,
		},
		{
			name: "loop stopped",
			args: map[string]any{"command": "/status"},
			dev:  &fakeDevice{err: errors.New("controller stopped")},
			want: "controller stopped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewServer("MorningLEDs", tt.dev)
			res, err := s.handleRunCommand(context.Background(), callRequest("run_command", tt.args))
			require.NoError(t, err)
			require.True(t, res.IsError)
			require.Contains(t, resultText(t, res), tt.want)
		})
	}
}

func TestGetState(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{state: device.State{Name: "MorningLEDs", Brightness: 40, Phase: "in_progress"}}
	s := NewServer("MorningLEDs", dev)

	res, err := s.handleGetState(context.Background(), callRequest("get_state", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Contains(t, resultText(t, res), `"brightness": 40`)
}

func TestHandler_Initialize(t *testing.T) {
	t.Parallel()

	s := NewServer("MorningLEDs", &fakeDevice{})

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "MorningLEDs")
}
