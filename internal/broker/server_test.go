package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roughcut/internal/contextmgr"
	rcerrors "roughcut/internal/errors"
	"roughcut/internal/ports"
	"roughcut/internal/registry"
)

// echoTool reports the arguments it received.
type echoTool struct{}

func (echoTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	data, _ := json.Marshal(call.Arguments)
	return &ports.ToolResult{
		CallID:   call.ID,
		Content:  string(data),
		Metadata: map[string]any{"echoed": true},
	}, nil
}

func (echoTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "echo",
		Description: "echoes its arguments",
		InputSchema: ports.ParameterSchema{Type: "object"},
	}
}

func (echoTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "echo",
		Category:      ports.CategoryDiscovery,
		ContextWeight: 10,
	}
}

// failingTool returns a recoverable tool error.
type failingTool struct{}

func (failingTool) Execute(ctx context.Context, call ports.ToolCall) (*ports.ToolResult, error) {
	return &ports.ToolResult{
		CallID:  call.ID,
		Content: "project not found",
		Error:   rcerrors.New(rcerrors.KindFilesystem, "project", "resolve", "project not found"),
	}, nil
}

func (failingTool) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "fail",
		Description: "always fails",
		InputSchema: ports.ParameterSchema{Type: "object"},
	}
}

func (failingTool) Metadata() ports.ToolMetadata {
	return ports.ToolMetadata{
		Name:          "fail",
		Category:      ports.CategoryDiscovery,
		ContextWeight: 10,
	}
}

// session feeds newline-delimited requests through a server and returns the
// decoded responses in order.
func session(t *testing.T, lines ...string) []map[string]any {
	t.Helper()

	reg := registry.New(contextmgr.New(nil, contextmgr.Options{}), nil, t.TempDir(), nil)
	t.Cleanup(func() { _ = reg.Close() })
	require.NoError(t, reg.Register(echoTool{}))
	require.NoError(t, reg.Register(failingTool{}))

	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	server := NewServer(reg, nil, nil, in, &out)
	require.NoError(t, server.Run(context.Background()))

	var responses []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "response line: %s", line)
		responses = append(responses, resp)
	}
	return responses
}

func TestInitializeHandshake(t *testing.T) {
	responses := session(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)
	// The notification gets no response.
	require.Len(t, responses, 2)

	result := responses[0]["result"].(map[string]any)
	assert.Equal(t, protocolVersion, result["protocolVersion"])
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, serverName, info["name"])

	assert.Equal(t, float64(2), responses[1]["id"])
	assert.NotNil(t, responses[1]["result"])
}

func TestToolsListReturnsActiveDefinitions(t *testing.T) {
	responses := session(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Len(t, responses, 1)

	result := responses[0]["result"].(map[string]any)
	tools := result["tools"].([]any)
	require.Len(t, tools, 2)
	names := map[string]bool{}
	for _, raw := range tools {
		tool := raw.(map[string]any)
		names[tool["name"].(string)] = true
		assert.NotEmpty(t, tool["description"])
		assert.NotNil(t, tool["inputSchema"])
	}
	assert.True(t, names["echo"] && names["fail"])
}

func TestToolsCallSuccess(t *testing.T) {
	responses := session(t,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"project":"demo"}}}`,
	)
	require.Len(t, responses, 1)

	result := responses[0]["result"].(map[string]any)
	assert.Equal(t, false, result["isError"])
	content := result["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "text", content["type"])
	assert.Contains(t, content["text"], `"project":"demo"`)
	meta := result["_meta"].(map[string]any)
	assert.Equal(t, true, meta["echoed"])
}

func TestToolsCallRepairsMalformedArguments(t *testing.T) {
	// Arguments arrive as a string of broken JSON: single quotes and a
	// trailing comma, the way some hosts serialize them.
	responses := session(t,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":"{'project': 'demo',}"}}`,
	)
	require.Len(t, responses, 1)

	result := responses[0]["result"].(map[string]any)
	content := result["content"].([]any)[0].(map[string]any)
	assert.Contains(t, content["text"], `"project":"demo"`)
}

func TestToolsCallSurfacesToolErrorEnvelope(t *testing.T) {
	responses := session(t,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"fail","arguments":{}}}`,
	)
	require.Len(t, responses, 1)

	result := responses[0]["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
	meta := result["_meta"].(map[string]any)
	assert.Equal(t, string(rcerrors.KindFilesystem), meta["kind"])
	assert.Equal(t, "project", meta["component"])
}

func TestUnknownMethodAndTool(t *testing.T) {
	responses := session(t,
		`{"jsonrpc":"2.0","id":1,"method":"no/such/method"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"no-such-tool","arguments":{}}}`,
	)
	require.Len(t, responses, 2)

	for _, resp := range responses {
		errObj := resp["error"].(map[string]any)
		assert.Equal(t, float64(codeMethodNotFound), errObj["code"])
	}
}

func TestParseErrorsAreReported(t *testing.T) {
	responses := session(t,
		`this is not json`,
		`{"jsonrpc":"1.0","id":1,"method":"ping"}`,
	)
	require.Len(t, responses, 2)
	assert.Equal(t, float64(codeParseError), responses[0]["error"].(map[string]any)["code"])
	assert.Equal(t, float64(codeInvalidRequest), responses[1]["error"].(map[string]any)["code"])
}

func TestBlankLinesAreSkipped(t *testing.T) {
	responses := session(t,
		``,
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
	)
	require.Len(t, responses, 1)
}
