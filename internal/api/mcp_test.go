package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/tfmt/internal/apperr"
	"github.com/kalambet/tfmt/internal/ipc"
	"github.com/kalambet/tfmt/internal/schema"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func callTool(t *testing.T, d Dispatcher, command, payload string) (ipc.Envelope, *mcp.CallToolResult) {
	t.Helper()
	args := map[string]interface{}{}
	if payload != "" {
		args["payload"] = payload
	}
	result, err := mcpDispatch(d, command)(context.Background(), makeCallToolRequest(ToolName(command), args))
	require.NoError(t, err)

	var env ipc.Envelope
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &env))
	return env, result
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "store_getHistory", ToolName(schema.StoreGetHistory))
	assert.Equal(t, "app_getVersion", ToolName(schema.AppGetVersion))
}

func TestToolDescriptions_CoverCatalog(t *testing.T) {
	for _, c := range schema.Commands() {
		assert.NotEmpty(t, toolDescriptions[c], c)
	}
}

func TestMCPServer_Builds(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.NotNil(t, NewMCPServer(d, "0.0.0-test"))
}

func TestMCPTool_SaveAndListHistory(t *testing.T) {
	d, _ := newTestDispatcher(t)

	env, result := callTool(t, d, schema.StoreSaveHistory,
		`{"item":{"id":"h1","originalText":"um hi","formattedText":"Hi.","modelUsed":"m","timestamp":1}}`)
	require.True(t, env.Success, toolText(t, result))
	assert.False(t, result.IsError)

	env, _ = callTool(t, d, schema.StoreGetHistory, "")
	require.True(t, env.Success)
	var hist ipc.HistoryResponse
	require.NoError(t, json.Unmarshal(env.Data.(json.RawMessage), &hist))
	require.Len(t, hist.Items, 1)
	assert.Equal(t, "h1", hist.Items[0].ID)
}

func TestMCPTool_FailureSetsIsError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	env, result := callTool(t, d, schema.StoreGet, `{"key":"history"}`)
	assert.True(t, result.IsError)
	assert.False(t, env.Success)
	assert.Equal(t, apperr.CodeValidation, env.Error.Code)
}

func TestMCPResource_History(t *testing.T) {
	d, _ := newTestDispatcher(t)
	callTool(t, d, schema.StoreSaveHistory,
		`{"item":{"id":"h1","originalText":"a","formattedText":"A","modelUsed":"m","timestamp":1}}`)

	req := mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "tfmt://history"}}
	contents, err := mcpResourceHistory(d)(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, "tfmt://history", text.URI)
	assert.Contains(t, text.Text, `"h1"`)
}
