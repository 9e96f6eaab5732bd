package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tfmt/internal/schema"
)

var toolDescriptions = map[string]string{
	schema.ModelsList:         "List selectable models. Pass {\"refresh\":true} to query the local inference server.",
	schema.ModelsAdd:          "Add a custom model: {id, name, provider, baseUrl?, contextWindow?}.",
	schema.ModelsRemove:       "Remove a custom model by {id}.",
	schema.LLMFormat:          "Format a transcription: {text, modelId, options?}.",
	schema.ClipboardCopy:      "Copy {text} to the system clipboard.",
	schema.StoreGet:           "Read a setting: {key}.",
	schema.StoreSet:           "Write a setting: {key, value}.",
	schema.StoreGetHistory:    "List saved formatting results, most recent first.",
	schema.StoreSaveHistory:   "Save a formatting result: {item}.",
	schema.StoreClearHistory:  "Delete all saved formatting results.",
	schema.StoreRemoveHistory: "Delete one saved formatting result: {id}.",
	schema.AppGetVersion:      "Report the application version.",
}

// ToolName maps a command name onto an MCP tool name.
func ToolName(command string) string {
	return strings.ReplaceAll(command, ":", "_")
}

// NewMCPServer exposes every catalog command as a tool taking a single
// JSON-encoded payload argument, and the history ledger as a resource.
func NewMCPServer(d Dispatcher, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"tfmt",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tfmt: settings, history and model catalog of the local transcription formatter."),
		server.WithRecovery(),
	)

	for _, command := range d.Commands() {
		s.AddTool(
			mcp.NewTool(ToolName(command),
				mcp.WithDescription(toolDescriptions[command]),
				mcp.WithString("payload", mcp.Description("Request payload as a JSON object")),
			),
			mcpDispatch(d, command),
		)
	}

	s.AddResource(
		mcp.NewResource(
			"tfmt://history",
			"Formatting History",
			mcp.WithResourceDescription("Saved formatting results, most recent first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(d),
	)
	return s
}

func mcpDispatch(d Dispatcher, command string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload := req.GetString("payload", "")
		env := d.Dispatch(ctx, command, json.RawMessage(payload))

		b, err := json.Marshal(env)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		if !env.Success {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(d Dispatcher) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		env := d.Dispatch(ctx, schema.StoreGetHistory, nil)
		if !env.Success {
			return nil, fmt.Errorf("reading history: %s", env.Error.Message)
		}
		b, err := json.Marshal(env.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
