package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/intale-ai/intentd/internal/distill"
)

// NewMCPServer exposes the pipeline over MCP so agent hosts can classify
// text, trigger training, and inspect the service without the HTTP API.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"intentd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("intentd — intent classification with an online-distilled local model."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("classify_intent",
			mcp.WithDescription("Classify a piece of text into an intent label. Returns the full result including confidence, source path, and safety flags."),
			mcp.WithString("text", mcp.Description("The text to classify"), mcp.Required()),
			mcp.WithString("context", mcp.Description("Optional JSON object of string context fields passed to the oracle")),
		),
		mcpClassifyIntent(deps),
	)

	s.AddTool(
		mcp.NewTool("train_student",
			mcp.WithDescription("Run one distillation pass over recent decision events and report whether the local model was hot-swapped."),
		),
		mcpTrainStudent(deps),
	)

	s.AddTool(
		mcp.NewTool("pipeline_status",
			mcp.WithDescription("Report pipeline mode, oracle and student availability, and current metrics."),
		),
		mcpPipelineStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"metrics://snapshot",
			"Metrics Snapshot",
			mcp.WithResourceDescription("Current pipeline and training metrics as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceMetrics(deps),
	)

	return s
}

func mcpClassifyIntent(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		var reqContext map[string]string
		if raw := req.GetString("context", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &reqContext); err != nil {
				return mcpError(fmt.Sprintf("invalid context JSON: %v", err)), nil
			}
		}

		res := deps.Resolver.Resolve(ctx, text, reqContext)

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTrainStudent(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		report, err := deps.Trainer.TrainOnce(ctx)
		if errors.Is(err, distill.ErrTrainingInProgress) {
			return mcpError("a training run is already in progress"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("training failed: %v", err)), nil
		}

		b, err := json.Marshal(report)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal report: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPipelineStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(statusPayload(deps))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceMetrics(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Metrics.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metrics: %w", err)
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
