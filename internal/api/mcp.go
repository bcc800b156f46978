package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/devinv/internal/records"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Router     Submitter
	Resolver   Reader
	Reconciler Replayer
	Queue      QueueReader
}

// NewMCPServer creates an MCP server with the record tools and the pending
// queue resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"devinv",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("devinv: device inventory records that keep working offline. Records created offline get offline-N ids until synced."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("create_record",
			mcp.WithDescription("Create a device record. Queued locally with a provisional id when offline."),
			mcp.WithString("name", mcp.Description("Device name"), mcp.Required()),
			mcp.WithNumber("year", mcp.Description("Year of manufacture (e.g. 2024)"), mcp.Required()),
			mcp.WithNumber("price", mcp.Description("Price, greater than 0"), mcp.Required()),
			mcp.WithString("cpu_model", mcp.Description("CPU model"), mcp.Required()),
			mcp.WithString("disk_size", mcp.Description("Hard disk size (e.g. 1 TB)"), mcp.Required()),
		),
		mcpCreateRecord(deps),
	)

	s.AddTool(
		mcp.NewTool("get_records",
			mcp.WithDescription("Fetch records by id. Accepts server ids and offline-N ids."),
			mcp.WithString("ids", mcp.Description("Comma-separated ids (e.g. 3,5,offline-1)"), mcp.Required()),
		),
		mcpGetRecords(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_queue",
			mcp.WithDescription("Send every record queued while offline to the server."),
		),
		mcpSyncQueue(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"queue://pending",
			"Pending Records",
			mcp.WithResourceDescription("Records created offline and not yet synced"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePending(deps),
	)

	return s
}

// toolPayload builds a payload from tool arguments. Missing attributes are
// left out so validation can name them.
func toolPayload(req mcp.CallToolRequest) records.Payload {
	args := req.GetArguments()
	attrs := map[string]any{}
	copyArg := func(arg, attr string) {
		if v, ok := args[arg]; ok && v != nil {
			attrs[attr] = v
		}
	}
	copyArg("year", records.AttrYear)
	copyArg("price", records.AttrPrice)
	copyArg("cpu_model", records.AttrCPUModel)
	copyArg("disk_size", records.AttrDiskSize)

	return records.Payload{
		Name:       req.GetString("name", ""),
		Attributes: attrs,
	}
}

func mcpCreateRecord(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := deps.Router.Submit(ctx, toolPayload(req))
		if err != nil {
			_, _, msg := classify(err)
			return mcpError(msg), nil
		}
		return mcpText(out.Message), nil
	}
}

func mcpGetRecords(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("ids")
		if err != nil {
			return mcpError("ids is required"), nil
		}
		ids := records.ParseIDs(raw)
		if err := records.ValidateIDs(ids); err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Resolver.Resolve(ctx, ids)
		if err != nil {
			_, _, msg := classify(err)
			return mcpError(msg), nil
		}
		if res.Records == nil {
			res.Records = []records.Record{}
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal records: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSyncQueue(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rep, err := deps.Reconciler.Replay(ctx)
		if err != nil {
			_, _, msg := classify(err)
			return mcpError(msg), nil
		}
		msg := rep.Summary()
		if msg == "" {
			msg = "Nothing to sync."
		}
		return mcpText(msg), nil
	}
}

func mcpResourcePending(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tagged, err := deps.Queue.Tagged(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read queue: %w", err)
		}
		if tagged == nil {
			tagged = []records.Record{}
		}

		b, err := json.Marshal(tagged)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal queue: %w", err)
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
