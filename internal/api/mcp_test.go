package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/devinv/internal/resolve"
)

func newTestMCPDeps(t *testing.T, online bool) (MCPDeps, *testApp) {
	t.Helper()
	app := setupApp(t, "", online)
	return MCPDeps{
		Router:     app.deps.Router,
		Resolver:   app.deps.Resolver,
		Reconciler: app.deps.Reconciler,
		Queue:      app.deps.Queue,
	}, app
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
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

func validToolArgs() map[string]interface{} {
	return map[string]interface{}{
		"name":      "ThinkPad X1",
		"year":      2023,
		"price":     1450.5,
		"cpu_model": "i7",
		"disk_size": "512 GB",
	}
}

func TestMCPTool_CreateRecord_Online(t *testing.T) {
	deps, _ := newTestMCPDeps(t, true)

	result, err := mcpCreateRecord(deps)(context.Background(), makeCallToolRequest("create_record", validToolArgs()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "Object successfully created. ID: 101" {
		t.Errorf("text = %q", got)
	}
}

func TestMCPTool_CreateRecord_Offline(t *testing.T) {
	deps, app := newTestMCPDeps(t, false)

	result, _ := mcpCreateRecord(deps)(context.Background(), makeCallToolRequest("create_record", validToolArgs()))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "Data saved locally (ID: offline-1). Sync when online." {
		t.Errorf("text = %q", got)
	}
	if n, _ := app.queue.Len(context.Background()); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
}

func TestMCPTool_CreateRecord_MissingField(t *testing.T) {
	deps, _ := newTestMCPDeps(t, true)
	args := validToolArgs()
	delete(args, "cpu_model")

	result, _ := mcpCreateRecord(deps)(context.Background(), makeCallToolRequest("create_record", args))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if got := toolText(t, result); got != "CPU Model is required." {
		t.Errorf("text = %q", got)
	}
}

func TestMCPTool_GetRecords(t *testing.T) {
	deps, _ := newTestMCPDeps(t, false)
	ctx := context.Background()
	mcpCreateRecord(deps)(ctx, makeCallToolRequest("create_record", validToolArgs()))

	result, _ := mcpGetRecords(deps)(ctx, makeCallToolRequest("get_records", map[string]interface{}{"ids": "offline-1"}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var res resolve.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("parsing result: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Name != "ThinkPad X1" || !res.Offline {
		t.Errorf("result = %+v", res)
	}
}

func TestMCPTool_GetRecords_InvalidIDs(t *testing.T) {
	deps, _ := newTestMCPDeps(t, true)

	result, _ := mcpGetRecords(deps)(context.Background(), makeCallToolRequest("get_records", map[string]interface{}{"ids": " , "}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(toolText(t, result), "at least one object ID") {
		t.Errorf("text = %q", toolText(t, result))
	}
}

func TestMCPTool_SyncQueue(t *testing.T) {
	deps, app := newTestMCPDeps(t, false)
	ctx := context.Background()

	result, _ := mcpSyncQueue(deps)(ctx, makeCallToolRequest("sync_queue", nil))
	if !result.IsError || toolText(t, result) != "Device is still offline." {
		t.Fatalf("offline sync = %+v", result)
	}

	mcpCreateRecord(deps)(ctx, makeCallToolRequest("create_record", validToolArgs()))
	app.sensor.Set(true)

	result, _ = mcpSyncQueue(deps)(ctx, makeCallToolRequest("sync_queue", nil))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "1 object(s) synced successfully." {
		t.Errorf("text = %q", got)
	}

	result, _ = mcpSyncQueue(deps)(ctx, makeCallToolRequest("sync_queue", nil))
	if got := toolText(t, result); got != "Nothing to sync." {
		t.Errorf("empty sync text = %q", got)
	}
}

func TestMCPResource_Pending(t *testing.T) {
	deps, _ := newTestMCPDeps(t, false)
	ctx := context.Background()
	mcpCreateRecord(deps)(ctx, makeCallToolRequest("create_record", validToolArgs()))

	req := mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "queue://pending"}}
	contents, err := mcpResourcePending(deps)(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if !strings.Contains(tc.Text, `"id":"offline-1"`) {
		t.Errorf("resource text = %s", tc.Text)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t, true)
	if NewMCPServer(deps) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
