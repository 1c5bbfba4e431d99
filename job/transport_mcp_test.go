package job

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

var testMCPImpl = &mcp.Implementation{Name: "sitebookify-test", Version: "0.1.0"}

// mcpSession builds a Service over an FS-backed store, registers its MCP
// tools, and returns a connected in-memory client session.
func mcpSession(t *testing.T, dispatcher Dispatcher) (*Service, *mcp.ClientSession) {
	t.Helper()
	svc, _ := newTestService(t, dispatcher)

	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()

	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return svc, session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// callToolExpectError invokes a tool whose endpoint is expected to return a
// Go error (propagated by kit.RegisterMCPTool via CallToolResult.SetError),
// rather than a success response carrying an "error" field.
func callToolExpectError(t *testing.T, session *mcp.ClientSession, name string, args any) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestMCP_CreateJob(t *testing.T) {
	_, session := mcpSession(t, &stubDispatcher{})

	text := callTool(t, session, "sitebookify_create_job", map[string]any{
		"source_url": "https://example.com",
		"title":      "My Book",
	})

	var j Job
	require.NoError(t, json.Unmarshal([]byte(text), &j))
	require.NotEmpty(t, j.Name)
	require.Equal(t, StatusQueued, j.Status)
	require.Equal(t, "My Book", j.Spec.Title)
}

func TestMCP_CreateJob_MissingSourceURL(t *testing.T) {
	_, session := mcpSession(t, &stubDispatcher{})
	callToolExpectError(t, session, "sitebookify_create_job", map[string]any{})
}

func TestMCP_GetJob(t *testing.T) {
	svc, session := mcpSession(t, &stubDispatcher{})
	created, err := svc.CreateJob(context.Background(), Spec{SourceURL: "https://example.com"})
	require.NoError(t, err)

	text := callTool(t, session, "sitebookify_get_job", map[string]any{"name": created.Name})
	var got Job
	require.NoError(t, json.Unmarshal([]byte(text), &got))
	require.Equal(t, created.Name, got.Name)
}

func TestMCP_GetJob_NotFound(t *testing.T) {
	_, session := mcpSession(t, &stubDispatcher{})
	callToolExpectError(t, session, "sitebookify_get_job", map[string]any{"name": "jobs/missing"})
}

func TestMCP_ListJobs(t *testing.T) {
	svc, session := mcpSession(t, &stubDispatcher{})
	_, err := svc.CreateJob(context.Background(), Spec{SourceURL: "https://example.com/a"})
	require.NoError(t, err)
	_, err = svc.CreateJob(context.Background(), Spec{SourceURL: "https://example.com/b"})
	require.NoError(t, err)

	text := callTool(t, session, "sitebookify_list_jobs", map[string]any{})
	var resp struct {
		Jobs []Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	require.Len(t, resp.Jobs, 2)
}

func TestMCP_GenerateDownloadURL_RequiresDoneStatus(t *testing.T) {
	svc, session := mcpSession(t, &stubDispatcher{})
	created, err := svc.CreateJob(context.Background(), Spec{SourceURL: "https://example.com"})
	require.NoError(t, err)

	callToolExpectError(t, session, "sitebookify_generate_download_url", map[string]any{"name": created.Name})
}

func TestMCP_Preview_RejectsInvalidURL(t *testing.T) {
	_, session := mcpSession(t, &stubDispatcher{})
	callToolExpectError(t, session, "sitebookify_preview", map[string]any{"url": "not a url"})
}
