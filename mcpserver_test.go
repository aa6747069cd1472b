package msmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mark3labs/mcp-go/server"
)

// mcpTestServer is a streamable HTTP MCP server backed by sqlmock.
type mcpTestServer struct {
	m       *SQLServerMcp
	db      sqlmock.Sqlmock
	baseURL string
}

// startMCPTestServer registers the tools on a fresh MCP server and serves it
// on a free port. A non-empty healthCheckPath mounts the health endpoint.
func startMCPTestServer(t *testing.T, healthCheckPath string) *mcpTestServer {
	t.Helper()

	m, db := newMockInstance(t, Config{})

	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	mcpServer := server.NewMCPServer("gomsmcp-test", "1.0.0",
		server.WithToolCapabilities(true),
	)
	RegisterMCPTools(mcpServer, m)

	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()
	if healthCheckPath != "" {
		mux.HandleFunc(healthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)
	// A custom http.Server means Start does not mount the handler itself.
	mux.Handle("/mcp", streamableServer)

	go func() {
		if err := streamableServer.Start(addr); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	time.Sleep(200 * time.Millisecond)
	t.Cleanup(func() { streamableServer.Shutdown(context.Background()) })

	return &mcpTestServer{m: m, db: db, baseURL: fmt.Sprintf("http://localhost:%d", port)}
}

// jsonRPC posts a JSON-RPC request to the MCP endpoint and returns the parsed response.
func (s *mcpTestServer) jsonRPC(t *testing.T, method string, params any) map[string]any {
	t.Helper()

	reqBody := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		reqBody["params"] = params
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	resp, err := http.Post(s.baseURL+"/mcp", "application/json", strings.NewReader(string(bodyBytes)))
	if err != nil {
		t.Fatalf("JSON-RPC request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("failed to parse response JSON: %v; body: %s", err, string(respBody))
	}
	return result
}

// toolText calls a tool and returns its first text content and error flag.
func (s *mcpTestServer) toolText(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	result := s.jsonRPC(t, "tools/call", map[string]any{"name": name, "arguments": args})
	resultObj, ok := result["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %v", result)
	}
	content, ok := resultObj["content"].([]any)
	if !ok || len(content) == 0 {
		t.Fatalf("expected content array, got %v", resultObj["content"])
	}
	first := content[0].(map[string]any)
	if first["type"] != "text" {
		t.Fatalf("expected content type 'text', got %q", first["type"])
	}
	isError, _ := resultObj["isError"].(bool)
	return first["text"].(string), isError
}

func TestMCPServer_ToolsList(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, "")

	result := s.jsonRPC(t, "tools/list", map[string]any{})
	resultObj := result["result"].(map[string]any)
	tools, ok := resultObj["tools"].([]any)
	if !ok {
		t.Fatalf("expected tools array, got %T: %v", resultObj["tools"], resultObj["tools"])
	}
	if len(tools) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(tools))
	}

	toolNames := map[string]bool{}
	for _, tool := range tools {
		toolNames[tool.(map[string]any)["name"].(string)] = true
	}
	for _, expected := range []string{
		"read_query", "list_tables", "describe_table",
		"get_table_linked_to_this_procedure", "get_procedure_linked_to_this_table",
	} {
		if !toolNames[expected] {
			t.Fatalf("expected tool %q in list, got %v", expected, toolNames)
		}
	}
}

func TestMCPServer_ReadQueryTool(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, "")
	expectSession(s.db, exactSQL("SELECT TOP 2 * FROM (SELECT Id, Customer FROM Orders ORDER BY Id) AS limited_result"), ordersRows())

	text, isError := s.toolText(t, "read_query", map[string]any{
		"query":     "SELECT Id, Customer FROM Orders ORDER BY Id",
		"row_limit": 2,
	})
	if isError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.HasPrefix(text, `[{"Id":1,"Customer":"Ada"},`) {
		t.Fatalf("expected rows in column order, got %s", text)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(text), &rows); err != nil {
		t.Fatalf("failed to parse rows: %v", err)
	}
	if len(rows) != 3 || rows[0]["Customer"] != "Ada" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestMCPServer_ReadQueryRejected(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, "")

	text, isError := s.toolText(t, "read_query", map[string]any{"query": "SELECT 1; DROP TABLE Orders"})
	if !isError {
		t.Fatalf("expected error result, got %s", text)
	}
	if !strings.HasPrefix(text, "multiple statements not allowed") {
		t.Fatalf("unexpected error text %q", text)
	}
}

func TestMCPServer_DescribeTableTool(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, "")
	sales := mockDatabase(t, s.m, "Sales")
	expectSession(sales, describeStatement, ordersColumnRows()).WithArgs("Orders")

	text, isError := s.toolText(t, "describe_table", map[string]any{"table_name": "Orders", "database": "Sales"})
	if isError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.HasPrefix(text, "[{'name': 'Id', 'type': 'int'") {
		t.Fatalf("unexpected text %s", text)
	}
}

func TestMCPServer_HealthCheckAndMCPCoexist(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, "/healthz")
	expectSession(s.db, exactSQL(listTablesSQL), tableRows("Orders"))

	resp, err := http.Get(s.baseURL + "/healthz")
	if err != nil {
		t.Fatalf("health check request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health check: expected 200, got %d", resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) != `{"status":"ok"}` {
		t.Fatalf("unexpected health body %q", string(body))
	}

	if text, isError := s.toolText(t, "list_tables", map[string]any{}); isError {
		t.Fatalf("list_tables returned error: %s", text)
	}
}
