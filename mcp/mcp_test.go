package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/richinex/agentgate/logging"
	"github.com/richinex/agentgate/tools"
)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	err := r.Register(tools.NewFunc("upper", "Uppercases text",
		tools.ObjectSchema([]tools.Property{{Name: "text", Type: "string", Required: true}}),
		func(_ context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := tools.DecodeArgs(args, &in); err != nil {
				return "", err
			}
			if in.Text == "" {
				return "", errors.New("text is required")
			}
			return strings.ToUpper(in.Text), nil
		}))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func newToolbox(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(Handler(testRegistry(t), logging.Discard()))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClientListTools(t *testing.T) {
	srv := newToolbox(t)
	client := NewHTTPClient(srv.URL+"/", nil)

	defs, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "upper" {
		t.Fatalf("unexpected tools %+v", defs)
	}
	props, _ := defs[0].Parameters["properties"].(map[string]interface{})
	if _, ok := props["text"]; !ok {
		t.Errorf("schema lost in transit: %+v", defs[0].Parameters)
	}
}

func TestHTTPClientCallTool(t *testing.T) {
	srv := newToolbox(t)
	client := NewHTTPClient(srv.URL, nil)
	ctx := context.Background()

	out, err := client.CallTool(ctx, "upper", json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if out != "HELLO" {
		t.Errorf("expected HELLO, got %q", out)
	}

	tests := []struct {
		name    string
		tool    string
		args    string
		wantMsg string
	}{
		{"unknown tool", "missing", `{}`, "404"},
		{"tool failure", "upper", `{}`, "text is required"},
		{"non-object arguments", "upper", `[1,2]`, "JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.CallTool(ctx, tt.tool, json.RawMessage(tt.args))
			var execErr *tools.ExecutionError
			if !errors.As(err, &execErr) {
				t.Fatalf("expected ExecutionError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected %q in %v", tt.wantMsg, err)
			}
		})
	}
}

func TestHTTPClientToolboxShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mcp/tools/list":
			_, _ = w.Write([]byte(`{"tools":[{"name":"add","description":"Adds","inputSchema":{"type":"object","properties":{"a":{"type":"number"}}}}]}`))
		case "/mcp/tools/call":
			var req CallRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Name == "divide" {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"detail":"Tool execution failed: division by zero"}`))
				return
			}
			if req.Name == "broken" {
				_, _ = w.Write([]byte(`{"error":"division by zero"}`))
				return
			}
			if req.Name == "flag" {
				_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"bad input"}],"isError":true}`))
				return
			}
			_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"8"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL+"/mcp", nil)
	ctx := context.Background()

	defs, err := client.ListTools(ctx)
	if err != nil || len(defs) != 1 || defs[0].Description != "Adds" {
		t.Fatalf("unexpected list result %+v, %v", defs, err)
	}

	if out, err := client.CallTool(ctx, "add", nil); err != nil || out != "8" {
		t.Errorf("expected 8, got %q, %v", out, err)
	}

	_, err = client.CallTool(ctx, "divide", json.RawMessage(`{"a":1,"b":0}`))
	if err == nil || !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("expected detail message, got %v", err)
	}

	_, err = client.CallTool(ctx, "broken", nil)
	var execErr *tools.ExecutionError
	if !errors.As(err, &execErr) || !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("expected error field as execution error, got %v", err)
	}

	_, err = client.CallTool(ctx, "flag", nil)
	if err == nil || !strings.Contains(err.Error(), "bad input") {
		t.Errorf("expected isError text, got %v", err)
	}
}

func TestHandlerRejectsBadBody(t *testing.T) {
	srv := newToolbox(t)

	resp, err := http.Post(srv.URL+"/tools/call", "application/json", strings.NewReader(`{"arguments":{}}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestToolInfoDefinitionDefaults(t *testing.T) {
	def := ToolInfo{Name: "ping", InputSchema: json.RawMessage(`not json`)}.Definition()
	if def.Parameters["type"] != "object" {
		t.Errorf("expected object schema, got %+v", def.Parameters)
	}
	if _, ok := def.Parameters["properties"]; !ok {
		t.Error("expected empty properties")
	}
}

func TestCallResultText(t *testing.T) {
	r := CallResult{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "image"},
		{Type: "text", Text: "b"},
	}}
	if got := r.Text(); got != "a\nb" {
		t.Errorf("expected text blocks joined, got %q", got)
	}
}

// fakeStdioServer answers JSON-RPC requests the way an MCP server would.
func fakeStdioServer(t *testing.T, in io.Reader, out io.WriteCloser, reg *tools.Registry) {
	defer out.Close()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req struct {
			ID     *uint64         `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			t.Errorf("server got invalid JSON: %v", err)
			return
		}
		if req.ID == nil {
			continue
		}

		var result interface{}
		var rpcErr *rpcError
		switch req.Method {
		case "initialize":
			result = map[string]interface{}{"protocolVersion": protocolVersion}
		case "tools/list":
			defs, _ := reg.ListTools(context.Background())
			infos := make([]ToolInfo, len(defs))
			for i, def := range defs {
				infos[i] = infoFromDefinition(def)
			}
			result = listResult{Tools: infos}
		case "tools/call":
			_, _ = out.Write([]byte(`{"jsonrpc":"2.0","method":"notifications/progress"}` + "\n"))
			var call CallRequest
			_ = json.Unmarshal(req.Params, &call)
			text, err := reg.CallTool(context.Background(), call.Name, call.Arguments)
			if err != nil {
				result = CallResult{Content: []ContentBlock{{Type: "text", Text: err.Error()}}, IsError: true}
			} else {
				result = TextResult(text)
			}
		default:
			rpcErr = &rpcError{Code: -32601, Message: "method not found"}
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": *req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		data, _ := json.Marshal(resp)
		_, _ = out.Write(append(data, '\n'))
	}
}

func newPipedClient(t *testing.T) *Client {
	t.Helper()
	clientToServerR, clientToServerW := io.Pipe()
	serverToClientR, serverToClientW := io.Pipe()
	go fakeStdioServer(t, clientToServerR, serverToClientW, testRegistry(t))

	client := newClient(clientToServerW, serverToClientR)
	if err := client.initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestStdioClientListAndCall(t *testing.T) {
	client := newPipedClient(t)
	ctx := context.Background()

	defs, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "upper" {
		t.Fatalf("unexpected tools %+v", defs)
	}

	out, err := client.CallTool(ctx, "upper", json.RawMessage(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if out != "HELLO" {
		t.Errorf("expected HELLO, got %q", out)
	}

	_, err = client.CallTool(ctx, "upper", json.RawMessage(`{}`))
	var execErr *tools.ExecutionError
	if !errors.As(err, &execErr) || !strings.Contains(err.Error(), "text is required") {
		t.Errorf("expected ExecutionError from isError result, got %v", err)
	}
}

func TestStdioClientRPCError(t *testing.T) {
	client := newPipedClient(t)

	_, err := client.call(context.Background(), "resources/list", nil)
	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Errorf("expected method-not-found rpc error, got %v", err)
	}
}

func TestStdioClientClosed(t *testing.T) {
	client := newPipedClient(t)
	client.Close()

	if _, err := client.ListTools(context.Background()); err == nil {
		t.Error("expected error after Close")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	data := `{"mcpServers":{"text":{"command":"./text-tools","env":{"A":"1"}},"calc":{"command":"python","args":["-m","calc"]}}}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if names := cfg.Names(); len(names) != 2 || names[0] != "calc" {
		t.Errorf("expected sorted names, got %v", names)
	}
	if cfg.MCPServers["calc"].Args[1] != "calc" || cfg.MCPServers["text"].Env["A"] != "1" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(path, []byte(`{"mcpServers":{"x":{}}}`), 0o644)
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for server without command")
	}
}

func TestStartAllFailsOnMissingBinary(t *testing.T) {
	cfg := &Config{MCPServers: map[string]ServerConfig{
		"nope": {Command: filepath.Join(t.TempDir(), "does-not-exist")},
	}}
	if _, err := cfg.StartAll(context.Background()); err == nil {
		t.Error("expected error for missing binary")
	}
}
