package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/logging"
	"github.com/richinex/agentgate/tools"
)

const maxBody = 4 << 20

// HTTPClient calls a toolbox service at POST {baseURL}/tools/list and
// POST {baseURL}/tools/call.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a toolbox client. A nil httpClient gets a 30s timeout.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// ListTools implements tools.Invoker.
func (c *HTTPClient) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	var result listResult
	if err := c.post(ctx, "/tools/list", nil, &result); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return definitions(result.Tools), nil
}

// CallTool implements tools.Invoker. Non-2xx replies, isError results and
// bodies with an error field come back as *tools.ExecutionError.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	args, err := arguments(args)
	if err != nil {
		return "", &tools.ExecutionError{Tool: name, Err: err}
	}

	var result CallResult
	if err := c.post(ctx, "/tools/call", CallRequest{Name: name, Arguments: args}, &result); err != nil {
		return "", &tools.ExecutionError{Tool: name, Err: err}
	}
	if err := result.Failure(); err != nil {
		return "", &tools.ExecutionError{Tool: name, Err: err}
	}
	return result.Text(), nil
}

func (c *HTTPClient) post(ctx context.Context, path string, in, out interface{}) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("toolbox returned %d: %s", resp.StatusCode, errorDetail(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorDetail extracts the message from an error body. Both {"error": ...}
// and {"detail": ...} are understood.
func errorDetail(data []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return strings.TrimSpace(string(data))
}
