package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/logging"
)

// Client talks to a remote gateway over HTTP. It satisfies the same
// generate/detect contract as *Gateway, so agents can run against either.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.Mutex
	models []llm.ModelDescriptor
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Generate posts the request to /generate. Gateway errors are rebuilt as
// *llm.UnknownModelError and *llm.ProviderError.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	in := GenerateRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
		Tools:     req.Tools,
	}
	if req.Temperature >= 0 {
		temperature := req.Temperature
		in.Temperature = &temperature
	}
	body, err := json.Marshal(in)
	if err != nil {
		return llm.Response{}, fmt.Errorf("encode generate request: %w", err)
	}

	var resp llm.Response
	if err := c.do(ctx, http.MethodPost, "/generate", body, &resp); err != nil {
		return llm.Response{}, err
	}
	return resp, nil
}

// Models fetches the registered models and remembers them for DetectModel.
func (c *Client) Models(ctx context.Context) ([]llm.ModelDescriptor, error) {
	var models []llm.ModelDescriptor
	if err := c.do(ctx, http.MethodGet, "/models/list", nil, &models); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.models = models
	c.mu.Unlock()
	return models, nil
}

// DetectModel runs keyword detection against the remote model list.
func (c *Client) DetectModel(ctx context.Context, hint string) (llm.ModelDescriptor, bool) {
	c.mu.Lock()
	models := c.models
	c.mu.Unlock()

	if models == nil {
		fetched, err := c.Models(ctx)
		if err != nil {
			logging.FromContext(ctx, logging.Named("gateway-client")).Warn("list models failed", "error", err)
			return llm.ModelDescriptor{}, false
		}
		models = fetched
	}
	return llm.DetectModel(models, hint)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &llm.ProviderError{Provider: "gateway", Cause: llm.CauseUnavailable, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &llm.ProviderError{Provider: "gateway", Cause: llm.CauseMalformed, Err: err}
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body ErrorResponse
	fromGateway := json.Unmarshal(data, &body) == nil && body.Error != ""
	if !fromGateway {
		body.Error = strings.TrimSpace(string(data))
	}

	switch {
	case status == http.StatusNotFound && fromGateway:
		return &llm.UnknownModelError{Name: body.Model}
	case status == http.StatusBadGateway:
		cause := llm.ProviderCause(body.Cause)
		if cause == "" {
			cause = llm.CauseUnavailable
		}
		provider := body.Provider
		if provider == "" {
			provider = "gateway"
		}
		return &llm.ProviderError{Provider: provider, Cause: cause, Err: fmt.Errorf("%s", body.Error)}
	default:
		return fmt.Errorf("gateway returned %d: %s", status, body.Error)
	}
}
