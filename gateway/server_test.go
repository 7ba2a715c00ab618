package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/logging"
	"github.com/richinex/agentgate/metrics"
)

func newTestServer(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()
	env := newTestGateway(t)
	srv := httptest.NewServer(NewServer(env.gateway, "", logging.Discard()))
	t.Cleanup(srv.Close)
	return env, srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func TestServerGenerate(t *testing.T) {
	_, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/generate", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if raw["text"] != "gpt says hi" || raw["model_used"] != "gpt-4o" || raw["cached"] != false {
		t.Errorf("unexpected body %v", raw)
	}
	if _, ok := raw["estimated_cost_usd"]; !ok {
		t.Error("expected estimated_cost_usd in body")
	}
}

func TestServerGenerateAppliesDefaults(t *testing.T) {
	env, srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/generate", `{"messages":[{"role":"user","content":"hi"}]}`)
	resp.Body.Close()

	key := Fingerprint("gpt-4o", llm.Request{
		Messages:    []llm.ChatMessage{llm.UserMessage("hi")},
		Temperature: llm.DefaultTemperature,
		MaxTokens:   llm.DefaultMaxTokens,
	})
	if _, ok, _ := env.cache.Get(t.Context(), key); !ok {
		t.Error("missing temperature and max_tokens should default to 0.7 and 2000")
	}
}

func TestServerGenerateZeroTemperatureIsExplicit(t *testing.T) {
	var in GenerateRequest
	if err := json.Unmarshal([]byte(`{"messages":[],"temperature":0}`), &in); err != nil {
		t.Fatal(err)
	}
	if got := in.ToRequest().Temperature; got != 0 {
		t.Errorf("explicit zero temperature must survive, got %f", got)
	}
}

func TestServerGenerateErrors(t *testing.T) {
	env, srv := newTestServer(t)
	env.gemini.err = &llm.ProviderError{Provider: "google", Cause: llm.CauseAuth, Err: errors.New("bad key")}

	tests := []struct {
		name       string
		body       string
		wantStatus int
		check      func(t *testing.T, body ErrorResponse)
	}{
		{
			name:       "invalid json",
			body:       `{"messages":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty messages",
			body:       `{"messages":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown model",
			body:       `{"model":"gpt-5","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusNotFound,
			check: func(t *testing.T, body ErrorResponse) {
				if body.Model != "gpt-5" {
					t.Errorf("expected model gpt-5, got %q", body.Model)
				}
			},
		},
		{
			name:       "provider failure",
			body:       `{"model":"gemini-pro","messages":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusBadGateway,
			check: func(t *testing.T, body ErrorResponse) {
				if body.Provider != "google" || body.Cause != "auth" {
					t.Errorf("unexpected error body %+v", body)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/generate", tt.body)
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			var body ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Error == "" {
				t.Error("expected error message")
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestServerModelsAndHealth(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/models/list")
	if err != nil {
		t.Fatal(err)
	}
	var models []llm.ModelDescriptor
	_ = json.NewDecoder(resp.Body).Decode(&models)
	resp.Body.Close()
	if len(models) != 2 || models[1].Provider != "google" {
		t.Errorf("unexpected models %+v", models)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health["status"] != "ok" || health["models"] != float64(2) {
		t.Errorf("unexpected health %v", health)
	}
}

func TestServerMetricsLifecycle(t *testing.T) {
	_, srv := newTestServer(t)
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`

	postJSON(t, srv.URL+"/generate", body).Body.Close()
	postJSON(t, srv.URL+"/generate", body).Body.Close()

	snap := getMetrics(t, srv.URL)
	if snap.TotalRequests != 2 || snap.CacheHits != 1 || snap.CacheHitRatio != 0.5 {
		t.Errorf("unexpected metrics %+v", snap)
	}

	postJSON(t, srv.URL+"/cache/clear", "").Body.Close()
	postJSON(t, srv.URL+"/metrics/reset", "").Body.Close()
	if snap := getMetrics(t, srv.URL); snap.TotalRequests != 0 {
		t.Errorf("expected reset metrics, got %+v", snap)
	}

	postJSON(t, srv.URL+"/generate", body).Body.Close()
	if snap := getMetrics(t, srv.URL); snap.CacheMisses != 1 {
		t.Errorf("expected a miss after cache clear, got %+v", snap)
	}
}

func TestServerKeepsRequestID(t *testing.T) {
	_, srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/generate",
		bytes.NewBufferString(`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected request id to be echoed, got %q", got)
	}
}

func TestServerMethodNotAllowed(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/generate")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func getMetrics(t *testing.T, base string) metrics.Snapshot {
	t.Helper()
	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var snap metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	return snap
}
