package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/logging"
)

const maxRequestBody = 4 << 20

// GenerateRequest is the body of POST /generate.
// A missing temperature means the default, not zero.
type GenerateRequest struct {
	Model       string               `json:"model,omitempty"`
	Messages    []llm.ChatMessage    `json:"messages"`
	Temperature *float64             `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Tools       []llm.ToolDefinition `json:"tools,omitempty"`
}

// ToRequest converts the wire body into a canonical request.
func (r GenerateRequest) ToRequest() llm.Request {
	req := llm.Request{
		Model:       r.Model,
		Messages:    r.Messages,
		Temperature: -1,
		MaxTokens:   r.MaxTokens,
		Tools:       r.Tools,
	}
	if r.Temperature != nil {
		req.Temperature = *r.Temperature
	}
	return req.WithDefaults()
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error    string `json:"error"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
	Cause    string `json:"cause,omitempty"`
}

// Server exposes a Gateway over HTTP.
type Server struct {
	gateway *Gateway
	addr    string
	mux     *http.ServeMux
	logger  *slog.Logger
}

// NewServer creates an HTTP server for g listening on addr.
func NewServer(g *Gateway, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Named("http")
	}
	s := &Server{
		gateway: g,
		addr:    addr,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	s.mux.HandleFunc("GET /models/list", s.handleModels)
	s.mux.HandleFunc("POST /generate", s.handleGenerate)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	s.mux.HandleFunc("POST /metrics/reset", s.handleMetricsReset)
	s.mux.HandleFunc("POST /cache/clear", s.handleCacheClear)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.withRequestLog(s.mux).ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("gateway shutting down")
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.gateway.Models(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "read body: " + err.Error()})
		return
	}

	var in GenerateRequest
	if err := json.Unmarshal(body, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if len(in.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "messages must not be empty"})
		return
	}

	resp, err := s.gateway.Generate(r.Context(), in.ToRequest())
	if err != nil {
		status, body := errorStatus(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Metrics())
}

func (s *Server) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	s.gateway.ResetMetrics()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.ClearCache(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	models, _ := s.gateway.Models(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"models": len(models),
	})
}

// errorStatus maps gateway errors to HTTP statuses.
func errorStatus(err error) (int, ErrorResponse) {
	var unknown *llm.UnknownModelError
	if errors.As(err, &unknown) {
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Model: unknown.Name}
	}
	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		return http.StatusBadGateway, ErrorResponse{
			Error:    err.Error(),
			Provider: perr.Provider,
			Cause:    string(perr.Cause),
		}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: err.Error()}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLog tags each request with an id and logs its outcome.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := logging.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(rec, r.WithContext(ctx))

		logging.FromContext(ctx, s.logger).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", millis(time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
