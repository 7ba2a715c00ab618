// Error taxonomy for model resolution and provider calls.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// UnknownModelError is returned when an explicit model name is not registered.
type UnknownModelError struct {
	Name string
}

func (e *UnknownModelError) Error() string {
	if e.Name == "" {
		return "no model available: registry is empty"
	}
	return fmt.Sprintf("unknown model %q", e.Name)
}

// ProviderCause classifies a provider-side failure.
type ProviderCause string

const (
	CauseAuth        ProviderCause = "auth"
	CauseQuota       ProviderCause = "quota"
	CauseTimeout     ProviderCause = "timeout"
	CauseMalformed   ProviderCause = "malformed-response"
	CauseUnavailable ProviderCause = "unavailable"
)

// ProviderError wraps any failure raised while calling an upstream provider.
type ProviderError struct {
	Provider string
	Cause    ProviderCause
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: provider error (%s)", e.Provider, e.Cause)
	}
	return fmt.Sprintf("%s: provider error (%s): %v", e.Provider, e.Cause, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// CacheCorruptionError reports a cached entry that could not be decoded.
// The gateway never surfaces it; the entry is evicted and treated as a miss.
type CacheCorruptionError struct {
	Key string
	Err error
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("corrupted cache entry %s: %v", e.Key, e.Err)
}

func (e *CacheCorruptionError) Unwrap() error {
	return e.Err
}

// NewProviderError classifies err into a *ProviderError for the named provider.
// An error that is already a *ProviderError is returned unchanged.
func NewProviderError(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProviderError{Provider: provider, Cause: classify(err), Err: err}
}

// MalformedResponse builds a malformed-response error with a formatted message.
func MalformedResponse(provider, format string, args ...interface{}) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Cause:    CauseMalformed,
		Err:      fmt.Errorf(format, args...),
	}
}

// classify maps SDK and transport errors onto a ProviderCause.
func classify(err error) ProviderCause {
	if err == nil {
		return CauseUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CauseTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CauseTimeout
	}

	if status := statusCode(err); status != 0 {
		return causeFromStatus(status)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return CauseMalformed
	}

	return CauseUnavailable
}

// statusCode digs the HTTP status out of the SDK error types.
func statusCode(err error) int {
	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return oaiAPI.HTTPStatusCode
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return oaiReq.HTTPStatusCode
	}
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return anthropicErr.StatusCode
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return genaiErr.Code
	}
	var genaiPtr *genai.APIError
	if errors.As(err, &genaiPtr) && genaiPtr != nil {
		return genaiPtr.Code
	}
	return 0
}

func causeFromStatus(status int) ProviderCause {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CauseAuth
	case status == http.StatusTooManyRequests || status == http.StatusPaymentRequired:
		return CauseQuota
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CauseTimeout
	default:
		return CauseUnavailable
	}
}
