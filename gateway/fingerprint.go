package gateway

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/richinex/agentgate/llm"
)

// Call IDs are replaced by their position among the request's tool calls,
// since providers and the agent may generate them per run.
type fingerprintCall struct {
	Ref       int             `json:"ref"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type fingerprintMessage struct {
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	ToolCalls   []fingerprintCall `json:"tool_calls,omitempty"`
	ToolCallRef *int              `json:"tool_call_ref,omitempty"`
	Name        string            `json:"name,omitempty"`
}

type fingerprintInput struct {
	Model       string               `json:"model"`
	Messages    []fingerprintMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
}

// Fingerprint returns the cache key for a request routed to model.
// Only the model name, messages, temperature and max tokens take part.
// Tool-call arguments are re-encoded with sorted keys, so argument field
// order does not change the key. Tool-call IDs are volatile and never
// take part; a tool result is tied to its call by position instead.
func Fingerprint(model string, req llm.Request) string {
	in := fingerprintInput{
		Model:       model,
		Messages:    make([]fingerprintMessage, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	refs := make(map[string]int)
	next := 0
	for i, msg := range req.Messages {
		fm := fingerprintMessage{
			Role:    msg.Role,
			Content: msg.Content,
			Name:    msg.Name,
		}
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" {
				refs[tc.ID] = next
			}
			fm.ToolCalls = append(fm.ToolCalls, fingerprintCall{
				Ref:       next,
				Name:      tc.Name,
				Arguments: canonicalJSON(tc.Arguments),
			})
			next++
		}
		if msg.ToolCallID != "" {
			ref := -1
			if r, ok := refs[msg.ToolCallID]; ok {
				ref = r
			}
			fm.ToolCallRef = &ref
		}
		in.Messages[i] = fm
	}

	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON re-encodes raw with map keys sorted. Invalid JSON is kept
// as a JSON string so the result is always valid.
func canonicalJSON(raw json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		quoted, _ := json.Marshal(string(raw))
		return quoted
	}
	out, err := json.Marshal(v)
	if err != nil {
		quoted, _ := json.Marshal(string(raw))
		return quoted
	}
	return out
}
