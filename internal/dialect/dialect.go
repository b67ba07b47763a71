// Package dialect translates between the backend's native request/response
// shape and the widely used chat/completion shape, so one cache engine can
// serve both without either dialect leaking into the fingerprint.
package dialect

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/gencache/gencache/internal/fingerprint"
	"github.com/gencache/gencache/internal/respcache"
)

// ChatRequest is the wire shape accepted at /v1/completions (Prompt) and
// /v1/chat/completions (Messages).
type ChatRequest struct {
	Model            string                `json:"model,omitempty"`
	Prompt           string                `json:"prompt,omitempty"`
	Messages         []fingerprint.Message `json:"messages,omitempty"`
	MaxTokens        int                   `json:"max_tokens,omitempty"`
	N                int                   `json:"n,omitempty"`
	Temperature      *float64              `json:"temperature,omitempty"`
	TopP             *float64              `json:"top_p,omitempty"`
	Stop             interface{}           `json:"stop,omitempty"`
	PresencePenalty  *float64              `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64              `json:"frequency_penalty,omitempty"`
	Seed             *int64                `json:"seed,omitempty"`
}

// ToNative decodes a chat/completion-dialect request body and translates
// it into the native dialect consumed by the fingerprinter and the
// upstream backend.
//
// messages, if present, is preserved verbatim into the native messages
// field (it is not placed in the native prompt field); otherwise the
// prompt string goes into the native prompt field. max_tokens renames to
// max_new_tokens; n, temperature, top_p, stop, presence_penalty,
// frequency_penalty and seed pass through unchanged into sampling_params.
// Unknown top-level fields are dropped so they cannot produce pointless
// cache misses.
func ToNative(body []byte) (*fingerprint.Request, error) {
	var cr ChatRequest
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("dialect: decoding chat request: %w", err)
	}

	req := &fingerprint.Request{
		Model:          cr.Model,
		SamplingParams: map[string]interface{}{},
	}
	if len(cr.Messages) > 0 {
		req.Messages = cr.Messages
	} else {
		req.Prompt = cr.Prompt
	}

	if cr.MaxTokens > 0 {
		req.SamplingParams["max_new_tokens"] = cr.MaxTokens
	}
	if cr.N > 0 {
		req.SamplingParams["n"] = cr.N
	}
	if cr.Temperature != nil {
		req.SamplingParams["temperature"] = *cr.Temperature
	}
	if cr.TopP != nil {
		req.SamplingParams["top_p"] = *cr.TopP
	}
	if cr.Stop != nil {
		req.SamplingParams["stop"] = cr.Stop
	}
	if cr.PresencePenalty != nil {
		req.SamplingParams["presence_penalty"] = *cr.PresencePenalty
	}
	if cr.FrequencyPenalty != nil {
		req.SamplingParams["frequency_penalty"] = *cr.FrequencyPenalty
	}
	if cr.Seed != nil {
		req.SamplingParams["seed"] = *cr.Seed
	}

	return req, nil
}

// RequestedN reports the sample count a chat/completion request asked
// for, defaulting to 1 when absent.
func (cr *ChatRequest) RequestedN() int {
	if cr.N > 0 {
		return cr.N
	}
	return 1
}

// nativeFields is the subset of a completion's opaque fields the
// outbound adapter needs to shape a response. Everything else in the
// completion stays invisible to this package, per the engine's opaque
// Completion contract.
type nativeFields struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

func extractFields(c respcache.Completion) nativeFields {
	var nf nativeFields
	_ = json.Unmarshal(c, &nf)
	return nf
}

type textChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// ToTextCompletion wraps completions in the /v1/completions response
// shape. id and created are freshly minted on every call, including
// cache hits: they are not part of the cached state.
func ToTextCompletion(completions []respcache.Completion, model string, created int64) ([]byte, error) {
	choices := make([]textChoice, len(completions))
	for i, c := range completions {
		nf := extractFields(c)
		choices[i] = textChoice{Index: i, Text: nf.Text, FinishReason: nf.FinishReason}
	}
	resp := map[string]interface{}{
		"id":      "cmpl-" + uuid.New().String(),
		"object":  "text_completion",
		"created": created,
		"model":   defaultModel(model),
		"choices": choices,
	}
	return json.Marshal(resp)
}

// ToChatCompletion wraps completions in the /v1/chat/completions
// response shape.
func ToChatCompletion(completions []respcache.Completion, model string, created int64) ([]byte, error) {
	choices := make([]chatChoice, len(completions))
	for i, c := range completions {
		nf := extractFields(c)
		choices[i] = chatChoice{
			Index:        i,
			Message:      chatMessage{Role: "assistant", Content: nf.Text},
			FinishReason: nf.FinishReason,
		}
	}
	resp := map[string]interface{}{
		"id":      "chatcmpl-" + uuid.New().String(),
		"object":  "chat.completion",
		"created": created,
		"model":   defaultModel(model),
		"choices": choices,
	}
	return json.Marshal(resp)
}

func defaultModel(model string) string {
	if model == "" {
		return "gencache"
	}
	return model
}

// NativeBody marshals completions for the /generate response: a scalar
// object when n == 1 (the client's requested count, not the number
// cached), otherwise a JSON array.
func NativeBody(completions []respcache.Completion, n int) ([]byte, error) {
	if n == 1 && len(completions) == 1 {
		return completions[0], nil
	}
	return json.Marshal(completions)
}
