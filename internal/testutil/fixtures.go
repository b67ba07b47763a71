package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/gencache/gencache/internal/fingerprint"
)

// SampleNativeRequest returns a valid native-dialect generation request body.
func SampleNativeRequest() []byte {
	req := map[string]interface{}{
		"model":  "llama-3-70b",
		"prompt": "Hello, how are you?",
		"sampling_params": map[string]interface{}{
			"max_new_tokens": 256,
			"temperature":    0.7,
			"n":              1,
		},
	}
	data, _ := json.Marshal(req)
	return data
}

// SampleChatRequest returns a valid /v1/chat/completions request body.
func SampleChatRequest() []byte {
	req := map[string]interface{}{
		"model": "llama-3-70b",
		"messages": []map[string]interface{}{
			{"role": "system", "content": "You are a helpful assistant."},
			{"role": "user", "content": "Hello, how are you?"},
		},
		"max_tokens": 256,
	}
	data, _ := json.Marshal(req)
	return data
}

// SampleCompletionRequest returns a valid /v1/completions request body.
func SampleCompletionRequest() []byte {
	req := map[string]interface{}{
		"model":      "llama-3-70b",
		"prompt":     "Hello, how are you?",
		"max_tokens": 256,
		"n":          1,
	}
	data, _ := json.Marshal(req)
	return data
}

// SampleNativeCompletion returns a single raw completion as returned by the
// upstream backend in its native dialect.
func SampleNativeCompletion() []byte {
	resp := map[string]interface{}{
		"text":          "I'm doing well, thank you for asking.",
		"finish_reason": "stop",
	}
	data, _ := json.Marshal(resp)
	return data
}

// SampleMessages generates an n-turn conversation for testing.
func SampleMessages(n int) []fingerprint.Message {
	messages := make([]fingerprint.Message, 0, n*2)
	for i := 0; i < n; i++ {
		messages = append(messages, fingerprint.Message{
			Role:    "user",
			Content: fmt.Sprintf("This is user message number %d with some content to work with.", i+1),
		})
		messages = append(messages, fingerprint.Message{
			Role:    "assistant",
			Content: fmt.Sprintf("This is assistant response number %d with some content.", i+1),
		})
	}
	return messages
}

// SampleFingerprintRequest creates a fingerprint.Request for testing.
func SampleFingerprintRequest() *fingerprint.Request {
	return &fingerprint.Request{
		Model:  "llama-3-70b",
		Prompt: "Hello, how are you?",
		SamplingParams: map[string]interface{}{
			"max_new_tokens": 256,
			"temperature":    0.7,
		},
	}
}
