package dialect

import (
	"encoding/json"
	"testing"

	"github.com/gencache/gencache/internal/respcache"
)

func TestToNative_PromptString(t *testing.T) {
	body := []byte(`{"prompt":"The capital of France is","temperature":0.0,"max_tokens":10}`)

	req, err := ToNative(body)
	if err != nil {
		t.Fatalf("ToNative: %v", err)
	}
	if req.Prompt != "The capital of France is" {
		t.Errorf("Prompt = %q", req.Prompt)
	}
	if req.SamplingParams["max_new_tokens"] != 10 {
		t.Errorf("max_new_tokens = %v, want 10", req.SamplingParams["max_new_tokens"])
	}
	if _, ok := req.SamplingParams["max_tokens"]; ok {
		t.Error("max_tokens should have been renamed away, not passed through")
	}
}

func TestToNative_MessagesVerbatim(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}],"n":3}`)

	req, err := ToNative(body)
	if err != nil {
		t.Fatalf("ToNative: %v", err)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Errorf("Messages = %+v", req.Messages)
	}
	if req.SamplingParams["n"] != 3 {
		t.Errorf("n = %v, want 3", req.SamplingParams["n"])
	}
}

func TestToNative_DropsUnknownFields(t *testing.T) {
	body := []byte(`{"prompt":"hi","logit_bias":{"50256":-100},"user":"abc"}`)

	req, err := ToNative(body)
	if err != nil {
		t.Fatalf("ToNative: %v", err)
	}
	if len(req.SamplingParams) != 0 {
		t.Errorf("unknown fields leaked into sampling_params: %v", req.SamplingParams)
	}
}

func TestToTextCompletion_CrossDialectSharing(t *testing.T) {
	completions := []respcache.Completion{respcache.Completion(`{"text":"Paris","finish_reason":"stop"}`)}

	body, err := ToTextCompletion(completions, "", 1234)
	if err != nil {
		t.Fatalf("ToTextCompletion: %v", err)
	}

	var decoded struct {
		Object  string `json:"object"`
		Choices []struct {
			Text         string `json:"text"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal response: %v", err)
	}
	if decoded.Object != "text_completion" {
		t.Errorf("object = %q, want text_completion", decoded.Object)
	}
	if len(decoded.Choices) != 1 || decoded.Choices[0].Text != "Paris" {
		t.Fatalf("choices = %+v", decoded.Choices)
	}
}

func TestToChatCompletion_WrapsAsAssistantMessage(t *testing.T) {
	completions := []respcache.Completion{respcache.Completion(`{"text":"hi there"}`)}

	body, err := ToChatCompletion(completions, "gpt-native", 1234)
	if err != nil {
		t.Fatalf("ToChatCompletion: %v", err)
	}

	var decoded struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal response: %v", err)
	}
	if decoded.Model != "gpt-native" {
		t.Errorf("model = %q, want gpt-native", decoded.Model)
	}
	if len(decoded.Choices) != 1 || decoded.Choices[0].Message.Role != "assistant" || decoded.Choices[0].Message.Content != "hi there" {
		t.Fatalf("choices = %+v", decoded.Choices)
	}
}

func TestNativeBody_ScalarWhenNIsOne(t *testing.T) {
	completions := []respcache.Completion{respcache.Completion(`{"text":"Paris"}`)}

	body, err := NativeBody(completions, 1)
	if err != nil {
		t.Fatalf("NativeBody: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("scalar body did not decode as an object: %v", err)
	}
}

func TestNativeBody_ArrayWhenNGreaterThanOne(t *testing.T) {
	completions := []respcache.Completion{
		respcache.Completion(`{"text":"Paris"}`),
		respcache.Completion(`{"text":"Lyon"}`),
	}

	body, err := NativeBody(completions, 2)
	if err != nil {
		t.Fatalf("NativeBody: %v", err)
	}
	var decoded []json.RawMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("array body did not decode as an array: %v", err)
	}
	if len(decoded) != 2 {
		t.Errorf("len(decoded) = %d, want 2", len(decoded))
	}
}
