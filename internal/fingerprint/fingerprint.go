// Package fingerprint computes a deterministic, dialect-agnostic identity
// for a generation request: a 256-bit digest over the prompt and sampling
// parameters with the sample count (n) excluded, so requests differing
// only in n share one cache entry.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Message is one entry of a chat-style prompt. Field order is fixed by
// struct declaration (role before content), which is itself part of the
// canonical form: a parsed and re-marshaled message is always emitted
// with these two keys in this order regardless of how it arrived on the
// wire.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// Request is a generation request in the native dialect: the shape the
// fingerprinter and the upstream backend agree on. Model is carried for
// routing and response echoing only; it never enters the fingerprint.
type Request struct {
	Model          string                 `json:"model,omitempty"`
	Text           string                 `json:"text,omitempty"`
	Prompt         string                 `json:"prompt,omitempty"`
	Messages       []Message              `json:"messages,omitempty"`
	SamplingParams map[string]interface{} `json:"sampling_params,omitempty"`
}

// Fingerprint is a 256-bit digest of a request's canonical form.
type Fingerprint [32]byte

// String renders the fingerprint as lowercase hex, the form used on the
// wire and in the journal.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// defaultN is the sample count assumed when a request omits n.
const defaultN = 1

// Compute extracts the prompt and sampling parameters from req, removes
// n (defaulting to 1 if absent), and returns the SHA-256 fingerprint of
// the canonical JSON of the remainder together with n.
//
// n never appears in the fingerprint preimage: two requests equal in
// every other respect fingerprint identically regardless of n.
func Compute(req *Request) (Fingerprint, int, error) {
	prompt, err := extractPrompt(req)
	if err != nil {
		return Fingerprint{}, 0, err
	}

	params := make(map[string]interface{}, len(req.SamplingParams))
	for k, v := range req.SamplingParams {
		params[k] = v
	}

	n := defaultN
	if raw, ok := params["n"]; ok {
		delete(params, "n")
		parsed, err := asPositiveInt(raw)
		if err != nil {
			return Fingerprint{}, 0, fmt.Errorf("fingerprint: %w", err)
		}
		n = parsed
	}

	canonicalInput := map[string]interface{}{
		"prompt": prompt,
		"params": params,
	}

	canonical, err := Canonicalize(canonicalInput)
	if err != nil {
		return Fingerprint{}, 0, fmt.Errorf("fingerprint: canonicalizing request: %w", err)
	}

	return Fingerprint(sha256.Sum256(canonical)), n, nil
}

// extractPrompt picks text, then prompt, then messages, in that priority,
// whichever is present. An entirely empty request yields an empty string
// prompt, which is a valid, stable fingerprint input.
func extractPrompt(req *Request) (interface{}, error) {
	if req.Text != "" {
		return req.Text, nil
	}
	if req.Prompt != "" {
		return req.Prompt, nil
	}
	if req.Messages != nil {
		return req.Messages, nil
	}
	return "", nil
}

// asPositiveInt coerces a decoded JSON scalar (float64 from
// encoding/json, or an already-int value) into a positive int.
func asPositiveInt(v interface{}) (int, error) {
	var n int
	switch t := v.(type) {
	case float64:
		n = int(t)
	case int:
		n = t
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("n is not an integer: %w", err)
		}
		n = int(i)
	default:
		return 0, fmt.Errorf("n has unsupported type %T", v)
	}
	if n <= 0 {
		return 0, fmt.Errorf("n must be positive, got %d", n)
	}
	return n, nil
}
