package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gencache/gencache/internal/engine"
	"github.com/gencache/gencache/internal/metrics"
)

// newTestEngine opens a cache engine rooted at a fresh temp directory.
func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.Open(t.TempDir())
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	t.Cleanup(eng.Shutdown)
	return eng
}

// newTestHandler wires a Handler to a fresh engine and a resilient client
// pointed at upstreamURL (empty for tests that never reach the upstream;
// an upstream call against an empty URL fails as unavailable).
func newTestHandler(t *testing.T, upstreamURL string) *Handler {
	t.Helper()
	eng := newTestEngine(t)
	client := NewUpstreamClient(upstreamURL, "", 5*time.Second)
	cb := NewCircuitBreaker(5, time.Minute, 1)
	retry := RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	resilient := NewResilientClient(client, cb, retry)
	return NewHandler(eng, resilient, metrics.NewCollector(), nil, nil, zerolog.Nop(), 0)
}

func newTestServer(handler *Handler) *httptest.Server {
	srv := NewServer(handler, nil, ":0", 0, 0, 0, false)
	return httptest.NewServer(srv.Router())
}

func TestHealthEndpoint_Returns200WithStatusOK(t *testing.T) {
	handler := newTestHandler(t, "")
	ts := newTestServer(handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d; want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]string
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshalling body %q: %v", string(body), err)
	}
	if result["status"] != "ok" {
		t.Errorf("status = %q; want %q", result["status"], "ok")
	}
}

func TestUnknownRoute_ReturnsNon200(t *testing.T) {
	handler := newTestHandler(t, "")
	ts := newTestServer(handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/unknown", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /v1/unknown failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		t.Errorf("expected non-200 status for unknown route; got %d", resp.StatusCode)
	}
}

func TestGenerate_ColdCacheForwardsToUpstream(t *testing.T) {
	var upstreamCalled bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalled = true
		body, _ := io.ReadAll(r.Body)
		var req map[string]interface{}
		_ = json.Unmarshal(body, &req)
		params, _ := req["sampling_params"].(map[string]interface{})
		if params["n"] != float64(1) {
			t.Errorf("upstream received n = %v; want 1", params["n"])
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"text":"hello there","finish_reason":"stop"}`))
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)
	ts := newTestServer(handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"model":"m","prompt":"hi"}`))
	if err != nil {
		t.Fatalf("POST /generate failed: %v", err)
	}
	defer resp.Body.Close()

	if !upstreamCalled {
		t.Fatal("upstream was not called")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d; body = %s", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Gencache-Outcome") != "miss" {
		t.Errorf("outcome header = %q; want %q", resp.Header.Get("X-Gencache-Outcome"), "miss")
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshalling response: %v", err)
	}
	if result["text"] != "hello there" {
		t.Errorf("text = %v; want %q", result["text"], "hello there")
	}
}

func TestGenerate_WarmCacheSkipsUpstream(t *testing.T) {
	upstreamCalls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"text":"cached answer"}`))
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)
	ts := newTestServer(handler)
	defer ts.Close()

	reqBody := `{"model":"m","prompt":"hi"}`

	first, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("first POST /generate failed: %v", err)
	}
	first.Body.Close()
	if upstreamCalls != 1 {
		t.Fatalf("expected 1 upstream call after first request, got %d", upstreamCalls)
	}

	second, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("second POST /generate failed: %v", err)
	}
	defer second.Body.Close()

	if upstreamCalls != 1 {
		t.Errorf("expected upstream call count to stay at 1 on a cache hit, got %d", upstreamCalls)
	}
	if second.Header.Get("X-Gencache-Outcome") != "hit" {
		t.Errorf("outcome header = %q; want %q", second.Header.Get("X-Gencache-Outcome"), "hit")
	}
}

func TestGenerate_MalformedJSON_Returns400(t *testing.T) {
	handler := newTestHandler(t, "")
	ts := newTestServer(handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`not json`))
	if err != nil {
		t.Fatalf("POST /generate failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d; want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestGenerate_UpstreamUnavailable_Returns502(t *testing.T) {
	handler := newTestHandler(t, "http://127.0.0.1:1") // nothing listens here
	ts := newTestServer(handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"model":"m","prompt":"hi"}`))
	if err != nil {
		t.Fatalf("POST /generate failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d; want %d", resp.StatusCode, http.StatusBadGateway)
	}
}

func TestGenerate_UpstreamUnderDelivers_Returns502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)
	ts := newTestServer(handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"model":"m","prompt":"hi"}`))
	if err != nil {
		t.Fatalf("POST /generate failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d; want %d", resp.StatusCode, http.StatusBadGateway)
	}
}

func TestChatCompletions_WrapsCompletionInChatShape(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"text":"hi there","finish_reason":"stop"}`))
	}))
	defer upstream.Close()

	handler := newTestHandler(t, upstream.URL)
	ts := newTestServer(handler)
	defer ts.Close()

	reqBody := `{"model":"m","messages":[{"role":"user","content":"hello"}]}`
	resp, err := http.Post(ts.URL+"/v1/chat/completions", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST /v1/chat/completions failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d; body = %s", resp.StatusCode, body)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshalling response: %v", err)
	}
	if result["object"] != "chat.completion" {
		t.Errorf("object = %v; want %q", result["object"], "chat.completion")
	}
	choices, _ := result["choices"].([]interface{})
	if len(choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(choices))
	}
}

func TestCacheClearAndStats(t *testing.T) {
	handler := newTestHandler(t, "")
	ts := newTestServer(handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/cache/stats")
	if err != nil {
		t.Fatalf("GET /cache/stats failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d; want %d", resp.StatusCode, http.StatusOK)
	}

	resp, err = http.Post(ts.URL+"/cache/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /cache/clear failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result map[string]bool
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshalling response: %v", err)
	}
	if !result["cleared"] {
		t.Error("expected cleared: true")
	}
}
