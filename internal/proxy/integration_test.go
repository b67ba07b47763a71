package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/gencache/gencache/internal/auditlog"
	"github.com/gencache/gencache/internal/engine"
	"github.com/gencache/gencache/internal/metrics"
	"github.com/gencache/gencache/internal/tokenizer"
)

// setupIntegration wires a full proxy stack — engine, resilient client,
// metrics, and an audit log — against a mock upstream, and returns a
// ready-to-use httptest.Server.
func setupIntegration(t *testing.T, upstreamHandler http.HandlerFunc) (*httptest.Server, *httptest.Server, *auditlog.Store) {
	t.Helper()

	upstream := httptest.NewServer(upstreamHandler)
	t.Cleanup(upstream.Close)

	eng, err := engine.Open(t.TempDir())
	if err != nil {
		t.Fatalf("engine.Open: %v", err)
	}
	t.Cleanup(eng.Shutdown)

	auditPath := filepath.Join(t.TempDir(), "audit.db")
	audit, err := auditlog.Open(auditPath)
	if err != nil {
		t.Fatalf("auditlog.Open: %v", err)
	}
	t.Cleanup(func() { _ = audit.Close() })

	client := NewUpstreamClient(upstream.URL, "test-key", 5*time.Second)
	cb := NewCircuitBreaker(5, time.Minute, 1)
	retry := RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	resilient := NewResilientClient(client, cb, retry)

	handler := NewHandler(eng, resilient, metrics.NewCollector(), audit, tokenizer.New(), zerolog.Nop(), 10<<20)
	srv := NewServer(handler, handler.collector, ":0", 0, 0, 0, false)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return ts, upstream, audit
}

func TestIntegration_PartialFillMergesCachedAndFresh(t *testing.T) {
	var calls int32
	ts, _, _ := setupIntegration(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"text":"reply-` + itoa(int(n)) + `"}]`))
	})

	// First request with n=1 warms the cache with one completion.
	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"model":"m","prompt":"same","sampling_params":{"n":1}}`))
	if err != nil {
		t.Fatalf("POST /generate failed: %v", err)
	}
	resp.Body.Close()

	// Second request for the same prompt asks for n=2: one completion is
	// already cached, one more must come from upstream.
	resp, err = http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"model":"m","prompt":"same","sampling_params":{"n":2}}`))
	if err != nil {
		t.Fatalf("POST /generate failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Gencache-Outcome") != "partial" {
		t.Errorf("outcome header = %q; want %q", resp.Header.Get("X-Gencache-Outcome"), "partial")
	}

	body, _ := io.ReadAll(resp.Body)
	var result []map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshalling response %s: %v", body, err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 completions, got %d: %s", len(result), body)
	}
	if result[0]["text"] != "reply-1" {
		t.Errorf("first completion = %v; want the cached reply-1", result[0]["text"])
	}
}

func TestIntegration_AuditLogRecordsCompletedRequest(t *testing.T) {
	ts, _, audit := setupIntegration(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	})

	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"model":"m","prompt":"hi"}`))
	if err != nil {
		t.Fatalf("POST /generate failed: %v", err)
	}
	resp.Body.Close()

	entries, err := audit.List(10, 0)
	if err != nil {
		t.Fatalf("audit.List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Outcome != "miss" {
		t.Errorf("audit outcome = %q; want %q", entries[0].Outcome, "miss")
	}
	if entries[0].Model != "m" {
		t.Errorf("audit model = %q; want %q", entries[0].Model, "m")
	}
}

func TestIntegration_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	ts, _, _ := setupIntegration(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"text":"recovered"}`))
	})

	resp, err := http.Post(ts.URL+"/generate", "application/json", strings.NewReader(`{"model":"m","prompt":"retry-me"}`))
	if err != nil {
		t.Fatalf("POST /generate failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d; body = %s", resp.StatusCode, body)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 upstream calls (1 failure + 1 retry), got %d", calls)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := make([]byte, 0, 4)
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
