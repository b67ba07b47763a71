package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gencache/gencache/internal/auditlog"
	"github.com/gencache/gencache/internal/dialect"
	"github.com/gencache/gencache/internal/engine"
	"github.com/gencache/gencache/internal/fingerprint"
	"github.com/gencache/gencache/internal/metrics"
	"github.com/gencache/gencache/internal/respcache"
	"github.com/gencache/gencache/internal/tokenizer"
	"github.com/gencache/gencache/internal/tracing"
)

// Dialect identifies the wire shape a request arrived in. It is distinct
// from the upstream backend's own dialect, which is always native.
type Dialect string

const (
	DialectNative     Dialect = "native"
	DialectCompletion Dialect = "completions"
	DialectChat       Dialect = "chat"
)

// Handler is the proxy's single HTTP entry point for the three generation
// routes. It runs the pipeline described in §4.6: decode, translate,
// lookup, fill the shortfall from upstream, store, merge, re-dialect.
type Handler struct {
	engine      *engine.Engine
	upstream    *ResilientClient
	collector   *metrics.Collector
	audit       *auditlog.Store
	tokenizer   *tokenizer.Tokenizer
	logger      zerolog.Logger
	maxBodySize int64
}

// NewHandler builds a Handler. audit may be nil to disable request
// logging; collector may be nil to disable metrics.
func NewHandler(
	eng *engine.Engine,
	upstream *ResilientClient,
	collector *metrics.Collector,
	audit *auditlog.Store,
	tok *tokenizer.Tokenizer,
	logger zerolog.Logger,
	maxBodySize int64,
) *Handler {
	return &Handler{
		engine:      eng,
		upstream:    upstream,
		collector:   collector,
		audit:       audit,
		tokenizer:   tok,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// HandleGenerate serves native-dialect generation requests.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, DialectNative)
}

// HandleCompletions serves /v1/completions, the chat/completion-dialect
// text-completion route.
func (h *Handler) HandleCompletions(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, DialectCompletion)
}

// HandleChatCompletions serves /v1/chat/completions.
func (h *Handler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, DialectChat)
}

// serve runs the end-to-end proxy pipeline for one inbound request.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, wireDialect Dialect) {
	start := time.Now()
	ctx := r.Context()

	if h.collector != nil {
		h.collector.IncrementActive()
		defer h.collector.DecrementActive()
	}

	ctx, span := tracing.StartPipelineSpan(ctx, "request")
	defer span.End()

	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		h.finish(ctx, r, wireDialect, "", "", metrics.OutcomeError, start, 0, err)
		return
	}

	nativeReq, requestedN, err := decodeRequest(wireDialect, body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		h.finish(ctx, r, wireDialect, "", "", metrics.OutcomeError, start, 0, err)
		return
	}

	tokensInEstimate := h.estimateTokens(nativeReq)
	tracing.SetRequestAttributes(ctx, nativeReq.Model, string(wireDialect), tokensInEstimate)

	cached, needed, fp, err := h.engine.Lookup(nativeReq)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		h.finish(ctx, r, wireDialect, nativeReq.Model, fp, metrics.OutcomeError, start, 0, err)
		return
	}

	result := cached
	outcome := metrics.OutcomeHit
	upstreamStatus := 0

	if needed > 0 {
		if len(cached) > 0 {
			outcome = metrics.OutcomePartial
		} else {
			outcome = metrics.OutcomeMiss
		}

		newCompletions, status, err := h.fillFromUpstream(ctx, nativeReq, needed)
		upstreamStatus = status
		if err != nil {
			h.logger.Warn().Err(err).Str("fingerprint", fp).Msg("upstream generation failed")
			h.writeError(w, http.StatusBadGateway, "upstream request failed")
			h.finish(ctx, r, wireDialect, nativeReq.Model, fp, metrics.OutcomeError, start, upstreamStatus, err)
			return
		}

		h.engine.Store(fp, newCompletions)
		result = make([]respcache.Completion, 0, len(cached)+len(newCompletions))
		result = append(result, cached...)
		result = append(result, newCompletions...)
	}

	respBody, err := renderResponse(wireDialect, nativeReq.Model, requestedN, result)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to render response")
		h.finish(ctx, r, wireDialect, nativeReq.Model, fp, metrics.OutcomeError, start, upstreamStatus, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Gencache-Outcome", string(outcome))
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write(respBody); writeErr != nil {
		h.logger.Error().Err(writeErr).Msg("failed to write response body")
	}

	tracing.SetResponseAttributes(ctx, http.StatusOK, outcome == metrics.OutcomeHit, len(result))
	h.finish(ctx, r, wireDialect, nativeReq.Model, fp, outcome, start, upstreamStatus, nil)
}

// fillFromUpstream requests exactly `needed` completions from the
// upstream backend and normalizes them to a list of that length. The
// returned status is http.StatusOK on success, http.StatusBadGateway for
// an upstream protocol failure or an unusable response body, and 0 when
// the upstream could not be reached; the upstream's own status code is
// not passed through.
func (h *Handler) fillFromUpstream(ctx context.Context, nativeReq *fingerprint.Request, needed int) ([]respcache.Completion, int, error) {
	upstreamBody, err := buildUpstreamBody(nativeReq, needed)
	if err != nil {
		return nil, 0, fmt.Errorf("building upstream request: %w", err)
	}

	respBody, err := h.upstream.Generate(ctx, upstreamBody)
	if err != nil {
		status := 0
		if upErr, ok := err.(*UpstreamError); ok && upErr.Protocol {
			status = http.StatusBadGateway
		}
		return nil, status, err
	}

	completions, err := normalizeCompletions(respBody)
	if err != nil {
		return nil, http.StatusBadGateway, protocolError("malformed upstream response", err)
	}
	if len(completions) < needed {
		return nil, http.StatusBadGateway, protocolError(
			fmt.Sprintf("upstream returned %d completions, needed %d", len(completions), needed), nil)
	}
	if len(completions) > needed {
		h.logger.Warn().Int("returned", len(completions)).Int("needed", needed).Msg("upstream over-delivered completions, truncating")
		completions = completions[:needed]
	}
	return completions, http.StatusOK, nil
}

// decodeRequest parses body according to wireDialect, translating
// chat/completion-dialect bodies into the native request shape the
// fingerprinter and upstream backend share.
func decodeRequest(wireDialect Dialect, body []byte) (*fingerprint.Request, int, error) {
	switch wireDialect {
	case DialectNative:
		var req fingerprint.Request
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, 0, fmt.Errorf("decoding native request: %w", err)
		}
		return &req, nativeRequestedN(&req), nil
	default:
		var cr dialect.ChatRequest
		if err := json.Unmarshal(body, &cr); err != nil {
			return nil, 0, fmt.Errorf("decoding chat request: %w", err)
		}
		req, err := dialect.ToNative(body)
		if err != nil {
			return nil, 0, err
		}
		return req, cr.RequestedN(), nil
	}
}

// nativeRequestedN reads the client's requested sample count out of a
// native request's sampling_params, defaulting to 1.
func nativeRequestedN(req *fingerprint.Request) int {
	raw, ok := req.SamplingParams["n"]
	if !ok {
		return 1
	}
	switch v := raw.(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return 1
}

// buildUpstreamBody clones req with sampling_params["n"] set to n and
// marshals it in the native wire shape the upstream backend expects.
func buildUpstreamBody(req *fingerprint.Request, n int) ([]byte, error) {
	params := make(map[string]interface{}, len(req.SamplingParams)+1)
	for k, v := range req.SamplingParams {
		params[k] = v
	}
	params["n"] = n

	out := fingerprint.Request{
		Model:          req.Model,
		Text:           req.Text,
		Prompt:         req.Prompt,
		Messages:       req.Messages,
		SamplingParams: params,
	}
	return json.Marshal(out)
}

// normalizeCompletions decodes an upstream /generate response body into a
// list of completions. The upstream may return either a single JSON
// object (n == 1) or a JSON array of objects.
func normalizeCompletions(raw []byte) ([]respcache.Completion, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty upstream response body")
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, fmt.Errorf("decoding upstream array response: %w", err)
		}
		out := make([]respcache.Completion, len(arr))
		for i, v := range arr {
			out[i] = respcache.Completion(v)
		}
		return out, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("upstream response is not valid JSON")
	}
	return []respcache.Completion{respcache.Completion(trimmed)}, nil
}

// renderResponse shapes the merged completion list for the wire dialect
// the request arrived in.
func renderResponse(wireDialect Dialect, model string, requestedN int, completions []respcache.Completion) ([]byte, error) {
	switch wireDialect {
	case DialectCompletion:
		return dialect.ToTextCompletion(completions, model, time.Now().Unix())
	case DialectChat:
		return dialect.ToChatCompletion(completions, model, time.Now().Unix())
	default:
		return dialect.NativeBody(completions, requestedN)
	}
}

// estimateTokens produces an informational input-token estimate for
// tracing and the audit log. It never influences fingerprinting or
// cache semantics.
func (h *Handler) estimateTokens(req *fingerprint.Request) int {
	if h.tokenizer == nil {
		return 0
	}
	if len(req.Messages) > 0 {
		msgs := make([]tokenizer.Message, len(req.Messages))
		for i, m := range req.Messages {
			msgs[i] = tokenizer.Message{Role: m.Role, Content: contentToText(m.Content)}
		}
		return h.tokenizer.CountMessages(req.Model, msgs)
	}
	if req.Text != "" {
		return h.tokenizer.CountTokens(req.Model, req.Text)
	}
	return h.tokenizer.CountTokens(req.Model, req.Prompt)
}

// contentToText reduces a message's content field to plain text for
// token estimation. Structured content blocks are rendered as their
// marshaled JSON, which is an acceptable approximation for an
// informational count only.
func contentToText(content interface{}) string {
	if s, ok := content.(string); ok {
		return s
	}
	data, err := json.Marshal(content)
	if err != nil {
		return ""
	}
	return string(data)
}

// finish records metrics, tracing, and the best-effort audit log entry
// for a completed request. It runs after the response has been written
// and never affects what the client already received.
func (h *Handler) finish(
	ctx context.Context,
	r *http.Request,
	wireDialect Dialect,
	model, fp string,
	outcome metrics.Outcome,
	start time.Time,
	upstreamStatus int,
	err error,
) {
	latency := time.Since(start)

	if err != nil {
		tracing.RecordError(ctx, err)
	}
	if h.collector != nil {
		h.collector.Record(outcome, latency)
	}
	if h.audit != nil {
		entry := &auditlog.Entry{
			Timestamp:      start.UTC().Format(time.RFC3339),
			Dialect:        string(wireDialect),
			Model:          model,
			Fingerprint:    fp,
			Outcome:        string(outcome),
			LatencyMs:      latency.Milliseconds(),
			UpstreamStatus: upstreamStatus,
		}
		if err != nil {
			entry.ErrorMessage = err.Error()
		}
		if insertErr := h.audit.Insert(entry); insertErr != nil {
			h.logger.Warn().Err(insertErr).Msg("failed to write audit log entry")
		}
	}

	logEvent := h.logger.Info()
	if err != nil {
		logEvent = h.logger.Warn()
	}
	logEvent.
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("model", model).
		Str("outcome", string(outcome)).
		Dur("latency", latency).
		Msg("request completed")
}

// writeError writes a JSON error body with the given status code.
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "proxy_error",
		},
	}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}

// --- Cache administration and health endpoints ---

// HandleCacheStats returns the cache's statistics object.
func (h *Handler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

// HandleCacheClear empties the cache and returns {"cleared": true}.
func (h *Handler) HandleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Clear(); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// HandleCacheInfo returns cache statistics plus the journal file path.
func (h *Handler) HandleCacheInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":      h.engine.Stats(),
		"cache_file": h.engine.JournalPath(),
	})
}

// HandleHealth is a liveness probe: it always returns 200 once the
// process is serving requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady is a readiness probe: it reports healthy once the cache
// engine (store + journal) has finished opening.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
