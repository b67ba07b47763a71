package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gencache/gencache/internal/tracing"
)

// UpstreamClient sends native-dialect generation requests to the single
// configured backend. It uses a shared http.Client with connection pooling.
type UpstreamClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewUpstreamClient creates a client that POSTs to baseURL+"/generate".
// apiKey may be empty, in which case no Authorization header is sent.
// timeout <= 0 falls back to a 300-second default, matched to the slow
// end of LLM generation latency rather than a typical HTTP call.
func NewUpstreamClient(baseURL, apiKey string, timeout time.Duration) *UpstreamClient {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &UpstreamClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Generate POSTs a native-dialect request body to the backend's /generate
// endpoint and returns the raw response body. It surfaces UpstreamUnavailable
// for transport-level failures and UpstreamProtocol for a response the
// backend returns but that cannot be read.
func (u *UpstreamClient) Generate(ctx context.Context, body []byte) ([]byte, int, error) {
	url := u.baseURL + "/generate"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, unavailable("building upstream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if u.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+u.apiKey)
	}

	tracing.InjectHeaders(ctx, httpReq)
	ctx, span := tracing.StartUpstreamSpan(ctx, url, "native")
	defer span.End()

	resp, err := u.client.Do(httpReq.WithContext(ctx))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, 0, unavailable(fmt.Sprintf("calling upstream %s", url), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, resp.StatusCode, protocolError("reading upstream response body", err)
	}

	return respBody, resp.StatusCode, nil
}
