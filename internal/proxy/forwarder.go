package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxUpstreamResponseSize bounds how much of an upstream reply the relay will
// buffer before handing it back to the client (4MB).
const maxUpstreamResponseSize = 4 << 20

// Forwarder performs the single-shot upstream call, attaching the bearer
// credential the client must never see.
type Forwarder struct {
	url    string
	key    string
	client *http.Client
}

// NewForwarder creates a forwarder for the configured upstream endpoint.
func NewForwarder(url, key string, timeout time.Duration) *Forwarder {
	return &Forwarder{
		url: url,
		key: key,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Forward sends the payload body to the upstream and returns the upstream's
// status code and body unchanged. A non-2xx upstream status is not an error
// here; the relay hands whatever the upstream said back to the caller.
func (f *Forwarder) Forward(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.key)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("read upstream response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
