// Package httputil holds the HTTP plumbing shared by the API handlers and
// the split uploader: a mockable client and JSON request/response helpers.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/split.report/internal/version"
)

// HTTPClient is the part of *http.Client the uploader uses. Tests swap in
// MockHTTPClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient returns an *http.Client with the given overall timeout that
// identifies itself as this build of split.report.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: userAgent{next: http.DefaultTransport, value: "split.report/" + version.Version},
	}
}

// userAgent sets User-Agent on requests that do not carry one.
type userAgent struct {
	next  http.RoundTripper
	value string
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", u.value)
	return u.next.RoundTrip(req)
}

// NewJSONRequest builds a request with body encoded as JSON. A non-empty
// token is sent as a bearer Authorization header.
func NewJSONRequest(ctx context.Context, method, url, token string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// DrainAndClose reads at most limit bytes of the body and closes it, so the
// connection can be reused. It returns what was read.
func DrainAndClose(resp *http.Response, limit int64) []byte {
	if resp == nil || resp.Body == nil {
		return nil
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
	return b
}
