package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClientAgainstServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Agent", r.Header.Get("User-Agent"))
		w.Write([]byte(r.Header.Get("Authorization") + "|" + string(body)))
	}))
	defer server.Close()

	client := NewClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", client.Timeout)
	}

	req, err := NewJSONRequest(context.Background(), http.MethodPut, server.URL, "tok", map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("NewJSONRequest failed: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.Header.Get("X-Method") != http.MethodPut {
		t.Errorf("method = %q", resp.Header.Get("X-Method"))
	}
	if got := resp.Header.Get("X-Agent"); !strings.HasPrefix(got, "split.report/") {
		t.Errorf("User-Agent = %q", got)
	}
	if got := string(DrainAndClose(resp, 1024)); got != `Bearer tok|{"a":1}` {
		t.Errorf("Do body = %q", got)
	}

	// A caller supplied agent is left alone.
	req, _ = NewJSONRequest(context.Background(), http.MethodGet, server.URL, "", nil)
	req.Header.Set("User-Agent", "custom")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	DrainAndClose(resp, 0)
	if got := resp.Header.Get("X-Agent"); got != "custom" {
		t.Errorf("User-Agent = %q, want custom", got)
	}
}

func TestNewClientSatisfiesHTTPClient(t *testing.T) {
	var _ HTTPClient = NewClient(time.Second)
	var _ HTTPClient = NewMockHTTPClient()
}

func TestNewJSONRequest(t *testing.T) {
	req, err := NewJSONRequest(context.Background(), http.MethodGet, "http://example.com", "", nil)
	if err != nil {
		t.Fatalf("NewJSONRequest failed: %v", err)
	}
	if req.Header.Get("Authorization") != "" || req.Header.Get("Content-Type") != "" {
		t.Errorf("unexpected headers %v", req.Header)
	}
	if req.Header.Get("Accept") != "application/json" {
		t.Errorf("Accept = %q", req.Header.Get("Accept"))
	}

	if _, err := NewJSONRequest(context.Background(), http.MethodPost, "http://example.com", "", func() {}); err == nil {
		t.Error("expected error encoding a func")
	}
	if _, err := NewJSONRequest(context.Background(), "BAD METHOD", "http://example.com", "", nil); err == nil {
		t.Error("expected error for invalid method")
	}
}

func TestDrainAndCloseNil(t *testing.T) {
	if DrainAndClose(nil, 10) != nil {
		t.Error("expected nil for nil response")
	}
}

func newRequest(t *testing.T, method, body string) *http.Request {
	t.Helper()
	var payload any
	if body != "" {
		payload = json.RawMessage(body)
	}
	req, err := NewJSONRequest(context.Background(), method, "http://example.com/splits", "", payload)
	if err != nil {
		t.Fatalf("NewJSONRequest failed: %v", err)
	}
	return req
}

func TestMockHTTPClientQueuedResponses(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusCreated, "first").AddErrorResponse(errors.New("network down"))

	resp, err := mock.Do(newRequest(t, http.MethodPost, `{"x":1}`))
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated || string(DrainAndClose(resp, 100)) != "first" {
		t.Errorf("unexpected first response %d", resp.StatusCode)
	}

	if _, err := mock.Do(newRequest(t, http.MethodGet, "")); err == nil {
		t.Error("expected queued error")
	}

	// Exhausted queue falls back to 200
	resp, err = mock.Do(newRequest(t, http.MethodGet, ""))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Errorf("default response = %v, %v", resp, err)
	}

	if mock.RequestCount() != 3 {
		t.Errorf("RequestCount = %d, want 3", mock.RequestCount())
	}
	if string(mock.Bodies[0]) != `{"x":1}` {
		t.Errorf("captured body = %q", mock.Bodies[0])
	}
	if got := mock.GetRequest(0).Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if mock.GetRequest(5) != nil || mock.GetRequest(-1) != nil {
		t.Error("out of range GetRequest should be nil")
	}
}

func TestMockHTTPClientDoFuncAndDefaultError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTeapot, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	resp, err := mock.Do(newRequest(t, http.MethodGet, ""))
	if err != nil || resp.StatusCode != http.StatusTeapot {
		t.Errorf("DoFunc response = %v, %v", resp, err)
	}

	mock.Reset()
	mock.DefaultError = errors.New("refused")
	if _, err := mock.Do(newRequest(t, http.MethodGet, "")); err == nil {
		t.Error("expected default error")
	}
	if mock.RequestCount() != 1 || len(mock.Bodies) != 1 {
		t.Errorf("after reset: %d requests, %d bodies", mock.RequestCount(), len(mock.Bodies))
	}
}
