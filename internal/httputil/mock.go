package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// MockHTTPClient replays queued responses in order and records every
// request. Request bodies are kept in Bodies since the originals are
// consumed. Once the queue is empty it answers 200 with an empty body.
type MockHTTPClient struct {
	mu sync.Mutex

	// DoFunc, when set, answers every request instead of the queue.
	DoFunc func(req *http.Request) (*http.Response, error)
	// DefaultError, when set, fails every request.
	DefaultError error

	Requests []*http.Request
	Bodies   [][]byte

	queue []mockResponse
}

type mockResponse struct {
	status int
	body   string
	err    error
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response with the given status and body.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResponse{status: status, body: body})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockResponse{err: err})
	return m
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	m.Requests = append(m.Requests, req)
	m.Bodies = append(m.Bodies, body)

	switch {
	case m.DoFunc != nil:
		return m.DoFunc(req)
	case m.DefaultError != nil:
		return nil, m.DefaultError
	}

	next := mockResponse{status: http.StatusOK}
	if len(m.queue) > 0 {
		next, m.queue = m.queue[0], m.queue[1:]
	}
	if next.err != nil {
		return nil, next.err
	}
	return &http.Response{
		StatusCode: next.status,
		Body:       io.NopCloser(bytes.NewBufferString(next.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request, or nil.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.Requests) {
		return nil
	}
	return m.Requests[n]
}

func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// Reset forgets recorded requests, queued responses and overrides.
func (m *MockHTTPClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = nil
	m.Bodies = nil
	m.queue = nil
	m.DefaultError = nil
	m.DoFunc = nil
}
