package serialmux

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest builds a request that passes the tsweb debug access check.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func newAdminMux(t *testing.T) (*http.ServeMux, *SerialMux[*TestableSerialPort], *TestableSerialPort) {
	t.Helper()
	port := NewTestableSerialPort()
	sm := NewSerialMux[*TestableSerialPort](port)
	mux := http.NewServeMux()
	sm.AttachAdminRoutes(mux)
	return mux, sm, port
}

func TestSendCommandAPI(t *testing.T) {
	mux, _, port := newAdminMux(t)

	form := url.Values{"command": {"SCAN ON"}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if got := string(port.GetWrittenData()); got != "SCAN ON\n" {
		t.Errorf("written = %q, want %q", got, "SCAN ON\n")
	}
}

func TestSendCommandAPIErrors(t *testing.T) {
	mux, _, port := newAdminMux(t)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/send-command-api", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", w.Code)
	}

	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty command status = %d, want 400", w.Code)
	}

	port.WriteError = io.ErrClosedPipe
	req = localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader("command=SCAN+ON"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("write failure status = %d, want 500", w.Code)
	}
}

func TestSendCommandPageAndTailJS(t *testing.T) {
	mux, _, _ := newAdminMux(t)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "BLE receiver console") {
		t.Errorf("send-command page: status %d body %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/tail.js", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "EventSource") {
		t.Errorf("tail.js: status %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/javascript" {
		t.Errorf("tail.js content type = %q", ct)
	}
}

// waitForSubscribers blocks until the mux has n subscribers.
func waitForSubscribers(t *testing.T, sm *SerialMux[*TestableSerialPort], n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for sm.Stats().Subscribers != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, sm.Stats().Subscribers)
		}
		time.Sleep(time.Millisecond)
	}
}

// streamTail runs /debug/tail with query, feeds lines through the mux and
// returns the SSE body once the mux is closed.
func streamTail(t *testing.T, query string, lines ...string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	mux, sm, _ := newAdminMux(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := localHostRequest(http.MethodGet, "/debug/tail"+query, nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		mux.ServeHTTP(w, req)
		close(done)
	}()

	waitForSubscribers(t, sm, 1)
	for _, line := range lines {
		sm.hub.broadcast(line)
	}

	// Closing the mux closes the subscription and ends the stream; the
	// buffered lines are delivered first.
	time.Sleep(20 * time.Millisecond)
	sm.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tail handler did not return")
	}
	return w, w.Body.String()
}

func TestTailStreamsLines(t *testing.T) {
	w, body := streamTail(t, "", "PT-1,-70,1000")

	if !strings.HasPrefix(body, ": ping\n\n") || !strings.Contains(body, "data: PT-1,-70,1000\n\n") {
		t.Errorf("unexpected SSE body %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestTailFiltersByBeacon(t *testing.T) {
	_, body := streamTail(t, "?beacon=2", "PT-1,-70,1000", "PT-2,-71,1001", `{"battery":90}`)

	if strings.Contains(body, "PT-1,") {
		t.Errorf("beacon 1 line should be filtered out: %q", body)
	}
	if !strings.Contains(body, "data: PT-2,-71,1001\n\n") {
		t.Errorf("beacon 2 line missing: %q", body)
	}
	if !strings.Contains(body, `data: {"battery":90}`) {
		t.Errorf("status lines should pass the filter: %q", body)
	}
}

func TestTailRejectsBadBeacon(t *testing.T) {
	mux, _, _ := newAdminMux(t)
	for _, q := range []string{"?beacon=abc", "?beacon=0"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/tail"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestTailMethodNotAllowed(t *testing.T) {
	mux, _, _ := newAdminMux(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/tail", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
