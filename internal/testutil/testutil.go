// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the HTTP and fixture helpers used by the api,
// export and cmd tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/split.report/internal/rssi"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewJSONRequest creates a test HTTP request with body encoded as JSON.
func NewJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to encode request body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// DecodeJSON decodes a recorded response body into T.
func DecodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// PassRSSI is a single clean pass of a beacon past the receiver: a ramp up to
// -60 dBm and back down, one sample every 200 ms.
var PassRSSI = []int32{
	-95, -91, -87, -83, -79, -76, -72, -68, -64, -60,
	-64, -67, -70, -74, -78, -81, -84, -88, -92, -95,
}

// PassSamples returns PassRSSI for beaconID starting at startMs.
func PassSamples(beaconID int, startMs int64) []rssi.Sample {
	out := make([]rssi.Sample, len(PassRSSI))
	for i, v := range PassRSSI {
		out[i] = rssi.Sample{BeaconID: beaconID, TimestampMs: startMs + int64(i)*200, RSSI: v}
	}
	return out
}
