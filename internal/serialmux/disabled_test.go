package serialmux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var (
	_ SerialMuxInterface = (*DisabledSerialMux)(nil)
	_ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)
)

func TestDisabledSerialMuxUnsubscribeClosesChannel(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	d.Unsubscribe(id)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed on unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestDisabledSerialMuxClose(t *testing.T) {
	d := NewDisabledSerialMux()
	_, a := d.Subscribe()
	_, b := d.Subscribe()
	if n := d.Stats().Subscribers; n != 2 {
		t.Errorf("Stats().Subscribers = %d, want 2", n)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	for _, ch := range []chan string{a, b} {
		if _, ok := <-ch; ok {
			t.Error("expected subscriber channel closed")
		}
	}
	// Subscribing after close returns a closed channel
	_, c := d.Subscribe()
	if _, ok := <-c; ok {
		t.Error("expected closed channel after Close")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}

func TestDisabledSerialMuxNoops(t *testing.T) {
	d := NewDisabledSerialMux()
	if err := d.SendCommand("SCAN ON"); err != nil {
		t.Errorf("SendCommand error: %v", err)
	}
	if err := d.Initialize(); err != nil {
		t.Errorf("Initialize error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Monitor(ctx); err != context.Canceled {
		t.Errorf("Monitor err = %v, want context.Canceled", err)
	}

	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/serial-disabled", nil))
	if w.Code != http.StatusOK {
		t.Errorf("serial-disabled status = %d", w.Code)
	}
}
