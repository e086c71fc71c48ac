package serialmux

import (
	"context"
	"net/http"
)

// DisabledSerialMux stands in for the receiver when no port is configured. Subscribers get channels that are closed on Unsubscribe or
// Close, so readers unblock during shutdown. Commands are accepted and
// discarded.
type DisabledSerialMux struct {
	hub *hub
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{hub: newHub()}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) { return d.hub.subscribe() }

func (d *DisabledSerialMux) Unsubscribe(id string) { d.hub.unsubscribe(id) }

func (d *DisabledSerialMux) SendCommand(string) error { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.hub.closeAll()
	return nil
}

func (d *DisabledSerialMux) Initialize() error { return nil }

func (d *DisabledSerialMux) Stats() MuxStats {
	return MuxStats{Subscribers: d.hub.count()}
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("no receiver port configured"))
	})
}
