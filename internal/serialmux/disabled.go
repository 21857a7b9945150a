package serialmux

import (
	"context"
	"net/http"

	"github.com/banshee-data/motiongen/internal/fanout"
	"github.com/banshee-data/motiongen/internal/httputil"
)

// DisabledSerialMux is a no-op SerialMux used when no sensor bridge is
// attached. Subscribers are tracked so their channels close on Unsubscribe
// or Close, which lets readers unblock during shutdown. The control loop
// fed by it never passes the sensor barrier.
type DisabledSerialMux struct {
	*fanout.Hub
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{Hub: fanout.New(DefaultSubscriberBuffer)}
}

func (d *DisabledSerialMux) SendCommand(string) error { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.Hub.Close()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]any{"disabled": true, "stats": d.Stats()})
	})
}
