// Package toggle binds the user's on/off switch to the lifecycle controller.
// The switch position is never stored: it is derived from controller state
// on every read, so it resynchronises after failures and crashes.
package toggle

import (
	"context"
	"log"

	"github.com/dexft/dexft/internal/controller"
	"github.com/dexft/dexft/internal/eventbus"
	"github.com/dexft/dexft/internal/netident"
)

const (
	statusRunningPrefix = "Server local IP: "
	statusOff           = "Server is OFF"
)

// Controller is the lifecycle surface the binding drives.
type Controller interface {
	RequestStart(ctx context.Context) (controller.State, error)
	RequestStop(ctx context.Context) (controller.State, error)
	State() controller.State
	LastError() error
}

// AddressResolver reports the local address of the transfer server.
type AddressResolver interface {
	CurrentAddress() string
	Display(port int) string
}

// View is what the control surface shows.
type View struct {
	Enabled bool   `json:"enabled"`
	State   string `json:"state"`
	Status  string `json:"status"`
	Address string `json:"address"`
	Reason  string `json:"reason,omitempty"`
}

// Binding projects controller state into a View.
type Binding struct {
	ctrl     Controller
	resolver AddressResolver
	port     int
	bus      *eventbus.Bus

	lifecycle eventbus.ServiceLifecycle
}

// New creates a binding. resolver may be nil, in which case the address is unknown.
func New(ctrl Controller, resolver AddressResolver, port int, bus *eventbus.Bus) *Binding {
	return &Binding{ctrl: ctrl, resolver: resolver, port: port, bus: bus}
}

// OnToggle requests the desired position and returns the view re-derived
// from the controller afterwards. The request's own result is not trusted.
func (b *Binding) OnToggle(ctx context.Context, desired bool) View {
	var err error
	if desired {
		_, err = b.ctrl.RequestStart(ctx)
	} else {
		_, err = b.ctrl.RequestStop(ctx)
	}
	view := b.View()
	if err != nil {
		log.Printf("[Toggle] toggle to %v: %v", desired, err)
		if view.Reason == "" {
			view.Reason = err.Error()
		}
	}
	return view
}

// View recomputes the projection from the controller.
func (b *Binding) View() View {
	st := b.ctrl.State()
	view := View{
		Enabled: st == controller.Running,
		State:   string(st),
		Status:  statusOff,
		Address: netident.Unknown,
	}
	if view.Enabled {
		ip, display := netident.Unknown, netident.Unknown
		if b.resolver != nil {
			ip = b.resolver.CurrentAddress()
			display = b.resolver.Display(b.port)
		}
		view.Status = statusRunningPrefix + ip
		view.Address = display
	}
	if st == controller.FailedToStart || st == controller.Stopped {
		if err := b.ctrl.LastError(); err != nil {
			view.Reason = err.Error()
		}
	}
	return view
}

// Start republishes the view on toggle.changed after every lifecycle
// transition so remote surfaces resynchronise.
func (b *Binding) Start(ctx context.Context) error {
	b.lifecycle.Start(ctx)
	sub := eventbus.SubscribeTo(b.bus, eventbus.Daemon.Lifecycle,
		eventbus.WithSubscriptionName("toggle_lifecycle"),
		eventbus.WithSubscriptionBuffer(16),
	)
	b.lifecycle.AddSubscriptions(sub)
	b.lifecycle.Go(func(ctx context.Context) {
		eventbus.Consume(ctx, sub, nil, func(evt eventbus.LifecycleEvent) {
			view := b.View()
			if !evt.Expected {
				log.Printf("[Toggle] resynchronised to %s: %s", view.State, evt.Reason)
			}
			eventbus.Publish(ctx, b.bus, eventbus.Daemon.Toggle, eventbus.SourceToggle, eventbus.ToggleEvent{
				Enabled: view.Enabled,
				State:   view.State,
				Status:  view.Status,
				Address: view.Address,
				Reason:  view.Reason,
			})
		})
	})
	return nil
}

// Shutdown stops republishing.
func (b *Binding) Shutdown(ctx context.Context) error {
	return b.lifecycle.Shutdown(ctx)
}

// FromEvent converts a toggle.changed payload back into a View.
func FromEvent(evt eventbus.ToggleEvent) View {
	return View{
		Enabled: evt.Enabled,
		State:   evt.State,
		Status:  evt.Status,
		Address: evt.Address,
		Reason:  evt.Reason,
	}
}
