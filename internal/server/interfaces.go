package server

import (
	"context"
	"time"

	"github.com/dexft/dexft/internal/config/store"
	"github.com/dexft/dexft/internal/controller"
	daemonruntime "github.com/dexft/dexft/internal/runtime"
	"github.com/dexft/dexft/internal/toggle"
)

// LifecycleReader exposes the controller state consumed by /status.
type LifecycleReader interface {
	Snapshot() controller.Snapshot
}

// ToggleSurface is the user-facing on/off binding driven by /toggle.
type ToggleSurface interface {
	OnToggle(ctx context.Context, desired bool) toggle.View
	View() toggle.View
}

// MediaLister lists indexed shared files.
type MediaLister interface {
	ListMedia(ctx context.Context) ([]store.MediaFile, error)
}

// ServiceReporter reports supervised daemon services.
type ServiceReporter interface {
	Services() []daemonruntime.ServiceStatus
}

// RuntimeInfoProvider exposes daemon runtime metadata.
type RuntimeInfoProvider interface {
	StartTime() time.Time
}
