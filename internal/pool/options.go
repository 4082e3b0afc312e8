package pool

import (
	"log/slog"
	"time"

	"github.com/hostbridge/hostbridge/internal/events"
)

// Options configures a new Manager.
type Options struct {
	// Factory creates workers. Defaults to NewServerProcess.
	Factory Factory

	// Bus receives pool lifecycle events (optional).
	Bus *events.Bus

	// Logger for pool operations. If nil, uses slog.Default().
	Logger *slog.Logger

	// Clock supplies the current time for rapid-fail accounting.
	// Defaults to time.Now; tests substitute a fake.
	Clock func() time.Time
}
