package pool

import (
	"context"
	"log/slog"
	"os"

	"github.com/hostbridge/hostbridge/internal/config"
)

// Worker is one backend process owned by a pool slot. A worker is
// created not ready, becomes ready after Start confirms health, and is
// never reused once stopped: the slot must hold a freshly created
// worker afterwards.
type Worker interface {
	// Start launches the process and blocks until it is ready or the
	// startup time limit passes. It is called at most once.
	Start(ctx context.Context) error

	// IsReady reports whether the worker can receive traffic.
	IsReady() bool

	// Port returns the worker's listening port, its identity within
	// the pool.
	Port() int

	// Stop terminates the process, gracefully first, forcefully after
	// the shutdown time limit. Idempotent.
	Stop()

	// SendSignal asks the process to drain and exit on its own,
	// without waiting for it.
	SendSignal()

	// Release frees resources held on the worker's behalf once the
	// pool no longer owns it. Idempotent.
	Release()
}

// Deps carries the manager-owned collaborators a worker needs.
type Deps struct {
	// OnFailure is invoked when the worker fails to start or exits
	// prematurely. The manager counts these toward the rapid-fail
	// window.
	OnFailure func()

	// Discard is the always-writable sink for worker output when no
	// log file is configured and console redirection is off.
	Discard *os.File

	Logger *slog.Logger
}

// Factory creates an unstarted worker from an application descriptor.
// The manager uses it so tests can substitute fakes.
type Factory func(cfg *config.AppConfig, deps Deps) (Worker, error)
