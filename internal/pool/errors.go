package pool

import "errors"

// Errors returned by Manager.GetProcess. All are recoverable by the
// caller: none of them leave the manager in a broken state.
var (
	// ErrApplicationExiting is returned once shutdown has begun; no new
	// work is dispatched to the pool.
	ErrApplicationExiting = errors.New("application is exiting")

	// ErrServerDisabled is returned while the rapid-fail circuit is
	// open. Callers should surface a service-unavailable response.
	ErrServerDisabled = errors.New("server disabled by rapid-fail limit")

	// ErrCreateFailed is returned when a worker start attempt failed or
	// the worker never confirmed readiness.
	ErrCreateFailed = errors.New("failed to create worker process")
)
