// Package pool manages the bounded set of backend worker processes for
// one application.
//
// The package offers two levels of abstraction:
//
// ServerProcess wraps os/exec for a single backend worker:
//   - Port assignment and TCP readiness confirmation bounded by the
//     configured startup time limit
//   - Graceful shutdown with SIGINT and the configured shutdown time
//     limit, force kill with SIGKILL on timeout
//   - Output redirection to a per-app log file, the manager's discard
//     sink, or the hostbridge log stream
//
// Manager owns the fixed slot table of workers:
//   - Round-robin slot selection with lazy worker start on first use
//   - Rapid-fail circuit breaker that refuses new workers when starts
//     keep failing within a one-minute window
//   - Drain (SendShutdownSignal) and forced shutdown walks over the
//     slot table
//   - Reference counting so the manager outlives in-flight callers
//
// Example usage:
//
//	mgr := pool.NewManager("api", &pool.Options{Logger: logger})
//	if err := mgr.Initialize(); err != nil {
//	    return err
//	}
//	defer mgr.Release()
//	worker, err := mgr.GetProcess(ctx, cfg)
package pool
