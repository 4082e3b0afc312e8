package events

// Event type constants for kelindar/event.
const (
	TypeWorkerStarted uint32 = iota + 1
	TypeWorkerStopped
	TypeWorkerStartFailed
	TypeRapidFailExceeded
	TypePoolDraining
	TypeConfigReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// WorkerStartedEvent is published when a worker passes its health
// confirmation and becomes eligible for traffic.
type WorkerStartedEvent struct {
	App       string `json:"app" example:"api" doc:"Application name"`
	Port      int    `json:"port" example:"9104" doc:"Worker listening port"`
	Slot      int    `json:"slot" example:"2" doc:"Pool slot index"`
	Timestamp string `json:"timestamp" example:"2026-08-25T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerStartedEvent.
func (e WorkerStartedEvent) Type() uint32 { return TypeWorkerStarted }

// WorkerStoppedEvent is published when a worker is stopped or signaled
// out of the pool.
type WorkerStoppedEvent struct {
	App       string `json:"app" example:"api" doc:"Application name"`
	Port      int    `json:"port" example:"9104" doc:"Worker listening port"`
	Reason    string `json:"reason" example:"drain" doc:"Why the worker was stopped: drain, replace, shutdown"`
	Timestamp string `json:"timestamp" example:"2026-08-25T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerStoppedEvent.
func (e WorkerStoppedEvent) Type() uint32 { return TypeWorkerStopped }

// WorkerStartFailedEvent is published when a worker start attempt
// fails or the worker never reaches readiness.
type WorkerStartFailedEvent struct {
	App       string `json:"app" example:"api" doc:"Application name"`
	Error     string `json:"error" example:"startup deadline exceeded" doc:"Failure description"`
	Timestamp string `json:"timestamp" example:"2026-08-25T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for WorkerStartFailedEvent.
func (e WorkerStartFailedEvent) Type() uint32 { return TypeWorkerStartFailed }

// RapidFailExceededEvent is the operator-visible diagnostic published
// when the rapid-fail circuit opens. Limit carries the configured
// threshold so operators can see what tripped.
type RapidFailExceededEvent struct {
	App       string `json:"app" example:"api" doc:"Application name"`
	Limit     int    `json:"limit" example:"10" doc:"Configured rapid fails per minute"`
	Timestamp string `json:"timestamp" example:"2026-08-25T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RapidFailExceededEvent.
func (e RapidFailExceededEvent) Type() uint32 { return TypeRapidFailExceeded }

// PoolDrainingEvent is published when a soft drain walk begins.
type PoolDrainingEvent struct {
	App       string `json:"app" example:"api" doc:"Application name"`
	Timestamp string `json:"timestamp" example:"2026-08-25T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for PoolDrainingEvent.
func (e PoolDrainingEvent) Type() uint32 { return TypePoolDraining }

// ConfigReloadedEvent is published after the application descriptor is
// reloaded from disk.
type ConfigReloadedEvent struct {
	App       string `json:"app" example:"api" doc:"Application name"`
	Path      string `json:"path" example:"/etc/hostbridge/app.toml" doc:"Config file path"`
	Timestamp string `json:"timestamp" example:"2026-08-25T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }
