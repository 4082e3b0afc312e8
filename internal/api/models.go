package api

import "github.com/hostbridge/hostbridge/internal/pool"

// HealthData is the health check payload.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Health status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

// HealthResponse wraps the health check payload.
type HealthResponse struct {
	Body HealthData
}

// VersionData is the version payload.
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-08-25T10:00:00Z" doc:"Build timestamp"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go toolchain version"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Build platform"`
}

// VersionResponse wraps the version payload.
type VersionResponse struct {
	Body VersionData
}

// PoolData describes the pool's current state.
type PoolData struct {
	App      string          `json:"app" example:"api" doc:"Application name"`
	Stopping bool            `json:"stopping" doc:"Whether shutdown has begun"`
	Slots    []pool.SlotInfo `json:"slots" doc:"Per-slot worker state"`
}

// PoolResponse wraps the pool snapshot payload.
type PoolResponse struct {
	Body PoolData
}

// ActionData reports the outcome of a pool control action.
type ActionData struct {
	Status string `json:"status" example:"ok" doc:"Action outcome"`
}

// ActionResponse wraps a pool control action outcome.
type ActionResponse struct {
	Body ActionData
}

// LogEntry is one buffered log record.
type LogEntry struct {
	Timestamp  string         `json:"timestamp" example:"2026-08-25T10:30:00.000Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"pool" doc:"Originating module"`
	Message    string         `json:"message" example:"Worker process started" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

// LogsData is the buffered log payload.
type LogsData struct {
	Entries []LogEntry `json:"entries" doc:"Recent log entries, oldest first"`
}

// LogsResponse wraps the buffered log payload.
type LogsResponse struct {
	Body LogsData
}
