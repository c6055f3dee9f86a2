package model

import "time"

// RunStatus is the lifecycle state of a SyncRun.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// SyncRun records one execution of the orchestrator for one target.
type SyncRun struct {
	ID       string    `json:"id"`
	TargetID string    `json:"target_id"`
	Status   RunStatus `json:"status"`

	// Fetched counts messages listed, Processed the newly persisted ones,
	// Skipped the ones that failed to parse.
	Fetched   int `json:"messages_fetched"`
	Processed int `json:"messages_processed"`
	Skipped   int `json:"messages_skipped"`

	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Open reports whether the run has not been finalized yet.
func (r SyncRun) Open() bool {
	return r.Status == RunRunning
}
