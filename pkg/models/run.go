package models

import "time"

// RunStatus tracks a job through SUBMITTED -> POLLING -> (COMPLETED | TIMED_OUT | FAILED).
type RunStatus string

const (
	RunStatusSubmitted RunStatus = "submitted"
	RunStatusPolling   RunStatus = "polling"
	RunStatusCompleted RunStatus = "completed"
	RunStatusTimedOut  RunStatus = "timed_out"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusTimedOut || s == RunStatusFailed
}

// RunRecord is the audit entry written once a run finishes.
type RunRecord struct {
	ID            string     `json:"id"`
	Workflow      string     `json:"workflow"`
	PromptID      string     `json:"prompt_id,omitempty"`
	Seed          int64      `json:"seed"`
	Status        RunStatus  `json:"status"`
	Error         string     `json:"error,omitempty"`
	ArtifactCount int        `json:"artifact_count"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}
