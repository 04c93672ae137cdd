package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PipelineRunStatus represents the state of one step execution row.
type PipelineRunStatus string

const (
	// PipelineRunStatusPending indicates the row was created but the step has
	// not started (or is awaiting a retry).
	PipelineRunStatusPending PipelineRunStatus = "pending"
	// PipelineRunStatusRunning indicates the step is executing.
	PipelineRunStatusRunning PipelineRunStatus = "running"
	// PipelineRunStatusCompleted indicates the step finished successfully.
	PipelineRunStatusCompleted PipelineRunStatus = "completed"
	// PipelineRunStatusFailed indicates the step exhausted its retries.
	PipelineRunStatusFailed PipelineRunStatus = "failed"
	// PipelineRunStatusSkipped indicates the step declined to run.
	PipelineRunStatusSkipped PipelineRunStatus = "skipped"
)

// Snapshot is an opaque JSON document persisted with a pipeline run for
// provenance. Only paths, sizes, and scalar metrics belong here; bulk data
// like peaks arrays must never be inlined.
type Snapshot map[string]any

// Value implements driver.Valuer, storing the snapshot as JSON text.
func (s Snapshot) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *Snapshot) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for snapshot: %T", value)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(data, s)
}

// GormDataType returns the GORM data type for Snapshot.
func (Snapshot) GormDataType() string {
	return "text"
}

// PipelineRun is the persisted provenance row for one step of a channel
// pipeline. Retries mutate the same row: RetryCount is incremented and the
// status cycles back through pending and running.
type PipelineRun struct {
	BaseModel

	SessionID     string `gorm:"not null;size:255;index" json:"session_id"`
	ChannelNumber *int   `gorm:"index" json:"channel_number,omitempty"`

	StepName string            `gorm:"not null;size:64;index" json:"step_name"`
	Status   PipelineRunStatus `gorm:"not null;default:'pending';size:20;index" json:"status"`

	StartedAt   *Time `json:"started_at,omitempty"`
	CompletedAt *Time `json:"completed_at,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	InputSnapshot  Snapshot `json:"input_snapshot,omitempty"`
	OutputSnapshot Snapshot `json:"output_snapshot,omitempty"`

	ErrorMessage string `gorm:"size:4096" json:"error_message,omitempty"`
	SkipReason   string `gorm:"size:512" json:"skip_reason,omitempty"`
	RetryCount   int    `gorm:"not null;default:0" json:"retry_count"`
}

// TableName returns the table name for PipelineRun.
func (PipelineRun) TableName() string {
	return "pipeline_runs"
}

// IsFinished returns true once the run reached a terminal status.
func (r *PipelineRun) IsFinished() bool {
	return r.Status == PipelineRunStatusCompleted ||
		r.Status == PipelineRunStatusFailed ||
		r.Status == PipelineRunStatusSkipped
}
