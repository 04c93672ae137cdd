package handlers

import (
	"time"

	"github.com/mixfold/mixfold/internal/models"
)

// PipelineRunResponse is the API representation of a pipeline run row.
type PipelineRunResponse struct {
	ID            string           `json:"id"`
	SessionID     string           `json:"sessionId"`
	ChannelNumber *int             `json:"channelNumber,omitempty"`
	StepName      string           `json:"stepName"`
	Status        string           `json:"status"`
	StartedAt     *time.Time       `json:"startedAt,omitempty"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
	DurationMs    int64            `json:"durationMs,omitempty"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
	SkipReason    string           `json:"skipReason,omitempty"`
	RetryCount    int              `json:"retryCount"`
	OutputFields  models.Snapshot  `json:"outputFields,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// PipelineRunFromModel converts a run row to its API representation.
func PipelineRunFromModel(run *models.PipelineRun) PipelineRunResponse {
	return PipelineRunResponse{
		ID:            run.ID.String(),
		SessionID:     run.SessionID,
		ChannelNumber: run.ChannelNumber,
		StepName:      run.StepName,
		Status:        string(run.Status),
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		DurationMs:    run.DurationMs,
		ErrorMessage:  run.ErrorMessage,
		SkipReason:    run.SkipReason,
		RetryCount:    run.RetryCount,
		OutputFields:  run.OutputSnapshot,
		CreatedAt:     run.CreatedAt,
	}
}
