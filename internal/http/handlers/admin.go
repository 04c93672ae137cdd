package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/service"
)

// AdminHandler handles pipeline run history and maintenance endpoints.
type AdminHandler struct {
	admin *service.AdminService
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// Register registers the admin routes with the API.
func (h *AdminHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessionPipelineRuns",
		Method:      "GET",
		Path:        "/api/admin/sessions/{sessionId}/pipeline-runs",
		Summary:     "List pipeline runs",
		Description: "Returns the pipeline run history of a session, newest first",
		Tags:        []string{"Admin"},
	}, h.ListSessionRuns)

	huma.Register(api, huma.Operation{
		OperationID: "listPipelineRunsByStatus",
		Method:      "GET",
		Path:        "/api/admin/pipeline-runs",
		Summary:     "List pipeline runs by status",
		Description: "Returns pipeline runs filtered by status",
		Tags:        []string{"Admin"},
	}, h.ListByStatus)

	huma.Register(api, huma.Operation{
		OperationID: "retryPipelineRun",
		Method:      "POST",
		Path:        "/api/admin/pipeline-runs/{runId}/retry",
		Summary:     "Retry pipeline run",
		Description: "Replays one failed step with the input snapshot it failed with",
		Tags:        []string{"Admin"},
	}, h.RetryRun)

	huma.Register(api, huma.Operation{
		OperationID: "retryFailedUploads",
		Method:      "POST",
		Path:        "/api/admin/uploads/retry-failed",
		Summary:     "Retry failed uploads",
		Description: "Drains the dead-letter directory back into the upload queue",
		Tags:        []string{"Admin"},
	}, h.RetryFailedUploads)
}

// ListSessionRunsInput addresses a session's run history.
type ListSessionRunsInput struct {
	SessionID string `path:"sessionId" doc:"Session id"`
}

// ListRunsOutput is a list of pipeline runs.
type ListRunsOutput struct {
	Body struct {
		Runs []PipelineRunResponse `json:"runs"`
	}
}

// ListSessionRuns returns the run history of a session.
func (h *AdminHandler) ListSessionRuns(ctx context.Context, input *ListSessionRunsInput) (*ListRunsOutput, error) {
	runs, err := h.admin.ListPipelineRuns(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, huma.Error404NotFound(fmt.Sprintf("session %s not found", input.SessionID))
		}
		return nil, huma.Error500InternalServerError("failed to list pipeline runs", err)
	}
	return runList(runs), nil
}

// ListByStatusInput filters pipeline runs by status.
type ListByStatusInput struct {
	Status string `query:"status" default:"failed" enum:"pending,running,completed,failed,skipped" doc:"Run status"`
	Limit  int    `query:"limit" default:"100" minimum:"0" doc:"Maximum rows, 0 = unlimited"`
}

// ListByStatus returns runs in the given status.
func (h *AdminHandler) ListByStatus(ctx context.Context, input *ListByStatusInput) (*ListRunsOutput, error) {
	runs, err := h.admin.ListPipelineRunsByStatus(ctx, models.PipelineRunStatus(input.Status), input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list pipeline runs", err)
	}
	return runList(runs), nil
}

// RetryRunInput addresses one pipeline run.
type RetryRunInput struct {
	RunID string `path:"runId" doc:"Pipeline run ID (ULID)"`
}

// RetryRunOutput reports the replay outcome.
type RetryRunOutput struct {
	Body struct {
		Success      bool     `json:"success"`
		FailedSteps  []string `json:"failedSteps,omitempty"`
		SkippedSteps []string `json:"skippedSteps,omitempty"`
	}
}

// RetryRun replays one failed step.
func (h *AdminHandler) RetryRun(ctx context.Context, input *RetryRunInput) (*RetryRunOutput, error) {
	runID, err := models.ParseULID(input.RunID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid run ID format", err)
	}

	result, err := h.admin.RetryPipelineRun(ctx, runID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrPipelineRunNotFound):
			return nil, huma.Error404NotFound(fmt.Sprintf("pipeline run %s not found", input.RunID))
		case errors.Is(err, models.ErrRunNotRetryable):
			return nil, huma.Error400BadRequest(err.Error())
		default:
			return nil, huma.Error500InternalServerError("failed to retry pipeline run", err)
		}
	}

	out := &RetryRunOutput{}
	out.Body.Success = result.Success
	out.Body.FailedSteps = result.FailedSteps
	out.Body.SkippedSteps = result.SkippedSteps
	return out, nil
}

// RetryFailedUploadsInput has no parameters.
type RetryFailedUploadsInput struct{}

// RetryFailedUploadsOutput reports how many items were re-enqueued.
type RetryFailedUploadsOutput struct {
	Body struct {
		Requeued int `json:"requeued"`
		Pending  int `json:"pending"`
	}
}

// RetryFailedUploads drains the dead-letter directory.
func (h *AdminHandler) RetryFailedUploads(ctx context.Context, input *RetryFailedUploadsInput) (*RetryFailedUploadsOutput, error) {
	requeued, err := h.admin.RetryFailedUploads()
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to retry uploads", err)
	}

	out := &RetryFailedUploadsOutput{}
	out.Body.Requeued = requeued
	out.Body.Pending = h.admin.PendingUploads()
	return out, nil
}

func runList(runs []*models.PipelineRun) *ListRunsOutput {
	out := &ListRunsOutput{}
	out.Body.Runs = make([]PipelineRunResponse, 0, len(runs))
	for _, run := range runs {
		out.Body.Runs = append(out.Body.Runs, PipelineRunFromModel(run))
	}
	return out
}
