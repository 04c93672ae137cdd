package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/pipeline/core"
	"github.com/mixfold/mixfold/internal/repository"
)

// UploadRetrier is the slice of the upload queue the admin surface uses.
type UploadRetrier interface {
	RetryFailed() (int, error)
	Pending() int
}

// StepReplayer re-executes a single pipeline step from its stored input
// snapshot.
type StepReplayer interface {
	ReplayStep(ctx context.Context, session *models.Session, segments []*models.Segment, run *models.PipelineRun) (*core.Result, error)
}

// AdminService exposes pipeline run history and maintenance operations.
type AdminService struct {
	sessions repository.SessionRepository
	segments repository.SegmentRepository
	runs     repository.PipelineRunRepository
	channels StepReplayer
	uploads  UploadRetrier
	logger   *slog.Logger
}

// NewAdminService wires the admin surface. A nil uploads queue disables
// the retry-failed operation.
func NewAdminService(
	sessions repository.SessionRepository,
	segments repository.SegmentRepository,
	runs repository.PipelineRunRepository,
	channels StepReplayer,
	uploads UploadRetrier,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		sessions: sessions,
		segments: segments,
		runs:     runs,
		channels: channels,
		uploads:  uploads,
		logger:   logger.With("component", "admin"),
	}
}

// ListPipelineRuns returns the run history of a session, newest first.
func (s *AdminService) ListPipelineRuns(ctx context.Context, sessionID string) ([]*models.PipelineRun, error) {
	if _, err := s.sessions.GetBySessionID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.runs.ListBySession(ctx, sessionID)
}

// ListPipelineRunsByStatus returns runs in the given status, newest
// first, capped at limit (0 = no cap).
func (s *AdminService) ListPipelineRunsByStatus(ctx context.Context, status models.PipelineRunStatus, limit int) ([]*models.PipelineRun, error) {
	return s.runs.ListByStatus(ctx, status, limit)
}

// RetryPipelineRun replays one failed step with the same input snapshot
// it failed with.
func (s *AdminService) RetryPipelineRun(ctx context.Context, runID models.ULID) (*core.Result, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.PipelineRunStatusFailed {
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, models.ErrRunNotRetryable)
	}

	session, err := s.sessions.GetBySessionID(ctx, run.SessionID)
	if err != nil {
		return nil, err
	}
	segments, err := s.segments.ListBySession(ctx, run.SessionID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("replaying pipeline step",
		"run_id", runID, "session_id", run.SessionID, "step", run.StepName)
	return s.channels.ReplayStep(ctx, session, segments, run)
}

// RetryFailedUploads drains the dead-letter directory back into the
// upload queue and returns the number of re-enqueued items.
func (s *AdminService) RetryFailedUploads() (int, error) {
	if s.uploads == nil {
		return 0, fmt.Errorf("upload queue is disabled")
	}
	return s.uploads.RetryFailed()
}

// PendingUploads reports the upload queue depth.
func (s *AdminService) PendingUploads() int {
	if s.uploads == nil {
		return 0
	}
	return s.uploads.Pending()
}
