package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mixfold/mixfold/internal/models"
	"gorm.io/gorm"
)

// pipelineRunRepo implements PipelineRunRepository using GORM.
type pipelineRunRepo struct {
	db *gorm.DB
}

// NewPipelineRunRepository creates a new PipelineRunRepository.
func NewPipelineRunRepository(db *gorm.DB) PipelineRunRepository {
	return &pipelineRunRepo{db: db}
}

// Create creates a new pipeline run row.
func (r *pipelineRunRepo) Create(ctx context.Context, run *models.PipelineRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating pipeline run: %w", err)
	}
	return nil
}

// Update saves the full run row.
func (r *pipelineRunRepo) Update(ctx context.Context, run *models.PipelineRun) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("updating pipeline run %s: %w", run.ID, err)
	}
	return nil
}

// GetByID retrieves a run by ID.
func (r *pipelineRunRepo) GetByID(ctx context.Context, id models.ULID) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrPipelineRunNotFound
		}
		return nil, fmt.Errorf("getting pipeline run %s: %w", id, err)
	}
	return &run, nil
}

// ListBySession retrieves runs for a session, newest first.
func (r *pipelineRunRepo) ListBySession(ctx context.Context, sessionID string) ([]*models.PipelineRun, error) {
	var runs []*models.PipelineRun
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("listing pipeline runs for %s: %w", sessionID, err)
	}
	return runs, nil
}

// ListByStatus retrieves runs in the given status, newest first.
func (r *pipelineRunRepo) ListByStatus(ctx context.Context, status models.PipelineRunStatus, limit int) ([]*models.PipelineRun, error) {
	query := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var runs []*models.PipelineRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing pipeline runs by status %s: %w", status, err)
	}
	return runs, nil
}
