package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mixfold/mixfold/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sessionRepo implements SessionRepository using GORM.
type sessionRepo struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepo{db: db}
}

// Upsert creates the session on first sight with status receiving. An
// existing row keeps its status; sample rate and channel count follow the
// latest upload so a corrected header wins.
func (r *sessionRepo) Upsert(ctx context.Context, sessionID string, sampleRate, channels int) (*models.Session, error) {
	session := &models.Session{
		SessionID:  sessionID,
		Status:     models.SessionStatusReceiving,
		SampleRate: sampleRate,
		Channels:   channels,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"sample_rate": sampleRate,
			"channels":    channels,
		}),
	}).Create(session).Error
	if err != nil {
		return nil, fmt.Errorf("upserting session %s: %w", sessionID, err)
	}
	return r.GetBySessionID(ctx, sessionID)
}

// GetBySessionID retrieves a session by its client-supplied id.
func (r *sessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Touch refreshes the session's updated_at to now.
func (r *sessionRepo) Touch(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ?", sessionID).
		Update("updated_at", models.Now()).Error
	if err != nil {
		return fmt.Errorf("touching session %s: %w", sessionID, err)
	}
	return nil
}

// TransitionStatus atomically moves the session to next if its current status
// is in allowed. The conditional UPDATE serializes racing callers: exactly one
// observes a transition.
func (r *sessionRepo) TransitionStatus(ctx context.Context, sessionID string, allowed []models.SessionStatus, next models.SessionStatus) (bool, error) {
	updates := map[string]any{
		"status":     next,
		"updated_at": models.Now(),
	}
	switch next {
	case models.SessionStatusComplete:
		updates["completed_at"] = models.Now()
	case models.SessionStatusProcessed:
		updates["processed_at"] = models.Now()
	}

	res := r.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ? AND status IN ?", sessionID, allowed).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("transitioning session %s to %s: %w", sessionID, next, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListByStatus retrieves sessions in the given status, oldest first.
func (r *sessionRepo) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	var sessions []*models.Session
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("listing sessions by status %s: %w", status, err)
	}
	return sessions, nil
}

// ListStaleReceiving retrieves receiving sessions not touched since cutoff.
func (r *sessionRepo) ListStaleReceiving(ctx context.Context, cutoff time.Time) ([]*models.Session, error) {
	var sessions []*models.Session
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.SessionStatusReceiving, cutoff).
		Order("updated_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("listing stale sessions: %w", err)
	}
	return sessions, nil
}

// DeleteCascade removes the session and all dependent rows in dependency
// order within one transaction.
func (r *sessionRepo) DeleteCascade(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, step := range []struct {
			name  string
			model any
		}{
			{"pipeline_runs", &models.PipelineRun{}},
			{"recordings", &models.Recording{}},
			{"channel_settings", &models.ChannelSetting{}},
			{"annotations", &models.Annotation{}},
			{"processed_channels", &models.ProcessedChannel{}},
			{"segments", &models.Segment{}},
		} {
			if err := tx.Where("session_id = ?", sessionID).Delete(step.model).Error; err != nil {
				return fmt.Errorf("deleting %s: %w", step.name, err)
			}
		}

		res := tx.Where("session_id = ?", sessionID).Delete(&models.Session{})
		if res.Error != nil {
			return fmt.Errorf("deleting session row: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.ErrSessionNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("cascade deleting session %s: %w", sessionID, err)
	}
	return nil
}
