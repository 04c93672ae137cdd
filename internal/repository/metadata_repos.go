package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mixfold/mixfold/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// annotationRepo implements AnnotationRepository using GORM.
type annotationRepo struct {
	db *gorm.DB
}

// NewAnnotationRepository creates a new AnnotationRepository.
func NewAnnotationRepository(db *gorm.DB) AnnotationRepository {
	return &annotationRepo{db: db}
}

func (r *annotationRepo) Create(ctx context.Context, a *models.Annotation) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("creating annotation: %w", err)
	}
	return nil
}

func (r *annotationRepo) ListBySession(ctx context.Context, sessionID string) ([]*models.Annotation, error) {
	var annotations []*models.Annotation
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("time_seconds ASC").
		Find(&annotations).Error
	if err != nil {
		return nil, fmt.Errorf("listing annotations for %s: %w", sessionID, err)
	}
	return annotations, nil
}

func (r *annotationRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Annotation{}).Error; err != nil {
		return fmt.Errorf("deleting annotation %s: %w", id, err)
	}
	return nil
}

// channelSettingRepo implements ChannelSettingRepository using GORM.
type channelSettingRepo struct {
	db *gorm.DB
}

// NewChannelSettingRepository creates a new ChannelSettingRepository.
func NewChannelSettingRepository(db *gorm.DB) ChannelSettingRepository {
	return &channelSettingRepo{db: db}
}

func (r *channelSettingRepo) Upsert(ctx context.Context, cs *models.ChannelSetting) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "channel_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "color", "muted", "updated_at"}),
	}).Create(cs).Error
	if err != nil {
		return fmt.Errorf("upserting channel setting %s/%d: %w", cs.SessionID, cs.ChannelNumber, err)
	}
	return nil
}

func (r *channelSettingRepo) ListBySession(ctx context.Context, sessionID string) ([]*models.ChannelSetting, error) {
	var settings []*models.ChannelSetting
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("channel_number ASC").
		Find(&settings).Error
	if err != nil {
		return nil, fmt.Errorf("listing channel settings for %s: %w", sessionID, err)
	}
	return settings, nil
}

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db *gorm.DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *gorm.DB) RecordingRepository {
	return &recordingRepo{db: db}
}

func (r *recordingRepo) EnsureForSession(ctx context.Context, sessionID, title string) error {
	recording := &models.Recording{
		SessionID: sessionID,
		Title:     title,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoNothing: true,
	}).Create(recording).Error
	if err != nil {
		return fmt.Errorf("ensuring recording for %s: %w", sessionID, err)
	}
	return nil
}

func (r *recordingRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Recording, error) {
	var recording models.Recording
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&recording).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording for %s: %w", sessionID, err)
	}
	return &recording, nil
}

func (r *recordingRepo) SetProcessedChannels(ctx context.Context, sessionID string, count int) error {
	err := r.db.WithContext(ctx).Model(&models.Recording{}).
		Where("session_id = ?", sessionID).
		Update("processed_channels", count).Error
	if err != nil {
		return fmt.Errorf("updating recording for %s: %w", sessionID, err)
	}
	return nil
}
