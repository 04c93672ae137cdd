package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mixfold/mixfold/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// processedChannelRepo implements ProcessedChannelRepository using GORM.
type processedChannelRepo struct {
	db *gorm.DB
}

// NewProcessedChannelRepository creates a new ProcessedChannelRepository.
func NewProcessedChannelRepository(db *gorm.DB) ProcessedChannelRepository {
	return &processedChannelRepo{db: db}
}

// Upsert inserts or replaces the row for (session_id, channel_number).
func (r *processedChannelRepo) Upsert(ctx context.Context, pc *models.ProcessedChannel) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "channel_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"local_path", "s3_key", "s3_url", "hls_url", "peaks_url",
			"file_size", "duration_seconds", "is_quiet", "is_silent", "updated_at",
		}),
	}).Create(pc).Error
	if err != nil {
		return fmt.Errorf("upserting processed channel %s/%d: %w",
			pc.SessionID, pc.ChannelNumber, err)
	}
	return nil
}

// Get retrieves the row for (session_id, channel_number), or nil when absent.
func (r *processedChannelRepo) Get(ctx context.Context, sessionID string, channelNumber int) (*models.ProcessedChannel, error) {
	var pc models.ProcessedChannel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND channel_number = ?", sessionID, channelNumber).
		First(&pc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting processed channel %s/%d: %w", sessionID, channelNumber, err)
	}
	return &pc, nil
}

// ListBySession retrieves all processed channels of a session.
func (r *processedChannelRepo) ListBySession(ctx context.Context, sessionID string) ([]*models.ProcessedChannel, error) {
	var channels []*models.ProcessedChannel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("channel_number ASC").
		Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("listing processed channels for %s: %w", sessionID, err)
	}
	return channels, nil
}
