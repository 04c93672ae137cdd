package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/mixfold/mixfold/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// segmentRepo implements SegmentRepository using GORM.
type segmentRepo struct {
	db *gorm.DB
}

// NewSegmentRepository creates a new SegmentRepository.
func NewSegmentRepository(db *gorm.DB) SegmentRepository {
	return &segmentRepo{db: db}
}

// Upsert inserts the segment or replaces the mutable fields on a duplicate
// unique key. The replicated s3_key is reset so a re-upload gets replicated
// again.
func (r *segmentRepo) Upsert(ctx context.Context, segment *models.Segment) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "session_id"}, {Name: "segment_number"}, {Name: "channel_group"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"format", "local_path", "file_size", "received_at", "s3_key", "updated_at",
		}),
	}).Create(segment).Error
	if err != nil {
		return fmt.Errorf("upserting segment %s/%d/%s: %w",
			segment.SessionID, segment.SegmentNumber, segment.ChannelGroup, err)
	}
	return nil
}

// GetByIdentity retrieves a segment by its unique key.
func (r *segmentRepo) GetByIdentity(ctx context.Context, sessionID string, segmentNumber int, channelGroup string) (*models.Segment, error) {
	var segment models.Segment
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND segment_number = ? AND channel_group = ?",
			sessionID, segmentNumber, channelGroup).
		First(&segment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrSegmentNotFound
		}
		return nil, fmt.Errorf("getting segment: %w", err)
	}
	return &segment, nil
}

// ListBySession retrieves all segments of a session in playback order.
func (r *segmentRepo) ListBySession(ctx context.Context, sessionID string) ([]*models.Segment, error) {
	var segments []*models.Segment
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("segment_number ASC, channel_group ASC").
		Find(&segments).Error
	if err != nil {
		return nil, fmt.Errorf("listing segments for %s: %w", sessionID, err)
	}
	return segments, nil
}

// CountBySession returns the number of segments recorded for a session.
func (r *segmentRepo) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Segment{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting segments for %s: %w", sessionID, err)
	}
	return count, nil
}

// SetObjectKey records the object-store key after successful replication.
func (r *segmentRepo) SetObjectKey(ctx context.Context, id models.ULID, key string) error {
	err := r.db.WithContext(ctx).Model(&models.Segment{}).
		Where("id = ?", id).
		Update("s3_key", key).Error
	if err != nil {
		return fmt.Errorf("setting object key on segment %s: %w", id, err)
	}
	return nil
}
