// Package repository defines data access interfaces for mixfold entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/mixfold/mixfold/internal/models"
)

// SessionRepository defines operations for session persistence.
type SessionRepository interface {
	// Upsert creates the session on first sight with status receiving; an
	// existing session is left untouched apart from sample rate and channel
	// count, which follow the latest upload. Returns the stored session.
	Upsert(ctx context.Context, sessionID string, sampleRate, channels int) (*models.Session, error)
	// GetBySessionID retrieves a session by its client-supplied id.
	// Returns models.ErrSessionNotFound when absent.
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
	// Touch refreshes the session's updated_at to now.
	Touch(ctx context.Context, sessionID string) error
	// TransitionStatus atomically moves the session from one of the allowed
	// statuses to next, stamping completed_at/processed_at on first entry
	// into complete/processed. Returns false when the session was not in an
	// allowed status.
	TransitionStatus(ctx context.Context, sessionID string, allowed []models.SessionStatus, next models.SessionStatus) (bool, error)
	// ListByStatus retrieves sessions in the given status.
	ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error)
	// ListStaleReceiving retrieves receiving sessions whose updated_at is
	// older than the cutoff.
	ListStaleReceiving(ctx context.Context, cutoff time.Time) ([]*models.Session, error)
	// DeleteCascade removes the session and all dependent rows in dependency
	// order (pipeline_runs, recordings, channel_settings, annotations,
	// processed_channels, segments, sessions) within one transaction.
	DeleteCascade(ctx context.Context, sessionID string) error
}

// SegmentRepository defines operations for segment persistence.
type SegmentRepository interface {
	// Upsert inserts the segment or, on a duplicate
	// (session_id, segment_number, channel_group), replaces the stored path,
	// format, size, and received_at. Last writer wins.
	Upsert(ctx context.Context, segment *models.Segment) error
	// GetByIdentity retrieves a segment by its unique key.
	GetByIdentity(ctx context.Context, sessionID string, segmentNumber int, channelGroup string) (*models.Segment, error)
	// ListBySession retrieves all segments of a session ordered by segment
	// number, then channel group.
	ListBySession(ctx context.Context, sessionID string) ([]*models.Segment, error)
	// CountBySession returns the number of segments recorded for a session.
	CountBySession(ctx context.Context, sessionID string) (int64, error)
	// SetObjectKey records the object-store key after successful replication.
	SetObjectKey(ctx context.Context, id models.ULID, key string) error
}

// ProcessedChannelRepository defines operations for processed channel rows.
type ProcessedChannelRepository interface {
	// Upsert inserts or replaces the row for (session_id, channel_number).
	Upsert(ctx context.Context, pc *models.ProcessedChannel) error
	// Get retrieves the row for (session_id, channel_number), or nil.
	Get(ctx context.Context, sessionID string, channelNumber int) (*models.ProcessedChannel, error)
	// ListBySession retrieves all processed channels of a session ordered by
	// channel number.
	ListBySession(ctx context.Context, sessionID string) ([]*models.ProcessedChannel, error)
}

// PipelineRunRepository defines operations for pipeline run provenance rows.
type PipelineRunRepository interface {
	// Create creates a new pipeline run row.
	Create(ctx context.Context, run *models.PipelineRun) error
	// Update saves the full run row.
	Update(ctx context.Context, run *models.PipelineRun) error
	// GetByID retrieves a run by ID. Returns models.ErrPipelineRunNotFound
	// when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.PipelineRun, error)
	// ListBySession retrieves runs for a session, newest first.
	ListBySession(ctx context.Context, sessionID string) ([]*models.PipelineRun, error)
	// ListByStatus retrieves runs in the given status, newest first, capped
	// at limit (0 = no cap).
	ListByStatus(ctx context.Context, status models.PipelineRunStatus, limit int) ([]*models.PipelineRun, error)
}

// AnnotationRepository defines operations for session annotations.
type AnnotationRepository interface {
	Create(ctx context.Context, a *models.Annotation) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.Annotation, error)
	Delete(ctx context.Context, id models.ULID) error
}

// ChannelSettingRepository defines operations for per-channel settings.
type ChannelSettingRepository interface {
	// Upsert inserts or replaces the row for (session_id, channel_number).
	Upsert(ctx context.Context, cs *models.ChannelSetting) error
	ListBySession(ctx context.Context, sessionID string) ([]*models.ChannelSetting, error)
}

// RecordingRepository defines operations for the 1:1 recording row.
type RecordingRepository interface {
	// EnsureForSession creates the recording row if it does not exist yet.
	EnsureForSession(ctx context.Context, sessionID, title string) error
	// GetBySessionID retrieves the recording for a session, or nil.
	GetBySessionID(ctx context.Context, sessionID string) (*models.Recording, error)
	// SetProcessedChannels records the channel count after processing.
	SetProcessedChannels(ctx context.Context, sessionID string, count int) error
}
