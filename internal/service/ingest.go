// Package service implements the business operations behind the HTTP
// surface: segment ingest, session control, and admin maintenance.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mixfold/mixfold/internal/channelgroup"
	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/objectstore"
	"github.com/mixfold/mixfold/internal/repository"
	"github.com/mixfold/mixfold/internal/storage"
	"github.com/mixfold/mixfold/internal/uploader"
)

// Enqueuer is the slice of the upload queue the ingest path uses.
type Enqueuer interface {
	Enqueue(item *uploader.Item)
}

// SegmentUpload carries the out-of-band attributes of one segment POST.
// SegmentNumber below zero means the header was absent.
type SegmentUpload struct {
	SessionID     string
	SegmentNumber int
	SampleRate    int
	Channels      int
	ChannelGroup  string
	Filename      string
	Format        models.SegmentFormat
}

// IngestResult is what accept-segment reports back to the caller.
type IngestResult struct {
	SessionID     string `json:"sessionId"`
	SegmentNumber int    `json:"segmentNumber"`
	ChannelGroup  string `json:"channelGroup"`
	Size          int64  `json:"size"`
	LocalPath     string `json:"localPath"`
	S3Queued      bool   `json:"s3Queued"`
}

// IngestService accepts segment uploads: blob write, metadata rows, and
// the replication handoff.
type IngestService struct {
	sessions   repository.SessionRepository
	segments   repository.SegmentRepository
	recordings repository.RecordingRepository
	blobs      *storage.Store
	uploads    Enqueuer
	keys       objectstore.KeyLayout
	replicate  bool
	logger     *slog.Logger
}

// NewIngestService wires the ingest path. A nil uploads queue disables
// replication.
func NewIngestService(
	sessions repository.SessionRepository,
	segments repository.SegmentRepository,
	recordings repository.RecordingRepository,
	blobs *storage.Store,
	uploads Enqueuer,
	keys objectstore.KeyLayout,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		sessions:   sessions,
		segments:   segments,
		recordings: recordings,
		blobs:      blobs,
		uploads:    uploads,
		keys:       keys,
		replicate:  uploads != nil,
		logger:     logger.With("component", "ingest"),
	}
}

// AcceptSegment persists one uploaded segment. The segment row is durable
// before this returns; object-store replication runs in the background.
// Re-uploads of the same (session, number, group) overwrite.
func (s *IngestService) AcceptSegment(ctx context.Context, up SegmentUpload, body io.Reader) (*IngestResult, error) {
	group, number := s.resolveIdentity(up)

	session, err := s.sessions.Upsert(ctx, up.SessionID, up.SampleRate, up.Channels)
	if err != nil {
		return nil, err
	}

	if _, err := s.blobs.EnsureSessionLayout(session.SessionID); err != nil {
		return nil, err
	}

	receivedAt := models.Now()
	filename := storage.SegmentFilename(receivedAt, number, group, up.Format.Extension())
	relative := filepath.Join(session.SessionID, filename)

	localPath, size, err := s.blobs.WriteBlob(relative, body)
	if err != nil {
		return nil, fmt.Errorf("writing segment blob: %w", err)
	}
	if size == 0 {
		if rmErr := os.Remove(localPath); rmErr != nil {
			s.logger.Warn("removing empty segment blob failed", "path", localPath, "error", rmErr)
		}
		return nil, models.ErrEmptyPayload
	}

	segment := &models.Segment{
		SessionID:     session.SessionID,
		SegmentNumber: number,
		ChannelGroup:  group,
		Format:        up.Format,
		LocalPath:     localPath,
		FileSize:      size,
		ReceivedAt:    receivedAt,
	}
	if err := s.segments.Upsert(ctx, segment); err != nil {
		return nil, err
	}

	if err := s.recordings.EnsureForSession(ctx, session.SessionID, session.SessionID); err != nil {
		s.logger.Warn("ensuring recording row failed", "session_id", session.SessionID, "error", err)
	}
	if err := s.sessions.Touch(ctx, session.SessionID); err != nil {
		s.logger.Warn("touching session failed", "session_id", session.SessionID, "error", err)
	}

	if s.replicate {
		// On a re-upload the row keeps its original id; fetch it so the
		// queue records the key on the right segment.
		stored, err := s.segments.GetByIdentity(ctx, session.SessionID, number, group)
		if err != nil {
			return nil, err
		}
		s.uploads.Enqueue(&uploader.Item{
			LocalPath:   localPath,
			ObjectKey:   s.keys.Segment(session.SessionID, filename),
			ContentType: up.Format.ContentType(),
			SegmentID:   &stored.ID,
		})
	}

	s.logger.Info("segment accepted",
		"session_id", session.SessionID,
		"segment_number", number,
		"channel_group", group,
		"size", size,
		"replicating", s.replicate)

	return &IngestResult{
		SessionID:     session.SessionID,
		SegmentNumber: number,
		ChannelGroup:  group,
		Size:          size,
		LocalPath:     localPath,
		S3Queued:      s.replicate,
	}, nil
}

// resolveIdentity fills a missing channel group or segment number from the
// content-disposition filename. The group falls back to the reserved
// "unknown" label, the segment number to zero.
func (s *IngestService) resolveIdentity(up SegmentUpload) (group string, number int) {
	group = up.ChannelGroup
	number = up.SegmentNumber

	if group == "" || number < 0 {
		label, parsedNumber := channelgroup.FromFilename(up.Filename)
		if group == "" && label != "" {
			group = label
		}
		if number < 0 && parsedNumber >= 0 {
			number = parsedNumber
		}
	}
	if group == "" {
		group = models.UnknownChannelGroup
		s.logger.Warn("segment carries no channel group",
			"session_id", up.SessionID, "filename", up.Filename)
	}
	if number < 0 {
		number = 0
	}
	return group, number
}
