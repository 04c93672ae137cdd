package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/objectstore"
	"github.com/mixfold/mixfold/internal/processor"
	"github.com/mixfold/mixfold/internal/repository"
	"github.com/mixfold/mixfold/internal/storage"
)

// Lifecycle is the slice of the session manager the control surface uses.
type Lifecycle interface {
	MarkComplete(ctx context.Context, sessionID string) (bool, error)
	ProcessNow(ctx context.Context, sessionID string) error
}

// Regenerator reruns pipeline slices for already processed sessions.
type Regenerator interface {
	RegenerateDerivatives(ctx context.Context, sessionID string, channel int, processed repository.ProcessedChannelRepository) (*processor.SessionResult, error)
	RegenerateFull(ctx context.Context, sessionID string, channel int) (*processor.SessionResult, error)
}

// SessionService implements the session control operations: complete,
// process, regenerate, and cascade delete.
type SessionService struct {
	sessions  repository.SessionRepository
	processed repository.ProcessedChannelRepository
	lifecycle Lifecycle
	regen     Regenerator
	blobs     *storage.Store
	objects   objectstore.Store
	keys      objectstore.KeyLayout
	logger    *slog.Logger
}

// NewSessionService wires the session control surface. A nil object store
// skips remote cleanup on delete.
func NewSessionService(
	sessions repository.SessionRepository,
	processed repository.ProcessedChannelRepository,
	lifecycle Lifecycle,
	regen Regenerator,
	blobs *storage.Store,
	objects objectstore.Store,
	keys objectstore.KeyLayout,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		sessions:  sessions,
		processed: processed,
		lifecycle: lifecycle,
		regen:     regen,
		blobs:     blobs,
		objects:   objects,
		keys:      keys,
		logger:    logger.With("component", "session-service"),
	}
}

// Complete marks a receiving session complete and queues it for
// processing. Returns models.ErrInvalidSessionState when the session is
// past receiving.
func (s *SessionService) Complete(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.GetBySessionID(ctx, sessionID); err != nil {
		return err
	}
	won, err := s.lifecycle.MarkComplete(ctx, sessionID)
	if err != nil {
		return err
	}
	if !won {
		return fmt.Errorf("completing session %s: %w", sessionID, models.ErrInvalidSessionState)
	}
	return nil
}

// Process forces processing of a session, completing it first when still
// receiving.
func (s *SessionService) Process(ctx context.Context, sessionID string) error {
	return s.lifecycle.ProcessNow(ctx, sessionID)
}

// RegenerateDerivatives rebuilds peaks and HLS for one channel, or for
// every processed channel when channel is zero.
func (s *SessionService) RegenerateDerivatives(ctx context.Context, sessionID string, channel int) (*processor.SessionResult, error) {
	return s.regen.RegenerateDerivatives(ctx, sessionID, channel, s.processed)
}

// RegenerateFull reruns the complete pipeline for one channel, or for
// every channel when channel is zero. The previous MP3 masters are
// discarded.
func (s *SessionService) RegenerateFull(ctx context.Context, sessionID string, channel int) (*processor.SessionResult, error) {
	return s.regen.RegenerateFull(ctx, sessionID, channel)
}

// Delete removes a session everywhere: local blobs, the three object-store
// prefixes, and all metadata rows in dependency order.
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.GetBySessionID(ctx, sessionID); err != nil {
		return err
	}

	removed := 0
	if s.objects != nil {
		for _, prefix := range s.keys.SessionPrefixes(sessionID) {
			n, err := s.objects.DeletePrefix(ctx, prefix)
			if err != nil {
				return fmt.Errorf("deleting object-store prefix %s: %w", prefix, err)
			}
			removed += n
		}
	}

	if err := s.blobs.PurgeSession(sessionID); err != nil {
		return fmt.Errorf("purging session blobs: %w", err)
	}

	if err := s.sessions.DeleteCascade(ctx, sessionID); err != nil {
		return err
	}

	s.logger.Info("session deleted",
		"session_id", sessionID, "objects_removed", removed)
	return nil
}
