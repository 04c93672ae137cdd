package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/pipeline/core"
	"github.com/mixfold/mixfold/internal/repository"
	"github.com/mixfold/mixfold/internal/storage"
)

// SessionResult summarizes one session processing run. A run with at
// least one succeeded channel counts as success; FailedChannels carries
// the rest.
type SessionResult struct {
	SessionID      string `json:"session_id"`
	Channels       int    `json:"channels"`
	Succeeded      int    `json:"succeeded"`
	FailedChannels []int  `json:"failed_channels,omitempty"`
}

// ChannelRunner is the slice of ChannelProcessor the session loop
// needs.
type ChannelRunner interface {
	Process(ctx context.Context, session *models.Session, segments []*models.Segment, channel int) (*core.Result, error)
	Reprocess(ctx context.Context, session *models.Session, segments []*models.Segment, channel int) (*core.Result, error)
	Regenerate(ctx context.Context, session *models.Session, existing *models.ProcessedChannel, channel int) (*core.Result, error)
}

// SessionProcessor walks every channel of a session through the
// pipeline, sequentially to bound subprocess memory.
type SessionProcessor struct {
	sessions   repository.SessionRepository
	segments   repository.SegmentRepository
	channels   ChannelRunner
	blobs      *storage.Store
	recordings repository.RecordingRepository
	logger     *slog.Logger
}

// NewSessionProcessor wires the session loop.
func NewSessionProcessor(sessions repository.SessionRepository, segments repository.SegmentRepository, channels ChannelRunner, blobs *storage.Store, logger *slog.Logger) *SessionProcessor {
	return &SessionProcessor{
		sessions: sessions,
		segments: segments,
		channels: channels,
		blobs:    blobs,
		logger:   logger.With("component", "session-processor"),
	}
}

// WithRecordings keeps the recording row's processed channel count in
// step with processing outcomes.
func (p *SessionProcessor) WithRecordings(recordings repository.RecordingRepository) *SessionProcessor {
	p.recordings = recordings
	return p
}

// Process runs the full pipeline over every channel of the session.
// Channel failures do not stop the loop; the session ends `processed`
// when at least one channel succeeded, `failed` otherwise.
func (p *SessionProcessor) Process(ctx context.Context, sessionID string) (*SessionResult, error) {
	session, err := p.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case models.SessionStatusProcessing:
		return nil, models.ErrAlreadyProcessing
	case models.SessionStatusProcessed:
		return nil, models.ErrAlreadyProcessed
	}

	segments, err := p.segments.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		p.transition(ctx, sessionID, models.SessionStatusFailed,
			models.SessionStatusReceiving, models.SessionStatusComplete, models.SessionStatusFailed)
		return nil, models.ErrNoSegments
	}

	won, err := p.sessions.TransitionStatus(ctx, sessionID,
		[]models.SessionStatus{models.SessionStatusReceiving, models.SessionStatusComplete, models.SessionStatusFailed},
		models.SessionStatusProcessing)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, models.ErrAlreadyProcessing
	}

	logger := p.logger.With("session_id", sessionID)
	logger.Info("processing session", "channels", session.Channels, "segments", len(segments))

	result := &SessionResult{SessionID: sessionID, Channels: session.Channels}
	for channel := 1; channel <= session.Channels; channel++ {
		if _, err := p.channels.Process(ctx, session, segments, channel); err != nil {
			logger.Error("channel failed", "channel", channel, "error", err)
			result.FailedChannels = append(result.FailedChannels, channel)
			continue
		}
		result.Succeeded++
	}

	if err := p.blobs.PurgeTemp(sessionID); err != nil {
		logger.Warn("purging session work directory failed", "error", err)
	}

	final := models.SessionStatusProcessed
	if result.Succeeded == 0 {
		final = models.SessionStatusFailed
	}
	p.transition(ctx, sessionID, final, models.SessionStatusProcessing)

	if p.recordings != nil && result.Succeeded > 0 {
		if err := p.recordings.SetProcessedChannels(ctx, sessionID, result.Succeeded); err != nil {
			logger.Warn("updating recording failed", "error", err)
		}
	}

	logger.Info("session processing finished",
		"status", final, "succeeded", result.Succeeded, "failed", len(result.FailedChannels))

	if result.Succeeded == 0 {
		return result, fmt.Errorf("all %d channels failed", session.Channels)
	}
	return result, nil
}

// RegenerateFull reruns the complete pipeline for one channel of a
// processed session, or for every channel when channel is 0. Raw
// segments must still be available locally or in the object store. The
// session stays `processed` throughout.
func (p *SessionProcessor) RegenerateFull(ctx context.Context, sessionID string, channel int) (*SessionResult, error) {
	session, err := p.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusProcessed {
		return nil, models.ErrInvalidSessionState
	}

	segments, err := p.segments.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, models.ErrNoSegments
	}

	targets := make([]int, 0, session.Channels)
	if channel > 0 {
		if channel > session.Channels {
			return nil, fmt.Errorf("channel %d out of range 1..%d", channel, session.Channels)
		}
		targets = append(targets, channel)
	} else {
		for c := 1; c <= session.Channels; c++ {
			targets = append(targets, c)
		}
	}

	result := &SessionResult{SessionID: sessionID, Channels: len(targets)}
	for _, c := range targets {
		if _, err := p.channels.Reprocess(ctx, session, segments, c); err != nil {
			p.logger.Error("reprocessing channel failed",
				"session_id", sessionID, "channel", c, "error", err)
			result.FailedChannels = append(result.FailedChannels, c)
			continue
		}
		result.Succeeded++
	}

	if err := p.blobs.PurgeTemp(sessionID); err != nil {
		p.logger.Warn("purging session work directory failed", "session_id", sessionID, "error", err)
	}
	return result, nil
}

// RegenerateDerivatives reruns peaks and HLS for one channel, or for
// every processed channel when channel is 0.
func (p *SessionProcessor) RegenerateDerivatives(ctx context.Context, sessionID string, channel int, processed repository.ProcessedChannelRepository) (*SessionResult, error) {
	session, err := p.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusProcessed {
		return nil, models.ErrInvalidSessionState
	}

	var targets []*models.ProcessedChannel
	if channel > 0 {
		pc, err := processed.Get(ctx, sessionID, channel)
		if err != nil {
			return nil, err
		}
		if pc == nil {
			return nil, fmt.Errorf("channel %d of session %s was never processed", channel, sessionID)
		}
		targets = append(targets, pc)
	} else {
		targets, err = processed.ListBySession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}

	result := &SessionResult{SessionID: sessionID, Channels: len(targets)}
	for _, pc := range targets {
		if _, err := p.channels.Regenerate(ctx, session, pc, pc.ChannelNumber); err != nil {
			p.logger.Error("regenerating channel failed",
				"session_id", sessionID, "channel", pc.ChannelNumber, "error", err)
			result.FailedChannels = append(result.FailedChannels, pc.ChannelNumber)
			continue
		}
		result.Succeeded++
	}

	if err := p.blobs.PurgeTemp(sessionID); err != nil {
		p.logger.Warn("purging session work directory failed", "session_id", sessionID, "error", err)
	}
	return result, nil
}

func (p *SessionProcessor) transition(ctx context.Context, sessionID string, to models.SessionStatus, from ...models.SessionStatus) {
	if _, err := p.sessions.TransitionStatus(ctx, sessionID, from, to); err != nil {
		p.logger.Error("session status transition failed",
			"session_id", sessionID, "to", to, "error", err)
	}
}
