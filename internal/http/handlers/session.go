package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/processor"
	"github.com/mixfold/mixfold/internal/service"
)

// SessionHandler handles session lifecycle endpoints.
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "completeSession",
		Method:      "POST",
		Path:        "/session/complete",
		Summary:     "Complete session",
		Description: "Marks a receiving session complete and queues it for processing",
		Tags:        []string{"Sessions"},
	}, h.Complete)

	huma.Register(api, huma.Operation{
		OperationID: "processSession",
		Method:      "POST",
		Path:        "/session/process",
		Summary:     "Process session",
		Description: "Forces immediate processing of a session",
		Tags:        []string{"Sessions"},
	}, h.Process)

	huma.Register(api, huma.Operation{
		OperationID: "deleteSession",
		Method:      "POST",
		Path:        "/session/delete",
		Summary:     "Delete session",
		Description: "Removes the session's blobs, replicated objects, and metadata rows",
		Tags:        []string{"Sessions"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "regenerateSession",
		Method:      "POST",
		Path:        "/session/regenerate",
		Summary:     "Regenerate derivatives",
		Description: "Rebuilds peaks and HLS for every processed channel",
		Tags:        []string{"Sessions"},
	}, h.Regenerate)

	huma.Register(api, huma.Operation{
		OperationID: "regenerateSessionMP3",
		Method:      "POST",
		Path:        "/session/regenerate-mp3",
		Summary:     "Regenerate MP3 masters",
		Description: "Reruns the full pipeline for every channel of a processed session",
		Tags:        []string{"Sessions"},
	}, h.RegenerateMP3)

	huma.Register(api, huma.Operation{
		OperationID: "regenerateSessionMP3Channel",
		Method:      "POST",
		Path:        "/session/regenerate-mp3-channel",
		Summary:     "Regenerate one MP3 master",
		Description: "Reruns the full pipeline for a single channel",
		Tags:        []string{"Sessions"},
	}, h.RegenerateMP3Channel)

	huma.Register(api, huma.Operation{
		OperationID: "regenerateSessionPeaksChannel",
		Method:      "POST",
		Path:        "/session/regenerate-peaks-channel",
		Summary:     "Regenerate one channel's derivatives",
		Description: "Rebuilds peaks and HLS for a single channel",
		Tags:        []string{"Sessions"},
	}, h.RegeneratePeaksChannel)
}

// SessionActionInput addresses a session, optionally a single channel.
type SessionActionInput struct {
	Body struct {
		SessionID     string `json:"sessionId" required:"true" doc:"Session id"`
		ChannelNumber int    `json:"channelNumber,omitempty" doc:"1-based channel number, 0 = all"`
	}
}

// SessionActionOutput acknowledges the action.
type SessionActionOutput struct {
	Body struct {
		Success   bool   `json:"success"`
		SessionID string `json:"sessionId"`
		Message   string `json:"message,omitempty"`
	}
}

// RegenerateOutput reports a regeneration run's per-channel outcomes.
type RegenerateOutput struct {
	Body struct {
		Success        bool   `json:"success"`
		SessionID      string `json:"sessionId"`
		Channels       int    `json:"channels"`
		Succeeded      int    `json:"succeeded"`
		FailedChannels []int  `json:"failedChannels,omitempty"`
	}
}

// Complete marks a session complete.
func (h *SessionHandler) Complete(ctx context.Context, input *SessionActionInput) (*SessionActionOutput, error) {
	if err := h.sessions.Complete(ctx, input.Body.SessionID); err != nil {
		return nil, sessionError(input.Body.SessionID, err)
	}
	return ack(input.Body.SessionID, "session queued for processing"), nil
}

// Process forces processing of a session.
func (h *SessionHandler) Process(ctx context.Context, input *SessionActionInput) (*SessionActionOutput, error) {
	if err := h.sessions.Process(ctx, input.Body.SessionID); err != nil {
		return nil, sessionError(input.Body.SessionID, err)
	}
	return ack(input.Body.SessionID, "processing started"), nil
}

// Delete cascades a session delete across blobs, objects, and rows.
func (h *SessionHandler) Delete(ctx context.Context, input *SessionActionInput) (*SessionActionOutput, error) {
	if err := h.sessions.Delete(ctx, input.Body.SessionID); err != nil {
		return nil, sessionError(input.Body.SessionID, err)
	}
	return ack(input.Body.SessionID, "session deleted"), nil
}

// Regenerate rebuilds derivatives for all channels.
func (h *SessionHandler) Regenerate(ctx context.Context, input *SessionActionInput) (*RegenerateOutput, error) {
	result, err := h.sessions.RegenerateDerivatives(ctx, input.Body.SessionID, 0)
	if err != nil {
		return nil, sessionError(input.Body.SessionID, err)
	}
	return regenerated(result), nil
}

// RegenerateMP3 reruns the full pipeline for all channels.
func (h *SessionHandler) RegenerateMP3(ctx context.Context, input *SessionActionInput) (*RegenerateOutput, error) {
	result, err := h.sessions.RegenerateFull(ctx, input.Body.SessionID, 0)
	if err != nil {
		return nil, sessionError(input.Body.SessionID, err)
	}
	return regenerated(result), nil
}

// RegenerateMP3Channel reruns the full pipeline for one channel.
func (h *SessionHandler) RegenerateMP3Channel(ctx context.Context, input *SessionActionInput) (*RegenerateOutput, error) {
	if input.Body.ChannelNumber < 1 {
		return nil, huma.Error400BadRequest("channelNumber is required")
	}
	result, err := h.sessions.RegenerateFull(ctx, input.Body.SessionID, input.Body.ChannelNumber)
	if err != nil {
		return nil, sessionError(input.Body.SessionID, err)
	}
	return regenerated(result), nil
}

// RegeneratePeaksChannel rebuilds derivatives for one channel.
func (h *SessionHandler) RegeneratePeaksChannel(ctx context.Context, input *SessionActionInput) (*RegenerateOutput, error) {
	if input.Body.ChannelNumber < 1 {
		return nil, huma.Error400BadRequest("channelNumber is required")
	}
	result, err := h.sessions.RegenerateDerivatives(ctx, input.Body.SessionID, input.Body.ChannelNumber)
	if err != nil {
		return nil, sessionError(input.Body.SessionID, err)
	}
	return regenerated(result), nil
}

func ack(sessionID, message string) *SessionActionOutput {
	out := &SessionActionOutput{}
	out.Body.Success = true
	out.Body.SessionID = sessionID
	out.Body.Message = message
	return out
}

func regenerated(result *processor.SessionResult) *RegenerateOutput {
	out := &RegenerateOutput{}
	out.Body.Success = true
	out.Body.SessionID = result.SessionID
	out.Body.Channels = result.Channels
	out.Body.Succeeded = result.Succeeded
	out.Body.FailedChannels = result.FailedChannels
	return out
}

// sessionError maps service errors onto HTTP statuses: unknown sessions
// are 404, invalid lifecycle states 400, everything else 500.
func sessionError(sessionID string, err error) error {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		return huma.Error404NotFound(fmt.Sprintf("session %s not found", sessionID))
	case errors.Is(err, models.ErrInvalidSessionState),
		errors.Is(err, models.ErrAlreadyProcessing),
		errors.Is(err, models.ErrAlreadyProcessed),
		errors.Is(err, models.ErrNoSegments):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError("session operation failed", err)
	}
}
