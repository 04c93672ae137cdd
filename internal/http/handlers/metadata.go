package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/repository"
)

// MetadataHandler serves session metadata reads plus annotation and
// channel-setting writes. It sits directly on the repositories; there is
// no business logic between the API and the rows.
type MetadataHandler struct {
	sessions    repository.SessionRepository
	segments    repository.SegmentRepository
	processed   repository.ProcessedChannelRepository
	recordings  repository.RecordingRepository
	annotations repository.AnnotationRepository
	settings    repository.ChannelSettingRepository
}

// NewMetadataHandler creates a new metadata handler.
func NewMetadataHandler(
	sessions repository.SessionRepository,
	segments repository.SegmentRepository,
	processed repository.ProcessedChannelRepository,
	recordings repository.RecordingRepository,
	annotations repository.AnnotationRepository,
	settings repository.ChannelSettingRepository,
) *MetadataHandler {
	return &MetadataHandler{
		sessions:    sessions,
		segments:    segments,
		processed:   processed,
		recordings:  recordings,
		annotations: annotations,
		settings:    settings,
	}
}

// Register registers the metadata routes with the API.
func (h *MetadataHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/sessions/{sessionId}",
		Summary:     "Get session detail",
		Description: "Returns the session with its recording, segment count, and processed channels",
		Tags:        []string{"Sessions"},
	}, h.GetSession)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/sessions",
		Summary:     "List sessions",
		Description: "Returns sessions filtered by status",
		Tags:        []string{"Sessions"},
	}, h.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID: "listAnnotations",
		Method:      "GET",
		Path:        "/api/sessions/{sessionId}/annotations",
		Summary:     "List annotations",
		Tags:        []string{"Annotations"},
	}, h.ListAnnotations)

	huma.Register(api, huma.Operation{
		OperationID: "createAnnotation",
		Method:      "POST",
		Path:        "/api/sessions/{sessionId}/annotations",
		Summary:     "Create annotation",
		Tags:        []string{"Annotations"},
	}, h.CreateAnnotation)

	huma.Register(api, huma.Operation{
		OperationID: "deleteAnnotation",
		Method:      "DELETE",
		Path:        "/api/annotations/{annotationId}",
		Summary:     "Delete annotation",
		Tags:        []string{"Annotations"},
	}, h.DeleteAnnotation)

	huma.Register(api, huma.Operation{
		OperationID: "listChannelSettings",
		Method:      "GET",
		Path:        "/api/sessions/{sessionId}/channel-settings",
		Summary:     "List channel settings",
		Tags:        []string{"Channel settings"},
	}, h.ListChannelSettings)

	huma.Register(api, huma.Operation{
		OperationID: "putChannelSetting",
		Method:      "PUT",
		Path:        "/api/sessions/{sessionId}/channel-settings/{channelNumber}",
		Summary:     "Upsert channel setting",
		Description: "Creates or replaces the label, color, and mute flag of one channel",
		Tags:        []string{"Channel settings"},
	}, h.PutChannelSetting)
}

// SessionDetailInput addresses one session.
type SessionDetailInput struct {
	SessionID string `path:"sessionId" doc:"Session id"`
}

// SessionDetailOutput is the full session view.
type SessionDetailOutput struct {
	Body struct {
		Session           *models.Session            `json:"session"`
		Recording         *models.Recording          `json:"recording,omitempty"`
		SegmentCount      int64                      `json:"segmentCount"`
		ProcessedChannels []*models.ProcessedChannel `json:"processedChannels"`
	}
}

// GetSession returns the session with its recording, segment count, and
// processed channels.
func (h *MetadataHandler) GetSession(ctx context.Context, input *SessionDetailInput) (*SessionDetailOutput, error) {
	session, err := h.sessions.GetBySessionID(ctx, input.SessionID)
	if err != nil {
		return nil, sessionLookupError(input.SessionID, err)
	}

	count, err := h.segments.CountBySession(ctx, input.SessionID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count segments", err)
	}

	channels, err := h.processed.ListBySession(ctx, input.SessionID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list processed channels", err)
	}

	recording, err := h.recordings.GetBySessionID(ctx, input.SessionID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load recording", err)
	}

	out := &SessionDetailOutput{}
	out.Body.Session = session
	out.Body.Recording = recording
	out.Body.SegmentCount = count
	out.Body.ProcessedChannels = channels
	return out, nil
}

// ListSessionsInput filters sessions by status.
type ListSessionsInput struct {
	Status string `query:"status" default:"receiving" enum:"receiving,complete,processing,processed,failed" doc:"Session status"`
}

// ListSessionsOutput is a list of sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []*models.Session `json:"sessions"`
	}
}

// ListSessions returns sessions in the given status.
func (h *MetadataHandler) ListSessions(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	sessions, err := h.sessions.ListByStatus(ctx, models.SessionStatus(input.Status))
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list sessions", err)
	}
	out := &ListSessionsOutput{}
	out.Body.Sessions = sessions
	return out, nil
}

// ListAnnotationsOutput is a list of annotations.
type ListAnnotationsOutput struct {
	Body struct {
		Annotations []*models.Annotation `json:"annotations"`
	}
}

// ListAnnotations returns all annotations of a session ordered by time.
func (h *MetadataHandler) ListAnnotations(ctx context.Context, input *SessionDetailInput) (*ListAnnotationsOutput, error) {
	if _, err := h.sessions.GetBySessionID(ctx, input.SessionID); err != nil {
		return nil, sessionLookupError(input.SessionID, err)
	}

	annotations, err := h.annotations.ListBySession(ctx, input.SessionID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list annotations", err)
	}
	out := &ListAnnotationsOutput{}
	out.Body.Annotations = annotations
	return out, nil
}

// CreateAnnotationInput carries a new annotation.
type CreateAnnotationInput struct {
	SessionID string `path:"sessionId" doc:"Session id"`
	Body      struct {
		ChannelNumber *int    `json:"channelNumber,omitempty" doc:"Channel the note applies to, omit for the whole session"`
		TimeSeconds   float64 `json:"timeSeconds" minimum:"0" doc:"Offset into the recording"`
		Text          string  `json:"text" minLength:"1" maxLength:"4096"`
		Author        string  `json:"author,omitempty" maxLength:"255"`
	}
}

// AnnotationOutput wraps one annotation.
type AnnotationOutput struct {
	Body struct {
		Annotation *models.Annotation `json:"annotation"`
	}
}

// CreateAnnotation stores a new annotation on a session.
func (h *MetadataHandler) CreateAnnotation(ctx context.Context, input *CreateAnnotationInput) (*AnnotationOutput, error) {
	if _, err := h.sessions.GetBySessionID(ctx, input.SessionID); err != nil {
		return nil, sessionLookupError(input.SessionID, err)
	}

	annotation := &models.Annotation{
		SessionID:     input.SessionID,
		ChannelNumber: input.Body.ChannelNumber,
		TimeSeconds:   input.Body.TimeSeconds,
		Text:          input.Body.Text,
		Author:        input.Body.Author,
	}
	if err := h.annotations.Create(ctx, annotation); err != nil {
		return nil, huma.Error500InternalServerError("failed to create annotation", err)
	}

	out := &AnnotationOutput{}
	out.Body.Annotation = annotation
	return out, nil
}

// DeleteAnnotationInput addresses one annotation.
type DeleteAnnotationInput struct {
	AnnotationID string `path:"annotationId" doc:"Annotation ID (ULID)"`
}

// DeleteAnnotationOutput acknowledges the delete.
type DeleteAnnotationOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// DeleteAnnotation removes an annotation.
func (h *MetadataHandler) DeleteAnnotation(ctx context.Context, input *DeleteAnnotationInput) (*DeleteAnnotationOutput, error) {
	id, err := models.ParseULID(input.AnnotationID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid annotation ID format", err)
	}
	if err := h.annotations.Delete(ctx, id); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete annotation", err)
	}

	out := &DeleteAnnotationOutput{}
	out.Body.Success = true
	return out, nil
}

// ListChannelSettingsOutput is a list of channel settings.
type ListChannelSettingsOutput struct {
	Body struct {
		Settings []*models.ChannelSetting `json:"settings"`
	}
}

// ListChannelSettings returns the per-channel settings of a session.
func (h *MetadataHandler) ListChannelSettings(ctx context.Context, input *SessionDetailInput) (*ListChannelSettingsOutput, error) {
	if _, err := h.sessions.GetBySessionID(ctx, input.SessionID); err != nil {
		return nil, sessionLookupError(input.SessionID, err)
	}

	settings, err := h.settings.ListBySession(ctx, input.SessionID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list channel settings", err)
	}
	out := &ListChannelSettingsOutput{}
	out.Body.Settings = settings
	return out, nil
}

// PutChannelSettingInput carries a channel setting upsert.
type PutChannelSettingInput struct {
	SessionID     string `path:"sessionId" doc:"Session id"`
	ChannelNumber int    `path:"channelNumber" minimum:"1" doc:"Channel number, 1-based"`
	Body          struct {
		Label string `json:"label,omitempty" maxLength:"255"`
		Color string `json:"color,omitempty" maxLength:"32"`
		Muted bool   `json:"muted"`
	}
}

// ChannelSettingOutput wraps one channel setting.
type ChannelSettingOutput struct {
	Body struct {
		Setting *models.ChannelSetting `json:"setting"`
	}
}

// PutChannelSetting creates or replaces the setting for one channel.
func (h *MetadataHandler) PutChannelSetting(ctx context.Context, input *PutChannelSettingInput) (*ChannelSettingOutput, error) {
	session, err := h.sessions.GetBySessionID(ctx, input.SessionID)
	if err != nil {
		return nil, sessionLookupError(input.SessionID, err)
	}
	if input.ChannelNumber > session.Channels {
		return nil, huma.Error400BadRequest(fmt.Sprintf("channel %d out of range 1..%d", input.ChannelNumber, session.Channels))
	}

	setting := &models.ChannelSetting{
		SessionID:     input.SessionID,
		ChannelNumber: input.ChannelNumber,
		Label:         input.Body.Label,
		Color:         input.Body.Color,
		Muted:         input.Body.Muted,
	}
	if err := h.settings.Upsert(ctx, setting); err != nil {
		return nil, huma.Error500InternalServerError("failed to save channel setting", err)
	}

	out := &ChannelSettingOutput{}
	out.Body.Setting = setting
	return out, nil
}

func sessionLookupError(sessionID string, err error) error {
	if errors.Is(err, models.ErrSessionNotFound) {
		return huma.Error404NotFound(fmt.Sprintf("session %s not found", sessionID))
	}
	return huma.Error500InternalServerError("failed to load session", err)
}
