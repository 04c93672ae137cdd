// Package handlers provides HTTP API handlers for mixfold.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mixfold/mixfold/internal/config"
	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/service"
)

// StreamHandler handles segment upload requests from the capture agent.
type StreamHandler struct {
	ingest *service.IngestService
	cfg    config.IngestConfig
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(ingest *service.IngestService, cfg config.IngestConfig) *StreamHandler {
	return &StreamHandler{ingest: ingest, cfg: cfg}
}

// Register registers the stream routes with the API.
func (h *StreamHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "ingestSegment",
		Method:      "POST",
		Path:        "/stream",
		Summary:     "Upload audio segment",
		Description: "Accepts one raw audio segment and queues it for object-store replication",
		Tags:        []string{"Ingest"},
	}, h.Ingest)
}

// IngestSegmentInput is the raw segment upload. All attributes travel in
// headers; the body is the audio payload itself.
type IngestSegmentInput struct {
	SessionID          string `header:"x-session-id" doc:"Client-chosen session id"`
	SegmentNumber      string `header:"x-segment-number" doc:"Zero-based segment number"`
	SampleRate         int    `header:"x-sample-rate" doc:"Sample rate in Hz"`
	Channels           int    `header:"x-channels" doc:"Total session channel count"`
	ChannelGroup       string `header:"x-channel-group" doc:"Channel group label, e.g. ch01-06"`
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	RawBody            []byte
}

// IngestSegmentOutput is the ingest response.
type IngestSegmentOutput struct {
	Body IngestSegmentResponse
}

// IngestSegmentResponse reports where the segment landed.
type IngestSegmentResponse struct {
	Success       bool   `json:"success"`
	SessionID     string `json:"sessionId"`
	SegmentNumber int    `json:"segmentNumber"`
	ChannelGroup  string `json:"channelGroup"`
	Size          int64  `json:"size"`
	LocalPath     string `json:"localPath"`
	S3Queued      bool   `json:"s3Queued"`
}

// Ingest accepts one segment upload.
func (h *StreamHandler) Ingest(ctx context.Context, input *IngestSegmentInput) (*IngestSegmentOutput, error) {
	if len(input.RawBody) == 0 {
		return nil, huma.Error400BadRequest("empty segment payload")
	}
	if max := int64(h.cfg.MaxSegmentSize); max > 0 && int64(len(input.RawBody)) > max {
		return nil, huma.Error400BadRequest(fmt.Sprintf("segment exceeds maximum size of %d bytes", max))
	}

	up := service.SegmentUpload{
		SessionID:     input.SessionID,
		SegmentNumber: -1,
		SampleRate:    input.SampleRate,
		Channels:      input.Channels,
		ChannelGroup:  input.ChannelGroup,
		Filename:      dispositionFilename(input.ContentDisposition),
		Format:        formatFromContentType(input.ContentType),
	}
	if up.SessionID == "" {
		up.SessionID = fmt.Sprintf("session_%d", time.Now().UnixMilli())
	}
	if input.SegmentNumber != "" {
		n, err := strconv.Atoi(input.SegmentNumber)
		if err != nil || n < 0 {
			return nil, huma.Error400BadRequest(fmt.Sprintf("invalid segment number %q", input.SegmentNumber))
		}
		up.SegmentNumber = n
	}
	if up.SampleRate <= 0 {
		up.SampleRate = h.cfg.DefaultSampleRate
	}
	if up.Channels <= 0 {
		up.Channels = h.cfg.DefaultChannels
	}

	result, err := h.ingest.AcceptSegment(ctx, up, bytes.NewReader(input.RawBody))
	if err != nil {
		if errors.Is(err, models.ErrEmptyPayload) {
			return nil, huma.Error400BadRequest("empty segment payload")
		}
		return nil, huma.Error500InternalServerError("failed to persist segment", err)
	}

	return &IngestSegmentOutput{Body: IngestSegmentResponse{
		Success:       true,
		SessionID:     result.SessionID,
		SegmentNumber: result.SegmentNumber,
		ChannelGroup:  result.ChannelGroup,
		Size:          result.Size,
		LocalPath:     result.LocalPath,
		S3Queued:      result.S3Queued,
	}}, nil
}

// formatFromContentType maps the request content type onto a segment
// format. Anything that is not FLAC is treated as WAV.
func formatFromContentType(contentType string) models.SegmentFormat {
	if strings.Contains(strings.ToLower(contentType), "flac") {
		return models.SegmentFormatFLAC
	}
	return models.SegmentFormatWAV
}

// dispositionFilename extracts the filename parameter from a
// Content-Disposition header, tolerating malformed values.
func dispositionFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	// Some agents send a bare filename="..." fragment.
	if idx := strings.Index(disposition, "filename="); idx >= 0 {
		return strings.Trim(disposition[idx+len("filename="):], `"; `)
	}
	return ""
}
