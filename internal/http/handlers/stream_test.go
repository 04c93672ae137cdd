package handlers

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mixfold/mixfold/internal/config"
	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/objectstore"
	"github.com/mixfold/mixfold/internal/repository"
	"github.com/mixfold/mixfold/internal/service"
	"github.com/mixfold/mixfold/internal/storage"
)

func setupStreamHandler(t *testing.T) (*StreamHandler, repository.SegmentRepository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Session{}, &models.Segment{}, &models.Recording{}))

	blobs, err := storage.New(t.TempDir())
	require.NoError(t, err)

	segments := repository.NewSegmentRepository(db)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ingest := service.NewIngestService(
		repository.NewSessionRepository(db), segments,
		repository.NewRecordingRepository(db), blobs, nil,
		objectstore.NewKeyLayout("segments/", "hls/", "peaks/"), logger)

	cfg := config.IngestConfig{
		DefaultSampleRate: 48000,
		DefaultChannels:   18,
		GroupSize:         6,
		MaxSegmentSize:    1 << 20,
	}
	return NewStreamHandler(ingest, cfg), segments
}

func TestStreamHandler_Ingest(t *testing.T) {
	handler, segments := setupStreamHandler(t)

	output, err := handler.Ingest(context.Background(), &IngestSegmentInput{
		SessionID:     "rec_1",
		SegmentNumber: "4",
		SampleRate:    44100,
		Channels:      12,
		ChannelGroup:  "ch07-12",
		ContentType:   "audio/flac",
		RawBody:       []byte("flacdata"),
	})
	require.NoError(t, err)

	assert.True(t, output.Body.Success)
	assert.Equal(t, "rec_1", output.Body.SessionID)
	assert.Equal(t, 4, output.Body.SegmentNumber)
	assert.Equal(t, "ch07-12", output.Body.ChannelGroup)
	assert.Equal(t, int64(8), output.Body.Size)
	assert.False(t, output.Body.S3Queued)

	stored, err := segments.GetByIdentity(context.Background(), "rec_1", 4, "ch07-12")
	require.NoError(t, err)
	assert.Equal(t, models.SegmentFormatFLAC, stored.Format)
}

func TestStreamHandler_EmptyBody(t *testing.T) {
	handler, _ := setupStreamHandler(t)

	_, err := handler.Ingest(context.Background(), &IngestSegmentInput{
		SessionID: "rec_1",
		RawBody:   nil,
	})
	require.Error(t, err)
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.GetStatus())
}

func TestStreamHandler_DefaultsApplied(t *testing.T) {
	handler, _ := setupStreamHandler(t)

	output, err := handler.Ingest(context.Background(), &IngestSegmentInput{
		ContentType:        "audio/wav",
		ContentDisposition: `attachment; filename="take_seg00002_ch01-06.wav"`,
		RawBody:            []byte("wavdata"),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(output.Body.SessionID, "session_"))
	assert.Equal(t, 2, output.Body.SegmentNumber)
	assert.Equal(t, "ch01-06", output.Body.ChannelGroup)
}

func TestStreamHandler_OversizedBody(t *testing.T) {
	handler, _ := setupStreamHandler(t)
	handler.cfg.MaxSegmentSize = 4

	_, err := handler.Ingest(context.Background(), &IngestSegmentInput{
		SessionID: "rec_1",
		RawBody:   []byte("toolarge"),
	})
	require.Error(t, err)
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.GetStatus())
}

func TestFormatFromContentType(t *testing.T) {
	assert.Equal(t, models.SegmentFormatFLAC, formatFromContentType("audio/flac"))
	assert.Equal(t, models.SegmentFormatFLAC, formatFromContentType("audio/x-FLAC"))
	assert.Equal(t, models.SegmentFormatWAV, formatFromContentType("audio/wav"))
	assert.Equal(t, models.SegmentFormatWAV, formatFromContentType(""))
}

func TestDispositionFilename(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		want        string
	}{
		{"standard", `attachment; filename="a_seg00001_ch01-06.flac"`, "a_seg00001_ch01-06.flac"},
		{"unquoted", `attachment; filename=a.flac`, "a.flac"},
		{"bare fragment", `filename="b.wav"`, "b.wav"},
		{"empty", "", ""},
		{"no filename", "attachment", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dispositionFilename(tt.disposition))
		})
	}
}
