package handlers

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/repository"
)

func setupMetadataHandler(t *testing.T) (*MetadataHandler, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Session{}, &models.Segment{}, &models.ProcessedChannel{},
		&models.Annotation{}, &models.ChannelSetting{}, &models.Recording{},
	))

	handler := NewMetadataHandler(
		repository.NewSessionRepository(db),
		repository.NewSegmentRepository(db),
		repository.NewProcessedChannelRepository(db),
		repository.NewRecordingRepository(db),
		repository.NewAnnotationRepository(db),
		repository.NewChannelSettingRepository(db),
	)
	return handler, db
}

func seedMetadataSession(t *testing.T, db *gorm.DB, sessionID string) {
	t.Helper()
	sessions := repository.NewSessionRepository(db)
	_, err := sessions.Upsert(context.Background(), sessionID, 48000, 6)
	require.NoError(t, err)
}

func TestMetadataHandler_GetSession(t *testing.T) {
	handler, db := setupMetadataHandler(t)
	ctx := context.Background()
	seedMetadataSession(t, db, "rec_1")

	require.NoError(t, repository.NewRecordingRepository(db).EnsureForSession(ctx, "rec_1", "rec_1"))
	segments := repository.NewSegmentRepository(db)
	require.NoError(t, segments.Upsert(ctx, &models.Segment{
		SessionID: "rec_1", SegmentNumber: 1, ChannelGroup: "ch01-06",
		LocalPath: "rec_1/a.flac", Format: models.SegmentFormatFLAC, ReceivedAt: models.Now(),
	}))
	require.NoError(t, repository.NewProcessedChannelRepository(db).Upsert(ctx, &models.ProcessedChannel{
		SessionID: "rec_1", ChannelNumber: 2, LocalPath: "rec_1/mp3/channel_02.mp3",
	}))

	out, err := handler.GetSession(ctx, &SessionDetailInput{SessionID: "rec_1"})
	require.NoError(t, err)
	assert.Equal(t, "rec_1", out.Body.Session.SessionID)
	assert.Equal(t, int64(1), out.Body.SegmentCount)
	require.Len(t, out.Body.ProcessedChannels, 1)
	assert.Equal(t, 2, out.Body.ProcessedChannels[0].ChannelNumber)
	require.NotNil(t, out.Body.Recording)
	assert.Equal(t, "rec_1", out.Body.Recording.Title)
}

func TestMetadataHandler_GetSessionUnknownIs404(t *testing.T) {
	handler, _ := setupMetadataHandler(t)

	_, err := handler.GetSession(context.Background(), &SessionDetailInput{SessionID: "nope"})
	require.Error(t, err)
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.GetStatus())
}

func TestMetadataHandler_ListSessions(t *testing.T) {
	handler, db := setupMetadataHandler(t)
	ctx := context.Background()
	seedMetadataSession(t, db, "rec_a")
	seedMetadataSession(t, db, "rec_b")

	out, err := handler.ListSessions(ctx, &ListSessionsInput{Status: "receiving"})
	require.NoError(t, err)
	assert.Len(t, out.Body.Sessions, 2)

	out, err = handler.ListSessions(ctx, &ListSessionsInput{Status: "processed"})
	require.NoError(t, err)
	assert.Empty(t, out.Body.Sessions)
}

func TestMetadataHandler_AnnotationLifecycle(t *testing.T) {
	handler, db := setupMetadataHandler(t)
	ctx := context.Background()
	seedMetadataSession(t, db, "rec_1")

	channel := 3
	input := &CreateAnnotationInput{SessionID: "rec_1"}
	input.Body.ChannelNumber = &channel
	input.Body.TimeSeconds = 42.5
	input.Body.Text = "talkback bleed on channel 3"
	input.Body.Author = "foh"

	created, err := handler.CreateAnnotation(ctx, input)
	require.NoError(t, err)
	assert.False(t, created.Body.Annotation.ID.IsZero())

	list, err := handler.ListAnnotations(ctx, &SessionDetailInput{SessionID: "rec_1"})
	require.NoError(t, err)
	require.Len(t, list.Body.Annotations, 1)
	assert.Equal(t, "talkback bleed on channel 3", list.Body.Annotations[0].Text)
	require.NotNil(t, list.Body.Annotations[0].ChannelNumber)
	assert.Equal(t, 3, *list.Body.Annotations[0].ChannelNumber)

	deleted, err := handler.DeleteAnnotation(ctx, &DeleteAnnotationInput{
		AnnotationID: created.Body.Annotation.ID.String(),
	})
	require.NoError(t, err)
	assert.True(t, deleted.Body.Success)

	list, err = handler.ListAnnotations(ctx, &SessionDetailInput{SessionID: "rec_1"})
	require.NoError(t, err)
	assert.Empty(t, list.Body.Annotations)
}

func TestMetadataHandler_CreateAnnotationUnknownSession(t *testing.T) {
	handler, _ := setupMetadataHandler(t)

	input := &CreateAnnotationInput{SessionID: "nope"}
	input.Body.Text = "lost note"

	_, err := handler.CreateAnnotation(context.Background(), input)
	require.Error(t, err)
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.GetStatus())
}

func TestMetadataHandler_DeleteAnnotationBadID(t *testing.T) {
	handler, _ := setupMetadataHandler(t)

	_, err := handler.DeleteAnnotation(context.Background(), &DeleteAnnotationInput{AnnotationID: "not-a-ulid"})
	require.Error(t, err)
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.GetStatus())
}

func TestMetadataHandler_ChannelSettingUpsert(t *testing.T) {
	handler, db := setupMetadataHandler(t)
	ctx := context.Background()
	seedMetadataSession(t, db, "rec_1")

	input := &PutChannelSettingInput{SessionID: "rec_1", ChannelNumber: 2}
	input.Body.Label = "Vocals"
	input.Body.Color = "#ff0000"

	out, err := handler.PutChannelSetting(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "Vocals", out.Body.Setting.Label)

	// Replacing the same channel keeps a single row.
	input.Body.Label = "Lead vocals"
	input.Body.Muted = true
	_, err = handler.PutChannelSetting(ctx, input)
	require.NoError(t, err)

	list, err := handler.ListChannelSettings(ctx, &SessionDetailInput{SessionID: "rec_1"})
	require.NoError(t, err)
	require.Len(t, list.Body.Settings, 1)
	assert.Equal(t, "Lead vocals", list.Body.Settings[0].Label)
	assert.True(t, list.Body.Settings[0].Muted)
}

func TestMetadataHandler_ChannelSettingOutOfRange(t *testing.T) {
	handler, db := setupMetadataHandler(t)
	seedMetadataSession(t, db, "rec_1")

	input := &PutChannelSettingInput{SessionID: "rec_1", ChannelNumber: 7}
	input.Body.Label = "Ghost"

	_, err := handler.PutChannelSetting(context.Background(), input)
	require.Error(t, err)
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.GetStatus())
}
