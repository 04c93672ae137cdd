package handlers

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/objectstore"
	"github.com/mixfold/mixfold/internal/processor"
	"github.com/mixfold/mixfold/internal/repository"
	"github.com/mixfold/mixfold/internal/service"
	"github.com/mixfold/mixfold/internal/storage"
)

type lifecycleStub struct {
	completeResult bool
	processErr     error
}

func (l *lifecycleStub) MarkComplete(ctx context.Context, sessionID string) (bool, error) {
	return l.completeResult, nil
}

func (l *lifecycleStub) ProcessNow(ctx context.Context, sessionID string) error {
	return l.processErr
}

type regeneratorStub struct {
	lastChannel int
	lastFull    bool
}

func (r *regeneratorStub) RegenerateDerivatives(ctx context.Context, sessionID string, channel int, processed repository.ProcessedChannelRepository) (*processor.SessionResult, error) {
	r.lastChannel = channel
	r.lastFull = false
	return &processor.SessionResult{SessionID: sessionID, Channels: 1, Succeeded: 1}, nil
}

func (r *regeneratorStub) RegenerateFull(ctx context.Context, sessionID string, channel int) (*processor.SessionResult, error) {
	r.lastChannel = channel
	r.lastFull = true
	return &processor.SessionResult{SessionID: sessionID, Channels: 1, Succeeded: 1}, nil
}

func setupSessionHandler(t *testing.T) (*SessionHandler, *lifecycleStub, *regeneratorStub, repository.SessionRepository) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Session{}, &models.Segment{}, &models.ProcessedChannel{},
		&models.PipelineRun{}, &models.Annotation{}, &models.ChannelSetting{}, &models.Recording{},
	))

	blobs, err := storage.New(t.TempDir())
	require.NoError(t, err)

	sessions := repository.NewSessionRepository(db)
	lifecycle := &lifecycleStub{completeResult: true}
	regen := &regeneratorStub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := service.NewSessionService(
		sessions, repository.NewProcessedChannelRepository(db),
		lifecycle, regen, blobs, objectstore.NewMemoryStore(),
		objectstore.NewKeyLayout("segments/", "hls/", "peaks/"), logger)

	return NewSessionHandler(svc), lifecycle, regen, sessions
}

func actionInput(sessionID string, channel int) *SessionActionInput {
	input := &SessionActionInput{}
	input.Body.SessionID = sessionID
	input.Body.ChannelNumber = channel
	return input
}

func TestSessionHandler_Complete(t *testing.T) {
	handler, _, _, sessions := setupSessionHandler(t)
	_, err := sessions.Upsert(context.Background(), "rec_1", 48000, 18)
	require.NoError(t, err)

	output, err := handler.Complete(context.Background(), actionInput("rec_1", 0))
	require.NoError(t, err)
	assert.True(t, output.Body.Success)
}

func TestSessionHandler_CompleteUnknownSessionIs404(t *testing.T) {
	handler, _, _, _ := setupSessionHandler(t)

	_, err := handler.Complete(context.Background(), actionInput("missing", 0))
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.GetStatus())
}

func TestSessionHandler_CompleteWrongStateIs400(t *testing.T) {
	handler, lifecycle, _, sessions := setupSessionHandler(t)
	_, err := sessions.Upsert(context.Background(), "rec_1", 48000, 18)
	require.NoError(t, err)
	lifecycle.completeResult = false

	_, err = handler.Complete(context.Background(), actionInput("rec_1", 0))
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.GetStatus())
}

func TestSessionHandler_ProcessRejectsActiveSession(t *testing.T) {
	handler, lifecycle, _, _ := setupSessionHandler(t)
	lifecycle.processErr = models.ErrAlreadyProcessing

	_, err := handler.Process(context.Background(), actionInput("rec_1", 0))
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.GetStatus())
}

func TestSessionHandler_RegenerateVariants(t *testing.T) {
	handler, _, regen, _ := setupSessionHandler(t)
	ctx := context.Background()

	_, err := handler.Regenerate(ctx, actionInput("rec_1", 0))
	require.NoError(t, err)
	assert.False(t, regen.lastFull)
	assert.Equal(t, 0, regen.lastChannel)

	_, err = handler.RegenerateMP3(ctx, actionInput("rec_1", 0))
	require.NoError(t, err)
	assert.True(t, regen.lastFull)

	_, err = handler.RegenerateMP3Channel(ctx, actionInput("rec_1", 3))
	require.NoError(t, err)
	assert.True(t, regen.lastFull)
	assert.Equal(t, 3, regen.lastChannel)

	_, err = handler.RegeneratePeaksChannel(ctx, actionInput("rec_1", 5))
	require.NoError(t, err)
	assert.False(t, regen.lastFull)
	assert.Equal(t, 5, regen.lastChannel)
}

func TestSessionHandler_RegenerateChannelRequiresChannel(t *testing.T) {
	handler, _, _, _ := setupSessionHandler(t)

	_, err := handler.RegenerateMP3Channel(context.Background(), actionInput("rec_1", 0))
	var statusErr huma.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 400, statusErr.GetStatus())
}

func TestSessionHandler_Delete(t *testing.T) {
	handler, _, _, sessions := setupSessionHandler(t)
	_, err := sessions.Upsert(context.Background(), "rec_1", 48000, 18)
	require.NoError(t, err)

	output, err := handler.Delete(context.Background(), actionInput("rec_1", 0))
	require.NoError(t, err)
	assert.True(t, output.Body.Success)

	_, err = sessions.GetBySessionID(context.Background(), "rec_1")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}
