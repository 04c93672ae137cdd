package manager

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mixfold/mixfold/internal/config"
	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/processor"
	"github.com/mixfold/mixfold/internal/repository"
)

type processorStub struct {
	mu          sync.Mutex
	processed   []string
	inflight    int
	maxInflight int
	block       chan struct{}
}

func (p *processorStub) Process(ctx context.Context, sessionID string) (*processor.SessionResult, error) {
	p.mu.Lock()
	p.inflight++
	if p.inflight > p.maxInflight {
		p.maxInflight = p.inflight
	}
	p.mu.Unlock()

	if p.block != nil {
		<-p.block
	}

	p.mu.Lock()
	p.inflight--
	p.processed = append(p.processed, sessionID)
	p.mu.Unlock()
	return &processor.SessionResult{SessionID: sessionID, Succeeded: 1}, nil
}

func (p *processorStub) processedSessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.processed...)
}

func setupManager(t *testing.T, stub *processorStub) (*SessionManager, repository.SessionRepository, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Session{}))

	sessions := repository.NewSessionRepository(db)
	cfg := config.SessionsConfig{
		SweepInterval: time.Hour,
		IngestTimeout: 10 * time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(sessions, stub, cfg, logger), sessions, db
}

func seedSession(t *testing.T, sessions repository.SessionRepository, sessionID string, status models.SessionStatus) {
	t.Helper()
	ctx := context.Background()
	_, err := sessions.Upsert(ctx, sessionID, 48000, 18)
	require.NoError(t, err)
	if status != models.SessionStatusReceiving {
		won, err := sessions.TransitionStatus(ctx, sessionID,
			[]models.SessionStatus{models.SessionStatusReceiving}, status)
		require.NoError(t, err)
		require.True(t, won)
	}
}

func TestSessionManager_MarkCompleteQueuesAndProcesses(t *testing.T) {
	stub := &processorStub{}
	mgr, sessions, _ := setupManager(t, stub)
	seedSession(t, sessions, "session_a", models.SessionStatusReceiving)

	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	won, err := mgr.MarkComplete(context.Background(), "session_a")
	require.NoError(t, err)
	assert.True(t, won)

	require.Eventually(t, func() bool {
		return len(stub.processedSessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"session_a"}, stub.processedSessions())

	session, err := sessions.GetBySessionID(context.Background(), "session_a")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusComplete, session.Status)
	assert.NotNil(t, session.CompletedAt)
}

func TestSessionManager_MarkCompleteNoOpWhenNotReceiving(t *testing.T) {
	stub := &processorStub{}
	mgr, sessions, _ := setupManager(t, stub)
	seedSession(t, sessions, "session_done", models.SessionStatusComplete)

	won, err := mgr.MarkComplete(context.Background(), "session_done")
	require.NoError(t, err)
	assert.False(t, won)
	assert.Equal(t, 0, mgr.QueueLength())
}

func TestSessionManager_StartRecoversCompleteSessions(t *testing.T) {
	stub := &processorStub{}
	mgr, sessions, _ := setupManager(t, stub)
	seedSession(t, sessions, "stranded_1", models.SessionStatusComplete)
	seedSession(t, sessions, "stranded_2", models.SessionStatusComplete)
	seedSession(t, sessions, "still_receiving", models.SessionStatusReceiving)

	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	require.Eventually(t, func() bool {
		return len(stub.processedSessions()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"stranded_1", "stranded_2"}, stub.processedSessions())
}

func TestSessionManager_SweepCompletesStaleReceiving(t *testing.T) {
	stub := &processorStub{}
	mgr, sessions, db := setupManager(t, stub)
	seedSession(t, sessions, "stale", models.SessionStatusReceiving)
	seedSession(t, sessions, "fresh", models.SessionStatusReceiving)

	// Backdate the stale session past the ingest timeout.
	old := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.Model(&models.Session{}).
		Where("session_id = ?", "stale").
		Update("updated_at", old).Error)

	mgr.sweep(context.Background())

	stale, err := sessions.GetBySessionID(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusComplete, stale.Status)

	fresh, err := sessions.GetBySessionID(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusReceiving, fresh.Status)

	assert.Equal(t, 1, mgr.QueueLength())
}

func TestSessionManager_ProcessNowRejectsActiveStates(t *testing.T) {
	stub := &processorStub{}
	mgr, sessions, _ := setupManager(t, stub)
	seedSession(t, sessions, "busy", models.SessionStatusProcessing)
	seedSession(t, sessions, "done", models.SessionStatusProcessed)

	err := mgr.ProcessNow(context.Background(), "busy")
	assert.ErrorIs(t, err, models.ErrAlreadyProcessing)

	err = mgr.ProcessNow(context.Background(), "done")
	assert.ErrorIs(t, err, models.ErrAlreadyProcessed)

	err = mgr.ProcessNow(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestSessionManager_ProcessNowCompletesReceivingFirst(t *testing.T) {
	stub := &processorStub{}
	mgr, sessions, _ := setupManager(t, stub)
	seedSession(t, sessions, "live", models.SessionStatusReceiving)

	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	require.NoError(t, mgr.ProcessNow(context.Background(), "live"))

	require.Eventually(t, func() bool {
		return len(stub.processedSessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	session, err := sessions.GetBySessionID(context.Background(), "live")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusComplete, session.Status)
}

func TestSessionManager_ProcessesOneSessionAtATime(t *testing.T) {
	stub := &processorStub{block: make(chan struct{})}
	mgr, sessions, _ := setupManager(t, stub)
	seedSession(t, sessions, "first", models.SessionStatusReceiving)
	seedSession(t, sessions, "second", models.SessionStatusReceiving)
	seedSession(t, sessions, "third", models.SessionStatusReceiving)

	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	for _, id := range []string{"first", "second", "third"} {
		won, err := mgr.MarkComplete(context.Background(), id)
		require.NoError(t, err)
		require.True(t, won)
	}

	require.Eventually(t, mgr.Processing, 2*time.Second, 10*time.Millisecond)
	close(stub.block)

	require.Eventually(t, func() bool {
		return len(stub.processedSessions()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"first", "second", "third"}, stub.processedSessions())

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, 1, stub.maxInflight)
}

func TestSessionManager_DuplicateEnqueueDropped(t *testing.T) {
	stub := &processorStub{}
	mgr, _, _ := setupManager(t, stub)

	mgr.enqueue("dup", false)
	mgr.enqueue("dup", false)
	mgr.enqueue("other", true)

	assert.Equal(t, 2, mgr.QueueLength())
	assert.Equal(t, []string{"other", "dup"}, mgr.queue)
}
