// Package manager owns session lifecycle: it detects idle sessions,
// queues completed ones and dispatches them to the processor one at a
// time.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mixfold/mixfold/internal/config"
	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/processor"
	"github.com/mixfold/mixfold/internal/repository"
)

// Processor is the slice of the session processor the manager drives.
type Processor interface {
	Process(ctx context.Context, sessionID string) (*processor.SessionResult, error)
}

// SessionManager holds the processing FIFO, the single "currently
// processing" flag and the inactivity sweep.
type SessionManager struct {
	sessions repository.SessionRepository
	proc     Processor
	cfg      config.SessionsConfig
	logger   *slog.Logger

	mu         sync.Mutex
	queue      []string
	queued     map[string]bool
	processing bool

	cron   *cron.Cron
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a SessionManager.
func New(sessions repository.SessionRepository, proc Processor, cfg config.SessionsConfig, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		proc:     proc,
		cfg:      cfg,
		logger:   logger.With("component", "session-manager"),
		queued:   make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
}

// Start recovers sessions stranded in `complete` by a restart, launches
// the inactivity sweep and the dispatch loop.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return fmt.Errorf("session manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	if err := m.recover(m.ctx); err != nil {
		return err
	}

	m.cron = cron.New()
	m.cron.Schedule(cron.Every(m.cfg.SweepInterval), cron.FuncJob(func() {
		m.sweep(m.ctx)
	}))
	m.cron.Start()

	m.wg.Add(1)
	go m.dispatchLoop()

	m.logger.Info("session manager started",
		"sweep_interval", m.cfg.SweepInterval,
		"ingest_timeout", m.cfg.IngestTimeout)
	return nil
}

// Stop halts the sweep and the dispatcher. An in-flight session run
// completes first.
func (m *SessionManager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.wg.Wait()
	m.logger.Info("session manager stopped")
}

// MarkComplete transitions a receiving session to complete and queues
// it. Returns false without error when the session is in any other
// state.
func (m *SessionManager) MarkComplete(ctx context.Context, sessionID string) (bool, error) {
	won, err := m.sessions.TransitionStatus(ctx, sessionID,
		[]models.SessionStatus{models.SessionStatusReceiving}, models.SessionStatusComplete)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	m.logger.Info("session marked complete", "session_id", sessionID)
	m.enqueue(sessionID, false)
	return true, nil
}

// ProcessNow forces processing of a session, completing it first when
// still receiving. Sessions already processing or processed are
// rejected.
func (m *SessionManager) ProcessNow(ctx context.Context, sessionID string) error {
	session, err := m.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	switch session.Status {
	case models.SessionStatusProcessing:
		return models.ErrAlreadyProcessing
	case models.SessionStatusProcessed:
		return models.ErrAlreadyProcessed
	case models.SessionStatusReceiving:
		if _, err := m.MarkComplete(ctx, sessionID); err != nil {
			return err
		}
		m.promote(sessionID)
		return nil
	}
	m.enqueue(sessionID, true)
	return nil
}

// QueueLength reports how many sessions await processing.
func (m *SessionManager) QueueLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Processing reports whether a session run is in flight.
func (m *SessionManager) Processing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processing
}

// recover queues sessions that were marked complete before a crash or
// restart interrupted their processing.
func (m *SessionManager) recover(ctx context.Context) error {
	stranded, err := m.sessions.ListByStatus(ctx, models.SessionStatusComplete)
	if err != nil {
		return fmt.Errorf("recovering completed sessions: %w", err)
	}
	for _, session := range stranded {
		m.enqueue(session.SessionID, false)
	}
	if len(stranded) > 0 {
		m.logger.Info("recovered completed sessions", "count", len(stranded))
	}
	return nil
}

// sweep completes receiving sessions whose last segment is older than
// the ingest timeout.
func (m *SessionManager) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.cfg.IngestTimeout)
	stale, err := m.sessions.ListStaleReceiving(ctx, cutoff)
	if err != nil {
		m.logger.Error("listing stale sessions failed", "error", err)
		return
	}

	for _, session := range stale {
		won, err := m.sessions.TransitionStatus(ctx, session.SessionID,
			[]models.SessionStatus{models.SessionStatusReceiving}, models.SessionStatusComplete)
		if err != nil {
			m.logger.Error("completing stale session failed",
				"session_id", session.SessionID, "error", err)
			continue
		}
		if !won {
			continue
		}
		m.logger.Info("session timed out, marked complete",
			"session_id", session.SessionID, "last_activity", session.UpdatedAt)
		m.enqueue(session.SessionID, false)
	}
}

// enqueue adds a session to the FIFO, at the front when urgent.
// Duplicates are dropped.
func (m *SessionManager) enqueue(sessionID string, urgent bool) {
	m.mu.Lock()
	if m.queued[sessionID] {
		m.mu.Unlock()
		return
	}
	m.queued[sessionID] = true
	if urgent {
		m.queue = append([]string{sessionID}, m.queue...)
	} else {
		m.queue = append(m.queue, sessionID)
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// promote moves an already queued session to the head.
func (m *SessionManager) promote(sessionID string) {
	m.mu.Lock()
	for i, id := range m.queue {
		if id == sessionID && i > 0 {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			m.queue = append([]string{sessionID}, m.queue...)
			break
		}
	}
	m.mu.Unlock()
}

func (m *SessionManager) dispatchLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.wake:
			m.drain()
		}
	}
}

// drain processes queued sessions one at a time until the queue is
// empty or the manager stops.
func (m *SessionManager) drain() {
	for {
		m.mu.Lock()
		if m.processing || len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		sessionID := m.queue[0]
		m.queue = m.queue[1:]
		delete(m.queued, sessionID)
		m.processing = true
		m.mu.Unlock()

		m.process(sessionID)

		m.mu.Lock()
		m.processing = false
		m.mu.Unlock()

		select {
		case <-m.ctx.Done():
			return
		default:
		}
	}
}

func (m *SessionManager) process(sessionID string) {
	logger := m.logger.With("session_id", sessionID)
	logger.Info("dispatching session for processing")

	result, err := m.proc.Process(m.ctx, sessionID)
	if err != nil {
		logger.Error("session processing failed", "error", err)
		return
	}
	logger.Info("session processing succeeded",
		"succeeded", result.Succeeded, "failed_channels", result.FailedChannels)
}
