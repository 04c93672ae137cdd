package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixfold/mixfold/internal/models"
)

type fakeStep struct {
	name       string
	shouldRun  bool
	skipReason string
	failures   int // executions that fail before the first success
	execErr    error
	panicMsg   string
	delta      *Data

	executions int
	cleanups   int
}

func (s *fakeStep) Name() string        { return s.name }
func (s *fakeStep) Description() string { return s.name }

func (s *fakeStep) ShouldRun(ctx context.Context, sc *StepContext, data *Data) (bool, string) {
	return s.shouldRun, s.skipReason
}

func (s *fakeStep) Execute(ctx context.Context, sc *StepContext, data *Data) (*Data, error) {
	s.executions++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.execErr != nil {
		return nil, s.execErr
	}
	if s.executions <= s.failures {
		return nil, errors.New("transient failure")
	}
	return s.delta, nil
}

func (s *fakeStep) Cleanup(ctx context.Context, sc *StepContext, data *Data) error {
	s.cleanups++
	return nil
}

type runRecorderStub struct {
	mu   sync.Mutex
	runs []*models.PipelineRun
}

func (r *runRecorderStub) Create(ctx context.Context, run *models.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.ID = models.NewULID()
	r.runs = append(r.runs, run)
	return nil
}

func (r *runRecorderStub) Update(ctx context.Context, run *models.PipelineRun) error {
	return nil
}

func testRunner(steps []Step, runs RunRecorder, opts Options) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(steps, runs, opts, logger)
}

func testStepContext() *StepContext {
	return &StepContext{SessionID: "s1", ChannelNumber: 1, WorkDir: "/tmp/w", OutputDir: "/tmp/o"}
}

func TestRunner_AllStepsSucceed(t *testing.T) {
	one := &fakeStep{name: "one", shouldRun: true, delta: &Data{ConcatPath: "/tmp/c.flac"}}
	two := &fakeStep{name: "two", shouldRun: true, delta: &Data{MP3Path: "/tmp/c.mp3"}}
	runner := testRunner([]Step{one, two}, nil, Options{})

	result := runner.Run(context.Background(), testStepContext(), &Data{})
	require.True(t, result.Success)
	assert.Equal(t, "/tmp/c.flac", result.FinalData.ConcatPath)
	assert.Equal(t, "/tmp/c.mp3", result.FinalData.MP3Path)
	assert.Empty(t, result.FailedSteps)
	assert.Len(t, result.Steps, 2)
}

func TestRunner_SkipViaShouldRun(t *testing.T) {
	var skipped []string
	step := &fakeStep{name: "normalize-audio", shouldRun: false, skipReason: "channel is quiet"}
	runner := testRunner([]Step{step}, nil, Options{
		OnStepSkipped: func(name, reason string) { skipped = append(skipped, name+": "+reason) },
	})

	result := runner.Run(context.Background(), testStepContext(), &Data{})
	require.True(t, result.Success)
	assert.Equal(t, []string{"normalize-audio"}, result.SkippedSteps)
	assert.Equal(t, []string{"normalize-audio: channel is quiet"}, skipped)
	assert.Zero(t, step.executions)
	assert.Zero(t, step.cleanups)
}

func TestRunner_SkipViaExecute(t *testing.T) {
	step := &fakeStep{name: "generate-peaks", shouldRun: true, execErr: Skip("waveform tool unavailable")}
	runner := testRunner([]Step{step}, nil, Options{})

	result := runner.Run(context.Background(), testStepContext(), &Data{})
	require.True(t, result.Success)
	assert.Equal(t, []string{"generate-peaks"}, result.SkippedSteps)
	assert.Zero(t, step.cleanups)
}

func TestRunner_RetriesThenSucceeds(t *testing.T) {
	step := &fakeStep{name: "upload-mp3", shouldRun: true, failures: 2, delta: &Data{MP3URL: "https://cdn/x.mp3"}}
	recorder := &runRecorderStub{}
	runner := testRunner([]Step{step}, recorder, Options{
		MaxRetries:   2,
		RetryDelay:   time.Millisecond,
		RetryBackoff: 2.0,
		TrackInDB:    true,
	})

	result := runner.Run(context.Background(), testStepContext(), &Data{})
	require.True(t, result.Success)
	assert.Equal(t, 3, step.executions)
	assert.Equal(t, 2, result.Steps[0].Retries)
	assert.Zero(t, step.cleanups)

	// Retries mutate the same row rather than inserting new ones.
	require.Len(t, recorder.runs, 1)
	run := recorder.runs[0]
	assert.Equal(t, 2, run.RetryCount)
	assert.Equal(t, models.PipelineRunStatusCompleted, run.Status)
	assert.NotNil(t, run.CompletedAt)
	assert.NotEmpty(t, run.OutputSnapshot)
}

func TestRunner_FailureAbortsPipeline(t *testing.T) {
	var failed []string
	bad := &fakeStep{name: "concatenate", shouldRun: true, execErr: errors.New("codec mismatch")}
	never := &fakeStep{name: "encode-mp3", shouldRun: true}
	recorder := &runRecorderStub{}
	runner := testRunner([]Step{bad, never}, recorder, Options{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		TrackInDB:  true,
		OnStepError: func(name string, err error) { failed = append(failed, name) },
	})

	result := runner.Run(context.Background(), testStepContext(), &Data{})
	require.False(t, result.Success)
	assert.Equal(t, []string{"concatenate"}, result.FailedSteps)
	assert.Equal(t, []string{"concatenate"}, failed)
	assert.Equal(t, 2, bad.executions) // initial + 1 retry
	assert.Equal(t, 1, bad.cleanups)   // cleanup fires on terminal failure only
	assert.Zero(t, never.executions)

	require.Len(t, recorder.runs, 1)
	assert.Equal(t, models.PipelineRunStatusFailed, recorder.runs[0].Status)
	assert.Equal(t, "codec mismatch", recorder.runs[0].ErrorMessage)
}

func TestRunner_PanickingStepFailsLikeAnError(t *testing.T) {
	bad := &fakeStep{name: "extract-channel", shouldRun: true, panicMsg: "index out of range"}
	never := &fakeStep{name: "concatenate", shouldRun: true}
	recorder := &runRecorderStub{}
	runner := testRunner([]Step{bad, never}, recorder, Options{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		TrackInDB:  true,
	})

	result := runner.Run(context.Background(), testStepContext(), &Data{})
	require.False(t, result.Success)
	assert.Equal(t, []string{"extract-channel"}, result.FailedSteps)
	assert.Equal(t, 2, bad.executions) // a panic is retried like any failure
	assert.Equal(t, 1, bad.cleanups)
	assert.Zero(t, never.executions)

	require.Len(t, recorder.runs, 1)
	assert.Equal(t, models.PipelineRunStatusFailed, recorder.runs[0].Status)
	assert.Contains(t, recorder.runs[0].ErrorMessage, "panicked")
}

func TestRunner_RetryDelayBackoff(t *testing.T) {
	runner := testRunner(nil, nil, Options{RetryDelay: 100 * time.Millisecond, RetryBackoff: 2.0})
	assert.Equal(t, 100*time.Millisecond, runner.retryDelay(1))
	assert.Equal(t, 200*time.Millisecond, runner.retryDelay(2))
	assert.Equal(t, 400*time.Millisecond, runner.retryDelay(3))
}

func TestData_SnapshotRoundTrip(t *testing.T) {
	duration := 123.4
	data := &Data{
		ConcatPath:      "/tmp/c.flac",
		MP3Path:         "/tmp/c.mp3",
		DurationSeconds: &duration,
		SilentCleared:   true,
	}

	restored, err := DataFromSnapshot(data.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, data.ConcatPath, restored.ConcatPath)
	assert.Equal(t, data.MP3Path, restored.MP3Path)
	require.NotNil(t, restored.DurationSeconds)
	assert.InDelta(t, duration, *restored.DurationSeconds, 0.001)
	assert.True(t, restored.SilentCleared)
}

func TestData_MergeDoesNotClobber(t *testing.T) {
	data := &Data{ConcatPath: "/tmp/c.flac", MP3URL: "https://cdn/x.mp3"}
	data.Merge(&Data{PeaksPath: "/tmp/p.json"})

	assert.Equal(t, "/tmp/c.flac", data.ConcatPath)
	assert.Equal(t, "https://cdn/x.mp3", data.MP3URL)
	assert.Equal(t, "/tmp/p.json", data.PeaksPath)
}
