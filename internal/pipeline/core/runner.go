package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mixfold/mixfold/internal/models"
)

// RunRecorder persists PipelineRun rows. Satisfied by
// repository.PipelineRunRepository; nil disables tracking.
type RunRecorder interface {
	Create(ctx context.Context, run *models.PipelineRun) error
	Update(ctx context.Context, run *models.PipelineRun) error
}

// Options tunes the runner's retry and tracking behavior.
type Options struct {
	MaxRetries   int
	RetryDelay   time.Duration
	RetryBackoff float64
	TrackInDB    bool

	OnStepComplete func(step string, data *Data)
	OnStepSkipped  func(step string, reason string)
	OnStepError    func(step string, err error)
}

// StepOutcome records how one step ended.
type StepOutcome struct {
	Step       string
	Status     models.PipelineRunStatus
	SkipReason string
	Err        error
	Retries    int
	Duration   time.Duration
}

// Result is the outcome of a full pipeline run.
type Result struct {
	Success       bool
	FinalData     *Data
	Steps         []StepOutcome
	TotalDuration time.Duration
	FailedSteps   []string
	SkippedSteps  []string
}

// Runner executes steps in order, aborting on the first terminal
// failure.
type Runner struct {
	steps  []Step
	runs   RunRecorder
	opts   Options
	logger *slog.Logger
}

// NewRunner builds a Runner. runs may be nil when opts.TrackInDB is
// false.
func NewRunner(steps []Step, runs RunRecorder, opts Options, logger *slog.Logger) *Runner {
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 1
	}
	return &Runner{
		steps:  steps,
		runs:   runs,
		opts:   opts,
		logger: logger.With("component", "pipeline"),
	}
}

// Run executes every step against the shared data record. The returned
// result lists per-step outcomes even when the run aborts early.
func (r *Runner) Run(ctx context.Context, sc *StepContext, data *Data) *Result {
	if data == nil {
		data = &Data{}
	}
	result := &Result{FinalData: data}
	started := time.Now()

	logger := r.logger.With("session_id", sc.SessionID, "channel", sc.ChannelNumber)
	logger.Info("starting pipeline", "steps", len(r.steps))

	for _, step := range r.steps {
		outcome := r.runStep(ctx, logger, step, sc, data)
		result.Steps = append(result.Steps, outcome)

		switch outcome.Status {
		case models.PipelineRunStatusSkipped:
			result.SkippedSteps = append(result.SkippedSteps, step.Name())
		case models.PipelineRunStatusFailed:
			result.FailedSteps = append(result.FailedSteps, step.Name())
			result.TotalDuration = time.Since(started)
			logger.Error("pipeline aborted",
				"failed_step", step.Name(), "error", outcome.Err,
				"duration", result.TotalDuration)
			return result
		}
	}

	result.Success = true
	result.TotalDuration = time.Since(started)
	logger.Info("pipeline completed",
		"duration", result.TotalDuration,
		"skipped", len(result.SkippedSteps))
	return result
}

func (r *Runner) runStep(ctx context.Context, logger *slog.Logger, step Step, sc *StepContext, data *Data) StepOutcome {
	outcome := StepOutcome{Step: step.Name()}
	stepStart := time.Now()

	run := r.trackCreate(ctx, logger, step, sc, data)

	if ok, reason := step.ShouldRun(ctx, sc, data); !ok {
		return r.finishSkipped(ctx, logger, run, outcome, reason, stepStart)
	}

	var delta *Data
	var err error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := r.retryDelay(attempt)
			logger.Warn("retrying step",
				"step", step.Name(), "attempt", attempt,
				"max_retries", r.opts.MaxRetries, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				err = ctx.Err()
				return r.finishFailed(ctx, logger, step, sc, data, run, outcome, err, attempt-1, stepStart)
			}
			outcome.Retries = attempt
			r.trackRetry(ctx, logger, run, attempt)
		}

		r.trackRunning(ctx, logger, run)

		delta, err = executeStep(ctx, step, sc, data)
		if err == nil {
			break
		}
		if skip, ok := AsSkip(err); ok {
			return r.finishSkipped(ctx, logger, run, outcome, skip.Reason, stepStart)
		}
		if attempt >= r.opts.MaxRetries {
			return r.finishFailed(ctx, logger, step, sc, data, run, outcome, err, attempt, stepStart)
		}
	}

	data.Merge(delta)
	outcome.Status = models.PipelineRunStatusCompleted
	outcome.Duration = time.Since(stepStart)

	if run != nil {
		run.Status = models.PipelineRunStatusCompleted
		run.CompletedAt = models.TimePtr(time.Now().UTC())
		run.DurationMs = outcome.Duration.Milliseconds()
		run.OutputSnapshot = data.Snapshot()
		r.trackUpdate(ctx, logger, run)
	}

	logger.Info("step completed",
		"step", step.Name(), "duration", outcome.Duration, "retries", outcome.Retries)
	if r.opts.OnStepComplete != nil {
		r.opts.OnStepComplete(step.Name(), data)
	}
	return outcome
}

// executeStep converts a panicking Execute into a step failure so a bug
// in one step follows the normal retry and cleanup path instead of
// taking down the dispatch goroutine.
func executeStep(ctx context.Context, step Step, sc *StepContext, data *Data) (delta *Data, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			delta = nil
			err = fmt.Errorf("step %s panicked: %v", step.Name(), rec)
		}
	}()
	return step.Execute(ctx, sc, data)
}

// retryDelay computes the wait before retry attempt k (1-based).
func (r *Runner) retryDelay(attempt int) time.Duration {
	delay := float64(r.opts.RetryDelay)
	for i := 1; i < attempt; i++ {
		delay *= r.opts.RetryBackoff
	}
	return time.Duration(delay)
}

func (r *Runner) finishSkipped(ctx context.Context, logger *slog.Logger, run *models.PipelineRun, outcome StepOutcome, reason string, started time.Time) StepOutcome {
	outcome.Status = models.PipelineRunStatusSkipped
	outcome.SkipReason = reason
	outcome.Duration = time.Since(started)

	if run != nil {
		run.Status = models.PipelineRunStatusSkipped
		run.SkipReason = reason
		run.CompletedAt = models.TimePtr(time.Now().UTC())
		r.trackUpdate(ctx, logger, run)
	}

	logger.Info("step skipped", "step", outcome.Step, "reason", reason)
	if r.opts.OnStepSkipped != nil {
		r.opts.OnStepSkipped(outcome.Step, reason)
	}
	return outcome
}

func (r *Runner) finishFailed(ctx context.Context, logger *slog.Logger, step Step, sc *StepContext, data *Data, run *models.PipelineRun, outcome StepOutcome, err error, retries int, started time.Time) StepOutcome {
	outcome.Status = models.PipelineRunStatusFailed
	outcome.Err = err
	outcome.Retries = retries
	outcome.Duration = time.Since(started)

	if run != nil {
		run.Status = models.PipelineRunStatusFailed
		run.ErrorMessage = err.Error()
		run.CompletedAt = models.TimePtr(time.Now().UTC())
		run.DurationMs = outcome.Duration.Milliseconds()
		r.trackUpdate(ctx, logger, run)
	}

	if cleanupErr := step.Cleanup(ctx, sc, data); cleanupErr != nil {
		logger.Warn("step cleanup failed", "step", step.Name(), "error", cleanupErr)
	}

	if r.opts.OnStepError != nil {
		r.opts.OnStepError(step.Name(), err)
	}
	return outcome
}

func (r *Runner) trackCreate(ctx context.Context, logger *slog.Logger, step Step, sc *StepContext, data *Data) *models.PipelineRun {
	if !r.opts.TrackInDB || r.runs == nil {
		return nil
	}
	channel := sc.ChannelNumber
	run := &models.PipelineRun{
		SessionID:     sc.SessionID,
		ChannelNumber: &channel,
		StepName:      step.Name(),
		Status:        models.PipelineRunStatusPending,
		InputSnapshot: data.Snapshot(),
	}
	if err := r.runs.Create(ctx, run); err != nil {
		logger.Warn("recording pipeline run failed", "step", step.Name(), "error", err)
		return nil
	}
	return run
}

func (r *Runner) trackRunning(ctx context.Context, logger *slog.Logger, run *models.PipelineRun) {
	if run == nil {
		return
	}
	run.Status = models.PipelineRunStatusRunning
	if run.StartedAt == nil {
		run.StartedAt = models.TimePtr(time.Now().UTC())
	}
	r.trackUpdate(ctx, logger, run)
}

func (r *Runner) trackRetry(ctx context.Context, logger *slog.Logger, run *models.PipelineRun, attempt int) {
	if run == nil {
		return
	}
	run.RetryCount = attempt
	run.Status = models.PipelineRunStatusPending
	r.trackUpdate(ctx, logger, run)
}

func (r *Runner) trackUpdate(ctx context.Context, logger *slog.Logger, run *models.PipelineRun) {
	if err := r.runs.Update(ctx, run); err != nil {
		logger.Warn("updating pipeline run failed", "step", run.StepName, "error", err)
	}
}
