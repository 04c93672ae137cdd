// Package processor drives session processing: one session at a time,
// each channel through the step pipeline, results written back to the
// metadata store.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mixfold/mixfold/internal/audio"
	"github.com/mixfold/mixfold/internal/config"
	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/pipeline/core"
	"github.com/mixfold/mixfold/internal/pipeline/steps"
	"github.com/mixfold/mixfold/internal/repository"
	"github.com/mixfold/mixfold/internal/storage"
)

// Variant selects which slice of the pipeline a channel run executes.
type Variant string

const (
	// VariantFull runs the complete pipeline from prefetch to uploads.
	VariantFull Variant = "full"
	// VariantDerivatives regenerates peaks and HLS from the existing
	// MP3 master and re-uploads them.
	VariantDerivatives Variant = "derivatives"
)

// ChannelProcessor runs the step pipeline for a single channel.
type ChannelProcessor struct {
	deps      *steps.Deps
	blobs     *storage.Store
	runs      repository.PipelineRunRepository
	processed repository.ProcessedChannelRepository
	cfg       config.PipelineConfig
	logger    *slog.Logger
}

// NewChannelProcessor wires the channel pipeline.
func NewChannelProcessor(deps *steps.Deps, blobs *storage.Store, runs repository.PipelineRunRepository, processed repository.ProcessedChannelRepository, cfg config.PipelineConfig, logger *slog.Logger) *ChannelProcessor {
	return &ChannelProcessor{
		deps:      deps,
		blobs:     blobs,
		runs:      runs,
		processed: processed,
		cfg:       cfg,
		logger:    logger.With("component", "channel-processor"),
	}
}

// Process runs the full pipeline for one channel and, on success, writes
// the ProcessedChannel row in a single upsert after uploads finish.
func (p *ChannelProcessor) Process(ctx context.Context, session *models.Session, segments []*models.Segment, channel int) (*core.Result, error) {
	return p.run(ctx, session, channel, p.fullSteps(segments, channel), &core.Data{})
}

// Reprocess reruns the full pipeline for a channel of an already
// processed session. The previous MP3 master and derivatives are removed
// first so every step rebuilds.
func (p *ChannelProcessor) Reprocess(ctx context.Context, session *models.Session, segments []*models.Segment, channel int) (*core.Result, error) {
	if err := p.removeMaster(session.SessionID, channel); err != nil {
		return nil, err
	}
	if err := p.removeDerivatives(session.SessionID, channel); err != nil {
		return nil, err
	}
	return p.run(ctx, session, channel, p.fullSteps(segments, channel), &core.Data{})
}

// Regenerate reruns the derivative slice of the pipeline for a channel
// that already has an MP3 master. Existing peaks and HLS outputs are
// removed first so the steps rebuild instead of reusing them.
func (p *ChannelProcessor) Regenerate(ctx context.Context, session *models.Session, existing *models.ProcessedChannel, channel int) (*core.Result, error) {
	if existing == nil || existing.LocalPath == "" {
		return nil, fmt.Errorf("channel %d has no processed master to regenerate from", channel)
	}

	if err := p.removeDerivatives(session.SessionID, channel); err != nil {
		return nil, err
	}

	seed := &core.Data{
		MP3Path: existing.LocalPath,
		MP3Size: existing.FileSize,
		MP3URL:  existing.S3URL,
		S3Key:   existing.S3Key,
	}
	if existing.DurationSeconds != nil {
		seed.DurationSeconds = existing.DurationSeconds
	}
	// Carry the stored flags forward so the silence gates still apply.
	seed.Analysis = analysisFromFlags(existing.IsQuiet, existing.IsSilent)

	return p.run(ctx, session, channel, p.derivativeSteps(channel), seed)
}

// ReplayStep re-executes one failed step with its stored input
// snapshot. The result is not written back to ProcessedChannel; a
// replay exists to diagnose and repair a single step's output.
func (p *ChannelProcessor) ReplayStep(ctx context.Context, session *models.Session, segments []*models.Segment, run *models.PipelineRun) (*core.Result, error) {
	channel := 0
	if run.ChannelNumber != nil {
		channel = *run.ChannelNumber
	}

	var target core.Step
	for _, step := range p.fullSteps(segments, channel) {
		if step.Name() == run.StepName {
			target = step
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("unknown pipeline step %q", run.StepName)
	}

	seed, err := core.DataFromSnapshot(run.InputSnapshot)
	if err != nil {
		return nil, fmt.Errorf("decoding input snapshot of run %s: %w", run.ID, err)
	}

	result, err := p.execute(ctx, session, channel, []core.Step{target}, seed)
	if err != nil {
		return result, err
	}
	return result, nil
}

func (p *ChannelProcessor) run(ctx context.Context, session *models.Session, channel int, stepList []core.Step, seed *core.Data) (*core.Result, error) {
	result, err := p.execute(ctx, session, channel, stepList, seed)
	if err != nil {
		return result, err
	}
	if err := p.writeProcessedChannel(ctx, session.SessionID, channel, result.FinalData); err != nil {
		return result, err
	}
	return result, nil
}

func (p *ChannelProcessor) execute(ctx context.Context, session *models.Session, channel int, stepList []core.Step, seed *core.Data) (*core.Result, error) {
	sessionDir, err := p.blobs.EnsureSessionLayout(session.SessionID)
	if err != nil {
		return nil, err
	}
	workDir := filepath.Join(sessionDir, storage.TempDir, fmt.Sprintf("channel_%02d", channel))
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return nil, fmt.Errorf("creating channel work directory: %w", err)
	}

	sc := &core.StepContext{
		SessionID:     session.SessionID,
		ChannelNumber: channel,
		WorkDir:       workDir,
		OutputDir:     sessionDir,
	}

	runner := core.NewRunner(stepList, p.runs, core.Options{
		MaxRetries:   p.cfg.MaxRetries,
		RetryDelay:   p.cfg.RetryDelay,
		RetryBackoff: p.cfg.RetryBackoff,
		TrackInDB:    p.cfg.TrackInDB,
	}, p.logger)

	result := runner.Run(ctx, sc, seed)
	if !result.Success {
		return result, fmt.Errorf("channel %d pipeline failed at %v", channel, result.FailedSteps)
	}
	return result, nil
}

// writeProcessedChannel persists the accumulated artifacts once, after
// every step including uploads has finished.
func (p *ChannelProcessor) writeProcessedChannel(ctx context.Context, sessionID string, channel int, data *core.Data) error {
	pc := &models.ProcessedChannel{
		SessionID:     sessionID,
		ChannelNumber: channel,
		LocalPath:     data.MP3Path,
		S3Key:         data.S3Key,
		S3URL:         data.MP3URL,
		HLSURL:        data.HLSURL,
		PeaksURL:      data.PeaksURL,
		FileSize:      data.MP3Size,
	}
	if data.DurationSeconds != nil {
		pc.DurationSeconds = data.DurationSeconds
	}
	// IsSilent uses the effective flag: normalization clears the silence
	// gate, and a regeneration seeded from this row must not re-apply it
	// to a channel whose derivatives were produced.
	pc.IsQuiet = data.IsQuiet()
	pc.IsSilent = data.IsSilent()
	if err := p.processed.Upsert(ctx, pc); err != nil {
		return fmt.Errorf("recording processed channel %d: %w", channel, err)
	}
	return nil
}

func (p *ChannelProcessor) fullSteps(segments []*models.Segment, channel int) []core.Step {
	return []core.Step{
		steps.NewPrefetchStep(p.deps, segments, channel),
		steps.NewExtractStep(p.deps, channel),
		steps.NewConcatenateStep(p.deps, channel),
		steps.NewAnalyzeStep(p.deps),
		steps.NewNormalizeStep(p.deps, channel),
		steps.NewEncodeMP3Step(p.deps, channel),
		steps.NewPeaksStep(p.deps, channel),
		steps.NewHLSStep(p.deps, channel),
		steps.NewUploadMP3Step(p.deps, channel),
		steps.NewUploadPeaksStep(p.deps, channel),
		steps.NewUploadHLSStep(p.deps, channel),
	}
}

func (p *ChannelProcessor) derivativeSteps(channel int) []core.Step {
	return []core.Step{
		steps.NewPeaksStep(p.deps, channel),
		steps.NewHLSStep(p.deps, channel),
		steps.NewUploadPeaksStep(p.deps, channel),
		steps.NewUploadHLSStep(p.deps, channel),
	}
}

func analysisFromFlags(quiet, silent bool) *audio.Analysis {
	return &audio.Analysis{IsQuiet: quiet, IsSilent: silent}
}

// removeDerivatives deletes a channel's local peaks and HLS outputs so
// a regeneration run rebuilds them.
func (p *ChannelProcessor) removeDerivatives(sessionID string, channel int) error {
	tag := fmt.Sprintf("channel_%02d", channel)
	patterns := []string{
		filepath.Join(sessionID, storage.PeaksDir, tag+"_peaks.json"),
		filepath.Join(sessionID, storage.HLSDir, tag+".m3u8"),
	}
	for _, rel := range patterns {
		abs, err := p.blobs.Resolve(rel)
		if err != nil {
			return err
		}
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", rel, err)
		}
	}

	hlsDir, err := p.blobs.Resolve(filepath.Join(sessionID, storage.HLSDir))
	if err != nil {
		return err
	}
	chunks, err := filepath.Glob(filepath.Join(hlsDir, tag+"_*.ts"))
	if err != nil {
		return fmt.Errorf("listing hls chunks: %w", err)
	}
	for _, chunk := range chunks {
		if err := os.Remove(chunk); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", chunk, err)
		}
	}
	return nil
}

// removeMaster deletes a channel's local MP3 so a full rerun re-encodes
// instead of reusing the old rendition.
func (p *ChannelProcessor) removeMaster(sessionID string, channel int) error {
	rel := filepath.Join(sessionID, storage.MP3Dir, storage.ChannelMP3Name(channel))
	abs, err := p.blobs.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", rel, err)
	}
	return nil
}
