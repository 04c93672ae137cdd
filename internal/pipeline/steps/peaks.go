package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mixfold/mixfold/internal/audio"
	"github.com/mixfold/mixfold/internal/pipeline/core"
)

// PeaksStep renders the waveform samples JSON and normalizes its
// amplitudes into [-1, 1] for direct rendering by a player.
type PeaksStep struct {
	deps    *Deps
	channel int
}

func NewPeaksStep(deps *Deps, channel int) *PeaksStep {
	return &PeaksStep{deps: deps, channel: channel}
}

func (s *PeaksStep) Name() string        { return "generate-peaks" }
func (s *PeaksStep) Description() string { return "render normalized waveform peaks JSON" }

func (s *PeaksStep) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	if !s.deps.Toolbox.HasWaveformTool() {
		return false, "waveform tool unavailable"
	}
	if data.IsSilent() {
		return false, "channel is silent"
	}
	return true, ""
}

func (s *PeaksStep) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	// Regeneration runs after the lossless intermediates are purged;
	// fall back to the MP3 master in that case.
	input := data.SourcePath()
	if input == "" {
		input = data.MP3Path
	}
	if input == "" {
		return nil, fmt.Errorf("no audio rendition for peaks")
	}

	output := peaksOutputPath(sc.OutputDir, s.channel)
	if fileNonEmpty(output) {
		return &core.Data{PeaksPath: output}, nil
	}
	if err := ensureDir(filepath.Dir(output)); err != nil {
		return nil, err
	}

	if err := s.deps.Toolbox.GeneratePeaks(ctx, input, output,
		s.deps.Audio.PeaksPixelsPerSecond, s.deps.Audio.PeaksBits); err != nil {
		return nil, err
	}

	if err := s.normalizeFile(sc, output); err != nil {
		return nil, err
	}
	return &core.Data{PeaksPath: output}, nil
}

// normalizeFile rewrites the peaks JSON with amplitudes in [-1, 1]. An
// all-zero waveform is left as generated.
func (s *PeaksStep) normalizeFile(sc *core.StepContext, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading peaks JSON: %w", err)
	}
	waveform, err := audio.ParseWaveform(raw)
	if err != nil {
		return err
	}

	if !waveform.Normalize() {
		s.deps.Logger.Info("peaks contain only zero samples, keeping as-is",
			"session_id", sc.SessionID, "channel", s.channel)
		return nil
	}

	encoded, err := waveform.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, encoded, 0640); err != nil {
		return fmt.Errorf("writing normalized peaks: %w", err)
	}
	return nil
}

func (s *PeaksStep) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}
