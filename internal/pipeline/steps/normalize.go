package steps

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mixfold/mixfold/internal/audio"
	"github.com/mixfold/mixfold/internal/pipeline/core"
)

// NormalizeStep raises the channel to the target integrated loudness.
// Large corrections use linear gain with a true-peak limiter because
// loudnorm's dynamic mode pumps badly at high gains; moderate ones use
// two-pass loudnorm with the measured stats from the analyze step.
type NormalizeStep struct {
	deps    *Deps
	channel int
}

func NewNormalizeStep(deps *Deps, channel int) *NormalizeStep {
	return &NormalizeStep{deps: deps, channel: channel}
}

func (s *NormalizeStep) Name() string        { return "normalize-audio" }
func (s *NormalizeStep) Description() string { return "normalize loudness to the configured target" }

func (s *NormalizeStep) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	if !s.deps.Audio.NormalizeEnabled {
		return false, "normalization disabled"
	}
	if data.IsQuiet() {
		return false, "channel is quiet"
	}
	if data.Analysis == nil {
		return false, "no analysis available"
	}
	gain := s.requiredGain(data)
	if gain < s.deps.Audio.MinGainLU {
		return false, fmt.Sprintf("required gain %.2f LU below minimum", gain)
	}
	return true, ""
}

func (s *NormalizeStep) requiredGain(data *core.Data) float64 {
	return s.deps.Audio.TargetLUFS - data.Analysis.IntegratedLoudnessLUFS
}

func (s *NormalizeStep) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	output := filepath.Join(sc.WorkDir, channelTag(s.channel)+"_normalized.flac")
	gain := s.requiredGain(data)

	delta := &core.Data{NormalizedPath: output, SilentCleared: true}
	if fileNonEmpty(output) {
		return delta, nil
	}

	if gain > s.deps.Audio.HighGainThresholdDB {
		if err := s.deps.Toolbox.GainNormalize(ctx, data.ConcatPath, output,
			gain, s.deps.Audio.TargetTruePeakDB); err != nil {
			return nil, err
		}
		return delta, nil
	}

	result, err := s.deps.Toolbox.LoudnessNormalize(ctx, data.ConcatPath, output,
		audio.LoudnessNormalizeParams{
			TargetLUFS:       s.deps.Audio.TargetLUFS,
			TargetTruePeakDB: s.deps.Audio.TargetTruePeakDB,
			TargetLRA:        s.deps.Audio.TargetLRA,
			MeasuredI:        data.Analysis.IntegratedLoudnessLUFS,
			MeasuredTP:       data.Analysis.TruePeakDBTP,
			MeasuredLRA:      data.Analysis.LoudnessRangeLU,
		})
	if err != nil {
		return nil, err
	}
	delta.Normalization = result
	return delta, nil
}

func (s *NormalizeStep) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}
