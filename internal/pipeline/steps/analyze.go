package steps

import (
	"context"
	"fmt"

	"github.com/mixfold/mixfold/internal/pipeline/core"
)

// AnalyzeStep measures amplitude and loudness of the concatenated file.
// It always runs; downstream quiet/silent gates depend on its output.
type AnalyzeStep struct {
	deps *Deps
}

func NewAnalyzeStep(deps *Deps) *AnalyzeStep {
	return &AnalyzeStep{deps: deps}
}

func (s *AnalyzeStep) Name() string        { return "analyze-audio" }
func (s *AnalyzeStep) Description() string { return "measure amplitude and integrated loudness" }

func (s *AnalyzeStep) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	return true, ""
}

func (s *AnalyzeStep) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	if data.ConcatPath == "" {
		return nil, fmt.Errorf("no concatenated file to analyze")
	}
	analysis, err := s.deps.Toolbox.Analyze(ctx, data.ConcatPath,
		s.deps.Audio.QuietThresholdDB, s.deps.Audio.SilenceThresholdDB)
	if err != nil {
		return nil, err
	}
	return &core.Data{Analysis: analysis}, nil
}

func (s *AnalyzeStep) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}
