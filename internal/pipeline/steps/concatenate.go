package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mixfold/mixfold/internal/audio"
	"github.com/mixfold/mixfold/internal/pipeline/core"
)

// ConcatenateStep joins the mono intermediates into a single lossless
// file in segment-number order.
type ConcatenateStep struct {
	deps    *Deps
	channel int
}

func NewConcatenateStep(deps *Deps, channel int) *ConcatenateStep {
	return &ConcatenateStep{deps: deps, channel: channel}
}

func (s *ConcatenateStep) Name() string        { return "concatenate" }
func (s *ConcatenateStep) Description() string { return "join mono intermediates into one file" }

func (s *ConcatenateStep) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	return true, ""
}

func (s *ConcatenateStep) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	if len(data.MonoPaths) == 0 {
		return nil, fmt.Errorf("no mono intermediates to concatenate")
	}

	output := filepath.Join(sc.WorkDir, channelTag(s.channel)+"_full.flac")
	if fileNonEmpty(output) {
		return &core.Data{ConcatPath: output}, nil
	}

	listPath := filepath.Join(sc.WorkDir, channelTag(s.channel)+"_concat.txt")
	if err := os.WriteFile(listPath, []byte(audio.WriteConcatList(data.MonoPaths)), 0640); err != nil {
		return nil, fmt.Errorf("writing concat list: %w", err)
	}

	if err := s.deps.Toolbox.Concatenate(ctx, listPath, output, "flac"); err != nil {
		return nil, err
	}
	return &core.Data{ConcatPath: output}, nil
}

func (s *ConcatenateStep) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}
