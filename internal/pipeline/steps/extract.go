package steps

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mixfold/mixfold/internal/pipeline/core"
)

// ExtractStep pulls the channel out of each multi-channel segment file
// as a mono lossless intermediate in the work directory.
type ExtractStep struct {
	deps    *Deps
	channel int
}

func NewExtractStep(deps *Deps, channel int) *ExtractStep {
	return &ExtractStep{deps: deps, channel: channel}
}

func (s *ExtractStep) Name() string        { return "extract-channel" }
func (s *ExtractStep) Description() string { return "extract mono channel from segment files" }

func (s *ExtractStep) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	return true, ""
}

func (s *ExtractStep) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	if len(data.Segments) == 0 {
		return nil, fmt.Errorf("no segment files to extract from")
	}
	if err := ensureDir(sc.WorkDir); err != nil {
		return nil, err
	}

	monoPaths := make([]string, 0, len(data.Segments))
	for _, seg := range data.Segments {
		output := filepath.Join(sc.WorkDir,
			fmt.Sprintf("%s_seg%05d_mono.flac", channelTag(s.channel), seg.SegmentNumber))
		if !fileNonEmpty(output) {
			if err := s.deps.Toolbox.Extract(ctx, seg.LocalPath, seg.ChannelIndex, output); err != nil {
				return nil, fmt.Errorf("extracting channel %d from segment %d: %w", s.channel, seg.SegmentNumber, err)
			}
		}
		monoPaths = append(monoPaths, output)
	}
	return &core.Data{MonoPaths: monoPaths}, nil
}

func (s *ExtractStep) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}
