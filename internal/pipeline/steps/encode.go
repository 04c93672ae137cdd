package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mixfold/mixfold/internal/audio"
	"github.com/mixfold/mixfold/internal/pipeline/core"
)

// EncodeMP3Step produces the lossy per-channel master. Quiet channels
// get a lower VBR quality since nobody scrubs through room tone at
// high fidelity.
type EncodeMP3Step struct {
	deps    *Deps
	channel int
}

func NewEncodeMP3Step(deps *Deps, channel int) *EncodeMP3Step {
	return &EncodeMP3Step{deps: deps, channel: channel}
}

func (s *EncodeMP3Step) Name() string        { return "encode-mp3" }
func (s *EncodeMP3Step) Description() string { return "encode the channel master MP3" }

func (s *EncodeMP3Step) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	return true, ""
}

func (s *EncodeMP3Step) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	input := data.SourcePath()
	if input == "" {
		return nil, fmt.Errorf("no lossless rendition to encode")
	}

	output := mp3OutputPath(sc.OutputDir, s.channel)
	if err := ensureDir(filepath.Dir(output)); err != nil {
		return nil, err
	}

	if !fileNonEmpty(output) {
		quality := s.deps.Audio.VBRQuality
		if data.IsQuiet() {
			quality = s.deps.Audio.QuietVBRQuality
		}
		err := s.deps.Toolbox.EncodeMP3(ctx, input, output, audio.EncodeMP3Options{
			UseVBR:     s.deps.Audio.UseVBR,
			VBRQuality: quality,
			Bitrate:    s.deps.Audio.MP3Bitrate,
		})
		if err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(output)
	if err != nil {
		return nil, fmt.Errorf("stat encoded mp3: %w", err)
	}
	seconds, err := s.deps.Toolbox.Duration(ctx, output)
	if err != nil {
		return nil, err
	}

	return &core.Data{
		MP3Path:         output,
		MP3Size:         info.Size(),
		DurationSeconds: &seconds,
	}, nil
}

func (s *EncodeMP3Step) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}
