package steps

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/mixfold/mixfold/internal/pipeline/core"
)

// HLSStep segments the MP3 master into fixed-duration AAC chunks with a
// VOD playlist.
type HLSStep struct {
	deps    *Deps
	channel int
}

func NewHLSStep(deps *Deps, channel int) *HLSStep {
	return &HLSStep{deps: deps, channel: channel}
}

func (s *HLSStep) Name() string        { return "generate-hls" }
func (s *HLSStep) Description() string { return "segment the channel into an HLS rendition" }

func (s *HLSStep) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	if data.IsSilent() {
		return false, "channel is silent"
	}
	return true, ""
}

func (s *HLSStep) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	if data.MP3Path == "" {
		return nil, fmt.Errorf("no mp3 master for hls")
	}

	playlist := hlsPlaylistPath(sc.OutputDir, s.channel)
	hlsDir := filepath.Dir(playlist)
	if err := ensureDir(hlsDir); err != nil {
		return nil, err
	}

	if !fileNonEmpty(playlist) {
		pattern := filepath.Join(hlsDir, channelTag(s.channel)+"_%03d.ts")
		if err := s.deps.Toolbox.GenerateHLS(ctx, data.MP3Path, playlist, pattern,
			s.deps.Audio.HLSSegmentSeconds, s.deps.Audio.HLSAudioBitrate); err != nil {
			return nil, err
		}
	}

	segments, err := filepath.Glob(filepath.Join(hlsDir, channelTag(s.channel)+"_*.ts"))
	if err != nil {
		return nil, fmt.Errorf("listing hls segments: %w", err)
	}
	sort.Strings(segments)

	return &core.Data{
		HLSPlaylistPath: playlist,
		HLSSegmentPaths: segments,
	}, nil
}

func (s *HLSStep) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}
