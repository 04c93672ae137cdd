package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/mixfold/mixfold/internal/objectstore"
	"github.com/mixfold/mixfold/internal/pipeline/core"
)

// UploadMP3Step replicates the channel master MP3 to the object store.
type UploadMP3Step struct {
	deps    *Deps
	channel int
}

func NewUploadMP3Step(deps *Deps, channel int) *UploadMP3Step {
	return &UploadMP3Step{deps: deps, channel: channel}
}

func (s *UploadMP3Step) Name() string        { return "upload-mp3" }
func (s *UploadMP3Step) Description() string { return "replicate the channel MP3" }

func (s *UploadMP3Step) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	if s.deps.Store == nil {
		return false, "object store disabled"
	}
	if data.MP3URL != "" {
		return false, "already uploaded"
	}
	return true, ""
}

func (s *UploadMP3Step) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	if data.MP3Path == "" {
		return nil, fmt.Errorf("no mp3 master to upload")
	}
	key := s.deps.Keys.ChannelMP3(sc.SessionID, s.channel)
	if err := putFile(ctx, s.deps.Store, key, data.MP3Path); err != nil {
		return nil, err
	}
	return &core.Data{
		S3Key:  key,
		MP3URL: s.deps.Store.PublicURL(key),
	}, nil
}

func (s *UploadMP3Step) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}

// UploadPeaksStep replicates the peaks JSON.
type UploadPeaksStep struct {
	deps    *Deps
	channel int
}

func NewUploadPeaksStep(deps *Deps, channel int) *UploadPeaksStep {
	return &UploadPeaksStep{deps: deps, channel: channel}
}

func (s *UploadPeaksStep) Name() string        { return "upload-peaks" }
func (s *UploadPeaksStep) Description() string { return "replicate the peaks JSON" }

func (s *UploadPeaksStep) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	if s.deps.Store == nil {
		return false, "object store disabled"
	}
	if data.PeaksURL != "" {
		return false, "already uploaded"
	}
	if data.PeaksPath == "" {
		return false, "no peaks generated"
	}
	return true, ""
}

func (s *UploadPeaksStep) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	key := s.deps.Keys.ChannelPeaks(sc.SessionID, s.channel)
	if err := putFile(ctx, s.deps.Store, key, data.PeaksPath); err != nil {
		return nil, err
	}
	return &core.Data{PeaksURL: s.deps.Store.PublicURL(key)}, nil
}

func (s *UploadPeaksStep) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}

// UploadHLSStep replicates the playlist and all media segments, segments
// first with bounded concurrency so the playlist never references
// missing chunks.
type UploadHLSStep struct {
	deps    *Deps
	channel int
}

func NewUploadHLSStep(deps *Deps, channel int) *UploadHLSStep {
	return &UploadHLSStep{deps: deps, channel: channel}
}

func (s *UploadHLSStep) Name() string        { return "upload-hls" }
func (s *UploadHLSStep) Description() string { return "replicate the HLS rendition" }

func (s *UploadHLSStep) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	if s.deps.Store == nil {
		return false, "object store disabled"
	}
	if data.HLSURL != "" {
		return false, "already uploaded"
	}
	if data.HLSPlaylistPath == "" {
		return false, "no hls rendition generated"
	}
	return true, ""
}

func (s *UploadHLSStep) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.deps.Pipeline.HLSUploadConcurrency, 1))

	for _, segPath := range data.HLSSegmentPaths {
		segPath := segPath
		key := s.deps.Keys.HLSFile(sc.SessionID, filepath.Base(segPath))
		g.Go(func() error {
			return putFile(gctx, s.deps.Store, key, segPath)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	playlistKey := s.deps.Keys.ChannelHLSPlaylist(sc.SessionID, s.channel)
	if err := putFile(ctx, s.deps.Store, playlistKey, data.HLSPlaylistPath); err != nil {
		return nil, err
	}
	return &core.Data{HLSURL: s.deps.Store.PublicURL(playlistKey)}, nil
}

func (s *UploadHLSStep) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}

func putFile(ctx context.Context, store objectstore.Store, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if err := store.Put(ctx, key, f, objectstore.ContentTypeForKey(key)); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}
