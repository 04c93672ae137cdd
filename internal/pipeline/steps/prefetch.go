package steps

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/mixfold/mixfold/internal/channelgroup"
	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/pipeline/core"
)

// PrefetchStep resolves which segment files carry the channel and makes
// sure they exist locally, re-downloading replicated ones that were
// pruned from disk.
type PrefetchStep struct {
	deps     *Deps
	segments []*models.Segment
	channel  int
}

// NewPrefetchStep builds the step for one channel of a session.
func NewPrefetchStep(deps *Deps, segments []*models.Segment, channel int) *PrefetchStep {
	return &PrefetchStep{deps: deps, segments: segments, channel: channel}
}

func (s *PrefetchStep) Name() string        { return "prefetch-flac" }
func (s *PrefetchStep) Description() string { return "ensure channel segment files exist locally" }

func (s *PrefetchStep) ShouldRun(ctx context.Context, sc *core.StepContext, data *core.Data) (bool, string) {
	return true, ""
}

func (s *PrefetchStep) Execute(ctx context.Context, sc *core.StepContext, data *core.Data) (*core.Data, error) {
	logger := s.deps.Logger.With("step", s.Name(), "session_id", sc.SessionID, "channel", s.channel)

	var files []core.SegmentFile
	for _, seg := range s.segments {
		group, err := channelgroup.Parse(seg.ChannelGroup)
		if err != nil {
			logger.Warn("skipping segment with unparseable group",
				"segment_number", seg.SegmentNumber, "group", seg.ChannelGroup)
			continue
		}
		if !group.Contains(s.channel) {
			continue
		}
		files = append(files, core.SegmentFile{
			SegmentNumber: seg.SegmentNumber,
			ChannelGroup:  seg.ChannelGroup,
			ChannelIndex:  group.IndexOf(s.channel),
			LocalPath:     seg.LocalPath,
		})
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no segments carry channel %d", s.channel)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].SegmentNumber < files[j].SegmentNumber
	})

	if err := s.fetchMissing(ctx, files); err != nil {
		return nil, err
	}
	return &core.Data{Segments: files}, nil
}

// fetchMissing downloads segments whose local files are gone, with
// bounded concurrency.
func (s *PrefetchStep) fetchMissing(ctx context.Context, files []core.SegmentFile) error {
	byPath := make(map[string]*models.Segment, len(s.segments))
	for _, seg := range s.segments {
		byPath[seg.LocalPath] = seg
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.deps.Pipeline.PrefetchConcurrency, 1))

	for _, f := range files {
		if fileNonEmpty(f.LocalPath) {
			continue
		}
		seg := byPath[f.LocalPath]
		if seg == nil || seg.S3Key == "" || s.deps.Store == nil {
			return fmt.Errorf("segment %d (%s) missing locally and not replicated", f.SegmentNumber, f.ChannelGroup)
		}
		g.Go(func() error {
			return s.download(gctx, seg)
		})
	}
	return g.Wait()
}

func (s *PrefetchStep) download(ctx context.Context, seg *models.Segment) error {
	rc, err := s.deps.Store.Get(ctx, seg.S3Key)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", seg.S3Key, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(seg.LocalPath), 0750); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.OpenFile(seg.LocalPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("creating segment file: %w", err)
	}
	_, copyErr := io.Copy(f, rc)
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("writing segment file: %w", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing segment file: %w", closeErr)
	}
	s.deps.Logger.Debug("downloaded segment", "key", seg.S3Key, "path", seg.LocalPath)
	return nil
}

func (s *PrefetchStep) Cleanup(ctx context.Context, sc *core.StepContext, data *core.Data) error {
	return nil
}
