// Package steps implements the per-channel processing pipeline: fetch
// and extract the channel from its multi-channel segments, analyze and
// normalize it, derive MP3, peaks and HLS renditions, and replicate the
// results to the object store.
package steps

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mixfold/mixfold/internal/audio"
	"github.com/mixfold/mixfold/internal/config"
	"github.com/mixfold/mixfold/internal/objectstore"
)

// Deps bundles the collaborators shared by all steps. Store is nil when
// object-store replication is disabled; the upload steps then skip.
type Deps struct {
	Toolbox  *audio.Toolbox
	Audio    config.AudioConfig
	Pipeline config.PipelineConfig
	Store    objectstore.Store
	Keys     objectstore.KeyLayout
	Logger   *slog.Logger
}

// channelTag renders a channel number the way artifact names expect.
func channelTag(channel int) string {
	return fmt.Sprintf("channel_%02d", channel)
}

// fileNonEmpty reports whether path exists with content. Steps use it to
// reuse outputs from an earlier run instead of redoing work.
func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	return nil
}

func mp3OutputPath(outputDir string, channel int) string {
	return filepath.Join(outputDir, "mp3", channelTag(channel)+".mp3")
}

func peaksOutputPath(outputDir string, channel int) string {
	return filepath.Join(outputDir, "peaks", channelTag(channel)+"_peaks.json")
}

func hlsPlaylistPath(outputDir string, channel int) string {
	return filepath.Join(outputDir, "hls", channelTag(channel)+".m3u8")
}
