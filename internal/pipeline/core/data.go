package core

import (
	"encoding/json"

	"github.com/mixfold/mixfold/internal/audio"
	"github.com/mixfold/mixfold/internal/models"
)

// SegmentFile is one multi-channel source file carrying the channel
// under processing. ChannelIndex is the channel's 0-based position
// within the file's group.
type SegmentFile struct {
	SegmentNumber int    `json:"segment_number"`
	ChannelGroup  string `json:"channel_group"`
	ChannelIndex  int    `json:"channel_index"`
	LocalPath     string `json:"local_path"`
}

// Data accumulates the pipeline's intermediate and final artifacts.
// Steps return a partial Data; the runner merges it into the shared
// record, so zero values never clobber earlier results.
type Data struct {
	Segments       []SegmentFile          `json:"segments,omitempty"`
	MonoPaths      []string               `json:"mono_paths,omitempty"`
	ConcatPath     string                 `json:"concat_path,omitempty"`
	Analysis       *audio.Analysis        `json:"analysis,omitempty"`
	NormalizedPath string                 `json:"normalized_path,omitempty"`
	Normalization  *audio.LoudnormResult  `json:"normalization,omitempty"`
	// SilentCleared is set by normalization: its output is audible by
	// definition, so downstream silence gates no longer apply.
	SilentCleared   bool     `json:"silent_cleared,omitempty"`
	MP3Path         string   `json:"mp3_path,omitempty"`
	MP3Size         int64    `json:"mp3_size,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	PeaksPath       string   `json:"peaks_path,omitempty"`
	HLSPlaylistPath string   `json:"hls_playlist_path,omitempty"`
	HLSSegmentPaths []string `json:"hls_segment_paths,omitempty"`
	S3Key           string   `json:"s3_key,omitempty"`
	MP3URL          string   `json:"mp3_url,omitempty"`
	PeaksURL        string   `json:"peaks_url,omitempty"`
	HLSURL          string   `json:"hls_url,omitempty"`
}

// IsQuiet reports the analysis quiet flag, false before analysis.
func (d *Data) IsQuiet() bool {
	return d.Analysis != nil && d.Analysis.IsQuiet
}

// IsSilent reports whether silence gates apply: analysis said silent and
// no later step cleared it.
func (d *Data) IsSilent() bool {
	return d.Analysis != nil && d.Analysis.IsSilent && !d.SilentCleared
}

// SourcePath is the best available lossless rendition: normalized when
// normalization ran, concatenated otherwise.
func (d *Data) SourcePath() string {
	if d.NormalizedPath != "" {
		return d.NormalizedPath
	}
	return d.ConcatPath
}

// Merge folds a step's partial output into d. Slices and pointers
// replace only when set; booleans only ever latch on.
func (d *Data) Merge(delta *Data) {
	if delta == nil {
		return
	}
	if delta.Segments != nil {
		d.Segments = delta.Segments
	}
	if delta.MonoPaths != nil {
		d.MonoPaths = delta.MonoPaths
	}
	if delta.ConcatPath != "" {
		d.ConcatPath = delta.ConcatPath
	}
	if delta.Analysis != nil {
		d.Analysis = delta.Analysis
	}
	if delta.NormalizedPath != "" {
		d.NormalizedPath = delta.NormalizedPath
	}
	if delta.Normalization != nil {
		d.Normalization = delta.Normalization
	}
	if delta.SilentCleared {
		d.SilentCleared = true
	}
	if delta.MP3Path != "" {
		d.MP3Path = delta.MP3Path
	}
	if delta.MP3Size != 0 {
		d.MP3Size = delta.MP3Size
	}
	if delta.DurationSeconds != nil {
		d.DurationSeconds = delta.DurationSeconds
	}
	if delta.PeaksPath != "" {
		d.PeaksPath = delta.PeaksPath
	}
	if delta.HLSPlaylistPath != "" {
		d.HLSPlaylistPath = delta.HLSPlaylistPath
	}
	if delta.HLSSegmentPaths != nil {
		d.HLSSegmentPaths = delta.HLSSegmentPaths
	}
	if delta.S3Key != "" {
		d.S3Key = delta.S3Key
	}
	if delta.MP3URL != "" {
		d.MP3URL = delta.MP3URL
	}
	if delta.PeaksURL != "" {
		d.PeaksURL = delta.PeaksURL
	}
	if delta.HLSURL != "" {
		d.HLSURL = delta.HLSURL
	}
}

// Snapshot renders the data as an opaque map for PipelineRun rows.
func (d *Data) Snapshot() models.Snapshot {
	raw, err := json.Marshal(d)
	if err != nil {
		return models.Snapshot{"error": err.Error()}
	}
	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.Snapshot{"error": err.Error()}
	}
	return snap
}

// DataFromSnapshot rebuilds a Data from a stored snapshot. Used by the
// admin replay operation.
func DataFromSnapshot(snap models.Snapshot) (*Data, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
