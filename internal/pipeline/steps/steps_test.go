package steps

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixfold/mixfold/internal/audio"
	"github.com/mixfold/mixfold/internal/config"
	"github.com/mixfold/mixfold/internal/models"
	"github.com/mixfold/mixfold/internal/objectstore"
	"github.com/mixfold/mixfold/internal/pipeline/core"
)

func testDeps(store objectstore.Store) *Deps {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Deps{
		Toolbox: audio.NewToolboxWithPaths("/usr/bin/ffmpeg", "/usr/bin/ffprobe", "/usr/bin/audiowaveform", logger),
		Audio: config.AudioConfig{
			QuietThresholdDB:     -50,
			SilenceThresholdDB:   -60,
			NormalizeEnabled:     true,
			TargetLUFS:           -16,
			TargetTruePeakDB:     -1.5,
			TargetLRA:            11,
			HighGainThresholdDB:  20,
			MinGainLU:            1,
			UseVBR:               true,
			VBRQuality:           2,
			QuietVBRQuality:      7,
			HLSSegmentSeconds:    10,
			HLSAudioBitrate:      "128k",
			PeaksPixelsPerSecond: 50,
			PeaksBits:            8,
		},
		Pipeline: config.PipelineConfig{PrefetchConcurrency: 4, HLSUploadConcurrency: 10},
		Store:    store,
		Keys:     objectstore.NewKeyLayout("segments/", "hls/", "peaks/"),
		Logger:   logger,
	}
}

func stepCtx(t *testing.T) *core.StepContext {
	t.Helper()
	base := t.TempDir()
	return &core.StepContext{
		SessionID:     "s1",
		ChannelNumber: 3,
		WorkDir:       filepath.Join(base, ".temp"),
		OutputDir:     base,
	}
}

func analyzed(lufs float64, quiet, silent bool) *core.Data {
	return &core.Data{
		ConcatPath: "/tmp/full.flac",
		Analysis: &audio.Analysis{
			IntegratedLoudnessLUFS: lufs,
			IsQuiet:                quiet,
			IsSilent:               silent,
		},
	}
}

func TestNormalizeStep_ShouldRun(t *testing.T) {
	deps := testDeps(nil)
	step := NewNormalizeStep(deps, 3)
	sc := stepCtx(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		data       *core.Data
		disabled   bool
		wantRun    bool
		wantReason string
	}{
		{"needs gain", analyzed(-25, false, false), false, true, ""},
		{"disabled", analyzed(-25, false, false), true, false, "normalization disabled"},
		{"quiet channel", analyzed(-25, true, true), false, false, "channel is quiet"},
		{"gain below minimum", analyzed(-16.5, false, false), false, false, "required gain 0.50 LU below minimum"},
		{"no analysis", &core.Data{ConcatPath: "/tmp/full.flac"}, false, false, "no analysis available"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps.Audio.NormalizeEnabled = !tt.disabled
			run, reason := step.ShouldRun(ctx, sc, tt.data)
			assert.Equal(t, tt.wantRun, run)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestPrefetchStep_SelectsAndOrdersSegments(t *testing.T) {
	dir := t.TempDir()
	mkSeg := func(name string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("flac"), 0640))
		return path
	}

	segments := []*models.Segment{
		{SessionID: "s1", SegmentNumber: 1, ChannelGroup: "ch01-06", LocalPath: mkSeg("seg1_a.flac")},
		{SessionID: "s1", SegmentNumber: 0, ChannelGroup: "ch01-06", LocalPath: mkSeg("seg0_a.flac")},
		{SessionID: "s1", SegmentNumber: 0, ChannelGroup: "ch07-12", LocalPath: mkSeg("seg0_b.flac")},
		{SessionID: "s1", SegmentNumber: 0, ChannelGroup: "unknown", LocalPath: mkSeg("seg0_u.flac")},
	}

	step := NewPrefetchStep(testDeps(nil), segments, 3)
	delta, err := step.Execute(context.Background(), stepCtx(t), &core.Data{})
	require.NoError(t, err)

	require.Len(t, delta.Segments, 2)
	assert.Equal(t, 0, delta.Segments[0].SegmentNumber)
	assert.Equal(t, 1, delta.Segments[1].SegmentNumber)
	// channel 3 in ch01-06 sits at 0-based index 2
	assert.Equal(t, 2, delta.Segments[0].ChannelIndex)
	assert.Equal(t, "ch01-06", delta.Segments[0].ChannelGroup)
}

func TestPrefetchStep_NoSegmentsForChannel(t *testing.T) {
	segments := []*models.Segment{
		{SessionID: "s1", SegmentNumber: 0, ChannelGroup: "ch01-06", LocalPath: "/tmp/x.flac"},
	}
	step := NewPrefetchStep(testDeps(nil), segments, 9)
	_, err := step.Execute(context.Background(), stepCtx(t), &core.Data{})
	assert.ErrorContains(t, err, "no segments carry channel 9")
}

func TestPrefetchStep_DownloadsMissing(t *testing.T) {
	store := objectstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "segments/s1/a.flac", fileReader(t, "replicated bytes"), "audio/flac"))

	localPath := filepath.Join(t.TempDir(), "a.flac")
	segments := []*models.Segment{
		{SessionID: "s1", SegmentNumber: 0, ChannelGroup: "ch01-06", LocalPath: localPath, S3Key: "segments/s1/a.flac"},
	}

	step := NewPrefetchStep(testDeps(store), segments, 1)
	delta, err := step.Execute(ctx, stepCtx(t), &core.Data{})
	require.NoError(t, err)
	require.Len(t, delta.Segments, 1)

	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, "replicated bytes", string(data))
}

func TestUploadMP3Step(t *testing.T) {
	store := objectstore.NewMemoryStore()
	step := NewUploadMP3Step(testDeps(store), 3)
	sc := stepCtx(t)
	ctx := context.Background()

	mp3Path := filepath.Join(t.TempDir(), "channel_03.mp3")
	require.NoError(t, os.WriteFile(mp3Path, []byte("mp3 bytes"), 0640))

	run, _ := step.ShouldRun(ctx, sc, &core.Data{MP3Path: mp3Path})
	require.True(t, run)

	delta, err := step.Execute(ctx, sc, &core.Data{MP3Path: mp3Path})
	require.NoError(t, err)
	assert.Equal(t, "segments/s1/channel_03.mp3", delta.S3Key)
	assert.Equal(t, "memory://segments/s1/channel_03.mp3", delta.MP3URL)
	assert.Equal(t, 1, store.Len())
}

func TestUploadMP3Step_Skips(t *testing.T) {
	sc := stepCtx(t)
	ctx := context.Background()

	run, reason := NewUploadMP3Step(testDeps(nil), 3).ShouldRun(ctx, sc, &core.Data{})
	assert.False(t, run)
	assert.Equal(t, "object store disabled", reason)

	run, reason = NewUploadMP3Step(testDeps(objectstore.NewMemoryStore()), 3).
		ShouldRun(ctx, sc, &core.Data{MP3URL: "https://cdn/x.mp3"})
	assert.False(t, run)
	assert.Equal(t, "already uploaded", reason)
}

func TestUploadHLSStep(t *testing.T) {
	store := objectstore.NewMemoryStore()
	step := NewUploadHLSStep(testDeps(store), 3)
	sc := stepCtx(t)
	ctx := context.Background()

	dir := t.TempDir()
	playlist := filepath.Join(dir, "channel_03.m3u8")
	require.NoError(t, os.WriteFile(playlist, []byte("#EXTM3U"), 0640))
	var segs []string
	for _, name := range []string{"channel_03_000.ts", "channel_03_001.ts"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("ts"), 0640))
		segs = append(segs, p)
	}

	delta, err := step.Execute(ctx, sc, &core.Data{HLSPlaylistPath: playlist, HLSSegmentPaths: segs})
	require.NoError(t, err)
	assert.Equal(t, "memory://hls/s1/channel_03.m3u8", delta.HLSURL)
	assert.Equal(t, 3, store.Len())

	keys, err := store.List(ctx, "hls/s1/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"hls/s1/channel_03.m3u8",
		"hls/s1/channel_03_000.ts",
		"hls/s1/channel_03_001.ts",
	}, keys)
}

func TestPeaksStep_ShouldRun(t *testing.T) {
	sc := stepCtx(t)
	ctx := context.Background()

	run, reason := NewPeaksStep(testDeps(nil), 3).ShouldRun(ctx, sc, analyzed(-70, true, true))
	assert.False(t, run)
	assert.Equal(t, "channel is silent", reason)

	// normalization clears the silence gate
	data := analyzed(-70, true, true)
	data.SilentCleared = true
	run, _ = NewPeaksStep(testDeps(nil), 3).ShouldRun(ctx, sc, data)
	assert.True(t, run)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := testDeps(nil)
	deps.Toolbox = audio.NewToolboxWithPaths("/usr/bin/ffmpeg", "/usr/bin/ffprobe", "", logger)
	run, reason = NewPeaksStep(deps, 3).ShouldRun(ctx, sc, analyzed(-20, false, false))
	assert.False(t, run)
	assert.Equal(t, "waveform tool unavailable", reason)
}

func TestPeaksStep_NormalizeFile(t *testing.T) {
	step := NewPeaksStep(testDeps(nil), 3)
	sc := stepCtx(t)

	path := filepath.Join(t.TempDir(), "peaks.json")
	doc := `{"version":2,"channels":1,"sample_rate":48000,"samples_per_pixel":960,"bits":8,"length":2,"data":[-50,50,-100,100]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0640))

	require.NoError(t, step.normalizeFile(sc, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	w, err := audio.ParseWaveform(raw)
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.5, 0.5, -1, 1}, w.Data)
}

func TestEncodeMP3Step_RequiresSource(t *testing.T) {
	step := NewEncodeMP3Step(testDeps(nil), 3)
	_, err := step.Execute(context.Background(), stepCtx(t), &core.Data{})
	assert.ErrorContains(t, err, "no lossless rendition")
}

func fileReader(t *testing.T, content string) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "content")
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}
