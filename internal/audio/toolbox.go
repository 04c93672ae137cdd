// Package audio wraps the ffmpeg, ffprobe and audiowaveform binaries.
// It is the only component that runs subprocesses; callers consume its
// typed results and never parse tool output themselves.
package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mixfold/mixfold/internal/config"
)

// Toolbox runs audio subprocesses with resolved binary paths.
type Toolbox struct {
	ffmpegPath        string
	ffprobePath       string
	audiowaveformPath string
	logger            *slog.Logger
}

// NewToolbox resolves binary paths from config, falling back to PATH
// lookup. ffmpeg and ffprobe are required; audiowaveform is optional and
// its absence just disables peaks generation.
func NewToolbox(cfg config.AudioConfig, logger *slog.Logger) (*Toolbox, error) {
	ffmpegPath, err := resolveBinary(cfg.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobePath, err := resolveBinary(cfg.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}
	audiowaveformPath, err := resolveBinary(cfg.AudiowaveformPath, "audiowaveform")
	if err != nil {
		logger.Warn("audiowaveform not found, peaks generation disabled")
		audiowaveformPath = ""
	}

	return &Toolbox{
		ffmpegPath:        ffmpegPath,
		ffprobePath:       ffprobePath,
		audiowaveformPath: audiowaveformPath,
		logger:            logger.With("component", "audio"),
	}, nil
}

// NewToolboxWithPaths builds a Toolbox from explicit binary paths with
// no PATH lookup. An empty audiowaveform path disables peaks.
func NewToolboxWithPaths(ffmpegPath, ffprobePath, audiowaveformPath string, logger *slog.Logger) *Toolbox {
	return &Toolbox{
		ffmpegPath:        ffmpegPath,
		ffprobePath:       ffprobePath,
		audiowaveformPath: audiowaveformPath,
		logger:            logger.With("component", "audio"),
	}
}

func resolveBinary(configured, name string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

// HasWaveformTool reports whether peaks generation is available.
func (t *Toolbox) HasWaveformTool() bool {
	return t.audiowaveformPath != ""
}

// Extract emits a mono lossless file for one channel of a multi-channel
// input. channelIndex is 0-based within the input file.
func (t *Toolbox) Extract(ctx context.Context, input string, channelIndex int, output string) error {
	cmd := NewCommandBuilder(t.ffmpegPath).
		Input(input).
		AudioFilter(fmt.Sprintf("pan=mono|c0=c%d", channelIndex)).
		AudioCodec(losslessCodecFor(output)).
		Output(output).
		Build()

	t.logger.Debug("extracting channel", "input", input, "channel_index", channelIndex)
	_, err := cmd.Run(ctx)
	return err
}

// Concatenate joins the files named in a concat-demuxer list file into a
// single output encoded with the given codec.
func (t *Toolbox) Concatenate(ctx context.Context, listPath, output, codec string) error {
	cmd := NewCommandBuilder(t.ffmpegPath).
		InputArgs("-f", "concat", "-safe", "0").
		Input(listPath).
		AudioCodec(codec).
		Output(output).
		Build()

	t.logger.Debug("concatenating segments", "list", listPath, "output", output)
	_, err := cmd.Run(ctx)
	return err
}

// WriteConcatList writes a concat-demuxer list file for the given inputs.
func WriteConcatList(paths []string) string {
	var sb strings.Builder
	for _, p := range paths {
		// single quotes in paths are escaped per the concat demuxer rules
		escaped := strings.ReplaceAll(p, "'", `'\''`)
		fmt.Fprintf(&sb, "file '%s'\n", escaped)
	}
	return sb.String()
}

// Analyze measures amplitude and integrated loudness in one pass.
func (t *Toolbox) Analyze(ctx context.Context, input string, quietThresholdDB, silenceThresholdDB float64) (*Analysis, error) {
	cmd := NewCommandBuilder(t.ffmpegPath).
		LogLevel("info").
		Input(input).
		AudioFilter("volumedetect").
		AudioFilter("ebur128=peak=true").
		NullOutput().
		Build()

	stderr, err := cmd.Run(ctx)
	if err != nil {
		return nil, err
	}

	analysis, err := parseAnalysis(stderr, quietThresholdDB, silenceThresholdDB)
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", input, err)
	}
	t.logger.Debug("analyzed audio", "input", input,
		"max_db", analysis.MaxVolumeDB, "mean_db", analysis.MeanVolumeDB,
		"lufs", analysis.IntegratedLoudnessLUFS,
		"quiet", analysis.IsQuiet, "silent", analysis.IsSilent)
	return analysis, nil
}

// LoudnessNormalizeParams carries the targets and the measured values
// from a prior Analyze pass, enabling linear (two-pass) loudnorm.
type LoudnessNormalizeParams struct {
	TargetLUFS       float64
	TargetTruePeakDB float64
	TargetLRA        float64
	MeasuredI        float64
	MeasuredTP       float64
	MeasuredLRA      float64
}

// LoudnessNormalize applies loudnorm with pre-measured input stats.
func (t *Toolbox) LoudnessNormalize(ctx context.Context, input, output string, p LoudnessNormalizeParams) (*LoudnormResult, error) {
	filter := fmt.Sprintf(
		"loudnorm=I=%.1f:TP=%.1f:LRA=%.1f:measured_I=%.2f:measured_TP=%.2f:measured_LRA=%.2f:linear=true:print_format=json",
		p.TargetLUFS, p.TargetTruePeakDB, p.TargetLRA,
		p.MeasuredI, p.MeasuredTP, p.MeasuredLRA,
	)

	cmd := NewCommandBuilder(t.ffmpegPath).
		LogLevel("info").
		Input(input).
		AudioFilter(filter).
		AudioCodec(losslessCodecFor(output)).
		Output(output).
		Build()

	stderr, err := cmd.Run(ctx)
	if err != nil {
		return nil, err
	}

	result, err := parseLoudnorm(stderr)
	if err != nil {
		return nil, fmt.Errorf("normalizing %s: %w", input, err)
	}
	t.logger.Debug("loudness normalized", "input", input,
		"input_lufs", result.InputLUFS, "output_lufs", result.OutputLUFS)
	return result, nil
}

// GainNormalize applies a fixed linear gain with a true-peak limiter.
// Used instead of loudnorm when the required gain is large enough that
// loudnorm's internal limiter would pump.
func (t *Toolbox) GainNormalize(ctx context.Context, input, output string, gainDB, truePeakLimitDB float64) error {
	limit := math.Pow(10, truePeakLimitDB/20)
	cmd := NewCommandBuilder(t.ffmpegPath).
		Input(input).
		AudioFilter(fmt.Sprintf("volume=%.2fdB", gainDB)).
		AudioFilter(fmt.Sprintf("alimiter=limit=%.6f:level=false", limit)).
		AudioCodec(losslessCodecFor(output)).
		Output(output).
		Build()

	t.logger.Debug("gain normalizing", "input", input, "gain_db", gainDB)
	_, err := cmd.Run(ctx)
	return err
}

// EncodeMP3Options selects the lossy encoding mode.
type EncodeMP3Options struct {
	UseVBR     bool
	VBRQuality int
	Bitrate    string
	Filters    []string
}

// EncodeMP3 encodes input to MP3 with libmp3lame.
func (t *Toolbox) EncodeMP3(ctx context.Context, input, output string, opts EncodeMP3Options) error {
	b := NewCommandBuilder(t.ffmpegPath).Input(input)
	for _, f := range opts.Filters {
		b.AudioFilter(f)
	}
	b.AudioCodec("libmp3lame")
	if opts.UseVBR {
		b.AudioQuality(opts.VBRQuality)
	} else {
		b.AudioBitrate(opts.Bitrate)
	}

	cmd := b.Output(output).Build()
	t.logger.Debug("encoding mp3", "input", input, "vbr", opts.UseVBR)
	_, err := cmd.Run(ctx)
	return err
}

// GeneratePeaks runs audiowaveform to produce a waveform samples JSON.
func (t *Toolbox) GeneratePeaks(ctx context.Context, input, output string, pixelsPerSecond, bits int) error {
	if t.audiowaveformPath == "" {
		return fmt.Errorf("audiowaveform not available")
	}
	cmd := &Command{
		Binary: t.audiowaveformPath,
		Args: []string{
			"-i", input,
			"-o", output,
			"--pixels-per-second", strconv.Itoa(pixelsPerSecond),
			"-b", strconv.Itoa(bits),
		},
	}

	t.logger.Debug("generating peaks", "input", input, "pps", pixelsPerSecond)
	_, err := cmd.Run(ctx)
	return err
}

// GenerateHLS segments input into fixed-duration AAC chunks with a
// playlist. segmentPattern is an absolute path pattern like
// "/…/channel_01_%03d.ts".
func (t *Toolbox) GenerateHLS(ctx context.Context, input, playlistPath, segmentPattern string, segmentSeconds int, audioBitrate string) error {
	cmd := NewCommandBuilder(t.ffmpegPath).
		Input(input).
		AudioCodec("aac").
		AudioBitrate(audioBitrate).
		NoVideo().
		OutputArgs(
			"-f", "hls",
			"-hls_time", strconv.Itoa(segmentSeconds),
			"-hls_list_size", "0",
			"-hls_playlist_type", "vod",
			"-hls_segment_filename", segmentPattern,
		).
		Output(playlistPath).
		Build()

	t.logger.Debug("generating hls", "input", input, "playlist", playlistPath)
	_, err := cmd.Run(ctx)
	return err
}

// Duration probes the duration of a media file in seconds.
func (t *Toolbox) Duration(ctx context.Context, input string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probing %s: %w", input, err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("parsing probe output: %w", err)
	}
	seconds, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", probe.Format.Duration, err)
	}
	return seconds, nil
}

// losslessCodecFor picks the lossless codec matching an output extension.
func losslessCodecFor(output string) string {
	if filepath.Ext(output) == ".flac" {
		return "flac"
	}
	return "pcm_s16le"
}
