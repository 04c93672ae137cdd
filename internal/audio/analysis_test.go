package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const volumedetectOutput = `
[Parsed_volumedetect_0 @ 0x55d] n_samples: 14400000
[Parsed_volumedetect_0 @ 0x55d] mean_volume: -27.4 dB
[Parsed_volumedetect_0 @ 0x55d] max_volume: -5.1 dB
[Parsed_volumedetect_0 @ 0x55d] histogram_5db: 12
`

const ebur128Output = `
[Parsed_ebur128_1 @ 0x55e] t: 12.4     TARGET:-23 LUFS    M: -21.0 S: -20.5     I: -20.1 LUFS       LRA:  4.2 LU
[Parsed_ebur128_1 @ 0x55e] Summary:

  Integrated loudness:
    I:         -19.5 LUFS
    Threshold: -30.2 LUFS

  Loudness range:
    LRA:         6.3 LU
    Threshold: -40.1 LUFS
    LRA low:   -24.0 LUFS
    LRA high:  -17.7 LUFS

  True peak:
    Peak:       -2.1 dBFS
`

func TestParseAnalysis(t *testing.T) {
	a, err := parseAnalysis(volumedetectOutput+ebur128Output, -50, -60)
	require.NoError(t, err)

	assert.InDelta(t, -5.1, a.MaxVolumeDB, 0.001)
	assert.InDelta(t, -27.4, a.MeanVolumeDB, 0.001)
	assert.InDelta(t, -19.5, a.IntegratedLoudnessLUFS, 0.001)
	assert.InDelta(t, 6.3, a.LoudnessRangeLU, 0.001)
	assert.InDelta(t, -2.1, a.TruePeakDBTP, 0.001)
	assert.False(t, a.IsQuiet)
	assert.False(t, a.IsSilent)
}

func TestParseAnalysis_QuietAndSilent(t *testing.T) {
	quiet := `
[Parsed_volumedetect_0 @ 0x55d] mean_volume: -72.0 dB
[Parsed_volumedetect_0 @ 0x55d] max_volume: -55.0 dB
`
	a, err := parseAnalysis(quiet, -50, -60)
	require.NoError(t, err)
	assert.True(t, a.IsQuiet)
	assert.True(t, a.IsSilent)
}

func TestParseAnalysis_DigitalSilence(t *testing.T) {
	silence := `
[Parsed_volumedetect_0 @ 0x55d] mean_volume: -inf dB
[Parsed_volumedetect_0 @ 0x55d] max_volume: -inf dB
`
	a, err := parseAnalysis(silence, -50, -60)
	require.NoError(t, err)
	assert.InDelta(t, -120, a.MaxVolumeDB, 0.001)
	assert.True(t, a.IsQuiet)
	assert.True(t, a.IsSilent)
}

func TestParseAnalysis_NoOutput(t *testing.T) {
	_, err := parseAnalysis("ffmpeg version 6.0", -50, -60)
	assert.Error(t, err)
}

func TestParseLoudnorm(t *testing.T) {
	stderr := `
[Parsed_loudnorm_0 @ 0x560]
{
	"input_i" : "-27.61",
	"input_tp" : "-4.47",
	"input_lra" : "18.06",
	"input_thresh" : "-39.20",
	"output_i" : "-16.58",
	"output_tp" : "-2.21",
	"output_lra" : "14.78",
	"output_thresh" : "-27.61",
	"normalization_type" : "linear",
	"target_offset" : "0.58"
}
`
	result, err := parseLoudnorm(stderr)
	require.NoError(t, err)
	assert.InDelta(t, -27.61, result.InputLUFS, 0.001)
	assert.InDelta(t, -16.58, result.OutputLUFS, 0.001)
}

func TestParseLoudnorm_Missing(t *testing.T) {
	_, err := parseLoudnorm("nothing useful here")
	assert.Error(t, err)
}

func TestCommandBuilder_Build(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		InputArgs("-f", "concat", "-safe", "0").
		Input("list.txt").
		AudioFilter("volume=3.00dB").
		AudioFilter("alimiter=limit=0.841395:level=false").
		AudioCodec("flac").
		Output("out.flac").
		Build()

	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-y", "-nostdin",
		"-f", "concat", "-safe", "0",
		"-i", "list.txt",
		"-af", "volume=3.00dB,alimiter=limit=0.841395:level=false",
		"-c:a", "flac",
		"out.flac",
	}, cmd.Args)
}

func TestWriteConcatList(t *testing.T) {
	got := WriteConcatList([]string{"/tmp/a.flac", "/tmp/o'brien.flac"})
	assert.Equal(t, "file '/tmp/a.flac'\nfile '/tmp/o'\\''brien.flac'\n", got)
}
