package audio

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Analysis holds the amplitude and loudness measurements for one channel.
// IsQuiet gates normalization and MP3 quality; IsSilent gates the peaks
// and HLS derivatives.
type Analysis struct {
	MaxVolumeDB            float64 `json:"max_volume_db"`
	MeanVolumeDB           float64 `json:"mean_volume_db"`
	IntegratedLoudnessLUFS float64 `json:"integrated_loudness_lufs"`
	TruePeakDBTP           float64 `json:"true_peak_dbtp"`
	LoudnessRangeLU        float64 `json:"loudness_range_lu"`
	IsQuiet                bool    `json:"is_quiet"`
	IsSilent               bool    `json:"is_silent"`
}

// LoudnormResult is the outcome of a loudness normalization pass.
type LoudnormResult struct {
	InputLUFS  float64 `json:"input_lufs"`
	OutputLUFS float64 `json:"output_lufs"`
}

var (
	meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?[\d.]+)\s*dB`)
	maxVolumeRe  = regexp.MustCompile(`max_volume:\s*(-?[\d.]+)\s*dB`)
	integratedRe = regexp.MustCompile(`I:\s*(-?[\d.]+)\s*LUFS`)
	lraRe        = regexp.MustCompile(`LRA:\s*(-?[\d.]+)\s*LU`)
	truePeakRe   = regexp.MustCompile(`Peak:\s*(-?[\d.]+)\s*dBFS`)
)

// parseAnalysis extracts volumedetect and ebur128 measurements from an
// ffmpeg stderr dump. ffmpeg reports -inf for digital silence, mapped
// here to -120 dB so threshold comparisons stay ordinary float math.
func parseAnalysis(stderr string, quietThresholdDB, silenceThresholdDB float64) (*Analysis, error) {
	a := &Analysis{
		MaxVolumeDB:            -120,
		MeanVolumeDB:           -120,
		IntegratedLoudnessLUFS: -120,
	}

	found := false
	if m := maxVolumeRe.FindStringSubmatch(stderr); m != nil {
		a.MaxVolumeDB = mustFloat(m[1])
		found = true
	}
	if m := meanVolumeRe.FindStringSubmatch(stderr); m != nil {
		a.MeanVolumeDB = mustFloat(m[1])
		found = true
	}
	if !found && !strings.Contains(stderr, "-inf") {
		return nil, fmt.Errorf("no volumedetect output found")
	}

	// The ebur128 summary repeats I: and LRA: lines; the summary block is
	// last, so take the final match of each.
	if m := lastSubmatch(integratedRe, stderr); m != "" {
		a.IntegratedLoudnessLUFS = mustFloat(m)
	}
	if m := lastSubmatch(lraRe, stderr); m != "" {
		a.LoudnessRangeLU = mustFloat(m)
	}
	if m := lastSubmatch(truePeakRe, stderr); m != "" {
		a.TruePeakDBTP = mustFloat(m)
	}

	a.IsQuiet = a.MaxVolumeDB < quietThresholdDB
	a.IsSilent = a.MeanVolumeDB < silenceThresholdDB
	return a, nil
}

func lastSubmatch(re *regexp.Regexp, s string) string {
	matches := re.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

func mustFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return -120
	}
	return f
}

// loudnormStats mirrors the JSON block loudnorm prints on stderr with
// print_format=json. Values arrive as quoted strings.
type loudnormStats struct {
	InputI  string `json:"input_i"`
	OutputI string `json:"output_i"`
}

// parseLoudnorm pulls the JSON stats block out of ffmpeg stderr.
func parseLoudnorm(stderr string) (*LoudnormResult, error) {
	start := strings.LastIndex(stderr, "{")
	end := strings.LastIndex(stderr, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no loudnorm stats in output")
	}

	var stats loudnormStats
	if err := json.Unmarshal([]byte(stderr[start:end+1]), &stats); err != nil {
		return nil, fmt.Errorf("parsing loudnorm stats: %w", err)
	}

	inputI, err := strconv.ParseFloat(stats.InputI, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing input_i %q: %w", stats.InputI, err)
	}
	outputI, err := strconv.ParseFloat(stats.OutputI, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing output_i %q: %w", stats.OutputI, err)
	}
	return &LoudnormResult{InputLUFS: inputI, OutputLUFS: outputI}, nil
}
