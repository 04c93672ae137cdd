package audio

import (
	"encoding/json"
	"fmt"
	"math"
)

// Waveform is the audiowaveform JSON document. Data holds interleaved
// min/max sample pairs; audiowaveform emits integers, but after
// normalization the same field carries floats in [-1, 1].
type Waveform struct {
	Version         int       `json:"version"`
	Channels        int       `json:"channels"`
	SampleRate      int       `json:"sample_rate"`
	SamplesPerPixel int       `json:"samples_per_pixel"`
	Bits            int       `json:"bits"`
	Length          int       `json:"length"`
	Data            []float64 `json:"data"`
}

// ParseWaveform decodes an audiowaveform JSON document.
func ParseWaveform(data []byte) (*Waveform, error) {
	var w Waveform
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing waveform JSON: %w", err)
	}
	return &w, nil
}

// Normalize scales Data into [-1, 1] by dividing by the maximum absolute
// value, rounding to two decimals. Returns false when every sample is
// zero, in which case Data is left untouched.
func (w *Waveform) Normalize() bool {
	var maxAbs float64
	for _, v := range w.Data {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	if maxAbs == 0 {
		return false
	}
	for i, v := range w.Data {
		w.Data[i] = math.Round(v/maxAbs*100) / 100
	}
	return true
}

// Encode serializes the waveform back to JSON.
func (w *Waveform) Encode() ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding waveform JSON: %w", err)
	}
	return data, nil
}
