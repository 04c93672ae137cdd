package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWaveform(t *testing.T) {
	doc := []byte(`{
		"version": 2,
		"channels": 1,
		"sample_rate": 48000,
		"samples_per_pixel": 960,
		"bits": 8,
		"length": 4,
		"data": [-50, 50, -100, 100, -25, 25, 0, 0]
	}`)

	w, err := ParseWaveform(doc)
	require.NoError(t, err)
	assert.Equal(t, 48000, w.SampleRate)
	assert.Equal(t, 4, w.Length)
	assert.Len(t, w.Data, 8)
}

func TestWaveform_Normalize(t *testing.T) {
	w := &Waveform{Data: []float64{-50, 50, -100, 100, -25, 25, 0, 0}}
	require.True(t, w.Normalize())
	assert.Equal(t, []float64{-0.5, 0.5, -1, 1, -0.25, 0.25, 0, 0}, w.Data)
}

func TestWaveform_NormalizeRounds(t *testing.T) {
	w := &Waveform{Data: []float64{-1, 3}}
	require.True(t, w.Normalize())
	assert.Equal(t, []float64{-0.33, 1}, w.Data)
}

func TestWaveform_NormalizeAllZero(t *testing.T) {
	w := &Waveform{Data: []float64{0, 0, 0}}
	assert.False(t, w.Normalize())
	assert.Equal(t, []float64{0, 0, 0}, w.Data)
}
