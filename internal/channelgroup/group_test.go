package channelgroup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		want    Group
		wantErr bool
	}{
		{name: "standard group", label: "ch01-06", want: Group{Lower: 1, Upper: 6}},
		{name: "second group", label: "ch07-12", want: Group{Lower: 7, Upper: 12}},
		{name: "single channel", label: "ch05-05", want: Group{Lower: 5, Upper: 5}},
		{name: "three digits", label: "ch097-102", want: Group{Lower: 97, Upper: 102}},
		{name: "reserved unknown", label: "unknown", wantErr: true},
		{name: "empty", label: "", wantErr: true},
		{name: "reversed range", label: "ch06-01", wantErr: true},
		{name: "zero lower bound", label: "ch00-05", wantErr: true},
		{name: "missing prefix", label: "01-06", wantErr: true},
		{name: "single digit endpoints", label: "ch1-6", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Parse(tt.label)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, g)
		})
	}
}

func TestGroupName(t *testing.T) {
	assert.Equal(t, "ch01-06", Group{Lower: 1, Upper: 6}.Name())
	assert.Equal(t, "ch13-18", Group{Lower: 13, Upper: 18}.Name())
	// Zero-padding is two digits minimum; wider channels grow naturally.
	assert.Equal(t, "ch97-102", Group{Lower: 97, Upper: 102}.Name())
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		size     int
		want     []string
	}{
		{name: "18 channels in sixes", channels: 18, size: 6, want: []string{"ch01-06", "ch07-12", "ch13-18"}},
		{name: "single group", channels: 6, size: 6, want: []string{"ch01-06"}},
		{name: "ragged tail", channels: 8, size: 6, want: []string{"ch01-06", "ch07-08"}},
		{name: "one channel", channels: 1, size: 6, want: []string{"ch01-01"}},
		{name: "zero channels", channels: 0, size: 6, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := Partition(tt.channels, tt.size)
			names := make([]string, 0, len(groups))
			for _, g := range groups {
				names = append(names, g.Name())
			}
			if tt.want == nil {
				assert.Empty(t, names)
			} else {
				assert.Equal(t, tt.want, names)
			}
		})
	}
}

func TestForChannel(t *testing.T) {
	g, err := ForChannel(7, 18, 6)
	require.NoError(t, err)
	assert.Equal(t, "ch07-12", g.Name())
	assert.Equal(t, 0, g.IndexOf(7))
	assert.Equal(t, 5, g.IndexOf(12))

	g, err = ForChannel(18, 18, 6)
	require.NoError(t, err)
	assert.Equal(t, "ch13-18", g.Name())

	// Ragged final group.
	g, err = ForChannel(8, 8, 6)
	require.NoError(t, err)
	assert.Equal(t, "ch07-08", g.Name())
	assert.Equal(t, 1, g.IndexOf(8))

	_, err = ForChannel(0, 18, 6)
	assert.Error(t, err)
	_, err = ForChannel(19, 18, 6)
	assert.Error(t, err)
}

func TestFromFilename(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		wantLabel string
		wantSeg   int
	}{
		{
			name:      "full capture filename",
			filename:  "2026-01-02T03-04-05_seg00017_ch01-06.flac",
			wantLabel: "ch01-06",
			wantSeg:   17,
		},
		{
			name:      "group only",
			filename:  "take3_ch07-12.wav",
			wantLabel: "ch07-12",
			wantSeg:   -1,
		},
		{
			name:      "no group",
			filename:  "ambient.wav",
			wantLabel: "",
			wantSeg:   -1,
		},
		{
			name:      "wrong extension ignored",
			filename:  "seg00001_ch01-06.mp3",
			wantLabel: "",
			wantSeg:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, seg := FromFilename(tt.filename)
			assert.Equal(t, tt.wantLabel, label)
			assert.Equal(t, tt.wantSeg, seg)
		})
	}
}
