package objectstore

import (
	"fmt"
	"strings"
)

// KeyLayout derives object keys from the configured prefixes. Prefixes are
// normalized to end with a single slash; empty prefixes collapse to the
// bucket root.
type KeyLayout struct {
	segments string
	hls      string
	peaks    string
}

// NewKeyLayout builds a KeyLayout from the three configured prefixes.
func NewKeyLayout(segmentsPrefix, hlsPrefix, peaksPrefix string) KeyLayout {
	return KeyLayout{
		segments: normalizePrefix(segmentsPrefix),
		hls:      normalizePrefix(hlsPrefix),
		peaks:    normalizePrefix(peaksPrefix),
	}
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// Segment returns the key for a raw uploaded segment file.
func (k KeyLayout) Segment(sessionID, filename string) string {
	return fmt.Sprintf("%s%s/%s", k.segments, sessionID, filename)
}

// ChannelMP3 returns the key for a per-channel master MP3.
func (k KeyLayout) ChannelMP3(sessionID string, channel int) string {
	return fmt.Sprintf("%s%s/channel_%02d.mp3", k.segments, sessionID, channel)
}

// ChannelPeaks returns the key for a per-channel peaks JSON.
func (k KeyLayout) ChannelPeaks(sessionID string, channel int) string {
	return fmt.Sprintf("%s%s/channel_%02d_peaks.json", k.peaks, sessionID, channel)
}

// ChannelHLSPlaylist returns the key for a per-channel HLS playlist.
func (k KeyLayout) ChannelHLSPlaylist(sessionID string, channel int) string {
	return fmt.Sprintf("%s%s/channel_%02d.m3u8", k.hls, sessionID, channel)
}

// HLSFile returns the key for an HLS media segment by filename.
func (k KeyLayout) HLSFile(sessionID, filename string) string {
	return fmt.Sprintf("%s%s/%s", k.hls, sessionID, filename)
}

// SessionPrefixes returns the three prefixes a delete cascade must purge.
func (k KeyLayout) SessionPrefixes(sessionID string) []string {
	return []string{
		k.segments + sessionID + "/",
		k.hls + sessionID + "/",
		k.peaks + sessionID + "/",
	}
}
