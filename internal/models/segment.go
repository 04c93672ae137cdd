package models

// SegmentFormat is the container format of an uploaded segment.
type SegmentFormat string

const (
	// SegmentFormatWAV is an uncompressed PCM WAV container.
	SegmentFormatWAV SegmentFormat = "wav"
	// SegmentFormatFLAC is a lossless FLAC container.
	SegmentFormatFLAC SegmentFormat = "flac"
)

// Extension returns the file extension for the format.
func (f SegmentFormat) Extension() string {
	return string(f)
}

// ContentType returns the MIME type for the format.
func (f SegmentFormat) ContentType() string {
	if f == SegmentFormatFLAC {
		return "audio/flac"
	}
	return "audio/wav"
}

// UnknownChannelGroup is the reserved group label recorded when neither the
// headers nor the filename identify the channel group. It never parses as a
// chAA-BB range, so the channel resolver skips such segments with a warning.
const UnknownChannelGroup = "unknown"

// Segment is one fixed-duration audio file covering a contiguous channel
// group of a session. Re-uploads of the same (session, number, group) replace
// the row: last writer wins.
type Segment struct {
	BaseModel

	SessionID     string `gorm:"not null;size:255;index;uniqueIndex:idx_segment_identity,priority:1" json:"session_id"`
	SegmentNumber int    `gorm:"not null;uniqueIndex:idx_segment_identity,priority:2" json:"segment_number"`
	ChannelGroup  string `gorm:"not null;size:20;uniqueIndex:idx_segment_identity,priority:3" json:"channel_group"`

	Format    SegmentFormat `gorm:"not null;size:10;default:'wav'" json:"format"`
	LocalPath string        `gorm:"not null;size:1024" json:"local_path"`
	S3Key     string        `gorm:"size:1024" json:"s3_key,omitempty"`
	FileSize  int64         `gorm:"not null;default:0" json:"file_size"`
	ReceivedAt Time         `gorm:"not null" json:"received_at"`
}

// TableName returns the table name for Segment.
func (Segment) TableName() string {
	return "segments"
}

// Uploaded returns true once the segment has been replicated to the object
// store.
func (s *Segment) Uploaded() bool {
	return s.S3Key != ""
}
