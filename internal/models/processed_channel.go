package models

// ProcessedChannel is the per-channel outcome of session processing: the
// master MP3 rendition plus streaming derivatives. At most one row exists per
// (session, channel); reprocessing replaces it.
//
// IsQuiet and IsSilent are distinct flags with distinct gating roles: quiet
// (peak amplitude under the quiet threshold) selects the low MP3 quality and
// skips normalization; silent (mean volume under the stricter silence
// threshold) suppresses peaks and HLS generation.
type ProcessedChannel struct {
	BaseModel

	SessionID     string `gorm:"not null;size:255;index;uniqueIndex:idx_processed_channel,priority:1" json:"session_id"`
	ChannelNumber int    `gorm:"not null;uniqueIndex:idx_processed_channel,priority:2" json:"channel_number"`

	LocalPath string `gorm:"not null;size:1024" json:"local_path"`
	S3Key     string `gorm:"size:1024" json:"s3_key,omitempty"`
	S3URL     string `gorm:"size:1024" json:"s3_url,omitempty"`
	HLSURL    string `gorm:"size:1024" json:"hls_url,omitempty"`
	PeaksURL  string `gorm:"size:1024" json:"peaks_url,omitempty"`

	FileSize        int64    `gorm:"not null;default:0" json:"file_size"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`

	IsQuiet  bool `gorm:"not null;default:false" json:"is_quiet"`
	IsSilent bool `gorm:"not null;default:false" json:"is_silent"`
}

// TableName returns the table name for ProcessedChannel.
func (ProcessedChannel) TableName() string {
	return "processed_channels"
}
