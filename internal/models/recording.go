package models

// Recording is the 1:1 presentation row for a session: the title and notes
// shown in the viewer. Created with the session's first segment and updated
// when processing finishes.
type Recording struct {
	BaseModel

	SessionID string `gorm:"uniqueIndex;not null;size:255" json:"session_id"`
	Title     string `gorm:"not null;size:512" json:"title"`
	Notes     string `gorm:"size:4096" json:"notes,omitempty"`

	// ProcessedChannels is the channel count produced by the last successful
	// processing run, zero until then.
	ProcessedChannels int `gorm:"not null;default:0" json:"processed_channels"`
}

// TableName returns the table name for Recording.
func (Recording) TableName() string {
	return "recordings"
}
