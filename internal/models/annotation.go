package models

// Annotation is a timestamped note attached to a session, optionally scoped
// to a single channel. Annotations are metadata collaborators: persisted with
// the session and removed with it, but not consulted by the processing core.
type Annotation struct {
	BaseModel

	SessionID     string  `gorm:"not null;size:255;index" json:"session_id"`
	ChannelNumber *int    `json:"channel_number,omitempty"`
	TimeSeconds   float64 `gorm:"not null;default:0" json:"time_seconds"`
	Text          string  `gorm:"not null;size:4096" json:"text"`
	Author        string  `gorm:"size:255" json:"author,omitempty"`
}

// TableName returns the table name for Annotation.
func (Annotation) TableName() string {
	return "annotations"
}
