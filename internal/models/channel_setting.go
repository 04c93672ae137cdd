package models

// ChannelSetting carries per-channel display metadata for a session, such as
// the instrument name shown in the viewer. One row per (session, channel).
type ChannelSetting struct {
	BaseModel

	SessionID     string `gorm:"not null;size:255;index;uniqueIndex:idx_channel_setting,priority:1" json:"session_id"`
	ChannelNumber int    `gorm:"not null;uniqueIndex:idx_channel_setting,priority:2" json:"channel_number"`

	Label string `gorm:"size:255" json:"label,omitempty"`
	Color string `gorm:"size:32" json:"color,omitempty"`
	Muted bool   `gorm:"not null;default:false" json:"muted"`
}

// TableName returns the table name for ChannelSetting.
func (ChannelSetting) TableName() string {
	return "channel_settings"
}
