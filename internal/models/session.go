package models

// SessionStatus represents the lifecycle state of a recording session.
type SessionStatus string

const (
	// SessionStatusReceiving indicates segments are still arriving.
	SessionStatusReceiving SessionStatus = "receiving"
	// SessionStatusComplete indicates ingest has finished and the session is
	// awaiting processing.
	SessionStatusComplete SessionStatus = "complete"
	// SessionStatusProcessing indicates channel processing is underway.
	SessionStatusProcessing SessionStatus = "processing"
	// SessionStatusProcessed indicates at least one channel was produced.
	SessionStatusProcessed SessionStatus = "processed"
	// SessionStatusFailed indicates processing failed for every channel or
	// could not start.
	SessionStatusFailed SessionStatus = "failed"
)

// Session represents a single logical recording, the root aggregate that owns
// segments, processed channels, pipeline runs, annotations, channel settings,
// and a recording row.
//
// SessionID is the opaque identifier supplied by the capture agent; it is the
// key used on the wire and in blob/object-store paths. The ULID primary key
// is internal.
type Session struct {
	BaseModel

	SessionID  string        `gorm:"uniqueIndex;not null;size:255" json:"session_id"`
	Status     SessionStatus `gorm:"not null;default:'receiving';size:20;index" json:"status"`
	SampleRate int           `gorm:"not null;default:48000" json:"sample_rate"`
	Channels   int           `gorm:"not null;default:18" json:"channels"`

	// CompletedAt is set when the session first reaches complete.
	CompletedAt *Time `json:"completed_at,omitempty"`
	// ProcessedAt is set when the session first reaches processed.
	ProcessedAt *Time `json:"processed_at,omitempty"`
}

// TableName returns the table name for Session.
func (Session) TableName() string {
	return "sessions"
}

// IsReceiving returns true while segments may still arrive.
func (s *Session) IsReceiving() bool {
	return s.Status == SessionStatusReceiving
}

// IsTerminal returns true once the session is processed or failed.
func (s *Session) IsTerminal() bool {
	return s.Status == SessionStatusProcessed || s.Status == SessionStatusFailed
}

// CanComplete returns true if the session may transition to complete.
func (s *Session) CanComplete() bool {
	return s.Status == SessionStatusReceiving
}

// CanProcess returns true if processing may start.
func (s *Session) CanProcess() bool {
	return s.Status == SessionStatusComplete || s.Status == SessionStatusReceiving || s.Status == SessionStatusFailed
}
