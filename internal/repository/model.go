package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
)

type Session struct {
	ID          string
	Transcriber string
	Model       string
	Language    string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      SessionStatus
}

type TranscriptSegment struct {
	SessionID    string
	Content      string
	Speaker      *int
	SegmentIndex int
	SpokenAt     time.Time
	CreatedAt    time.Time
}
