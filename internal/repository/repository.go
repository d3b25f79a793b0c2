package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	ID          string
	Transcriber string
	Model       string
	Language    string
	StartedAt   time.Time
}

type CompleteSessionInput struct {
	SessionID string
	EndedAt   time.Time
}

type InsertSegmentInput struct {
	SessionID    string
	Content      string
	Speaker      *int
	SegmentIndex int
	SpokenAt     time.Time
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	UpdateSessionCompleted(ctx context.Context, input CompleteSessionInput) error
	// CompleteRunningSessions closes sessions left running by a previous
	// process and reports how many were closed.
	CompleteRunningSessions(ctx context.Context, endedAt time.Time) (int64, error)
}

type TranscriptRepository interface {
	InsertSegment(ctx context.Context, input InsertSegmentInput) error
	ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]TranscriptSegment, error)
}

type Repository interface {
	SessionRepository
	TranscriptRepository
	Close() error
}
