package webhook

import (
	"context"
	"time"
)

// Transcript is a finished session's transcript file and the metadata sent
// alongside it.
type Transcript struct {
	SessionID    string
	Transcriber  string
	Language     string
	StartedAt    time.Time
	EndedAt      time.Time
	SegmentCount int
	Filename     string
	Body         []byte
}

type Sender interface {
	SendTranscript(ctx context.Context, t Transcript) error
}
