package transcriber

import (
	"context"
	"errors"
)

// ErrInvalidEndpoint is returned by StartStreaming when the configured
// endpoint cannot be used; no connection was attempted.
var ErrInvalidEndpoint = errors.New("invalid URI")

// Fragment is one parsed unit of transcript output.
type Fragment struct {
	Text    string
	IsFinal bool
	Speaker *int
}

type StreamWriter interface {
	Write(pcm []byte) error
	Close() error
}

// ResultReceiver is called from the transport's reader goroutine. OnError is
// always followed by OnClosed; OnClosed is called once per stream.
type ResultReceiver interface {
	OnResult(fragment Fragment)
	OnError(err error)
	OnClosed()
}

// Transcriber opens one streaming recognition session. StartStreaming
// returns once the stream is established; ctx bounds the connection attempt.
type Transcriber interface {
	StartStreaming(ctx context.Context, sessionID string, receiver ResultReceiver) (StreamWriter, error)
}
