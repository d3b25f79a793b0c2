package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/google/uuid"
)

// CaptureFormat is the only format the transcription endpoint is asked for.
var CaptureFormat = audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Client manages one transcription connection at a time: it opens the
// stream, forwards captured audio and assembles the transcript from the
// results. Connect, StartRecording, StopRecording and Disconnect may be
// called from any goroutine; outcomes are reported to the Observer.
type Client struct {
	transcriber      transcriber.Transcriber
	source           audio.Source
	archiver         *Archiver
	connectTimeout   time.Duration
	bufferMultiplier int

	// recordMu serializes StartRecording and StopRecording.
	recordMu sync.Mutex

	mu       sync.Mutex
	state    State
	conn     *connection
	capture  *captureLoop
	observer Observer

	transcript Transcript
	wg         sync.WaitGroup
}

// NewClient returns a disconnected client. archiver may be nil.
func NewClient(cfg *config.Config, stt transcriber.Transcriber, source audio.Source, archiver *Archiver) *Client {
	multiplier := cfg.AudioBufferMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	return &Client{
		transcriber:      stt,
		source:           source,
		archiver:         archiver,
		connectTimeout:   cfg.ConnectTimeout,
		bufferMultiplier: multiplier,
		observer:         nopObserver{},
	}
}

func (c *Client) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *Client) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture != nil
}

// Transcript returns the accumulated final transcript.
func (c *Client) Transcript() string {
	return c.transcript.String()
}

// ResetTranscript clears the accumulated transcript. Connection and capture
// state are left alone.
func (c *Client) ResetTranscript() {
	c.transcript.Reset()
}

// Connect starts a single connection attempt in the background and returns
// immediately. It does nothing unless the client is disconnected.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.connectTimeout)
	conn := &connection{client: c, sessionID: uuid.NewString(), cancel: cancel}
	c.state = StateConnecting
	c.conn = conn
	c.mu.Unlock()

	slog.Info("connecting", "session_id", conn.sessionID)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.dial(ctx, conn)
	}()
}

func (c *Client) dial(ctx context.Context, conn *connection) {
	if c.archiver != nil {
		c.archiver.Begin(conn.sessionID, time.Now())
	}

	stream, err := c.transcriber.StartStreaming(ctx, conn.sessionID, conn)
	if err != nil {
		switch {
		case errors.Is(err, transcriber.ErrInvalidEndpoint):
			slog.Error("invalid transcription endpoint", "error", err, "session_id", conn.sessionID)
			c.abandon(conn)
			c.notifyError(fmt.Sprintf(messageInvalidURIFmt,
				strings.TrimPrefix(err.Error(), transcriber.ErrInvalidEndpoint.Error()+": ")))
		case conn.isClosed():
			slog.Info("connection attempt canceled", "session_id", conn.sessionID)
		default:
			slog.Error("failed to connect", "error", err, "session_id", conn.sessionID)
			c.notifyError(fmt.Sprintf(messageWebSocketErrorFmt, err))
			c.handleClosed(conn)
		}
		return
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		slog.Info("connection closed before it was established", "session_id", conn.sessionID)
		_ = stream.Close()
		return
	}
	conn.stream = stream
	c.state = StateConnected
	c.mu.Unlock()

	slog.Info("connected", "session_id", conn.sessionID)
	c.notifyStatus(true)
}

// abandon drops a connection that never got as far as a connection attempt,
// so no status change is reported for it.
func (c *Client) abandon(conn *connection) {
	first := false
	conn.closeOnce.Do(func() {
		first = true
		conn.closed.Store(true)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.state = StateDisconnected
		}
		c.mu.Unlock()
	})
	if first && c.archiver != nil {
		c.archiver.Finish(conn.sessionID, time.Now())
	}
}

// handleClosed tears down conn and reports the disconnection. It runs at most
// once per connection whichever side closed first. The observer is called
// outside the once so it may call back into the client.
func (c *Client) handleClosed(conn *connection) {
	first := false
	conn.closeOnce.Do(func() {
		first = true
		conn.closed.Store(true)
		conn.cancel()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.state = StateDisconnected
		}
		if c.capture != nil && c.capture.conn == conn {
			// The loop releases the source on its own after the current read.
			c.capture.active.Store(false)
			c.capture = nil
		}
		stream := conn.stream
		c.mu.Unlock()

		if stream != nil {
			if err := stream.Close(); err != nil {
				slog.Debug("failed to close transcription stream", "error", err, "session_id", conn.sessionID)
			}
		}
	})
	if !first {
		return
	}
	slog.Info("disconnected", "session_id", conn.sessionID)
	if c.archiver != nil {
		c.archiver.Finish(conn.sessionID, time.Now())
	}
	c.notifyStatus(false)
}

// Disconnect stops recording and closes the connection, or cancels the
// attempt in progress. Calling it while disconnected does nothing.
func (c *Client) Disconnect() {
	c.StopRecording()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	c.handleClosed(conn)
}

// StartRecording opens the audio source and starts forwarding it. The
// client must be connected; otherwise one error is reported and nothing
// starts.
func (c *Client) StartRecording() {
	c.recordMu.Lock()
	message := c.startRecording()
	c.recordMu.Unlock()
	if message != "" {
		c.notifyError(message)
	}
}

// startRecording returns the observer-facing error, if any.
func (c *Client) startRecording() string {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return messageNotConnected
	}
	if c.capture != nil {
		c.mu.Unlock()
		return ""
	}
	conn := c.conn
	c.mu.Unlock()

	chunkSize, err := c.source.MinBufferSize(CaptureFormat)
	if err != nil || chunkSize <= 0 {
		slog.Error("failed to get audio buffer size", "error", err, "size", chunkSize, "session_id", conn.sessionID)
		return messageBufferSizeError
	}
	stream, err := c.source.Open(CaptureFormat, chunkSize*c.bufferMultiplier)
	if err != nil {
		slog.Error("failed to open audio source", "error", err, "session_id", conn.sessionID)
		return fmt.Sprintf(messageCaptureInitFmt, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		slog.Error("failed to start audio source", "error", err, "session_id", conn.sessionID)
		return fmt.Sprintf(messageCaptureInitFmt, err)
	}

	loop := &captureLoop{conn: conn, stream: stream, chunkSize: chunkSize, done: make(chan struct{})}
	loop.active.Store(true)
	c.mu.Lock()
	c.capture = loop
	c.mu.Unlock()

	slog.Info("recording started", "session_id", conn.sessionID, "chunk_bytes", chunkSize, "buffer_bytes", chunkSize*c.bufferMultiplier)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.runCapture(loop)
		c.finishCapture(loop)
		if err != nil {
			c.notifyError(fmt.Sprintf(messageCaptureReadFmt, err))
		}
	}()
	return ""
}

// StopRecording ends the capture loop after its current read and releases
// the audio source. It is a no-op when not recording.
func (c *Client) StopRecording() {
	c.recordMu.Lock()
	defer c.recordMu.Unlock()

	c.mu.Lock()
	loop := c.capture
	c.capture = nil
	c.mu.Unlock()
	if loop == nil {
		return
	}
	loop.active.Store(false)
	<-loop.done
	slog.Info("recording stopped", "session_id", loop.conn.sessionID)
}

type captureLoop struct {
	conn      *connection
	stream    audio.Stream
	chunkSize int
	active    atomic.Bool
	done      chan struct{}
}

// runCapture reads fixed-size chunks and sends each non-empty one until the
// loop is stopped, the source ends or the connection goes away.
func (c *Client) runCapture(loop *captureLoop) error {
	buf := make([]byte, loop.chunkSize)
	for loop.active.Load() {
		n, err := loop.stream.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("audio source ended", "session_id", loop.conn.sessionID)
				return nil
			}
			if !loop.active.Load() {
				return nil
			}
			slog.Error("failed to read audio", "error", err, "session_id", loop.conn.sessionID)
			return err
		}
		if n == 0 || !loop.active.Load() {
			continue
		}
		stream := c.connectedStream(loop.conn)
		if stream == nil {
			slog.Info("connection gone; capture loop exiting", "session_id", loop.conn.sessionID)
			return nil
		}
		if err := stream.Write(buf[:n]); err != nil {
			// The transport's reader reports the failure.
			slog.Warn("failed to send audio", "error", err, "session_id", loop.conn.sessionID, "bytes", n)
			return nil
		}
	}
	return nil
}

func (c *Client) finishCapture(loop *captureLoop) {
	if err := loop.stream.Close(); err != nil {
		slog.Debug("failed to release audio source", "error", err, "session_id", loop.conn.sessionID)
	}
	c.mu.Lock()
	if c.capture == loop {
		c.capture = nil
	}
	c.mu.Unlock()
	close(loop.done)
}

func (c *Client) connectedStream(conn *connection) transcriber.StreamWriter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn || c.state != StateConnected {
		return nil
	}
	return conn.stream
}

func (c *Client) handleFragment(conn *connection, f transcriber.Fragment) {
	if f.Text == "" || conn.isClosed() {
		return
	}
	text := formatFragment(f)
	if !f.IsFinal {
		c.notifyResult(text, false)
		return
	}
	full := c.transcript.Append(text)
	if c.archiver != nil {
		c.archiver.Record(conn.sessionID, f, time.Now())
	}
	c.notifyResult(full, true)
}

// Wait blocks until background connection, capture and archive work has
// finished.
func (c *Client) Wait() {
	c.wg.Wait()
	if c.archiver != nil {
		c.archiver.Wait()
	}
}

func (c *Client) currentObserver() Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}

func (c *Client) notifyResult(text string, isFinal bool) {
	c.currentObserver().OnTextResult(text, isFinal)
}

func (c *Client) notifyError(message string) {
	c.currentObserver().OnError(message)
}

func (c *Client) notifyStatus(connected bool) {
	c.currentObserver().OnConnectionStatusChanged(connected)
}

// connection is the receiver for one transcription stream.
type connection struct {
	client    *Client
	sessionID string
	cancel    context.CancelFunc
	// stream is guarded by client.mu.
	stream transcriber.StreamWriter

	closed    atomic.Bool
	closeOnce sync.Once
}

func (conn *connection) isClosed() bool {
	return conn.closed.Load()
}

func (conn *connection) OnResult(f transcriber.Fragment) {
	conn.client.handleFragment(conn, f)
}

func (conn *connection) OnError(err error) {
	if conn.isClosed() {
		slog.Debug("ignoring error after close", "error", err, "session_id", conn.sessionID)
		return
	}
	conn.client.notifyError(fmt.Sprintf(messageWebSocketErrorFmt, err))
}

func (conn *connection) OnClosed() {
	conn.client.handleClosed(conn)
}
