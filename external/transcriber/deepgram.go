package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/gorilla/websocket"
)

const (
	audioEncoding        = "linear16"
	audioSampleRateHertz = 16000
	audioChannelCount    = 1

	// Time allowed to write one audio frame before the socket is considered stalled.
	deepgramWriteWait = 10 * time.Second
	deepgramCloseWait = time.Second

	deepgramResultsType = "Results"
)

type DeepgramConfig struct {
	APIKey           string
	Endpoint         string
	Model            string
	Language         string
	SmartFormat      bool
	InterimResults   bool
	Diarize          bool
	UtteranceEndMs   int
	EndpointingMs    int
	HandshakeTimeout time.Duration
}

type DeepgramTranscriber struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
}

func NewDeepgramTranscriber(cfg DeepgramConfig) transcriber.Transcriber {
	return &DeepgramTranscriber{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

func (t *DeepgramTranscriber) listenURL() (string, error) {
	u, err := url.Parse(t.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %w", transcriber.ErrInvalidEndpoint, err)
	}
	if u.Scheme != "wss" && u.Scheme != "ws" {
		return "", fmt.Errorf("%w: unsupported scheme %q", transcriber.ErrInvalidEndpoint, u.Scheme)
	}
	q := u.Query()
	q.Set("encoding", audioEncoding)
	q.Set("sample_rate", strconv.Itoa(audioSampleRateHertz))
	q.Set("channels", strconv.Itoa(audioChannelCount))
	q.Set("model", t.cfg.Model)
	q.Set("language", t.cfg.Language)
	q.Set("smart_format", strconv.FormatBool(t.cfg.SmartFormat))
	q.Set("interim_results", strconv.FormatBool(t.cfg.InterimResults))
	q.Set("diarize", strconv.FormatBool(t.cfg.Diarize))
	if t.cfg.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(t.cfg.UtteranceEndMs))
	}
	if t.cfg.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(t.cfg.EndpointingMs))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *DeepgramTranscriber) StartStreaming(ctx context.Context, sessionID string, receiver transcriber.ResultReceiver) (transcriber.StreamWriter, error) {
	endpoint, err := t.listenURL()
	if err != nil {
		return nil, err
	}
	slog.Info("connecting to deepgram", "session_id", sessionID, "model", t.cfg.Model, "language", t.cfg.Language)

	header := http.Header{
		"Authorization": {"Token " + t.cfg.APIKey},
	}
	conn, resp, err := t.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial deepgram: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}
	slog.Info("deepgram stream opened", "session_id", sessionID)

	s := &deepgramStream{sessionID: sessionID, conn: conn}
	go s.readLoop(receiver)
	return s, nil
}

type deepgramStream struct {
	sessionID string
	conn      *websocket.Conn

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// Write sends one binary frame. gorilla/websocket allows a single concurrent
// writer, hence writeMu.
func (s *deepgramStream) Write(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if s.closed.Load() {
		return io.ErrClosedPipe
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(deepgramWriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
		if werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(deepgramCloseWait)); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			slog.Debug("failed to send close frame", "error", werr, "session_id", s.sessionID)
		}
		err = s.conn.Close()
	})
	return err
}

func (s *deepgramStream) readLoop(receiver transcriber.ResultReceiver) {
	defer receiver.OnClosed()
	defer func() {
		s.closed.Store(true)
		_ = s.conn.Close()
	}()
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				slog.Info("deepgram stream closed", "session_id", s.sessionID, "code", closeErr.Code, "reason", closeErr.Text)
			case s.closed.Load():
				slog.Info("deepgram receive loop stopped", "session_id", s.sessionID, "reason", err.Error())
			default:
				slog.Error("deepgram receive failed", "error", err, "session_id", s.sessionID)
				receiver.OnError(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			slog.Debug("ignoring non-text frame", "session_id", s.sessionID, "type", msgType)
			continue
		}
		fragment, ok, err := parseResultMessage(data)
		if err != nil {
			slog.Warn("failed to parse deepgram message", "error", err, "session_id", s.sessionID, "message", string(data))
			continue
		}
		if !ok {
			continue
		}
		receiver.OnResult(fragment)
	}
}

type deepgramResponse struct {
	Type    string           `json:"type"`
	IsFinal bool             `json:"is_final"`
	Channel *deepgramChannel `json:"channel"`
}

type deepgramChannel struct {
	Alternatives []deepgramAlternative `json:"alternatives"`
}

type deepgramAlternative struct {
	Transcript string `json:"transcript"`
	Speaker    *int   `json:"speaker"`
}

// parseResultMessage extracts the best alternative of a results message.
// ok is false for messages that carry no transcript (metadata, utterance
// end, speech started, empty alternatives).
func parseResultMessage(data []byte) (fragment transcriber.Fragment, ok bool, err error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return transcriber.Fragment{}, false, fmt.Errorf("decode message: %w", err)
	}
	if resp.Type != "" && resp.Type != deepgramResultsType {
		return transcriber.Fragment{}, false, nil
	}
	if resp.Channel == nil {
		return transcriber.Fragment{}, false, errors.New("message has no channel")
	}
	if len(resp.Channel.Alternatives) == 0 {
		return transcriber.Fragment{}, false, nil
	}
	alt := resp.Channel.Alternatives[0]
	return transcriber.Fragment{
		Text:    alt.Transcript,
		IsFinal: resp.IsFinal,
		Speaker: alt.Speaker,
	}, true, nil
}
