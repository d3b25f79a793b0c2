package transcriber

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/gorilla/websocket"
)

type recordingReceiver struct {
	mu      sync.Mutex
	results []transcriber.Fragment
	errs    []error
	closed  chan struct{}
	once    sync.Once
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{closed: make(chan struct{})}
}

func (r *recordingReceiver) OnResult(f transcriber.Fragment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, f)
}

func (r *recordingReceiver) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReceiver) OnClosed() {
	r.once.Do(func() { close(r.closed) })
}

func (r *recordingReceiver) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream close")
	}
}

func (r *recordingReceiver) snapshot() ([]transcriber.Fragment, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transcriber.Fragment(nil), r.results...), append([]error(nil), r.errs...)
}

type fakeDeepgram struct {
	server   *httptest.Server
	header   chan http.Header
	query    chan url.Values
	audio    chan []byte
	messages []string
	// closeAfterMessages closes the socket from the server side with a normal
	// close frame once messages were sent.
	closeAfterMessages bool
}

func newFakeDeepgram(t *testing.T, messages []string, closeAfterMessages bool) *fakeDeepgram {
	t.Helper()
	f := &fakeDeepgram{
		header:             make(chan http.Header, 1),
		query:              make(chan url.Values, 1),
		audio:              make(chan []byte, 16),
		messages:           messages,
		closeAfterMessages: closeAfterMessages,
	}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.header <- r.Header.Clone()
		f.query <- r.URL.Query()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for _, m := range f.messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		if f.closeAfterMessages {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
			return
		}
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				f.audio <- data
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDeepgram) endpoint() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/listen"
}

func newTestDeepgram(endpoint string) transcriber.Transcriber {
	return NewDeepgramTranscriber(DeepgramConfig{
		APIKey:           "test-key",
		Endpoint:         endpoint,
		Model:            "nova-3",
		Language:         "en-US",
		SmartFormat:      true,
		InterimResults:   true,
		Diarize:          true,
		UtteranceEndMs:   1000,
		EndpointingMs:    300,
		HandshakeTimeout: 5 * time.Second,
	})
}

func TestParseResultMessage_FinalWithSpeaker(t *testing.T) {
	f, ok, err := parseResultMessage([]byte(`{"is_final": true, "channel": {"alternatives": [{"transcript": "hello world", "speaker": 0}]}}`))
	if err != nil || !ok {
		t.Fatalf("unexpected parse result: ok=%v err=%v", ok, err)
	}
	if f.Text != "hello world" || !f.IsFinal {
		t.Fatalf("unexpected fragment: %+v", f)
	}
	if f.Speaker == nil || *f.Speaker != 0 {
		t.Fatalf("expected speaker 0, got %v", f.Speaker)
	}
}

func TestParseResultMessage_FinalityDefaultsToFalse(t *testing.T) {
	f, ok, err := parseResultMessage([]byte(`{"channel": {"alternatives": [{"transcript": "how"}]}}`))
	if err != nil || !ok {
		t.Fatalf("unexpected parse result: ok=%v err=%v", ok, err)
	}
	if f.IsFinal {
		t.Fatal("expected interim fragment when is_final is absent")
	}
	if f.Speaker != nil {
		t.Fatalf("expected no speaker, got %d", *f.Speaker)
	}
}

func TestParseResultMessage_NullSpeaker(t *testing.T) {
	f, ok, err := parseResultMessage([]byte(`{"is_final": true, "channel": {"alternatives": [{"transcript": "hi", "speaker": null}]}}`))
	if err != nil || !ok {
		t.Fatalf("unexpected parse result: ok=%v err=%v", ok, err)
	}
	if f.Speaker != nil {
		t.Fatalf("expected nil speaker, got %d", *f.Speaker)
	}
}

func TestParseResultMessage_IgnoresNonResultMessages(t *testing.T) {
	for _, msg := range []string{
		`{"type": "Metadata", "request_id": "abc"}`,
		`{"type": "UtteranceEnd", "last_word_end": 2.3}`,
		`{"type": "SpeechStarted", "timestamp": 0.5}`,
		`{"type": "Results", "channel": {"alternatives": []}}`,
	} {
		_, ok, err := parseResultMessage([]byte(msg))
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", msg, err)
		}
		if ok {
			t.Fatalf("expected no fragment for %s", msg)
		}
	}
}

func TestParseResultMessage_Malformed(t *testing.T) {
	for _, msg := range []string{
		`not json`,
		`{"is_final": true}`,
		`{"is_final": "yes", "channel": {"alternatives": [{"transcript": "x"}]}}`,
	} {
		if _, _, err := parseResultMessage([]byte(msg)); err == nil {
			t.Fatalf("expected error for %s", msg)
		}
	}
}

func TestListenURL_FixedAudioParameters(t *testing.T) {
	dg := newTestDeepgram("wss://api.deepgram.com/v1/listen").(*DeepgramTranscriber)
	raw, err := dg.listenURL()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("unexpected url: %v", err)
	}
	want := map[string]string{
		"encoding":         "linear16",
		"sample_rate":      "16000",
		"channels":         "1",
		"model":            "nova-3",
		"language":         "en-US",
		"smart_format":     "true",
		"interim_results":  "true",
		"utterance_end_ms": "1000",
		"endpointing":      "300",
		"diarize":          "true",
	}
	for k, v := range want {
		if got := u.Query().Get(k); got != v {
			t.Fatalf("query %s = %q, want %q", k, got, v)
		}
	}
}

func TestListenURL_InvalidScheme(t *testing.T) {
	dg := newTestDeepgram("https://api.deepgram.com/v1/listen").(*DeepgramTranscriber)
	_, err := dg.listenURL()
	if !errors.Is(err, transcriber.ErrInvalidEndpoint) {
		t.Fatalf("expected ErrInvalidEndpoint, got %v", err)
	}
}

func TestStartStreaming_SendsAuthAndAudio(t *testing.T) {
	fake := newFakeDeepgram(t, nil, false)
	recv := newRecordingReceiver()

	w, err := newTestDeepgram(fake.endpoint()).StartStreaming(context.Background(), "session-1", recv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	header := <-fake.header
	if got := header.Get("Authorization"); got != "Token test-key" {
		t.Fatalf("unexpected authorization header: %q", got)
	}
	if got := (<-fake.query).Get("sample_rate"); got != "16000" {
		t.Fatalf("unexpected sample_rate: %q", got)
	}

	if err := w.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.Write(nil); err != nil {
		t.Fatalf("empty write should be a no-op, got %v", err)
	}
	select {
	case got := <-fake.audio:
		if string(got) != string([]byte{1, 2, 3, 4}) {
			t.Fatalf("unexpected audio frame: %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for audio frame")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	recv.waitClosed(t)
	if _, errs := recv.snapshot(); len(errs) != 0 {
		t.Fatalf("expected no errors on local close, got %v", errs)
	}
	if err := w.Write([]byte{1}); err == nil {
		t.Fatal("expected write after close to fail")
	}
}

func TestStartStreaming_DeliversResultsAndSkipsMalformed(t *testing.T) {
	fake := newFakeDeepgram(t, []string{
		`{"type": "Metadata"}`,
		`garbage`,
		`{"is_final": false, "channel": {"alternatives": [{"transcript": "how"}]}}`,
		`{"is_final": true, "channel": {"alternatives": [{"transcript": "how are you", "speaker": 1}]}}`,
	}, true)
	recv := newRecordingReceiver()

	if _, err := newTestDeepgram(fake.endpoint()).StartStreaming(context.Background(), "session-1", recv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recv.waitClosed(t)

	results, errs := recv.snapshot()
	if len(errs) != 0 {
		t.Fatalf("expected remote normal close without errors, got %v", errs)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}
	if results[0].Text != "how" || results[0].IsFinal {
		t.Fatalf("unexpected interim result: %+v", results[0])
	}
	if results[1].Text != "how are you" || !results[1].IsFinal || results[1].Speaker == nil || *results[1].Speaker != 1 {
		t.Fatalf("unexpected final result: %+v", results[1])
	}
}

func TestStartStreaming_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http")
	_, err := newTestDeepgram(endpoint).StartStreaming(context.Background(), "session-1", newRecordingReceiver())
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected status code in error, got %v", err)
	}
}
