package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

type fakeRepository struct {
	mu        sync.Mutex
	createErr error
	sessions  map[string]*repository.Session
	segments  map[string][]repository.TranscriptSegment

	// createGate and insertGate, when set, hold the call until closed.
	createGate    chan struct{}
	insertGate    chan struct{}
	insertStarted chan struct{}
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		sessions: make(map[string]*repository.Session),
		segments: make(map[string][]repository.TranscriptSegment),
	}
}

func (r *fakeRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	if r.createGate != nil {
		select {
		case <-r.createGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	s := &repository.Session{
		ID:          input.ID,
		Transcriber: input.Transcriber,
		Model:       input.Model,
		Language:    input.Language,
		StartedAt:   input.StartedAt,
		Status:      repository.SessionStatusRunning,
	}
	r.sessions[input.ID] = s
	return s, nil
}

func (r *fakeRepository) UpdateSessionCompleted(_ context.Context, input repository.CompleteSessionInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[input.SessionID]
	if !ok {
		return errors.New("not found")
	}
	s.Status = repository.SessionStatusCompleted
	endedAt := input.EndedAt
	s.EndedAt = &endedAt
	return nil
}

func (r *fakeRepository) CompleteRunningSessions(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	if r.insertStarted != nil {
		r.insertStarted <- struct{}{}
	}
	if r.insertGate != nil {
		select {
		case <-r.insertGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments[input.SessionID] = append(r.segments[input.SessionID], repository.TranscriptSegment{
		SessionID:    input.SessionID,
		Content:      input.Content,
		Speaker:      input.Speaker,
		SegmentIndex: input.SegmentIndex,
		SpokenAt:     input.SpokenAt,
	})
	return nil
}

func (r *fakeRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]repository.TranscriptSegment(nil), r.segments[sessionID]...), nil
}

func (r *fakeRepository) Close() error { return nil }

func (r *fakeRepository) onlySession(t *testing.T) *repository.Session {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(r.sessions))
	}
	for _, s := range r.sessions {
		copied := *s
		return &copied
	}
	return nil
}

type fakeWebhook struct {
	mu       sync.Mutex
	filename string
	body     string
	segments int
	calls    int
}

func (w *fakeWebhook) SendTranscript(_ context.Context, t webhook.Transcript) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	w.filename = t.Filename
	w.body = string(t.Body)
	w.segments = t.SegmentCount
	return nil
}

type fakeDiscord struct {
	mu       sync.Mutex
	files    []discord.FileMessage
	messages []string
}

func (d *fakeDiscord) SendChannelMessage(channelID, content string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, channelID+": "+content)
	return nil
}

func (d *fakeDiscord) SendChannelMessageWithFile(msg discord.FileMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = append(d.files, msg)
	return nil
}

func archiveConfig() *config.Config {
	cfg := testConfig()
	cfg.Transcriber = config.TranscriberDeepgram
	cfg.DeepgramModel = "nova-3"
	cfg.TranscribeLanguage = "en-US"
	cfg.TranscriptTimezone = "UTC"
	cfg.DiscordChannelID = "chan-1"
	return cfg
}

func TestArchiver_PublishesFinishedSession(t *testing.T) {
	repo := newFakeRepository()
	wh := &fakeWebhook{}
	dc := &fakeDiscord{}
	stt := &fakeTranscriber{}
	c := NewClient(archiveConfig(), stt, &fakeSource{minSize: 640}, NewArchiver(archiveConfig(), repo, wh, dc))
	obs := newRecordingObserver()
	c.SetObserver(obs)

	connectClient(t, c, obs)
	stream := stt.lastStream(t)
	stream.send("hello world", true, intPtr(0))
	obs.expect(t, observerEvent{kind: "result", text: "Speaker 0: hello world", isFinal: true})
	stream.send("how", false, nil)
	obs.expect(t, observerEvent{kind: "result", text: "how", isFinal: false})
	stream.send("how are you", true, nil)
	obs.expect(t, observerEvent{kind: "result", text: "Speaker 0: hello world how are you", isFinal: true})

	c.Disconnect()
	obs.expect(t, observerEvent{kind: "status", connected: false})
	c.Wait()

	s := repo.onlySession(t)
	if s.Status != repository.SessionStatusCompleted || s.EndedAt == nil {
		t.Fatalf("expected completed session, got %+v", s)
	}
	if s.Model != "nova-3" || s.Language != "en-US" || s.Transcriber != "deepgram" {
		t.Fatalf("unexpected session metadata: %+v", s)
	}

	wh.mu.Lock()
	defer wh.mu.Unlock()
	if wh.calls != 1 {
		t.Fatalf("expected one webhook call, got %d", wh.calls)
	}
	if wh.segments != 2 {
		t.Fatalf("expected 2 segments, got %d", wh.segments)
	}
	if wh.filename != "kikitori-"+s.ID+".txt" {
		t.Fatalf("unexpected filename: %s", wh.filename)
	}
	if !strings.Contains(wh.body, "Speaker 0: hello world") || !strings.Contains(wh.body, "how are you") {
		t.Fatalf("unexpected transcript body: %s", wh.body)
	}
	if strings.Contains(wh.body, " how\n") || strings.HasSuffix(wh.body, " how") {
		t.Fatalf("interim result must not be archived: %s", wh.body)
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if len(dc.files) != 1 || dc.files[0].ChannelID != "chan-1" || string(dc.files[0].FileBody) != wh.body {
		t.Fatalf("unexpected discord upload: %+v", dc.files)
	}
}

func TestArchiver_SkipsEmptySession(t *testing.T) {
	repo := newFakeRepository()
	wh := &fakeWebhook{}
	stt := &fakeTranscriber{}
	c := NewClient(archiveConfig(), stt, &fakeSource{minSize: 640}, NewArchiver(archiveConfig(), repo, wh, &fakeDiscord{}))
	obs := newRecordingObserver()
	c.SetObserver(obs)

	connectClient(t, c, obs)
	c.Disconnect()
	c.Wait()

	if s := repo.onlySession(t); s.Status != repository.SessionStatusCompleted {
		t.Fatalf("expected completed session, got %s", s.Status)
	}
	wh.mu.Lock()
	defer wh.mu.Unlock()
	if wh.calls != 0 {
		t.Fatalf("expected no webhook call for an empty session, got %d", wh.calls)
	}
}

func TestArchiver_CreateFailureDoesNotBlockTranscription(t *testing.T) {
	repo := newFakeRepository()
	repo.createErr = errors.New("database is down")
	wh := &fakeWebhook{}
	dc := &fakeDiscord{}
	stt := &fakeTranscriber{}
	c := NewClient(archiveConfig(), stt, &fakeSource{minSize: 640}, NewArchiver(archiveConfig(), repo, wh, dc))
	obs := newRecordingObserver()
	c.SetObserver(obs)

	connectClient(t, c, obs)
	stt.lastStream(t).send("still works", true, nil)
	obs.expect(t, observerEvent{kind: "result", text: "still works", isFinal: true})
	c.Disconnect()
	c.Wait()

	wh.mu.Lock()
	defer wh.mu.Unlock()
	if wh.calls != 0 {
		t.Fatalf("expected nothing published for an unarchived session, got %d", wh.calls)
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if len(dc.files) != 0 {
		t.Fatalf("expected no transcript upload, got %d", len(dc.files))
	}
	if len(dc.messages) != 1 || !strings.HasPrefix(dc.messages[0], "chan-1: ") || !strings.Contains(dc.messages[0], "could not be archived") {
		t.Fatalf("expected one archive failure notice, got %v", dc.messages)
	}
}

func TestArchiver_PublishesSegmentStillBeingStoredAtDisconnect(t *testing.T) {
	repo := newFakeRepository()
	repo.insertGate = make(chan struct{})
	repo.insertStarted = make(chan struct{}, 1)
	wh := &fakeWebhook{}
	stt := &fakeTranscriber{}
	c := NewClient(archiveConfig(), stt, &fakeSource{minSize: 640}, NewArchiver(archiveConfig(), repo, wh, &fakeDiscord{}))
	obs := newRecordingObserver()
	c.SetObserver(obs)

	connectClient(t, c, obs)
	stt.lastStream(t).send("hello world", true, nil)
	obs.expect(t, observerEvent{kind: "result", text: "hello world", isFinal: true})
	select {
	case <-repo.insertStarted:
	case <-time.After(eventTimeout):
		t.Fatal("segment insert never started")
	}

	c.Disconnect()
	obs.expect(t, observerEvent{kind: "status", connected: false})
	close(repo.insertGate)
	c.Wait()

	wh.mu.Lock()
	defer wh.mu.Unlock()
	if wh.calls != 1 {
		t.Fatalf("expected the session to be published once, got %d", wh.calls)
	}
	if wh.segments != 1 || !strings.Contains(wh.body, "hello world") {
		t.Fatalf("expected the pending segment in the transcript, got %d segments: %s", wh.segments, wh.body)
	}
}

func TestArchiver_SlowStorageDoesNotDelayTranscription(t *testing.T) {
	repo := newFakeRepository()
	repo.createGate = make(chan struct{})
	repo.insertGate = make(chan struct{})
	wh := &fakeWebhook{}
	stt := &fakeTranscriber{}
	cfg := archiveConfig()
	cfg.ConnectTimeout = 200 * time.Millisecond
	c := NewClient(cfg, stt, &fakeSource{minSize: 640}, NewArchiver(cfg, repo, wh, &fakeDiscord{}))
	obs := newRecordingObserver()
	c.SetObserver(obs)

	started := time.Now()
	connectClient(t, c, obs)
	if elapsed := time.Since(started); elapsed >= cfg.ConnectTimeout {
		t.Fatalf("connect waited on the archive for %s", elapsed)
	}

	stream := stt.lastStream(t)
	stream.send("first", true, nil)
	obs.expect(t, observerEvent{kind: "result", text: "first", isFinal: true})
	stream.send("second", true, nil)
	obs.expect(t, observerEvent{kind: "result", text: "first second", isFinal: true})

	close(repo.createGate)
	close(repo.insertGate)
	c.Disconnect()
	obs.expect(t, observerEvent{kind: "status", connected: false})
	c.Wait()

	wh.mu.Lock()
	defer wh.mu.Unlock()
	if wh.calls != 1 || wh.segments != 2 {
		t.Fatalf("expected one publish with 2 segments, got calls=%d segments=%d", wh.calls, wh.segments)
	}
}
