package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
)

const (
	archiveWriteTimeout  = 10 * time.Second
	archiveFinishTimeout = time.Minute
)

// Archiver stores final segments per connection and, once the connection
// ends, publishes the finished transcript to the webhook and Discord. Each
// session has its own writer goroutine so storage never holds up the
// connection or the reader.
type Archiver struct {
	repo             repository.Repository
	webhook          webhook.Sender
	discord          discord.Client
	discordChannelID string
	meta             archiveMetadata

	mu       sync.Mutex
	sessions map[string]*archivedSession
	wg       sync.WaitGroup
}

type archiveMetadata struct {
	transcriber string
	model       string
	language    string
	timezone    string
	loc         *time.Location
}

type pendingSegment struct {
	fragment transcriber.Fragment
	index    int
	spokenAt time.Time
}

// archivedSession is guarded by Archiver.mu.
type archivedSession struct {
	id        string
	startedAt time.Time
	nextIndex int
	pending   []pendingSegment
	finished  bool
	endedAt   time.Time
	wake      chan struct{}
}

func (s *archivedSession) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func NewArchiver(cfg *config.Config, repo repository.Repository, wh webhook.Sender, dc discord.Client) *Archiver {
	model := cfg.DeepgramModel
	if cfg.Transcriber == config.TranscriberGoogle {
		model = cfg.GoogleCloudSpeechModel
	}
	return &Archiver{
		repo:             repo,
		webhook:          wh,
		discord:          dc,
		discordChannelID: cfg.DiscordChannelID,
		meta: archiveMetadata{
			transcriber: cfg.Transcriber,
			model:       model,
			language:    cfg.TranscribeLanguage,
			timezone:    cfg.TranscriptTimezone,
			loc:         cfg.Location(),
		},
		sessions: make(map[string]*archivedSession),
	}
}

// Begin starts archiving sessionID and returns immediately. The session row
// is created by the writer goroutine; if that fails nothing of the session
// is stored or published.
func (a *Archiver) Begin(sessionID string, startedAt time.Time) {
	s := &archivedSession{
		id:        sessionID,
		startedAt: startedAt,
		wake:      make(chan struct{}, 1),
	}
	a.mu.Lock()
	if _, ok := a.sessions[sessionID]; ok {
		a.mu.Unlock()
		return
	}
	a.sessions[sessionID] = s
	a.mu.Unlock()

	a.wg.Add(1)
	go a.run(s)
}

// Record queues one final fragment. Fragments recorded after Finish but
// before the writer has drained the queue are still stored.
func (a *Archiver) Record(sessionID string, f transcriber.Fragment, spokenAt time.Time) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if !ok {
		a.mu.Unlock()
		return
	}
	s.pending = append(s.pending, pendingSegment{fragment: f, index: s.nextIndex, spokenAt: spokenAt})
	s.nextIndex++
	a.mu.Unlock()
	s.signal()
}

// Finish marks the session ended. The writer stores what is still queued
// and then publishes. Wait blocks until every finished session has been
// published.
func (a *Archiver) Finish(sessionID string, endedAt time.Time) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	if ok && !s.finished {
		s.finished = true
		s.endedAt = endedAt
	}
	a.mu.Unlock()
	if ok {
		s.signal()
	}
}

func (a *Archiver) Wait() {
	a.wg.Wait()
}

func (a *Archiver) run(s *archivedSession) {
	defer a.wg.Done()

	created := a.createSession(s)
	if !created {
		a.reportArchiveFailure(s.id)
	}
	for {
		a.mu.Lock()
		batch := s.pending
		s.pending = nil
		if len(batch) == 0 && s.finished {
			delete(a.sessions, s.id)
			endedAt := s.endedAt
			a.mu.Unlock()
			if created {
				ctx, cancel := context.WithTimeout(context.Background(), archiveFinishTimeout)
				a.finalize(ctx, s.id, s.startedAt, endedAt)
				cancel()
			}
			return
		}
		a.mu.Unlock()

		if len(batch) == 0 {
			<-s.wake
			continue
		}
		if created {
			for _, seg := range batch {
				a.insertSegment(s.id, seg)
			}
		}
	}
}

func (a *Archiver) createSession(s *archivedSession) bool {
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()
	_, err := a.repo.CreateSession(ctx, repository.CreateSessionInput{
		ID:          s.id,
		Transcriber: a.meta.transcriber,
		Model:       a.meta.model,
		Language:    a.meta.language,
		StartedAt:   s.startedAt,
	})
	if err != nil {
		slog.Error("failed to create session in repository", "error", err, "session_id", s.id)
		return false
	}
	slog.Info("created session", "session_id", s.id)
	return true
}

func (a *Archiver) reportArchiveFailure(sessionID string) {
	if a.discordChannelID == "" {
		return
	}
	if err := a.discord.SendChannelMessage(a.discordChannelID, fmt.Sprintf(messageArchiveFailedFmt, sessionID)); err != nil {
		slog.Error("failed to post archive failure to discord", "error", err, "session_id", sessionID)
	}
}

func (a *Archiver) insertSegment(sessionID string, seg pendingSegment) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
	defer cancel()
	if err := a.repo.InsertSegment(ctx, repository.InsertSegmentInput{
		SessionID:    sessionID,
		Content:      seg.fragment.Text,
		Speaker:      seg.fragment.Speaker,
		SegmentIndex: seg.index,
		SpokenAt:     seg.spokenAt,
	}); err != nil {
		slog.Error("failed to insert segment", "error", err, "session_id", sessionID, "segment_index", seg.index)
	}
}

func (a *Archiver) finalize(ctx context.Context, sessionID string, startedAt, endedAt time.Time) {
	if err := a.repo.UpdateSessionCompleted(ctx, repository.CompleteSessionInput{
		SessionID: sessionID,
		EndedAt:   endedAt,
	}); err != nil {
		slog.Error("failed to complete session", "error", err, "session_id", sessionID)
	}
	segments, err := a.repo.ListSegmentsBySessionID(ctx, sessionID)
	if err != nil {
		slog.Error("failed to list transcript segments", "error", err, "session_id", sessionID)
		return
	}
	if len(segments) == 0 {
		slog.Info("session ended without transcript; nothing to publish", "session_id", sessionID)
		return
	}

	body := buildTranscriptText(sessionID, a.meta, startedAt, endedAt, segments)
	filename := transcriptFilename(sessionID)
	if a.discordChannelID != "" {
		loc := safeLocation(a.meta.loc)
		if err := a.discord.SendChannelMessageWithFile(discord.FileMessage{
			ChannelID: a.discordChannelID,
			Content: messageAttachmentTitle + "\n" + fmt.Sprintf(messageAttachmentPeriodFmt,
				startedAt.In(loc).Format(transcriptTimeLayout),
				endedAt.In(loc).Format(transcriptTimeLayout),
				a.meta.timezone),
			Filename: filename,
			FileBody: body,
		}); err != nil {
			slog.Error("failed to post transcript to discord", "error", err, "session_id", sessionID)
		}
	}
	if err := a.webhook.SendTranscript(ctx, webhook.Transcript{
		SessionID:    sessionID,
		Transcriber:  a.meta.transcriber,
		Language:     a.meta.language,
		StartedAt:    startedAt,
		EndedAt:      endedAt,
		SegmentCount: len(segments),
		Filename:     filename,
		Body:         body,
	}); err != nil {
		slog.Error("failed to send webhook transcript", "error", err, "session_id", sessionID)
	}
	slog.Info("session archived", "session_id", sessionID, "segments", len(segments))
}

func transcriptFilename(sessionID string) string {
	return fmt.Sprintf("kikitori-%s.txt", sessionID)
}
