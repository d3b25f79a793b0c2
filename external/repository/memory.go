package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
)

// MemoryRepository keeps sessions for the life of the process. It backs the
// transcript outputs when no database is configured.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]*repository.Session
	segments map[string][]repository.TranscriptSegment
}

func NewMemoryRepository() repository.Repository {
	return &MemoryRepository{
		sessions: make(map[string]*repository.Session),
		segments: make(map[string][]repository.TranscriptSegment),
	}
}

func (r *MemoryRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[input.ID]; ok {
		return nil, fmt.Errorf("session %s already exists", input.ID)
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
	copied := *s
	return &copied, nil
}

func (r *MemoryRepository) UpdateSessionCompleted(_ context.Context, input repository.CompleteSessionInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[input.SessionID]
	if !ok {
		return fmt.Errorf("session %s not found", input.SessionID)
	}
	endedAt := input.EndedAt
	s.EndedAt = &endedAt
	s.Status = repository.SessionStatusCompleted
	return nil
}

func (r *MemoryRepository) CompleteRunningSessions(_ context.Context, endedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.Status == repository.SessionStatusRunning {
			e := endedAt
			s.EndedAt = &e
			s.Status = repository.SessionStatusCompleted
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) InsertSegment(_ context.Context, input repository.InsertSegmentInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[input.SessionID]; !ok {
		return fmt.Errorf("session %s not found", input.SessionID)
	}
	for _, seg := range r.segments[input.SessionID] {
		if seg.SegmentIndex == input.SegmentIndex {
			return fmt.Errorf("segment %d already exists in session %s", input.SegmentIndex, input.SessionID)
		}
	}
	r.segments[input.SessionID] = append(r.segments[input.SessionID], repository.TranscriptSegment{
		SessionID:    input.SessionID,
		Content:      input.Content,
		Speaker:      input.Speaker,
		SegmentIndex: input.SegmentIndex,
		SpokenAt:     input.SpokenAt,
		CreatedAt:    time.Now(),
	})
	return nil
}

func (r *MemoryRepository) ListSegmentsBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append([]repository.TranscriptSegment(nil), r.segments[sessionID]...)
	sort.Slice(list, func(i, j int) bool {
		return list[i].SegmentIndex < list[j].SegmentIndex
	})
	return list, nil
}

func (r *MemoryRepository) Close() error {
	return nil
}
