package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/foxseedlab/kikitori/internal/repository"
	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database named by a sqlite: or
// file: URL and applies the schema.
func OpenSQLite(ctx context.Context, databaseURL string) (repository.Repository, error) {
	db, err := sql.Open("sqlite", sqliteDSN(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunSQLiteMigration(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func sqliteDSN(databaseURL string) string {
	if strings.HasPrefix(databaseURL, "file:") {
		return databaseURL
	}
	path := strings.TrimPrefix(strings.TrimPrefix(databaseURL, "sqlite:"), "//")
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func (r *SQLiteRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, transcriber, model, language, started_at, status)
		 VALUES (?, ?, ?, ?, ?, 'running')`,
		input.ID, input.Transcriber, input.Model, input.Language, unixFromTime(input.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &repository.Session{
		ID:          input.ID,
		Transcriber: input.Transcriber,
		Model:       input.Model,
		Language:    input.Language,
		StartedAt:   input.StartedAt,
		Status:      repository.SessionStatusRunning,
	}, nil
}

func (r *SQLiteRepository) UpdateSessionCompleted(ctx context.Context, input repository.CompleteSessionInput) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = ? WHERE id = ?`,
		unixFromTime(input.EndedAt), input.SessionID)
	return err
}

func (r *SQLiteRepository) CompleteRunningSessions(ctx context.Context, endedAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'completed', ended_at = ? WHERE status = 'running'`,
		unixFromTime(endedAt))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) InsertSegment(ctx context.Context, input repository.InsertSegmentInput) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transcript_segments (session_id, content, speaker, segment_index, spoken_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		input.SessionID, input.Content, input.Speaker, input.SegmentIndex,
		unixFromTime(input.SpokenAt), unixFromTime(time.Now()))
	return err
}

func (r *SQLiteRepository) ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptSegment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT session_id, content, speaker, segment_index, spoken_at, created_at
		FROM transcript_segments
		WHERE session_id = ?
		ORDER BY segment_index ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var list []repository.TranscriptSegment
	for rows.Next() {
		var seg repository.TranscriptSegment
		var speaker sql.NullInt64
		var spokenAt, createdAt float64
		if err := rows.Scan(&seg.SessionID, &seg.Content, &speaker, &seg.SegmentIndex, &spokenAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		if speaker.Valid {
			n := int(speaker.Int64)
			seg.Speaker = &n
		}
		seg.SpokenAt = timeFromUnix(spokenAt)
		seg.CreatedAt = timeFromUnix(createdAt)
		list = append(list, seg)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromUnix(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}
