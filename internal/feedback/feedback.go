// Package feedback records auditor ratings of generated answers in a
// local SQLite table for later quality analysis.
package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/auditkit/guideline-rag/internal/apperr"
)

// maxResponseBytes caps stored responses. Longer responses are
// truncated with a marker rather than rejected.
const maxResponseBytes = 10 * 1024

const schema = `
CREATE TABLE IF NOT EXISTS feedback (
	id             TEXT PRIMARY KEY,
	created_at     TEXT NOT NULL,
	session_id     TEXT NOT NULL,
	query          TEXT NOT NULL,
	response       TEXT NOT NULL,
	sources        TEXT NOT NULL,
	rating         TEXT NOT NULL,
	model_version  TEXT,
	prompt_version INTEGER
);
CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback(session_id);
CREATE INDEX IF NOT EXISTS idx_feedback_rating ON feedback(rating);
`

// Entry is one feedback record.
type Entry struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	SessionID     string    `json:"session_id"`
	Query         string    `json:"query"`
	Response      string    `json:"response"`
	Sources       []string  `json:"sources"`
	Rating        string    `json:"rating"`
	ModelVersion  string    `json:"model_version,omitempty"`
	PromptVersion int       `json:"prompt_version,omitempty"`
}

// Logger persists feedback entries. The schema is created lazily on
// first write so a read-only deployment never touches the disk.
type Logger struct {
	path   string
	logger *slog.Logger

	mu          sync.Mutex
	db          *sql.DB
	initialized bool
}

// NewLogger creates a feedback logger writing to the given SQLite
// file. The file and schema are created on first use.
func NewLogger(path string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{path: path, logger: logger}
}

func (l *Logger) ensureDB(ctx context.Context) (*sql.DB, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return l.db, nil
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Unavailable("feedback.open", err)
		}
	}

	db, err := sql.Open("sqlite", l.path)
	if err != nil {
		return nil, apperr.Unavailable("feedback.open", err)
	}
	// Single writer prevents lock contention with the pure Go driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, apperr.Unavailable("feedback.open", fmt.Errorf("set pragma: %w", err))
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, apperr.Unavailable("feedback.open", fmt.Errorf("create schema: %w", err))
	}

	l.db = db
	l.initialized = true
	l.logger.Info("feedback store ready", "path", l.path)
	return db, nil
}

// Log records one feedback entry. A zero ID and timestamp are filled
// in; responses above the size cap are truncated.
func (l *Logger) Log(ctx context.Context, e Entry) (string, error) {
	if e.Query == "" || e.Rating == "" || e.SessionID == "" {
		return "", apperr.Invalid("feedback.log", "query, rating, and session_id are required")
	}
	if e.Rating != "positive" && e.Rating != "negative" {
		return "", apperr.Invalid("feedback.log", fmt.Sprintf("unknown rating %q", e.Rating))
	}

	db, err := l.ensureDB(ctx)
	if err != nil {
		return "", err
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if len(e.Response) > maxResponseBytes {
		e.Response = e.Response[:maxResponseBytes] + "... [truncated]"
	}
	if e.Sources == nil {
		e.Sources = []string{}
	}

	sources, err := json.Marshal(e.Sources)
	if err != nil {
		return "", apperr.Internal("feedback.log", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO feedback (id, created_at, session_id, query, response, sources, rating, model_version, prompt_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt.Format(time.RFC3339Nano), e.SessionID, e.Query,
		e.Response, string(sources), e.Rating, e.ModelVersion, e.PromptVersion,
	)
	if err != nil {
		return "", apperr.Unavailable("feedback.log", err)
	}

	l.logger.Info("feedback logged", "rating", e.Rating, "session_id", e.SessionID)
	return e.ID, nil
}

// Recent returns up to limit entries, newest first.
func (l *Logger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	db, err := l.ensureDB(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, created_at, session_id, query, response, sources, rating, model_version, prompt_version
		FROM feedback ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperr.Unavailable("feedback.recent", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt, sources string
		if err := rows.Scan(&e.ID, &createdAt, &e.SessionID, &e.Query, &e.Response,
			&sources, &e.Rating, &e.ModelVersion, &e.PromptVersion); err != nil {
			return nil, apperr.Corrupt("feedback.recent", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if err := json.Unmarshal([]byte(sources), &e.Sources); err != nil {
			e.Sources = []string{}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("feedback.recent", err)
	}
	return entries, nil
}

// RatingCounts returns entry counts grouped by rating.
func (l *Logger) RatingCounts(ctx context.Context) (map[string]int, error) {
	db, err := l.ensureDB(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT rating, COUNT(*) FROM feedback GROUP BY rating`)
	if err != nil {
		return nil, apperr.Unavailable("feedback.counts", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var rating string
		var n int
		if err := rows.Scan(&rating, &n); err != nil {
			return nil, apperr.Corrupt("feedback.counts", err)
		}
		counts[rating] = n
	}
	return counts, rows.Err()
}

// Close releases the database handle.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return nil
	}
	l.initialized = false
	return l.db.Close()
}
