package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voicelane/narrator/pkg/alignment"
)

// SQLite is a durable Store backed by a local SQLite database.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens (creating if needed) the cache database at path.
func OpenSQLite(ctx context.Context, path string, log *slog.Logger) (*SQLite, error) {
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS narration_cache (
    fingerprint TEXT PRIMARY KEY,
    voice_id    TEXT NOT NULL,
    text        TEXT NOT NULL,
    audio_url   TEXT NOT NULL,
    alignment   TEXT NOT NULL,
    precise     INTEGER NOT NULL DEFAULT 0,
    context_id  TEXT,
    created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_narration_cache_context ON narration_cache(context_id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

func (s *SQLite) Lookup(ctx context.Context, fingerprint string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT fingerprint, voice_id, text, audio_url, alignment, precise, COALESCE(context_id, ''), created_at
FROM narration_cache WHERE fingerprint = ?`, fingerprint)

	var (
		entry     Entry
		words     string
		precise   int
		createdAt time.Time
	)
	err := row.Scan(&entry.Fingerprint, &entry.VoiceID, &entry.Text,
		&entry.AudioURL, &words, &precise, &entry.ContextID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	if err := json.Unmarshal([]byte(words), &entry.Alignment); err != nil {
		return nil, fmt.Errorf("decode cached alignment: %w", err)
	}
	entry.Precise = precise != 0
	entry.CreatedAt = createdAt
	return &entry, nil
}

func (s *SQLite) Insert(ctx context.Context, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Alignment == nil {
		entry.Alignment = []alignment.Word{}
	}
	words, err := json.Marshal(entry.Alignment)
	if err != nil {
		return fmt.Errorf("encode alignment: %w", err)
	}

	precise := 0
	if entry.Precise {
		precise = 1
	}

	// INSERT OR IGNORE resolves concurrent writers without surfacing a
	// driver-specific constraint error: zero rows affected means another
	// writer won the race.
	res, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO narration_cache
    (fingerprint, voice_id, text, audio_url, alignment, precise, context_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)`,
		entry.Fingerprint, entry.VoiceID, entry.Text, entry.AudioURL,
		string(words), precise, entry.ContextID, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("cache insert: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cache insert result: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// InvalidateContext removes every entry tied to a content item; used when
// the source document changes and its narration must be regenerated.
func (s *SQLite) InvalidateContext(ctx context.Context, contextID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM narration_cache WHERE context_id = ?`, contextID)
	if err != nil {
		return 0, fmt.Errorf("cache invalidate: %w", err)
	}
	removed, err := res.RowsAffected()
	if err == nil && removed > 0 {
		s.log.Info("invalidated cached narrations",
			slog.String("context_id", contextID),
			slog.Int64("entries", removed))
	}
	return removed, err
}

func (s *SQLite) Close() error { return s.db.Close() }

var _ Store = (*SQLite)(nil)
