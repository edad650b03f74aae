package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"feedfilter/internal/model"
	"feedfilter/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Storage = (*SQLite)(nil)

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := migrations.Up(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetSetting returns the stored value for key, or ErrNotFound.
func (s *SQLite) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// PutSetting stores value under key, replacing any previous value.
func (s *SQLite) PutSetting(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	)
	if err != nil {
		return fmt.Errorf("put setting %q: %w", key, err)
	}
	return nil
}

const sourceColumns = `id, chat_id, name, url, interval_minutes, is_active, last_check_at, created_at`

// CreateSource inserts a new source and populates its ID and CreatedAt.
// A chat cannot hold the same URL twice.
func (s *SQLite) CreateSource(ctx context.Context, src *model.Source) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (chat_id, name, url, interval_minutes, is_active, last_check_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		src.ChatID, src.Name, src.URL, src.IntervalMinutes, boolToInt(src.IsActive), formatTime(src.LastCheckAt), now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert source %s: %w", src.URL, ErrDuplicateSource)
	}
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	src.ID = id
	src.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetSource returns a single source by its ID.
func (s *SQLite) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	return src, err
}

// ListSources returns the sources of one chat, oldest first.
func (s *SQLite) ListSources(ctx context.Context, chatID int64) ([]model.Source, error) {
	return s.querySources(ctx, `WHERE chat_id = ? ORDER BY id`, chatID)
}

// ListDueSources returns the active sources whose interval has elapsed since
// their last check, never-checked sources included.
func (s *SQLite) ListDueSources(ctx context.Context) ([]model.Source, error) {
	return s.querySources(ctx,
		`WHERE is_active = 1
		   AND (last_check_at IS NULL
		        OR datetime(last_check_at, '+' || interval_minutes || ' minutes') <= datetime(?))
		 ORDER BY id`,
		time.Now().UTC().Format(timeLayout),
	)
}

func (s *SQLite) querySources(ctx context.Context, where string, args ...any) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSources(rows)
}

// UpdateSource persists the user-editable fields of a source. The check time
// belongs to the poller and is only written by TouchSource, so an edit made
// during a poll and the poll itself never overwrite each other.
func (s *SQLite) UpdateSource(ctx context.Context, src *model.Source) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET name = ?, url = ?, interval_minutes = ?, is_active = ? WHERE id = ?`,
		src.Name, src.URL, src.IntervalMinutes, boolToInt(src.IsActive), src.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("update source %d: %w", src.ID, ErrDuplicateSource)
	}
	if err != nil {
		return fmt.Errorf("update source %d: %w", src.ID, err)
	}
	return requireRow(res, src.ID)
}

// TouchSource records when a source was last polled. A zero checkedAt clears
// the record, making the source due immediately.
func (s *SQLite) TouchSource(ctx context.Context, id int64, checkedAt time.Time) error {
	var at *time.Time
	if !checkedAt.IsZero() {
		at = &checkedAt
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET last_check_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touch source %d: %w", id, err)
	}
	return requireRow(res, id)
}

// DeleteSource removes a source and its seen items.
func (s *SQLite) DeleteSource(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM seen_items WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("delete seen_items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return tx.Commit()
}

// MarkSeen records that a feed item has been appended to the document.
func (s *SQLite) MarkSeen(ctx context.Context, sourceID int64, guid string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_items (source_id, guid, seen_at) VALUES (?, ?, ?)`,
		sourceID, guid, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// IsSeen checks whether a feed item has already been appended.
func (s *SQLite) IsSeen(ctx context.Context, sourceID int64, guid string) (bool, error) {
	var seen bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM seen_items WHERE source_id = ? AND guid = ?)`,
		sourceID, guid,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return seen, nil
}

// PruneSeen forgets items seen before the cutoff and returns how many were
// dropped. Feeds only carry recent items, so old records are never consulted.
func (s *SQLite) PruneSeen(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_items WHERE seen_at < ?`, before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune seen items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune seen items: %w", err)
	}
	return n, nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("source %d: %w", id, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	// primary code, whether or not extended codes are enabled
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(timeLayout)
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var isActive int
	var lastCheck, created sql.NullString
	err := row.Scan(&src.ID, &src.ChatID, &src.Name, &src.URL, &src.IntervalMinutes, &isActive, &lastCheck, &created)
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.IsActive = isActive == 1
	if lastCheck.Valid {
		t, _ := time.Parse(timeLayout, lastCheck.String)
		src.LastCheckAt = &t
	}
	if created.Valid {
		src.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &src, nil
}

func scanSources(rows *sql.Rows) ([]model.Source, error) {
	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}
