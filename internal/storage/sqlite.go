package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage is a SQLite journal backend.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite journal backend.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStorage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates the necessary tables.
func (s *SQLiteStorage) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS journal (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			time TEXT NOT NULL,
			kind TEXT NOT NULL,
			added TEXT,
			reloaded TEXT,
			accepted TEXT,
			failed INTEGER DEFAULT 0,
			restored INTEGER DEFAULT 0,
			error TEXT
		);
	`)
	return err
}

// Append persists an entry to SQLite.
func (s *SQLiteStorage) Append(e *Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO journal (id, time, kind, added, reloaded, accepted, failed, restored, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID.String(), e.Time.UTC().Format(time.RFC3339Nano), e.Kind,
		encodeList(e.Added), encodeList(e.Reloaded), encodeList(e.Accepted),
		boolInt(e.Failed), boolInt(e.Restored), e.Error)
	return err
}

const sqliteColumns = `id, time, kind, added, reloaded, accepted, failed, restored, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*Entry, error) {
	var idStr, timeStr, kind, added, reloaded, accepted string
	var errStr sql.NullString
	var failed, restored int
	if err := row.Scan(&idStr, &timeStr, &kind, &added, &reloaded, &accepted, &failed, &restored, &errStr); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("journal id %q: %w", idStr, err)
	}
	t, err := time.Parse(time.RFC3339Nano, timeStr)
	if err != nil {
		return nil, fmt.Errorf("journal time %q: %w", timeStr, err)
	}
	return &Entry{
		ID:       id,
		Time:     t,
		Kind:     kind,
		Added:    decodeList(added),
		Reloaded: decodeList(reloaded),
		Accepted: decodeList(accepted),
		Failed:   failed != 0,
		Restored: restored != 0,
		Error:    errStr.String,
	}, nil
}

// Load retrieves an entry from SQLite.
func (s *SQLiteStorage) Load(id uuid.UUID) (*Entry, error) {
	row := s.db.QueryRow(`SELECT `+sqliteColumns+` FROM journal WHERE id = ?`, id.String())
	e, err := scanSQLiteEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entry %s not found", id)
	}
	return e, err
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStorage) Recent(limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+sqliteColumns+` FROM journal ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune keeps the newest keep entries.
func (s *SQLiteStorage) Prune(keep int) error {
	if keep < 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM journal WHERE seq NOT IN (
			SELECT seq FROM journal ORDER BY seq DESC LIMIT ?
		)
	`, keep)
	return err
}

// Clear removes all entries.
func (s *SQLiteStorage) Clear() error {
	_, err := s.db.Exec("DELETE FROM journal")
	return err
}

// Close closes the storage backend.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
