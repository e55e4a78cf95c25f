// Package storage implements the reload journal backends.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zot/hotmod/internal/config"
)

// Entry kinds.
const (
	KindReload       = "reload"
	KindBuildError   = "build_error"
	KindCompileError = "compile_error"
	KindStart        = "start"
)

// Entry is one journaled engine event.
type Entry struct {
	ID       uuid.UUID `json:"id"`
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	Added    []string  `json:"added,omitempty"`
	Reloaded []string  `json:"reloaded,omitempty"`
	Accepted []string  `json:"accepted,omitempty"`
	Failed   bool      `json:"failed,omitempty"`
	Restored bool      `json:"restored,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// NewEntry creates an entry with a fresh id stamped now.
func NewEntry(kind string) *Entry {
	return &Entry{ID: uuid.New(), Time: time.Now().UTC().Truncate(time.Microsecond), Kind: kind}
}

// Backend defines the interface for journal backends.
type Backend interface {
	// Append persists an entry.
	Append(e *Entry) error

	// Load retrieves one entry.
	Load(id uuid.UUID) (*Entry, error)

	// Recent returns up to limit entries, newest first.
	Recent(limit int) ([]*Entry, error)

	// Prune keeps the newest keep entries and removes the rest.
	Prune(keep int) error

	// Clear removes all entries.
	Clear() error

	// Close closes the backend.
	Close() error
}

// Open creates the backend named by the storage configuration.
func Open(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "sqlite":
		return NewSQLiteStorage(cfg.Path)
	case "postgres", "postgresql":
		return NewPostgresStorage(cfg.URL)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func encodeList(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil
	}
	return ids
}

func copyEntry(e *Entry) *Entry {
	c := *e
	c.Added = append([]string(nil), e.Added...)
	c.Reloaded = append([]string(nil), e.Reloaded...)
	c.Accepted = append([]string(nil), e.Accepted...)
	return &c
}
