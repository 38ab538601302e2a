// Package storage persists the bot's small JSON documents (memories, guild
// settings, scheduled tasks) in a file directory or a SQL table.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Document names used by the bot.
const (
	DocMemories = "memories"
	DocSettings = "settings"
	DocTasks    = "scheduled_tasks"
)

// Backend kinds accepted by Open.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

var (
	// ErrNotFound is returned by Load when the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrInvalidName is returned for document names that are empty or
	// contain path separators.
	ErrInvalidName = errors.New("invalid document name")
)

// Backend loads and saves whole documents by name.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}

// Config selects and configures a Backend.
type Config struct {
	Backend string `yaml:"backend" json:"backend"`
	Dir     string `yaml:"dir" json:"dir"`
	DSN     string `yaml:"dsn" json:"dsn"`
}

// Open creates the configured backend.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		return NewFileBackend(cfg.Dir)
	case BackendSQLite:
		return NewSQLBackend(ctx, DialectSQLite, cfg.DSN, nil)
	case BackendPostgres:
		return NewSQLBackend(ctx, DialectPostgres, cfg.DSN, nil)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
