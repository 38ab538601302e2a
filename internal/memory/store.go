// Package memory keeps short per-guild facts the model chose to remember.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/quill/internal/storage"
)

// Limits on what a guild may store.
const (
	MaxPerGuild      = 50
	MaxKeyLength     = 100
	MaxContentLength = 500
)

// Memory is one saved fact.
type Memory struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Backend storage.Backend
	Logger  *slog.Logger
	Now     func() time.Time
}

// Store holds memories for every guild and persists them as one document.
type Store struct {
	mu       sync.Mutex
	backend  storage.Backend
	memories map[string][]Memory
	logger   *slog.Logger
	now      func() time.Time
}

// NewStore loads existing memories from the backend.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.Backend == nil {
		return nil, errors.New("memory: backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	s := &Store{
		backend:  cfg.Backend,
		memories: make(map[string][]Memory),
		logger:   logger.With("component", "memory"),
		now:      now,
	}

	data, err := cfg.Backend.Load(ctx, storage.DocMemories)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("no memories found, starting fresh")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("load memories: %w", err)
	}
	if err := json.Unmarshal(data, &s.memories); err != nil {
		return nil, fmt.Errorf("decode memories: %w", err)
	}
	total := 0
	for _, m := range s.memories {
		total += len(m)
	}
	s.logger.Info("loaded memories", "memories", total, "guilds", len(s.memories))
	return s, nil
}

// Save creates or updates a memory and returns the result text for the
// model. The error is reserved for persistence failures.
func (s *Store) Save(ctx context.Context, guildID, key, content string) (string, error) {
	key = strings.TrimSpace(key)
	content = strings.TrimSpace(content)

	if key == "" {
		return "Error: key cannot be empty.", nil
	}
	if n := utf8.RuneCountInString(key); n > MaxKeyLength {
		return fmt.Sprintf("Error: key must be %d characters or fewer (got %d).", MaxKeyLength, n), nil
	}
	if content == "" {
		return "Error: content cannot be empty.", nil
	}
	if n := utf8.RuneCountInString(content); n > MaxContentLength {
		return fmt.Sprintf("Error: content must be %d characters or fewer (got %d).", MaxContentLength, n), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	current := s.memories[guildID]
	next := make([]Memory, len(current), len(current)+1)
	copy(next, current)

	for i := range next {
		if next[i].Key == key {
			next[i].Content = content
			next[i].UpdatedAt = now
			if err := s.commit(ctx, guildID, next); err != nil {
				return "", err
			}
			s.logger.InfoContext(ctx, "updated memory", "guild_id", guildID, "key", key)
			return fmt.Sprintf("Updated memory '%s'.", key), nil
		}
	}

	if len(current) >= MaxPerGuild {
		return fmt.Sprintf("This server already has %d memories. Delete some before adding more.", MaxPerGuild), nil
	}
	next = append(next, Memory{Key: key, Content: content, CreatedAt: now, UpdatedAt: now})
	if err := s.commit(ctx, guildID, next); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "saved memory", "guild_id", guildID, "key", key)
	return fmt.Sprintf("Saved memory '%s'.", key), nil
}

// Delete removes a memory by key.
func (s *Store) Delete(ctx context.Context, guildID, key string) (string, error) {
	key = strings.TrimSpace(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.memories[guildID]
	for i, m := range current {
		if m.Key != key {
			continue
		}
		next := make([]Memory, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if err := s.commit(ctx, guildID, next); err != nil {
			return "", err
		}
		s.logger.InfoContext(ctx, "deleted memory", "guild_id", guildID, "key", key)
		return fmt.Sprintf("Deleted memory '%s'.", key), nil
	}
	return fmt.Sprintf("No memory found with key '%s'.", key), nil
}

// List returns a copy of a guild's memories in insertion order.
func (s *Store) List(guildID string) []Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Memory(nil), s.memories[guildID]...)
}

// FormatForPrompt renders the guild's memories as a system prompt
// section, or "" when there are none.
func (s *Store) FormatForPrompt(guildID string) string {
	memories := s.List(guildID)
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Memories\n\n")
	b.WriteString("You have the following saved memories about this server and its members. " +
		"You can save new memories with the save_memory tool or delete outdated ones with delete_memory.\n\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s: %s\n", m.Key, m.Content)
	}
	return b.String()
}

// commit persists the store with guildID replaced by next, and only then
// applies the change in memory. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, guildID string, next []Memory) error {
	snapshot := make(map[string][]Memory, len(s.memories)+1)
	for id, m := range s.memories {
		snapshot[id] = m
	}
	if len(next) == 0 {
		delete(snapshot, guildID)
	} else {
		snapshot[guildID] = next
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memories: %w", err)
	}
	if err := s.backend.Save(ctx, storage.DocMemories, data); err != nil {
		return fmt.Errorf("save memories: %w", err)
	}
	s.memories = snapshot
	return nil
}
