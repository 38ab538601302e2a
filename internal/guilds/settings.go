// Package guilds persists per-server bot settings: which servers may use
// the bot, which channels it chats in, chattiness knobs and user profiles.
package guilds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/haasonsaas/quill/internal/storage"
)

// Mode is how the bot treats servers outside the authorized list.
type Mode string

const (
	ModeIgnore Mode = "ignore"
	ModePolite Mode = "polite"
	ModeLeave  Mode = "leave"
	ModeBadBot Mode = "bad_bot"
)

// Modes lists every valid unauthorized mode.
var Modes = []Mode{ModeIgnore, ModePolite, ModeLeave, ModeBadBot}

// MaxProfileLength bounds a user profile.
const MaxProfileLength = 128

var (
	ErrInvalidMode     = errors.New("invalid unauthorized mode")
	ErrProfileTooLong  = errors.New("profile too long")
	ErrProfileNewlines = errors.New("profile contains newlines")
)

// Chattiness holds the auto-chat settings of a server.
type Chattiness struct {
	Enabled                      bool `json:"enabled"`
	CooldownSeconds              int  `json:"cooldown_seconds"`
	MinMessageLength             int  `json:"min_message_length"`
	RequireMultipleMessages      bool `json:"require_multiple_messages"`
	MinMessagesSinceLastResponse int  `json:"min_messages_since_last_response"`
}

// DefaultChattiness is used for every field a server has not overridden.
func DefaultChattiness() Chattiness {
	return Chattiness{
		Enabled:                      true,
		CooldownSeconds:              300,
		MinMessageLength:             10,
		RequireMultipleMessages:      true,
		MinMessagesSinceLastResponse: 3,
	}
}

// ChattinessOverride is the stored, partial form of Chattiness.
type ChattinessOverride struct {
	Enabled                      *bool `json:"enabled,omitempty"`
	CooldownSeconds              *int  `json:"cooldown_seconds,omitempty"`
	MinMessageLength             *int  `json:"min_message_length,omitempty"`
	RequireMultipleMessages      *bool `json:"require_multiple_messages,omitempty"`
	MinMessagesSinceLastResponse *int  `json:"min_messages_since_last_response,omitempty"`
}

func (o *ChattinessOverride) apply(c Chattiness) Chattiness {
	if o == nil {
		return c
	}
	if o.Enabled != nil {
		c.Enabled = *o.Enabled
	}
	if o.CooldownSeconds != nil {
		c.CooldownSeconds = *o.CooldownSeconds
	}
	if o.MinMessageLength != nil {
		c.MinMessageLength = *o.MinMessageLength
	}
	if o.RequireMultipleMessages != nil {
		c.RequireMultipleMessages = *o.RequireMultipleMessages
	}
	if o.MinMessagesSinceLastResponse != nil {
		c.MinMessagesSinceLastResponse = *o.MinMessagesSinceLastResponse
	}
	return c
}

type serverSettings struct {
	ChatAllowlist []string            `json:"chat_allowlist,omitempty"`
	Chattiness    *ChattinessOverride `json:"chattiness,omitempty"`
}

type userSettings struct {
	Info string `json:"info"`
}

// document is the persisted shape. A nil AuthorizedServers means
// authorization is inactive and every server is served.
type document struct {
	AuthorizedServers []string                   `json:"authorized_servers"`
	UnauthorizedMode  Mode                       `json:"unauthorized_mode,omitempty"`
	PoliteDeclined    []string                   `json:"polite_declined,omitempty"`
	Servers           map[string]*serverSettings `json:"servers,omitempty"`
	Users             map[string]*userSettings   `json:"users,omitempty"`
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Backend storage.Backend
	Logger  *slog.Logger
}

// Store is the settings document with serialized writes.
type Store struct {
	mu      sync.RWMutex
	backend storage.Backend
	doc     document
	logger  *slog.Logger
}

// NewStore loads settings from the backend.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.Backend == nil {
		return nil, errors.New("guilds: backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{backend: cfg.Backend, logger: logger.With("component", "guilds")}

	data, err := cfg.Backend.Load(ctx, storage.DocSettings)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("no settings found, starting fresh")
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	default:
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	return s, nil
}

// AuthorizedServers returns the authorized list and whether authorization
// is active at all.
func (s *Store) AuthorizedServers() ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc.AuthorizedServers == nil {
		return nil, false
	}
	return slices.Clone(s.doc.AuthorizedServers), true
}

// IsAuthorized reports whether the bot may serve guildID.
func (s *Store) IsAuthorized(guildID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.AuthorizedServers == nil || slices.Contains(s.doc.AuthorizedServers, guildID)
}

// AuthorizeResult describes what Authorize changed.
type AuthorizeResult struct {
	AlreadyAuthorized bool
	// FirstUse is set when this call switched authorization on.
	FirstUse bool
}

// Authorize adds guildID to the authorized list and forgets any polite
// decline sent to it.
func (s *Store) Authorize(ctx context.Context, guildID string) (AuthorizeResult, error) {
	var result AuthorizeResult
	err := s.update(ctx, func(doc *document) bool {
		if slices.Contains(doc.AuthorizedServers, guildID) {
			result.AlreadyAuthorized = true
			return false
		}
		result.FirstUse = doc.AuthorizedServers == nil
		doc.AuthorizedServers = append(doc.AuthorizedServers, guildID)
		doc.PoliteDeclined = slices.DeleteFunc(doc.PoliteDeclined, func(id string) bool { return id == guildID })
		return true
	})
	return result, err
}

// Deauthorize removes guildID, reporting whether it was listed.
func (s *Store) Deauthorize(ctx context.Context, guildID string) (bool, error) {
	removed := false
	err := s.update(ctx, func(doc *document) bool {
		i := slices.Index(doc.AuthorizedServers, guildID)
		if i < 0 {
			return false
		}
		doc.AuthorizedServers = slices.Delete(doc.AuthorizedServers, i, i+1)
		removed = true
		return true
	})
	return removed, err
}

// UnauthorizedMode returns the configured mode, ignore by default.
func (s *Store) UnauthorizedMode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc.UnauthorizedMode == "" {
		return ModeIgnore
	}
	return s.doc.UnauthorizedMode
}

// SetUnauthorizedMode changes the mode. Leaving polite mode clears the
// record of servers already declined.
func (s *Store) SetUnauthorizedMode(ctx context.Context, mode Mode) error {
	if !slices.Contains(Modes, mode) {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return s.update(ctx, func(doc *document) bool {
		old := doc.UnauthorizedMode
		if old == "" {
			old = ModeIgnore
		}
		doc.UnauthorizedMode = mode
		if old == ModePolite && mode != ModePolite {
			doc.PoliteDeclined = nil
		}
		return true
	})
}

// MarkPoliteDeclined records a decline for guildID and reports whether
// this is the first one.
func (s *Store) MarkPoliteDeclined(ctx context.Context, guildID string) (bool, error) {
	first := false
	err := s.update(ctx, func(doc *document) bool {
		if slices.Contains(doc.PoliteDeclined, guildID) {
			return false
		}
		doc.PoliteDeclined = append(doc.PoliteDeclined, guildID)
		first = true
		return true
	})
	return first, err
}

// Allowlist returns the channels the bot may chat in. Empty means all.
func (s *Store) Allowlist(guildID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if srv := s.doc.Servers[guildID]; srv != nil {
		return slices.Clone(srv.ChatAllowlist)
	}
	return nil
}

// ChannelAllowed reports whether the allowlist permits channelID.
func (s *Store) ChannelAllowed(guildID, channelID string) bool {
	list := s.Allowlist(guildID)
	return len(list) == 0 || slices.Contains(list, channelID)
}

// AllowlistAdd adds a channel, reporting whether it was new.
func (s *Store) AllowlistAdd(ctx context.Context, guildID, channelID string) (bool, error) {
	added := false
	err := s.update(ctx, func(doc *document) bool {
		srv := doc.server(guildID)
		if slices.Contains(srv.ChatAllowlist, channelID) {
			return false
		}
		srv.ChatAllowlist = append(srv.ChatAllowlist, channelID)
		added = true
		return true
	})
	return added, err
}

// AllowlistRemove removes a channel, reporting whether it was listed.
func (s *Store) AllowlistRemove(ctx context.Context, guildID, channelID string) (bool, error) {
	removed := false
	err := s.update(ctx, func(doc *document) bool {
		srv := doc.Servers[guildID]
		if srv == nil {
			return false
		}
		i := slices.Index(srv.ChatAllowlist, channelID)
		if i < 0 {
			return false
		}
		srv.ChatAllowlist = slices.Delete(srv.ChatAllowlist, i, i+1)
		removed = true
		return true
	})
	return removed, err
}

// AllowlistClear empties the allowlist.
func (s *Store) AllowlistClear(ctx context.Context, guildID string) error {
	return s.update(ctx, func(doc *document) bool {
		srv := doc.Servers[guildID]
		if srv == nil || len(srv.ChatAllowlist) == 0 {
			return false
		}
		srv.ChatAllowlist = nil
		return true
	})
}

// Chattiness returns a server's settings merged over the defaults.
func (s *Store) Chattiness(guildID string) Chattiness {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := DefaultChattiness()
	if srv := s.doc.Servers[guildID]; srv != nil {
		c = srv.Chattiness.apply(c)
	}
	return c
}

// UpdateChattiness edits a server's stored overrides.
func (s *Store) UpdateChattiness(ctx context.Context, guildID string, edit func(*ChattinessOverride)) error {
	return s.update(ctx, func(doc *document) bool {
		srv := doc.server(guildID)
		if srv.Chattiness == nil {
			srv.Chattiness = &ChattinessOverride{}
		}
		edit(srv.Chattiness)
		return true
	})
}

// UserProfile returns the self-description a user registered.
func (s *Store) UserProfile(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.doc.Users[userID]
	if u == nil || u.Info == "" {
		return "", false
	}
	return u.Info, true
}

// SetUserProfile stores a one-line profile of at most MaxProfileLength
// characters.
func (s *Store) SetUserProfile(ctx context.Context, userID, info string) error {
	info = strings.TrimSpace(info)
	if utf8.RuneCountInString(info) > MaxProfileLength {
		return ErrProfileTooLong
	}
	if strings.Contains(info, "\n") {
		return ErrProfileNewlines
	}
	return s.update(ctx, func(doc *document) bool {
		if doc.Users == nil {
			doc.Users = make(map[string]*userSettings)
		}
		doc.Users[userID] = &userSettings{Info: info}
		return true
	})
}

func (d *document) server(guildID string) *serverSettings {
	if d.Servers == nil {
		d.Servers = make(map[string]*serverSettings)
	}
	srv := d.Servers[guildID]
	if srv == nil {
		srv = &serverSettings{}
		d.Servers[guildID] = srv
	}
	return srv
}

// update applies edit to a copy of the document and persists it when edit
// reports a change. The live document is replaced only after a successful
// save.
func (s *Store) update(ctx context.Context, edit func(*document) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.doc.clone()
	if err != nil {
		return err
	}
	if !edit(&next) {
		return nil
	}
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.backend.Save(ctx, storage.DocSettings, data); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.doc = next
	return nil
}

func (d document) clone() (document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return document{}, fmt.Errorf("copy settings: %w", err)
	}
	var out document
	if err := json.Unmarshal(data, &out); err != nil {
		return document{}, fmt.Errorf("copy settings: %w", err)
	}
	return out, nil
}
