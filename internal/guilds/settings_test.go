package guilds

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/quill/internal/storage"
)

func newTestStore(t *testing.T, backend storage.Backend) *Store {
	t.Helper()
	s, err := NewStore(context.Background(), StoreConfig{Backend: backend})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	s := newTestStore(t, backend)

	if !s.IsAuthorized("g1") {
		t.Fatal("authorization inactive should allow every server")
	}
	if _, active := s.AuthorizedServers(); active {
		t.Fatal("expected inactive authorization")
	}

	if first, err := s.MarkPoliteDeclined(ctx, "g1"); err != nil || !first {
		t.Fatalf("MarkPoliteDeclined = %v, %v", first, err)
	}
	if first, _ := s.MarkPoliteDeclined(ctx, "g1"); first {
		t.Error("second decline reported as first")
	}

	res, err := s.Authorize(ctx, "g1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !res.FirstUse || res.AlreadyAuthorized {
		t.Errorf("Authorize result = %+v", res)
	}
	if res, _ := s.Authorize(ctx, "g1"); !res.AlreadyAuthorized {
		t.Error("expected already authorized")
	}
	if s.IsAuthorized("g2") {
		t.Error("g2 should be unauthorized once the list is active")
	}
	if first, _ := s.MarkPoliteDeclined(ctx, "g1"); !first {
		t.Error("authorizing should forget the polite decline")
	}

	removed, err := s.Deauthorize(ctx, "g1")
	if err != nil || !removed {
		t.Fatalf("Deauthorize = %v, %v", removed, err)
	}
	if removed, _ := s.Deauthorize(ctx, "g1"); removed {
		t.Error("second deauthorize should report nothing removed")
	}

	reloaded := newTestStore(t, backend)
	list, active := reloaded.AuthorizedServers()
	if !active || len(list) != 0 {
		t.Errorf("reloaded authorization = %v, %v; want active and empty", list, active)
	}
	if reloaded.IsAuthorized("g1") {
		t.Error("empty active list should authorize nothing")
	}
}

func TestUnauthorizedMode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryBackend())

	if got := s.UnauthorizedMode(); got != ModeIgnore {
		t.Errorf("default mode = %q", got)
	}
	if err := s.SetUnauthorizedMode(ctx, "shout"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("invalid mode error = %v", err)
	}
	if err := s.SetUnauthorizedMode(ctx, ModePolite); err != nil {
		t.Fatalf("SetUnauthorizedMode: %v", err)
	}
	_, _ = s.MarkPoliteDeclined(ctx, "g9")
	if err := s.SetUnauthorizedMode(ctx, ModeLeave); err != nil {
		t.Fatalf("SetUnauthorizedMode: %v", err)
	}
	if first, _ := s.MarkPoliteDeclined(ctx, "g9"); !first {
		t.Error("leaving polite mode should clear declines")
	}
}

func TestAllowlist(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryBackend())

	if !s.ChannelAllowed("g1", "c1") {
		t.Error("empty allowlist should allow every channel")
	}
	if added, _ := s.AllowlistAdd(ctx, "g1", "c1"); !added {
		t.Error("expected c1 added")
	}
	if added, _ := s.AllowlistAdd(ctx, "g1", "c1"); added {
		t.Error("duplicate add reported as added")
	}
	if s.ChannelAllowed("g1", "c2") || !s.ChannelAllowed("g1", "c1") {
		t.Error("allowlist not enforced")
	}
	if !s.ChannelAllowed("g2", "c2") {
		t.Error("allowlist leaked across guilds")
	}
	if removed, _ := s.AllowlistRemove(ctx, "g1", "c9"); removed {
		t.Error("removing unknown channel reported as removed")
	}
	if removed, _ := s.AllowlistRemove(ctx, "g1", "c1"); !removed {
		t.Error("expected c1 removed")
	}
	_, _ = s.AllowlistAdd(ctx, "g1", "c3")
	if err := s.AllowlistClear(ctx, "g1"); err != nil {
		t.Fatalf("AllowlistClear: %v", err)
	}
	if got := s.Allowlist("g1"); len(got) != 0 {
		t.Errorf("Allowlist after clear = %v", got)
	}
}

func TestChattinessMergesDefaults(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	s := newTestStore(t, backend)

	if got := s.Chattiness("g1"); got != DefaultChattiness() {
		t.Errorf("default chattiness = %+v", got)
	}
	err := s.UpdateChattiness(ctx, "g1", func(o *ChattinessOverride) {
		enabled := false
		cooldown := 60
		o.Enabled = &enabled
		o.CooldownSeconds = &cooldown
	})
	if err != nil {
		t.Fatalf("UpdateChattiness: %v", err)
	}

	got := newTestStore(t, backend).Chattiness("g1")
	want := DefaultChattiness()
	want.Enabled = false
	want.CooldownSeconds = 60
	if got != want {
		t.Errorf("Chattiness = %+v, want %+v", got, want)
	}
}

func TestUserProfiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryBackend())

	tests := []struct {
		name string
		info string
		err  error
	}{
		{"too long", strings.Repeat("x", 129), ErrProfileTooLong},
		{"newline", "line one\nline two", ErrProfileNewlines},
		{"ok", "  Plays bass, lives in Lisbon  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SetUserProfile(ctx, "u1", tt.info); !errors.Is(err, tt.err) {
				t.Errorf("SetUserProfile error = %v, want %v", err, tt.err)
			}
		})
	}
	info, ok := s.UserProfile("u1")
	if !ok || info != "Plays bass, lives in Lisbon" {
		t.Errorf("UserProfile = %q, %v", info, ok)
	}
	if _, ok := s.UserProfile("u2"); ok {
		t.Error("unknown user should have no profile")
	}
}

type brokenBackend struct{ *storage.MemoryBackend }

func (brokenBackend) Save(context.Context, string, []byte) error { return errors.New("read-only") }

func TestFailedSaveKeepsState(t *testing.T) {
	s := newTestStore(t, brokenBackend{storage.NewMemoryBackend()})
	if _, err := s.AllowlistAdd(context.Background(), "g1", "c1"); err == nil {
		t.Fatal("expected save error")
	}
	if len(s.Allowlist("g1")) != 0 {
		t.Error("allowlist changed despite failed save")
	}
}
