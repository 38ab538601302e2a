package discord

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/quill/internal/guilds"
)

type opt = discordgo.ApplicationCommandInteractionDataOption

func strOpt(name, v string) *opt {
	return &opt{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: v}
}

func intOpt(name string, v int) *opt {
	return &opt{Name: name, Type: discordgo.ApplicationCommandOptionInteger, Value: float64(v)}
}

func boolOpt(name string, v bool) *opt {
	return &opt{Name: name, Type: discordgo.ApplicationCommandOptionBoolean, Value: v}
}

// command builds a slash command interaction from user in g1/c1. A
// non-empty sub wraps opts in a subcommand.
func command(user *discordgo.User, name, sub string, opts ...*opt) *discordgo.Interaction {
	if sub != "" {
		opts = []*opt{{Name: sub, Type: discordgo.ApplicationCommandOptionSubCommand, Options: opts}}
	}
	return &discordgo.Interaction{
		ID:        "i1",
		Type:      discordgo.InteractionApplicationCommand,
		GuildID:   "g1",
		ChannelID: "c1",
		Member:    &discordgo.Member{User: user},
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}
}

// run invokes a command and returns the followup text.
func (tb *testBot) run(t *testing.T, i *discordgo.Interaction) string {
	t.Helper()
	tb.handleInteraction(context.Background(), i)
	return tb.session.lastFollowup(t).Content
}

func TestAdminCommandRequiresRoot(t *testing.T) {
	tb := newTestBot(t)

	tb.handleInteraction(context.Background(), command(aliceUser, "allowlist", "add", strOpt("channel", "c1")))

	if len(tb.session.followups) != 0 {
		t.Fatalf("followups = %d", len(tb.session.followups))
	}
	if len(tb.session.responses) != 1 {
		t.Fatalf("responses = %d", len(tb.session.responses))
	}
	resp := tb.session.responses[0]
	if resp.Data.Content != noPermission || resp.Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Errorf("response = %+v", resp.Data)
	}
	if got := tb.settings.Allowlist("g1"); len(got) != 0 {
		t.Errorf("allowlist changed: %v", got)
	}
}

func TestRootMatchesUsername(t *testing.T) {
	tb := newTestBot(t, func(c *Config, _ *Deps) { c.RootUser = "root" })
	got := tb.run(t, command(rootUser, "allowlist", "list"))
	if got != "No chat allowlist found" {
		t.Fatalf("got %q", got)
	}
	resp := tb.session.responses[0]
	if resp.Type != discordgo.InteractionResponseDeferredChannelMessageWithSource || resp.Data.Flags != discordgo.MessageFlagsEphemeral {
		t.Errorf("admin commands should defer ephemerally: %+v", resp)
	}
}

func TestAllowlistCommand(t *testing.T) {
	tb := newTestBot(t)

	steps := []struct {
		sub  string
		opts []*opt
		want string
	}{
		{"remove", []*opt{strOpt("channel", "c1")}, "No chat allowlist found"},
		{"add", []*opt{strOpt("channel", "c1")}, "Channel added to allowlist: **general**"},
		{"add", []*opt{strOpt("channel", "c2")}, "Channel added to allowlist: **random**"},
		{"list", nil, "I am allowed to chat in the following channels:\n**general**\n**random**"},
		{"remove", []*opt{strOpt("channel", "c404")}, "Channel is not on the allowlist: **c404**"},
		{"remove", []*opt{strOpt("channel", "c2")}, "Channel removed from allowlist: **random**"},
		{"clear", nil, "Server chat allowlist cleared."},
		{"list", nil, "No chat allowlist found"},
	}
	for _, s := range steps {
		if got := tb.run(t, command(rootUser, "allowlist", s.sub, s.opts...)); got != s.want {
			t.Fatalf("/allowlist %s = %q, want %q", s.sub, got, s.want)
		}
	}
}

func TestAuthorizeCommand(t *testing.T) {
	tb := newTestBot(t)

	if got := tb.run(t, command(rootUser, "authorize", "list")); !strings.Contains(got, "**not active**") {
		t.Fatalf("list before use = %q", got)
	}

	got := tb.run(t, command(rootUser, "authorize", "add"))
	if !strings.HasPrefix(got, "Server `g1` authorized.") || !strings.Contains(got, "**Warning:**") {
		t.Fatalf("first add = %q", got)
	}

	steps := []struct {
		sub  string
		opts []*opt
		want string
	}{
		{"add", nil, "Server `g1` is already authorized."},
		{"add", []*opt{strOpt("server_id", "12345")}, "Server `12345` authorized."},
		{"add", []*opt{strOpt("server_id", "not-an-id")}, "Invalid server ID."},
		{"list", nil, "**Authorized servers:**\n- `g1` (Test Guild)\n- `12345` (unknown)\n\n**Unauthorized mode:** `ignore`"},
		{"mode", []*opt{strOpt("mode", "bad_bot")}, "Unauthorized mode set to `bad_bot`."},
		{"mode", []*opt{strOpt("mode", "explode")}, "Unknown mode `explode`."},
		{"remove", []*opt{strOpt("server_id", "12345")}, "Server `12345` deauthorized."},
		{"remove", []*opt{strOpt("server_id", "12345")}, "Server `12345` is not in the authorized list."},
	}
	for _, s := range steps {
		if got := tb.run(t, command(rootUser, "authorize", s.sub, s.opts...)); got != s.want {
			t.Fatalf("/authorize %s = %q, want %q", s.sub, got, s.want)
		}
	}
	if mode := tb.settings.UnauthorizedMode(); mode != guilds.ModeBadBot {
		t.Errorf("mode = %q", mode)
	}
}

func TestAuthorizeInDMNeedsServerID(t *testing.T) {
	tb := newTestBot(t)
	i := command(nil, "authorize", "add")
	i.GuildID = ""
	i.Member = nil
	i.User = rootUser

	if got := tb.run(t, i); got != "Must provide a server ID when used in DMs." {
		t.Fatalf("got %q", got)
	}
}

func TestProfileCommand(t *testing.T) {
	tests := []struct {
		name string
		info string
		want string
	}{
		{"valid", "  plays bass  ", "User configuration updated <3"},
		{"too long", strings.Repeat("x", guilds.MaxProfileLength+1), "Info too big"},
		{"newlines", "line one\nline two", "newlines not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb := newTestBot(t)
			if got := tb.run(t, command(aliceUser, "profile", "", strOpt("info", tt.info))); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}

	tb := newTestBot(t)
	tb.run(t, command(aliceUser, "profile", "", strOpt("info", "  plays bass  ")))
	if info, _ := tb.settings.UserProfile(aliceUser.ID); info != "plays bass" {
		t.Errorf("stored profile = %q", info)
	}
	if tb.session.responses[0].Data.Flags != 0 {
		t.Error("user commands should not be ephemeral")
	}
}

func TestMemoryCommand(t *testing.T) {
	tb := newTestBot(t)
	if got := tb.run(t, command(aliceUser, "memory", "list")); got != "I don't remember anything about this server yet." {
		t.Fatalf("empty = %q", got)
	}
	if _, err := tb.memory.Save(context.Background(), "g1", "pet", "The server cat is named Miso"); err != nil {
		t.Fatal(err)
	}
	got := tb.run(t, command(aliceUser, "memory", "list"))
	if !strings.HasPrefix(got, "**Memories (1):**") || !strings.Contains(got, "- **pet**: The server cat is named Miso") {
		t.Fatalf("list = %q", got)
	}
}

func TestTasksCommand(t *testing.T) {
	tb := newTestBot(t)
	if got := tb.run(t, command(aliceUser, "tasks", "")); got != "No scheduled tasks for this server." {
		t.Fatalf("got %q", got)
	}
}

func TestChattinessCommand(t *testing.T) {
	tb := newTestBot(t)

	steps := []struct {
		sub  string
		opts []*opt
		want string
	}{
		{"enabled", []*opt{boolOpt("value", true)}, "Automatic chat participation **enabled**"},
		{"cooldown", []*opt{intOpt("seconds", -5)}, "Cooldown must be a positive number!"},
		{"cooldown", []*opt{intOpt("seconds", 90)}, "Auto-response cooldown set to **90 seconds**"},
		{"min_messages", []*opt{intOpt("count", 0)}, "Minimum messages must be at least 1!"},
		{"min_messages", []*opt{intOpt("count", 4)}, "Minimum messages since last response set to **4**"},
	}
	for _, s := range steps {
		if got := tb.run(t, command(rootUser, "chattiness", s.sub, s.opts...)); got != s.want {
			t.Fatalf("/chattiness %s = %q, want %q", s.sub, got, s.want)
		}
	}

	got := tb.run(t, command(rootUser, "chattiness", "show"))
	for _, want := range []string{"Enabled: **true**", "Cooldown: **90 seconds**", "Min messages since last response: **4**"} {
		if !strings.Contains(got, want) {
			t.Errorf("show missing %q:\n%s", want, got)
		}
	}
}

func TestSummarizeCommand(t *testing.T) {
	tb := newTestBot(t)
	tb.gen.plain = "Alice and Bob planned a picnic."
	if err := tb.settings.SetUserProfile(context.Background(), bobUser.ID, "plays bass"); err != nil {
		t.Fatal(err)
	}

	reply := message("m3", "c1", botUser, "sounds fun")
	reply.MessageReference = &discordgo.MessageReference{MessageID: "m2"}
	tb.session.history["c1"] = []*discordgo.Message{
		message("m4", "c1", botUser, "unprompted bot chatter"),
		reply,
		message("m2", "c1", bobUser, "picnic at <@100>'s place?"),
		message("m1", "c1", aliceUser, ""),
		message("m0", "c1", aliceUser, "anyone free saturday"),
	}

	got := tb.run(t, command(aliceUser, "summarize", "", intOpt("count", 500), strOpt("accent", "a pirate")))
	if got != tb.gen.plain {
		t.Fatalf("summary = %q", got)
	}
	if tb.session.historyReq[0] != maxSummary {
		t.Errorf("history limit = %d, want %d", tb.session.historyReq[0], maxSummary)
	}
	if len(tb.gen.plainPrompts) != 1 {
		t.Fatalf("plain prompts = %d", len(tb.gen.plainPrompts))
	}
	prompt := tb.gen.plainPrompts[0]
	for _, want := range []string{
		"in the manner of a pirate",
		"User profiles: \nBobby B: plays bass\n",
		"Alice:\nanyone free saturday\n\nBobby B:\npicnic at <@Alice>'s place?\n\nquill:\nsounds fun\n",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "unprompted bot chatter") {
		t.Errorf("unreferenced bot messages should be skipped:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "Summary: ") {
		t.Errorf("prompt should end with the summary cue:\n%s", prompt)
	}
}

func TestSummarizeNothing(t *testing.T) {
	tb := newTestBot(t)
	tb.session.history["c1"] = []*discordgo.Message{message("m1", "c1", aliceUser, "")}

	if got := tb.run(t, command(aliceUser, "summarize", "")); got != nothingToSum {
		t.Fatalf("got %q", got)
	}
	if len(tb.gen.plainPrompts) != 0 {
		t.Error("model should not be called without messages")
	}
	if tb.session.historyReq[0] != defaultSummary {
		t.Errorf("history limit = %d", tb.session.historyReq[0])
	}
}

func TestCommandFailureNotice(t *testing.T) {
	tb := newTestBot(t)
	tb.session.historyErr = restError(403, discordgo.ErrCodeMissingAccess)

	if got := tb.run(t, command(aliceUser, "summarize", "")); got != commandFailed {
		t.Fatalf("got %q", got)
	}
	if len(tb.session.dms) != 1 || tb.session.dms[0] != aliceUser.ID {
		t.Errorf("forbidden errors should DM the user: %v", tb.session.dms)
	}
}
