package discord

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/config"
	"github.com/haasonsaas/quill/internal/cron"
	"github.com/haasonsaas/quill/internal/guilds"
	"github.com/haasonsaas/quill/internal/memory"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/internal/tools"
)

var testNow = time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)

type sentMessage struct {
	ChannelID string
	Msg       *discordgo.MessageSend
	Files     []string
}

// fakeSession records every call the bot makes against Discord.
type fakeSession struct {
	mu sync.Mutex

	openErrs []error
	opened   int
	closed   bool
	handlers int

	history    map[string][]*discordgo.Message // newest first
	historyErr error
	historyReq []int

	sent    []sentMessage
	sendErr error
	edits   []string
	deleted []string
	typing  int

	reactions []string
	perms     map[string]int64
	dms       []string
	left      []string

	commandsApp   string
	commandsGuild string
	commands      []*discordgo.ApplicationCommand
	responses     []*discordgo.InteractionResponse
	followups     []*discordgo.WebhookParams

	nextID int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		history: make(map[string][]*discordgo.Message),
		perms:   make(map[string]int64),
	}
}

func (f *fakeSession) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		return err
	}
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) AddHandler(interface{}) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers++
	return func() {}
}

func (f *fakeSession) ChannelMessages(channelID string, limit int, _, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyReq = append(f.historyReq, limit)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	msgs := f.history[channelID]
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]*discordgo.Message(nil), msgs...), nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	sent := sentMessage{ChannelID: channelID, Msg: data}
	for _, file := range data.Files {
		sent.Files = append(sent.Files, file.Name)
		_, _ = io.Copy(io.Discard, file.Reader)
	}
	f.sent = append(f.sent, sent)
	f.nextID++
	return &discordgo.Message{ID: fmt.Sprintf("sent-%d", f.nextID), ChannelID: channelID, Content: data.Content}, nil
}

func (f *fakeSession) ChannelMessageEdit(_, messageID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, content)
	return &discordgo.Message{ID: messageID, Content: content}, nil
}

func (f *fakeSession) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeSession) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeSession) MessageReactionAdd(channelID, messageID, emoji string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, channelID+"/"+messageID+"/"+emoji)
	return nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID, Type: discordgo.ChannelTypeDM}, nil
}

func (f *fakeSession) UserChannelPermissions(userID, channelID string, _ ...discordgo.RequestOption) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perms[userID+"/"+channelID], nil
}

func (f *fakeSession) GuildLeave(guildID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, guildID)
	return nil
}

func (f *fakeSession) ApplicationCommandBulkOverwrite(appID, guildID string, cmds []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commandsApp, f.commandsGuild, f.commands = appID, guildID, cmds
	return cmds, nil
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeSession) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, data)
	return &discordgo.Message{ID: "followup"}, nil
}

func (f *fakeSession) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeSession) lastFollowup(t *testing.T) *discordgo.WebhookParams {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.followups) == 0 {
		t.Fatal("no followup sent")
	}
	return f.followups[len(f.followups)-1]
}

// fakeGenerator returns a canned reply and records requests.
type fakeGenerator struct {
	mu       sync.Mutex
	reply    *agent.Reply
	err      error
	requests []agent.Request
	onCall   func(ctx context.Context, req agent.Request)

	plain        string
	plainErr     error
	plainPrompts []string
}

func (g *fakeGenerator) Generate(ctx context.Context, req agent.Request) (*agent.Reply, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	onCall := g.onCall
	g.mu.Unlock()
	if onCall != nil {
		onCall(ctx, req)
	}
	if g.err != nil {
		return nil, g.err
	}
	if g.reply == nil {
		return &agent.Reply{Path: agent.PathStreamed}, nil
	}
	return g.reply, nil
}

func (g *fakeGenerator) GeneratePlain(_ context.Context, prompt, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.plainPrompts = append(g.plainPrompts, prompt)
	return g.plain, g.plainErr
}

func (g *fakeGenerator) Requests() []agent.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]agent.Request(nil), g.requests...)
}

type fakeCounter struct {
	perEntry int
	err      error
}

func (c fakeCounter) CountTokens(_ context.Context, _ agent.SystemPrompt, turns []agent.Turn) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return c.perEntry * len(turns), nil
}

type fakeImages struct {
	fetched []string
}

func (f *fakeImages) FetchImage(_ context.Context, url, mimeType string) (agent.Image, error) {
	f.fetched = append(f.fetched, url)
	return agent.Image{MediaType: mimeType, Data: []byte("img")}, nil
}

var (
	botUser   = &discordgo.User{ID: "999", Username: "quill", Bot: true}
	aliceUser = &discordgo.User{ID: "100", Username: "alice", GlobalName: "Alice"}
	bobUser   = &discordgo.User{ID: "200", Username: "bobby", GlobalName: "Bob"}
	rootUser  = &discordgo.User{ID: "900", Username: "root"}
)

type testBot struct {
	*Bot
	session  *fakeSession
	state    *discordgo.State
	gen      *fakeGenerator
	settings *guilds.Store
	memory   *memory.Store
	tasks    *cron.Scheduler
}

// newTestBot builds a ready bot in guild g1 with channels general and
// random, a thread in general, and members alice, bob (nick Bobby B) and
// root.
func newTestBot(t *testing.T, mutate ...func(*Config, *Deps)) *testBot {
	t.Helper()
	ctx := context.Background()
	backend := storage.NewMemoryBackend()

	settings, err := guilds.NewStore(ctx, guilds.StoreConfig{Backend: backend})
	if err != nil {
		t.Fatalf("guilds.NewStore: %v", err)
	}
	mem, err := memory.NewStore(ctx, memory.StoreConfig{Backend: backend, Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("memory.NewStore: %v", err)
	}
	sched, err := cron.NewScheduler(ctx, config.SchedulerConfig{}, backend, cron.WithNow(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("cron.NewScheduler: %v", err)
	}

	registry, err := tools.NewRegistry(tools.RegistryConfig{})
	if err != nil {
		t.Fatalf("tools.NewRegistry: %v", err)
	}

	gen := &fakeGenerator{}
	cfg := Config{Token: "token", RootUser: rootUser.ID, RateLimit: 1000, RateBurst: 1000}
	deps := Deps{
		Generator: gen,
		Settings:  settings,
		Memory:    mem,
		Scheduler: sched,
		Tools:     registry,
		Now:       func() time.Time { return testNow },
	}
	for _, fn := range mutate {
		fn(&cfg, &deps)
	}
	b, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	st := discordgo.NewState()
	err = st.GuildAdd(&discordgo.Guild{
		ID:   "g1",
		Name: "Test Guild",
		Channels: []*discordgo.Channel{
			{ID: "c1", GuildID: "g1", Name: "general", Type: discordgo.ChannelTypeGuildText, Position: 0},
			{ID: "c2", GuildID: "g1", Name: "random", Type: discordgo.ChannelTypeGuildText, Position: 1},
		},
		Threads: []*discordgo.Channel{
			{ID: "t1", GuildID: "g1", Name: "plans", ParentID: "c1", Type: discordgo.ChannelTypeGuildPublicThread},
		},
		Members: []*discordgo.Member{
			{GuildID: "g1", User: aliceUser},
			{GuildID: "g1", User: bobUser, Nick: "Bobby B"},
			{GuildID: "g1", User: rootUser},
			{GuildID: "g1", User: botUser},
		},
	})
	if err != nil {
		t.Fatalf("GuildAdd: %v", err)
	}

	sess := newFakeSession()
	b.attach(sess, st)
	b.handleReady(ctx, &discordgo.Ready{User: botUser})

	return &testBot{Bot: b, session: sess, state: st, gen: gen, settings: settings, memory: mem, tasks: sched}
}

func message(id, channelID string, author *discordgo.User, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: channelID,
		GuildID:   "g1",
		Author:    author,
		Content:   content,
		Timestamp: testNow,
	}
}

func restError(status, code int) *discordgo.RESTError {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: http.StatusText(status)},
	}
}
