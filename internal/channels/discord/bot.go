// Package discord runs the bot on the Discord gateway: it turns mentions
// and DMs into generation requests, delivers replies, serves the slash
// commands and posts scheduled tasks.
package discord

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/channels"
	"github.com/haasonsaas/quill/internal/cron"
	"github.com/haasonsaas/quill/internal/guilds"
	"github.com/haasonsaas/quill/internal/memory"
	"github.com/haasonsaas/quill/internal/observability"
	"github.com/haasonsaas/quill/internal/persona"
	"github.com/haasonsaas/quill/internal/tools"
	"github.com/haasonsaas/quill/internal/tools/guild"
)

const forbiddenNotice = "Sorry it looks like I don't have access!"

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildMessageReactions

// Config holds configuration for the Discord bot.
type Config struct {
	// Token is the bot token from the Discord Developer Portal (required).
	Token string

	// AppID registers slash commands. Empty uses the bot user ID.
	AppID string

	// CommandGuildID registers commands in one guild instead of globally.
	CommandGuildID string

	// HistoryLimit is how many messages are read for each reply.
	HistoryLimit int

	// RateLimit and RateBurst throttle REST calls (operations per second).
	RateLimit float64
	RateBurst int

	MaxReconnectAttempts int

	// RootUser may run admin commands. Matches a user ID or username.
	RootUser string

	// MaxFiles caps attachments per reply.
	MaxFiles int

	// TokenBudget is the input token budget history is trimmed to.
	TokenBudget int

	// Location is the timezone of the system prompt clock.
	Location *time.Location
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.HistoryLimit > 100 {
		c.HistoryLimit = 100
	}
	if c.RateLimit == 0 {
		c.RateLimit = 1
	}
	if c.RateBurst == 0 {
		c.RateBurst = 5
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.MaxFiles <= 0 || c.MaxFiles > 10 {
		c.MaxFiles = 10
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return nil
}

// Generator produces replies. *agent.Generator implements it.
type Generator interface {
	Generate(ctx context.Context, req agent.Request) (*agent.Reply, error)
	GeneratePlain(ctx context.Context, prompt, system string) (string, error)
}

// ImageFetcher downloads attachment images. *media.Fetcher implements it.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url, mimeType string) (agent.Image, error)
}

// Deps are the services the bot drives.
type Deps struct {
	Generator Generator
	Tools     *tools.Registry
	Counter   agent.TokenCounter
	Persona   *persona.Persona
	Memory    *memory.Store
	Settings  *guilds.Store
	Scheduler *cron.Scheduler
	Images    ImageFetcher

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Now     func() time.Time
}

// Bot is the Discord front end of the agent.
type Bot struct {
	cfg      Config
	deps     Deps
	session  session
	state    stateReader
	limiter  *channels.RateLimiter
	chunker  *channels.Chunker
	platform *platform
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	botUser  *discordgo.User
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	removers []func()
	started  bool
}

var _ cron.TaskRunner = (*Bot)(nil)

// New creates a bot. The gateway session is opened by Start.
func New(cfg Config, deps Deps) (*Bot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Generator == nil {
		return nil, channels.ErrConfig("generator is required", nil)
	}
	if deps.Settings == nil {
		return nil, channels.ErrConfig("settings store is required", nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Persona == nil {
		p, err := persona.Load("", deps.Logger)
		if err != nil {
			return nil, err
		}
		deps.Persona = p
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	b := &Bot{
		cfg:     cfg,
		deps:    deps,
		limiter: channels.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		chunker: channels.NewChunker(channels.DiscordMessageLimit),
		logger:  deps.Logger.With("component", "discord"),
		now:     now,
		ctx:     context.Background(),
	}
	b.platform = &platform{limiter: b.limiter, botID: b.botUserID}
	return b, nil
}

// attach wires a session and state cache, binding the tools platform to them.
func (b *Bot) attach(s session, st stateReader) {
	b.session = s
	b.state = st
	b.platform.session = s
	b.platform.state = st
}

// Start opens the gateway connection, retrying with backoff.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return channels.ErrInternal("bot already started", nil)
	}

	if b.session == nil {
		dg, err := discordgo.New("Bot " + b.cfg.Token)
		if err != nil {
			return channels.ErrAuthentication("failed to create Discord session", err)
		}
		dg.Identify.Intents = intents
		dg.StateEnabled = true
		b.attach(dg, dg.State)
	}

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.removers = append(b.removers,
		b.session.AddHandler(b.onReady),
		b.session.AddHandler(b.onMessageCreate),
		b.session.AddHandler(b.onInteractionCreate),
		b.session.AddHandler(b.onGuildCreate),
		b.session.AddHandler(b.onDisconnect),
	)

	b.logger.Info("starting discord bot", "rate_limit", b.cfg.RateLimit, "history_limit", b.cfg.HistoryLimit)
	reconnector := &channels.Reconnector{
		Config: channels.ReconnectConfig{MaxAttempts: b.cfg.MaxReconnectAttempts},
		Logger: b.logger,
		OnAttemptFailed: func(int, error) {
			b.deps.Metrics.RecordError("discord", "connect_failed")
		},
	}
	err := reconnector.Run(ctx, func(context.Context) error {
		if err := b.session.Open(); err != nil {
			return wrapError("open gateway", err)
		}
		return nil
	})
	if err != nil {
		b.cancel()
		return channels.ErrConnection("failed to connect to Discord", err)
	}
	b.started = true
	return nil
}

// Stop closes the gateway and waits for in-flight handlers.
func (b *Bot) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.cancel()
	for _, remove := range b.removers {
		remove()
	}
	b.removers = nil
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("stop timeout, forcing shutdown")
	}

	if err := b.session.Close(); err != nil {
		return channels.ErrConnection("failed to close Discord session", err)
	}
	b.logger.Info("discord bot stopped")
	return nil
}

func (b *Bot) botUserID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.botUser == nil {
		return ""
	}
	return b.botUser.ID
}

func (b *Bot) baseContext() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}

// track runs fn as an in-flight handler Stop waits for.
func (b *Bot) track(fn func(ctx context.Context)) {
	b.wg.Add(1)
	defer b.wg.Done()
	fn(b.baseContext())
}

func (b *Bot) wait(ctx context.Context, channelID string) error {
	if err := b.limiter.Wait(ctx, channelID); err != nil {
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}
	return nil
}

// Event handlers

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.track(func(ctx context.Context) { b.handleReady(ctx, r) })
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	b.track(func(ctx context.Context) { b.handleMessage(ctx, m.Message) })
}

func (b *Bot) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	b.track(func(ctx context.Context) { b.handleInteraction(ctx, i.Interaction) })
}

func (b *Bot) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	b.track(func(ctx context.Context) { b.onGuildJoin(ctx, g.Guild) })
}

func (b *Bot) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	b.logger.Warn("disconnected from discord")
	b.deps.Metrics.RecordError("discord", "disconnected")
}

func (b *Bot) handleReady(ctx context.Context, r *discordgo.Ready) {
	if r == nil || r.User == nil {
		return
	}
	b.mu.Lock()
	b.botUser = r.User
	b.mu.Unlock()

	b.deps.Persona.SetBotName(displayName(r.User, nil))
	b.logger.InfoContext(ctx, "discord connection ready", "user", r.User.Username, "guilds", len(r.Guilds))

	if err := b.registerCommands(ctx, r.User.ID); err != nil {
		b.logger.ErrorContext(ctx, "failed to register slash commands", "error", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.ID == b.botUserID() {
		return
	}
	isDM := m.GuildID == ""
	if !isDM && !b.mentioned(m) {
		return
	}
	b.deps.Metrics.MessageReceived()

	if !b.admit(ctx, m) {
		return
	}
	if !isDM && b.deps.Settings != nil && !b.deps.Settings.ChannelAllowed(m.GuildID, m.ChannelID) {
		return
	}

	ctx = observability.AddRequestID(ctx, uuid.NewString())
	ctx = observability.AddGuildID(ctx, m.GuildID)
	ctx = observability.AddChannelID(ctx, m.ChannelID)
	ctx, span := b.deps.Tracer.TraceMessage(ctx, m.GuildID, m.ChannelID)
	defer span.End()

	err := b.respond(ctx, m)
	if err == nil {
		return
	}
	observability.RecordError(span, err)
	if channels.IsForbidden(err) {
		b.logger.WarnContext(ctx, "missing access to channel", "channel_id", m.ChannelID, "error", err)
		b.notifyForbidden(ctx, m.Author.ID)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	b.deps.Metrics.RecordError("discord", string(channels.GetErrorCode(err)))
	b.logger.ErrorContext(ctx, "failed to respond", "channel_id", m.ChannelID, "error", err)
}

func (b *Bot) mentioned(m *discordgo.Message) bool {
	id := b.botUserID()
	if id == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u != nil && u.ID == id {
			return true
		}
	}
	return false
}

// respond runs one full request for a triggering message.
func (b *Bot) respond(ctx context.Context, m *discordgo.Message) error {
	if err := b.session.ChannelTyping(m.ChannelID, discordgo.WithContext(ctx)); err != nil {
		if wrapped := wrapError("typing", err); channels.IsForbidden(wrapped) {
			return wrapped
		}
	}

	msgs, err := b.fetchHistory(ctx, m.ChannelID, b.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	entries, users := b.transcript(ctx, m.GuildID, msgs)
	system := b.systemPrompt(m.GuildID, m.ChannelID, users)
	entries = b.fitBudget(ctx, system, entries)

	status := &statusMessage{bot: b, channelID: m.ChannelID}
	defer status.clear(context.WithoutCancel(ctx))

	req := agent.Request{
		Entries: entries,
		System:  system,
		Status:  status.update,
	}
	if m.GuildID != "" {
		req.Capabilities = b.capabilities(ctx, m)
		req.Executor = b.executor(guild.Env{
			GuildID:      m.GuildID,
			ChannelID:    m.ChannelID,
			MessageID:    m.ID,
			Requester:    b.memberName(m.GuildID, m.Author),
			Capabilities: req.Capabilities,
		})
	}

	reply, err := b.deps.Generator.Generate(ctx, req)
	if err != nil {
		return err
	}
	if reply.Err != nil {
		b.logger.WarnContext(ctx, "reply came from fallback path", "path", reply.Path, "error", reply.Err)
	}
	return b.deliver(ctx, outbound{
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Text:      reply.Text,
		Artifacts: reply.Artifacts,
		ReplyTo:   m.Reference(),
	})
}

// fitBudget trims the oldest entries to the token budget. Counting
// failures keep what is known to fit.
func (b *Bot) fitBudget(ctx context.Context, system agent.SystemPrompt, entries []agent.ConversationEntry) []agent.ConversationEntry {
	fitted, err := agent.FitToBudget(ctx, b.deps.Counter, system, entries, b.cfg.TokenBudget)
	if err != nil {
		b.logger.WarnContext(ctx, "token counting failed", "entries", len(entries), "kept", len(fitted), "error", err)
	}
	return fitted
}

// capabilities grants the tool permissions for a guild request. Deleting
// messages needs the requester to hold Manage Messages.
func (b *Bot) capabilities(ctx context.Context, m *discordgo.Message) agent.Capabilities {
	caps := agent.NewCapabilities(agent.CapMemory, agent.CapSchedule, agent.CapReact)
	perms, err := b.session.UserChannelPermissions(m.Author.ID, m.ChannelID, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.DebugContext(ctx, "failed to resolve requester permissions", "error", err)
		return caps
	}
	if perms&discordgo.PermissionManageMessages != 0 {
		caps[agent.CapModerate] = true
	}
	return caps
}

// executor binds the guild tools to one request.
func (b *Bot) executor(env guild.Env) agent.ToolExecutor {
	if b.deps.Tools == nil {
		return nil
	}
	deps := guild.Deps{Platform: b.platform, Logger: b.deps.Logger}
	if b.deps.Memory != nil {
		deps.Memory = b.deps.Memory
	}
	if b.deps.Scheduler != nil {
		deps.Scheduler = b.deps.Scheduler
	}
	return b.deps.Tools.Bind(guild.Handlers(deps, env))
}

func (b *Bot) guildMembers(guildID string) []*discordgo.Member {
	g, err := b.state.Guild(guildID)
	if err != nil || g == nil {
		return nil
	}
	return g.Members
}
