package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/quill/internal/channels"
	"github.com/haasonsaas/quill/internal/guilds"
)

const (
	noPermission   = "Sorry, you don't have permission to use this command!"
	guildOnly      = "This command only works in a server."
	commandFailed  = "Sorry, something went wrong running that command."
	nothingToSum   = "Sorry, there was nothing to summarize :)"
	defaultSummary = 20
	maxSummary     = 100
)

func floatPtr(v float64) *float64 { return &v }

// commandDefinitions are registered on ready.
func commandDefinitions() []*discordgo.ApplicationCommand {
	channelOpt := &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         "channel",
		Description:  "Text channel",
		ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
		Required:     true,
	}
	serverOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "server_id",
		Description: "Server ID, defaults to this server",
	}
	modeChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(guilds.Modes))
	for _, m := range guilds.Modes {
		modeChoices = append(modeChoices, &discordgo.ApplicationCommandOptionChoice{Name: string(m), Value: string(m)})
	}
	sub := func(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        name,
			Description: desc,
			Options:     opts,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "memory",
			Description: "Saved server memories",
			Options:     []*discordgo.ApplicationCommandOption{sub("list", "List what I remember about this server")},
		},
		{
			Name:        "allowlist",
			Description: "Channels I may chat in",
			Options: []*discordgo.ApplicationCommandOption{
				sub("add", "Allow a channel", channelOpt),
				sub("remove", "Disallow a channel", channelOpt),
				sub("list", "List allowed channels"),
				sub("clear", "Allow every channel again"),
			},
		},
		{
			Name:        "authorize",
			Description: "Servers I serve",
			Options: []*discordgo.ApplicationCommandOption{
				sub("add", "Authorize a server", serverOpt),
				sub("remove", "Deauthorize a server", serverOpt),
				sub("list", "List authorized servers and the unauthorized mode"),
				sub("mode", "Set how unauthorized servers are handled", &discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "mode",
					Description: "How to handle unauthorized servers",
					Required:    true,
					Choices:     modeChoices,
				}),
			},
		},
		{
			Name:        "summarize",
			Description: "Summarize recent messages in this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "count",
					Description: "How many messages to read",
					MinValue:    floatPtr(1),
					MaxValue:    maxSummary,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "accent",
					Description: "Summarize in the manner of...",
				},
			},
		},
		{
			Name:        "tasks",
			Description: "List scheduled messages in this server",
		},
		{
			Name:        "profile",
			Description: "Tell me something about yourself",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "info",
				Description: "A short line about you",
				Required:    true,
				MaxLength:   guilds.MaxProfileLength,
			}},
		},
		{
			Name:        "chattiness",
			Description: "Automatic chat participation settings",
			Options: []*discordgo.ApplicationCommandOption{
				sub("show", "View current settings"),
				sub("enabled", "Enable or disable automatic participation", &discordgo.ApplicationCommandOption{
					Type: discordgo.ApplicationCommandOptionBoolean, Name: "value", Description: "Enabled", Required: true,
				}),
				sub("cooldown", "Minimum seconds between auto-responses", &discordgo.ApplicationCommandOption{
					Type: discordgo.ApplicationCommandOptionInteger, Name: "seconds", Description: "Seconds", Required: true,
				}),
				sub("min_messages", "Messages required since my last response", &discordgo.ApplicationCommandOption{
					Type: discordgo.ApplicationCommandOptionInteger, Name: "count", Description: "Messages", Required: true,
				}),
			},
		},
	}
}

// adminCommands are restricted to the root user and answered ephemerally.
var adminCommands = map[string]bool{
	"allowlist":  true,
	"authorize":  true,
	"chattiness": true,
}

func (b *Bot) registerCommands(ctx context.Context, botID string) error {
	appID := b.cfg.AppID
	if appID == "" {
		appID = botID
	}
	cmds := commandDefinitions()
	if _, err := b.session.ApplicationCommandBulkOverwrite(appID, b.cfg.CommandGuildID, cmds, discordgo.WithContext(ctx)); err != nil {
		return wrapError("register commands", err)
	}
	b.logger.InfoContext(ctx, "slash commands registered", "guild_id", b.cfg.CommandGuildID, "command_count", len(cmds))
	return nil
}

// invocation is one slash command call.
type invocation struct {
	interaction *discordgo.Interaction
	user        *discordgo.User
	name        string
	sub         string
	options     map[string]*discordgo.ApplicationCommandInteractionDataOption
}

func (inv *invocation) guildID() string { return inv.interaction.GuildID }

func (inv *invocation) str(name string) string {
	if o, ok := inv.options[name]; ok {
		if s, ok := o.Value.(string); ok {
			return s
		}
	}
	return ""
}

func (inv *invocation) integer(name string, def int) int {
	if o, ok := inv.options[name]; ok {
		if f, ok := o.Value.(float64); ok {
			return int(f)
		}
	}
	return def
}

func (inv *invocation) boolean(name string) (bool, bool) {
	if o, ok := inv.options[name]; ok {
		v, ok := o.Value.(bool)
		return v, ok
	}
	return false, false
}

func newInvocation(i *discordgo.Interaction) *invocation {
	data := i.ApplicationCommandData()
	inv := &invocation{
		interaction: i,
		name:        data.Name,
		options:     make(map[string]*discordgo.ApplicationCommandInteractionDataOption),
	}
	if i.Member != nil && i.Member.User != nil {
		inv.user = i.Member.User
	} else {
		inv.user = i.User
	}
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		inv.sub = opts[0].Name
		opts = opts[0].Options
	}
	for _, o := range opts {
		inv.options[o.Name] = o
	}
	return inv
}

func (b *Bot) isRoot(u *discordgo.User) bool {
	if u == nil || b.cfg.RootUser == "" {
		return false
	}
	return u.ID == b.cfg.RootUser || u.Username == b.cfg.RootUser
}

func (b *Bot) handleInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	inv := newInvocation(i)
	if inv.user == nil {
		return
	}
	logger := b.logger.With("command", inv.name, "subcommand", inv.sub, "user", inv.user.Username)
	admin := adminCommands[inv.name]

	if admin && !b.isRoot(inv.user) {
		logger.WarnContext(ctx, "unauthorized command attempt")
		err := b.session.InteractionRespond(i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: noPermission, Flags: discordgo.MessageFlagsEphemeral},
		}, discordgo.WithContext(ctx))
		if err != nil {
			logger.WarnContext(ctx, "failed to respond to interaction", "error", err)
		}
		return
	}

	var flags discordgo.MessageFlags
	if admin {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := b.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: flags},
	}, discordgo.WithContext(ctx))
	if err != nil {
		logger.WarnContext(ctx, "failed to defer interaction", "error", err)
		return
	}
	logger.InfoContext(ctx, "running command")

	reply, err := b.runCommand(ctx, inv)
	if err != nil {
		if channels.IsForbidden(err) {
			b.notifyForbidden(ctx, inv.user.ID)
		}
		logger.ErrorContext(ctx, "command failed", "error", err)
		b.deps.Metrics.RecordError("discord", "command_failed")
		reply = commandFailed
	}
	b.followup(ctx, i, reply, flags)
}

func (b *Bot) followup(ctx context.Context, i *discordgo.Interaction, text string, flags discordgo.MessageFlags) {
	for _, chunk := range b.chunker.Split(text) {
		_, err := b.session.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
			Content:         chunk,
			Flags:           flags,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, discordgo.WithContext(ctx))
		if err != nil {
			b.logger.WarnContext(ctx, "failed to send followup", "error", err)
			return
		}
	}
}

func (b *Bot) runCommand(ctx context.Context, inv *invocation) (string, error) {
	switch inv.name {
	case "memory":
		return b.cmdMemory(inv), nil
	case "allowlist":
		return b.cmdAllowlist(ctx, inv)
	case "authorize":
		return b.cmdAuthorize(ctx, inv)
	case "summarize":
		return b.cmdSummarize(ctx, inv)
	case "tasks":
		return b.cmdTasks(inv), nil
	case "profile":
		return b.cmdProfile(ctx, inv)
	case "chattiness":
		return b.cmdChattiness(ctx, inv)
	}
	return "", fmt.Errorf("unknown command %q", inv.name)
}

func (b *Bot) cmdMemory(inv *invocation) string {
	if inv.guildID() == "" {
		return guildOnly
	}
	if b.deps.Memory == nil {
		return "Memory is not enabled."
	}
	memories := b.deps.Memory.List(inv.guildID())
	if len(memories) == 0 {
		return "I don't remember anything about this server yet."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Memories (%d):**", len(memories))
	for _, m := range memories {
		fmt.Fprintf(&sb, "\n- **%s**: %s", m.Key, m.Content)
	}
	return sb.String()
}

func (b *Bot) cmdAllowlist(ctx context.Context, inv *invocation) (string, error) {
	guildID := inv.guildID()
	if guildID == "" {
		return guildOnly, nil
	}
	settings := b.deps.Settings
	channelID := inv.str("channel")

	switch inv.sub {
	case "add":
		if _, err := settings.AllowlistAdd(ctx, guildID, channelID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Channel added to allowlist: **%s**", b.channelName(channelID)), nil
	case "remove":
		if len(settings.Allowlist(guildID)) == 0 {
			return "No chat allowlist found", nil
		}
		removed, err := settings.AllowlistRemove(ctx, guildID, channelID)
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("Channel is not on the allowlist: **%s**", b.channelName(channelID)), nil
		}
		return fmt.Sprintf("Channel removed from allowlist: **%s**", b.channelName(channelID)), nil
	case "list":
		list := settings.Allowlist(guildID)
		if len(list) == 0 {
			return "No chat allowlist found", nil
		}
		names := make([]string, 0, len(list))
		for _, id := range list {
			names = append(names, "**"+b.channelName(id)+"**")
		}
		return "I am allowed to chat in the following channels:\n" + strings.Join(names, "\n"), nil
	case "clear":
		if err := settings.AllowlistClear(ctx, guildID); err != nil {
			return "", err
		}
		return "Server chat allowlist cleared.", nil
	}
	return "", fmt.Errorf("unknown allowlist subcommand %q", inv.sub)
}

func (b *Bot) cmdAuthorize(ctx context.Context, inv *invocation) (string, error) {
	settings := b.deps.Settings

	switch inv.sub {
	case "list":
		mode := settings.UnauthorizedMode()
		servers, active := settings.AuthorizedServers()
		if !active {
			return fmt.Sprintf("Server authorization is **not active** (all servers allowed).\nUnauthorized mode: `%s`", mode), nil
		}
		list := "(none)"
		if len(servers) > 0 {
			lines := make([]string, 0, len(servers))
			for _, id := range servers {
				name := "unknown"
				if g, err := b.state.Guild(id); err == nil && g.Name != "" {
					name = g.Name
				}
				lines = append(lines, fmt.Sprintf("- `%s` (%s)", id, name))
			}
			list = strings.Join(lines, "\n")
		}
		return fmt.Sprintf("**Authorized servers:**\n%s\n\n**Unauthorized mode:** `%s`", list, mode), nil
	case "mode":
		mode := guilds.Mode(inv.str("mode"))
		if err := settings.SetUnauthorizedMode(ctx, mode); err != nil {
			if errors.Is(err, guilds.ErrInvalidMode) {
				return fmt.Sprintf("Unknown mode `%s`.", mode), nil
			}
			return "", err
		}
		return fmt.Sprintf("Unauthorized mode set to `%s`.", mode), nil
	}

	guildID := strings.TrimSpace(inv.str("server_id"))
	if guildID == "" {
		guildID = inv.guildID()
		if guildID == "" {
			return "Must provide a server ID when used in DMs.", nil
		}
	} else if !snowflakeRe.MatchString(guildID) || strings.HasPrefix(guildID, "!") {
		return "Invalid server ID.", nil
	}

	switch inv.sub {
	case "add":
		res, err := settings.Authorize(ctx, guildID)
		if err != nil {
			return "", err
		}
		if res.AlreadyAuthorized {
			return fmt.Sprintf("Server `%s` is already authorized.", guildID), nil
		}
		msg := fmt.Sprintf("Server `%s` authorized.", guildID)
		if res.FirstUse {
			msg += "\n\n**Warning:** Server authorization is now active. Only listed servers will be served. Use `/authorize add` to add more."
		}
		return msg, nil
	case "remove":
		removed, err := settings.Deauthorize(ctx, guildID)
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("Server `%s` is not in the authorized list.", guildID), nil
		}
		return fmt.Sprintf("Server `%s` deauthorized.", guildID), nil
	}
	return "", fmt.Errorf("unknown authorize subcommand %q", inv.sub)
}

func (b *Bot) cmdTasks(inv *invocation) string {
	if inv.guildID() == "" {
		return guildOnly
	}
	if b.deps.Scheduler == nil {
		return "Scheduling is not enabled."
	}
	return b.deps.Scheduler.List(inv.guildID())
}

func (b *Bot) cmdProfile(ctx context.Context, inv *invocation) (string, error) {
	err := b.deps.Settings.SetUserProfile(ctx, inv.user.ID, strings.TrimSpace(inv.str("info")))
	switch {
	case errors.Is(err, guilds.ErrProfileTooLong):
		return "Info too big", nil
	case errors.Is(err, guilds.ErrProfileNewlines):
		return "newlines not allowed", nil
	case err != nil:
		return "", err
	}
	return "User configuration updated <3", nil
}

func (b *Bot) cmdChattiness(ctx context.Context, inv *invocation) (string, error) {
	guildID := inv.guildID()
	if guildID == "" {
		return guildOnly, nil
	}
	settings := b.deps.Settings

	switch inv.sub {
	case "show":
		c := settings.Chattiness(guildID)
		return fmt.Sprintf("**Chattiness Settings:**\n"+
			"Enabled: **%t**\n"+
			"Cooldown: **%d seconds**\n"+
			"Min message length: **%d characters**\n"+
			"Min messages since last response: **%d**\n"+
			"Require multiple participants: **%t**",
			c.Enabled, c.CooldownSeconds, c.MinMessageLength, c.MinMessagesSinceLastResponse, c.RequireMultipleMessages), nil
	case "enabled":
		enabled, _ := inv.boolean("value")
		err := settings.UpdateChattiness(ctx, guildID, func(o *guilds.ChattinessOverride) { o.Enabled = &enabled })
		if err != nil {
			return "", err
		}
		status := "disabled"
		if enabled {
			status = "enabled"
		}
		return fmt.Sprintf("Automatic chat participation **%s**", status), nil
	case "cooldown":
		seconds := inv.integer("seconds", -1)
		if seconds < 0 {
			return "Cooldown must be a positive number!", nil
		}
		err := settings.UpdateChattiness(ctx, guildID, func(o *guilds.ChattinessOverride) { o.CooldownSeconds = &seconds })
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Auto-response cooldown set to **%d seconds**", seconds), nil
	case "min_messages":
		count := inv.integer("count", 0)
		if count < 1 {
			return "Minimum messages must be at least 1!", nil
		}
		err := settings.UpdateChattiness(ctx, guildID, func(o *guilds.ChattinessOverride) { o.MinMessagesSinceLastResponse = &count })
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Minimum messages since last response set to **%d**", count), nil
	}
	return "", fmt.Errorf("unknown chattiness subcommand %q", inv.sub)
}

func (b *Bot) channelName(channelID string) string {
	if ch, err := b.state.Channel(channelID); err == nil && ch.Name != "" {
		return ch.Name
	}
	return channelID
}
