package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/quill/internal/guilds"
)

const (
	politeDecline = "Sorry, I'm not available in this server. Ask my owner if you'd like me to join in!"
	badBotRefusal = "No. I don't work here. Bad server."
)

// admit reports whether the bot may serve a message from a guild. For
// unauthorized guilds it applies the configured mode first.
func (b *Bot) admit(ctx context.Context, m *discordgo.Message) bool {
	settings := b.deps.Settings
	if settings == nil || m.GuildID == "" || settings.IsAuthorized(m.GuildID) {
		return true
	}

	mode := settings.UnauthorizedMode()
	logger := b.logger.With("guild_id", m.GuildID, "mode", mode)
	switch mode {
	case guilds.ModePolite:
		first, err := settings.MarkPoliteDeclined(ctx, m.GuildID)
		if err != nil {
			logger.ErrorContext(ctx, "failed to record polite decline", "error", err)
			return false
		}
		if first {
			b.replyNotice(ctx, m, politeDecline)
		}
	case guilds.ModeLeave:
		b.leaveGuild(ctx, m.GuildID)
	case guilds.ModeBadBot:
		b.replyNotice(ctx, m, badBotRefusal)
	default:
		logger.DebugContext(ctx, "ignoring unauthorized server")
	}
	return false
}

// onGuildJoin leaves unauthorized guilds right away in leave mode.
func (b *Bot) onGuildJoin(ctx context.Context, g *discordgo.Guild) {
	settings := b.deps.Settings
	if settings == nil || g == nil || g.Unavailable || settings.IsAuthorized(g.ID) {
		return
	}
	if settings.UnauthorizedMode() == guilds.ModeLeave {
		b.leaveGuild(ctx, g.ID)
	}
}

func (b *Bot) leaveGuild(ctx context.Context, guildID string) {
	b.logger.InfoContext(ctx, "leaving unauthorized server", "guild_id", guildID)
	if err := b.session.GuildLeave(guildID, discordgo.WithContext(ctx)); err != nil {
		b.logger.ErrorContext(ctx, "failed to leave server", "guild_id", guildID, "error", wrapError("leave guild", err))
	}
}

func (b *Bot) replyNotice(ctx context.Context, m *discordgo.Message, text string) {
	err := b.send(ctx, m.ChannelID, &discordgo.MessageSend{Content: text, Reference: m.Reference()})
	if err != nil {
		b.logger.WarnContext(ctx, "failed to send notice", "channel_id", m.ChannelID, "error", err)
	}
}
