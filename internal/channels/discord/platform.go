package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/quill/internal/channels"
	"github.com/haasonsaas/quill/internal/tools/guild"
)

// platform exposes the session and gateway cache to the guild tools.
type platform struct {
	session session
	state   stateReader
	limiter *channels.RateLimiter
	botID   func() string
}

var _ guild.Platform = (*platform)(nil)

func (p *platform) Guild(_ context.Context, guildID string) (*guild.Snapshot, error) {
	g, err := p.state.Guild(guildID)
	if err != nil || g == nil {
		return nil, channels.ErrNotFound(fmt.Sprintf("guild %s is not cached", guildID), err)
	}

	snap := &guild.Snapshot{ID: g.ID, Name: g.Name, MemberCount: g.MemberCount}
	for _, ch := range g.Channels {
		if c, ok := convertChannel(ch); ok {
			snap.Channels = append(snap.Channels, c)
		}
	}
	sort.SliceStable(snap.Channels, func(i, j int) bool {
		return snap.Channels[i].Position < snap.Channels[j].Position
	})
	for _, th := range g.Threads {
		if c, ok := convertChannel(th); ok {
			snap.Threads = append(snap.Threads, c)
		}
	}

	voice := make(map[string]string, len(g.VoiceStates))
	for _, vs := range g.VoiceStates {
		if vs != nil && vs.ChannelID != "" {
			voice[vs.UserID] = vs.ChannelID
		}
	}
	for _, m := range g.Members {
		if m == nil || m.User == nil {
			continue
		}
		snap.Members = append(snap.Members, guild.Member{
			ID:             m.User.ID,
			DisplayName:    displayName(m.User, m),
			Bot:            m.User.Bot,
			VoiceChannelID: voice[m.User.ID],
		})
	}
	if snap.MemberCount == 0 {
		snap.MemberCount = len(snap.Members)
	}
	return snap, nil
}

func (p *platform) History(ctx context.Context, channelID string, limit int) ([]guild.Message, error) {
	if err := p.wait(ctx, channelID); err != nil {
		return nil, err
	}
	msgs, err := p.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapError("fetch history", err)
	}
	out := make([]guild.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Author == nil {
			continue
		}
		out = append(out, guild.Message{
			ID:         m.ID,
			AuthorID:   m.Author.ID,
			AuthorName: displayName(m.Author, m.Member),
			AuthorBot:  m.Author.Bot,
			Content:    m.Content,
			CreatedAt:  m.Timestamp,
		})
	}
	return out, nil
}

func (p *platform) CanReadHistory(ctx context.Context, channelID string) (bool, error) {
	perms, err := p.session.UserChannelPermissions(p.botID(), channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, wrapError("resolve permissions", err)
	}
	need := int64(discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory)
	return perms&need == need, nil
}

func (p *platform) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := p.wait(ctx, channelID); err != nil {
		return err
	}
	if err := p.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return wrapError("add reaction", err)
	}
	return nil
}

func (p *platform) DeleteMessage(ctx context.Context, channelID, messageID, reason string) error {
	if err := p.wait(ctx, channelID); err != nil {
		return err
	}
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	if err := p.session.ChannelMessageDelete(channelID, messageID, opts...); err != nil {
		return wrapError("delete message", err)
	}
	return nil
}

func (p *platform) wait(ctx context.Context, channelID string) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx, channelID); err != nil {
		return channels.ErrTimeout("rate limiter wait cancelled", err)
	}
	return nil
}

func convertChannel(ch *discordgo.Channel) (guild.Channel, bool) {
	if ch == nil {
		return guild.Channel{}, false
	}
	c := guild.Channel{ID: ch.ID, Name: ch.Name, ParentID: ch.ParentID, Position: ch.Position}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		c.Kind = guild.ChannelText
	case discordgo.ChannelTypeGuildVoice:
		c.Kind = guild.ChannelVoice
	case discordgo.ChannelTypeGuildStageVoice:
		c.Kind = guild.ChannelStage
	case discordgo.ChannelTypeGuildForum:
		c.Kind = guild.ChannelForum
	case discordgo.ChannelTypeGuildCategory:
		c.Kind = guild.ChannelCategory
	case discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildNewsThread:
		c.Kind = guild.ChannelThread
	default:
		return guild.Channel{}, false
	}
	return c, true
}

// displayName prefers the guild nickname, then the global name, then the
// username.
func displayName(u *discordgo.User, m *discordgo.Member) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u == nil && m != nil {
		u = m.User
	}
	if u == nil {
		return "unknown"
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// wrapError classifies a discordgo error as a channels.Error.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var chErr *channels.Error
	if errors.As(err, &chErr) {
		return err
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return channels.ErrTimeout(op, err)
		}
		return channels.ErrConnection(op, err)
	}

	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return channels.ErrForbidden(op, err)
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return channels.ErrNotFound(op, err)
		}
	}
	status := 0
	if restErr.Response != nil {
		status = restErr.Response.StatusCode
	}
	switch {
	case status == http.StatusForbidden:
		return channels.ErrForbidden(op, err)
	case status == http.StatusNotFound:
		return channels.ErrNotFound(op, err)
	case status == http.StatusUnauthorized:
		return channels.ErrAuthentication(op, err)
	case status == http.StatusTooManyRequests:
		return channels.ErrRateLimit(op, err)
	case status >= 500:
		return channels.ErrUnavailable(op, err)
	}
	return channels.ErrInternal(op, err)
}
