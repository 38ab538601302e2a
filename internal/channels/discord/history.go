package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/media"
)

// fetchHistory returns up to limit messages of a channel, oldest first.
func (b *Bot) fetchHistory(ctx context.Context, channelID string, limit int) ([]*discordgo.Message, error) {
	if err := b.wait(ctx, channelID); err != nil {
		return nil, err
	}
	msgs, err := b.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapError("fetch history", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// transcript converts raw history into conversation entries and collects
// the other users who took part. Messages without text or images are
// skipped.
func (b *Bot) transcript(ctx context.Context, guildID string, msgs []*discordgo.Message) ([]agent.ConversationEntry, []*discordgo.User) {
	botID := b.botUserID()
	entries := make([]agent.ConversationEntry, 0, len(msgs))
	seen := make(map[string]bool)
	var users []*discordgo.User

	for _, m := range msgs {
		if m == nil || m.Author == nil {
			continue
		}
		resolver := nameResolver{guildID: guildID, state: b.state, mentions: m.Mentions}
		text := resolver.resolveMentions(m.Content)
		if prefix := b.replyPrefix(guildID, m); prefix != "" {
			text = prefix + text
		}
		images := b.attachmentImages(ctx, m)
		if m.Content == "" && len(images) == 0 {
			continue
		}

		fromSelf := m.Author.ID == botID
		entries = append(entries, agent.ConversationEntry{
			Author:    b.memberName(guildID, m.Author),
			Text:      text,
			FromSelf:  fromSelf,
			Images:    images,
			CreatedAt: m.Timestamp,
			MessageID: m.ID,
			Reactions: reactions(m),
		})
		if !fromSelf && !seen[m.Author.ID] {
			seen[m.Author.ID] = true
			users = append(users, m.Author)
		}
	}
	return entries, users
}

func (b *Bot) replyPrefix(guildID string, m *discordgo.Message) string {
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
		return "[replying to " + b.memberName(guildID, m.ReferencedMessage.Author) + "] "
	}
	if m.Type == discordgo.MessageTypeReply {
		return "[replying to deleted message] "
	}
	return ""
}

func (b *Bot) attachmentImages(ctx context.Context, m *discordgo.Message) []agent.Image {
	if b.deps.Images == nil {
		return nil
	}
	var images []agent.Image
	for _, att := range m.Attachments {
		if att == nil || !media.IsSupported(att.ContentType) {
			continue
		}
		img, err := b.deps.Images.FetchImage(ctx, att.URL, att.ContentType)
		if err != nil {
			b.logger.WarnContext(ctx, "skipping attachment", "message_id", m.ID, "filename", att.Filename, "error", err)
			continue
		}
		images = append(images, img)
	}
	return images
}

func reactions(m *discordgo.Message) []agent.Reaction {
	var out []agent.Reaction
	for _, r := range m.Reactions {
		if r == nil || r.Emoji == nil || r.Count == 0 {
			continue
		}
		emoji := r.Emoji.Name
		if r.Emoji.ID != "" {
			emoji = ":" + r.Emoji.Name + ":"
		}
		out = append(out, agent.Reaction{Emoji: emoji, Count: r.Count})
	}
	return out
}
