package discord

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/channels"
)

// outbound is one reply to deliver into a channel.
type outbound struct {
	ChannelID string
	GuildID   string
	Text      string
	Artifacts []agent.Artifact
	// ReplyTo references the triggering message on the first chunk.
	ReplyTo *discordgo.MessageReference
}

// deliver sends a reply as 2000-character chunks with any artifacts
// attached to the last chunk. Nothing is sent for an empty reply.
func (b *Bot) deliver(ctx context.Context, out outbound) error {
	text := out.Text
	if out.GuildID != "" {
		text = restoreMentions(text, b.guildMembers(out.GuildID))
	}

	if strings.TrimSpace(text) == "" {
		text = ""
	}

	files := artifactFiles(out.Artifacts, b.cfg.MaxFiles)
	chunks := b.chunker.Split(text)
	if len(chunks) == 0 && len(files) == 0 {
		return nil
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	for i, chunk := range chunks {
		msg := &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers}},
		}
		if i == 0 && out.ReplyTo != nil {
			msg.Reference = out.ReplyTo
		}
		if i == len(chunks)-1 {
			msg.Files = files
		}
		if err := b.send(ctx, out.ChannelID, msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) send(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	if err := b.wait(ctx, channelID); err != nil {
		return err
	}
	if _, err := b.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
		b.deps.Metrics.RecordError("discord", "send_failed")
		return wrapError("send message", err)
	}
	b.deps.Metrics.MessageSent()
	return nil
}

// notifyForbidden tells a user privately that the bot lacks access.
func (b *Bot) notifyForbidden(ctx context.Context, userID string) {
	dm, err := b.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.WarnContext(ctx, "failed to open DM channel", "user_id", userID, "error", err)
		return
	}
	if err := b.send(ctx, dm.ID, &discordgo.MessageSend{Content: forbiddenNotice}); err != nil {
		b.logger.WarnContext(ctx, "failed to send access notice", "user_id", userID, "error", err)
	}
}

func artifactFiles(artifacts []agent.Artifact, limit int) []*discordgo.File {
	if len(artifacts) > limit {
		artifacts = artifacts[:limit]
	}
	files := make([]*discordgo.File, 0, len(artifacts))
	for _, a := range artifacts {
		files = append(files, &discordgo.File{
			Name:        a.Filename,
			ContentType: a.MimeType,
			Reader:      bytes.NewReader(a.Data),
		})
	}
	return files
}

// statusMessage posts the first progress note and edits it for later ones.
type statusMessage struct {
	mu        sync.Mutex
	bot       *Bot
	channelID string
	messageID string
	last      string
}

func (s *statusMessage) update(ctx context.Context, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == "" || status == s.last {
		return
	}
	s.last = status
	b := s.bot
	if err := b.wait(ctx, s.channelID); err != nil {
		return
	}
	if s.messageID == "" {
		msg, err := b.session.ChannelMessageSendComplex(s.channelID, &discordgo.MessageSend{Content: status}, discordgo.WithContext(ctx))
		if err != nil {
			b.logger.DebugContext(ctx, "failed to post status", "error", err)
			return
		}
		s.messageID = msg.ID
		return
	}
	if _, err := b.session.ChannelMessageEdit(s.channelID, s.messageID, status, discordgo.WithContext(ctx)); err != nil {
		b.logger.DebugContext(ctx, "failed to edit status", "error", err)
	}
}

func (s *statusMessage) clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messageID == "" {
		return
	}
	err := s.bot.session.ChannelMessageDelete(s.channelID, s.messageID, discordgo.WithContext(ctx))
	if err != nil && !channels.IsNotFound(wrapError("delete status", err)) {
		s.bot.logger.DebugContext(ctx, "failed to delete status", "error", err)
	}
	s.messageID = ""
}
