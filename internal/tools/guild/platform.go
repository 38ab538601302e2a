// Package guild implements the server-facing tools: member and channel
// lookups, history reads, memories, scheduled tasks and moderation.
package guild

import (
	"context"
	"time"
)

// ChannelKind classifies a guild channel.
type ChannelKind int

const (
	ChannelText ChannelKind = iota + 1
	ChannelVoice
	ChannelStage
	ChannelForum
	ChannelCategory
	ChannelThread
)

// Channel is a guild channel, category or thread.
type Channel struct {
	ID   string
	Name string
	Kind ChannelKind
	// ParentID is the category of a channel or the parent of a thread.
	ParentID string
	Position int
}

// Member is a guild member.
type Member struct {
	ID          string
	DisplayName string
	Bot         bool
	// VoiceChannelID is set while the member is connected to voice.
	VoiceChannelID string
}

// Snapshot is the cached state of one guild.
type Snapshot struct {
	ID          string
	Name        string
	MemberCount int
	// Channels holds categories and top-level channels in display order.
	Channels []Channel
	Threads  []Channel
	Members  []Member
}

// ChannelByID finds a channel or thread.
func (s *Snapshot) ChannelByID(id string) (Channel, bool) {
	for _, group := range [][]Channel{s.Channels, s.Threads} {
		for _, ch := range group {
			if ch.ID == id {
				return ch, true
			}
		}
	}
	return Channel{}, false
}

// VoiceMembers returns the members connected to a voice channel.
func (s *Snapshot) VoiceMembers(channelID string) []Member {
	var out []Member
	for _, m := range s.Members {
		if m.VoiceChannelID == channelID {
			out = append(out, m)
		}
	}
	return out
}

// Message is a channel message as the tools see it.
type Message struct {
	ID         string
	AuthorID   string
	AuthorName string
	AuthorBot  bool
	Content    string
	CreatedAt  time.Time
}

// Platform is the chat platform the tools act on. Errors should be
// channels.Error values so forbidden and missing resources can be told
// apart.
type Platform interface {
	Guild(ctx context.Context, guildID string) (*Snapshot, error)
	// History returns up to limit messages, newest first.
	History(ctx context.Context, channelID string, limit int) ([]Message, error)
	CanReadHistory(ctx context.Context, channelID string) (bool, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	DeleteMessage(ctx context.Context, channelID, messageID, reason string) error
}
