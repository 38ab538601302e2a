package discord

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/quill/internal/agent"
)

// promptInput is everything the context block is rendered from.
type promptInput struct {
	Now      time.Time
	Channel  *discordgo.Channel
	Parent   *discordgo.Channel
	Profiles []profile
	Memories string
}

type profile struct {
	Name string
	Info string
}

// renderContext builds the per-request "# Current Context" block.
func renderContext(in promptInput) string {
	var b strings.Builder
	b.WriteString("# Current Context\n\n")
	fmt.Fprintf(&b, "Current date: %s\n", in.Now.Format("2006-01-02"))
	fmt.Fprintf(&b, "Current time: %s\n", in.Now.Format("15:04 MST"))

	if ch := in.Channel; ch != nil && ch.Name != "" {
		if ch.IsThread() {
			parent := "unknown"
			if in.Parent != nil && in.Parent.Name != "" {
				parent = in.Parent.Name
			}
			fmt.Fprintf(&b, "Source channel: thread #%s in #%s\n", ch.Name, parent)
		} else {
			fmt.Fprintf(&b, "Source channel: #%s\n", ch.Name)
		}
	}

	if len(in.Profiles) > 0 {
		b.WriteString("\n# User Profiles\n\n")
		for _, p := range in.Profiles {
			fmt.Fprintf(&b, "- %s: %s\n", p.Name, p.Info)
		}
	}

	if in.Memories != "" {
		b.WriteString("\n")
		b.WriteString(in.Memories)
	}
	return b.String()
}

// systemPrompt assembles the cached persona block and the context block
// for a channel. users are the authors whose profiles are included.
func (b *Bot) systemPrompt(guildID, channelID string, users []*discordgo.User) agent.SystemPrompt {
	in := promptInput{Now: b.now().In(b.cfg.Location)}

	if ch, err := b.state.Channel(channelID); err == nil {
		in.Channel = ch
		if ch.IsThread() && ch.ParentID != "" {
			if parent, err := b.state.Channel(ch.ParentID); err == nil {
				in.Parent = parent
			}
		}
	}
	in.Profiles = b.profiles(guildID, users)
	if guildID != "" && b.deps.Memory != nil {
		in.Memories = b.deps.Memory.FormatForPrompt(guildID)
	}

	return agent.SystemPrompt{
		Persona: b.deps.Persona.Text(),
		Context: renderContext(in),
	}
}

func (b *Bot) profiles(guildID string, users []*discordgo.User) []profile {
	if b.deps.Settings == nil {
		return nil
	}
	var out []profile
	for _, u := range users {
		info, ok := b.deps.Settings.UserProfile(u.ID)
		if !ok || info == "" {
			continue
		}
		out = append(out, profile{Name: b.memberName(guildID, u), Info: info})
	}
	return out
}

// memberName is the name other messages refer to the user by.
func (b *Bot) memberName(guildID string, u *discordgo.User) string {
	var member *discordgo.Member
	if guildID != "" {
		if m, err := b.state.Member(guildID, u.ID); err == nil {
			member = m
		}
	}
	return displayName(u, member)
}
