package discord

import (
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
)

var (
	userMentionRe    = regexp.MustCompile(`<@!?(\d+)>`)
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
	// Model output may carry a stray @ in front of the mention.
	replyMentionRe = regexp.MustCompile(`@?<@([^>]+)>`)
	snowflakeRe    = regexp.MustCompile(`^!?\d+$`)
)

// FindMember resolves a name the model wrote back to a guild member.
//
// Matching is exact and case-sensitive against the nickname, global name,
// display name and username. "a (b)" is also tried as a and then as b.
// Empty or blank names never match.
func FindMember(members []*discordgo.Member, name string) *discordgo.Member {
	if strings.TrimSpace(name) == "" {
		return nil
	}
	if m := matchMember(members, name); m != nil {
		return m
	}
	open := strings.LastIndex(name, " (")
	if open <= 0 || !strings.HasSuffix(name, ")") {
		return nil
	}
	if m := matchMember(members, name[:open]); m != nil {
		return m
	}
	inner := name[open+2 : len(name)-1]
	if strings.TrimSpace(inner) == "" {
		return nil
	}
	return matchMember(members, inner)
}

func matchMember(members []*discordgo.Member, name string) *discordgo.Member {
	for _, m := range members {
		if m == nil || m.User == nil {
			continue
		}
		if m.Nick == name || m.User.GlobalName == name || m.User.Username == name || displayName(m.User, m) == name {
			return m
		}
	}
	return nil
}

// restoreMentions turns <@Name> in a reply back into <@id>. Numeric
// mentions are kept and unknown names are left as <@Name>.
func restoreMentions(text string, members []*discordgo.Member) string {
	return replyMentionRe.ReplaceAllStringFunc(text, func(match string) string {
		inner := replyMentionRe.FindStringSubmatch(match)[1]
		if snowflakeRe.MatchString(inner) {
			return "<@" + strings.TrimPrefix(inner, "!") + ">"
		}
		if m := FindMember(members, inner); m != nil {
			return "<@" + m.User.ID + ">"
		}
		return "<@" + inner + ">"
	})
}

// nameResolver looks up display names for mention rewriting.
type nameResolver struct {
	guildID  string
	state    stateReader
	mentions []*discordgo.User
}

// resolveMentions rewrites <@id> as <@Name> and <#id> as #name. IDs that
// cannot be resolved are left untouched.
func (r nameResolver) resolveMentions(content string) string {
	content = userMentionRe.ReplaceAllStringFunc(content, func(match string) string {
		id := userMentionRe.FindStringSubmatch(match)[1]
		if name, ok := r.userName(id); ok {
			return "<@" + name + ">"
		}
		return match
	})
	return channelMentionRe.ReplaceAllStringFunc(content, func(match string) string {
		id := channelMentionRe.FindStringSubmatch(match)[1]
		if r.state == nil {
			return match
		}
		ch, err := r.state.Channel(id)
		if err != nil || ch == nil || ch.Name == "" {
			return match
		}
		return "#" + ch.Name
	})
}

func (r nameResolver) userName(id string) (string, bool) {
	var member *discordgo.Member
	if r.state != nil && r.guildID != "" {
		if m, err := r.state.Member(r.guildID, id); err == nil {
			member = m
		}
	}
	var user *discordgo.User
	for _, u := range r.mentions {
		if u != nil && u.ID == id {
			user = u
			break
		}
	}
	if member == nil && user == nil {
		return "", false
	}
	return displayName(user, member), true
}
