package discord

import (
	"context"
	"fmt"
	"strings"
)

// cmdSummarize summarizes the channel's recent human messages with a
// single plain completion.
func (b *Bot) cmdSummarize(ctx context.Context, inv *invocation) (string, error) {
	count := inv.integer("count", defaultSummary)
	if count < 1 {
		count = defaultSummary
	}
	if count > maxSummary {
		count = maxSummary
	}
	guildID := inv.guildID()

	msgs, err := b.fetchHistory(ctx, inv.interaction.ChannelID, count)
	if err != nil {
		return "", err
	}

	var lines []string
	var profiles []string
	seen := make(map[string]bool)
	for _, m := range msgs {
		if m == nil || m.Author == nil || m.Content == "" {
			continue
		}
		// Bot output only counts when it answers someone.
		if m.Author.Bot && m.MessageReference == nil {
			continue
		}
		name := b.memberName(guildID, m.Author)
		resolver := nameResolver{guildID: guildID, state: b.state, mentions: m.Mentions}
		lines = append(lines, fmt.Sprintf("%s:\n%s\n", name, resolver.resolveMentions(m.Content)))

		if seen[m.Author.ID] || b.deps.Settings == nil {
			continue
		}
		seen[m.Author.ID] = true
		if info, ok := b.deps.Settings.UserProfile(m.Author.ID); ok && info != "" {
			profiles = append(profiles, fmt.Sprintf("%s: %s", name, info))
		}
	}
	if len(lines) == 0 {
		return nothingToSum, nil
	}

	var instructions string
	if accent := strings.TrimSpace(inv.str("accent")); accent != "" {
		instructions = fmt.Sprintf("Prioritize writing your summaries in way with an accent obviously from or in the manner of %s. "+
			"If the accent is something non-human, then instead summarize attempting to roleplay as that thing. ", accent)
	}

	prompt := fmt.Sprintf("Additional instructions: %s\n\nUser profiles: \n%s\n\nChat log: \n%s\n\nSummary: ",
		instructions, strings.Join(profiles, "\n"), strings.Join(lines, "\n"))

	summary, err := b.deps.Generator.GeneratePlain(ctx, prompt, "")
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if strings.TrimSpace(summary) == "" {
		return nothingToSum, nil
	}
	return summary, nil
}
