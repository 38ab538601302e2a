package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// entryRecord is the structured form of another speaker's message. It is
// serialized as JSON so the model can tell speakers apart.
type entryRecord struct {
	Author    string     `json:"author"`
	Text      string     `json:"text"`
	ID        string     `json:"id,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// BuildTurns converts chat history, oldest first, into model turns.
//
// Entries from others become user turns holding a JSON record block followed
// by one image block per image. The bot's own entries become plain-text
// assistant turns. Order is preserved and nothing is dropped.
func BuildTurns(entries []ConversationEntry) []Turn {
	turns := make([]Turn, 0, len(entries))
	for _, entry := range entries {
		turns = append(turns, entryTurn(entry))
	}
	return turns
}

func entryTurn(entry ConversationEntry) Turn {
	if entry.FromSelf {
		return AssistantText(entry.Text)
	}

	record, err := json.Marshal(entryRecord{
		Author:    entry.Author,
		Text:      entry.Text,
		ID:        entry.MessageID,
		Reactions: entry.Reactions,
	})
	if err != nil {
		// Only strings and ints are marshalled; fall back to a readable line.
		record = []byte(fmt.Sprintf("%s: %s", entry.Author, entry.Text))
	}

	blocks := make([]ContentBlock, 0, 1+len(entry.Images))
	blocks = append(blocks, TextBlock(string(record)))
	for _, img := range entry.Images {
		blocks = append(blocks, ImageBlock(img))
	}
	return UserTurn(blocks...)
}

// FitToBudget drops the oldest entries until the request fits within budget
// tokens. It binary-searches the cut point so only O(log n) counts are made.
// When counting fails the entries are returned unchanged.
func FitToBudget(ctx context.Context, counter TokenCounter, system SystemPrompt, entries []ConversationEntry, budget int) ([]ConversationEntry, error) {
	if counter == nil || budget <= 0 || len(entries) == 0 {
		return entries, nil
	}

	fits := func(start int) (bool, error) {
		n, err := counter.CountTokens(ctx, system, BuildTurns(entries[start:]))
		if err != nil {
			return false, err
		}
		return n <= budget, nil
	}

	ok, err := fits(0)
	if err != nil {
		return entries, fmt.Errorf("count tokens: %w", err)
	}
	if ok {
		return entries, nil
	}

	// Invariant: entries[lo:] does not fit, entries[hi:] fits (hi may be the last entry).
	lo, hi := 0, len(entries)-1
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		ok, err := fits(mid)
		if err != nil {
			return entries[hi:], fmt.Errorf("count tokens: %w", err)
		}
		if ok {
			hi = mid
		} else {
			lo = mid
		}
	}
	return entries[hi:], nil
}

// FlattenTranscript renders history as plain "author: text" lines for the
// tool-free fallback call.
func FlattenTranscript(entries []ConversationEntry) string {
	var sb strings.Builder
	for _, entry := range entries {
		author := entry.Author
		if entry.FromSelf {
			author = "you"
		}
		fmt.Fprintf(&sb, "%s: %s\n", author, entry.Text)
	}
	if sb.Len() > 0 {
		sb.WriteString("\nWrite your reply to the last message.")
	}
	return sb.String()
}
