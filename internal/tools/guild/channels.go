package guild

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

const maxSuggestions = 20

// normalizeQuotes maps typographic quotes to their ASCII forms so a
// model-typed apostrophe matches a channel named with a curly one.
var normalizeQuotes = runes.Map(func(r rune) rune {
	switch r {
	case '‘', '’', 'ʼ', '′':
		return '\''
	case '“', '”':
		return '"'
	}
	return r
})

func normalizeName(s string) string {
	out, _, err := transform.String(normalizeQuotes, s)
	if err != nil {
		return s
	}
	return out
}

func foldName(s string) string {
	return cases.Fold().String(normalizeName(s))
}

// FindChannel resolves a model-supplied channel name against the guild's
// channels and threads. When kinds is non-empty only those kinds match.
// On failure the returned string is a message listing what exists.
func FindChannel(snap *Snapshot, query string, kinds ...ChannelKind) (Channel, string) {
	query = strings.TrimLeft(query, "#")

	var candidates []Channel
	for _, group := range [][]Channel{snap.Channels, snap.Threads} {
		for _, ch := range group {
			if ch.Kind == ChannelCategory && len(kinds) == 0 {
				continue
			}
			if len(kinds) > 0 && !containsKind(kinds, ch.Kind) {
				continue
			}
			candidates = append(candidates, ch)
		}
	}

	normalized := normalizeName(query)
	for _, ch := range candidates {
		if ch.Name == query || normalizeName(ch.Name) == normalized {
			return ch, ""
		}
	}

	folded := foldName(query)
	for _, ch := range candidates {
		if foldName(ch.Name) == folded {
			return ch, ""
		}
	}
	for _, ch := range candidates {
		if strings.Contains(foldName(ch.Name), folded) {
			return ch, ""
		}
	}

	seen := make(map[string]bool, len(candidates))
	var names []string
	for _, ch := range candidates {
		if !seen[ch.Name] {
			seen[ch.Name] = true
			names = append(names, ch.Name)
		}
	}
	sort.Strings(names)
	if len(names) > maxSuggestions {
		names = names[:maxSuggestions]
	}
	for i, n := range names {
		names[i] = "#" + n
	}
	return Channel{}, fmt.Sprintf("Could not find a channel matching '%s'. Available channels: %s", query, strings.Join(names, ", "))
}

func containsKind(kinds []ChannelKind, k ChannelKind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
