package channels

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DiscordMessageLimit is the longest message Discord accepts, in characters.
const DiscordMessageLimit = 2000

// fenceReserve is room kept for the "\n```" that closes a split code block.
const fenceReserve = 4

// maxTokenLen bounds how far past a cut we look for the end of a <...> token.
const maxTokenLen = 40

// Chunker splits replies into messages of at most Limit characters.
//
// Breaks are taken at the last paragraph, line, sentence or word boundary
// that fits. A code block that has to be split is closed at the end of one
// chunk and reopened, with its language tag, at the start of the next.
// Discord markup such as <@id>, <#id> and <:emoji:id> is never cut in half.
type Chunker struct {
	Limit int
}

// NewChunker returns a chunker for the given limit, defaulting to Discord's.
func NewChunker(limit int) *Chunker {
	if limit <= 0 {
		limit = DiscordMessageLimit
	}
	return &Chunker{Limit: limit}
}

// Split trims text and returns its chunks. Blank text yields nil.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	limit := c.Limit
	if limit <= 0 {
		limit = DiscordMessageLimit
	}

	var chunks []string
	rest := text
	carry := ""
	for {
		body := rest
		floor := 0
		if carry != "" {
			body = carry + "\n" + rest
			floor = len(carry) + 1
		}
		if utf8.RuneCountInString(body) <= limit {
			return append(chunks, body)
		}

		window := limit
		if hasFence(body) && limit > 2*fenceReserve {
			window -= fenceReserve
		}
		cut := breakPoint(body, window, floor)

		open, openAt := openFence(body[:cut])
		if open != "" && openAt > floor {
			// Start the code block in the next chunk instead of splitting it here.
			cut, open = openAt, ""
		}
		if utf8.RuneCountInString(open)+1+fenceReserve > limit/2 {
			open = ""
		}

		chunk := strings.TrimRightFunc(body[:cut], unicode.IsSpace)
		if open != "" {
			chunk += "\n" + fenceMarker(open)
			rest = strings.TrimLeft(body[cut:], "\n")
		} else {
			rest = strings.TrimLeftFunc(body[cut:], unicode.IsSpace)
		}
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		carry = open
		if strings.TrimSpace(rest) == "" {
			return chunks
		}
	}
}

// breakPoint returns the byte offset to cut body at. Only offsets past floor
// are considered so a reopened fence line is never cut off on its own.
func breakPoint(body string, window, floor int) int {
	end := runeOffset(body, window)
	if end <= floor {
		return end
	}
	head := body[:end]

	if idx := strings.LastIndex(head, "\n\n"); idx+1 > floor && idx > 0 {
		return idx + 1
	}
	if idx := strings.LastIndexByte(head, '\n'); idx+1 > floor && idx > 0 {
		return idx + 1
	}
	best := -1
	for _, ending := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(head, ending); idx > best {
			best = idx
		}
	}
	if best+1 > floor && best > 0 {
		return best + 1
	}
	if idx := strings.LastIndexFunc(head, unicode.IsSpace); idx > floor {
		return idx
	}
	return avoidTokenSplit(body, end, floor)
}

// avoidTokenSplit moves a hard cut back to the start of a <...> token it
// would otherwise split.
func avoidTokenSplit(body string, end, floor int) int {
	lt := strings.LastIndexByte(body[:end], '<')
	if lt <= floor || strings.IndexByte(body[lt:end], '>') >= 0 {
		return end
	}
	gt := strings.IndexByte(body[end:], '>')
	if gt < 0 || end-lt+gt > maxTokenLen || strings.ContainsFunc(body[lt:end+gt], unicode.IsSpace) {
		return end
	}
	return lt
}

// openFence reports the opening line of a code block left unclosed at the
// end of s, and the byte offset where that line starts.
func openFence(s string) (string, int) {
	open, openAt := "", 0
	pos := 0
	for _, line := range strings.SplitAfter(s, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case open == "" && isFence(trimmed):
			open, openAt = trimmed, pos
		case open != "" && strings.HasPrefix(trimmed, fenceMarker(open)):
			open = ""
		}
		pos += len(line)
	}
	return open, openAt
}

func isFence(line string) bool {
	return strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~")
}

func hasFence(s string) bool {
	return strings.Contains(s, "```") || strings.Contains(s, "~~~")
}

func fenceMarker(open string) string {
	return open[:3]
}

// runeOffset returns the byte offset of the n-th rune, or len(s).
func runeOffset(s string, n int) int {
	for i := range s {
		if n == 0 {
			return i
		}
		n--
	}
	return len(s)
}
