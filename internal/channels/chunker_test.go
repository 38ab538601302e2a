package channels

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkerSplit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		text  string
		want  []string
	}{
		{"empty", 10, "", nil},
		{"blank", 10, " \n\t ", nil},
		{"fits", 10, "  hello  ", []string{"hello"}},
		{"paragraph", 6, "aaaa\n\nbbbb", []string{"aaaa", "bbbb"}},
		{"line", 8, "aaa\nbbb ccc", []string{"aaa", "bbb ccc"}},
		{"sentence", 12, "One two. Three four", []string{"One two.", "Three four"}},
		{"word", 11, "alpha beta gamma", []string{"alpha beta", "gamma"}},
		{"hard", 4, "abcdefghij", []string{"abcd", "efgh", "ij"}},
		{"mention kept whole", 12, "abcdefgh<@1234>", []string{"abcdefgh", "<@1234>"}},
		{"closed token cut", 4, "<a>bcdef", []string{"<a>b", "cdef"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewChunker(tt.limit).Split(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Split(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestChunkerReopensCodeFences(t *testing.T) {
	text := "intro\n```go\nline1\nline2\nline3\n```\noutro"
	got := NewChunker(20).Split(text)
	want := []string{
		"intro",
		"```go\nline1\n```",
		"```go\nline2\n```",
		"```go\nline3\n```",
		"outro",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Split = %q, want %q", got, want)
	}
}

func TestChunkerKeepsCodeIndentation(t *testing.T) {
	text := "```py\ndef f():\n    return 1\n    pass\n```"
	chunks := NewChunker(24).Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected a split, got %q", chunks)
	}
	joined := strings.Join(chunks, "\n")
	if !strings.Contains(joined, "    return 1") || !strings.Contains(joined, "    pass") {
		t.Fatalf("indentation lost: %q", chunks)
	}
	for _, c := range chunks {
		if strings.Count(c, "```")%2 != 0 {
			t.Errorf("unbalanced fences in %q", c)
		}
	}
}

func TestChunkerCountsCharacters(t *testing.T) {
	text := strings.Repeat("é", 2500)
	chunks := NewChunker(0).Split(text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if n := utf8.RuneCountInString(chunks[0]); n != DiscordMessageLimit {
		t.Errorf("first chunk has %d characters", n)
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
	}
}

func TestChunkerRespectsLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("Paragraph with some words in it. ")
		if i%7 == 0 {
			b.WriteString("\n```\ncode line\nmore code\n```\n")
		}
		if i%5 == 0 {
			b.WriteString("\n\n")
		}
	}
	for _, limit := range []int{50, 120, 500} {
		for i, c := range NewChunker(limit).Split(b.String()) {
			if n := utf8.RuneCountInString(c); n > limit {
				t.Errorf("limit %d: chunk %d has %d characters", limit, i, n)
			}
			if c == "" || strings.TrimSpace(c) != c {
				t.Errorf("limit %d: chunk %d not trimmed: %q", limit, i, c)
			}
		}
	}
}

func TestOpenFence(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantAt int
	}{
		{"plain text", "", 0},
		{"a\n```go\nx", "```go", 2},
		{"```\nx\n```\ny", "", 0},
		{"~~~\nx", "~~~", 0},
	}
	for _, tt := range tests {
		got, at := openFence(tt.in)
		if got != tt.want || (got != "" && at != tt.wantAt) {
			t.Errorf("openFence(%q) = %q@%d, want %q@%d", tt.in, got, at, tt.want, tt.wantAt)
		}
	}
}
