package telegram

import (
	"strings"
	"testing"

	"dealbot/internal/transport"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	out := splitText("hello", 4000)
	if len(out) != 1 || out[0] != "hello" {
		t.Fatalf("short text must pass through, got %q", out)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	lines := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		lines = append(lines, strings.Repeat("x", 10))
	}
	text := strings.Join(lines, "\n")

	out := splitText(text, 100)
	if len(out) < 2 {
		t.Fatalf("long text must be split, got %d chunks", len(out))
	}
	for i, chunk := range out {
		if len([]rune(chunk)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(chunk)))
		}
		if strings.HasPrefix(chunk, "\n") || strings.HasSuffix(chunk, "\n") {
			t.Fatalf("chunk %d has dangling newline: %q", i, chunk)
		}
	}
	if got := strings.Join(out, ""); strings.ReplaceAll(got, "\n", "") != strings.ReplaceAll(text, "\n", "") {
		t.Fatal("split lost content")
	}
}

func TestSplitTextNoNewlines(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("a", 250)
	out := splitText(text, 100)
	if len(out) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(out))
	}
	if strings.Join(out, "") != text {
		t.Fatal("split lost content")
	}
}

func TestInlineMarkup(t *testing.T) {
	t.Parallel()
	rm := inlineMarkup([][]transport.InlineButton{
		{{Text: "$ USD", Data: "setup:us"}, {Text: "€ EUR", Data: "setup:de"}},
		{{Text: "£ GBP", Data: "setup:gb"}},
	})
	if len(rm.InlineKeyboard) != 2 {
		t.Fatalf("want 2 rows, got %d", len(rm.InlineKeyboard))
	}
	if rm.InlineKeyboard[0][1].Data != "setup:de" {
		t.Fatalf("button data lost: %+v", rm.InlineKeyboard[0][1])
	}
}
