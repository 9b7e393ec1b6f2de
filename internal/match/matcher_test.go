package match

import (
	"strings"
	"testing"
)

func TestMatcherBasic(t *testing.T) {
	t.Parallel()

	m := New(10)

	tests := []struct {
		name    string
		text    string
		keyword string
		want    string
		ok      bool
	}{
		{
			name:    "case insensitive match",
			text:    "This domain is for use in Example documents.",
			keyword: "example",
			want:    "or use in Example documents",
			ok:      true,
		},
		{
			name:    "no occurrence",
			text:    "nothing to see here",
			keyword: "zzz-no-match",
		},
		{
			name:    "empty text",
			text:    "",
			keyword: "example",
		},
		{
			name:    "whitespace only text",
			text:    "   \n\t  ",
			keyword: "example",
		},
		{
			name:    "empty keyword",
			text:    "some text",
			keyword: "",
		},
		{
			name:    "short page returned whole",
			text:    "tiny page",
			keyword: "tiny",
			want:    "tiny page",
			ok:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Match(tt.text, tt.keyword)
			if ok != tt.ok {
				t.Fatalf("Match() ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("Match() snippet = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMatcherWindowClipping(t *testing.T) {
	t.Parallel()

	m := New(5)
	text := "aaaaaaaaaaXbbbbbbbbbb"
	snippet, ok := m.Match(text, "x")
	if !ok {
		t.Fatal("expected a match")
	}
	if snippet != "aaaaaXbbbbb" {
		t.Fatalf("snippet = %q", snippet)
	}
}

func TestMatcherFirstOccurrenceOnly(t *testing.T) {
	t.Parallel()

	m := New(3)
	snippet, ok := m.Match("xx cpi yy cpi zz", "cpi")
	if !ok {
		t.Fatal("expected a match")
	}
	if snippet != "xx cpi yy" {
		t.Fatalf("expected snippet around first occurrence, got %q", snippet)
	}
}

func TestMatcherNeverReturnsFullLongPage(t *testing.T) {
	t.Parallel()

	m := New(DefaultWindow)
	text := strings.Repeat("a", 1000) + "needle" + strings.Repeat("b", 1000)
	snippet, ok := m.Match(text, "NEEDLE")
	if !ok {
		t.Fatal("expected a match")
	}
	want := DefaultWindow + len("needle") + DefaultWindow
	if len(snippet) != want {
		t.Fatalf("snippet length = %d, want %d", len(snippet), want)
	}
}

func TestMatcherMultibyteBoundaries(t *testing.T) {
	t.Parallel()

	m := New(4)
	text := "ééééécaféééééé"
	snippet, ok := m.Match(text, "café")
	if !ok {
		t.Fatal("expected a match")
	}
	if !strings.Contains(snippet, "café") {
		t.Fatalf("snippet %q does not contain keyword", snippet)
	}
	if !strings.HasPrefix(snippet, "éééé") || !strings.HasSuffix(snippet, "éééé") {
		t.Fatalf("window miscounted runes: %q", snippet)
	}
}
