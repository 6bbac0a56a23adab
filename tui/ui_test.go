package tui

import (
	"strings"
	"testing"
)

func TestSplitParagraphs(t *testing.T) {
	doc := `# Title

First paragraph with
a wrapped line.

## Section

Second paragraph.

` + "```go\ncode block\n```" + `

Third paragraph.
`

	got := splitParagraphs(doc)
	want := []string{
		"First paragraph with a wrapped line.",
		"Second paragraph.",
		"Third paragraph.",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d paragraphs, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paragraph %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitParagraphsEmptyDocument(t *testing.T) {
	if got := splitParagraphs(""); len(got) != 0 {
		t.Errorf("got %v", got)
	}
	if got := splitParagraphs("# only a heading\n"); len(got) != 0 {
		t.Errorf("got %v", got)
	}
}

func TestDefaultDocumentIsReadable(t *testing.T) {
	paras := splitParagraphs(defaultDocument)
	if len(paras) == 0 {
		t.Fatal("embedded document has no readable paragraphs")
	}
	for i, p := range paras {
		if strings.TrimSpace(p) == "" {
			t.Errorf("paragraph %d is blank", i)
		}
	}
}

func TestRenderDocumentFallsBackOnZeroWidth(t *testing.T) {
	doc := "plain text"
	if out := renderDocument(doc, 80); strings.TrimSpace(out) == "" {
		t.Error("rendered document is empty")
	}
}
