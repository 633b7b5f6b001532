package parser

import (
	"strings"
	"testing"
)

func TestParseWithFrontmatter(t *testing.T) {
	content := []byte("---\ntitle: Hello\ntags:\n  - existing\n---\nBody text here.\n")
	doc, warn := Parse("notes/a.md", content)
	if warn != nil {
		t.Fatalf("unexpected warning: %v", warn)
	}
	if doc.Frontmatter["title"] != "Hello" {
		t.Errorf("Frontmatter[title] = %v, want Hello", doc.Frontmatter["title"])
	}
	if !strings.Contains(doc.Body, "Body text here.") {
		t.Errorf("Body = %q, want to contain body text", doc.Body)
	}
}

func TestParseNoFrontmatter(t *testing.T) {
	content := []byte("Just a plain file.\n")
	doc, warn := Parse("notes/b.md", content)
	if warn != nil {
		t.Fatalf("unexpected warning: %v", warn)
	}
	if len(doc.Frontmatter) != 0 {
		t.Errorf("Frontmatter = %v, want empty", doc.Frontmatter)
	}
	if doc.Body != "Just a plain file.\n" {
		t.Errorf("Body = %q, want unchanged content", doc.Body)
	}
}

func TestParseUnclosedFrontmatterReturnsWarningNotError(t *testing.T) {
	content := []byte("---\ntitle: broken\nno closing fence\n")
	doc, warn := Parse("notes/c.md", content)
	if warn == nil {
		t.Fatal("expected a ParseWarning for unclosed frontmatter")
	}
	if doc == nil {
		t.Fatal("expected a best-effort Document even on warning")
	}
	if doc.Body != string(content) {
		t.Errorf("Body = %q, want original content preserved", doc.Body)
	}
}

func TestParseInvalidYAML(t *testing.T) {
	content := []byte("---\ntags: [unterminated\n---\nbody\n")
	_, warn := Parse("notes/d.md", content)
	if warn == nil {
		t.Fatal("expected a ParseWarning for invalid YAML")
	}
}

func TestRenderRoundTrip(t *testing.T) {
	doc := &Document{
		Frontmatter: map[string]any{"title": "Hello"},
		Body:        "Body text.\n",
	}
	rendered, err := Render(doc)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	reparsed, warn := Parse("notes/e.md", rendered)
	if warn != nil {
		t.Fatalf("unexpected warning on reparse: %v", warn)
	}
	if reparsed.Frontmatter["title"] != "Hello" {
		t.Errorf("round-tripped title = %v, want Hello", reparsed.Frontmatter["title"])
	}
}

func TestTagsMergesFrontmatterAndInline(t *testing.T) {
	doc := &Document{
		Frontmatter: map[string]any{"tags": []any{"Existing", "Python ML"}},
		Body:        "This mentions #cache and #Eviction-Policy, but not `#code-span` or:\n\n```\n#fenced-tag\n```\n",
	}
	tags := Tags(doc)
	want := map[string]bool{"existing": true, "python-ml": true, "cache": true, "eviction-policy": true}
	if len(tags) != len(want) {
		t.Fatalf("Tags() = %v, want 4 entries matching %v", tags, want)
	}
	for _, tag := range tags {
		if !want[tag] {
			t.Errorf("unexpected tag %q", tag)
		}
	}
}

func TestTagsCommaSeparatedString(t *testing.T) {
	doc := &Document{Frontmatter: map[string]any{"tags": "a, b,  c"}, Body: ""}
	tags := Tags(doc)
	if len(tags) != 3 {
		t.Fatalf("Tags() = %v, want 3 entries", tags)
	}
}

func TestWikilinksStripsAliasAndExtension(t *testing.T) {
	body := "See [[Other Note|display text]] and [[plain-note.md]]."
	links := Wikilinks(body)
	if len(links) != 2 {
		t.Fatalf("Wikilinks() = %v, want 2", links)
	}
	if links[0].Target != "Other Note" {
		t.Errorf("links[0].Target = %q, want %q", links[0].Target, "Other Note")
	}
	if links[1].Target != "plain-note" {
		t.Errorf("links[1].Target = %q, want %q", links[1].Target, "plain-note")
	}
}

func TestMarkdownLinksIgnoresHTTP(t *testing.T) {
	body := "[local](notes/other.md) and [remote](https://example.com/x.md)"
	links := MarkdownLinks(body)
	if len(links) != 1 {
		t.Fatalf("MarkdownLinks() = %v, want 1", links)
	}
	if links[0].Target != "notes/other" {
		t.Errorf("links[0].Target = %q, want %q", links[0].Target, "notes/other")
	}
}

func TestTitlePrefersFrontmatterThenHeadingThenFilename(t *testing.T) {
	withFM := &Document{Frontmatter: map[string]any{"title": "From Frontmatter"}, Body: "# Heading\n"}
	if got := Title(withFM, "notes/a.md"); got != "From Frontmatter" {
		t.Errorf("Title() = %q, want %q", got, "From Frontmatter")
	}

	withHeading := &Document{Frontmatter: map[string]any{}, Body: "# A Heading\nbody"}
	if got := Title(withHeading, "notes/a.md"); got != "A Heading" {
		t.Errorf("Title() = %q, want %q", got, "A Heading")
	}

	bare := &Document{Frontmatter: map[string]any{}, Body: "no heading here"}
	if got := Title(bare, "notes/my-file.md"); got != "my-file" {
		t.Errorf("Title() = %q, want %q", got, "my-file")
	}
}
