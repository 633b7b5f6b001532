package parser

import (
	"regexp"
	"strings"
)

// LinkKind distinguishes the two link syntaxes a vault file may use.
type LinkKind string

const (
	LinkKindWikilink LinkKind = "wikilink"
	LinkKindMarkdown LinkKind = "markdown-link"
)

// Link is one outgoing reference extracted from a file's body.
type Link struct {
	Target string
	Kind   LinkKind
}

var (
	wikilinkRE = regexp.MustCompile(`\[\[([^\]|]+)(?:\|[^\]]*)?\]\]`)
	mdLinkRE   = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+\.md)\)`)
)

// normalizeTarget strips a trailing ".md" so wikilink and markdown-link
// targets to the same file compare equal regardless of extension.
func normalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	target = strings.TrimSuffix(target, ".md")
	return target
}

// Wikilinks extracts `[[target]]` / `[[target|alias]]` references from
// the body, outside of code.
func Wikilinks(body string) []Link {
	clean := stripCode(body)
	matches := wikilinkRE.FindAllStringSubmatch(clean, -1)
	out := make([]Link, 0, len(matches))
	for _, m := range matches {
		out = append(out, Link{Target: normalizeTarget(m[1]), Kind: LinkKindWikilink})
	}
	return out
}

// MarkdownLinks extracts `[label](target.md)` references to relative
// .md targets, ignoring http(s) URLs.
func MarkdownLinks(body string) []Link {
	clean := stripCode(body)
	matches := mdLinkRE.FindAllStringSubmatch(clean, -1)
	out := make([]Link, 0, len(matches))
	for _, m := range matches {
		target := m[1]
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			continue
		}
		out = append(out, Link{Target: normalizeTarget(target), Kind: LinkKindMarkdown})
	}
	return out
}

// Links returns the union of Wikilinks and MarkdownLinks for body.
func Links(body string) []Link {
	return append(Wikilinks(body), MarkdownLinks(body)...)
}
