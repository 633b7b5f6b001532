// Package parser extracts frontmatter, tags, wikilinks, and markdown
// links from vault file content. It is pure and deterministic: the same
// bytes always produce the same Document, Tags, and Links.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// Document is a parsed vault file: its frontmatter mapping and the
// remaining body text.
type Document struct {
	Frontmatter map[string]any
	Body        string
}

// ParseWarning records a non-fatal problem with a file's frontmatter.
// Shadow Cache records the best-effort Document and proceeds rather
// than aborting the sync batch; it does not log the warning.
type ParseWarning struct {
	Path   string
	Reason string
}

func (w *ParseWarning) Error() string {
	return fmt.Sprintf("%s: %s", w.Path, w.Reason)
}

// Parse splits file content into frontmatter and body. Malformed
// frontmatter never returns an error: it returns a best-effort Document
// (empty frontmatter, full original content as body) alongside a
// *ParseWarning the caller may log.
func Parse(path string, content []byte) (*Document, *ParseWarning) {
	str := string(content)

	if !strings.HasPrefix(str, frontmatterDelimiter) {
		return &Document{Frontmatter: map[string]any{}, Body: str}, nil
	}

	rest := str[len(frontmatterDelimiter):]
	idx := strings.Index(rest, "\n"+frontmatterDelimiter)
	if idx == -1 {
		return &Document{Frontmatter: map[string]any{}, Body: str},
			&ParseWarning{Path: path, Reason: "unclosed frontmatter fence"}
	}

	fmYAML := rest[:idx]
	body := strings.TrimPrefix(rest[idx+len("\n"+frontmatterDelimiter):], "\n")

	var frontmatter map[string]any
	if err := yaml.Unmarshal([]byte(fmYAML), &frontmatter); err != nil {
		return &Document{Frontmatter: map[string]any{}, Body: str},
			&ParseWarning{Path: path, Reason: fmt.Sprintf("invalid frontmatter YAML: %v", err)}
	}
	if frontmatter == nil {
		frontmatter = make(map[string]any)
	}

	return &Document{Frontmatter: frontmatter, Body: body}, nil
}

// Render reassembles a Document into file bytes, the inverse of Parse.
func Render(doc *Document) ([]byte, error) {
	var buf bytes.Buffer

	if len(doc.Frontmatter) > 0 {
		buf.WriteString(frontmatterDelimiter)
		buf.WriteString("\n")

		fmBytes, err := yaml.Marshal(doc.Frontmatter)
		if err != nil {
			return nil, fmt.Errorf("marshal frontmatter: %w", err)
		}
		buf.Write(fmBytes)

		buf.WriteString(frontmatterDelimiter)
		buf.WriteString("\n")
	}

	buf.WriteString(doc.Body)

	return buf.Bytes(), nil
}
