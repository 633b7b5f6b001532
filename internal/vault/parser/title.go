package parser

import (
	"path/filepath"
	"regexp"
	"strings"
)

var headingRE = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// Title derives a file's display title: frontmatter `title`, else the
// first `# heading` in the body, else the filename stem.
func Title(doc *Document, path string) string {
	if raw, ok := doc.Frontmatter["title"]; ok {
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}

	if m := headingRE.FindStringSubmatch(doc.Body); m != nil {
		return strings.TrimSpace(m[1])
	}

	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
