package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/weaver-md/weaver/internal/rules"
	"github.com/weaver-md/weaver/internal/vault/cache"
	"github.com/weaver-md/weaver/internal/vault/parser"
)

// AutoLinkConfig configures how many other files the auto-link rule
// scans per invocation.
type AutoLinkConfig struct {
	VaultRoot   string
	MaxCandidates int
}

// AutoLinkRules returns the file:add and file:change registrations for
// spec.md §4.6.2: scan content for plain mentions of other files'
// titles and insert wikilinks for the first mention of each. The
// "similarity to local context passes a threshold" is implemented as a
// whole-word, case-insensitive substring match — a deliberately simple
// stand-in for the similarity scoring the specification leaves open.
func AutoLinkRules(cfg AutoLinkConfig) []rules.Rule {
	action := func(ctx context.Context, rc rules.Context) error {
		return autoLink(ctx, rc, cfg)
	}
	return []rules.Rule{
		{ID: "auto-link:add", Trigger: rules.TriggerFileAdd, Action: action, Priority: 40, Enabled: true},
		{ID: "auto-link:change", Trigger: rules.TriggerFileChange, Action: action, Priority: 40, Enabled: true},
	}
}

func autoLink(ctx context.Context, rc rules.Context, cfg AutoLinkConfig) error {
	if !strings.HasSuffix(rc.Event.Path, ".md") || rc.Cache == nil {
		return nil
	}
	abs := filepath.Join(cfg.VaultRoot, rc.Event.Path)

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", rc.Event.Path, err)
	}
	doc, _ := parser.Parse(abs, content)

	limit := cfg.MaxCandidates
	if limit <= 0 {
		limit = 200
	}
	result, err := rc.Cache.QueryFiles(ctx, cache.QueryFilesParams{Limit: limit})
	if err != nil {
		return fmt.Errorf("auto-link: query candidate files: %w", err)
	}

	existing := make(map[string]bool)
	for _, l := range parser.Wikilinks(doc.Body) {
		existing[strings.ToLower(l.Target)] = true
	}

	body := doc.Body
	linked := false
	for _, candidate := range result.Files {
		if candidate.Path == rc.Event.Path || candidate.Title == "" {
			continue
		}
		target := strings.TrimSuffix(candidate.Path, ".md")
		if existing[strings.ToLower(target)] {
			continue
		}

		re := wordBoundaryRegexp(candidate.Title)
		loc := re.FindStringIndex(body)
		if loc == nil {
			continue
		}

		replacement := fmt.Sprintf("[[%s|%s]]", target, body[loc[0]:loc[1]])
		body = body[:loc[0]] + replacement + body[loc[1]:]
		existing[strings.ToLower(target)] = true
		linked = true
	}

	if !linked {
		return nil
	}
	doc.Body = body

	rendered, err := parser.Render(doc)
	if err != nil {
		return fmt.Errorf("auto-link: render: %w", err)
	}
	if err := os.WriteFile(abs, rendered, 0644); err != nil {
		return fmt.Errorf("auto-link: write %s: %w", rc.Event.Path, err)
	}
	return rc.Cache.SyncPath(ctx, rc.Event.Path)
}

func wordBoundaryRegexp(title string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(title) + `\b`)
}
