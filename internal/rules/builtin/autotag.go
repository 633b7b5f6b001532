// Package builtin implements the four worked-example rules spec.md
// §4.6 specifies to make the rule engine's dispatch contract testable:
// auto-tag, auto-link, daily-note, and meeting-note.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/weaver-md/weaver/internal/llm"
	"github.com/weaver-md/weaver/internal/rules"
	"github.com/weaver-md/weaver/internal/vault/parser"
)

// AutoTagConfig configures the auto-tag rule's LLM budget.
type AutoTagConfig struct {
	VaultRoot string
	ByteBudget int
}

// AutoTagRules returns the file:add and file:change registrations for
// spec.md §4.6.1: ask the LLM for 3-5 tags given (truncated) content,
// merge with existing frontmatter tags (dedup, case-insensitive,
// preserving the existing tags' order), and rewrite frontmatter.
func AutoTagRules(cfg AutoTagConfig) []rules.Rule {
	action := func(ctx context.Context, rc rules.Context) error {
		return autoTag(ctx, rc, cfg)
	}
	return []rules.Rule{
		{ID: "auto-tag:add", Trigger: rules.TriggerFileAdd, Action: action, Priority: 50, Enabled: true},
		{ID: "auto-tag:change", Trigger: rules.TriggerFileChange, Action: action, Priority: 50, Enabled: true},
	}
}

func autoTag(ctx context.Context, rc rules.Context, cfg AutoTagConfig) error {
	if !strings.HasSuffix(rc.Event.Path, ".md") {
		return nil
	}
	abs := filepath.Join(cfg.VaultRoot, rc.Event.Path)

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", rc.Event.Path, err)
	}

	doc, _ := parser.Parse(abs, content)

	budget := cfg.ByteBudget
	if budget <= 0 {
		budget = 4000
	}
	truncated := doc.Body
	if len(truncated) > budget {
		truncated = truncated[:budget]
	}

	prompt := fmt.Sprintf("Suggest 3 to 5 short topical tags for this note. Reply with one tag per line, no punctuation or numbering.\n\n%s", truncated)
	result, err := rc.LLM.SendMessage(ctx, prompt, llm.Options{ResponseFormat: llm.FormatList, MaxTokens: 128})
	if err != nil {
		return fmt.Errorf("auto-tag: llm request failed: %w", err)
	}

	merged := mergeTags(existingTags(doc), result.List)
	doc.Frontmatter["tags"] = merged

	rendered, err := parser.Render(doc)
	if err != nil {
		return fmt.Errorf("auto-tag: render frontmatter: %w", err)
	}
	if err := os.WriteFile(abs, rendered, 0644); err != nil {
		return fmt.Errorf("auto-tag: write %s: %w", rc.Event.Path, err)
	}

	if rc.Cache != nil {
		_ = rc.Cache.SyncPath(ctx, rc.Event.Path)
	}
	return nil
}

func existingTags(doc *parser.Document) []string {
	raw, ok := doc.Frontmatter["tags"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return nil
	}
}

// mergeTags dedups case-insensitively, preserving the order of existing
// tags and appending new suggestions that aren't already present.
func mergeTags(existing, suggested []string) []string {
	seen := make(map[string]bool, len(existing)+len(suggested))
	merged := make([]string, 0, len(existing)+len(suggested))

	for _, t := range existing {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, t)
	}
	for _, t := range suggested {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, t)
	}
	return merged
}
