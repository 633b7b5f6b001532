package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/weaver-md/weaver/internal/llm"
	"github.com/weaver-md/weaver/internal/rules"
	"github.com/weaver-md/weaver/internal/vault/parser"
)

// MeetingNoteConfig configures the meeting-note rule's watched
// directory and where extracted task files land.
type MeetingNoteConfig struct {
	VaultRoot    string
	MeetingsDir  string
	TasksDir     string
}

var nonSlugRE = regexp.MustCompile(`[^a-z0-9]+`)

// MeetingNoteRule returns the file:change registration for spec.md
// §4.6.4: on changes under the configured meetings directory, extract
// action items via the LLM, create one task file per item, and
// wikilink them from the source meeting note.
func MeetingNoteRule(cfg MeetingNoteConfig) rules.Rule {
	return rules.Rule{
		ID:      "meeting-note",
		Trigger: rules.TriggerFileChange,
		Guard: func(ctx context.Context, rc rules.Context) (bool, error) {
			return underMeetingsDir(rc.Event.Path, cfg.MeetingsDir), nil
		},
		Priority: 20,
		Enabled:  true,
		Action: func(ctx context.Context, rc rules.Context) error {
			return meetingNote(ctx, rc, cfg)
		},
	}
}

func underMeetingsDir(path, meetingsDir string) bool {
	if meetingsDir == "" {
		return false
	}
	rel := filepath.Clean(path)
	dir := filepath.Clean(meetingsDir)
	return rel == dir || strings.HasPrefix(rel, dir+string(filepath.Separator))
}

func meetingNote(ctx context.Context, rc rules.Context, cfg MeetingNoteConfig) error {
	abs := filepath.Join(cfg.VaultRoot, rc.Event.Path)
	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", rc.Event.Path, err)
	}
	doc, _ := parser.Parse(abs, content)

	prompt := fmt.Sprintf("Extract concrete action items from this meeting note. Reply with one action item per line, no numbering.\n\n%s", doc.Body)
	result, err := rc.LLM.SendMessage(ctx, prompt, llm.Options{ResponseFormat: llm.FormatList, MaxTokens: 256})
	if err != nil {
		return fmt.Errorf("meeting-note: llm request failed: %w", err)
	}
	if len(result.List) == 0 {
		return nil
	}

	tasksDir := cfg.TasksDir
	if tasksDir == "" {
		tasksDir = "tasks"
	}
	sourceTitle := parser.Title(doc, rc.Event.Path)

	var links strings.Builder
	for _, item := range result.List {
		slug := slugify(item)
		taskRel := filepath.Join(tasksDir, slug+".md")
		taskAbs := filepath.Join(cfg.VaultRoot, taskRel)

		taskBody := fmt.Sprintf("# %s\n\nSource: [[%s|%s]]\n\n- [ ] %s\n",
			item, strings.TrimSuffix(rc.Event.Path, ".md"), sourceTitle, item)

		if err := os.MkdirAll(filepath.Dir(taskAbs), 0755); err != nil {
			return fmt.Errorf("meeting-note: create tasks directory: %w", err)
		}
		if err := os.WriteFile(taskAbs, []byte(taskBody), 0644); err != nil {
			return fmt.Errorf("meeting-note: write task %s: %w", taskRel, err)
		}
		fmt.Fprintf(&links, "- [[%s|%s]]\n", strings.TrimSuffix(taskRel, ".md"), item)

		if rc.Cache != nil {
			_ = rc.Cache.SyncPath(ctx, taskRel)
		}
	}

	doc.Body = doc.Body + "\n## Action items\n\n" + links.String()
	rendered, err := parser.Render(doc)
	if err != nil {
		return fmt.Errorf("meeting-note: render source: %w", err)
	}
	if err := os.WriteFile(abs, rendered, 0644); err != nil {
		return fmt.Errorf("meeting-note: write source %s: %w", rc.Event.Path, err)
	}
	if rc.Cache != nil {
		return rc.Cache.SyncPath(ctx, rc.Event.Path)
	}
	return nil
}

func slugify(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := nonSlugRE.ReplaceAllString(lower, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 60 {
		slug = slug[:60]
	}
	if slug == "" {
		slug = "task"
	}
	return slug
}
