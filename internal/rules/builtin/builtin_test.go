package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaver-md/weaver/internal/llm"
	"github.com/weaver-md/weaver/internal/rules"
)

type fakeLLM struct {
	list []string
	text string
	err  error
}

func (f *fakeLLM) SendMessage(ctx context.Context, prompt string, opts llm.Options) (*llm.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if opts.ResponseFormat == llm.FormatList {
		return &llm.Result{List: f.list}, nil
	}
	return &llm.Result{Text: f.text}, nil
}

func TestMergeTagsDedupsCaseInsensitivePreservingExistingOrder(t *testing.T) {
	merged := mergeTags([]string{"Go", "cli"}, []string{"go", "testing", "CLI"})
	assert.Equal(t, []string{"Go", "cli", "testing"}, merged)
}

func TestAutoTagWritesMergedFrontmatter(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.md"), []byte("---\ntags: [go]\n---\nSome content about Go.\n"), 0644))

	rule := AutoTagRules(AutoTagConfig{VaultRoot: root})[0]
	rc := rules.Context{
		Event: rules.Event{Trigger: rules.TriggerFileAdd, Path: "note.md"},
		LLM:   &fakeLLM{list: []string{"go", "programming"}},
	}
	require.NoError(t, rule.Action(context.Background(), rc))

	content, err := os.ReadFile(filepath.Join(root, "note.md"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "programming")
}

func TestAutoTagIgnoresNonMarkdown(t *testing.T) {
	rule := AutoTagRules(AutoTagConfig{VaultRoot: t.TempDir()})[0]
	rc := rules.Context{Event: rules.Event{Path: "image.png"}, LLM: &fakeLLM{}}
	require.NoError(t, rule.Action(context.Background(), rc))
}

func TestSlugifyProducesFilesystemSafeNames(t *testing.T) {
	assert.Equal(t, "fix-the-login-bug", slugify("Fix the login bug!"))
	assert.Equal(t, "task", slugify("   "))
}

func TestUnderMeetingsDirMatchesPrefix(t *testing.T) {
	assert.True(t, underMeetingsDir("meetings/standup.md", "meetings"))
	assert.True(t, underMeetingsDir(filepath.Join("meetings", "2026", "q3.md"), "meetings"))
	assert.False(t, underMeetingsDir("notes/standup.md", "meetings"))
	assert.False(t, underMeetingsDir("meetings.md", "meetings"))
}

func TestDailyNoteCreatesNoteWithRolledOverTasks(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	template := "daily/2006-01-02.md"
	yPath := filepath.Join(root, yesterday.Format(template))
	require.NoError(t, os.MkdirAll(filepath.Dir(yPath), 0755))
	require.NoError(t, os.WriteFile(yPath, []byte("# yesterday\n\n- [ ] unfinished task\n- [x] done task\n"), 0644))

	cfg := DailyNoteConfig{VaultRoot: root, PathTemplate: template}
	rc := rules.Context{Event: rules.Event{Trigger: rules.TriggerSchedule}}
	require.NoError(t, dailyNote(context.Background(), rc, cfg, now))

	todayContent, err := os.ReadFile(filepath.Join(root, now.Format(template)))
	require.NoError(t, err)
	assert.Contains(t, string(todayContent), "unfinished task")
	assert.NotContains(t, string(todayContent), "done task")
}

func TestDailyNoteIsIdempotentWhenNoteAlreadyExists(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	template := "daily/2006-01-02.md"
	todayPath := filepath.Join(root, now.Format(template))
	require.NoError(t, os.MkdirAll(filepath.Dir(todayPath), 0755))
	require.NoError(t, os.WriteFile(todayPath, []byte("already here"), 0644))

	cfg := DailyNoteConfig{VaultRoot: root, PathTemplate: template}
	rc := rules.Context{}
	require.NoError(t, dailyNote(context.Background(), rc, cfg, now))

	content, err := os.ReadFile(todayPath)
	require.NoError(t, err)
	assert.Equal(t, "already here", string(content))
}

func TestMeetingNoteCreatesTaskFilesAndLinksSource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "meetings"), 0755))
	notePath := filepath.Join(root, "meetings", "standup.md")
	require.NoError(t, os.WriteFile(notePath, []byte("# Standup\n\nDiscussed the release.\n"), 0644))

	rule := MeetingNoteRule(MeetingNoteConfig{VaultRoot: root, MeetingsDir: "meetings", TasksDir: "tasks"})
	rc := rules.Context{
		Event: rules.Event{Trigger: rules.TriggerFileChange, Path: filepath.Join("meetings", "standup.md")},
		LLM:   &fakeLLM{list: []string{"ship the release notes"}},
	}

	pass, err := rule.Guard(context.Background(), rc)
	require.NoError(t, err)
	require.True(t, pass)

	require.NoError(t, rule.Action(context.Background(), rc))

	taskPath := filepath.Join(root, "tasks", "ship-the-release-notes.md")
	taskContent, err := os.ReadFile(taskPath)
	require.NoError(t, err)
	assert.Contains(t, string(taskContent), "ship the release notes")

	sourceContent, err := os.ReadFile(notePath)
	require.NoError(t, err)
	assert.Contains(t, string(sourceContent), "Action items")
}
