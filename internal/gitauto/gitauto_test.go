package gitauto

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaver-md/weaver/internal/llm"
	"github.com/weaver-md/weaver/internal/obslog"
)

// newTestRepo initializes a real git working tree, the same way
// githubnext-gh-aw's golden tests bootstrap fixtures, so gitauto's
// staging/commit checks run against actual git plumbing rather than a
// hand-rolled fake.
func newTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.name", "Weaver Test")
	run("config", "user.email", "weaver-test@example.com")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.md"), []byte("# seed\n"), 0644))
	run("add", "--", "seed.md")
	run("commit", "-m", "seed")
	return dir
}

func newTestCommitter(t *testing.T, repoRoot string, llmc SummaryClient) *Committer {
	t.Helper()
	c, err := New(repoRoot, time.Hour, "", llmc, obslog.Noop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func lastCommitMessage(t *testing.T, repoRoot string) string {
	t.Helper()
	cmd := exec.Command("git", "log", "-1", "--pretty=%B")
	cmd.Dir = repoRoot
	out, err := cmd.CombinedOutput()
	require.NoError(t, err)
	return string(out)
}

func lastCommitFiles(t *testing.T, repoRoot string) []string {
	t.Helper()
	cmd := exec.Command("git", "show", "--name-only", "--pretty=format:", "HEAD")
	cmd.Dir = repoRoot
	out, err := cmd.CombinedOutput()
	require.NoError(t, err)
	var files []string
	for _, l := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			files = append(files, l)
		}
	}
	return files
}

func TestStageAndCommitSkipsWhenNothingStaged(t *testing.T) {
	repo := newTestRepo(t)
	c := newTestCommitter(t, repo, nil)

	before := lastCommitMessage(t, repo)
	// seed.md is already committed and unmodified, so staging it adds
	// nothing new and the commit attempt should be a clean no-op.
	require.NoError(t, c.stageAndCommit(context.Background(), []string{"seed.md"}))
	assert.Equal(t, before, lastCommitMessage(t, repo))
}

func TestStageAndCommitCreatesCommit(t *testing.T) {
	repo := newTestRepo(t)
	c := newTestCommitter(t, repo, nil)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "note.md"), []byte("# note\n"), 0644))
	require.NoError(t, c.stageAndCommit(context.Background(), []string{"note.md"}))

	assert.Contains(t, lastCommitMessage(t, repo), "weaver: auto-commit (1 files)")
	assert.Contains(t, lastCommitFiles(t, repo), "note.md")
}

func TestStageAndCommitSkipsDuringMerge(t *testing.T) {
	repo := newTestRepo(t)
	c := newTestCommitter(t, repo, nil)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "note.md"), []byte("# note\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, ".git", "MERGE_HEAD"), []byte("deadbeef\n"), 0644))

	before := lastCommitMessage(t, repo)
	require.NoError(t, c.stageAndCommit(context.Background(), []string{"note.md"}))
	assert.Equal(t, before, lastCommitMessage(t, repo))
}

func TestOnFlushBatchesMultiplePaths(t *testing.T) {
	repo := newTestRepo(t)
	c := newTestCommitter(t, repo, nil)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "a.md"), []byte("a\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "b.md"), []byte("b\n"), 0644))

	c.onFlush(pathSet{"a.md": {}, "b.md": {}})

	files := lastCommitFiles(t, repo)
	assert.ElementsMatch(t, []string{"a.md", "b.md"}, files)
	assert.Contains(t, lastCommitMessage(t, repo), "(2 files)")
}

type fakeSummaryClient struct {
	result *llm.Result
	err    error
}

func (f *fakeSummaryClient) SendMessage(ctx context.Context, prompt string, opts llm.Options) (*llm.Result, error) {
	return f.result, f.err
}

func TestComposeMessageAppendsLLMSummary(t *testing.T) {
	repo := newTestRepo(t)
	fake := &fakeSummaryClient{result: &llm.Result{Text: "Added a gardening note."}}
	c := newTestCommitter(t, repo, fake)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "note.md"), []byte("# note\n"), 0644))
	require.NoError(t, c.stageAndCommit(context.Background(), []string{"note.md"}))

	msg := lastCommitMessage(t, repo)
	assert.Contains(t, msg, "weaver: auto-commit (1 files)")
	assert.Contains(t, msg, "Added a gardening note.")
}

func TestComposeMessageFallsBackWithoutLLMClient(t *testing.T) {
	repo := newTestRepo(t)
	c := newTestCommitter(t, repo, nil)

	message, err := c.composeMessage(context.Background(), []string{"note.md"})
	require.NoError(t, err)
	assert.Equal(t, "weaver: auto-commit (1 files)", message)
}

func TestNewRejectsInvalidTemplate(t *testing.T) {
	_, err := New(t.TempDir(), time.Minute, "{{.Broken", nil, obslog.Noop())
	require.Error(t, err)
}

func TestMergeOrRebaseInProgressDetectsRebaseMergeDir(t *testing.T) {
	repo := newTestRepo(t)
	c := newTestCommitter(t, repo, nil)
	assert.False(t, c.mergeOrRebaseInProgress())

	require.NoError(t, os.Mkdir(filepath.Join(repo, ".git", "rebase-merge"), 0755))
	assert.True(t, c.mergeOrRebaseInProgress())
}
