// Package gitauto implements Git Auto-Commit (spec.md §4.9): it watches
// for vault file changes, coalesces them in a debounce window, and
// stages+commits them on the caller's behalf via the installed git
// binary. No pack repo vendors a Go git library, so it shells out
// exactly the way githubnext-gh-aw's pkg/cli wraps gh/git/docker
// subprocesses with exec.CommandContext + CombinedOutput.
package gitauto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/weaver-md/weaver/internal/debounce"
	"github.com/weaver-md/weaver/internal/llm"
	"github.com/weaver-md/weaver/internal/watcher"
)

// SummaryClient is the subset of llm.Client auto-commit needs to ask for
// a human-readable summary of a staged diff. Matches rules.LLMClient's
// shape so both packages can be faked identically in tests.
type SummaryClient interface {
	SendMessage(ctx context.Context, prompt string, opts llm.Options) (*llm.Result, error)
}

// templateData feeds CommitTemplate.
type templateData struct {
	FileCount int
	Files     []string
}

// batchKey is the single debounce-table key every changed path is
// merged under, so a burst of edits across many files collapses into
// one commit instead of one per file.
const batchKey = "vault"

// pathSet is the value combined under batchKey: the set of paths
// touched since the last flush.
type pathSet map[string]struct{}

// Committer debounces watcher events and commits the vault's working
// tree once its debounce window passes with no new event, skipping
// cleanly when there's nothing staged
// or a rebase/merge is already in progress.
type Committer struct {
	repoRoot string
	tmpl     *template.Template
	llmc     SummaryClient
	table    *debounce.Table[pathSet]
	log      *zap.SugaredLogger

	runGit func(ctx context.Context, args ...string) ([]byte, error)
}

// New builds a Committer rooted at repoRoot (expected to be the vault
// root, itself a git working tree). commitTemplate is parsed as a
// text/template executed against templateData; an empty template falls
// back to a fixed message.
func New(repoRoot string, debounceWindow time.Duration, commitTemplate string, llmc SummaryClient, log *zap.SugaredLogger) (*Committer, error) {
	if commitTemplate == "" {
		commitTemplate = "weaver: auto-commit ({{.FileCount}} files)"
	}
	tmpl, err := template.New("commit").Parse(commitTemplate)
	if err != nil {
		return nil, fmt.Errorf("gitauto: parse commit template: %w", err)
	}

	c := &Committer{
		repoRoot: repoRoot,
		tmpl:     tmpl,
		llmc:     llmc,
		log:      log,
	}
	c.runGit = c.execGit

	c.table = debounce.New[pathSet](debounceWindow,
		func(existing, incoming pathSet) (pathSet, bool) {
			for p := range incoming {
				existing[p] = struct{}{}
			}
			return existing, true
		},
		func(_ string, paths pathSet) { c.onFlush(paths) },
	)
	return c, nil
}

// Watch subscribes to w.Events() until ctx is cancelled, feeding every
// changed path into the debounce table. Returns once the events channel
// closes or ctx is done.
func (c *Committer) Watch(ctx context.Context, w *watcher.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			c.table.Update(batchKey, pathSet{ev.RelativePath: struct{}{}})
		case <-ctx.Done():
			return
		}
	}
}

// onFlush runs once the whole vault has gone quiet for the debounce
// window, staging and committing every path touched since the last
// flush as a single commit.
func (c *Committer) onFlush(paths pathSet) {
	rel := make([]string, 0, len(paths))
	for p := range paths {
		rel = append(rel, p)
	}
	sort.Strings(rel)

	ctx := context.Background()
	if err := c.stageAndCommit(ctx, rel); err != nil {
		if c.log != nil {
			c.log.Warnw("gitauto: auto-commit failed", "paths", rel, "error", err)
		}
	}
}

// stageAndCommit stages paths, then commits the resulting staging area
// as a whole (which may include paths from other already-staged
// changes) unless a merge/rebase is in progress or nothing is staged.
func (c *Committer) stageAndCommit(ctx context.Context, paths []string) error {
	if c.mergeOrRebaseInProgress() {
		if c.log != nil {
			c.log.Debugw("gitauto: skipping commit, rebase or merge in progress")
		}
		return nil
	}

	args := append([]string{"add", "--"}, paths...)
	if _, err := c.runGit(ctx, args...); err != nil {
		return fmt.Errorf("gitauto: stage: %w", err)
	}

	empty, err := c.stagingAreaEmpty(ctx)
	if err != nil {
		return err
	}
	if empty {
		return nil
	}

	staged, err := c.stagedFiles(ctx)
	if err != nil {
		return err
	}

	message, err := c.composeMessage(ctx, staged)
	if err != nil {
		return err
	}

	if _, err := c.runGit(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("gitauto: commit: %w", err)
	}
	if c.log != nil {
		c.log.Infow("gitauto: committed vault changes", "files", len(staged))
	}
	return nil
}

// mergeOrRebaseInProgress checks for the marker files git itself uses,
// matching spec.md §4.9's exact check rather than shelling out to `git
// status` and parsing its porcelain output.
func (c *Committer) mergeOrRebaseInProgress() bool {
	gitDir := filepath.Join(c.repoRoot, ".git")
	for _, marker := range []string{"MERGE_HEAD", "rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(gitDir, marker)); err == nil {
			return true
		}
	}
	return false
}

func (c *Committer) stagingAreaEmpty(ctx context.Context) (bool, error) {
	_, err := c.runGit(ctx, "diff", "--cached", "--quiet")
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("gitauto: check staging area: %w", err)
}

func (c *Committer) stagedFiles(ctx context.Context) ([]string, error) {
	out, err := c.runGit(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, fmt.Errorf("gitauto: list staged files: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	files := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			files = append(files, l)
		}
	}
	sort.Strings(files)
	return files, nil
}

// composeMessage renders CommitTemplate, then, if an LLM client is
// configured, asks it to summarize the staged diff and appends the
// summary as the commit body.
func (c *Committer) composeMessage(ctx context.Context, staged []string) (string, error) {
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, templateData{FileCount: len(staged), Files: staged}); err != nil {
		return "", fmt.Errorf("gitauto: render commit template: %w", err)
	}
	subject := strings.TrimSpace(buf.String())

	if c.llmc == nil {
		return subject, nil
	}

	diff, err := c.runGit(ctx, "diff", "--cached")
	if err != nil || len(diff) == 0 {
		return subject, nil
	}
	result, err := c.llmc.SendMessage(ctx, summaryPrompt(string(diff)), llm.Options{
		MaxTokens:      256,
		ResponseFormat: llm.FormatText,
		Timeout:        15 * time.Second,
	})
	if err != nil || result == nil || strings.TrimSpace(result.Text) == "" {
		if c.log != nil && err != nil {
			c.log.Debugw("gitauto: diff summary unavailable, using template subject only", "error", err)
		}
		return subject, nil
	}
	return subject + "\n\n" + strings.TrimSpace(result.Text), nil
}

func summaryPrompt(diff string) string {
	const maxDiffChars = 8000
	if len(diff) > maxDiffChars {
		diff = diff[:maxDiffChars] + "\n...(truncated)"
	}
	return "Summarize the following git diff in 1-3 sentences for a commit message body. " +
		"Describe what changed, not the diff format itself.\n\n" + diff
}

func (c *Committer) execGit(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = c.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s: %w: %s", strings.Join(args, " "), err, bytes.TrimSpace(out))
	}
	return out, nil
}

// Close stops the debounce table, flushing (and committing) any
// remaining pending paths first.
func (c *Committer) Close() {
	c.table.Stop()
}
