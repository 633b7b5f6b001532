package daemon

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weaver-md/weaver/internal/config"
	"github.com/weaver-md/weaver/internal/watcher"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	vaultRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(vaultRoot, "seed.md"), []byte("# seed\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.Vault.Root = vaultRoot
	cfg.Cache.DBPath = filepath.Join(t.TempDir(), "cache.db")
	cfg.Workflow.StoreDir = t.TempDir()
	cfg.Activity.LogDir = t.TempDir()
	cfg.Activity.FlushInterval = time.Hour
	cfg.Watcher.DebounceWindow = 20 * time.Millisecond
	cfg.GitAuto.Enabled = false
	return cfg
}

func TestNewWiresEverySingleton(t *testing.T) {
	o, err := New(newTestConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { o.Stop() })

	assert.NotNil(t, o.Cache)
	assert.NotNil(t, o.LLM)
	assert.NotNil(t, o.Workflow)
	assert.NotNil(t, o.Rules)
	assert.NotNil(t, o.Activity)
	assert.NotNil(t, o.Watcher)
	assert.Nil(t, o.GitAuto)
	assert.NotNil(t, o.MCPMW)
}

func TestNewEnablesGitAutoWhenConfigured(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.GitAuto.Enabled = true
	cfg.GitAuto.DebounceWindow = time.Hour

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = cfg.Vault.Root
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.name", "Weaver Test")
	run("config", "user.email", "weaver-test@example.com")
	run("add", "--", "seed.md")
	run("commit", "-m", "seed")

	o, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { o.Stop() })

	assert.NotNil(t, o.GitAuto)
}

func TestStartSyncsVaultAndResumesWorkflows(t *testing.T) {
	o, err := New(newTestConfig(t), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, o.Start(ctx))

	file, err := o.Cache.GetFile(context.Background(), "seed.md")
	require.NoError(t, err)
	assert.Equal(t, "seed.md", file.Path)

	cancel()
	require.NoError(t, o.Stop())
}

func TestHandleEventRunsRulesAndInvalidatesCache(t *testing.T) {
	o, err := New(newTestConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { o.Stop() })

	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(o.cfg.Vault.Root, "note.md"), []byte("# Note\n\nbody\n"), 0644))

	o.handleEvent(ctx, watcher.Event{
		Kind:         watcher.KindAdd,
		AbsolutePath: filepath.Join(o.cfg.Vault.Root, "note.md"),
		RelativePath: "note.md",
	})

	file, err := o.Cache.GetFile(ctx, "note.md")
	require.NoError(t, err)
	assert.Equal(t, "note.md", file.Path)
}
