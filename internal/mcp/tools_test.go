package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaver-md/weaver/internal/obslog"
	"github.com/weaver-md/weaver/internal/rules"
	"github.com/weaver-md/weaver/internal/vault/cache"
	"github.com/weaver-md/weaver/internal/workflow"
)

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	vaultRoot := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	c, err := cache.NewShadowCache(dbPath, vaultRoot, obslog.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	wf, err := workflow.New(t.TempDir(), 2, obslog.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { wf.Close() })

	re := rules.New(nil, c, 128, time.Hour, obslog.Noop())

	return Deps{
		VaultRoot: vaultRoot,
		Cache:     c,
		Workflow:  wf,
		Rules:     re,
		Log:       obslog.Noop(),
	}
}

func TestReadVaultFileRejectsEscapingPaths(t *testing.T) {
	root := t.TempDir()
	_, err := readVaultFile(root, "../outside.md")
	require.Error(t, err)
}

func TestReadVaultFileReturnsContent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.md"), []byte("hello"), 0644))

	content, err := readVaultFile(root, "note.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestSearchContentFindsSubstringAcrossFiles(t *testing.T) {
	deps := newTestDeps(t)
	require.NoError(t, os.WriteFile(filepath.Join(deps.VaultRoot, "a.md"), []byte("this note is about gardening"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(deps.VaultRoot, "b.md"), []byte("this note is about cooking"), 0644))
	_, err := deps.Cache.SyncVault(context.Background())
	require.NoError(t, err)

	matches, err := deps.Cache.SearchContent(context.Background(), "gardening", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a.md", matches[0].Path)
}

func TestHealthSnapshotReportsOKWhenComponentsPresent(t *testing.T) {
	deps := newTestDeps(t)
	report := healthSnapshot(context.Background(), deps)
	assert.Equal(t, "ok", report.Cache.Status)
	assert.Equal(t, "ok", report.Workflow.Status)
	assert.Equal(t, "ok", report.Rules.Status)
}

func TestHealthSnapshotReportsUnavailableForNilComponents(t *testing.T) {
	report := healthSnapshot(context.Background(), Deps{})
	assert.Equal(t, "unavailable", report.Cache.Status)
	assert.Equal(t, "unavailable", report.Workflow.Status)
	assert.Equal(t, "unavailable", report.Rules.Status)
}

func TestTriggerAndAwaitWorkflowRoundTrip(t *testing.T) {
	deps := newTestDeps(t)
	deps.Workflow.Register(workflow.Definition{
		ID:      "double",
		Enabled: true,
		Body: func(ctx context.Context, rc *workflow.RunContext, input any) (any, error) {
			n := input.(float64)
			return rc.Step(ctx, "double-it", func(ctx context.Context) (any, error) {
				return n * 2, nil
			})
		},
	})

	runID, err := deps.Workflow.Start("double", float64(21))
	require.NoError(t, err)

	out, err := deps.Workflow.ReturnValue(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)

	defs := deps.Workflow.List(true)
	require.Len(t, defs, 1)
	assert.Equal(t, "double", defs[0].ID)
}
