package lifecycle

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danjuanyang/psm-merge/internal/config"
	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	m, err := NewManager(config.StorageConfig{
		TempDir:   filepath.Join(root, "temp"),
		OutputDir: filepath.Join(root, "out"),
		Retention: time.Hour,
	}, observability.NopLogger())
	require.NoError(t, err)
	return m
}

func TestSessions(t *testing.T) {
	m := newManager(t)

	id, dir, err := m.CreateSession()
	require.NoError(t, err)
	assert.DirExists(t, dir)

	mapped, err := m.SessionDir(id)
	require.NoError(t, err)
	assert.Equal(t, dir, mapped)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "page_1.png"), []byte("png"), 0o644))
	f, err := m.OpenPreviewImage(id, "page_1.png")
	require.NoError(t, err)
	body, _ := io.ReadAll(f)
	f.Close()
	assert.Equal(t, "png", string(body))

	_, err = m.OpenPreviewImage(id, "page_2.png")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, m.RemoveSession(id))
	assert.NoDirExists(t, dir)
	require.NoError(t, m.RemoveSession(id))
}

func TestSessionDir_RejectsMalformedIDs(t *testing.T) {
	m := newManager(t)
	for _, id := range []string{"", "..", "../../etc", "abc"} {
		_, err := m.SessionDir(id)
		assert.ErrorIs(t, err, domain.ErrValidation, id)
	}
}

func TestValidateImageName(t *testing.T) {
	valid := []string{"page_1.png", "page_42.png"}
	invalid := []string{"", "page_0.png", "page_1.jpg", "../page_1.png", "page_1.png/..", "page_.png", "PAGE_1.png", "page_1.png\x00"}

	for _, name := range valid {
		assert.NoError(t, ValidateImageName(name), name)
	}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateImageName(name), domain.ErrValidation, name)
	}
}

func TestCommitFinal(t *testing.T) {
	m := newManager(t)
	ws, err := m.NewWorkspace("job-1")
	require.NoError(t, err)
	src := ws.Path("final.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.7"), 0o644))

	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	path, name, err := m.CommitFinal(src, 12, "Bridge Survey", at)
	require.NoError(t, err)
	assert.Equal(t, "Bridge_Survey_merged_20240309_140507.pdf", name)
	assert.Equal(t, filepath.Join(m.outputDir, "12", name), path)
	assert.FileExists(t, path)

	_, name2, err := m.CommitFinal(src, 12, "Bridge Survey", at)
	require.NoError(t, err)
	assert.NotEqual(t, name, name2)

	entries, err := os.ReadDir(filepath.Join(m.outputDir, "12"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	f, err := m.OpenFinal(path)
	require.NoError(t, err)
	f.Close()

	require.NoError(t, ws.Remove())
	assert.NoDirExists(t, ws.Dir)
}

func TestCommitFinal_MissingSourceLeavesNothing(t *testing.T) {
	m := newManager(t)
	_, _, err := m.CommitFinal(filepath.Join(t.TempDir(), "absent.pdf"), 3, "p", time.Now())
	assert.ErrorIs(t, err, domain.ErrOutputWrite)

	entries, err := os.ReadDir(filepath.Join(m.outputDir, "3"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenFinal_OutsideOutputRoot(t *testing.T) {
	m := newManager(t)
	outside := filepath.Join(t.TempDir(), "x.pdf")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	_, err := m.OpenFinal(outside)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFinalFileName_Sanitizes(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "ab_merged_20240102_030405.pdf", FinalFileName("a/b", at))
	assert.Equal(t, "project_merged_20240102_030405.pdf", FinalFileName("../", at))
	assert.Equal(t, "桥梁_merged_20240102_030405.pdf", FinalFileName("桥梁", at))
}

func TestSweep(t *testing.T) {
	m := newManager(t)
	now := time.Now()

	oldID, oldDir, err := m.CreateSession()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "page_1.png"), make([]byte, 100), 0o644))
	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldDir, old, old))

	_, freshDir, err := m.CreateSession()
	require.NoError(t, err)

	res, err := m.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, int64(100), res.BytesFreed)
	assert.NoDirExists(t, oldDir)
	assert.DirExists(t, freshDir)

	_, err = m.OpenPreviewImage(oldID, "page_1.png")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
