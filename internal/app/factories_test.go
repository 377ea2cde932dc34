package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danjuanyang/psm-merge/internal/config"
	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/merge"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = filepath.Join(root, "merge.db")
	cfg.Storage.TempDir = filepath.Join(root, "temp")
	cfg.Storage.OutputDir = filepath.Join(root, "merged")
	cfg.Render.DPI = 40
	return cfg
}

func writeSource(t *testing.T, dir, name, text string) string {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 16)
	doc.AddPage()
	doc.Cell(100, 10, text)
	path := filepath.Join(dir, name)
	require.NoError(t, doc.OutputFileAndClose(path))
	return path
}

func waitTerminal(t *testing.T, svc *merge.Service, jobID string, userID int64) *domain.MergeJob {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Poll(context.Background(), jobID, userID)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return nil
}

func TestApp_LocalPipeline(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, observability.NopLogger(), Options{LocalWorkers: true})
	require.NoError(t, err)
	defer a.Close()
	defer a.Shutdown(ctx)

	project, err := a.Catalog.CreateProject(ctx, "Depot", 10)
	require.NoError(t, err)

	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "b.pdf"} {
		doc := &domain.SourceDocument{ProjectID: project.ID, Name: name, Path: writeSource(t, dir, name, name), FileType: "pdf"}
		require.NoError(t, a.Catalog.AddDocument(ctx, doc))
	}

	started, err := a.Service.StartPreview(ctx, merge.StartPreviewRequest{
		ProjectID: project.ID,
		Config:    domain.MergeConfig{TOC: domain.TOCOptions{Enabled: true}, PageNumbers: true},
		UserID:    10,
	})
	require.NoError(t, err)

	preview := waitTerminal(t, a.Service, started.ID, 10)
	require.Equal(t, domain.StatusPreviewReady, preview.Status, preview.ErrorMessage)
	assert.Len(t, preview.PreviewImages, 3)

	final, err := a.Service.Finalize(ctx, preview.ID, []int{1}, 10)
	require.NoError(t, err)

	done := waitTerminal(t, a.Service, final.ID, 10)
	require.Equal(t, domain.StatusCompleted, done.Status, done.ErrorMessage)

	dl, err := a.Service.Download(ctx, final.ID, 10)
	require.NoError(t, err)
	defer dl.File.Close()
	assert.Equal(t, filepath.Join(cfg.Storage.OutputDir, "1"), filepath.Dir(dl.File.Name()))
}

func TestApp_WorkerModeNeedsRedisQueue(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), observability.NopLogger(), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.ErrorIs(t, a.Consume(ctx), domain.ErrConfig)

	_, err = a.Service.StartPreview(ctx, merge.StartPreviewRequest{ProjectID: 1, UserID: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
