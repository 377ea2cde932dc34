package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danjuanyang/psm-merge/internal/config"
	"github.com/danjuanyang/psm-merge/internal/domain"
)

func openTestDB(t *testing.T) *JobRepository {
	t.Helper()
	repo, _ := openTestRepos(t)
	return repo
}

func openTestRepos(t *testing.T) (*JobRepository, *CatalogRepository) {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "merge.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = NewMigrationManager(db, "sqlite").Migrate(context.Background())
	require.NoError(t, err)

	return NewJobRepository(db), NewCatalogRepository(db)
}

func TestMigrationManager_Idempotent(t *testing.T) {
	db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "merge.db")},
	})
	require.NoError(t, err)
	defer db.Close()

	m := NewMigrationManager(db, "sqlite")
	ctx := context.Background()

	first, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init_sqlite.sql"}, first.Pending)

	second, err := m.CheckMigrations(ctx)
	require.NoError(t, err)
	assert.True(t, second.UpToDate)
	assert.Equal(t, []string{"0001_init_sqlite.sql"}, second.Applied)
}

func TestMigrationManager_PostgresFileSelection(t *testing.T) {
	m := NewMigrationManager(nil, "postgres")
	files, err := m.listMigrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.sql"}, files)
}

func TestJobRepository_RoundTrip(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	fileID := int64(11)

	job := &domain.MergeJob{
		ID:              "job-1",
		Kind:            domain.JobKindPreview,
		ProjectID:       3,
		RequestedBy:     9,
		Status:          domain.StatusPending,
		Config:          domain.MergeConfig{Cover: domain.CoverOptions{Enabled: true, Title: "Report"}, PageNumbers: true},
		SelectedFileIDs: []int64{11, 10, 11},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, repo.Create(ctx, job))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobKindPreview, got.Kind)
	assert.Equal(t, []int64{11, 10, 11}, got.SelectedFileIDs)
	assert.Nil(t, got.PagesToDelete)
	assert.Nil(t, got.CompletedAt)
	assert.True(t, got.Config.Cover.Enabled)

	done := now.Add(time.Minute)
	got.Status = domain.StatusPreviewReady
	got.Progress = 100
	got.PreviewSessionID = "sess-1"
	got.PreviewImages = []domain.PreviewImage{{PageNumber: 1, PageIndex: 0, Filename: "page_1.png", URL: "/p/sess-1/page_1.png"}}
	got.Config.SourceProvenance = []domain.ProvenanceEntry{{PageRange: [2]int{0, 1}, SourceType: domain.SourceTypeFile, SourceName: "a.pdf", FileID: &fileID}}
	got.CompletedAt = &done
	got.UpdatedAt = done
	require.NoError(t, repo.Update(ctx, got))

	bySession, err := repo.FindBySession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", bySession.ID)
	assert.Equal(t, 100, bySession.Progress)
	require.Len(t, bySession.PreviewImages, 1)
	require.NotNil(t, bySession.CompletedAt)
	assert.True(t, done.Equal(*bySession.CompletedAt))
	require.Len(t, bySession.Config.SourceProvenance, 1)
	assert.Equal(t, int64(11), *bySession.Config.SourceProvenance[0].FileID)

	jobs, err := repo.ListByProject(ctx, 3, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, repo.Delete(ctx, "job-1"))
	_, err = repo.Get(ctx, "job-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestJobRepository_MissingRows(t *testing.T) {
	repo := openTestDB(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.FindBySession(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.Update(ctx, &domain.MergeJob{ID: "nope", UpdatedAt: time.Now()})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, "nope"), ErrNotFound)
}

func TestCatalogRepository(t *testing.T) {
	_, catalog := openTestRepos(t)
	ctx := context.Background()

	project, err := catalog.CreateProject(ctx, "Bridge", 1)
	require.NoError(t, err)
	require.NoError(t, catalog.AddMember(ctx, project.ID, 2))

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	later := &domain.SourceDocument{ProjectID: project.ID, Name: "later.pdf", Path: "/x/later.pdf", FileType: "pdf", UploadedAt: base.Add(time.Hour)}
	earlier := &domain.SourceDocument{ProjectID: project.ID, Name: "earlier.pdf", Path: "/x/earlier.pdf", FileType: "pdf", UploadedAt: base}
	require.NoError(t, catalog.AddDocument(ctx, later))
	require.NoError(t, catalog.AddDocument(ctx, earlier))

	docs, err := catalog.ListProjectDocuments(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "earlier.pdf", docs[0].Name)
	assert.Equal(t, "later.pdf", docs[1].Name)

	got, err := catalog.GetDocument(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, "/x/later.pdf", got.Path)

	for _, tc := range []struct {
		user int64
		want bool
	}{{1, true}, {2, true}, {3, false}} {
		ok, err := catalog.CanAccessProject(ctx, tc.user, project.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "user %d", tc.user)
	}

	_, err = catalog.GetProject(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryJobStore(t *testing.T) {
	store := NewMemoryJobStore()
	ctx := context.Background()

	job := &domain.MergeJob{ID: "a", Kind: domain.JobKindPreview, PreviewSessionID: "s"}
	require.NoError(t, store.Create(ctx, job))
	assert.Error(t, store.Create(ctx, job))

	job.Progress = 50
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, got.Progress, "store must not alias caller memory")

	found, err := store.FindBySession(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "a", found.ID)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
