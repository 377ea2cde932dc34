//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/danjuanyang/psm-merge/internal/config"
	"github.com/danjuanyang/psm-merge/internal/domain"
)

func TestPostgres_JobAndCatalogRepositories(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("psm_merge_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	}()

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := Open(config.DatabaseConfig{
		Driver: "postgres",
		Postgres: config.PostgresConfig{
			DSN:          fmt.Sprintf("postgres://test:test@%s:%s/psm_merge_test?sslmode=disable", host, port.Port()),
			MaxOpenConns: 5,
			MaxIdleConns: 1,
		},
	})
	require.NoError(t, err)
	defer db.Close()

	status, err := NewMigrationManager(db, "postgres").Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.sql"}, status.Pending)

	catalog := NewCatalogRepository(db)
	project, err := catalog.CreateProject(ctx, "Tunnel", 7)
	require.NoError(t, err)

	doc := &domain.SourceDocument{ProjectID: project.ID, Name: "a.pdf", Path: "/data/a.pdf", FileType: "pdf"}
	require.NoError(t, catalog.AddDocument(ctx, doc))

	ok, err := catalog.CanAccessProject(ctx, 7, project.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	jobs := NewJobRepository(db)
	now := time.Now().UTC()
	job := &domain.MergeJob{
		ID:              "pg-job",
		Kind:            domain.JobKindFinal,
		ParentJobID:     "pg-preview",
		ProjectID:       project.ID,
		RequestedBy:     7,
		Status:          domain.StatusPending,
		SelectedFileIDs: []int64{doc.ID},
		PagesToDelete:   []int{0, 2},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, jobs.Create(ctx, job))

	got, err := jobs.Get(ctx, "pg-job")
	require.NoError(t, err)
	assert.Equal(t, "pg-preview", got.ParentJobID)
	assert.Equal(t, []int{0, 2}, got.PagesToDelete)
}
