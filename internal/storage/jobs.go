package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danjuanyang/psm-merge/internal/domain"
)

// JobRepository persists merge jobs in SQL.
type JobRepository struct {
	db DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, kind, parent_job_id, project_id, requested_by, status, progress,
	status_message, error_message, merge_config, selected_file_ids, pages_to_delete,
	preview_session_id, preview_images, final_file_path, final_file_name,
	created_at, updated_at, completed_at`

// Create inserts a new job.
func (r *JobRepository) Create(ctx context.Context, job *domain.MergeJob) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal merge config: %w", err)
	}
	fileIDs, err := json.Marshal(job.SelectedFileIDs)
	if err != nil {
		return fmt.Errorf("marshal file ids: %w", err)
	}
	deletions, err := json.Marshal(job.PagesToDelete)
	if err != nil {
		return fmt.Errorf("marshal pages to delete: %w", err)
	}
	images, err := json.Marshal(job.PreviewImages)
	if err != nil {
		return fmt.Errorf("marshal preview images: %w", err)
	}

	query := `
		INSERT INTO merge_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID, string(job.Kind), job.ParentJobID, job.ProjectID, job.RequestedBy,
		string(job.Status), job.Progress, job.StatusMessage, job.ErrorMessage,
		string(cfg), string(fileIDs), string(deletions),
		job.PreviewSessionID, string(images), job.FinalFilePath, job.FinalFileName,
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(), nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert merge job: %w", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*domain.MergeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM merge_jobs WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// FindBySession retrieves the preview job that owns a preview session.
func (r *JobRepository) FindBySession(ctx context.Context, sessionID string) (*domain.MergeJob, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + jobColumns + ` FROM merge_jobs WHERE preview_session_id = $1 AND kind = $2`
	return r.scanOne(r.db.QueryRowContext(ctx, query, sessionID, string(domain.JobKindPreview)))
}

// Update writes the mutable columns of a job.
func (r *JobRepository) Update(ctx context.Context, job *domain.MergeJob) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal merge config: %w", err)
	}
	images, err := json.Marshal(job.PreviewImages)
	if err != nil {
		return fmt.Errorf("marshal preview images: %w", err)
	}

	query := `
		UPDATE merge_jobs
		SET status = $1, progress = $2, status_message = $3, error_message = $4,
			merge_config = $5, preview_session_id = $6, preview_images = $7,
			final_file_path = $8, final_file_name = $9, updated_at = $10, completed_at = $11
		WHERE id = $12
	`
	result, err := r.db.ExecContext(ctx, query,
		string(job.Status), job.Progress, job.StatusMessage, job.ErrorMessage,
		string(cfg), job.PreviewSessionID, string(images),
		job.FinalFilePath, job.FinalFileName, job.UpdatedAt.UTC(), nullTime(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update merge job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a job.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM merge_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete merge job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByProject returns a project's jobs, newest first.
func (r *JobRepository) ListByProject(ctx context.Context, projectID int64, limit int) ([]*domain.MergeJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM merge_jobs WHERE project_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list merge jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.MergeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *JobRepository) scanOne(row *sql.Row) (*domain.MergeJob, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func scanJob(row rowScanner) (*domain.MergeJob, error) {
	var (
		job                             domain.MergeJob
		kind, status                    string
		cfg, fileIDs, deletions, images string
		completedAt                     sql.NullTime
	)

	err := row.Scan(
		&job.ID, &kind, &job.ParentJobID, &job.ProjectID, &job.RequestedBy, &status, &job.Progress,
		&job.StatusMessage, &job.ErrorMessage, &cfg, &fileIDs, &deletions,
		&job.PreviewSessionID, &images, &job.FinalFilePath, &job.FinalFileName,
		&job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Kind = domain.JobKind(kind)
	job.Status = domain.JobStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(cfg), &job.Config); err != nil {
		return nil, fmt.Errorf("decode merge config: %w", err)
	}
	if err := json.Unmarshal([]byte(fileIDs), &job.SelectedFileIDs); err != nil {
		return nil, fmt.Errorf("decode file ids: %w", err)
	}
	if err := json.Unmarshal([]byte(deletions), &job.PagesToDelete); err != nil {
		return nil, fmt.Errorf("decode pages to delete: %w", err)
	}
	if err := json.Unmarshal([]byte(images), &job.PreviewImages); err != nil {
		return nil, fmt.Errorf("decode preview images: %w", err)
	}

	return &job, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
