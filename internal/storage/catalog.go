package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danjuanyang/psm-merge/internal/domain"
)

// CatalogRepository reads projects and their uploaded files. It also
// answers project access questions from ownership and membership rows.
type CatalogRepository struct {
	db DB
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetProject retrieves a project by ID.
func (r *CatalogRepository) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	query := `SELECT id, name, owner_id FROM projects WHERE id = $1`
	p := &domain.Project{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// GetDocument retrieves an uploaded file by ID.
func (r *CatalogRepository) GetDocument(ctx context.Context, id int64) (*domain.SourceDocument, error) {
	query := `
		SELECT id, project_id, original_name, file_path, file_type, upload_date
		FROM project_files WHERE id = $1
	`
	d := &domain.SourceDocument{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.ProjectID, &d.Name, &d.Path, &d.FileType, &d.UploadedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListProjectDocuments returns every file of a project in upload order.
func (r *CatalogRepository) ListProjectDocuments(ctx context.Context, projectID int64) ([]domain.SourceDocument, error) {
	query := `
		SELECT id, project_id, original_name, file_path, file_type, upload_date
		FROM project_files
		WHERE project_id = $1
		ORDER BY upload_date ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	defer rows.Close()

	var docs []domain.SourceDocument
	for rows.Next() {
		var d domain.SourceDocument
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.Path, &d.FileType, &d.UploadedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// CanAccessProject reports whether userID owns or is a member of the project.
func (r *CatalogRepository) CanAccessProject(ctx context.Context, userID, projectID int64) (bool, error) {
	query := `
		SELECT
			EXISTS (SELECT 1 FROM projects WHERE id = $1 AND owner_id = $2)
			OR EXISTS (SELECT 1 FROM project_members WHERE project_id = $3 AND user_id = $4)
	`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, projectID, userID, projectID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check project access: %w", err)
	}
	return ok, nil
}

// CreateProject inserts a project and returns it with its assigned ID.
func (r *CatalogRepository) CreateProject(ctx context.Context, name string, ownerID int64) (*domain.Project, error) {
	p := &domain.Project{Name: name, OwnerID: ownerID}
	query := `INSERT INTO projects (name, owner_id) VALUES ($1, $2) RETURNING id`
	if err := r.db.QueryRowContext(ctx, query, name, ownerID).Scan(&p.ID); err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// AddMember grants userID access to the project.
func (r *CatalogRepository) AddMember(ctx context.Context, projectID, userID int64) error {
	query := `INSERT INTO project_members (project_id, user_id) VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, query, projectID, userID); err != nil {
		return fmt.Errorf("insert project member: %w", err)
	}
	return nil
}

// AddDocument registers an uploaded file and fills in its ID.
func (r *CatalogRepository) AddDocument(ctx context.Context, doc *domain.SourceDocument) error {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO project_files (project_id, original_name, file_path, file_type, upload_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		doc.ProjectID, doc.Name, doc.Path, doc.FileType, doc.UploadedAt.UTC(),
	).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("insert project file: %w", err)
	}
	return nil
}
