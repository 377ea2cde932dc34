package domain

import "context"

// JobStore persists merge jobs. Get and FindBySession return an error
// matching ErrNotFound when nothing matches.
type JobStore interface {
	Create(ctx context.Context, job *MergeJob) error
	Get(ctx context.Context, id string) (*MergeJob, error)
	Update(ctx context.Context, job *MergeJob) error
	Delete(ctx context.Context, id string) error
	FindBySession(ctx context.Context, sessionID string) (*MergeJob, error)
}

// DocumentCatalog is the read side of the project file store.
type DocumentCatalog interface {
	GetProject(ctx context.Context, id int64) (*Project, error)
	GetDocument(ctx context.Context, id int64) (*SourceDocument, error)
	ListProjectDocuments(ctx context.Context, projectID int64) ([]SourceDocument, error)
}

// Authorizer decides project-level access for users other than a job's requester.
type Authorizer interface {
	CanAccessProject(ctx context.Context, userID, projectID int64) (bool, error)
}

// Renderer rasterizes every page of a PDF into outDir.
type Renderer interface {
	// Render returns one PageImage per page, ordered by page.
	Render(ctx context.Context, pdfPath, outDir string) ([]PageImage, error)
}

// ProgressPublisher fans progress events out to subscribers.
type ProgressPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}
