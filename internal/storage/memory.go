package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/danjuanyang/psm-merge/internal/domain"
)

// MemoryJobStore is an in-process JobStore for local runs and tests.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.MergeJob
}

// NewMemoryJobStore creates an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*domain.MergeJob)}
}

func (s *MemoryJobStore) Create(ctx context.Context, job *domain.MergeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return domain.InvalidStateError("job already exists: " + job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (*domain.MergeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) Update(ctx context.Context, job *domain.MergeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryJobStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryJobStore) FindBySession(ctx context.Context, sessionID string) (*domain.MergeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sessionID == "" {
		return nil, ErrNotFound
	}
	for _, job := range s.jobs {
		if job.Kind == domain.JobKindPreview && job.PreviewSessionID == sessionID {
			return job.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// MemoryCatalog is an in-process DocumentCatalog and Authorizer.
type MemoryCatalog struct {
	mu       sync.RWMutex
	projects map[int64]domain.Project
	docs     map[int64]domain.SourceDocument
	members  map[int64]map[int64]bool
	nextID   int64
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		projects: make(map[int64]domain.Project),
		docs:     make(map[int64]domain.SourceDocument),
		members:  make(map[int64]map[int64]bool),
	}
}

// AddProject registers a project, assigning an ID when zero.
func (c *MemoryCatalog) AddProject(p domain.Project) domain.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.ID == 0 {
		c.nextID++
		p.ID = c.nextID
	}
	c.projects[p.ID] = p
	return p
}

// AddDocument registers a file, assigning an ID when zero.
func (c *MemoryCatalog) AddDocument(d domain.SourceDocument) domain.SourceDocument {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d.ID == 0 {
		c.nextID++
		d.ID = c.nextID
	}
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now()
	}
	c.docs[d.ID] = d
	return d
}

// AddMember grants userID access to projectID.
func (c *MemoryCatalog) AddMember(projectID, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.members[projectID] == nil {
		c.members[projectID] = make(map[int64]bool)
	}
	c.members[projectID][userID] = true
}

func (c *MemoryCatalog) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (c *MemoryCatalog) GetDocument(ctx context.Context, id int64) (*domain.SourceDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (c *MemoryCatalog) ListProjectDocuments(ctx context.Context, projectID int64) ([]domain.SourceDocument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var docs []domain.SourceDocument
	for _, d := range c.docs {
		if d.ProjectID == projectID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UploadedAt.Before(docs[j].UploadedAt)
	})
	return docs, nil
}

func (c *MemoryCatalog) CanAccessProject(ctx context.Context, userID, projectID int64) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.projects[projectID]; ok && p.OwnerID == userID {
		return true, nil
	}
	return c.members[projectID][userID], nil
}
