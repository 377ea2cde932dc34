package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/danjuanyang/psm-merge/internal/cache"
	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/lifecycle"
	"github.com/danjuanyang/psm-merge/internal/observability"
	"github.com/danjuanyang/psm-merge/internal/queue"
)

const (
	coverDateLayout = "2006-01-02"
	defaultCacheTTL = 10 * time.Minute
	dispatchFailMsg = "Failed to dispatch job"
)

// Service implements the merge operations exposed to users.
type Service struct {
	store      domain.JobStore
	catalog    domain.DocumentCatalog
	authz      domain.Authorizer
	dispatcher queue.Dispatcher
	lifecycle  *lifecycle.Manager
	cache      cache.Client
	pubsub     cache.PubSub
	cacheTTL   time.Duration
	logger     *observability.Logger
	now        func() time.Time
}

// ServiceDeps groups the collaborators of a Service. Cache and PubSub are
// optional.
type ServiceDeps struct {
	Store      domain.JobStore
	Catalog    domain.DocumentCatalog
	Authorizer domain.Authorizer
	Dispatcher queue.Dispatcher
	Lifecycle  *lifecycle.Manager
	Cache      cache.Client
	PubSub     cache.PubSub
	CacheTTL   time.Duration
}

// NewService creates a Service.
func NewService(deps ServiceDeps, logger *observability.Logger) *Service {
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		store:      deps.Store,
		catalog:    deps.Catalog,
		authz:      deps.Authorizer,
		dispatcher: deps.Dispatcher,
		lifecycle:  deps.Lifecycle,
		cache:      deps.Cache,
		pubsub:     deps.PubSub,
		cacheTTL:   ttl,
		logger:     logger.WithComponent("merge_service"),
		now:        time.Now,
	}
}

// StartPreviewRequest asks for a preview of a project's documents.
type StartPreviewRequest struct {
	ProjectID int64
	// FileIDs selects and orders sources. Empty means every project document.
	FileIDs []int64
	Config  domain.MergeConfig
	UserID  int64
}

// StartPreview records a pending preview job and dispatches it. Cover
// defaults are resolved here so the final run renders the same cover.
func (s *Service) StartPreview(ctx context.Context, req StartPreviewRequest) (*domain.MergeJob, error) {
	project, err := s.catalog.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeProject(ctx, req.UserID, project.ID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	cfg := req.Config
	cfg.SourceProvenance = nil
	if cfg.Cover.Enabled {
		if cfg.Cover.Title == "" {
			cfg.Cover.Title = project.Name
		}
		if cfg.Cover.Date == "" {
			cfg.Cover.Date = now.Format(coverDateLayout)
		}
	}

	job := &domain.MergeJob{
		ID:              uuid.NewString(),
		Kind:            domain.JobKindPreview,
		ProjectID:       project.ID,
		RequestedBy:     req.UserID,
		Status:          domain.StatusPending,
		StatusMessage:   "Queued",
		Config:          cfg,
		SelectedFileIDs: append([]int64(nil), req.FileIDs...),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create preview job: %w", err)
	}

	return s.dispatch(ctx, job)
}

// Poll returns the current state of a job. Terminal snapshots are cached.
func (s *Service) Poll(ctx context.Context, jobID string, userID int64) (*domain.MergeJob, error) {
	if job := s.cachedSnapshot(ctx, jobID); job != nil {
		if err := s.authorizeJob(ctx, userID, job); err != nil {
			return nil, err
		}
		return job, nil
	}

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeJob(ctx, userID, job); err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		s.cacheSnapshot(ctx, job)
	}
	return job, nil
}

// Finalize creates a final job from a ready preview. The preview's config
// and file selection are carried over unchanged; deletions are validated
// against the preview page count.
func (s *Service) Finalize(ctx context.Context, previewJobID string, deletions []int, userID int64) (*domain.MergeJob, error) {
	parent, err := s.store.Get(ctx, previewJobID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeJob(ctx, userID, parent); err != nil {
		return nil, err
	}
	if parent.Kind != domain.JobKindPreview {
		return nil, domain.InvalidStateError("only preview jobs can be finalized")
	}
	if parent.Status != domain.StatusPreviewReady {
		return nil, domain.InvalidStateError(fmt.Sprintf("preview job is %s, not %s", parent.Status, domain.StatusPreviewReady))
	}

	pages, err := normalizeDeletions(deletions, len(parent.PreviewImages))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	src := parent.Clone()
	job := &domain.MergeJob{
		ID:              uuid.NewString(),
		Kind:            domain.JobKindFinal,
		ParentJobID:     parent.ID,
		ProjectID:       parent.ProjectID,
		RequestedBy:     userID,
		Status:          domain.StatusPending,
		StatusMessage:   "Queued",
		Config:          src.Config,
		SelectedFileIDs: src.SelectedFileIDs,
		PagesToDelete:   pages,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create final job: %w", err)
	}

	return s.dispatch(ctx, job)
}

// Download is an open final document.
type Download struct {
	File     *os.File
	FileName string
}

// Download opens the artifact of a completed final job.
func (s *Service) Download(ctx context.Context, jobID string, userID int64) (*Download, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeJob(ctx, userID, job); err != nil {
		return nil, err
	}
	if job.Kind != domain.JobKindFinal || job.Status != domain.StatusCompleted {
		return nil, domain.InvalidStateError("final document is not available")
	}

	f, err := s.lifecycle.OpenFinal(job.FinalFilePath)
	if err != nil {
		return nil, err
	}
	return &Download{File: f, FileName: job.FinalFileName}, nil
}

// PreviewImage opens one page image of a preview session.
func (s *Service) PreviewImage(ctx context.Context, sessionID, name string, userID int64) (*os.File, error) {
	if err := lifecycle.ValidateImageName(name); err != nil {
		return nil, err
	}
	if _, err := s.lifecycle.SessionDir(sessionID); err != nil {
		return nil, err
	}

	job, err := s.store.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeJob(ctx, userID, job); err != nil {
		return nil, err
	}
	return s.lifecycle.OpenPreviewImage(sessionID, name)
}

// DeleteJob removes a job record and its preview session. Running jobs
// cannot be deleted.
func (s *Service) DeleteJob(ctx context.Context, jobID string, userID int64) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.authorizeJob(ctx, userID, job); err != nil {
		return err
	}
	if job.Status == domain.StatusGeneratingPreview || job.Status == domain.StatusGeneratingFinal {
		return domain.InvalidStateError("job is still running")
	}

	if err := s.lifecycle.RemoveSession(job.PreviewSessionID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, job.ID); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.JobSnapshotKey(job.ID)); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to evict job snapshot")
		}
	}

	s.logger.Info().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("Deleted merge job")
	return nil
}

// Subscribe streams progress events of a job. The returned job is read
// after the subscription starts, so no event after it is missed. The
// returned function stops the subscription.
func (s *Service) Subscribe(ctx context.Context, jobID string, userID int64) (*domain.MergeJob, <-chan []byte, func(), error) {
	if s.pubsub == nil {
		return nil, nil, nil, domain.InvalidStateError("progress streaming is not enabled")
	}

	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := s.authorizeJob(ctx, userID, job); err != nil {
		return nil, nil, nil, err
	}

	ch, cancel, err := s.pubsub.Subscribe(ctx, cache.ProgressChannel(jobID))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("subscribe to progress: %w", err)
	}

	job, err = s.store.Get(ctx, jobID)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return job, ch, cancel, nil
}

func (s *Service) dispatch(ctx context.Context, job *domain.MergeJob) (*domain.MergeJob, error) {
	log := s.logger.WithJob(job.ID, string(job.Kind))

	err := s.dispatcher.Dispatch(ctx, queue.Task{JobID: job.ID, Kind: job.Kind})
	if err == nil {
		log.Info().Int64("project_id", job.ProjectID).Msg("Dispatched merge job")
		return job, nil
	}

	log.Error().Err(err).Msg(dispatchFailMsg)
	now := s.now().UTC()
	job.Status = domain.StatusFailed
	job.Progress = 100
	job.StatusMessage = dispatchFailMsg
	job.ErrorMessage = err.Error()
	job.UpdatedAt = now
	job.CompletedAt = &now
	if uerr := s.store.Update(context.WithoutCancel(ctx), job); uerr != nil {
		log.Error().Err(uerr).Msg("Failed to record dispatch failure")
	}
	return nil, fmt.Errorf("dispatch job %s: %w", job.ID, err)
}

func (s *Service) authorizeProject(ctx context.Context, userID, projectID int64) error {
	ok, err := s.authz.CanAccessProject(ctx, userID, projectID)
	if err != nil {
		return fmt.Errorf("check project access: %w", err)
	}
	if !ok {
		return domain.ForbiddenError("not allowed to access this project")
	}
	return nil
}

func (s *Service) authorizeJob(ctx context.Context, userID int64, job *domain.MergeJob) error {
	if job.RequestedBy == userID {
		return nil
	}
	return s.authorizeProject(ctx, userID, job.ProjectID)
}

func (s *Service) cachedSnapshot(ctx context.Context, jobID string) *domain.MergeJob {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, cache.JobSnapshotKey(jobID))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job snapshot cache read failed")
		}
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil
	}
	return snap.job()
}

func (s *Service) cacheSnapshot(ctx context.Context, job *domain.MergeJob) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(newSnapshot(job))
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cache.JobSnapshotKey(job.ID), data, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to cache job snapshot")
	}
}

// snapshot keeps the fields the public JSON form of a job omits.
type snapshot struct {
	Job           *domain.MergeJob `json:"job"`
	FinalFilePath string           `json:"final_file_path,omitempty"`
}

func newSnapshot(job *domain.MergeJob) snapshot {
	return snapshot{Job: job, FinalFilePath: job.FinalFilePath}
}

func (s snapshot) job() *domain.MergeJob {
	if s.Job == nil {
		return nil
	}
	s.Job.FinalFilePath = s.FinalFilePath
	return s.Job
}

// normalizeDeletions checks every index against the page count and returns
// them sorted without duplicates. Removing every page is rejected.
func normalizeDeletions(deletions []int, pageCount int) ([]int, error) {
	seen := make(map[int]struct{}, len(deletions))
	out := make([]int, 0, len(deletions))
	for _, idx := range deletions {
		if idx < 0 || idx >= pageCount {
			return nil, domain.ValidationError(fmt.Sprintf("page index %d out of range [0, %d)", idx, pageCount), nil)
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	if pageCount > 0 && len(out) == pageCount {
		return nil, domain.ValidationError("cannot delete every page of the document", nil)
	}
	sort.Ints(out)
	return out, nil
}
