// Package merge orchestrates preview and final merge jobs: the background
// pipeline that assembles and renders documents, and the service operations
// that create, inspect and clean up jobs.
package merge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/danjuanyang/psm-merge/internal/assemble"
	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/lifecycle"
	"github.com/danjuanyang/psm-merge/internal/observability"
	"github.com/danjuanyang/psm-merge/internal/queue"
	"github.com/danjuanyang/psm-merge/internal/resolver"
)

// Runner executes the pipeline of a single job.
type Runner struct {
	store     domain.JobStore
	catalog   domain.DocumentCatalog
	resolver  *resolver.Resolver
	assembler *assemble.Assembler
	renderer  domain.Renderer
	lifecycle *lifecycle.Manager
	publisher domain.ProgressPublisher
	urlPrefix string
	logger    *observability.Logger
	now       func() time.Time
}

// RunnerDeps groups the collaborators of a Runner.
type RunnerDeps struct {
	Store     domain.JobStore
	Catalog   domain.DocumentCatalog
	Resolver  *resolver.Resolver
	Assembler *assemble.Assembler
	Renderer  domain.Renderer
	Lifecycle *lifecycle.Manager
	Publisher domain.ProgressPublisher
	// PreviewURLPrefix is joined with session id and image name to build
	// preview image URLs.
	PreviewURLPrefix string
}

// NewRunner creates a Runner.
func NewRunner(deps RunnerDeps, logger *observability.Logger) *Runner {
	return &Runner{
		store:     deps.Store,
		catalog:   deps.Catalog,
		resolver:  deps.Resolver,
		assembler: deps.Assembler,
		renderer:  deps.Renderer,
		lifecycle: deps.Lifecycle,
		publisher: deps.Publisher,
		urlPrefix: deps.PreviewURLPrefix,
		logger:    logger.WithComponent("runner"),
		now:       time.Now,
	}
}

// Handle adapts the runner to a queue handler.
func (r *Runner) Handle(ctx context.Context, task queue.Task) error {
	return r.Execute(ctx, task.JobID)
}

// Execute runs a pending job to a terminal state. Jobs that are not pending
// are left untouched. Every run ends at progress 100, and a stage failure or
// panic is recorded on the job and also returned. An error is also returned
// when the final job state could not be stored.
func (r *Runner) Execute(ctx context.Context, jobID string) error {
	job, err := r.store.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	log := r.logger.WithContext(ctx).WithJob(job.ID, string(job.Kind))
	if job.Status != domain.StatusPending {
		log.Warn().Str("status", string(job.Status)).Msg("Job is not pending, skipping")
		return nil
	}

	rec := newRecorder(job, r.store, r.publisher, log, r.now)
	go rec.run(ctx)

	p := &progress{ch: rec.events, jobID: job.ID, running: job.Kind.RunningStatus()}

	start := r.now()
	runErr := r.runStages(ctx, job, p, log)
	if runErr != nil {
		p.fail(runErr)
	}
	final, persistErr := rec.close()

	if runErr != nil {
		if persistErr != nil {
			log.Error().Err(persistErr).Msg("Failed to persist failed job state")
			runErr = errors.Join(runErr, persistErr)
		}
		log.Error().Err(runErr).Dur("duration", r.now().Sub(start)).Msg("Merge job failed")
		return runErr
	}
	if persistErr != nil {
		log.Error().Err(persistErr).Str("status", string(final.Status)).Msg("Merge job finished but its state was not persisted")
		return domain.IOError("persist job state", persistErr)
	}
	log.Info().
		Str("status", string(final.Status)).
		Dur("duration", r.now().Sub(start)).
		Msg("Merge job finished")
	return nil
}

// runStages dispatches on job kind. A panic in any stage becomes an
// internal error so the job still reaches FAILED.
func (r *Runner) runStages(ctx context.Context, job *domain.MergeJob, p *progress, log *observability.Logger) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = stagePanic(v, log)
		}
	}()

	switch job.Kind {
	case domain.JobKindPreview:
		return r.runPreview(ctx, job, p, log)
	case domain.JobKindFinal:
		return r.runFinal(ctx, job, p, log)
	default:
		return domain.InvalidStateError(fmt.Sprintf("unknown job kind %q", job.Kind))
	}
}

func stagePanic(v interface{}, log *observability.Logger) error {
	log.Error().
		Interface("panic", v).
		Str("stack", string(debug.Stack())).
		Msg("Merge stage panicked")
	return domain.InternalError(fmt.Sprintf("merge stage panicked: %v", v), nil)
}

func (r *Runner) runPreview(ctx context.Context, job *domain.MergeJob, p *progress, log *observability.Logger) (err error) {
	p.step(5, "Starting preview generation")

	docs, err := r.resolver.Resolve(ctx, job.ProjectID, job.SelectedFileIDs)
	if err != nil {
		return err
	}
	p.step(15, fmt.Sprintf("Resolved %d documents", len(docs)))

	ws, err := r.lifecycle.NewWorkspace(job.ID)
	if err != nil {
		return err
	}
	defer r.removeWorkspace(ws, log)

	sessionID, sessionDir, err := r.lifecycle.CreateSession()
	if err != nil {
		return err
	}
	defer func() {
		// A panicking stage must still drop the half-written session.
		if v := recover(); v != nil {
			err = stagePanic(v, log)
		}
		if err != nil {
			if rmErr := r.lifecycle.RemoveSession(sessionID); rmErr != nil {
				log.Warn().Err(rmErr).Str("session_id", sessionID).Msg("Failed to remove preview session")
			}
		}
	}()

	plan, err := r.assembler.Prepare(ctx, assemble.Input{Config: job.Config, Sources: docs, WorkDir: ws.Dir})
	if err != nil {
		return err
	}
	p.step(25, fmt.Sprintf("Laid out %d pages", plan.Layout.TotalPages))

	merged, err := r.assembler.Merge(ctx, plan, nil, ws.Path("preview.pdf"))
	if err != nil {
		return err
	}
	p.step(40, "Merged documents")

	p.step(60, fmt.Sprintf("Rendering %d preview pages", merged.Pages))
	pages, err := r.renderer.Render(ctx, merged.Path, sessionDir)
	if err != nil {
		return err
	}
	p.step(80, fmt.Sprintf("Rendered %d preview pages", len(pages)))

	images := make([]domain.PreviewImage, len(pages))
	for i, page := range pages {
		name := filepath.Base(page.ImagePath)
		images[i] = domain.PreviewImage{
			PageNumber: page.PageNumber,
			PageIndex:  page.PageIndex,
			Filename:   name,
			URL:        fmt.Sprintf("%s/%s/%s", r.urlPrefix, sessionID, name),
		}
	}

	p.previewReady("Preview ready", &domain.PreviewResult{
		SessionID:  sessionID,
		Images:     images,
		Provenance: plan.Layout.Provenance,
	})
	return nil
}

func (r *Runner) runFinal(ctx context.Context, job *domain.MergeJob, p *progress, log *observability.Logger) error {
	p.step(5, "Starting final document generation")

	project, err := r.catalog.GetProject(ctx, job.ProjectID)
	if err != nil {
		return err
	}

	docs, err := r.resolver.Resolve(ctx, job.ProjectID, job.SelectedFileIDs)
	if err != nil {
		return err
	}
	p.step(20, fmt.Sprintf("Resolved %d documents", len(docs)))

	ws, err := r.lifecycle.NewWorkspace(job.ID)
	if err != nil {
		return err
	}
	defer r.removeWorkspace(ws, log)

	plan, err := r.assembler.Prepare(ctx, assemble.Input{Config: job.Config, Sources: docs, WorkDir: ws.Dir})
	if err != nil {
		return err
	}
	if !sameLayout(plan.Layout.Provenance, job.Config.SourceProvenance) {
		log.Warn().Msg("Source layout differs from preview; page indices may have shifted")
	}
	p.step(40, fmt.Sprintf("Laid out %d pages", plan.Layout.TotalPages))

	merged, err := r.assembler.Merge(ctx, plan, job.PagesToDelete, ws.Path("merged.pdf"))
	if err != nil {
		return err
	}
	p.step(60, fmt.Sprintf("Merged %d pages", merged.Pages))

	out := merged.Path
	if job.Config.PageNumbers {
		out = ws.Path("numbered.pdf")
		if err := r.assembler.NumberPages(ctx, merged, out); err != nil {
			return err
		}
	}
	p.step(80, "Applied page numbers")

	path, name, err := r.lifecycle.CommitFinal(out, job.ProjectID, project.Name, r.now())
	if err != nil {
		return err
	}

	p.completed("Final document ready", &domain.FinalResult{FilePath: path, FileName: name})
	return nil
}

func (r *Runner) removeWorkspace(ws *lifecycle.Workspace, log *observability.Logger) {
	if err := ws.Remove(); err != nil {
		log.Warn().Err(err).Str("dir", ws.Dir).Msg("Failed to remove workspace")
	}
}

func sameLayout(a, b []domain.ProvenanceEntry) bool {
	if len(b) == 0 {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].PageRange != b[i].PageRange || a[i].SourceType != b[i].SourceType {
			return false
		}
	}
	return true
}
