package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/danjuanyang/psm-merge/internal/cache"
	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

const (
	eventBuffer = 16
	// terminalWriteAttempts bounds writes of the final job state.
	terminalWriteAttempts = 3
	terminalRetryDelay    = 50 * time.Millisecond
)

// recorder is the only writer of a job row while its run is in flight.
// Stages send events; the recorder folds them into the job, persists it and
// republishes it.
type recorder struct {
	job       *domain.MergeJob
	store     domain.JobStore
	publisher domain.ProgressPublisher
	logger    *observability.Logger
	now       func() time.Time

	events chan domain.ProgressEvent
	done   chan struct{}

	// persistErr is the last failed write; a later successful write clears it.
	persistErr error
}

func newRecorder(job *domain.MergeJob, store domain.JobStore, publisher domain.ProgressPublisher, logger *observability.Logger, now func() time.Time) *recorder {
	return &recorder{
		job:       job.Clone(),
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       now,
		events:    make(chan domain.ProgressEvent, eventBuffer),
		done:      make(chan struct{}),
	}
}

func (r *recorder) run(ctx context.Context) {
	defer close(r.done)
	ctx = context.WithoutCancel(ctx)
	for ev := range r.events {
		r.apply(ctx, ev)
	}
}

// close stops accepting events and waits until all of them are recorded.
// The error is non-nil when the stored row does not match the returned job.
func (r *recorder) close() (*domain.MergeJob, error) {
	close(r.events)
	<-r.done
	return r.job.Clone(), r.persistErr
}

func (r *recorder) apply(ctx context.Context, ev domain.ProgressEvent) {
	job := r.job
	if job.Status.IsTerminal() {
		r.logger.Warn().Str("status", string(ev.Status)).Msg("Ignoring event for finished job")
		return
	}
	if !job.Status.CanTransition(ev.Status) {
		r.logger.Warn().
			Str("from", string(job.Status)).
			Str("to", string(ev.Status)).
			Msg("Ignoring invalid status transition")
		return
	}

	job.Status = ev.Status
	if ev.Progress > job.Progress {
		job.Progress = ev.Progress
	}
	if job.Progress > 100 {
		job.Progress = 100
	}
	if ev.Message != "" {
		job.StatusMessage = ev.Message
	}

	if ev.Preview != nil {
		job.PreviewSessionID = ev.Preview.SessionID
		job.PreviewImages = ev.Preview.Images
		job.Config.SourceProvenance = ev.Preview.Provenance
	}
	if ev.Final != nil {
		job.FinalFilePath = ev.Final.FilePath
		job.FinalFileName = ev.Final.FileName
	}
	if ev.Status == domain.StatusFailed {
		job.Progress = 100
		job.ErrorMessage = ev.Error
	}

	now := r.now()
	job.UpdatedAt = now
	if job.Status.IsTerminal() {
		job.CompletedAt = &now
	}

	r.persist(ctx, job)

	if r.publisher != nil {
		out := domain.ProgressEvent{
			JobID:     job.ID,
			Status:    job.Status,
			Progress:  job.Progress,
			Message:   job.StatusMessage,
			Error:     job.ErrorMessage,
			Timestamp: now,
		}
		if err := r.publisher.Publish(ctx, cache.ProgressChannel(job.ID), out); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to publish progress")
		}
	}

	r.logger.Debug().
		Str("status", string(job.Status)).
		Int("progress", job.Progress).
		Msg(job.StatusMessage)
}

// persist writes job. Progress writes are attempted once and terminal
// writes up to terminalWriteAttempts times.
func (r *recorder) persist(ctx context.Context, job *domain.MergeJob) {
	attempts := 1
	if job.Status.IsTerminal() {
		attempts = terminalWriteAttempts
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(terminalRetryDelay)
		}
		if err = r.store.Update(ctx, job); err == nil {
			r.persistErr = nil
			return
		}
		r.logger.Error().
			Err(err).
			Str("status", string(job.Status)).
			Int("progress", job.Progress).
			Int("attempt", i+1).
			Msg("Failed to persist job progress")
	}
	r.persistErr = fmt.Errorf("update job %s to %s: %w", job.ID, job.Status, err)
}

// progress is the sending side handed to pipeline stages.
type progress struct {
	ch      chan<- domain.ProgressEvent
	jobID   string
	running domain.JobStatus
}

func (p *progress) step(pct int, msg string) {
	p.ch <- domain.ProgressEvent{JobID: p.jobID, Status: p.running, Progress: pct, Message: msg, Timestamp: time.Now()}
}

func (p *progress) previewReady(msg string, res *domain.PreviewResult) {
	p.ch <- domain.ProgressEvent{JobID: p.jobID, Status: domain.StatusPreviewReady, Progress: 100, Message: msg, Preview: res, Timestamp: time.Now()}
}

func (p *progress) completed(msg string, res *domain.FinalResult) {
	p.ch <- domain.ProgressEvent{JobID: p.jobID, Status: domain.StatusCompleted, Progress: 100, Message: msg, Final: res, Timestamp: time.Now()}
}

func (p *progress) fail(err error) {
	p.ch <- domain.ProgressEvent{JobID: p.jobID, Status: domain.StatusFailed, Progress: 100, Message: "Merge failed", Error: err.Error(), Timestamp: time.Now()}
}
