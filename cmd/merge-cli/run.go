package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danjuanyang/psm-merge/internal/app"
	"github.com/danjuanyang/psm-merge/internal/cache"
	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/lifecycle"
	"github.com/danjuanyang/psm-merge/internal/merge"
	"github.com/danjuanyang/psm-merge/internal/queue"
	"github.com/danjuanyang/psm-merge/internal/storage"
)

// localUser owns the throwaway project of a local run.
const localUser int64 = 1

// newRunCmd creates the run subcommand.
func newRunCmd() *cobra.Command {
	var (
		project     string
		cover       bool
		title       string
		subtitle    string
		author      string
		toc         bool
		pageNumbers bool
		final       bool
		deletions   []int
		out         string
	)

	cmd := &cobra.Command{
		Use:   "run <file>...",
		Short: "Merge local files with a live progress display",
		Long: `Run merges files from disk through the full pipeline in this process,
without a database or queue. It always renders a preview first; with --final
or --delete it then builds the final document, dropping the given 0-based
page indices of the preview.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ui := NewUI(outputJSON, noColor)

			l, err := newLocalRun(project, args)
			if err != nil {
				return err
			}
			defer l.close()

			mergeCfg := domain.MergeConfig{
				Cover: domain.CoverOptions{
					Enabled:  cover,
					Title:    title,
					Subtitle: subtitle,
					Author:   author,
				},
				TOC:         domain.TOCOptions{Enabled: toc},
				PageNumbers: pageNumbers,
			}

			started, err := l.service.StartPreview(ctx, merge.StartPreviewRequest{
				ProjectID: l.project.ID,
				Config:    mergeCfg,
				UserID:    localUser,
			})
			if err != nil {
				return err
			}

			preview, err := watchJob(ctx, l.service, started.ID, ui.JobBar("preview"))
			if err != nil {
				ui.Close()
				return err
			}
			if preview.Status != domain.StatusPreviewReady {
				ui.Close()
				return fmt.Errorf("preview failed: %s", preview.ErrorMessage)
			}

			var finalJob *domain.MergeJob
			if final || len(deletions) > 0 {
				started, err := l.service.Finalize(ctx, preview.ID, deletions, localUser)
				if err != nil {
					ui.Close()
					return err
				}
				finalJob, err = watchJob(ctx, l.service, started.ID, ui.JobBar("final"))
				if err != nil {
					ui.Close()
					return err
				}
			}
			ui.Close()

			if finalJob != nil && finalJob.Status != domain.StatusCompleted {
				return fmt.Errorf("final document failed: %s", finalJob.ErrorMessage)
			}

			finalPath := ""
			if finalJob != nil {
				finalPath = finalJob.FinalFilePath
				if out != "" {
					if err := l.copyFinal(ctx, finalJob.ID, out); err != nil {
						return err
					}
					finalPath = out
				}
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"preview":    preview,
					"final":      finalJob,
					"final_path": finalPath,
				})
			}

			sessionDir, _ := l.life.SessionDir(preview.PreviewSessionID)
			ui.Section("Preview")
			ui.KeyValue("Job", preview.ID)
			ui.KeyValue("Pages", len(preview.PreviewImages))
			ui.KeyValue("Images", sessionDir)
			printProvenance(ui, preview.Config.SourceProvenance)

			if finalJob != nil {
				ui.Section("Final")
				ui.KeyValue("Job", finalJob.ID)
				ui.KeyValue("Deleted pages", finalJob.PagesToDelete)
				ui.Success("Wrote %s", finalPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "local", "project name used for the cover and output file")
	cmd.Flags().BoolVar(&cover, "cover", false, "add a cover page")
	cmd.Flags().StringVar(&title, "title", "", "cover title (default: project name)")
	cmd.Flags().StringVar(&subtitle, "subtitle", "", "cover subtitle")
	cmd.Flags().StringVar(&author, "author", "", "cover author")
	cmd.Flags().BoolVar(&toc, "toc", false, "add a table of contents page")
	cmd.Flags().BoolVar(&pageNumbers, "page-numbers", true, "stamp page numbers on the final document")
	cmd.Flags().BoolVar(&final, "final", false, "build the final document after the preview")
	cmd.Flags().IntSliceVar(&deletions, "delete", nil, "0-based preview page indices to drop (implies --final)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "copy the final document to this path")

	return cmd
}

// localRun is an in-process pipeline over in-memory stores.
type localRun struct {
	project domain.Project
	life    *lifecycle.Manager
	service *merge.Service
	queue   *queue.LocalQueue
	cache   *cache.MemoryClient
}

func newLocalRun(projectName string, files []string) (*localRun, error) {
	life, err := lifecycle.NewManager(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	catalog := storage.NewMemoryCatalog()
	project := catalog.AddProject(domain.Project{Name: projectName, OwnerID: localUser})
	for _, f := range files {
		path, err := filepath.Abs(f)
		if err != nil {
			return nil, err
		}
		catalog.AddDocument(domain.SourceDocument{
			ProjectID: project.ID,
			Name:      filepath.Base(path),
			Path:      path,
			FileType:  strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		})
	}

	store := storage.NewMemoryJobStore()
	memCache := cache.NewMemoryClient(cfg.Cache.MaxEntries)
	runner := app.NewRunner(cfg, store, catalog, life, memCache, logger)
	q := queue.NewLocalQueue(runner.Handle, logger,
		queue.WithWorkers(1),
		queue.WithQueueSize(2),
	)

	svc := merge.NewService(merge.ServiceDeps{
		Store:      store,
		Catalog:    catalog,
		Authorizer: catalog,
		Dispatcher: q,
		Lifecycle:  life,
		Cache:      memCache,
		PubSub:     memCache,
		CacheTTL:   cfg.Cache.TTL,
	}, logger)

	return &localRun{project: project, life: life, service: svc, queue: q, cache: memCache}, nil
}

func (l *localRun) close() {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	l.queue.Shutdown(ctx)
	_ = l.cache.Close()
}

func (l *localRun) copyFinal(ctx context.Context, jobID, out string) error {
	dl, err := l.service.Download(ctx, jobID, localUser)
	if err != nil {
		return err
	}
	defer dl.File.Close()

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	if _, err := io.Copy(f, dl.File); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", out, err)
	}
	return f.Close()
}

// watchJob follows a job's progress events until it is terminal. The store
// is polled as well in case an event was dropped.
func watchJob(ctx context.Context, svc *merge.Service, jobID string, bar *JobBar) (*domain.MergeJob, error) {
	job, events, cancel, err := svc.Subscribe(ctx, jobID, localUser)
	if err != nil {
		bar.Done(false)
		return nil, err
	}
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for !job.Status.IsTerminal() {
		bar.Update(string(job.Status), job.Progress)

		refresh := false
		select {
		case <-ctx.Done():
			bar.Done(false)
			return nil, ctx.Err()
		case data, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			var ev domain.ProgressEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			job.Status, job.Progress = ev.Status, ev.Progress
			refresh = ev.Status.IsTerminal()
		case <-ticker.C:
			refresh = true
		}

		if refresh {
			if job, err = svc.Poll(ctx, jobID, localUser); err != nil {
				bar.Done(false)
				return nil, err
			}
		}
	}

	bar.Update(string(job.Status), job.Progress)
	bar.Done(job.Status != domain.StatusFailed)
	return job, nil
}

func printJob(ui *UI, job *domain.MergeJob) {
	ui.Section(fmt.Sprintf("%s job", strings.ToLower(string(job.Kind))))
	ui.KeyValue("ID", job.ID)
	if job.ParentJobID != "" {
		ui.KeyValue("Parent", job.ParentJobID)
	}
	ui.KeyValue("Project", job.ProjectID)
	ui.KeyValue("Requested by", job.RequestedBy)
	ui.KeyValue("Status", job.Status)
	ui.KeyValue("Progress", fmt.Sprintf("%d%%", job.Progress))
	if job.StatusMessage != "" {
		ui.KeyValue("Message", job.StatusMessage)
	}
	ui.KeyValue("Created", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		ui.KeyValue("Completed", job.CompletedAt.Format(time.RFC3339))
	}
	if len(job.PreviewImages) > 0 {
		ui.KeyValue("Preview pages", len(job.PreviewImages))
	}
	if len(job.PagesToDelete) > 0 {
		ui.KeyValue("Deleted pages", job.PagesToDelete)
	}
	if job.FinalFilePath != "" {
		ui.KeyValue("File", job.FinalFilePath)
	}
	if job.ErrorMessage != "" {
		ui.Error("%s", job.ErrorMessage)
	}
	printProvenance(ui, job.Config.SourceProvenance)
}

func printProvenance(ui *UI, entries []domain.ProvenanceEntry) {
	if len(entries) == 0 {
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			fmt.Sprintf("%d-%d", e.PageRange[0], e.PageRange[1]-1),
			string(e.SourceType),
			e.SourceName,
		})
	}
	ui.Newline()
	ui.Table([]string{"PAGES", "TYPE", "SOURCE"}, rows)
}
