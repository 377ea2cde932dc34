// Package resolver turns a project and an optional file selection into the
// ordered list of documents a merge will concatenate.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

const pdfFileType = "pdf"

// Resolver resolves merge sources against the document catalog.
type Resolver struct {
	catalog domain.DocumentCatalog
	logger  *observability.Logger
	exists  func(path string) bool
}

// New creates a resolver.
func New(catalog domain.DocumentCatalog, logger *observability.Logger) *Resolver {
	return &Resolver{
		catalog: catalog,
		logger:  logger.WithComponent("resolver"),
		exists:  fileExists,
	}
}

// Resolve returns the documents to merge. With explicit fileIDs the given
// order is kept, duplicates included, and ineligible entries are dropped.
// Without fileIDs every eligible project document is returned by upload time.
func (r *Resolver) Resolve(ctx context.Context, projectID int64, fileIDs []int64) ([]domain.SourceDocument, error) {
	var docs []domain.SourceDocument

	if len(fileIDs) > 0 {
		for _, id := range fileIDs {
			doc, err := r.catalog.GetDocument(ctx, id)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					r.logger.Debug().Int64("file_id", id).Msg("Selected file not found, skipping")
					continue
				}
				return nil, fmt.Errorf("get document %d: %w", id, err)
			}
			if !r.eligible(doc, projectID) {
				continue
			}
			docs = append(docs, *doc)
		}
	} else {
		all, err := r.catalog.ListProjectDocuments(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("list project documents: %w", err)
		}
		for i := range all {
			if r.eligible(&all[i], projectID) {
				docs = append(docs, all[i])
			}
		}
	}

	if len(docs) == 0 {
		return nil, domain.NoMergeableDocumentsError("no mergeable PDF documents found for project")
	}

	r.logger.Info().
		Int64("project_id", projectID).
		Int("requested", len(fileIDs)).
		Int("resolved", len(docs)).
		Msg("Resolved merge sources")

	return docs, nil
}

func (r *Resolver) eligible(doc *domain.SourceDocument, projectID int64) bool {
	if doc.ProjectID != projectID {
		r.logger.Debug().Int64("file_id", doc.ID).Msg("File belongs to another project, skipping")
		return false
	}
	if !strings.EqualFold(doc.FileType, pdfFileType) {
		return false
	}
	if !r.exists(doc.Path) {
		r.logger.Warn().Int64("file_id", doc.ID).Str("path", doc.Path).Msg("File missing on disk, skipping")
		return false
	}
	return true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
