// Package layout counts source pages and lays the merged document out on a
// single global page index.
package layout

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

// TOCSlots is the number of global page slots reserved for the table of
// contents, whatever its rendered length.
const TOCSlots = 1

// PageCounter reports the number of pages in a PDF file.
type PageCounter interface {
	PageCount(path string) (int, error)
}

var disableConfigDir sync.Once

// PDFCPUConfig returns a relaxed pdfcpu configuration that never touches the
// user config directory.
func PDFCPUConfig() *model.Configuration {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PDFCPUCounter counts pages by opening the document with pdfcpu.
type PDFCPUCounter struct{}

// PageCount implements PageCounter.
func (PDFCPUCounter) PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return api.PageCount(f, PDFCPUConfig())
}

// Source is a resolved document with its real page count.
type Source struct {
	Document domain.SourceDocument
	Pages    int
}

// TOCRow is one table of contents line. StartPage is 1-based.
type TOCRow struct {
	Name      string
	StartPage int
}

// Layout is the global page plan of one merge.
type Layout struct {
	Provenance []domain.ProvenanceEntry
	TOCRows    []TOCRow
	TotalPages int
}

// Accountant counts pages for resolved sources.
type Accountant struct {
	counter PageCounter
	logger  *observability.Logger
}

// NewAccountant creates an Accountant backed by counter.
func NewAccountant(counter PageCounter, logger *observability.Logger) *Accountant {
	return &Accountant{counter: counter, logger: logger.WithComponent("layout")}
}

// Count opens every document and records its page count. Any unreadable
// document fails the whole count.
func (a *Accountant) Count(ctx context.Context, docs []domain.SourceDocument) ([]Source, error) {
	sources := make([]Source, 0, len(docs))
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := a.counter.PageCount(doc.Path)
		if err != nil {
			return nil, domain.SourcePageReadError(fmt.Sprintf("cannot read pages of %q", doc.Name), err)
		}
		if n < 1 {
			return nil, domain.SourcePageReadError(fmt.Sprintf("%q has no pages", doc.Name), nil)
		}
		sources = append(sources, Source{Document: doc, Pages: n})
	}
	return sources, nil
}

// PageCount counts a single synthesized part such as the cover.
func (a *Accountant) PageCount(path string) (int, error) {
	return a.counter.PageCount(path)
}

// Compute lays out cover, TOC and sources on the global index starting at 0.
// The cover takes coverPages slots, the TOC TOCSlots, and each source its
// own page count.
func Compute(coverPages int, tocEnabled bool, sources []Source) Layout {
	var out Layout
	counter := 0

	if coverPages > 0 {
		out.Provenance = append(out.Provenance, domain.ProvenanceEntry{
			PageRange:  [2]int{counter, counter + coverPages},
			SourceType: domain.SourceTypeCover,
			SourceName: "Cover",
		})
		counter += coverPages
	}

	if tocEnabled {
		out.Provenance = append(out.Provenance, domain.ProvenanceEntry{
			PageRange:  [2]int{counter, counter + TOCSlots},
			SourceType: domain.SourceTypeTOC,
			SourceName: "Table of Contents",
		})
		counter += TOCSlots
	}

	for _, src := range sources {
		fileID := src.Document.ID
		out.Provenance = append(out.Provenance, domain.ProvenanceEntry{
			PageRange:  [2]int{counter, counter + src.Pages},
			SourceType: domain.SourceTypeFile,
			SourceName: src.Document.Name,
			FileID:     &fileID,
		})
		out.TOCRows = append(out.TOCRows, TOCRow{
			Name:      src.Document.Name,
			StartPage: counter + 1,
		})
		counter += src.Pages
	}

	out.TotalPages = counter
	return out
}
