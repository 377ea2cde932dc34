// Package assemble builds the merged document: cover, table of contents and
// source PDFs concatenated in order, with an optional single deletion pass
// and page-number stamps.
package assemble

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/layout"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

const pageNumberDesc = "font:Helvetica, points:10, pos:bc, offset:0 20, scale:1 abs, rot:0, opacity:1"

// Options configures the assembler.
type Options struct {
	// FontPath is an optional TTF used for cover and TOC text.
	FontPath string
}

// Assembler produces merged PDFs.
type Assembler struct {
	accountant *layout.Accountant
	opts       Options
	conf       *model.Configuration
	logger     *observability.Logger
}

// New creates an Assembler. Without a font only cp1252 characters of cover
// and TOC text render; others, CJK included, come out as missing glyphs.
func New(accountant *layout.Accountant, opts Options, logger *observability.Logger) *Assembler {
	a := &Assembler{
		accountant: accountant,
		opts:       opts,
		conf:       layout.PDFCPUConfig(),
		logger:     logger.WithComponent("assemble"),
	}
	if opts.FontPath == "" {
		a.logger.Warn().Msg("No assembly font_path configured, cover and TOC text is limited to cp1252 characters")
	}
	return a
}

// Input describes one assembly.
type Input struct {
	Config  domain.MergeConfig
	Sources []domain.SourceDocument
	WorkDir string
}

// Plan is the ordered list of parts to concatenate along with the global
// page layout they produce.
type Plan struct {
	Parts       []string
	PartPages   []int
	HeaderParts int
	Layout      layout.Layout
}

// HeaderPages is the number of cover and TOC pages before any deletion.
func (p *Plan) HeaderPages() int {
	n := 0
	for _, pages := range p.PartPages[:p.HeaderParts] {
		n += pages
	}
	return n
}

// Result describes an assembled document.
type Result struct {
	Path  string
	Pages int
	// HeaderPages is the number of cover and TOC pages that survived deletion.
	HeaderPages int
}

// Prepare counts sources, synthesizes the cover and TOC into WorkDir and
// returns the concatenation plan.
func (a *Assembler) Prepare(ctx context.Context, in Input) (*Plan, error) {
	sources, err := a.accountant.Count(ctx, in.Sources)
	if err != nil {
		return nil, err
	}

	plan := &Plan{}
	coverPages := 0

	if in.Config.Cover.Enabled {
		coverPath := filepath.Join(in.WorkDir, "cover.pdf")
		if err := writeCover(coverPath, in.Config.Cover, a.opts.FontPath); err != nil {
			return nil, domain.IOError("failed to render cover page", err)
		}
		n, err := a.accountant.PageCount(coverPath)
		if err != nil {
			return nil, domain.IOError("failed to read cover page", err)
		}
		coverPages = n
		plan.Parts = append(plan.Parts, coverPath)
		plan.PartPages = append(plan.PartPages, n)
		plan.HeaderParts++
	}

	plan.Layout = layout.Compute(coverPages, in.Config.TOC.Enabled, sources)

	if in.Config.TOC.Enabled {
		tocPath := filepath.Join(in.WorkDir, "toc.pdf")
		if err := writeTOC(tocPath, plan.Layout.TOCRows, a.opts.FontPath); err != nil {
			return nil, domain.IOError("failed to render table of contents", err)
		}
		n, err := a.accountant.PageCount(tocPath)
		if err != nil {
			return nil, domain.IOError("failed to read table of contents", err)
		}
		if n != layout.TOCSlots {
			return nil, domain.IOError(fmt.Sprintf("table of contents rendered %d pages", n), nil)
		}
		plan.Parts = append(plan.Parts, tocPath)
		plan.PartPages = append(plan.PartPages, n)
		plan.HeaderParts++
	}

	for _, src := range sources {
		plan.Parts = append(plan.Parts, src.Document.Path)
		plan.PartPages = append(plan.PartPages, src.Pages)
	}

	a.logger.Debug().
		Int("parts", len(plan.Parts)).
		Int("total_pages", plan.Layout.TotalPages).
		Msg("Prepared assembly plan")

	return plan, nil
}

// Merge concatenates the plan into out, dropping every global index listed in
// deletions in the same pass. Indices outside the document are ignored.
// Deleting every page is rejected. out is removed on failure.
func (a *Assembler) Merge(ctx context.Context, plan *Plan, deletions []int, out string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	selectors, kept, headerKept := planDeletions(plan.PartPages, plan.HeaderParts, deletions)
	if kept == 0 {
		return nil, domain.ValidationError("cannot delete every page of the document", nil)
	}

	concat := out
	if len(selectors) > 0 {
		concat = strings.TrimSuffix(out, filepath.Ext(out)) + ".concat.pdf"
		defer os.Remove(concat)
	}

	if err := a.concatenate(plan.Parts, concat); err != nil {
		os.Remove(concat)
		return nil, domain.SourcePageReadError("failed to concatenate documents", err)
	}

	if len(selectors) > 0 {
		if err := api.RemovePagesFile(concat, out, selectors, a.conf); err != nil {
			os.Remove(out)
			return nil, domain.OutputWriteError("failed to remove pages", err)
		}
	}

	a.logger.Info().
		Int("pages", kept).
		Int("deleted", len(selectors)).
		Msg("Assembled document")

	return &Result{Path: out, Pages: kept, HeaderPages: headerKept}, nil
}

// NumberPages stamps "- n -" at the bottom of every page after the leading
// headerPages, numbering from 1.
func (a *Assembler) NumberPages(ctx context.Context, doc *Result, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	stamps := make(map[int]*model.Watermark, doc.Pages)
	for page := doc.HeaderPages + 1; page <= doc.Pages; page++ {
		wm, err := api.TextWatermark(fmt.Sprintf("- %d -", page-doc.HeaderPages), pageNumberDesc, true, false, types.POINTS)
		if err != nil {
			return domain.OutputWriteError("invalid page number stamp", err)
		}
		stamps[page] = wm
	}

	if len(stamps) == 0 {
		return copyFile(doc.Path, out)
	}

	if err := api.AddWatermarksMapFile(doc.Path, out, stamps, a.conf); err != nil {
		os.Remove(out)
		return domain.OutputWriteError("failed to stamp page numbers", err)
	}
	return nil
}

func (a *Assembler) concatenate(parts []string, out string) error {
	if len(parts) == 1 {
		return copyFile(parts[0], out)
	}
	return api.MergeCreateFile(parts, out, false, a.conf)
}

// planDeletions walks the global index across all parts and returns the
// 1-based page selectors to remove, the number of pages kept, and how many of
// the kept pages belong to the leading header parts.
func planDeletions(partPages []int, headerParts int, deletions []int) (selectors []string, kept, headerKept int) {
	drop := make(map[int]struct{}, len(deletions))
	for _, idx := range deletions {
		drop[idx] = struct{}{}
	}

	global := 0
	for part, pages := range partPages {
		for i := 0; i < pages; i++ {
			if _, ok := drop[global]; ok {
				selectors = append(selectors, strconv.Itoa(global+1))
			} else {
				kept++
				if part < headerParts {
					headerKept++
				}
			}
			global++
		}
	}
	return selectors, kept, headerKept
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
