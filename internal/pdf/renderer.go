// Package pdf rasterizes assembled documents into preview images.
package pdf

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/sync/errgroup"

	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

const (
	// DefaultDPI is the preview resolution.
	DefaultDPI = 150
	// DefaultWorkers bounds concurrent page rasterization.
	DefaultWorkers = 4
)

// ImageName is the file name of the preview image for a 1-based page.
func ImageName(pageNumber int) string {
	return fmt.Sprintf("page_%d.png", pageNumber)
}

// Renderer implements domain.Renderer using go-fitz
type Renderer struct {
	dpi       float64
	workers   int
	validator *Validator
	logger    *observability.Logger
}

// NewRenderer creates a renderer. Non-positive values fall back to defaults.
func NewRenderer(dpi float64, workers int, logger *observability.Logger) *Renderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Renderer{
		dpi:       dpi,
		workers:   workers,
		validator: NewValidator(),
		logger:    logger.WithComponent("renderer"),
	}
}

// Render writes page_<n>.png for every page of pdfPath into outDir. Pages are
// split across workers, each with its own document handle; the result is
// ordered by page.
func (r *Renderer) Render(ctx context.Context, pdfPath, outDir string) ([]domain.PageImage, error) {
	if err := r.validate(pdfPath, outDir); err != nil {
		return nil, domain.RenderError("invalid render input", err)
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, domain.RenderError("failed to open PDF", err)
	}
	pageCount := doc.NumPage()
	doc.Close()

	if pageCount == 0 {
		return nil, domain.RenderError("PDF has no pages", nil)
	}

	workers := r.workers
	if workers > pageCount {
		workers = pageCount
	}

	images := make([]domain.PageImage, pageCount)
	var next atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			wdoc, err := fitz.New(pdfPath)
			if err != nil {
				return domain.RenderError("failed to open PDF", err)
			}
			defer wdoc.Close()

			for {
				page := int(next.Add(1) - 1)
				if page >= pageCount {
					return nil
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				img, err := r.renderPage(wdoc, page, outDir)
				if err != nil {
					return err
				}
				images[page] = img
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("pdf", filepath.Base(pdfPath)).
		Int("pages", pageCount).
		Int("workers", workers).
		Msg("Rendered preview pages")

	return images, nil
}

func (r *Renderer) validate(pdfPath, outDir string) error {
	if err := r.validator.ValidateMergedPDF(pdfPath); err != nil {
		return err
	}
	if err := r.validator.ValidateOutputDir(outDir); err != nil {
		return err
	}
	return r.validator.ValidateDPI(r.dpi)
}

func (r *Renderer) renderPage(doc *fitz.Document, page int, outDir string) (domain.PageImage, error) {
	img, err := doc.ImageDPI(page, r.dpi)
	if err != nil {
		return domain.PageImage{}, domain.RenderError(fmt.Sprintf("failed to render page %d", page+1), err)
	}

	outputPath := filepath.Join(outDir, ImageName(page+1))
	outputFile, err := os.Create(outputPath)
	if err != nil {
		return domain.PageImage{}, domain.RenderError(fmt.Sprintf("failed to create image for page %d", page+1), err)
	}

	err = png.Encode(outputFile, img)
	if cerr := outputFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outputPath)
		return domain.PageImage{}, domain.RenderError(fmt.Sprintf("failed to encode page %d", page+1), err)
	}

	bounds := img.Bounds()
	return domain.PageImage{
		PageNumber: page + 1,
		PageIndex:  page,
		ImagePath:  outputPath,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
	}, nil
}
