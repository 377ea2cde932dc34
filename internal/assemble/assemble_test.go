package assemble

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gen2brain/go-fitz"
	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/layout"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

func writeFixture(t *testing.T, dir, name string, pages ...string) domain.SourceDocument {
	t.Helper()
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 16)
	for _, text := range pages {
		pdf.AddPage()
		pdf.Cell(100, 10, text)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, pdf.OutputFileAndClose(path))
	return domain.SourceDocument{ID: int64(len(name)), Name: name, Path: path, FileType: "pdf"}
}

func pageTexts(t *testing.T, path string) []string {
	t.Helper()
	doc, err := fitz.New(path)
	require.NoError(t, err)
	defer doc.Close()

	texts := make([]string, doc.NumPage())
	for i := range texts {
		texts[i], err = doc.Text(i)
		require.NoError(t, err)
	}
	return texts
}

func newAssembler() *Assembler {
	logger := observability.NopLogger()
	return New(layout.NewAccountant(layout.PDFCPUCounter{}, logger), Options{}, logger)
}

func TestPlanDeletions(t *testing.T) {
	tests := []struct {
		name       string
		partPages  []int
		header     int
		deletions  []int
		selectors  []string
		kept       int
		headerKept int
	}{
		{"nothing", []int{1, 1, 3}, 2, nil, nil, 5, 2},
		{"first source page", []int{1, 1, 3}, 2, []int{2}, []string{"3"}, 4, 2},
		{"cover and last", []int{1, 1, 3}, 2, []int{0, 4}, []string{"1", "5"}, 3, 1},
		{"out of range ignored", []int{2}, 0, []int{-1, 2, 9}, nil, 2, 0},
		{"duplicates collapse", []int{2, 2}, 0, []int{1, 1, 2}, []string{"2", "3"}, 2, 0},
		{"everything", []int{1, 1}, 0, []int{0, 1}, []string{"1", "2"}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selectors, kept, headerKept := planDeletions(tt.partPages, tt.header, tt.deletions)
			assert.Equal(t, tt.selectors, selectors)
			assert.Equal(t, tt.kept, kept)
			assert.Equal(t, tt.headerKept, headerKept)
		})
	}
}

func TestMerge_DeletesByGlobalIndex(t *testing.T) {
	dir := t.TempDir()
	a := newAssembler()
	ctx := context.Background()

	first := writeFixture(t, dir, "first.pdf", "FIRST SOURCE")
	second := writeFixture(t, dir, "second.pdf", "SECOND SOURCE")

	plan, err := a.Prepare(ctx, Input{Sources: []domain.SourceDocument{first, second}, WorkDir: dir})
	require.NoError(t, err)

	res, err := a.Merge(ctx, plan, []int{0}, filepath.Join(dir, "out.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)

	texts := pageTexts(t, res.Path)
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "SECOND SOURCE")
}

func TestPrepare_CoverTOCAndOrder(t *testing.T) {
	dir := t.TempDir()
	a := newAssembler()
	ctx := context.Background()

	three := writeFixture(t, dir, "three.pdf", "A1", "A2", "A3")
	five := writeFixture(t, dir, "five.pdf", "B1", "B2", "B3", "B4", "B5")

	cfg := domain.MergeConfig{
		Cover: domain.CoverOptions{Enabled: true, Title: "Bridge Survey", Author: "Ops", Date: "2024-05-01"},
		TOC:   domain.TOCOptions{Enabled: true},
	}
	plan, err := a.Prepare(ctx, Input{Config: cfg, Sources: []domain.SourceDocument{three, five}, WorkDir: dir})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1, 3, 5}, plan.PartPages)
	assert.Equal(t, 2, plan.HeaderPages())
	require.Len(t, plan.Layout.TOCRows, 2)
	assert.Equal(t, 3, plan.Layout.TOCRows[0].StartPage)
	assert.Equal(t, 6, plan.Layout.TOCRows[1].StartPage)

	res, err := a.Merge(ctx, plan, nil, filepath.Join(dir, "merged.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 10, res.Pages)
	assert.Equal(t, 2, res.HeaderPages)

	texts := pageTexts(t, res.Path)
	require.Len(t, texts, 10)
	assert.Contains(t, texts[0], "Bridge Survey")
	assert.Contains(t, texts[0], "Date: 2024-05-01")
	assert.Contains(t, texts[1], "Contents")
	assert.Contains(t, texts[1], "three.pdf")
	for i, want := range []string{"A1", "A2", "A3", "B1", "B2", "B3", "B4", "B5"} {
		assert.Contains(t, texts[i+2], want)
	}
}

func TestMerge_DeleteEverythingRejected(t *testing.T) {
	dir := t.TempDir()
	a := newAssembler()
	ctx := context.Background()

	doc := writeFixture(t, dir, "only.pdf", "ONLY")
	plan, err := a.Prepare(ctx, Input{Sources: []domain.SourceDocument{doc}, WorkDir: dir})
	require.NoError(t, err)

	out := filepath.Join(dir, "out.pdf")
	_, err = a.Merge(ctx, plan, []int{0}, out)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NoFileExists(t, out)
}

func TestPrepare_UnreadableSource(t *testing.T) {
	dir := t.TempDir()
	a := newAssembler()

	bad := domain.SourceDocument{ID: 9, Name: "bad.pdf", Path: filepath.Join(dir, "missing.pdf")}
	_, err := a.Prepare(context.Background(), Input{Sources: []domain.SourceDocument{bad}, WorkDir: dir})
	assert.ErrorIs(t, err, domain.ErrSourcePageRead)
}

func TestNumberPages_SkipsHeaderPages(t *testing.T) {
	dir := t.TempDir()
	a := newAssembler()
	ctx := context.Background()

	src := writeFixture(t, dir, "body.pdf", "P1", "P2")
	cfg := domain.MergeConfig{
		Cover: domain.CoverOptions{Enabled: true, Title: "Numbered"},
		TOC:   domain.TOCOptions{Enabled: true},
	}
	plan, err := a.Prepare(ctx, Input{Config: cfg, Sources: []domain.SourceDocument{src}, WorkDir: dir})
	require.NoError(t, err)

	// Dropping the TOC leaves one header page.
	res, err := a.Merge(ctx, plan, []int{1}, filepath.Join(dir, "merged.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.HeaderPages)

	out := filepath.Join(dir, "numbered.pdf")
	require.NoError(t, a.NumberPages(ctx, res, out))

	texts := pageTexts(t, out)
	require.Len(t, texts, 3)
	assert.NotContains(t, texts[0], "- 1 -")
	for i := 1; i < 3; i++ {
		assert.Contains(t, texts[i], fmt.Sprintf("- %d -", i))
	}
}

func TestWriteTOC_StaysOnOnePage(t *testing.T) {
	dir := t.TempDir()
	rows := make([]layout.TOCRow, 120)
	for i := range rows {
		rows[i] = layout.TOCRow{Name: fmt.Sprintf("document-%03d.pdf", i), StartPage: i + 3}
	}

	path := filepath.Join(dir, "toc.pdf")
	require.NoError(t, writeTOC(path, rows, ""))

	n, err := layout.PDFCPUCounter{}.PageCount(path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_WarnsWithoutFont(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Output: &buf})
	accountant := layout.NewAccountant(layout.PDFCPUCounter{}, logger)

	New(accountant, Options{}, logger)
	assert.Contains(t, buf.String(), "No assembly font_path configured")

	buf.Reset()
	New(accountant, Options{FontPath: "/usr/share/fonts/simsun.ttf"}, logger)
	assert.NotContains(t, buf.String(), "font_path")
}
