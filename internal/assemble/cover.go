package assemble

import (
	"strings"

	"github.com/danjuanyang/psm-merge/internal/domain"
)

// writeCover renders a single cover page. Title, subtitle, author and date
// are taken as given; defaults are resolved before the job is created.
func writeCover(path string, opts domain.CoverOptions, fontPath string) error {
	w := newPageWriter(fontPath)
	pdf := w.pdf
	pdf.AddPage()

	pdf.SetY(90)
	w.font(true, 26)
	pdf.MultiCell(0, 12, w.tr(opts.Title), "", "C", false)

	if sub := strings.TrimSpace(opts.Subtitle); sub != "" {
		pdf.Ln(6)
		w.font(false, 16)
		pdf.MultiCell(0, 9, w.tr(sub), "", "C", false)
	}

	pdf.SetY(220)
	w.font(false, 12)
	if author := strings.TrimSpace(opts.Author); author != "" {
		pdf.CellFormat(0, 8, w.tr("Author: "+author), "", 1, "C", false, 0, "")
	}
	if date := strings.TrimSpace(opts.Date); date != "" {
		pdf.CellFormat(0, 8, w.tr("Date: "+date), "", 1, "C", false, 0, "")
	}

	return w.save(path)
}
