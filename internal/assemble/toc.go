package assemble

import (
	"strconv"

	"github.com/danjuanyang/psm-merge/internal/layout"
)

const (
	tocTop        = 45.0
	tocBottom     = 280.0
	tocRowHeight  = 8.0
	tocNameWidth  = 160.0
	tocMaxNameLen = 90
)

// writeTOC renders the table of contents on exactly one page. Long lists
// shrink the row height instead of spilling onto a second page, so the
// global index always reserves a single slot for it.
func writeTOC(path string, rows []layout.TOCRow, fontPath string) error {
	w := newPageWriter(fontPath)
	pdf := w.pdf
	pdf.AddPage()

	pdf.SetY(20)
	w.font(true, 20)
	pdf.CellFormat(0, 12, w.tr("Contents"), "", 1, "C", false, 0, "")

	rowHeight := tocRowHeight
	if n := float64(len(rows)); n*rowHeight > tocBottom-tocTop {
		rowHeight = (tocBottom - tocTop) / n
	}
	fontSize := rowHeight * 1.4
	if fontSize > 11 {
		fontSize = 11
	}

	pdf.SetY(tocTop)
	w.font(false, fontSize)
	for _, row := range rows {
		pdf.CellFormat(tocNameWidth, rowHeight, w.tr(truncate(row.Name, tocMaxNameLen)), "", 0, "L", false, 0, "")
		pdf.CellFormat(0, rowHeight, strconv.Itoa(row.StartPage), "", 1, "R", false, 0, "")
	}

	return w.save(path)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
