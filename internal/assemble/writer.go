package assemble

import (
	"github.com/go-pdf/fpdf"
)

const utf8Family = "merge-text"

// pageWriter wraps an fpdf document with the font selection shared by the
// cover and the table of contents.
type pageWriter struct {
	pdf    *fpdf.Fpdf
	family string
	bold   string
	tr     func(string) string
}

// newPageWriter creates an A4 portrait document. With a TTF font path the
// text is written through that font, otherwise through the core Helvetica
// font with a cp1252 translator.
func newPageWriter(fontPath string) *pageWriter {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, 0)

	w := &pageWriter{pdf: pdf}
	if fontPath != "" {
		pdf.AddUTF8Font(utf8Family, "", fontPath)
		w.family = utf8Family
		w.tr = func(s string) string { return s }
		return w
	}

	w.family = "Helvetica"
	w.bold = "B"
	w.tr = pdf.UnicodeTranslatorFromDescriptor("")
	return w
}

func (w *pageWriter) font(bold bool, size float64) {
	style := ""
	if bold {
		style = w.bold
	}
	w.pdf.SetFont(w.family, style, size)
}

func (w *pageWriter) save(path string) error {
	if err := w.pdf.Error(); err != nil {
		return err
	}
	return w.pdf.OutputFileAndClose(path)
}
