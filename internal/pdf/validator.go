package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/danjuanyang/psm-merge/internal/domain"
)

const (
	minDPI = 36
	maxDPI = 600
)

// Validator provides input validation for rendering
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// pdfMagic opens every PDF file, followed by the version number.
var pdfMagic = []byte("%PDF-")

// ValidateMergedPDF checks that path is a non-empty regular file that
// starts with a PDF header.
func (v *Validator) ValidateMergedPDF(path string) error {
	if strings.TrimSpace(path) == "" {
		return domain.ValidationError("merged PDF path is empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot access merged PDF %s", filepath.Base(path)), err)
	}
	if !info.Mode().IsRegular() {
		return domain.ValidationError(fmt.Sprintf("merged PDF %s is not a regular file", filepath.Base(path)), nil)
	}
	if info.Size() == 0 {
		return domain.ValidationError(fmt.Sprintf("merged PDF %s is empty", filepath.Base(path)), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot open merged PDF %s", filepath.Base(path)), err)
	}
	defer f.Close()

	header := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, header); err != nil || !bytes.Equal(header, pdfMagic) {
		return domain.ValidationError(fmt.Sprintf("merged PDF %s has no PDF header", filepath.Base(path)), nil)
	}
	return nil
}

// ValidateOutputDir ensures dir exists and is a directory
func (v *Validator) ValidateOutputDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return domain.ValidationError(fmt.Sprintf("cannot access output directory: %s", dir), err)
	}
	if !info.IsDir() {
		return domain.ValidationError(fmt.Sprintf("output path is not a directory: %s", dir), nil)
	}
	return nil
}

// ValidateDPI validates the rasterization resolution
func (v *Validator) ValidateDPI(dpi float64) error {
	if dpi < minDPI || dpi > maxDPI {
		return domain.ValidationError(fmt.Sprintf("dpi must be between %d and %d, got %g", minDPI, maxDPI, dpi), nil)
	}
	return nil
}
