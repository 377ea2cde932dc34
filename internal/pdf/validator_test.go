package pdf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

func TestValidateMergedPDF(t *testing.T) {
	dir := t.TempDir()
	v := NewValidator()

	require.NoError(t, v.ValidateMergedPDF(writePDF(t, dir, 1)))

	empty := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	err := v.ValidateMergedPDF(empty)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "is empty")

	truncated := filepath.Join(dir, "truncated.pdf")
	require.NoError(t, os.WriteFile(truncated, []byte("%PD"), 0o644))
	err = v.ValidateMergedPDF(truncated)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "no PDF header")

	html := filepath.Join(dir, "error.pdf")
	require.NoError(t, os.WriteFile(html, []byte("<html>502 Bad Gateway</html>"), 0o644))
	assert.ErrorIs(t, v.ValidateMergedPDF(html), domain.ErrValidation)

	assert.ErrorIs(t, v.ValidateMergedPDF(dir), domain.ErrValidation)
	assert.ErrorIs(t, v.ValidateMergedPDF(filepath.Join(dir, "missing.pdf")), domain.ErrValidation)
	assert.ErrorIs(t, v.ValidateMergedPDF("  "), domain.ErrValidation)
}

func TestRenderer_RejectsEmptyMergedFile(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "preview.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	_, err := NewRenderer(72, 1, observability.NopLogger()).Render(context.Background(), empty, dir)
	assert.ErrorIs(t, err, domain.ErrRender)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
