package layout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

type stubCounter map[string]int

func (s stubCounter) PageCount(path string) (int, error) {
	n, ok := s[path]
	if !ok {
		return 0, errors.New("malformed xref table")
	}
	return n, nil
}

func src(id int64, name string, pages int) Source {
	return Source{Document: domain.SourceDocument{ID: id, Name: name}, Pages: pages}
}

func TestCompute_TOCStartPages(t *testing.T) {
	l := Compute(1, true, []Source{src(1, "A.pdf", 3), src(2, "B.pdf", 5)})

	require.Len(t, l.TOCRows, 2)
	assert.Equal(t, TOCRow{Name: "A.pdf", StartPage: 3}, l.TOCRows[0])
	assert.Equal(t, TOCRow{Name: "B.pdf", StartPage: 6}, l.TOCRows[1])
	assert.Equal(t, 10, l.TotalPages)
}

func TestCompute_Provenance(t *testing.T) {
	l := Compute(2, true, []Source{src(1, "A.pdf", 3), src(2, "B.pdf", 1)})

	require.Len(t, l.Provenance, 4)
	assert.Equal(t, [2]int{0, 2}, l.Provenance[0].PageRange)
	assert.Equal(t, domain.SourceTypeCover, l.Provenance[0].SourceType)
	assert.Nil(t, l.Provenance[0].FileID)

	assert.Equal(t, [2]int{2, 3}, l.Provenance[1].PageRange)
	assert.Equal(t, domain.SourceTypeTOC, l.Provenance[1].SourceType)

	assert.Equal(t, [2]int{3, 6}, l.Provenance[2].PageRange)
	assert.Equal(t, "A.pdf", l.Provenance[2].SourceName)
	require.NotNil(t, l.Provenance[2].FileID)
	assert.Equal(t, int64(1), *l.Provenance[2].FileID)

	assert.Equal(t, [2]int{6, 7}, l.Provenance[3].PageRange)
	assert.Equal(t, int64(2), *l.Provenance[3].FileID)
}

func TestCompute_NoHeaders(t *testing.T) {
	l := Compute(0, false, []Source{src(1, "A.pdf", 2), src(1, "A.pdf", 2)})

	require.Len(t, l.Provenance, 2)
	assert.Equal(t, [2]int{0, 2}, l.Provenance[0].PageRange)
	assert.Equal(t, [2]int{2, 4}, l.Provenance[1].PageRange)
	assert.Equal(t, 1, l.TOCRows[0].StartPage)
	assert.Equal(t, 3, l.TOCRows[1].StartPage)
}

func TestCompute_IndexStableAcrossRuns(t *testing.T) {
	sources := []Source{src(1, "A.pdf", 4), src(2, "B.pdf", 2)}
	assert.Equal(t, Compute(1, true, sources), Compute(1, true, sources))
}

func TestAccountant_Count(t *testing.T) {
	a := NewAccountant(stubCounter{"/a.pdf": 3, "/empty.pdf": 0}, observability.NopLogger())
	ctx := context.Background()

	got, err := a.Count(ctx, []domain.SourceDocument{{ID: 1, Name: "a", Path: "/a.pdf"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Pages)

	_, err = a.Count(ctx, []domain.SourceDocument{{ID: 2, Name: "broken", Path: "/broken.pdf"}})
	assert.ErrorIs(t, err, domain.ErrSourcePageRead)

	_, err = a.Count(ctx, []domain.SourceDocument{{ID: 3, Name: "empty", Path: "/empty.pdf"}})
	assert.ErrorIs(t, err, domain.ErrSourcePageRead)
}
