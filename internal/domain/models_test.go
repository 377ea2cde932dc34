package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{StatusPending, StatusGeneratingPreview, true},
		{StatusPending, StatusGeneratingFinal, true},
		{StatusGeneratingPreview, StatusPreviewReady, true},
		{StatusGeneratingFinal, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusGeneratingPreview, StatusFailed, true},
		{StatusGeneratingFinal, StatusFailed, true},
		{StatusGeneratingPreview, StatusGeneratingPreview, true},
		{StatusGeneratingPreview, StatusCompleted, false},
		{StatusGeneratingFinal, StatusPreviewReady, false},
		{StatusPreviewReady, StatusGeneratingFinal, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusPending, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusPreviewReady.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusGeneratingPreview.IsTerminal())
	assert.False(t, StatusGeneratingFinal.IsTerminal())
}

func TestJobKind_Statuses(t *testing.T) {
	assert.Equal(t, StatusGeneratingPreview, JobKindPreview.RunningStatus())
	assert.Equal(t, StatusPreviewReady, JobKindPreview.DoneStatus())
	assert.Equal(t, StatusGeneratingFinal, JobKindFinal.RunningStatus())
	assert.Equal(t, StatusCompleted, JobKindFinal.DoneStatus())
	assert.False(t, JobKind("BOTH").Valid())
}

func TestMergeJob_CloneIsDeep(t *testing.T) {
	fileID := int64(7)
	job := &MergeJob{
		ID:              "job-1",
		SelectedFileIDs: []int64{3, 1, 2},
		PreviewImages:   []PreviewImage{{PageNumber: 1, Filename: "page_1.png"}},
		Config: MergeConfig{
			SourceProvenance: []ProvenanceEntry{{PageRange: [2]int{0, 2}, SourceType: SourceTypeFile, FileID: &fileID}},
		},
	}

	c := job.Clone()
	c.SelectedFileIDs[0] = 99
	c.PreviewImages[0].Filename = "changed"
	c.Config.SourceProvenance[0].SourceName = "changed"

	assert.Equal(t, int64(3), job.SelectedFileIDs[0])
	assert.Equal(t, "page_1.png", job.PreviewImages[0].Filename)
	assert.Empty(t, job.Config.SourceProvenance[0].SourceName)
	assert.Nil(t, (*MergeJob)(nil).Clone())
}

func TestDomainError_IsMatchesType(t *testing.T) {
	err := fmt.Errorf("stage failed: %w", SourcePageReadError("read pages of a.pdf", errors.New("eof")))

	assert.True(t, errors.Is(err, ErrSourcePageRead))
	assert.False(t, errors.Is(err, ErrRender))
	assert.Equal(t, ErrorTypeSourcePageRead, TypeOf(err))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))

	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "read pages of a.pdf", de.Message)
	assert.Contains(t, err.Error(), "[source_page_read] read pages of a.pdf: eof")
}

func TestDomainError_Message(t *testing.T) {
	assert.Equal(t, "[no_mergeable_documents] no PDF documents to merge",
		NoMergeableDocumentsError("no PDF documents to merge").Error())
	assert.Equal(t, "[forbidden]", ErrForbidden.Error())
}
