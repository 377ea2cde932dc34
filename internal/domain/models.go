package domain

import (
	"time"
)

// JobKind discriminates preview runs from final runs.
type JobKind string

const (
	JobKindPreview JobKind = "PREVIEW"
	JobKindFinal   JobKind = "FINAL"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	return k == JobKindPreview || k == JobKindFinal
}

// RunningStatus is the status a job of this kind holds while its pipeline runs.
func (k JobKind) RunningStatus() JobStatus {
	if k == JobKindFinal {
		return StatusGeneratingFinal
	}
	return StatusGeneratingPreview
}

// DoneStatus is the successful terminal status for this kind.
func (k JobKind) DoneStatus() JobStatus {
	if k == JobKindFinal {
		return StatusCompleted
	}
	return StatusPreviewReady
}

// JobStatus is the lifecycle state of a merge job.
type JobStatus string

const (
	StatusPending           JobStatus = "PENDING"
	StatusGeneratingPreview JobStatus = "GENERATING_PREVIEW"
	StatusPreviewReady      JobStatus = "PREVIEW_READY"
	StatusGeneratingFinal   JobStatus = "GENERATING_FINAL"
	StatusCompleted         JobStatus = "COMPLETED"
	StatusFailed            JobStatus = "FAILED"
)

var transitions = map[JobStatus][]JobStatus{
	StatusPending:           {StatusGeneratingPreview, StatusGeneratingFinal, StatusFailed},
	StatusGeneratingPreview: {StatusPreviewReady, StatusFailed},
	StatusGeneratingFinal:   {StatusCompleted, StatusFailed},
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == StatusPreviewReady || s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether s may move to next. Staying put is always allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CoverOptions controls the synthesized cover page.
type CoverOptions struct {
	Enabled  bool   `json:"enabled"`
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	Author   string `json:"author,omitempty"`
	Date     string `json:"date,omitempty"`
}

// TOCOptions controls the synthesized table of contents.
type TOCOptions struct {
	Enabled bool `json:"enabled"`
}

// SourceType labels what produced a range of pages in the merged document.
type SourceType string

const (
	SourceTypeCover SourceType = "cover"
	SourceTypeTOC   SourceType = "toc"
	SourceTypeFile  SourceType = "file"
)

// ProvenanceEntry maps a half-open global page range [start, end) to its origin.
type ProvenanceEntry struct {
	PageRange  [2]int     `json:"page_range"`
	SourceType SourceType `json:"source_type"`
	SourceName string     `json:"source_name"`
	FileID     *int64     `json:"file_id,omitempty"`
}

// MergeConfig is the user's assembly configuration. SourceProvenance is
// filled in by the preview run.
type MergeConfig struct {
	Cover            CoverOptions      `json:"cover"`
	TOC              TOCOptions        `json:"toc"`
	PageNumbers      bool              `json:"page_numbers"`
	SourceProvenance []ProvenanceEntry `json:"source_provenance,omitempty"`
}

// PreviewImage describes one rendered preview page.
type PreviewImage struct {
	PageNumber int    `json:"page_number"`
	PageIndex  int    `json:"page_index"`
	Filename   string `json:"filename"`
	URL        string `json:"url"`
}

// PageImage represents a single rasterized page on disk
type PageImage struct {
	PageNumber int
	PageIndex  int
	ImagePath  string
	Width      int
	Height     int
}

// MergeJob is the persisted record of one preview or final run.
type MergeJob struct {
	ID               string         `json:"job_id"`
	Kind             JobKind        `json:"kind"`
	ParentJobID      string         `json:"parent_job_id,omitempty"`
	ProjectID        int64          `json:"project_id"`
	RequestedBy      int64          `json:"requested_by"`
	Status           JobStatus      `json:"status"`
	Progress         int            `json:"progress"`
	StatusMessage    string         `json:"status_message,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Config           MergeConfig    `json:"merge_config"`
	SelectedFileIDs  []int64        `json:"selected_file_ids,omitempty"`
	PagesToDelete    []int          `json:"pages_to_delete_indices,omitempty"`
	PreviewSessionID string         `json:"preview_session_id,omitempty"`
	PreviewImages    []PreviewImage `json:"preview_image_urls,omitempty"`
	FinalFilePath    string         `json:"-"`
	FinalFileName    string         `json:"final_file_name,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (j *MergeJob) Clone() *MergeJob {
	if j == nil {
		return nil
	}
	c := *j
	c.SelectedFileIDs = append([]int64(nil), j.SelectedFileIDs...)
	c.PagesToDelete = append([]int(nil), j.PagesToDelete...)
	c.PreviewImages = append([]PreviewImage(nil), j.PreviewImages...)
	c.Config.SourceProvenance = append([]ProvenanceEntry(nil), j.Config.SourceProvenance...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Project is the owning project of a set of source documents.
type Project struct {
	ID      int64
	Name    string
	OwnerID int64
}

// SourceDocument is an uploaded file that may take part in a merge.
type SourceDocument struct {
	ID         int64
	ProjectID  int64
	Name       string
	Path       string
	FileType   string
	UploadedAt time.Time
}

// PreviewResult is carried by the event that completes a preview run.
type PreviewResult struct {
	SessionID  string
	Images     []PreviewImage
	Provenance []ProvenanceEntry
}

// FinalResult is carried by the event that completes a final run.
type FinalResult struct {
	FilePath string
	FileName string
}

// ProgressEvent is emitted by a running pipeline at each checkpoint.
type ProgressEvent struct {
	JobID     string         `json:"job_id"`
	Status    JobStatus      `json:"status"`
	Progress  int            `json:"progress"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Preview   *PreviewResult `json:"-"`
	Final     *FinalResult   `json:"-"`
	Timestamp time.Time      `json:"timestamp"`
}
