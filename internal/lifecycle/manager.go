// Package lifecycle owns every directory and file a merge run creates:
// per-run workspaces, preview sessions, and committed final artifacts.
package lifecycle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/danjuanyang/psm-merge/internal/config"
	"github.com/danjuanyang/psm-merge/internal/domain"
	"github.com/danjuanyang/psm-merge/internal/observability"
)

const (
	sessionsDirName = "sessions"
	workDirName     = "work"
	finalTimeLayout = "20060102_150405"
)

var imageNamePattern = regexp.MustCompile(`^page_[1-9][0-9]*\.png$`)

// Manager maps preview session ids to directories and manages run output.
type Manager struct {
	tempRoot  string
	outputDir string
	retention time.Duration
	logger    *observability.Logger
}

// NewManager creates the temp and output roots if needed.
func NewManager(cfg config.StorageConfig, logger *observability.Logger) (*Manager, error) {
	m := &Manager{
		tempRoot:  cfg.TempDir,
		outputDir: cfg.OutputDir,
		retention: cfg.Retention,
		logger:    logger.WithComponent("lifecycle"),
	}
	for _, dir := range []string{m.sessionsRoot(), m.workRoot(), m.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.IOError(fmt.Sprintf("failed to create %s", dir), err)
		}
	}
	return m, nil
}

func (m *Manager) sessionsRoot() string { return filepath.Join(m.tempRoot, sessionsDirName) }
func (m *Manager) workRoot() string     { return filepath.Join(m.tempRoot, workDirName) }

// Workspace is a per-run directory for intermediate files.
type Workspace struct {
	Dir string
}

// Path joins name onto the workspace directory.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Remove deletes the workspace and everything in it.
func (w *Workspace) Remove() error {
	return os.RemoveAll(w.Dir)
}

// NewWorkspace creates a fresh workspace for one run of jobID.
func (m *Manager) NewWorkspace(jobID string) (*Workspace, error) {
	dir, err := os.MkdirTemp(m.workRoot(), jobID+"-")
	if err != nil {
		return nil, domain.IOError("failed to create workspace", err)
	}
	return &Workspace{Dir: dir}, nil
}

// CreateSession allocates a new preview session and its directory.
func (m *Manager) CreateSession() (string, string, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.sessionsRoot(), id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", "", domain.IOError("failed to create preview session", err)
	}
	return id, dir, nil
}

// SessionDir returns the directory of a preview session. Only well-formed
// session ids are mapped; anything else is rejected.
func (m *Manager) SessionDir(sessionID string) (string, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return "", domain.ValidationError("invalid preview session id", err)
	}
	return filepath.Join(m.sessionsRoot(), id.String()), nil
}

// RemoveSession deletes a preview session directory. Missing sessions are not
// an error.
func (m *Manager) RemoveSession(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	dir, err := m.SessionDir(sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return domain.IOError("failed to remove preview session", err)
	}
	m.logger.Debug().Str("session_id", sessionID).Msg("Removed preview session")
	return nil
}

// ValidateImageName accepts only page_<n>.png.
func ValidateImageName(name string) error {
	if !imageNamePattern.MatchString(name) {
		return domain.ValidationError(fmt.Sprintf("invalid preview image name %q", name), nil)
	}
	return nil
}

// OpenPreviewImage opens one image of a preview session.
func (m *Manager) OpenPreviewImage(sessionID, name string) (*os.File, error) {
	if err := ValidateImageName(name); err != nil {
		return nil, err
	}
	dir, err := m.SessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NotFoundError("preview image not found", err)
		}
		return nil, domain.IOError("failed to open preview image", err)
	}
	return f, nil
}

// FinalFileName builds <project>_merged_<YYYYMMDD_HHMMSS>.pdf.
func FinalFileName(projectName string, at time.Time) string {
	return fmt.Sprintf("%s_merged_%s.pdf", sanitize(projectName), at.Format(finalTimeLayout))
}

// CommitFinal copies src into <output>/<projectID>/ under the final file name,
// via a temp file and rename. Nothing is left behind on failure.
func (m *Manager) CommitFinal(src string, projectID int64, projectName string, at time.Time) (string, string, error) {
	dir := filepath.Join(m.outputDir, fmt.Sprintf("%d", projectID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", domain.OutputWriteError("failed to create output directory", err)
	}

	name := FinalFileName(projectName, at)
	dest := filepath.Join(dir, name)
	for i := 2; fileExists(dest); i++ {
		name = strings.TrimSuffix(FinalFileName(projectName, at), ".pdf") + fmt.Sprintf("_%d.pdf", i)
		dest = filepath.Join(dir, name)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*.pdf")
	if err != nil {
		return "", "", domain.OutputWriteError("failed to create output file", err)
	}
	tmpPath := tmp.Name()

	if err := copyInto(tmp, src); err != nil {
		os.Remove(tmpPath)
		return "", "", domain.OutputWriteError("failed to write output file", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", "", domain.OutputWriteError("failed to commit output file", err)
	}

	m.logger.Info().Str("path", dest).Msg("Committed final document")
	return dest, name, nil
}

// OpenFinal opens a committed artifact. Paths outside the output root are
// rejected.
func (m *Manager) OpenFinal(path string) (*os.File, error) {
	rel, err := filepath.Rel(m.outputDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil, domain.NotFoundError("final document not found", err)
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NotFoundError("final document not found", err)
		}
		return nil, domain.IOError("failed to open final document", err)
	}
	return f, nil
}

func copyInto(dst *os.File, src string) error {
	in, err := os.Open(src)
	if err != nil {
		dst.Close()
		return err
	}
	defer in.Close()

	if _, err := io.Copy(dst, in); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func sanitize(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			return r
		case unicode.IsSpace(r), r == '.':
			return '_'
		default:
			return -1
		}
	}, strings.TrimSpace(name))
	clean = strings.Trim(clean, "_")
	if clean == "" {
		return "project"
	}
	return clean
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
