package lifecycle

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// SweepResult summarizes one janitor pass.
type SweepResult struct {
	Removed    int
	BytesFreed int64
}

// Sweep removes preview sessions and workspaces last modified before
// now minus the retention window.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	cutoff := now.Add(-m.retention)

	for _, root := range []string{m.sessionsRoot(), m.workRoot()} {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return res, err
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}

			path := filepath.Join(root, entry.Name())
			size := diskUsage(path)
			if err := os.RemoveAll(path); err != nil {
				m.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove expired directory")
				continue
			}
			res.Removed++
			res.BytesFreed += size
		}
	}

	m.logger.Info().
		Int("removed", res.Removed).
		Int64("bytes_freed", res.BytesFreed).
		Dur("retention", m.retention).
		Msg("Janitor sweep finished")

	return res, nil
}

// RunJanitor sweeps immediately and then on every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := m.Sweep(ctx, time.Now()); err != nil && ctx.Err() == nil {
			m.logger.Error().Err(err).Msg("Janitor sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func diskUsage(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
