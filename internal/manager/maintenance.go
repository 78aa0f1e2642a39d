package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slok/xferd/internal/conventions"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
)

const maintenancePageSize = 200

// RunMaintenance runs a maintenance pass now and then on every interval until
// the context is done.
func (m *Manager) RunMaintenance(ctx context.Context) error {
	m.Maintain(ctx)

	ticker := time.NewTicker(m.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Maintain(ctx)
		}
	}
}

// Maintain runs a single maintenance pass. Failures are logged, a failing
// cleanup doesn't stop the others.
func (m *Manager) Maintain(ctx context.Context) {
	cleanups := []struct {
		name string
		f    func(ctx context.Context) error
	}{
		{"expired uploads", m.cleanupExpiredUploads},
		{"orphan job files", m.cleanupOrphanJobFiles},
		{"orphan artifacts", m.cleanupOrphanArtifacts},
		{"orphan staging dirs", m.cleanupOrphanStaging},
		{"job retention", m.cleanupOldJobs},
		{"job log retention", m.cleanupExpiredJobLogs},
	}

	for _, c := range cleanups {
		if ctx.Err() != nil {
			return
		}
		if err := c.f(ctx); err != nil {
			m.logger.Warningf("maintenance %s failed: %s", c.name, err)
		}
	}
}

func (m *Manager) cleanupExpiredUploads(ctx context.Context) error {
	now := m.timeNow().UTC()
	for {
		sessions, err := m.repo.ListExpiredUploadSessions(ctx, now, maintenancePageSize)
		if err != nil {
			return fmt.Errorf("could not list expired upload sessions: %w", err)
		}
		if len(sessions) == 0 {
			return nil
		}

		deleted := 0
		for _, s := range sessions {
			if err := m.repo.DeleteUploadSession(ctx, s.ProfileID, s.ID); err != nil {
				if !errors.Is(err, model.ErrNotFound) {
					m.logger.Warningf("could not delete upload session %s: %s", s.ID, err)
				}
				continue
			}
			deleted++
			if s.StagingDir != "" {
				_ = os.RemoveAll(s.StagingDir)
			}
		}
		m.logger.Debugf("%d expired upload session(s) removed", deleted)

		if deleted == 0 || len(sessions) < maintenancePageSize {
			return nil
		}
	}
}

// cleanupOrphanJobFiles removes the log and command files of jobs that don't
// exist anymore and the rclone configs of jobs that are not running.
func (m *Manager) cleanupOrphanJobFiles(ctx context.Context) error {
	return m.walkJobFiles(m.cfg.Paths().JobLogs(), []string{conventions.JobRcloneConfigExt, conventions.JobLogExt, conventions.JobCmdExt}, func(path, jobID, ext string) error {
		if ext == conventions.JobRcloneConfigExt {
			if !m.reg.isRunning(jobID) {
				_ = os.Remove(path)
			}
			return nil
		}
		return m.removeIfOrphan(ctx, path, jobID)
	})
}

func (m *Manager) cleanupOrphanArtifacts(ctx context.Context) error {
	return m.walkJobFiles(m.cfg.Paths().Artifacts(), []string{conventions.ArtifactTmpExt, conventions.ArtifactExt}, func(path, jobID, _ string) error {
		return m.removeIfOrphan(ctx, path, jobID)
	})
}

func (m *Manager) removeIfOrphan(ctx context.Context, path, jobID string) error {
	ok, err := m.repo.JobExists(ctx, jobID)
	if err != nil {
		return fmt.Errorf("could not check job %s: %w", jobID, err)
	}
	if !ok {
		_ = os.Remove(path)
	}
	return nil
}

// walkJobFiles calls f for every file of dir named <job id><ext>. The
// extensions are matched in order so longer ones sharing a suffix go first.
func (m *Manager) walkJobFiles(dir string, exts []string, f func(path, jobID, ext string) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("could not read %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		for _, ext := range exts {
			id, ok := strings.CutSuffix(name, ext)
			if !ok || id == "" {
				continue
			}
			if err := f(filepath.Join(dir, name), id, ext); err != nil {
				return err
			}
			break
		}
	}

	return nil
}

func (m *Manager) cleanupOrphanStaging(ctx context.Context) error {
	dir := m.cfg.Paths().Staging()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("could not read %s: %w", dir, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ok, err := m.repo.UploadSessionExists(ctx, e.Name())
		if err != nil {
			return fmt.Errorf("could not check upload session %s: %w", e.Name(), err)
		}
		if !ok {
			_ = os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}

	return nil
}

func (m *Manager) cleanupOldJobs(ctx context.Context) error {
	if m.cfg.JobRetention <= 0 {
		return nil
	}

	cutoff := m.timeNow().UTC().Add(-m.cfg.JobRetention)
	limit := storage.DeleteLimit(maintenancePageSize)
	for {
		var ids []string
		err := m.withStoreTimeout(ctx, retentionTimeout, func(ctx context.Context) (err error) {
			ids, err = m.repo.DeleteFinishedJobsBefore(ctx, cutoff, limit)
			return err
		})
		if err != nil {
			return fmt.Errorf("could not delete old jobs: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		paths := m.cfg.Paths()
		for _, id := range ids {
			for _, p := range []string{paths.JobLog(id), paths.JobCmd(id), paths.Artifact(id), paths.ArtifactTmp(id)} {
				_ = os.Remove(p)
			}
		}
		m.publish(model.EventTypeJobsDeleted, "", model.JobsDeletedEvent{JobIDs: ids, Reason: "retention"})
		m.logger.Infof("%d job(s) removed by retention", len(ids))

		if len(ids) < limit || ctx.Err() != nil {
			return nil
		}
	}
}

func (m *Manager) cleanupExpiredJobLogs(ctx context.Context) error {
	if m.cfg.JobLogRetention <= 0 {
		return nil
	}

	cutoff := m.timeNow().UTC().Add(-m.cfg.JobLogRetention)
	ids, err := m.repo.ListFinishedJobIDsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("could not list finished jobs: %w", err)
	}

	paths := m.cfg.Paths()
	for _, id := range ids {
		_ = os.Remove(paths.JobLog(id))
		_ = os.Remove(paths.JobCmd(id))
	}

	return nil
}
