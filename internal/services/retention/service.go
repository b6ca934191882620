// Package retention removes backup artifacts older than a retention window.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/rs/zerolog"
)

var archiveExtensions = []string{".tar.gz", ".tgz", ".gz", ".zip", ".encrypted"}

// Service defines the interface for retention cleanup.
type Service interface {
	Cleanup(ctx context.Context, dir string, policy models.RetentionPolicy) (*models.RetentionReport, error)
}

// Impl implements the retention Service interface.
type Impl struct {
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a new retention service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		logger: logger,
		now:    time.Now,
	}
}

// NewWithClock creates a new retention service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, now func() time.Time) *Impl {
	return &Impl{
		logger: logger,
		now:    now,
	}
}

type candidate struct {
	path      string
	isDir     bool
	size      int64
	timestamp time.Time
}

// Cleanup deletes the direct children of dir that are older than policy.Days.
// A failure on one item is recorded in the report and does not stop the scan.
func (s *Impl) Cleanup(ctx context.Context, dir string, policy models.RetentionPolicy) (*models.RetentionReport, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, models.NewValidationError("retention directory must not be empty", nil)
	}
	if policy.Days <= 0 {
		return nil, models.NewValidationError("retention days must be greater than zero", nil)
	}

	report := &models.RetentionReport{DryRun: policy.DryRun}

	if !fsutil.IsDir(dir) {
		report.Message = fmt.Sprintf("backup directory %s does not exist, nothing to clean up", dir)
		s.logger.Warn().Str("directory", dir).Msg("retention directory does not exist")
		return report, nil
	}

	cutoff := s.now().AddDate(0, 0, -policy.Days)

	s.logger.Info().
		Str("directory", dir).
		Int("retention_days", policy.Days).
		Time("cutoff", cutoff).
		Bool("dry_run", policy.DryRun).
		Msg("applying retention policy")

	candidates, err := s.collect(dir, policy.Timestamp, report)
	if err != nil {
		return nil, models.NewRetentionError("failed to list backup directory", err)
	}
	report.Found = len(candidates)

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].timestamp.Before(candidates[j].timestamp)
	})

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			report.Message = summarize(report)
			return report, fmt.Errorf("retention cleanup interrupted: %w", err)
		}

		if !c.timestamp.Before(cutoff) {
			report.Retained++
			continue
		}

		s.remove(c, policy.DryRun, report)
	}

	report.Message = summarize(report)

	s.logger.Info().
		Int("deleted", report.Deleted).
		Int("retained", report.Retained).
		Int64("freed_bytes", report.FreedBytes).
		Int("errors", len(report.Errors)).
		Msg("retention policy applied")

	return report, nil
}

func (s *Impl) collect(dir string, source models.TimestampSource, report *models.RetentionReport) ([]candidate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, entry := range entries {
		if !isCandidate(entry) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}

		candidates = append(candidates, candidate{
			path:      path,
			isDir:     entry.IsDir(),
			size:      info.Size(),
			timestamp: timestampOf(path, info, source),
		})
	}

	return candidates, nil
}

func (s *Impl) remove(c candidate, dryRun bool, report *models.RetentionReport) {
	size := c.size
	if c.isDir {
		dirSize, err := fsutil.DirSize(c.path)
		if err != nil {
			s.logger.Debug().Err(err).Str("path", c.path).Msg("failed to compute directory size")
		}
		size = dirSize
	}

	if dryRun {
		s.logger.Info().
			Str("path", c.path).
			Str("size", humanize.Bytes(uint64(size))).
			Time("timestamp", c.timestamp).
			Msg("[dry-run] would delete backup")
		report.Deleted++
		report.DeletedPaths = append(report.DeletedPaths, c.path)
		return
	}

	if err := os.RemoveAll(c.path); err != nil {
		s.logger.Warn().Err(err).Str("path", c.path).Msg("failed to delete backup")
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", c.path, err))
		return
	}

	s.logger.Info().
		Str("path", c.path).
		Str("size", humanize.Bytes(uint64(size))).
		Msg("deleted old backup")

	report.Deleted++
	report.FreedBytes += size
	report.DeletedPaths = append(report.DeletedPaths, c.path)
}

func isCandidate(entry os.DirEntry) bool {
	name := entry.Name()
	lower := strings.ToLower(name)

	if entry.IsDir() {
		return !strings.HasPrefix(name, ".") && !strings.HasPrefix(lower, "temp")
	}

	if !entry.Type().IsRegular() {
		return false
	}
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func timestampOf(path string, info os.FileInfo, source models.TimestampSource) time.Time {
	if source == models.TimestampModification {
		return info.ModTime()
	}
	if created, ok := birthTime(path, info); ok {
		return created
	}
	return info.ModTime()
}

func summarize(report *models.RetentionReport) string {
	verb := "deleted"
	if report.DryRun {
		verb = "would delete"
	}
	return fmt.Sprintf("%s %d, retained %d, freed %s, %d error(s)",
		verb, report.Deleted, report.Retained, humanize.Bytes(uint64(report.FreedBytes)), len(report.Errors))
}
