// Package compression archives dump directories as zip or tar.gz files and extracts them again.
package compression

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/rs/zerolog"
)

// Archive extensions.
const (
	ExtZip   = ".zip"
	ExtTarGz = ".tar.gz"
)

var (
	// ErrUnsupportedFormat is returned for CompressionNone or unknown formats.
	ErrUnsupportedFormat = errors.New("unsupported compression format")
	// ErrUnsafePath is returned for archive entries escaping the destination directory.
	ErrUnsafePath = errors.New("archive entry escapes destination")
)

// Service defines the interface for archive operations.
type Service interface {
	Compress(ctx context.Context, sourceDir, destWithoutExt string, format models.CompressionFormat) (string, error)
	Decompress(ctx context.Context, sourceFile, destDir string, format models.CompressionFormat) error
	DetectFormat(path string) models.CompressionFormat
}

// Impl implements the compression Service interface.
type Impl struct {
	logger  zerolog.Logger
	tempDir string
}

// New creates a new compression service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		logger:  logger,
		tempDir: os.TempDir(),
	}
}

// NewWithTempDir creates a compression service that places intermediate files in tempDir (for testing).
func NewWithTempDir(logger zerolog.Logger, tempDir string) *Impl {
	return &Impl{
		logger:  logger,
		tempDir: tempDir,
	}
}

// ExtensionFor returns the file extension produced for format.
func ExtensionFor(format models.CompressionFormat) string {
	switch format {
	case models.CompressionZip:
		return ExtZip
	case models.CompressionTarGz:
		return ExtTarGz
	default:
		return ""
	}
}

// DetectFormat infers the compression format from the file name.
func DetectFormat(path string) models.CompressionFormat {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ExtTarGz), strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".gz"):
		return models.CompressionTarGz
	case strings.HasSuffix(lower, ExtZip):
		return models.CompressionZip
	default:
		return models.CompressionNone
	}
}

// DetectFormat infers the compression format from the file name.
func (s *Impl) DetectFormat(path string) models.CompressionFormat {
	return DetectFormat(path)
}

// Compress archives sourceDir into destWithoutExt plus the format extension.
// The base directory itself is not part of the entry names.
func (s *Impl) Compress(ctx context.Context, sourceDir, destWithoutExt string, format models.CompressionFormat) (string, error) {
	ext := ExtensionFor(format)
	if ext == "" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if !fsutil.IsDir(sourceDir) {
		return "", fmt.Errorf("source directory does not exist: %s", sourceDir)
	}

	dest := destWithoutExt + ext

	s.logger.Info().
		Str("source", sourceDir).
		Str("destination", dest).
		Str("format", string(format)).
		Msg("compressing backup")

	start := time.Now()

	var err error
	switch format {
	case models.CompressionZip:
		err = s.writeZip(ctx, sourceDir, dest)
	case models.CompressionTarGz:
		err = s.writeTarGz(ctx, sourceDir, dest)
	}
	if err != nil {
		// Clean up partial archive
		_ = os.Remove(dest)
		return "", err
	}

	var size int64
	if info, statErr := os.Stat(dest); statErr == nil {
		size = info.Size()
	}

	s.logger.Info().
		Str("destination", dest).
		Int64("size_bytes", size).
		Dur("duration", time.Since(start)).
		Msg("compression completed")

	return dest, nil
}

// Decompress extracts sourceFile into destDir. A format of CompressionNone
// means the format is detected from the file name.
func (s *Impl) Decompress(ctx context.Context, sourceFile, destDir string, format models.CompressionFormat) error {
	if format == models.CompressionNone {
		format = DetectFormat(sourceFile)
	}

	if !fsutil.IsFile(sourceFile) {
		return fmt.Errorf("archive does not exist: %s", sourceFile)
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	s.logger.Info().
		Str("source", sourceFile).
		Str("destination", destDir).
		Str("format", string(format)).
		Msg("decompressing backup")

	start := time.Now()

	var err error
	switch format {
	case models.CompressionZip:
		err = s.extractZip(ctx, sourceFile, destDir)
	case models.CompressionTarGz:
		err = s.extractTarGz(ctx, sourceFile, destDir)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("destination", destDir).
		Dur("duration", time.Since(start)).
		Msg("decompression completed")

	return nil
}

// entryName returns the slash separated archive name of path relative to base.
func entryName(base, path string) (string, error) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// safeJoin resolves an archive entry name below destDir.
func safeJoin(destDir, name string) (string, error) {
	cleanDest := filepath.Clean(destDir)
	target := filepath.Join(cleanDest, filepath.FromSlash(name))

	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// writeFile copies r into a new file at target, creating parent directories.
func writeFile(ctx context.Context, target string, r io.Reader, mode os.FileMode) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o640
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm) //nolint:gosec // target is validated by safeJoin
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	if _, err := fsutil.CopyContext(ctx, out, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	return nil
}
