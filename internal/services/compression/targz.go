package compression

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

func (s *Impl) writeTarGz(ctx context.Context, sourceDir, dest string) (err error) {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // dest is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	gz, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	// file -> gzip -> tar, closed in reverse order
	closers := []io.Closer{out, gz, tw}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if closeErr := closers[i].Close(); closeErr != nil {
				err = errors.Join(err, closeErr)
			}
		}
	}()

	return filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}

		name, err := entryName(sourceDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if !info.IsDir() && !info.Mode().IsRegular() {
			s.logger.Debug().Str("path", path).Msg("skipping non-regular file")
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to build tar header for %s: %w", path, err)
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}

		if info.IsDir() {
			return nil
		}
		return copyFileTo(ctx, tw, path)
	})
}

// extractTarGz gunzips into an intermediate tar file first and extracts that.
// The intermediate file is always removed.
func (s *Impl) extractTarGz(ctx context.Context, sourceFile, destDir string) error {
	tempTar := filepath.Join(s.tempDir, "gomongo-"+uuid.NewString()+".tar")
	defer func() {
		if err := os.Remove(tempTar); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", tempTar).Msg("failed to remove intermediate tar")
		}
	}()

	if err := gunzipTo(ctx, sourceFile, tempTar); err != nil {
		return err
	}

	return s.extractTar(ctx, tempTar, destDir)
}

func gunzipTo(ctx context.Context, sourceFile, dest string) (err error) {
	in, err := os.Open(sourceFile) //nolint:gosec // sourceFile is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = in.Close() }()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // dest is an internal temp path
	if err != nil {
		return fmt.Errorf("failed to create intermediate tar: %w", err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	if _, err := fsutil.CopyContext(ctx, out, gz); err != nil {
		return fmt.Errorf("failed to decompress gzip stream: %w", err)
	}
	return nil
}

func (s *Impl) extractTar(ctx context.Context, tarPath, destDir string) error {
	f, err := os.Open(tarPath) //nolint:gosec // tarPath is an internal temp path
	if err != nil {
		return fmt.Errorf("failed to open intermediate tar: %w", err)
	}
	defer func() { _ = f.Close() }()

	tr := tar.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := writeFile(ctx, target, tr, os.FileMode(header.Mode)); err != nil { //nolint:gosec // mode comes from tar header
				return err
			}
		default:
			s.logger.Debug().Str("entry", header.Name).Msg("skipping unsupported tar entry")
		}
	}
}
