package compression

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

func (s *Impl) writeZip(ctx context.Context, sourceDir, dest string) (err error) {
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640) //nolint:gosec // dest is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
	}()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})
	defer func() {
		if closeErr := zw.Close(); err == nil {
			err = closeErr
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

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("failed to build zip header for %s: %w", path, err)
		}
		header.Name = name

		if d.IsDir() {
			header.Name += "/"
			_, err = zw.CreateHeader(header)
			return err
		}

		if !info.Mode().IsRegular() {
			s.logger.Debug().Str("path", path).Msg("skipping non-regular file")
			return nil
		}

		header.Method = zip.Deflate
		w, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}

		return copyFileTo(ctx, w, path)
	})
}

func (s *Impl) extractZip(ctx context.Context, sourceFile, destDir string) error {
	zr, err := zip.OpenReader(sourceFile)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer func() { _ = zr.Close() }()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}

		if !f.Mode().IsRegular() {
			s.logger.Debug().Str("entry", f.Name).Msg("skipping non-regular zip entry")
			continue
		}

		if err := extractZipEntry(ctx, f, target); err != nil {
			return err
		}
	}

	return nil
}

func extractZipEntry(ctx context.Context, f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip entry %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	return writeFile(ctx, target, rc, f.Mode())
}

func copyFileTo(ctx context.Context, w io.Writer, path string) error {
	f, err := os.Open(path) //nolint:gosec // path comes from walking the source directory
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fsutil.CopyContext(ctx, w, f); err != nil {
		return fmt.Errorf("failed to archive %s: %w", path, err)
	}
	return nil
}
