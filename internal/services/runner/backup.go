package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/mongo"
	"github.com/fgeck/gomongo-backup/internal/services/progress"
	"github.com/fgeck/gomongo-backup/internal/validation"
)

// Backup dumps req.Database into req.OutputPath and post-processes the dump.
//
//nolint:gocognit,gocyclo // backup workflow has multiple steps by design
func (s *Impl) Backup(ctx context.Context, req models.BackupRequest) *models.OperationResult {
	start := time.Now()
	p := s.newPipeline(ctx)
	req.OutputPath = cleanPath(req.OutputPath)

	s.logger.Info().
		Str("database", req.Database).
		Str("output", req.OutputPath).
		Bool("in_docker", req.Container.Enabled).
		Str("compression", string(req.Compression)).
		Bool("encrypt", req.Encrypt).
		Msg("starting backup")

	defer func() {
		p.scratch.cleanup()
		p.result.Duration = time.Since(start)
		s.notify(ctx, req.Notify, models.Notification{
			Operation: models.OperationBackup,
			Database:  req.Database,
			StartTime: start,
		}, p.result)
	}()

	if err := p.enter(StageValidate); err != nil {
		return p.fail(err)
	}
	if err := validation.ValidateBackup(&req); err != nil {
		return p.fail(err)
	}

	container, err := p.preflight(req.Connection, req.Container, mongo.ToolDump)
	if err != nil {
		return p.fail(err)
	}

	if err := p.enter(StageCreateOutputDir); err != nil {
		return p.fail(err)
	}
	createdOutput := !fsutil.Exists(req.OutputPath)
	if !createdOutput && replacesOutput(req) {
		if err := requireEmptyOutput(req.OutputPath); err != nil {
			return p.fail(err)
		}
	}
	if err := os.MkdirAll(req.OutputPath, 0o750); err != nil {
		return p.fail(fileSystemError("failed to create output directory", err))
	}

	if err := p.enter(StageDump); err != nil {
		return p.fail(err)
	}
	if err := p.dump(req, container); err != nil {
		if createdOutput {
			if rmErr := fsutil.RemoveIfExists(req.OutputPath); rmErr != nil {
				s.logger.Warn().Err(rmErr).Str("path", req.OutputPath).Msg("failed to remove output directory")
			}
		}
		return p.fail(err)
	}

	artifact := req.OutputPath

	if req.Compression != "" && req.Compression != models.CompressionNone {
		if err := p.enter(StageCompress); err != nil {
			return p.fail(err)
		}
		archive, err := p.caps.Compressor.Compress(ctx, artifact, artifact, req.Compression)
		if err != nil {
			return p.fail(wrapStageError(err, models.NewCompressionError, "failed to compress backup"))
		}
		p.removeSuperseded(artifact)
		artifact = archive
		p.status("archive created")
	}

	if req.Encrypt {
		if err := p.enter(StageEncrypt); err != nil {
			return p.fail(err)
		}
		encrypted, err := p.encrypt(artifact, req.EncryptionKey)
		if err != nil {
			return p.fail(err)
		}
		artifact = encrypted
	}

	p.result.ArtifactPath = artifact

	if req.RetentionDays > 0 {
		if err := p.enter(StageRetain); err != nil {
			return p.fail(err)
		}
		p.retain(filepath.Dir(req.OutputPath), req.RetentionDays)
	}

	p.stage = ""
	p.result.Success = true
	p.result.Message = fmt.Sprintf("backup of database %q completed: %s", req.Database, artifact)

	s.logger.Info().
		Str("artifact", artifact).
		Dur("duration", time.Since(start)).
		Msg("backup completed successfully")

	return p.result
}

// dump runs the dump tool. In local mode a poller reports the growing
// output size until the tool exits.
func (p *pipeline) dump(req models.BackupRequest, container string) error {
	stopPoller := func() error { return nil }
	if container == "" {
		stopPoller = progress.StartDirPoller(p.ctx, StageDump, req.OutputPath, p.pollInterval, p.caps.Progress)
	}

	process, err := p.caps.Mongo.Dump(p.ctx, mongo.DumpOptions{
		Database:   req.Database,
		OutputPath: req.OutputPath,
		Connection: req.Connection,
		Container:  container,
		OnOutput:   p.logToolLine,
	})

	if pollErr := stopPoller(); pollErr != nil {
		p.logger.Warn().Err(pollErr).Msg("progress poller failed")
	}

	p.record(process)
	return err
}

// encrypt encrypts artifact and removes the plaintext it supersedes. A
// directory is archived first since the codec works on single files.
func (p *pipeline) encrypt(artifact, key string) (string, error) {
	plaintext := artifact
	if fsutil.IsDir(artifact) {
		p.status("archiving dump directory before encryption")
		archive, err := p.caps.Compressor.Compress(p.ctx, artifact, artifact, models.CompressionTarGz)
		if err != nil {
			return "", wrapStageError(err, models.NewCompressionError, "failed to archive backup for encryption")
		}
		p.scratch.add(archive)
		plaintext = archive
	}

	encrypted, err := p.caps.Encryptor.Encrypt(p.ctx, plaintext, plaintext, key, p.onPercent)
	if err != nil {
		return "", wrapStageError(err, models.NewCryptographicError, "failed to encrypt backup")
	}

	p.removeSuperseded(plaintext)
	if plaintext != artifact {
		p.removeSuperseded(artifact)
	}

	return encrypted, nil
}

// retain applies the retention policy. Its failures never fail the backup.
func (p *pipeline) retain(dir string, days int) {
	report, err := p.caps.Retention.Cleanup(p.ctx, dir, models.RetentionPolicy{
		Days:      days,
		Timestamp: models.TimestampCreation,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("directory", dir).Msg("retention cleanup failed")
		if report == nil {
			report = &models.RetentionReport{}
		}
		report.Errors = append(report.Errors, err.Error())
		if report.Message == "" {
			report.Message = err.Error()
		}
	}
	p.result.Retention = report
	if report != nil && report.Message != "" {
		p.status(report.Message)
	}
}

// replacesOutput reports whether the dump directory is removed once archived.
func replacesOutput(req models.BackupRequest) bool {
	return req.Encrypt || (req.Compression != "" && req.Compression != models.CompressionNone)
}

// requireEmptyOutput refuses an existing --out with content, since that
// content would be archived and then removed along with the dump.
func requireEmptyOutput(path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return fileSystemError("failed to read output directory", err)
	}
	if len(entries) > 0 {
		return models.NewValidationError(fmt.Sprintf(
			"output directory %s already exists and is not empty; it is replaced by the archive, choose a new --out", path), nil)
	}
	return nil
}

func (p *pipeline) removeSuperseded(path string) {
	if err := fsutil.RemoveIfExists(path); err != nil {
		p.logger.Warn().Err(err).Str("path", path).Msg("failed to remove intermediate backup")
	}
}
