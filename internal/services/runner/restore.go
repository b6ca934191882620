package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/compression"
	"github.com/fgeck/gomongo-backup/internal/services/encryption"
	"github.com/fgeck/gomongo-backup/internal/services/mongo"
	"github.com/fgeck/gomongo-backup/internal/validation"
	"github.com/google/uuid"
)

// Restore decrypts and decompresses req.SourcePath as needed and restores it
// into req.Database. Temporary files are removed whatever the outcome.
//
//nolint:gocognit,gocyclo // restore workflow has multiple steps by design
func (s *Impl) Restore(ctx context.Context, req models.RestoreRequest) *models.OperationResult {
	start := time.Now()
	p := s.newPipeline(ctx)
	req.SourcePath = cleanPath(req.SourcePath)

	s.logger.Info().
		Str("database", req.Database).
		Str("source", req.SourcePath).
		Bool("in_docker", req.Container.Enabled).
		Bool("drop", req.Drop).
		Msg("starting restore")

	defer func() {
		p.scratch.cleanup()
		p.result.Duration = time.Since(start)
		s.notify(ctx, req.Notify, models.Notification{
			Operation: models.OperationRestore,
			Database:  req.Database,
			StartTime: start,
		}, p.result)
	}()

	if err := p.enter(StageValidate); err != nil {
		return p.fail(err)
	}
	if err := validation.ValidateRestore(&req); err != nil {
		return p.fail(err)
	}

	container, err := p.preflight(req.Connection, req.Container, mongo.ToolRestore)
	if err != nil {
		return p.fail(err)
	}

	if err := p.enter(StageValidateSource); err != nil {
		return p.fail(err)
	}
	if !fsutil.Exists(req.SourcePath) {
		return p.fail(models.NewValidationError(fmt.Sprintf("source path does not exist: %s", req.SourcePath), nil))
	}

	current := req.SourcePath

	if p.caps.Encryptor.IsEncrypted(current) {
		if err := p.enter(StageDecrypt); err != nil {
			return p.fail(err)
		}
		decrypted, err := p.decrypt(current, req.EncryptionKey)
		if err != nil {
			return p.fail(err)
		}
		current = decrypted
	}

	format := req.Compression
	if format == "" || format == models.CompressionNone {
		format = p.caps.Compressor.DetectFormat(current)
	}

	if format != models.CompressionNone && fsutil.IsFile(current) {
		if err := p.enter(StageDecompress); err != nil {
			return p.fail(err)
		}
		dir := filepath.Join(s.tempDir, "mongo-restore-"+uuid.NewString())
		p.scratch.add(dir)
		if err := p.caps.Compressor.Decompress(ctx, current, dir, format); err != nil {
			return p.fail(wrapStageError(err, models.NewCompressionError, "failed to decompress backup"))
		}
		current = dir
	}

	if err := p.enter(StageRestore); err != nil {
		return p.fail(err)
	}
	process, err := p.caps.Mongo.Restore(ctx, mongo.RestoreOptions{
		Database:   req.Database,
		SourcePath: current,
		Connection: req.Connection,
		Container:  container,
		Drop:       req.Drop,
		OnOutput:   p.logToolLine,
	})
	p.record(process)
	if err != nil {
		return p.fail(err)
	}

	p.stage = ""
	p.result.Success = true
	p.result.Message = fmt.Sprintf("restore of database %q completed from %s", req.Database, req.SourcePath)

	s.logger.Info().
		Str("database", req.Database).
		Dur("duration", time.Since(start)).
		Msg("restore completed successfully")

	return p.result
}

// decrypt writes source decrypted to a temporary file that keeps the inner
// compression extension, so format detection still works on it.
func (p *pipeline) decrypt(source, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", models.NewValidationError(
			"source is encrypted, an encryption key is required (use --encryption-key or MONGO_ENCRYPTION_KEY)", nil)
	}
	if err := p.caps.Encryptor.ValidateKey(key); err != nil {
		return "", models.NewValidationError("invalid encryption key", err)
	}

	decrypted := filepath.Join(p.tempDir, "mongo-restore-decrypted-"+uuid.NewString()+innerExtension(source))
	p.scratch.add(decrypted)

	if err := p.caps.Encryptor.Decrypt(p.ctx, source, decrypted, key, p.onPercent); err != nil {
		return "", wrapStageError(err, models.NewCryptographicError, "failed to decrypt backup")
	}

	return decrypted, nil
}

// innerExtension returns the compression suffix hidden behind the encrypted suffix.
func innerExtension(path string) string {
	base := filepath.Base(path)
	if strings.HasSuffix(strings.ToLower(base), encryption.Extension) {
		base = base[:len(base)-len(encryption.Extension)]
	}
	return compression.ExtensionFor(compression.DetectFormat(base))
}
