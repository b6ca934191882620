// Package runner orchestrates the backup and restore pipelines.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/mongo"
	"github.com/rs/zerolog"
)

// Pipeline stages, reported as OperationResult.FailedStage.
const (
	StageValidate         = "validate"
	StageResolveContainer = "resolve-container"
	StageToolCheck        = "tool-check"
	StageContainerCheck   = "container-check"
	StageCredentialCheck  = "credential-check"
	StageCreateOutputDir  = "create-output-dir"
	StageDump             = "dump"
	StageCompress         = "compress"
	StageEncrypt          = "encrypt"
	StageRetain           = "retain"
	StageValidateSource   = "validate-source"
	StageDecrypt          = "decrypt"
	StageDecompress       = "decompress"
	StageRestore          = "restore"
)

const (
	defaultPollInterval = 2 * time.Second
	notifyTimeout       = 30 * time.Second
)

// Service defines the interface for the pipeline runner.
type Service interface {
	Backup(ctx context.Context, req models.BackupRequest) *models.OperationResult
	Restore(ctx context.Context, req models.RestoreRequest) *models.OperationResult
}

// Impl implements the runner Service interface.
type Impl struct {
	caps         Capabilities
	logger       zerolog.Logger
	tempDir      string
	pollInterval time.Duration
}

// New creates a new runner with the real collaborators.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		caps:         DefaultCapabilities(logger),
		logger:       logger,
		tempDir:      os.TempDir(),
		pollInterval: defaultPollInterval,
	}
}

// NewWithCapabilities creates a new runner with custom collaborators (for testing).
// Nil capabilities fall back to their defaults.
func NewWithCapabilities(logger zerolog.Logger, caps Capabilities, tempDir string) *Impl {
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	return &Impl{
		caps:         caps.withDefaults(logger),
		logger:       logger,
		tempDir:      tempDir,
		pollInterval: defaultPollInterval,
	}
}

// pipeline holds the state of one backup or restore run.
type pipeline struct {
	*Impl
	ctx     context.Context
	stage   string
	result  *models.OperationResult
	scratch *scratch
}

func (s *Impl) newPipeline(ctx context.Context) *pipeline {
	return &pipeline{
		Impl:    s,
		ctx:     ctx,
		result:  &models.OperationResult{},
		scratch: newScratch(s.logger),
	}
}

// enter moves to stage. It fails once the run has been cancelled.
func (p *pipeline) enter(stage string) error {
	p.stage = stage
	p.logger.Debug().Str("stage", stage).Msg("entering stage")
	return p.ctx.Err()
}

// fail records err against the current stage.
func (p *pipeline) fail(err error) *models.OperationResult {
	opErr := models.AsOperationError(err)

	p.result.Success = false
	p.result.FailedStage = p.stage
	p.result.Kind = opErr.Kind
	p.result.Message = opErr.Error()
	p.result.Error = opErr
	if opErr.ExitCode != 0 {
		p.result.ExitCode = opErr.ExitCode
	}
	if opErr.Stdout != "" || opErr.Stderr != "" {
		p.result.Stdout = opErr.Stdout
		p.result.Stderr = opErr.Stderr
	}

	p.logger.Error().
		Err(opErr).
		Str("stage", p.stage).
		Str("kind", string(opErr.Kind)).
		Msg("pipeline failed")

	return p.result
}

func (p *pipeline) record(process *models.ProcessResult) {
	if process == nil {
		return
	}
	p.result.ExitCode = process.ExitCode
	p.result.Stdout = process.Stdout
	p.result.Stderr = process.Stderr
}

func (p *pipeline) status(message string) {
	p.caps.Progress.Status(p.stage, message)
}

func (p *pipeline) onPercent(percent int) {
	p.status(fmt.Sprintf("%d%%", percent))
}

func (p *pipeline) logToolLine(line string) {
	p.logger.Debug().Str("stage", p.stage).Msg(line)
}

// preflight runs the checks shared by both pipelines and returns the
// container to run in, or "" for local mode.
func (p *pipeline) preflight(conn models.ConnectionConfig, cc models.ContainerConfig, tool string) (string, error) {
	var container string
	if cc.Enabled {
		container = cc.Name
		if container == "" {
			if err := p.enter(StageResolveContainer); err != nil {
				return "", err
			}
			name, err := p.caps.Containers.Resolve(p.ctx)
			if err != nil {
				return "", err
			}
			container = name
		}
	}

	if err := p.enter(StageToolCheck); err != nil {
		return "", err
	}
	required := tool
	if container != "" {
		required = mongo.ToolDocker
	}
	if err := p.caps.Tools.Require(p.ctx, required); err != nil {
		return "", err
	}

	if container != "" {
		if err := p.enter(StageContainerCheck); err != nil {
			return "", err
		}
		if err := p.caps.Containers.Validate(p.ctx, container); err != nil {
			return "", err
		}
		if err := p.caps.Containers.RequireBinaries(p.ctx, container, tool); err != nil {
			return "", err
		}
	}

	if conn.HasCredentials() {
		if err := p.enter(StageCredentialCheck); err != nil {
			return "", err
		}
		if err := p.caps.Connection.Validate(p.ctx, conn, container); err != nil {
			return "", err
		}
	}

	return container, nil
}

func (s *Impl) notify(ctx context.Context, cfg *models.TelegramConfig, n models.Notification, result *models.OperationResult) {
	if cfg == nil {
		return
	}

	n.Success = result.Success
	n.Duration = result.Duration
	n.ArtifactPath = result.ArtifactPath
	if n.ArtifactPath != "" {
		if size, err := fsutil.DirSize(n.ArtifactPath); err == nil {
			n.ArtifactBytes = size
		}
	}
	if result.Retention != nil {
		n.RetentionDeleted = result.Retention.Deleted
	}
	if !result.Success {
		n.FailedStage = result.FailedStage
		n.ErrorMessage = result.Message
	}
	if host, err := os.Hostname(); err == nil {
		n.Host = host
	}

	// A cancelled run still reports its outcome.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	sent, err := s.caps.Notifier.SendNotification(notifyCtx, *cfg, n)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if sent.Error != nil {
		s.logger.Error().Err(sent.Error).Msg("failed to send Telegram notification")
		return
	}
	if sent.MessageSent {
		s.logger.Info().Msg("Telegram notification sent")
	}
}

// wrapStageError types a codec failure unless it already carries a kind or
// is a cancellation.
func wrapStageError(err error, wrap func(string, error) *models.OperationError, message string) error {
	var opErr *models.OperationError
	if errors.As(err, &opErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return wrap(message, err)
}

// cleanPath normalises a user supplied path. A blank path stays blank so
// validation still reports it as missing.
func cleanPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return path
	}
	return filepath.Clean(path)
}

func fileSystemError(message string, err error) *models.OperationError {
	kind := models.KindProcess
	if errors.Is(err, fs.ErrPermission) {
		kind = models.KindPermission
	}
	return &models.OperationError{Kind: kind, Message: message, Cause: err}
}
