// Package mongo drives mongodump and mongorestore, either on the host or inside a container.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/executor"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Tool names.
const (
	ToolDump    = "mongodump"
	ToolRestore = "mongorestore"
	ToolDocker  = "docker"
)

// Connection defaults.
const (
	DefaultHost         = "localhost"
	DefaultPort         = 27017
	DefaultAuthDatabase = "admin"
)

// Scratch paths inside the container get a per-run suffix.
const (
	containerBackupDir  = "/tmp/mongodb-backup"
	containerRestoreDir = "/tmp/mongodb-restore"
	cleanupTimeout      = 30 * time.Second
)

// DumpOptions configures a mongodump run.
type DumpOptions struct {
	Database   string
	OutputPath string
	Connection models.ConnectionConfig
	Container  string            // empty runs on the host
	OnOutput   func(line string) // optional, receives tool progress lines
}

// RestoreOptions configures a mongorestore run.
type RestoreOptions struct {
	Database   string
	SourcePath string
	Connection models.ConnectionConfig
	Container  string // empty runs on the host
	Drop       bool
	OnOutput   func(line string)
}

// Service defines the interface for MongoDB dump and restore operations.
type Service interface {
	Dump(ctx context.Context, opts DumpOptions) (*models.ProcessResult, error)
	Restore(ctx context.Context, opts RestoreOptions) (*models.ProcessResult, error)
}

// Impl implements the mongo Service interface.
type Impl struct {
	executor executor.Executor
	logger   zerolog.Logger
	runID    func() string
}

// New creates a new mongo service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: executor.New(logger),
		logger:   logger,
		runID:    uuid.NewString,
	}
}

// NewWithExecutor creates a new mongo service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, exec executor.Executor) *Impl {
	return &Impl{
		executor: exec,
		logger:   logger,
		runID:    uuid.NewString,
	}
}

// Dump runs mongodump into opts.OutputPath.
func (s *Impl) Dump(ctx context.Context, opts DumpOptions) (*models.ProcessResult, error) {
	s.logger.Info().
		Str("database", opts.Database).
		Str("output", opts.OutputPath).
		Str("container", opts.Container).
		Msg("starting MongoDB dump")

	if opts.Container == "" {
		args := []string{"--db", opts.Database, "--out", opts.OutputPath}
		args = append(args, ConnectionArgs(opts.Connection, false)...)

		return s.run(ctx, ToolDump, executor.Command{Name: ToolDump, Args: args, OnStderr: opts.OnOutput})
	}

	scratch := containerBackupDir + "-" + s.runID()
	defer s.removeContainerPath(ctx, opts.Container, scratch)

	args := []string{"exec", opts.Container, ToolDump, "--db", opts.Database, "--out", scratch}
	args = append(args, ConnectionArgs(opts.Connection, true)...)

	result, err := s.run(ctx, ToolDump, executor.Command{Name: ToolDocker, Args: args, OnStderr: opts.OnOutput})
	if err != nil {
		return result, err
	}

	copyArgs := []string{"cp", opts.Container + ":" + scratch + "/.", opts.OutputPath}
	if copyResult, err := s.run(ctx, "docker cp", executor.Command{Name: ToolDocker, Args: copyArgs}); err != nil {
		return copyResult, err
	}

	return result, nil
}

// Restore runs mongorestore limited to opts.Database.
func (s *Impl) Restore(ctx context.Context, opts RestoreOptions) (*models.ProcessResult, error) {
	s.logger.Info().
		Str("database", opts.Database).
		Str("source", opts.SourcePath).
		Str("container", opts.Container).
		Bool("drop", opts.Drop).
		Msg("starting MongoDB restore")

	if opts.Container == "" {
		args := restoreArgs(opts, false)
		args = append(args, opts.SourcePath)

		return s.run(ctx, ToolRestore, executor.Command{Name: ToolRestore, Args: args, OnStderr: opts.OnOutput})
	}

	copySource, target := containerCopyPaths(opts.SourcePath, containerRestoreDir+"-"+s.runID())
	defer s.removeContainerPath(ctx, opts.Container, target)

	copyArgs := []string{"cp", copySource, opts.Container + ":" + target}
	if copyResult, err := s.run(ctx, "docker cp", executor.Command{Name: ToolDocker, Args: copyArgs}); err != nil {
		return copyResult, err
	}

	args := []string{"exec", opts.Container, ToolRestore}
	args = append(args, restoreArgs(opts, true)...)
	args = append(args, target)

	return s.run(ctx, ToolRestore, executor.Command{Name: ToolDocker, Args: args, OnStderr: opts.OnOutput})
}

// ConnectionArgs builds the connection flags shared by mongodump and mongorestore.
// Inside a container the server is reached on localhost unless a URI is given.
func ConnectionArgs(conn models.ConnectionConfig, inContainer bool) []string {
	if conn.URI != "" {
		return []string{"--uri", conn.URI}
	}

	host := conn.Host
	if host == "" || inContainer {
		host = DefaultHost
	}
	port := conn.Port
	if port == 0 {
		port = DefaultPort
	}

	args := []string{"--host", host, "--port", strconv.Itoa(port)}
	if conn.Username == "" {
		return args
	}

	args = append(args, "--username", conn.Username)
	if conn.Password != "" {
		args = append(args, "--password", conn.Password)
	}

	authDB := conn.AuthDatabase
	if authDB == "" {
		authDB = DefaultAuthDatabase
	}
	return append(args, "--authenticationDatabase", authDB)
}

func restoreArgs(opts RestoreOptions, inContainer bool) []string {
	var args []string
	if opts.Drop {
		args = append(args, "--drop")
	}
	args = append(args, "--nsInclude="+opts.Database+".*")
	return append(args, ConnectionArgs(opts.Connection, inContainer)...)
}

// containerCopyPaths returns the docker cp source and the path inside the container.
// Directories are copied by content into scratch, single files keep their name.
func containerCopyPaths(source, scratch string) (string, string) {
	if fsutil.IsDir(source) {
		return strings.TrimRight(source, string(os.PathSeparator)) + string(os.PathSeparator) + ".", scratch
	}
	return source, scratch + "-" + filepath.Base(source)
}

func (s *Impl) run(ctx context.Context, tool string, cmd executor.Command) (*models.ProcessResult, error) {
	result, err := s.executor.Run(ctx, cmd)
	if err != nil {
		if errors.Is(err, executor.ErrToolNotFound) {
			return result, models.NewToolUnavailableError(fmt.Sprintf("%s is not installed or not in PATH", cmd.Name), err)
		}
		return result, err
	}

	if result.ExitCode != 0 {
		return result, Classify(tool, result)
	}

	return result, nil
}

// removeContainerPath deletes a temporary path inside the container, best effort.
// It runs even when ctx has been cancelled.
func (s *Impl) removeContainerPath(ctx context.Context, container, path string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	result, err := s.executor.Run(cleanupCtx, executor.Command{
		Name: ToolDocker,
		Args: []string{"exec", container, "rm", "-rf", path},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("container", container).Str("path", path).Msg("failed to remove container temp path")
		return
	}
	if result.ExitCode != 0 {
		s.logger.Warn().
			Int("exit_code", result.ExitCode).
			Str("container", container).
			Str("path", path).
			Msg("failed to remove container temp path")
	}
}
