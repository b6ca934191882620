// Package docker finds and checks the container that runs MongoDB.
package docker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/executor"
	"github.com/rs/zerolog"
)

const (
	dockerBinary = "docker"
	mongoImage   = "mongo"
	mongoPort    = "27017"
)

// Service defines the interface for container discovery and checks.
type Service interface {
	Detect(ctx context.Context) ([]string, error)
	Resolve(ctx context.Context) (string, error)
	Validate(ctx context.Context, name string) error
	RequireBinaries(ctx context.Context, name string, binaries ...string) error
}

// Impl implements the docker Service interface.
type Impl struct {
	executor executor.Executor
	logger   zerolog.Logger
}

// New creates a new docker service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: executor.New(logger),
		logger:   logger,
	}
}

// NewWithExecutor creates a new docker service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, exec executor.Executor) *Impl {
	return &Impl{
		executor: exec,
		logger:   logger,
	}
}

// Detect lists running containers that look like MongoDB servers.
// Containers built from the mongo image come first, followed by containers
// publishing the default port that have mongod on their PATH.
func (s *Impl) Detect(ctx context.Context) ([]string, error) {
	byImage, err := s.listContainers(ctx, "ancestor="+mongoImage)
	if err != nil {
		return nil, err
	}

	byPort, err := s.listContainers(ctx, "publish="+mongoPort)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(byImage)+len(byPort))
	names := make([]string, 0, len(byImage)+len(byPort))
	for _, name := range byImage {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	for _, name := range byPort {
		if _, ok := seen[name]; ok {
			continue
		}
		if !s.hasBinary(ctx, name, "mongod") {
			s.logger.Debug().Str("container", name).Msg("container publishes 27017 but has no mongod, skipping")
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	s.logger.Debug().Strs("containers", names).Msg("detected MongoDB containers")
	return names, nil
}

// Resolve returns the single MongoDB container on this host.
func (s *Impl) Resolve(ctx context.Context) (string, error) {
	names, err := s.Detect(ctx)
	if err != nil {
		return "", err
	}

	switch len(names) {
	case 0:
		return "", models.NewContainerResolutionError("no running MongoDB container found, specify one with --container-name", nil)
	case 1:
		s.logger.Info().Str("container", names[0]).Msg("auto-detected MongoDB container")
		return names[0], nil
	default:
		return "", models.NewContainerResolutionError(
			fmt.Sprintf("multiple MongoDB containers found (%s), specify one with --container-name", strings.Join(names, ", ")),
			nil,
		)
	}
}

// Validate checks that the named container exists and is running.
func (s *Impl) Validate(ctx context.Context, name string) error {
	result, err := s.docker(ctx, "inspect", "--format={{.State.Running}}", name)
	if err != nil {
		return err
	}

	if result.ExitCode != 0 {
		return &models.OperationError{
			Kind:     models.KindContainerResolution,
			Message:  fmt.Sprintf("container %q not found", name),
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}

	if strings.TrimSpace(result.Stdout) != "true" {
		return models.NewContainerResolutionError(fmt.Sprintf("container %q is not running", name), nil)
	}

	return nil
}

// RequireBinaries checks that each binary is on the container's PATH.
func (s *Impl) RequireBinaries(ctx context.Context, name string, binaries ...string) error {
	var missing []string
	for _, bin := range binaries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.hasBinary(ctx, name, bin) {
			missing = append(missing, bin)
		}
	}

	if len(missing) > 0 {
		return models.NewToolUnavailableError(
			fmt.Sprintf("container %q is missing required tools: %s", name, strings.Join(missing, ", ")),
			nil,
		)
	}

	return nil
}

func (s *Impl) listContainers(ctx context.Context, filter string) ([]string, error) {
	result, err := s.docker(ctx, "ps", "--format", "{{.Names}}", "--filter", filter)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, &models.OperationError{
			Kind:     models.KindContainerResolution,
			Message:  "failed to list docker containers",
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}

	var names []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *Impl) hasBinary(ctx context.Context, container, binary string) bool {
	result, err := s.docker(ctx, "exec", container, "sh", "-c", "command -v "+binary)
	return err == nil && result.ExitCode == 0
}

func (s *Impl) docker(ctx context.Context, args ...string) (*models.ProcessResult, error) {
	result, err := s.executor.Run(ctx, executor.Command{Name: dockerBinary, Args: args})
	if err != nil {
		if errors.Is(err, executor.ErrToolNotFound) {
			return nil, models.NewToolUnavailableError("docker is not installed or not in PATH", err)
		}
		return nil, err
	}
	return result, nil
}
