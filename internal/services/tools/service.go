// Package tools checks that the external MongoDB tools are installed.
package tools

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/executor"
	"github.com/rs/zerolog"
)

var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)version[:\s]+v?(\d+\.\d+\.\d+)`),
	regexp.MustCompile(`(?i)version\s+(\d+\.\d+\.\d+)`),
}

// Service defines the interface for tool availability checks.
type Service interface {
	Check(ctx context.Context, names ...string) []models.ToolInfo
	Require(ctx context.Context, names ...string) error
}

// Impl implements the tools Service interface.
type Impl struct {
	executor executor.Executor
	logger   zerolog.Logger
}

// New creates a new tools service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: executor.New(logger),
		logger:   logger,
	}
}

// NewWithExecutor creates a new tools service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, exec executor.Executor) *Impl {
	return &Impl{
		executor: exec,
		logger:   logger,
	}
}

// Check runs `<tool> --version` for every name and reports what was found.
func (s *Impl) Check(ctx context.Context, names ...string) []models.ToolInfo {
	infos := make([]models.ToolInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, s.check(ctx, name))
	}
	return infos
}

// Require fails with a tool_unavailable error if any of the tools is missing.
func (s *Impl) Require(ctx context.Context, names ...string) error {
	var missing []string
	var causes []error

	for _, info := range s.Check(ctx, names...) {
		if info.Available {
			s.logger.Debug().Str("tool", info.Name).Str("version", info.Version).Msg("tool available")
			continue
		}
		missing = append(missing, info.Name)
		causes = append(causes, info.Error)
	}

	if len(missing) == 0 {
		return nil
	}

	return models.NewToolUnavailableError(
		fmt.Sprintf("required tools not available: %s (install MongoDB Database Tools)", strings.Join(missing, ", ")),
		errors.Join(causes...),
	)
}

func (s *Impl) check(ctx context.Context, name string) models.ToolInfo {
	info := models.ToolInfo{Name: name}

	result, err := s.executor.Run(ctx, executor.Command{Name: name, Args: []string{"--version"}})
	if err != nil {
		info.Error = err
		return info
	}
	if result.ExitCode != 0 {
		info.Error = fmt.Errorf("%s --version exited with code %d", name, result.ExitCode)
		return info
	}

	info.Available = true
	info.Version = ParseVersion(result.Output())
	return info
}

// ParseVersion extracts a semantic version from a --version banner.
// It returns an empty string when none is found.
func ParseVersion(output string) string {
	for _, pattern := range versionPatterns {
		if m := pattern.FindStringSubmatch(output); m != nil {
			return m[1]
		}
	}
	return ""
}
