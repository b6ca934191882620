// Package executor runs external commands with line-streamed output capture.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/rs/zerolog"
)

// ErrToolNotFound is returned when the command binary cannot be started.
var ErrToolNotFound = errors.New("tool not found")

const (
	maxLineSize      = 1024 * 1024
	defaultWaitDelay = 5 * time.Second
)

// Command describes an external command invocation.
type Command struct {
	Name     string
	Args     []string
	Env      []string          // added to the current environment
	OnStdout func(line string) // optional
	OnStderr func(line string) // optional
}

// String renders the command line for logging. It is not redacted.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	for _, arg := range c.Args {
		if arg == "" || strings.ContainsAny(arg, " \t") {
			arg = fmt.Sprintf("%q", arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Executor runs external commands.
//
// A non-zero exit is reported through ProcessResult.ExitCode with a nil error.
// The error is reserved for start failures (wrapping ErrToolNotFound when the
// binary is missing) and cancellation.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*models.ProcessResult, error)
}

// Impl is the os/exec backed Executor.
type Impl struct {
	logger    zerolog.Logger
	waitDelay time.Duration
}

// New creates a new executor.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		logger:    logger,
		waitDelay: defaultWaitDelay,
	}
}

// Run starts the command and waits for it to exit.
func (e *Impl) Run(ctx context.Context, c Command) (*models.ProcessResult, error) {
	e.logger.Debug().Str("command", Redact(c.String())).Msg("running command")

	start := time.Now()
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	// Output is copied by os/exec itself, so WaitDelay also bounds a
	// grandchild that keeps the pipes open after the child was killed.
	cmd.WaitDelay = e.waitDelay

	stdout := e.newLineWriter("stdout", c.OnStdout)
	stderr := e.newLineWriter("stderr", c.OnStderr)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrToolNotFound, c.Name)
		}
		return nil, fmt.Errorf("starting %s: %w", c.Name, err)
	}

	waitErr := cmd.Wait()
	stdout.flush()
	stderr.flush()

	result := &models.ProcessResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s interrupted: %w", c.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil, errors.As(waitErr, &exitErr):
	case errors.Is(waitErr, exec.ErrWaitDelay):
		e.logger.Warn().Str("command", c.Name).Msg("output still open after exit, stopped reading")
	default:
		return result, fmt.Errorf("waiting for %s: %w", c.Name, waitErr)
	}

	e.logger.Debug().
		Str("command", c.Name).
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("command finished")

	return result, nil
}
