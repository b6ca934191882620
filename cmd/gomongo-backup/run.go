package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// exitCodeError carries the process exit code out of a command.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

// exitError returns nil for a successful result.
func exitError(result *models.OperationResult) error {
	code := models.ExitStatus(result)
	if code == models.ExitSuccess {
		return nil
	}

	var err error
	if result != nil {
		err = result.Error
	}
	return &exitCodeError{code: code, err: err}
}

// signalContext cancels the returned context on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// configFailure turns a configuration error into a failed validate-stage result.
func configFailure(err error) *models.OperationResult {
	opErr := models.AsOperationError(err)
	return &models.OperationResult{
		Message:     opErr.Error(),
		Kind:        opErr.Kind,
		FailedStage: runner.StageValidate,
		Error:       err,
	}
}

// report prints the summary and converts the result into the command error.
func report(cmd *cobra.Command, result *models.OperationResult) error {
	printResult(cmd.OutOrStdout(), result, verbose)

	if result != nil && !result.Success {
		log.Debug().
			Str("kind", string(result.Kind)).
			Str("stage", result.FailedStage).
			Int("exit_code", result.ExitCode).
			Msg("operation failed")
	}

	return exitError(result)
}
