package models

import "time"

// OperationResult is the outcome of a backup or restore pipeline run.
type OperationResult struct {
	Success      bool
	Message      string
	ExitCode     int // raw exit code of the failing subprocess, if any
	Stdout       string
	Stderr       string
	ArtifactPath string // backup only
	Kind         ErrorKind
	FailedStage  string
	Duration     time.Duration
	Retention    *RetentionReport // nil if retention did not run
	Error        error
}

// ProcessResult holds the outcome of an external command.
type ProcessResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stdout and stderr joined for pattern matching.
func (r *ProcessResult) Output() string {
	if r == nil {
		return ""
	}
	return r.Stdout + "\n" + r.Stderr
}

// ToolInfo describes an external tool found (or not) on the host.
type ToolInfo struct {
	Name      string
	Available bool
	Version   string
	Error     error
}

// Exit codes returned by the CLI.
const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitToolUnavailable = 127
)

// ExitStatus maps a pipeline result onto the CLI exit code.
func ExitStatus(result *OperationResult) int {
	switch {
	case result == nil:
		return ExitFailure
	case result.Success:
		return ExitSuccess
	case result.Kind == KindToolUnavailable:
		return ExitToolUnavailable
	default:
		return ExitFailure
	}
}
