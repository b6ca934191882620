package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/fgeck/gomongo-backup/internal/models"
)

var (
	okMark   = color.New(color.FgGreen, color.Bold).SprintFunc()
	failMark = color.New(color.FgRed, color.Bold).SprintFunc()
	dimText  = color.New(color.Faint).SprintFunc()
)

// printResult writes the one-line summary of a pipeline run and its details.
func printResult(w io.Writer, result *models.OperationResult, showOutput bool) {
	if result == nil {
		fmt.Fprintf(w, "%s %s\n", failMark("✗"), "no result")
		return
	}

	if result.Success {
		fmt.Fprintf(w, "%s %s\n", okMark("✓"), result.Message)
		if result.ArtifactPath != "" {
			fmt.Fprintf(w, "  Artifact:  %s%s\n", result.ArtifactPath, artifactSize(result.ArtifactPath))
		}
		if result.Retention != nil {
			fmt.Fprintf(w, "  Retention: %s\n", result.Retention.Message)
			for _, msg := range result.Retention.Errors {
				fmt.Fprintf(w, "    %s\n", dimText(msg))
			}
		}
		if result.Duration > 0 {
			fmt.Fprintf(w, "  Duration:  %s\n", result.Duration.Round(time.Millisecond))
		}
		return
	}

	fmt.Fprintf(w, "%s %s\n", failMark("✗"), result.Message)
	if result.FailedStage != "" {
		fmt.Fprintf(w, "  Stage:     %s\n", result.FailedStage)
	}

	if !showOutput {
		return
	}
	if result.ExitCode != 0 {
		fmt.Fprintf(w, "  Exit code: %d\n", result.ExitCode)
	}
	printStream(w, "stdout", result.Stdout)
	printStream(w, "stderr", result.Stderr)
}

func printStream(w io.Writer, name, content string) {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return
	}

	fmt.Fprintf(w, "  --- %s ---\n", name)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(w, "  %s\n", dimText(line))
	}
}

func artifactSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}

	size := info.Size()
	if info.IsDir() {
		if size, err = fsutil.DirSize(path); err != nil {
			return ""
		}
	}
	return fmt.Sprintf(" (%s)", humanize.IBytes(uint64(size)))
}
