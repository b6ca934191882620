// Package main is the entry point for gomongo-backup.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fgeck/gomongo-backup/internal/models"
)

func main() {
	if err := Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}

		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(models.ExitFailure)
	}
}
