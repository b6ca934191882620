package main

import (
	"fmt"
	"io"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/connection"
	"github.com/fgeck/gomongo-backup/internal/services/mongo"
	"github.com/fgeck/gomongo-backup/internal/services/tools"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check tools and configuration",
	Long: `Report which MongoDB and Docker tools are installed and print the resolved
connection settings without running a backup or restore.
Exits with code 127 when mongodump or mongorestore is missing.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	addConnectionFlags(validateCmd.Flags())
}

func runValidate(cmd *cobra.Command, args []string) error {
	conn, err := parser.Connection()
	if err != nil {
		return report(cmd, configFailure(err))
	}
	notify, err := parser.Telegram()
	if err != nil {
		return report(cmd, configFailure(err))
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()

	infos := tools.New(log.Logger).Check(ctx, mongo.ToolDump, mongo.ToolRestore, connection.ShellMongosh, mongo.ToolDocker)

	fmt.Fprintln(out, "Tools:")
	missingRequired := false
	for _, info := range infos {
		printTool(out, info)
		if !info.Available && (info.Name == mongo.ToolDump || info.Name == mongo.ToolRestore) {
			missingRequired = true
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Connection:")
	printConnection(out, conn)

	container := parser.Container()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Docker:")
	fmt.Fprintf(out, "  Enabled: %v\n", container.Enabled)
	if container.Enabled {
		name := container.Name
		if name == "" {
			name = "(auto-detect)"
		}
		fmt.Fprintf(out, "  Container: %s\n", name)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Telegram: %v\n", notify != nil)

	if missingRequired {
		err := fmt.Errorf("%s and %s are required (install MongoDB Database Tools)", mongo.ToolDump, mongo.ToolRestore)
		fmt.Fprintf(out, "\n%s %v\n", failMark("✗"), err)
		return &exitCodeError{code: models.ExitToolUnavailable, err: err}
	}

	fmt.Fprintf(out, "\n%s configuration is valid\n", okMark("✓"))
	return nil
}

func printTool(w io.Writer, info models.ToolInfo) {
	if !info.Available {
		fmt.Fprintf(w, "  %s %s: not found\n", failMark("✗"), info.Name)
		return
	}

	version := info.Version
	if version == "" {
		version = "unknown version"
	}
	fmt.Fprintf(w, "  %s %s: %s\n", okMark("✓"), info.Name, version)
}

func printConnection(w io.Writer, conn models.ConnectionConfig) {
	if conn.URI != "" {
		fmt.Fprintf(w, "  URI: %s\n", connection.SanitizeURI(conn.URI))
		return
	}

	fmt.Fprintf(w, "  Host: %s\n", conn.Host)
	fmt.Fprintf(w, "  Port: %d\n", conn.Port)
	if conn.Username == "" {
		fmt.Fprintln(w, "  Authentication: none")
		return
	}

	fmt.Fprintf(w, "  Username: %s\n", conn.Username)
	fmt.Fprintf(w, "  Password: %s\n", maskSecret(conn.Password))
	fmt.Fprintf(w, "  Auth Database: %s\n", conn.AuthDatabase)
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "****"
}
