package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/fgeck/gomongo-backup/internal/config"
	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool

	parser *config.Parser
)

var rootCmd = &cobra.Command{
	Use:   "gomongo-backup",
	Short: "Back up and restore MongoDB databases",
	Long: `gomongo-backup wraps mongodump and mongorestore:
  - local tools or a MongoDB Docker container
  - zip or tar.gz compression
  - AES-256 encryption with a passphrase
  - retention cleanup of old backups
  - Telegram notifications

Settings come from flags, MONGO_* environment variables or a YAML config file.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		parser = config.NewParser()
		if configFile != "" {
			if err := parser.LoadFile(configFile); err != nil {
				return err
			}
		}
		if err := parser.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		return setupLogging(parser.Logging())
	},
	SilenceErrors: true,
	SilenceUsage:  true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().Bool(config.KeyJSON, false, "output logs in JSON format")
	rootCmd.PersistentFlags().String(config.KeyLogFile, "", "also write JSON logs to a rotating file (env MONGO_LOG_FILE)")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(validateCmd)
}

// addConnectionFlags registers the flags shared by every command that talks to MongoDB.
func addConnectionFlags(flags *pflag.FlagSet) {
	flags.String(config.KeyHost, config.DefaultHost, "MongoDB host (env MONGO_HOST)")
	flags.IntP(config.KeyPort, "p", config.DefaultPort, "MongoDB port (env MONGO_PORT)")
	flags.StringP(config.KeyUser, "u", "", "username (env MONGO_USER)")
	flags.String(config.KeyPassword, "", "password (env MONGO_PASSWORD)")
	flags.String(config.KeyAuthDatabase, config.DefaultAuthDatabase, "authentication database (env MONGO_AUTH_DB)")
	flags.String(config.KeyURI, "", "connection URI, overrides host and credentials (env MONGO_URI)")
	flags.Bool(config.KeyInDocker, false, "run the tools inside a MongoDB Docker container")
	flags.StringP(config.KeyContainerName, "c", "", "container to use (implies --in-docker, auto-detected if empty)")
}

func setupLogging(cfg models.LoggingConfig) error {
	level, err := config.ParseLogLevel(cfg.Level, verbose)
	if err != nil {
		return err
	}
	if quiet {
		level = zerolog.ErrorLevel
	}

	color.NoColor = !isTerminal(os.Stdout)

	var console io.Writer
	if cfg.JSON {
		console = os.Stdout
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05", NoColor: color.NoColor}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		console = output
	}

	writers := []io.Writer{console}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)

	return nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
