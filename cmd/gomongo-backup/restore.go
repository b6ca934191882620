package main

import (
	"github.com/fgeck/gomongo-backup/internal/config"
	"github.com/fgeck/gomongo-backup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a database from a backup",
	Long: `Restore a database with mongorestore. --from may be a dump directory,
a .zip or .tar.gz archive, or any of these with an .encrypted suffix.
Encrypted backups are decrypted with --encryption-key or MONGO_ENCRYPTION_KEY.
Temporary files are removed whether the restore succeeds or not.`,
	Example: `  gomongo-backup restore -d shop -f /backups/shop-2024-01-01.tar.gz --drop
  gomongo-backup restore -d shop -f /backups/shop.zip.encrypted --encryption-key ...`,
	Args: cobra.NoArgs,
	RunE: runRestore,
}

func init() {
	flags := restoreCmd.Flags()
	flags.StringP(config.KeyDatabase, "d", "", "database to restore into (required)")
	flags.StringP(config.KeySource, "f", "", "backup directory or archive (required)")
	addConnectionFlags(flags)
	flags.Bool(config.KeyDrop, false, "drop each collection before restoring it")
	flags.String(config.KeyCompression, "none", "archive format: none (detect from the name), zip or targz")
	flags.String(config.KeyEncryptionKey, "", "decryption key (env MONGO_ENCRYPTION_KEY)")
}

func runRestore(cmd *cobra.Command, args []string) error {
	req, err := parser.Restore()
	if err != nil {
		return report(cmd, configFailure(err))
	}

	log.Info().
		Str("database", req.Database).
		Str("source", req.SourcePath).
		Bool("drop", req.Drop).
		Bool("in_docker", req.Container.Enabled).
		Msg("starting restore")

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	result := runner.New(log.Logger).Restore(ctx, req)
	return report(cmd, result)
}
