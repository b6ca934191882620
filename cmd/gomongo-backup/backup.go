package main

import (
	"github.com/fgeck/gomongo-backup/internal/config"
	"github.com/fgeck/gomongo-backup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Dump a database",
	Long: `Dump a database with mongodump:
1. Validate the options
2. Resolve the Docker container (with --in-docker)
3. Check the tools and the credentials
4. Dump into --out
5. Compress (with --compress zip|targz)
6. Encrypt (with --encrypt)
7. Delete backups older than --retention-days next to --out
8. Send a Telegram notification (if configured)

With --compress or --encrypt the dump directory is replaced by the archive
<out>.zip, <out>.tar.gz or <out>.*.encrypted, so --out must be new or empty.`,
	Example: `  gomongo-backup backup -d shop -o /backups/shop-2024-01-01 --compress targz
  MONGO_ENCRYPTION_KEY=... gomongo-backup backup -d shop -o /backups/shop --encrypt --retention-days 7
  gomongo-backup backup -d shop -o /backups/shop --in-docker`,
	Args: cobra.NoArgs,
	RunE: runBackup,
}

func init() {
	flags := backupCmd.Flags()
	flags.StringP(config.KeyDatabase, "d", "", "database to back up (required)")
	flags.StringP(config.KeyOutput, "o", "", "dump directory, must be new or empty when archiving; archives are written next to it (required)")
	addConnectionFlags(flags)
	flags.String(config.KeyCompression, "none", "compression format: none, zip or targz (env MONGO_COMPRESSION)")
	flags.Int(config.KeyRetentionDays, 0, "delete backups older than this many days, 0 disables (env MONGO_RETENTION_DAYS)")
	flags.Bool(config.KeyEncrypt, false, "encrypt the backup")
	flags.String(config.KeyEncryptionKey, "", "encryption key, at least 16 characters (env MONGO_ENCRYPTION_KEY)")
}

func runBackup(cmd *cobra.Command, args []string) error {
	req, err := parser.Backup()
	if err != nil {
		return report(cmd, configFailure(err))
	}

	log.Info().
		Str("database", req.Database).
		Str("output", req.OutputPath).
		Str("compression", string(req.Compression)).
		Bool("in_docker", req.Container.Enabled).
		Bool("encrypt", req.Encrypt).
		Msg("starting backup")

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	result := runner.New(log.Logger).Backup(ctx, req)
	return report(cmd, result)
}
