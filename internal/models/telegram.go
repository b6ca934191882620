package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Operation names used in notifications.
const (
	OperationBackup  = "backup"
	OperationRestore = "restore"
)

// Notification holds the data for a pipeline notification.
type Notification struct {
	Operation string
	Success   bool
	Database  string
	Host      string
	StartTime time.Time
	Duration  time.Duration

	// Backup details (if successful).
	ArtifactPath     string
	ArtifactBytes    int64
	RetentionDeleted int

	// Error info (if failed).
	ErrorMessage string
	FailedStage  string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
