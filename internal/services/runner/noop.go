package runner

import (
	"context"
	"errors"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/encryption"
)

var (
	errCompressionNotConfigured = errors.New("compression is not configured")
	errEncryptionNotConfigured  = errors.New("encryption is not configured")
)

type noopContainers struct{}

func (noopContainers) Detect(context.Context) ([]string, error) {
	return nil, nil
}

func (noopContainers) Resolve(context.Context) (string, error) {
	return "", models.NewContainerResolutionError("container detection is not configured, specify --container-name", nil)
}

func (noopContainers) Validate(context.Context, string) error {
	return nil
}

func (noopContainers) RequireBinaries(context.Context, string, ...string) error {
	return nil
}

type noopConnection struct{}

func (noopConnection) Validate(context.Context, models.ConnectionConfig, string) error {
	return nil
}

type noopCompressor struct{}

func (noopCompressor) Compress(context.Context, string, string, models.CompressionFormat) (string, error) {
	return "", errCompressionNotConfigured
}

func (noopCompressor) Decompress(context.Context, string, string, models.CompressionFormat) error {
	return errCompressionNotConfigured
}

func (noopCompressor) DetectFormat(string) models.CompressionFormat {
	return models.CompressionNone
}

type noopEncryptor struct{}

func (noopEncryptor) Encrypt(context.Context, string, string, string, encryption.ProgressFunc) (string, error) {
	return "", errEncryptionNotConfigured
}

func (noopEncryptor) Decrypt(context.Context, string, string, string, encryption.ProgressFunc) error {
	return errEncryptionNotConfigured
}

func (noopEncryptor) IsEncrypted(string) bool {
	return false
}

func (noopEncryptor) ValidateKey(string) error {
	return nil
}

type noopRetention struct{}

func (noopRetention) Cleanup(context.Context, string, models.RetentionPolicy) (*models.RetentionReport, error) {
	return &models.RetentionReport{Message: "retention is not configured"}, nil
}

type noopNotifier struct{}

func (noopNotifier) SendNotification(context.Context, models.TelegramConfig, models.Notification) (*models.TelegramResult, error) {
	return &models.TelegramResult{}, nil
}
