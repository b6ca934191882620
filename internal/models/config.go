// Package models contains the data structures used throughout gomongo-backup.
package models

import (
	"fmt"
	"strings"
)

// CompressionFormat selects the archive format of a backup artifact.
type CompressionFormat string

// Supported compression formats.
const (
	CompressionNone  CompressionFormat = "none"
	CompressionZip   CompressionFormat = "zip"
	CompressionTarGz CompressionFormat = "targz"
)

// ParseCompressionFormat converts user input into a CompressionFormat.
func ParseCompressionFormat(s string) (CompressionFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zip":
		return CompressionZip, nil
	case "targz", "tar.gz", "tar-gz", "tgz":
		return CompressionTarGz, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression format %q (expected none, zip or targz)", s)
	}
}

// ConnectionConfig describes how to reach the MongoDB server.
// When URI is set the host, port and credential fields are ignored.
type ConnectionConfig struct {
	Host         string `flag:"host" validate:"omitempty,nometachar"`
	Port         int    `flag:"port" validate:"gte=0,lte=65535"`
	Username     string `flag:"user" validate:"omitempty,nometachar"`
	Password     string `flag:"password"`
	AuthDatabase string `flag:"auth-db" validate:"omitempty,nometachar"`
	URI          string `flag:"uri"`
}

// HasCredentials reports whether the connection carries credentials worth
// validating before a dump or restore.
func (c ConnectionConfig) HasCredentials() bool {
	return c.Username != "" || c.URI != ""
}

// ContainerConfig holds the in-docker settings.
type ContainerConfig struct {
	Enabled bool
	Name    string `flag:"container-name" validate:"omitempty,nometachar"` // empty means auto-detect
}

// BackupRequest holds everything needed for a single backup run.
type BackupRequest struct {
	Database      string            `flag:"db" validate:"required,nometachar"`
	OutputPath    string            `flag:"out" validate:"required"`
	Connection    ConnectionConfig  // host and credentials, or a URI
	Container     ContainerConfig   // in-docker mode
	Compression   CompressionFormat `flag:"compress" validate:"omitempty,oneof=none zip targz"`
	RetentionDays int               `flag:"retention-days"` // <= 0 disables retention
	Encrypt       bool              `flag:"encrypt"`
	EncryptionKey string            `flag:"encryption-key"`
	Notify        *TelegramConfig   // nil if not configured
}

// RestoreRequest holds everything needed for a single restore run.
type RestoreRequest struct {
	Database      string            `flag:"db" validate:"required,nometachar"`
	SourcePath    string            `flag:"from" validate:"required"`
	Connection    ConnectionConfig  // host and credentials, or a URI
	Container     ContainerConfig   // in-docker mode
	Drop          bool              `flag:"drop"`
	Compression   CompressionFormat `flag:"compress" validate:"omitempty,oneof=none zip targz"` // none means auto-detect
	EncryptionKey string            `flag:"encryption-key"`
	Notify        *TelegramConfig   // nil if not configured
}

// LoggingConfig holds the resolved logging settings.
type LoggingConfig struct {
	Level string
	File  string
	JSON  bool
}
