// Package config resolves command line flags, MONGO_* environment variables
// and an optional YAML file into backup and restore requests.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Configuration keys. They double as flag names.
const (
	KeyDatabase         = "db"
	KeyOutput           = "out"
	KeySource           = "from"
	KeyHost             = "host"
	KeyPort             = "port"
	KeyUser             = "user"
	KeyPassword         = "password"
	KeyAuthDatabase     = "auth-db"
	KeyURI              = "uri"
	KeyInDocker         = "in-docker"
	KeyContainerName    = "container-name"
	KeyCompression      = "compress"
	KeyRetentionDays    = "retention-days"
	KeyEncrypt          = "encrypt"
	KeyEncryptionKey    = "encryption-key"
	KeyDrop             = "drop"
	KeyJSON             = "json"
	KeyLogFile          = "log-file"
	KeyLogLevel         = "log-level"
	KeyTelegramBotToken = "telegram.bot_token"
	KeyTelegramChatID   = "telegram.chat_id"
)

// Defaults.
const (
	DefaultHost         = "localhost"
	DefaultPort         = 27017
	DefaultAuthDatabase = "admin"
	DefaultLogLevel     = "info"
)

var envBindings = map[string]string{
	KeyHost:             "MONGO_HOST",
	KeyPort:             "MONGO_PORT",
	KeyUser:             "MONGO_USER",
	KeyPassword:         "MONGO_PASSWORD",
	KeyAuthDatabase:     "MONGO_AUTH_DB",
	KeyURI:              "MONGO_URI",
	KeyCompression:      "MONGO_COMPRESSION",
	KeyRetentionDays:    "MONGO_RETENTION_DAYS",
	KeyEncryptionKey:    "MONGO_ENCRYPTION_KEY",
	KeyLogFile:          "MONGO_LOG_FILE",
	KeyLogLevel:         "MONGO_LOG_LEVEL",
	KeyTelegramBotToken: "MONGO_TELEGRAM_BOT_TOKEN",
	KeyTelegramChatID:   "MONGO_TELEGRAM_CHAT_ID",
}

// Parser handles configuration resolution.
// Precedence is flag, then environment, then config file, then default.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault(KeyHost, DefaultHost)
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyAuthDatabase, DefaultAuthDatabase)
	v.SetDefault(KeyCompression, string(models.CompressionNone))
	v.SetDefault(KeyLogLevel, DefaultLogLevel)

	for key, env := range envBindings {
		// BindEnv only fails without a key.
		_ = v.BindEnv(key, env)
	}

	return &Parser{v: v}
}

// BindFlags binds a command's flags to their configuration keys.
func (p *Parser) BindFlags(flags *pflag.FlagSet) error {
	if err := p.v.BindPFlags(flags); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) error {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	return nil
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) error {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Backup builds a backup request from the resolved configuration.
func (p *Parser) Backup() (models.BackupRequest, error) {
	req := models.BackupRequest{
		Database:      p.v.GetString(KeyDatabase),
		OutputPath:    p.path(KeyOutput),
		Container:     p.container(),
		Encrypt:       p.v.GetBool(KeyEncrypt),
		EncryptionKey: p.v.GetString(KeyEncryptionKey),
	}

	var err error
	if req.Connection, err = p.connection(); err != nil {
		return req, err
	}
	if req.Compression, err = p.compression(); err != nil {
		return req, err
	}
	if req.RetentionDays, err = p.integer(KeyRetentionDays); err != nil {
		return req, err
	}
	if req.Notify, err = p.Telegram(); err != nil {
		return req, err
	}

	return req, nil
}

// Restore builds a restore request from the resolved configuration.
func (p *Parser) Restore() (models.RestoreRequest, error) {
	req := models.RestoreRequest{
		Database:      p.v.GetString(KeyDatabase),
		SourcePath:    p.path(KeySource),
		Container:     p.container(),
		Drop:          p.v.GetBool(KeyDrop),
		EncryptionKey: p.v.GetString(KeyEncryptionKey),
	}

	var err error
	if req.Connection, err = p.connection(); err != nil {
		return req, err
	}
	if req.Compression, err = p.compression(); err != nil {
		return req, err
	}
	if req.Notify, err = p.Telegram(); err != nil {
		return req, err
	}

	return req, nil
}

// Connection returns the resolved connection settings.
func (p *Parser) Connection() (models.ConnectionConfig, error) {
	return p.connection()
}

// Container returns the resolved in-docker settings.
func (p *Parser) Container() models.ContainerConfig {
	return p.container()
}

// Logging returns the resolved logging settings.
func (p *Parser) Logging() models.LoggingConfig {
	return models.LoggingConfig{
		Level: p.v.GetString(KeyLogLevel),
		File:  p.expandEnv(p.v.GetString(KeyLogFile)),
		JSON:  p.v.GetBool(KeyJSON),
	}
}

// Telegram returns the notification settings, or nil when none are configured.
func (p *Parser) Telegram() (*models.TelegramConfig, error) {
	cfg := &models.TelegramConfig{
		BotToken: p.expandEnv(p.v.GetString(KeyTelegramBotToken)),
		ChatID:   p.expandEnv(p.v.GetString(KeyTelegramChatID)),
	}

	switch {
	case cfg.BotToken == "" && cfg.ChatID == "":
		return nil, nil
	case cfg.BotToken == "":
		return nil, models.NewValidationError("telegram.bot_token is required when telegram is configured", nil)
	case cfg.ChatID == "":
		return nil, models.NewValidationError("telegram.chat_id is required when telegram is configured", nil)
	}

	return cfg, nil
}

func (p *Parser) connection() (models.ConnectionConfig, error) {
	port, err := p.integer(KeyPort)
	if err != nil {
		return models.ConnectionConfig{}, err
	}

	return models.ConnectionConfig{
		Host:         p.v.GetString(KeyHost),
		Port:         port,
		Username:     p.v.GetString(KeyUser),
		Password:     p.v.GetString(KeyPassword),
		AuthDatabase: p.v.GetString(KeyAuthDatabase),
		URI:          p.v.GetString(KeyURI),
	}, nil
}

// container enables container mode for --in-docker or an explicit container name.
func (p *Parser) container() models.ContainerConfig {
	name := strings.TrimSpace(p.v.GetString(KeyContainerName))
	return models.ContainerConfig{
		Enabled: p.v.GetBool(KeyInDocker) || name != "",
		Name:    name,
	}
}

func (p *Parser) compression() (models.CompressionFormat, error) {
	format, err := models.ParseCompressionFormat(p.v.GetString(KeyCompression))
	if err != nil {
		return format, models.NewValidationError("invalid --compress value", err)
	}
	return format, nil
}

// integer reads key strictly, so a malformed environment value is an error
// instead of a silent zero.
func (p *Parser) integer(key string) (int, error) {
	raw := strings.TrimSpace(p.v.GetString(key))
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(fmt.Sprintf("--%s must be an integer, got %q", key, raw), err)
	}
	return n, nil
}

// path reads a filesystem path, expanding variables and cleaning it.
// Trailing separators from shell completion are dropped.
func (p *Parser) path(key string) string {
	raw := p.expandEnv(p.v.GetString(key))
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	return filepath.Clean(raw)
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// ParseLogLevel maps a level name onto a zerolog level. Verbose forces debug.
func ParseLogLevel(level string, verbose bool) (zerolog.Level, error) {
	if verbose {
		return zerolog.DebugLevel, nil
	}

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info", "information":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "critical", "fatal":
		return zerolog.FatalLevel, nil
	case "none", "off", "disabled":
		return zerolog.Disabled, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}
