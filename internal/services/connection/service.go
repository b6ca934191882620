// Package connection checks MongoDB reachability with a shell ping before a pipeline runs.
package connection

import (
	"context"
	"errors"
	"net"
	"net/url"
	"regexp"
	"strconv"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/executor"
	"github.com/fgeck/gomongo-backup/internal/services/mongo"
	"github.com/rs/zerolog"
)

// Shell binaries, in order of preference.
const (
	ShellMongosh = "mongosh"
	ShellLegacy  = "mongo"
)

const pingScript = "db.adminCommand('ping')"

var uriPasswordPattern = regexp.MustCompile(`://([^:]+):([^@]+)@`)

// Service defines the interface for connection checks.
type Service interface {
	Validate(ctx context.Context, conn models.ConnectionConfig, container string) error
}

// Impl implements the connection Service interface.
type Impl struct {
	executor executor.Executor
	logger   zerolog.Logger
}

// New creates a new connection service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: executor.New(logger),
		logger:   logger,
	}
}

// NewWithExecutor creates a new connection service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, exec executor.Executor) *Impl {
	return &Impl{
		executor: exec,
		logger:   logger,
	}
}

// Validate pings the server. When container is set the shell runs inside it.
// Without any shell installed the check is skipped and nil is returned.
func (s *Impl) Validate(ctx context.Context, conn models.ConnectionConfig, container string) error {
	shell, err := s.findShell(ctx, container)
	if err != nil {
		return err
	}
	if shell == "" {
		s.logger.Warn().Str("container", container).Msg("no MongoDB shell found, skipping connection check")
		return nil
	}

	uri := BuildURI(conn, container != "")
	s.logger.Info().Str("shell", shell).Str("uri", SanitizeURI(uri)).Msg("checking MongoDB connection")

	args := []string{uri, "--eval", pingScript, "--quiet"}
	result, err := s.executor.Run(ctx, s.command(container, shell, args...))
	if err != nil {
		if errors.Is(err, executor.ErrToolNotFound) {
			return models.NewToolUnavailableError(shell+" is not installed or not in PATH", err)
		}
		return err
	}

	if result.ExitCode != 0 {
		return mongo.Classify(shell, result)
	}

	s.logger.Info().Dur("duration", result.Duration).Msg("MongoDB connection OK")
	return nil
}

// findShell returns the first shell answering --version, or "" if none does.
func (s *Impl) findShell(ctx context.Context, container string) (string, error) {
	for _, shell := range []string{ShellMongosh, ShellLegacy} {
		result, err := s.executor.Run(ctx, s.command(container, shell, "--version"))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			s.logger.Debug().Err(err).Str("shell", shell).Msg("shell not available")
			continue
		}
		if result.ExitCode == 0 {
			return shell, nil
		}
	}
	return "", nil
}

func (s *Impl) command(container, name string, args ...string) executor.Command {
	if container == "" {
		return executor.Command{Name: name, Args: args}
	}
	return executor.Command{Name: mongo.ToolDocker, Args: append([]string{"exec", container, name}, args...)}
}

// BuildURI returns the user URI or assembles one from the discrete settings.
// Inside a container the server is addressed as localhost.
func BuildURI(conn models.ConnectionConfig, inContainer bool) string {
	if conn.URI != "" {
		return conn.URI
	}

	host := conn.Host
	if host == "" || inContainer {
		host = mongo.DefaultHost
	}
	port := conn.Port
	if port == 0 {
		port = mongo.DefaultPort
	}

	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/",
	}

	if conn.Username != "" {
		if conn.Password != "" {
			u.User = url.UserPassword(conn.Username, conn.Password)
		} else {
			u.User = url.User(conn.Username)
		}

		authDB := conn.AuthDatabase
		if authDB == "" {
			authDB = mongo.DefaultAuthDatabase
		}
		u.RawQuery = url.Values{"authSource": []string{authDB}}.Encode()
	}

	return u.String()
}

// SanitizeURI masks the password of a connection string.
func SanitizeURI(uri string) string {
	return uriPasswordPattern.ReplaceAllString(uri, "://$1:****@")
}
