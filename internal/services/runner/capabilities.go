package runner

import (
	"github.com/fgeck/gomongo-backup/internal/services/compression"
	"github.com/fgeck/gomongo-backup/internal/services/connection"
	"github.com/fgeck/gomongo-backup/internal/services/docker"
	"github.com/fgeck/gomongo-backup/internal/services/encryption"
	"github.com/fgeck/gomongo-backup/internal/services/executor"
	"github.com/fgeck/gomongo-backup/internal/services/mongo"
	"github.com/fgeck/gomongo-backup/internal/services/progress"
	"github.com/fgeck/gomongo-backup/internal/services/retention"
	"github.com/fgeck/gomongo-backup/internal/services/telegram"
	"github.com/fgeck/gomongo-backup/internal/services/tools"
	"github.com/rs/zerolog"
)

// Capabilities is the set of collaborators a pipeline runs with.
//
// Executor, Tools and Mongo are always present. The others are optional: a
// nil field is replaced by a no-op that behaves as "not configured".
type Capabilities struct {
	Executor   executor.Executor
	Tools      tools.Service
	Containers docker.Service
	Connection connection.Service
	Mongo      mongo.Service
	Compressor compression.Service
	Encryptor  encryption.Service
	Retention  retention.Service
	Progress   progress.Reporter
	Notifier   telegram.Service
}

// DefaultCapabilities wires the real implementations.
func DefaultCapabilities(logger zerolog.Logger) Capabilities {
	exec := executor.New(logger)

	return Capabilities{
		Executor:   exec,
		Tools:      tools.NewWithExecutor(logger, exec),
		Containers: docker.NewWithExecutor(logger, exec),
		Connection: connection.NewWithExecutor(logger, exec),
		Mongo:      mongo.NewWithExecutor(logger, exec),
		Compressor: compression.New(logger),
		Encryptor:  encryption.New(logger),
		Retention:  retention.New(logger),
		Progress:   progress.NewLogReporter(logger),
		Notifier:   telegram.New(logger),
	}
}

func (c Capabilities) withDefaults(logger zerolog.Logger) Capabilities {
	if c.Executor == nil {
		c.Executor = executor.New(logger)
	}
	if c.Tools == nil {
		c.Tools = tools.NewWithExecutor(logger, c.Executor)
	}
	if c.Mongo == nil {
		c.Mongo = mongo.NewWithExecutor(logger, c.Executor)
	}
	if c.Containers == nil {
		c.Containers = noopContainers{}
	}
	if c.Connection == nil {
		c.Connection = noopConnection{}
	}
	if c.Compressor == nil {
		c.Compressor = noopCompressor{}
	}
	if c.Encryptor == nil {
		c.Encryptor = noopEncryptor{}
	}
	if c.Retention == nil {
		c.Retention = noopRetention{}
	}
	if c.Progress == nil {
		c.Progress = progress.Noop{}
	}
	if c.Notifier == nil {
		c.Notifier = noopNotifier{}
	}
	return c
}
