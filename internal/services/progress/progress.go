// Package progress reports pipeline status while long running stages execute.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// Reporter receives stage status messages.
type Reporter interface {
	Status(stage, message string)
}

// LogReporter writes status messages to a zerolog logger.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a reporter that logs at info level.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Status logs the message tagged with its stage.
func (r *LogReporter) Status(stage, message string) {
	r.logger.Info().Str("stage", stage).Msg(message)
}

// Noop discards all status messages.
type Noop struct{}

// Status does nothing.
func (Noop) Status(string, string) {}

// StartDirPoller reports the growing size of path every interval until the
// returned stop function is called or ctx is done. Stop is idempotent and
// returns any panic raised by the poller as an error.
func StartDirPoller(ctx context.Context, stage, path string, interval time.Duration, reporter Reporter) func() error {
	pollCtx, cancel := context.WithCancel(ctx)

	var wg conc.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		last := int64(-1)
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				size, err := fsutil.DirSize(path)
				if err != nil || size == last {
					continue
				}
				last = size
				reporter.Status(stage, fmt.Sprintf("%s written", humanize.Bytes(uint64(size))))
			}
		}
	})

	var once sync.Once
	var stopErr error
	return func() error {
		once.Do(func() {
			cancel()
			if recovered := wg.WaitAndRecover(); recovered != nil {
				stopErr = recovered.AsError()
			}
		})
		return stopErr
	}
}
