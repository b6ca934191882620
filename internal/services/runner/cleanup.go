package runner

import (
	"github.com/fgeck/gomongo-backup/internal/fsutil"
	"github.com/rs/zerolog"
)

// scratch tracks temporary files and directories owned by one pipeline run.
type scratch struct {
	logger zerolog.Logger
	paths  []string
}

func newScratch(logger zerolog.Logger) *scratch {
	return &scratch{logger: logger}
}

func (s *scratch) add(path string) {
	s.paths = append(s.paths, path)
}

// cleanup removes every tracked path, newest first. Failures are logged.
func (s *scratch) cleanup() {
	for i := len(s.paths) - 1; i >= 0; i-- {
		path := s.paths[i]
		if err := fsutil.RemoveIfExists(path); err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to remove temporary path")
			continue
		}
		s.logger.Debug().Str("path", path).Msg("removed temporary path")
	}
	s.paths = nil
}
