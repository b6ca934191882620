package mongo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fgeck/gomongo-backup/internal/models"
)

type classification struct {
	kind     models.ErrorKind
	patterns []string
	message  string
}

// Checked in order against the lower-cased tool output.
var classifications = []classification{
	{
		kind:     models.KindAuthentication,
		patterns: []string{"authentication failed", "auth failed", "unauthorized", "not authorized", "login failed"},
		message:  "authentication failed, check username, password and authentication database",
	},
	{
		kind: models.KindConnectivity,
		patterns: []string{
			"connection refused", "connect failed", "econnrefused", "couldn't connect",
			"timed out", "getaddrinfo", "unknown host", "nodename nor servname",
		},
		message: "cannot connect to MongoDB, check host, port and that the server is running",
	},
	{
		kind:     models.KindPermission,
		patterns: []string{"not permitted", "permission denied"},
		message:  "permission denied, check file system and database privileges",
	},
}

var databaseNotFoundPattern = regexp.MustCompile(`database\b.*\bnot found`)

// Classify maps a failed tool run onto an error category.
//
// This is a substring heuristic over stdout and stderr, not a parser of the
// tools' output. Output matching none of the known families yields a generic
// error carrying the exit code.
func Classify(tool string, result *models.ProcessResult) *models.OperationError {
	opErr := &models.OperationError{}
	if result != nil {
		opErr.ExitCode = result.ExitCode
		opErr.Stdout = result.Stdout
		opErr.Stderr = result.Stderr
	}

	output := strings.ToLower(result.Output())

	for _, c := range classifications {
		for _, pattern := range c.patterns {
			if strings.Contains(output, pattern) {
				opErr.Kind = c.kind
				opErr.Message = fmt.Sprintf("%s: %s", tool, c.message)
				return opErr
			}
		}
	}

	if databaseNotFoundPattern.MatchString(output) {
		opErr.Kind = models.KindNotFound
		opErr.Message = fmt.Sprintf("%s: database not found", tool)
		return opErr
	}

	opErr.Kind = models.KindProcess
	opErr.Message = fmt.Sprintf("%s failed with exit code %d (use --verbose for details)", tool, opErr.ExitCode)
	return opErr
}
