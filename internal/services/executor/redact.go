package executor

import "regexp"

const redacted = "****"

var (
	passwordFlagPattern   = regexp.MustCompile(`(--password(?:=|\s+))("[^"]*"|'[^']*'|\S+)`)
	uriCredentialsPattern = regexp.MustCompile(`(mongodb(?:\+srv)?://[^:/@\s]+:)[^@\s]+@`)
)

// Redact masks passwords in a command line or output line.
func Redact(s string) string {
	s = passwordFlagPattern.ReplaceAllString(s, "${1}"+redacted)
	return uriCredentialsPattern.ReplaceAllString(s, "${1}"+redacted+"@")
}
