// Package validation checks backup and restore requests with go-playground/validator.
//
// Field names in messages are taken from the `flag` struct tag so that errors
// point at the command line option the user has to fix, e.g. "--db is required".
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fgeck/gomongo-backup/internal/models"
	"github.com/fgeck/gomongo-backup/internal/services/encryption"
	"github.com/go-playground/validator/v10"
)

// Characters rejected in values that end up on a tool's command line.
const shellMetacharacters = "\"';&|`"

// Custom tags.
const (
	tagNoMetachar          = "nometachar"
	tagRequiredWithUser    = "required_with_user"
	tagRequiredWithEncrypt = "required_with_encrypt"
	tagNotRoot             = "not_root"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single failed rule.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	message string
}

func (e FieldError) Error() string {
	return e.message
}

// Errors collects every failed rule of a request.
type Errors []FieldError

func (ve Errors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}

	messages := make([]string, 0, len(ve))
	for _, fe := range ve {
		messages = append(messages, fe.message)
	}
	return strings.Join(messages, "; ")
}

// GetValidator returns the shared validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(flagName)

		// Registration only fails for an empty tag or nil func.
		_ = validate.RegisterValidation(tagNoMetachar, noMetachar)

		validate.RegisterStructValidation(connectionRules, models.ConnectionConfig{})
		validate.RegisterStructValidation(backupRules, models.BackupRequest{})
	})

	return validate
}

// ValidateBackup checks a backup request.
func ValidateBackup(req *models.BackupRequest) error {
	if ve := ValidateStruct(req); ve != nil {
		return models.NewValidationError("invalid backup options", ve)
	}
	return nil
}

// ValidateRestore checks a restore request.
func ValidateRestore(req *models.RestoreRequest) error {
	if ve := ValidateStruct(req); ve != nil {
		return models.NewValidationError("invalid restore options", ve)
	}
	return nil
}

// ValidateStruct validates s and returns nil or the translated field errors.
func ValidateStruct(s any) Errors {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return Errors{{Field: "unknown", Tag: "unknown", message: err.Error()}}
	}

	out := make(Errors, len(validationErrs))
	for i, fe := range validationErrs {
		out[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			message: translateError(fe),
		}
	}
	return out
}

func flagName(field reflect.StructField) string {
	if name := field.Tag.Get("flag"); name != "" {
		return "--" + name
	}
	return field.Name
}

func noMetachar(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), shellMetacharacters)
}

func connectionRules(sl validator.StructLevel) {
	conn, ok := sl.Current().Interface().(models.ConnectionConfig)
	if !ok {
		return
	}

	if conn.URI == "" && conn.Username != "" && conn.Password == "" {
		sl.ReportError(conn.Password, "--password", "Password", tagRequiredWithUser, "")
	}
}

func backupRules(sl validator.StructLevel) {
	req, ok := sl.Current().Interface().(models.BackupRequest)
	if !ok {
		return
	}

	// The dump directory is removed once archived, so it must not be "." or "/".
	if strings.TrimSpace(req.OutputPath) != "" {
		out := filepath.Clean(req.OutputPath)
		if out == "." || filepath.Dir(out) == out {
			sl.ReportError(req.OutputPath, "--out", "OutputPath", tagNotRoot, "")
		}
	}

	if !req.Encrypt {
		return
	}

	switch {
	case strings.TrimSpace(req.EncryptionKey) == "":
		sl.ReportError(req.EncryptionKey, "--encryption-key", "EncryptionKey", tagRequiredWithEncrypt, "")
	case utf8.RuneCountInString(req.EncryptionKey) < encryption.MinKeyLength:
		sl.ReportError(req.EncryptionKey, "--encryption-key", "EncryptionKey", "min", fmt.Sprint(encryption.MinKeyLength))
	}
}

var errorMessageTemplates = map[string]string{
	"required":             "%s is required",
	tagNoMetachar:          "%s must not contain shell metacharacters (\" ' ; & | `)",
	tagRequiredWithUser:    "%s is required when --user is set without --uri",
	tagRequiredWithEncrypt: "%s is required with --encrypt (use --encryption-key or MONGO_ENCRYPTION_KEY)",
	tagNotRoot:             "%s must name a dedicated directory, not the current or root directory",
}

var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
}

func translateError(fe validator.FieldError) string {
	field := fe.Field()
	tag := fe.Tag()
	param := fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}
	if tag == "min" {
		return fmt.Sprintf("%s must be at least %s characters", field, param)
	}
	return fmt.Sprintf("%s failed %s validation", field, tag)
}
