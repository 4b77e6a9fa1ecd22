package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationConflictError reports settings that are valid on their own
// but inconsistent together. It aborts generation before any artifact is
// produced.
type ConfigurationConflictError struct {
	// Code identifies the violated rule for programmatic handling.
	Code string `json:"code"`

	// Message is the operator-facing reason.
	Message string `json:"message"`

	// Settings names the conflicting parameters.
	Settings []string `json:"settings"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewConfigurationConflict creates a conflict error naming the settings involved.
func NewConfigurationConflict(code, message string, settings ...string) *ConfigurationConflictError {
	return &ConfigurationConflictError{
		Code:     code,
		Message:  message,
		Settings: settings,
	}
}

// Error implements the error interface.
func (e *ConfigurationConflictError) Error() string {
	if len(e.Settings) == 0 {
		return fmt.Sprintf("configuration conflict: %s", e.Message)
	}
	return fmt.Sprintf("configuration conflict: %s (settings=%s)",
		e.Message, strings.Join(e.Settings, ", "))
}

// Is implements error equality checking for errors.Is.
func (e *ConfigurationConflictError) Is(target error) bool {
	t, ok := target.(*ConfigurationConflictError)
	if !ok {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithSetting appends a conflicting setting name.
func (e *ConfigurationConflictError) WithSetting(name string) *ConfigurationConflictError {
	e.Settings = append(e.Settings, name)
	return e
}

// WithDetail adds a detail field to the error context.
func (e *ConfigurationConflictError) WithDetail(key string, value interface{}) *ConfigurationConflictError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConfigurationConflict returns true if err is or wraps a ConfigurationConflictError.
func IsConfigurationConflict(err error) bool {
	var e *ConfigurationConflictError
	return errors.As(err, &e)
}

// ConflictCode returns the rule code of a conflict error, or "" for any other error.
func ConflictCode(err error) string {
	var e *ConfigurationConflictError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Conflict codes.
const (
	ErrCodeSyslogWithLogpath  = "SYSLOG_WITH_LOGPATH"
	ErrCodeMissingCredentials = "MISSING_ADMIN_CREDENTIALS"
)

// Graph errors.
var (
	ErrUnknownReference = errors.New("unknown resource reference")
	ErrDuplicateRef     = errors.New("duplicate resource reference")
	ErrCycle            = errors.New("circular dependency")
)
