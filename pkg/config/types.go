package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

// Parameters is the document shape of a parameter file: an optional target
// name and the mongodb settings bag.
type Parameters struct {
	// Target names the host the parameters are for. It keys render history
	// and stored facts.
	Target string `json:"target,omitempty"`

	MongoDB engine.Input `json:"mongodb"`
}

// ParsedParameters is the outcome of parsing one or more parameter sources.
// Errors holds schema and struct validation failures; when it is non-empty
// Input must not be used.
type ParsedParameters struct {
	Target      string
	Input       engine.Input
	SourceFiles []string
	ParsedAt    time.Time
	Errors      []ValidationError
}

// HasErrors reports whether parsing produced validation errors.
func (p *ParsedParameters) HasErrors() bool {
	return len(p.Errors) > 0
}

// Err joins the validation errors into one error, or returns nil.
func (p *ParsedParameters) Err() error {
	if !p.HasErrors() {
		return nil
	}
	errs := make([]error, len(p.Errors))
	for i := range p.Errors {
		errs[i] = p.Errors[i]
	}
	return errors.Join(errs...)
}

// ValidationError represents one problem found in a parameter source.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// StarlarkResult represents the result of Starlark script execution.
type StarlarkResult struct {
	// Output holds the script's exported globals.
	Output map[string]interface{} `json:"output"`

	// Logs holds lines the script printed.
	Logs []string `json:"logs,omitempty"`

	ExecutionTime time.Duration `json:"execution_time"`

	Error string `json:"error,omitempty"`
}
