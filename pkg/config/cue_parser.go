package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/rs/zerolog"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

// Parser turns parameter files and scripts into an engine.Input. Every
// source is unified into one CUE value, so two files setting the same key
// to different values is an error rather than last-wins.
type Parser struct {
	// cue.Context is not safe for concurrent use.
	mu sync.Mutex

	ctx       *cue.Context
	schemas   *SchemaRegistry
	evaluator *StarlarkEvaluator
	logger    zerolog.Logger
}

// NewParser creates a parser with the built-in schemas.
func NewParser(logger zerolog.Logger) *Parser {
	ctx := cuecontext.New()
	return &Parser{
		ctx:       ctx,
		schemas:   NewSchemaRegistry(ctx),
		evaluator: NewStarlarkEvaluator(30 * time.Second),
		logger:    logger.With().Str("component", "config-parser").Logger(),
	}
}

// Schemas returns the schema registry.
func (p *Parser) Schemas() *SchemaRegistry {
	return p.schemas
}

// IsParameterFile reports whether path has an extension Parse accepts.
func IsParameterFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue", ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Parse reads and unifies the given files and directories. A directory
// contributes every parameter file directly inside it, in name order.
// Syntax and schema problems are returned in ParsedParameters.Errors; the
// error return is reserved for sources that cannot be read at all.
func (p *Parser) Parse(ctx context.Context, sources []string) (*ParsedParameters, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	files, err := expandSources(sources)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no parameter files found in %s", strings.Join(sources, ", "))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var unified cue.Value
	var parseErrors []ValidationError

	for _, file := range files {
		val, errs := p.loadFile(file)
		if len(errs) > 0 {
			parseErrors = append(parseErrors, errs...)
			continue
		}
		if unified.Exists() {
			unified = unified.Unify(val)
		} else {
			unified = val
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedParameters{SourceFiles: files, ParsedAt: time.Now(), Errors: parseErrors}, nil
	}

	parsed := p.extract(unified, files)
	p.logger.Debug().
		Strs("files", files).
		Int("errors", len(parsed.Errors)).
		Msg("Parameters parsed")
	return parsed, nil
}

func expandSources(sources []string) ([]string, error) {
	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if !info.IsDir() {
			files = append(files, source)
			continue
		}

		entries, err := os.ReadDir(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", source, err)
		}
		var dirFiles []string
		for _, e := range entries {
			if !e.IsDir() && IsParameterFile(e.Name()) {
				dirFiles = append(dirFiles, filepath.Join(source, e.Name()))
			}
		}
		sort.Strings(dirFiles)
		files = append(files, dirFiles...)
	}
	return files, nil
}

// loadFile compiles one file by extension.
func (p *Parser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	var val cue.Value
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		val = p.ctx.CompileBytes(content, cue.Filename(path))
	case ".yaml", ".yml":
		f, err := cueyaml.Extract(path, content)
		if err != nil {
			return cue.Value{}, convertCUEErrors(err)
		}
		val = p.ctx.BuildFile(f)
	case ".json":
		expr, err := cuejson.Extract(path, content)
		if err != nil {
			return cue.Value{}, convertCUEErrors(err)
		}
		val = p.ctx.BuildExpr(expr)
	default:
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  "unsupported file type (want .cue, .yaml, .yml or .json)",
			Severity: "error",
		}}
	}

	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// extract unifies val with #Parameters, decodes it and applies the
// struct-tag checks on the settings bag.
func (p *Parser) extract(val cue.Value, sourceFiles []string) *ParsedParameters {
	parsed := &ParsedParameters{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	schema, _ := p.schemas.GetSchema(SchemaParameters)
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		parsed.Errors = convertCUEErrors(err)
		return parsed
	}

	var params Parameters
	if err := unified.Decode(&params); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Message:  fmt.Sprintf("failed to decode parameters: %v", err),
			Severity: "error",
		})
		return parsed
	}

	if err := engine.ValidateInput(params.MongoDB); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     "mongodb",
			Message:  err.Error(),
			Severity: "error",
		})
		return parsed
	}

	parsed.Target = params.Target
	parsed.Input = params.MongoDB
	return parsed
}

// ParseInline parses CUE source held in memory.
func (p *Parser) ParseInline(ctx context.Context, content string) (*ParsedParameters, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	val := p.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &ParsedParameters{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      convertCUEErrors(err),
		}, nil
	}

	return p.extract(val, []string{"inline"}), nil
}

// ParseScript runs a Starlark parameter script. The script sees a global
// facts dict with architecture and os_family, plus the default() and
// is_32bit() builtins, and must assign a dict to params. It may also
// assign a string to target. The result goes through the same schema as
// parameter files.
func (p *Parser) ParseScript(ctx context.Context, path string, facts engine.PlatformFacts) (*ParsedParameters, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	input := map[string]interface{}{
		"facts": map[string]interface{}{
			"architecture": facts.Architecture,
			"os_family":    facts.OSFamily,
		},
	}
	for name, fn := range scriptBuiltins(facts) {
		input[name] = fn
	}

	result, err := p.evaluator.Evaluate(ctx, path, string(script), input)
	if err != nil {
		return nil, err
	}
	for _, line := range result.Logs {
		p.logger.Debug().Str("script", path).Msg(line)
	}

	params, ok := result.Output["params"].(map[string]interface{})
	if !ok {
		return &ParsedParameters{
			SourceFiles: []string{path},
			ParsedAt:    time.Now(),
			Errors: []ValidationError{{
				File:     path,
				Message:  "script must assign a dict to params",
				Severity: "error",
			}},
		}, nil
	}

	doc := map[string]interface{}{"mongodb": params}
	if target, ok := result.Output["target"].(string); ok {
		doc["target"] = target
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	val := p.ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode script output: %w", err)
	}
	return p.extract(val, []string{path}), nil
}

// convertCUEErrors flattens a CUE error into positioned ValidationErrors.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}
