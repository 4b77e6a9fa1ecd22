package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Extensions lists the file extensions the loader reads.
var Extensions = []string{".rego", ".json"}

// Loader reads site policies from files and directories.
//
// A .rego file is one policy named after the file. Its leading comment
// block is the description, except for "key: value" directives:
//
//	# Replica sets must listen on a private network.
//	# severity: error
//	# tags: network, replication
//	package site.replset
//
// A .json file holds a Policy object with name and rego set.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// cacheEntry is reused while the file's size and mtime are unchanged.
type cacheEntry struct {
	modTime time.Time
	size    int64
	policy  *Policy
}

// NewLoader creates a loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cacheEntry),
	}
}

// LoadFromPaths loads every path. A missing path or a bad file named
// directly is an error; bad files found in a directory are skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}

		if !info.IsDir() {
			p, err := l.load(path, info)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *p)
			continue
		}

		found, err := l.loadDir(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}
		policies = append(policies, found...)
	}

	l.logger.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("Site policies loaded")
	return policies, nil
}

func (l *Loader) loadDir(ctx context.Context, dir string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		p, err := l.load(path, info)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, *p)
		return nil
	})
	return policies, err
}

func isPolicyFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// load parses path unless an unchanged copy is cached.
func (l *Loader) load(path string, info fs.FileInfo) (*Policy, error) {
	l.mu.Lock()
	entry, ok := l.cache[path]
	l.mu.Unlock()
	if ok && entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
		return entry.policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p *Policy
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rego":
		p, err = parseRego(path, data)
	case ".json":
		p, err = parseJSON(path, data)
	default:
		err = fmt.Errorf("unsupported policy file %s", path)
	}
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), policy: p}
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Str("severity", string(p.Severity)).Msg("Policy file parsed")
	return p, nil
}

func parseRego(path string, data []byte) (*Policy, error) {
	h := parseHeader(string(data))

	p := &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Description: h.description,
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        h.tags,
		Source:      path,
	}
	if h.severity != "" {
		p.Severity = Severity(h.severity)
	}
	if !p.Severity.Valid() {
		return nil, fmt.Errorf("%s: unknown severity %q", path, p.Severity)
	}
	return p, nil
}

func parseJSON(path string, data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	switch {
	case p.Name == "":
		return nil, fmt.Errorf("%s: policy has no name", path)
	case p.Rego == "":
		return nil, fmt.Errorf("%s: policy %s has no rego", path, p.Name)
	case p.Severity == "":
		p.Severity = SeverityWarning
	case !p.Severity.Valid():
		return nil, fmt.Errorf("%s: unknown severity %q", path, p.Severity)
	}
	p.Source = path
	return &p, nil
}

type header struct {
	description string
	severity    string
	tags        []string
}

// parseHeader reads the first comment block of a Rego file.
func parseHeader(content string) header {
	var h header
	var desc []string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" && (len(desc) > 0 || h.severity != "" || h.tags != nil) {
				break
			}
			continue
		}

		text := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		key, value, isDirective := strings.Cut(text, ":")
		switch {
		case isDirective && strings.EqualFold(strings.TrimSpace(key), "severity"):
			h.severity = strings.ToLower(strings.TrimSpace(value))
		case isDirective && strings.EqualFold(strings.TrimSpace(key), "tags"):
			for _, tag := range strings.Split(value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					h.tags = append(h.tags, tag)
				}
			}
		case text != "":
			desc = append(desc, text)
		}
	}

	h.description = strings.Join(desc, " ")
	return h
}

// ClearCache forgets every parsed file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]cacheEntry)
	l.mu.Unlock()
}
