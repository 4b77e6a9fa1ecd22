package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func loadOne(t *testing.T, l *Loader, path string) (*Policy, error) {
	t.Helper()
	policies, err := l.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		return nil, err
	}
	if len(policies) != 1 {
		t.Fatalf("expected one policy from %s, got %d", path, len(policies))
	}
	return &policies[0], nil
}

var ignoreRego = cmp.FilterPath(func(p cmp.Path) bool { return p.Last().String() == ".Rego" }, cmp.Ignore())

func TestLoad_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		want    *Policy
		wantErr bool
	}{
		{
			name: "plain",
			file: "max-conns.rego",
			content: `# Caps the connection limit.
# Applies to every target.
package site.conns

import rego.v1

deny contains "too many connections" if input.parameters.maxconns > 20000
`,
			want: &Policy{
				Name:        "max-conns",
				Description: "Caps the connection limit. Applies to every target.",
				Severity:    SeverityWarning,
				Enabled:     true,
			},
		},
		{
			name: "directives",
			file: "replset-private.rego",
			content: `# Replica sets listen on private addresses only.
# severity: Error
# tags: network, replication
package site.replset
`,
			want: &Policy{
				Name:        "replset-private",
				Description: "Replica sets listen on private addresses only.",
				Severity:    SeverityError,
				Enabled:     true,
				Tags:        []string{"network", "replication"},
			},
		},
		{
			name:    "unknown severity",
			file:    "loud.rego",
			content: "# severity: fatal\npackage loud\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePolicyFile(t, dir, tt.file, tt.content)
			got, err := loadOne(t, loader, path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tt.want.Source = path
			if diff := cmp.Diff(tt.want, got, ignoreRego); diff != "" {
				t.Errorf("policy mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	def := Policy{
		Name:        "syslog-required",
		Description: "Production servers log to syslog",
		Severity:    SeverityError,
		Enabled:     true,
		Rego:        "package site.syslog\n\nimport rego.v1\n\ndeny contains \"syslog is off\" if not input.parameters.syslog\n",
	}
	data, err := json.Marshal(def)
	if err != nil {
		t.Fatal(err)
	}
	path := writePolicyFile(t, dir, "syslog.json", string(data))

	got, err := loadOne(t, loader, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def.Source = path
	if diff := cmp.Diff(&def, got); diff != "" {
		t.Errorf("policy mismatch (-want +got):\n%s", diff)
	}

	defaulted, err := loadOne(t, loader, writePolicyFile(t, dir, "minimal.json", `{"name": "m", "rego": "package m"}`))
	if err != nil {
		t.Fatalf("load minimal: %v", err)
	}
	if defaulted.Severity != SeverityWarning {
		t.Errorf("default severity = %s, want warning", defaulted.Severity)
	}

	bad := []struct {
		name    string
		content string
	}{
		{"malformed", "{"},
		{"no name", `{"rego": "package x"}`},
		{"no rego", `{"name": "x"}`},
		{"bad severity", `{"name": "x", "rego": "package x", "severity": "severe"}`},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			path := writePolicyFile(t, dir, tt.name+".json", tt.content)
			if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writePolicyFile(t, dir, "a.rego", "package a\n")
	writePolicyFile(t, dir, "nested/b.rego", "package b\n")
	writePolicyFile(t, dir, "c.json", `{"name": "c", "rego": "package c"}`)
	writePolicyFile(t, dir, "broken.json", "{")
	writePolicyFile(t, dir, "README.md", "not a policy")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	if diff := cmp.Diff([]string{"a", "b", "c"}, names); diff != "" {
		t.Errorf("loaded policies mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromPaths_Missing(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestLoader_Cache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := writePolicyFile(t, t.TempDir(), "p.rego", "# first\npackage p\n")

	first, err := loadOne(t, loader, path)
	if err != nil {
		t.Fatal(err)
	}
	again, err := loadOne(t, loader, path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Description != first.Description {
		t.Errorf("unchanged file: description %q, want %q", again.Description, first.Description)
	}

	writePolicyFile(t, filepath.Dir(path), "p.rego", "# second version\npackage p\n")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	changed, err := loadOne(t, loader, path)
	if err != nil {
		t.Fatal(err)
	}
	if changed.Description != "second version" {
		t.Errorf("changed file: description %q, want %q", changed.Description, "second version")
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Error("ClearCache left entries behind")
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    header
	}{
		{"leading block", "# one\n# two\n\npackage x\n", header{description: "one two"}},
		{"after package", "package x\n\n# about x\ndeny := 1\n", header{description: "about x"}},
		{"none", "package x\n", header{}},
		{"blank comment lines", "#\n# text\n#\npackage x\n", header{description: "text"}},
		{"colon in prose", "# Note: checks auth\npackage x\n", header{description: "Note: checks auth"}},
		{
			"directives only",
			"# severity: critical\n# tags: a, , b\npackage x\n",
			header{severity: "critical", tags: []string{"a", "b"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHeader(tt.content)
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(header{})); diff != "" {
				t.Errorf("parseHeader() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
