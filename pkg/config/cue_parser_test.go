package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

func ptr[T any](v T) *T { return &v }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestParser_ParseInline(t *testing.T) {
	parser := NewParser(zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name       string
		content    string
		wantFail   bool
		wantErr    string
		wantTarget string
		wantInput  engine.Input
	}{
		{
			name: "valid parameters",
			content: `
target: "db1"
mongodb: {
	dbpath:  "/srv/mongo"
	port:    27017
	auth:    true
	bind_ip: ["127.0.0.1", "10.0.0.5"]
}
`,
			wantTarget: "db1",
			wantInput: engine.Input{
				DBPath: ptr("/srv/mongo"),
				Port:   ptr(27017),
				Auth:   ptr(true),
				BindIP: []string{"127.0.0.1", "10.0.0.5"},
			},
		},
		{
			name:      "empty mongodb block",
			content:   `mongodb: {}`,
			wantInput: engine.Input{},
		},
		{
			name: "cue expressions",
			content: `
_base: 27000
mongodb: port: _base + 17
`,
			wantInput: engine.Input{Port: ptr(27017)},
		},
		{
			name:     "syntax error",
			content:  "mongodb: {\n\tport: \n",
			wantFail: true,
		},
		{
			name:     "unknown key",
			content:  `mongodb: { dbpth: "/srv/mongo" }`,
			wantFail: true,
			wantErr:  "dbpth",
		},
		{
			name:     "port out of range",
			content:  `mongodb: { port: 70000 }`,
			wantFail: true,
			wantErr:  "port",
		},
		{
			name:     "relative dbpath",
			content:  `mongodb: { dbpath: "data" }`,
			wantFail: true,
			wantErr:  "dbpath",
		},
		{
			name:     "bad ensure",
			content:  `mongodb: { ensure: "latest" }`,
			wantFail: true,
			wantErr:  "ensure",
		},
		{
			name:     "invalid bind address",
			content:  `mongodb: { bind_ip: ["localhost"] }`,
			wantFail: true,
			wantErr:  "BindIP",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := parser.ParseInline(ctx, tt.content)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.wantFail {
				if !parsed.HasErrors() {
					t.Fatalf("expected validation errors, got input %+v", parsed.Input)
				}
				if !strings.Contains(parsed.Err().Error(), tt.wantErr) {
					t.Errorf("expected error mentioning %q, got %v", tt.wantErr, parsed.Err())
				}
				return
			}

			if parsed.HasErrors() {
				t.Fatalf("unexpected validation errors: %v", parsed.Err())
			}
			if parsed.Target != tt.wantTarget {
				t.Errorf("target = %q, want %q", parsed.Target, tt.wantTarget)
			}
			if diff := cmp.Diff(tt.wantInput, parsed.Input); diff != "" {
				t.Errorf("input mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParser_ParseFormats(t *testing.T) {
	parser := NewParser(zerolog.Nop())
	ctx := context.Background()
	dir := t.TempDir()

	want := engine.Input{
		DBPath:  ptr("/srv/mongo"),
		Syslog:  ptr(true),
		Journal: ptr(false),
	}

	tests := []struct {
		file    string
		content string
	}{
		{"params.cue", "mongodb: {\n\tdbpath: \"/srv/mongo\"\n\tsyslog: true\n\tjournal: false\n}\n"},
		{"params.yaml", "mongodb:\n  dbpath: /srv/mongo\n  syslog: true\n  journal: false\n"},
		{"params.yml", "mongodb:\n  dbpath: /srv/mongo\n  syslog: true\n  journal: false\n"},
		{"params.json", `{"mongodb": {"dbpath": "/srv/mongo", "syslog": true, "journal": false}}`},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)

			parsed, err := parser.Parse(ctx, []string{path})
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if parsed.HasErrors() {
				t.Fatalf("unexpected validation errors: %v", parsed.Err())
			}
			if diff := cmp.Diff(want, parsed.Input); diff != "" {
				t.Errorf("input mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParser_ParseUnifiesSources(t *testing.T) {
	parser := NewParser(zerolog.Nop())
	ctx := context.Background()

	t.Run("files combine", func(t *testing.T) {
		dir := t.TempDir()
		base := writeFile(t, dir, "base.yaml", "target: db1\nmongodb:\n  dbpath: /srv/mongo\n")
		auth := writeFile(t, dir, "auth.cue", "mongodb: auth: true\n")

		parsed, err := parser.Parse(ctx, []string{base, auth})
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if parsed.HasErrors() {
			t.Fatalf("unexpected validation errors: %v", parsed.Err())
		}
		want := engine.Input{DBPath: ptr("/srv/mongo"), Auth: ptr(true)}
		if diff := cmp.Diff(want, parsed.Input); diff != "" {
			t.Errorf("input mismatch (-want +got):\n%s", diff)
		}
		if parsed.Target != "db1" {
			t.Errorf("target = %q, want db1", parsed.Target)
		}
	})

	t.Run("conflicting values", func(t *testing.T) {
		dir := t.TempDir()
		a := writeFile(t, dir, "a.yaml", "mongodb:\n  port: 27017\n")
		b := writeFile(t, dir, "b.yaml", "mongodb:\n  port: 27018\n")

		parsed, err := parser.Parse(ctx, []string{a, b})
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if !parsed.HasErrors() {
			t.Fatalf("expected a conflict, got %+v", parsed.Input)
		}
	})

	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "10-base.cue", `mongodb: dbpath: "/srv/mongo"`)
		writeFile(t, dir, "20-net.json", `{"mongodb": {"port": 27017}}`)
		writeFile(t, dir, "README.md", "ignored")

		parsed, err := parser.Parse(ctx, []string{dir})
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if parsed.HasErrors() {
			t.Fatalf("unexpected validation errors: %v", parsed.Err())
		}
		if len(parsed.SourceFiles) != 2 {
			t.Errorf("expected 2 source files, got %v", parsed.SourceFiles)
		}
		if parsed.Input.Port == nil || *parsed.Input.Port != 27017 {
			t.Errorf("port not merged from json file: %+v", parsed.Input)
		}
	})

	t.Run("missing source", func(t *testing.T) {
		if _, err := parser.Parse(ctx, []string{filepath.Join(t.TempDir(), "nope.cue")}); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("no sources", func(t *testing.T) {
		if _, err := parser.Parse(ctx, nil); err == nil {
			t.Error("expected error for empty source list")
		}
	})
}

func TestParser_TypeMismatch(t *testing.T) {
	parser := NewParser(zerolog.Nop())
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.cue", "mongodb: {\n\tport: \"27017\"\n}\n")

	parsed, err := parser.Parse(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.HasErrors() {
		t.Fatal("expected a type error for a quoted port")
	}

	if !strings.Contains(parsed.Err().Error(), "port") {
		t.Errorf("expected the error to name the port field, got %v", parsed.Err())
	}
}

func TestParser_ParseScript(t *testing.T) {
	parser := NewParser(zerolog.Nop())
	ctx := context.Background()
	dir := t.TempDir()

	script := writeFile(t, dir, "params.star", `
def owner(family):
    if family == "RedHat":
        return "mongod"
    return "mongodb"

print("arch", facts["architecture"])

target = "db-" + facts["os_family"].lower()
params = {
    "user": owner(facts["os_family"]),
    "dbpath_fix": True,
    "port": 27000 + 17,
    "bind_ip": ["127.0.0.1"],
}
`)

	tests := []struct {
		name       string
		facts      engine.PlatformFacts
		wantUser   string
		wantTarget string
	}{
		{"redhat", engine.PlatformFacts{Architecture: "x86_64", OSFamily: "RedHat"}, "mongod", "db-redhat"},
		{"debian", engine.PlatformFacts{Architecture: "aarch64", OSFamily: "Debian"}, "mongodb", "db-debian"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := parser.ParseScript(ctx, script, tt.facts)
			if err != nil {
				t.Fatalf("ParseScript: %v", err)
			}
			if parsed.HasErrors() {
				t.Fatalf("unexpected validation errors: %v", parsed.Err())
			}
			want := engine.Input{
				User:      ptr(tt.wantUser),
				DBPathFix: ptr(true),
				Port:      ptr(27017),
				BindIP:    []string{"127.0.0.1"},
			}
			if diff := cmp.Diff(want, parsed.Input); diff != "" {
				t.Errorf("input mismatch (-want +got):\n%s", diff)
			}
			if parsed.Target != tt.wantTarget {
				t.Errorf("target = %q, want %q", parsed.Target, tt.wantTarget)
			}
		})
	}
}

func TestParser_ParseScriptBuiltins(t *testing.T) {
	parser := NewParser(zerolog.Nop())
	dir := t.TempDir()

	script := writeFile(t, dir, "builtins.star", `
params = {
    "dbpath": default("dbpath") + "/data",
    "user": default("user"),
    "journal": not is_32bit(),
    "quota": is_32bit("i686"),
}
if default("port") == None:
    params["port"] = 27018
`)

	tests := []struct {
		name  string
		facts engine.PlatformFacts
		want  engine.Input
	}{
		{
			name:  "64-bit redhat",
			facts: engine.PlatformFacts{Architecture: "x86_64", OSFamily: "RedHat"},
			want: engine.Input{
				DBPath:  ptr("/var/lib/mongodb/data"),
				User:    ptr("mongod"),
				Journal: ptr(true),
				Quota:   ptr(true),
				Port:    ptr(27018),
			},
		},
		{
			name:  "32-bit debian",
			facts: engine.PlatformFacts{Architecture: "armv7l", OSFamily: "Debian"},
			want: engine.Input{
				DBPath:  ptr("/var/lib/mongodb/data"),
				User:    ptr("mongodb"),
				Journal: ptr(false),
				Quota:   ptr(true),
				Port:    ptr(27018),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := parser.ParseScript(context.Background(), script, tt.facts)
			if err != nil {
				t.Fatalf("ParseScript: %v", err)
			}
			if parsed.HasErrors() {
				t.Fatalf("unexpected validation errors: %v", parsed.Err())
			}
			if diff := cmp.Diff(tt.want, parsed.Input); diff != "" {
				t.Errorf("input mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParser_ParseScriptErrors(t *testing.T) {
	parser := NewParser(zerolog.Nop())
	ctx := context.Background()
	dir := t.TempDir()
	facts := engine.PlatformFacts{Architecture: "x86_64", OSFamily: "Debian"}

	t.Run("missing params", func(t *testing.T) {
		path := writeFile(t, dir, "noparams.star", "x = 1\n")
		parsed, err := parser.ParseScript(ctx, path, facts)
		if err != nil {
			t.Fatalf("ParseScript: %v", err)
		}
		if !parsed.HasErrors() {
			t.Fatal("expected an error for a script without params")
		}
	})

	t.Run("schema violation", func(t *testing.T) {
		path := writeFile(t, dir, "badport.star", "params = {\"port\": 0}\n")
		parsed, err := parser.ParseScript(ctx, path, facts)
		if err != nil {
			t.Fatalf("ParseScript: %v", err)
		}
		if !parsed.HasErrors() {
			t.Fatal("expected port 0 to be rejected")
		}
	})

	t.Run("runtime error", func(t *testing.T) {
		path := writeFile(t, dir, "fail.star", "params = {\"port\": 1 // 0}\n")
		if _, err := parser.ParseScript(ctx, path, facts); err == nil {
			t.Fatal("expected division by zero to fail")
		}
	})
}
