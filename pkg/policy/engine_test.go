package policy

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

func ptr[T any](v T) *T { return &v }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func resolve(in engine.Input, arch, family string) *engine.ParameterSet {
	return engine.NewResolver(zerolog.Nop()).ResolveWith(in, engine.PlatformFacts{Architecture: arch, OSFamily: family})
}

// firing returns the sorted names of the policies with violations.
func firing(r *Result) []string {
	seen := make(map[string]bool)
	var names []string
	for _, v := range r.Violations {
		if !seen[v.Policy] {
			seen[v.Policy] = true
			names = append(names, v.Policy)
		}
	}
	sort.Strings(names)
	return names
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
	}

	want := []string{
		"journal-disabled",
		"network-exposure",
		"plaintext-credentials",
		"replset-keyfile",
		"unrepaired-ownership",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("built-in policies mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateParameters_BuiltinPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	// Locked down baseline: nothing fires.
	secure := engine.Input{
		BindIP:     []string{"127.0.0.1"},
		Auth:       ptr(true),
		StoreCreds: ptr(false),
	}

	tests := []struct {
		name        string
		input       engine.Input
		arch        string
		family      string
		want        []string
		wantAllowed bool
	}{
		{
			name:        "secure baseline",
			input:       secure,
			arch:        "x86_64",
			family:      "Debian",
			wantAllowed: true,
		},
		{
			name:        "defaults listen everywhere without auth",
			input:       engine.Input{StoreCreds: ptr(false)},
			arch:        "x86_64",
			family:      "Debian",
			want:        []string{"network-exposure"},
			wantAllowed: true,
		},
		{
			name: "ipv6 wildcard",
			input: engine.Input{
				BindIP:     []string{"::"},
				StoreCreds: ptr(false),
			},
			arch:        "x86_64",
			family:      "Debian",
			want:        []string{"network-exposure"},
			wantAllowed: true,
		},
		{
			name: "stored credentials",
			input: engine.Input{
				BindIP:        []string{"127.0.0.1"},
				Auth:          ptr(true),
				AdminUsername: ptr("admin"),
				AdminPassword: ptr("s3cret"),
			},
			arch:        "x86_64",
			family:      "Debian",
			want:        []string{"plaintext-credentials"},
			wantAllowed: true,
		},
		{
			name: "custom user without repair",
			input: engine.Input{
				BindIP:     []string{"127.0.0.1"},
				Auth:       ptr(true),
				StoreCreds: ptr(false),
				User:       ptr("dbadmin"),
			},
			arch:        "x86_64",
			family:      "Debian",
			want:        []string{"unrepaired-ownership"},
			wantAllowed: true,
		},
		{
			name: "custom user with repair",
			input: engine.Input{
				BindIP:     []string{"127.0.0.1"},
				Auth:       ptr(true),
				StoreCreds: ptr(false),
				User:       ptr("dbadmin"),
				DBPathFix:  ptr(true),
			},
			arch:        "x86_64",
			family:      "Debian",
			wantAllowed: true,
		},
		{
			name: "redhat default owner is not custom",
			input: engine.Input{
				BindIP:     []string{"127.0.0.1"},
				Auth:       ptr(true),
				StoreCreds: ptr(false),
			},
			arch:        "x86_64",
			family:      "RedHat",
			wantAllowed: true,
		},
		{
			name: "journal disabled",
			input: engine.Input{
				BindIP:     []string{"127.0.0.1"},
				Auth:       ptr(true),
				StoreCreds: ptr(false),
				Journal:    ptr(false),
			},
			arch:        "x86_64",
			family:      "Debian",
			want:        []string{"journal-disabled"},
			wantAllowed: true,
		},
		{
			name: "journal overridden on 32-bit",
			input: engine.Input{
				BindIP:     []string{"127.0.0.1"},
				Auth:       ptr(true),
				StoreCreds: ptr(false),
				Journal:    ptr(true),
			},
			arch:        "i686",
			family:      "Debian",
			want:        []string{"journal-disabled"},
			wantAllowed: true,
		},
		{
			name: "replica set with auth and no keyfile",
			input: engine.Input{
				BindIP:     []string{"127.0.0.1"},
				Auth:       ptr(true),
				StoreCreds: ptr(false),
				ReplSet:    ptr("rs0"),
			},
			arch:        "x86_64",
			family:      "Debian",
			want:        []string{"replset-keyfile"},
			wantAllowed: false,
		},
		{
			name: "replica set with keyfile",
			input: engine.Input{
				BindIP:     []string{"127.0.0.1"},
				Auth:       ptr(true),
				StoreCreds: ptr(false),
				ReplSet:    ptr("rs0"),
				KeyFile:    ptr("/etc/mongodb.key"),
			},
			arch:        "x86_64",
			family:      "Debian",
			wantAllowed: true,
		},
		{
			name: "absent configuration is not checked",
			input: engine.Input{
				Ensure:  ptr("absent"),
				Journal: ptr(false),
				ReplSet: ptr("rs0"),
				Auth:    ptr(true),
			},
			arch:        "x86_64",
			family:      "Debian",
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateParameters(ctx, "db1", resolve(tt.input, tt.arch, tt.family))
			if err != nil {
				t.Fatalf("EvaluateParameters: %v", err)
			}
			if len(result.Warnings) > 0 {
				t.Fatalf("unexpected evaluation warnings: %v", result.Warnings)
			}
			if diff := cmp.Diff(tt.want, firing(result)); diff != "" {
				t.Errorf("firing policies mismatch (-want +got):\n%s", diff)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", result.Allowed, tt.wantAllowed)
			}
		})
	}
}

func TestEvaluate_ViolationFields(t *testing.T) {
	eng := newTestEngine(t)

	p := resolve(engine.Input{
		BindIP:     []string{"127.0.0.1"},
		Auth:       ptr(true),
		StoreCreds: ptr(false),
		Journal:    ptr(true),
	}, "armv7l", "Debian")

	result, err := eng.EvaluateParameters(context.Background(), "pi", p)
	if err != nil {
		t.Fatalf("EvaluateParameters: %v", err)
	}

	want := []Violation{{
		Policy:   "journal-disabled",
		Setting:  "journal",
		Message:  "journaling is unavailable on armv7l",
		Severity: SeverityInfo,
	}}
	if diff := cmp.Diff(want, result.Violations); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}
}

type recordedViolation struct{ policy, severity string }

type fakeRecorder struct{ got []recordedViolation }

func (f *fakeRecorder) RecordPolicyViolation(policy, severity string) {
	f.got = append(f.got, recordedViolation{policy, severity})
}

func TestEvaluate_RecordsMetrics(t *testing.T) {
	eng := newTestEngine(t)
	rec := &fakeRecorder{}
	eng.SetMetrics(rec)

	p := resolve(engine.Input{StoreCreds: ptr(false)}, "x86_64", "Debian")
	if _, err := eng.EvaluateParameters(context.Background(), "", p); err != nil {
		t.Fatalf("EvaluateParameters: %v", err)
	}

	want := []recordedViolation{{"network-exposure", "warning"}}
	if diff := cmp.Diff(want, rec.got, cmp.AllowUnexported(recordedViolation{})); diff != "" {
		t.Errorf("recorded violations mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluateParameters_Nil(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.EvaluateParameters(context.Background(), "", nil); err == nil {
		t.Error("expected error for nil parameter set")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	p := resolve(engine.Input{StoreCreds: ptr(false)}, "x86_64", "Debian")

	if err := eng.DisablePolicy("network-exposure"); err != nil {
		t.Fatalf("DisablePolicy: %v", err)
	}
	result, err := eng.EvaluateParameters(ctx, "", p)
	if err != nil {
		t.Fatalf("EvaluateParameters: %v", err)
	}
	if len(result.Violations) != 0 {
		t.Errorf("disabled policy still reported: %v", result.Violations)
	}
	for _, name := range result.EvaluatedPolicies {
		if name == "network-exposure" {
			t.Error("disabled policy was evaluated")
		}
	}

	if err := eng.EnablePolicy("network-exposure"); err != nil {
		t.Fatalf("EnablePolicy: %v", err)
	}
	result, err = eng.EvaluateParameters(ctx, "", p)
	if err != nil {
		t.Fatalf("EvaluateParameters: %v", err)
	}
	if len(result.Violations) != 1 {
		t.Errorf("expected the re-enabled policy to fire, got %v", result.Violations)
	}

	if err := eng.EnablePolicy("no-such-policy"); err == nil {
		t.Error("expected error for unknown policy")
	}
	if _, err := eng.GetPolicy("no-such-policy"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestLoadPolicies_Custom(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	custom := `# Ports below 1024 need root.
package site.ports

import rego.v1

deny contains msg if {
	input.parameters.port < 1024
	msg := sprintf("port %d is privileged", [input.parameters.port])
}
`
	if err := os.WriteFile(filepath.Join(dir, "privileged-port.rego"), []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	policy, err := eng.GetPolicy("privileged-port")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if policy.Description != "Ports below 1024 need root." {
		t.Errorf("description = %q", policy.Description)
	}

	p := resolve(engine.Input{
		BindIP:     []string{"127.0.0.1"},
		Auth:       ptr(true),
		StoreCreds: ptr(false),
		Port:       ptr(443),
	}, "x86_64", "Debian")

	result, err := eng.EvaluateParameters(ctx, "", p)
	if err != nil {
		t.Fatalf("EvaluateParameters: %v", err)
	}
	want := []Violation{{
		Policy:   "privileged-port",
		Message:  "port 443 is privileged",
		Severity: SeverityWarning,
	}}
	if diff := cmp.Diff(want, result.Violations); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadPolicies_CompileErrorKeepsExisting(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package broken\n\ndeny contains x if {\n"), 0644); err != nil {
		t.Fatal(err)
	}

	before := len(eng.ListPolicies())
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err == nil {
		t.Fatal("expected compile error")
	}
	if after := len(eng.ListPolicies()); after != before {
		t.Errorf("policy count changed from %d to %d after a failed load", before, after)
	}
}

func TestReloadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "site.rego")

	write := func(msg string) {
		t.Helper()
		src := "package site\n\nimport rego.v1\n\ndeny contains \"" + msg + "\" if true\n"
		if err := os.WriteFile(path, []byte(src), 0644); err != nil {
			t.Fatal(err)
		}
	}

	write("first")
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}
	if err := eng.DisablePolicy("network-exposure"); err != nil {
		t.Fatal(err)
	}

	write("second")
	if err := eng.ReloadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("ReloadPolicies: %v", err)
	}

	p := resolve(engine.Input{StoreCreds: ptr(false)}, "x86_64", "Debian")
	result, err := eng.EvaluateParameters(ctx, "", p)
	if err != nil {
		t.Fatalf("EvaluateParameters: %v", err)
	}

	var messages []string
	for _, v := range result.Violations {
		messages = append(messages, v.Message)
	}
	sort.Strings(messages)
	want := []string{"mongod accepts unauthenticated connections on every interface", "second"}
	if diff := cmp.Diff(want, messages); diff != "" {
		t.Errorf("messages after reload mismatch (-want +got):\n%s", diff)
	}
}
