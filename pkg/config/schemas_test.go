package config

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

func TestSchemaRegistry_Builtins(t *testing.T) {
	sr := NewSchemaRegistry(nil)

	if diff := cmp.Diff([]string{SchemaMongoDB, SchemaParameters}, sr.ListSchemas()); diff != "" {
		t.Errorf("schemas mismatch (-want +got):\n%s", diff)
	}

	for _, name := range sr.ListSchemas() {
		if _, ok := sr.GetSchema(name); !ok {
			t.Errorf("schema %s not retrievable", name)
		}
	}
}

func TestSchemaRegistry_ValidateInput(t *testing.T) {
	sr := NewSchemaRegistry(nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   engine.Input
		wantErr bool
	}{
		{name: "empty", input: engine.Input{}},
		{
			name: "full",
			input: engine.Input{
				Ensure:      ptr("present"),
				ConfigPath:  ptr("/etc/mongod.conf"),
				DBPath:      ptr("/var/lib/mongo"),
				Port:        ptr(27017),
				BindIP:      []string{"127.0.0.1"},
				PidFilePath: ptr("/var/run/mongod.pid"),
				PidFileMode: ptr("0640"),
				QuotaFiles:  ptr(8),
				User:        ptr("mongod"),
			},
		},
		{name: "bad ensure", input: engine.Input{Ensure: ptr("running")}, wantErr: true},
		{name: "zero port", input: engine.Input{Port: ptr(0)}, wantErr: true},
		{name: "relative config", input: engine.Input{ConfigPath: ptr("mongod.conf")}, wantErr: true},
		{name: "bad mode", input: engine.Input{PidFileMode: ptr("0999")}, wantErr: true},
		{name: "empty user", input: engine.Input{User: ptr("")}, wantErr: true},
		{name: "zero quota files", input: engine.Input{QuotaFiles: ptr(0)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateInput(ctx, tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateInput() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry(nil)
	ctx := context.Background()

	err := sr.RegisterSchema("replica", `#Replica: { replset: string & !="", maxconns?: int & <=1000 }`, "#Replica")
	if err != nil {
		t.Fatalf("RegisterSchema: %v", err)
	}

	if err := sr.ValidateAgainstSchema(ctx, "replica", map[string]interface{}{"replset": "rs0"}); err != nil {
		t.Errorf("valid data rejected: %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "replica", map[string]interface{}{"replset": "rs0", "maxconns": 5000}); err == nil {
		t.Error("expected maxconns above bound to be rejected")
	}

	if err := sr.RegisterSchema("broken", `#X: {`, "#X"); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("nodef", `#X: {}`, "#Y"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected missing definition error, got %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "unknown", nil); err == nil {
		t.Error("expected unknown schema error")
	}
}
