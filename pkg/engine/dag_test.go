package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildGraph_Empty(t *testing.T) {
	graph, err := BuildGraph(nil)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}
	if len(graph.Nodes) != 0 || graph.Depth != 0 || len(graph.Order()) != 0 {
		t.Errorf("expected an empty graph, got %+v", graph)
	}
}

func TestBuildGraph_Levels(t *testing.T) {
	nodes := []Node{
		{ID: "Exec[fix]", Dependencies: []Dependency{{TargetID: "File[/data]", Type: DependencySubscribe}}},
		{ID: "File[/data]", Dependencies: []Dependency{{TargetID: "File[/etc/mongod.conf]", Type: DependencyRequire}}},
		{ID: "File[/root/.mongorc.js]"},
		{ID: "File[/etc/mongod.conf]"},
	}

	graph, err := BuildGraph(nodes)
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}

	wantLevels := [][]string{
		{"File[/etc/mongod.conf]", "File[/root/.mongorc.js]"},
		{"File[/data]"},
		{"Exec[fix]"},
	}
	if diff := cmp.Diff(wantLevels, graph.Levels); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
	if graph.Depth != 3 || graph.Nodes["Exec[fix]"].Level != 2 {
		t.Errorf("depth %d, repair level %d", graph.Depth, graph.Nodes["Exec[fix]"].Level)
	}
	if diff := cmp.Diff([]string{"Exec[fix]"}, graph.Nodes["File[/data]"].Dependents); diff != "" {
		t.Errorf("dependents mismatch (-want +got):\n%s", diff)
	}
	if got := strings.Join(graph.Order(), " "); got != "File[/etc/mongod.conf] File[/root/.mongorc.js] File[/data] Exec[fix]" {
		t.Errorf("Order() = %s", got)
	}
}

func TestBuildGraph_Errors(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []Node
		want    error
		wantMsg string
	}{
		{
			name:  "unknown dependency",
			nodes: []Node{{ID: "a", Dependencies: []Dependency{{TargetID: "missing"}}}},
			want:  ErrUnknownReference,
		},
		{
			name:  "empty id",
			nodes: []Node{{}},
			want:  ErrUnknownReference,
		},
		{
			name:  "duplicate",
			nodes: []Node{{ID: "a"}, {ID: "a"}},
			want:  ErrDuplicateRef,
		},
		{
			name: "cycle",
			nodes: []Node{
				{ID: "a", Dependencies: []Dependency{{TargetID: "b"}}},
				{ID: "b", Dependencies: []Dependency{{TargetID: "a"}}},
			},
			want:    ErrCycle,
			wantMsg: "a -> b -> a",
		},
		{
			name: "cycle behind a dependent",
			nodes: []Node{
				{ID: "a", Dependencies: []Dependency{{TargetID: "b"}}},
				{ID: "b", Dependencies: []Dependency{{TargetID: "c"}}},
				{ID: "c", Dependencies: []Dependency{{TargetID: "b"}}},
				{ID: "root"},
			},
			want:    ErrCycle,
			wantMsg: "b -> c -> b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.nodes)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if tt.wantMsg != "" && !strings.HasSuffix(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not end with %q", err, tt.wantMsg)
			}
		})
	}
}

func TestExecutionGraph_ToDOT(t *testing.T) {
	graph, err := BuildGraph([]Node{
		{ID: "File[/etc/mongod.conf]", Ensure: "file"},
		{ID: "File[/data]", Ensure: "directory", Dependencies: []Dependency{{TargetID: "File[/etc/mongod.conf]", Type: DependencyRequire}}},
		{ID: "Exec[fix]", Ensure: "run", Dependencies: []Dependency{{TargetID: "File[/data]", Type: DependencySubscribe}}},
	})
	if err != nil {
		t.Fatalf("BuildGraph() error = %v", err)
	}

	dot := graph.ToDOT()
	for _, want := range []string{
		"digraph Artifacts {",
		"cluster_level_0",
		"cluster_level_2",
		`"File[/data]" [label="File[/data]\ndirectory", fillcolor=lightgreen];`,
		`"File[/etc/mongod.conf]" -> "File[/data]" [style=solid, color=black];`,
		`"File[/data]" -> "Exec[fix]" [style=dashed, color=blue];`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("ToDOT() missing %q in:\n%s", want, dot)
		}
	}
}
