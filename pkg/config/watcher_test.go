package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcher_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	params := writeFile(t, dir, "params.yaml", "mongodb:\n  port: 27017\n")
	policies := t.TempDir()

	w, err := NewWatcher(zerolog.Nop(), []string{params, policies}, ".rego")
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 10)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, changed string) error {
			changes <- changed
			return nil
		})
	}()

	// Give the watcher time to register its directories.
	time.Sleep(100 * time.Millisecond)

	expectChange := func(t *testing.T, want string) {
		t.Helper()
		select {
		case got := <-changes:
			wantAbs, _ := filepath.Abs(want)
			gotAbs, _ := filepath.Abs(got)
			if gotAbs != wantAbs {
				t.Errorf("changed = %s, want %s", got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no change reported for %s", want)
		}
	}

	if err := os.WriteFile(params, []byte("mongodb:\n  port: 27018\n"), 0644); err != nil {
		t.Fatal(err)
	}
	expectChange(t, params)

	// Unrelated files in a watched parent are ignored.
	writeFile(t, dir, "notes.txt", "x")
	rego := writeFile(t, policies, "extra.rego", "package mongocfg.extra\n")
	expectChange(t, rego)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_MissingPath(t *testing.T) {
	if _, err := NewWatcher(zerolog.Nop(), []string{filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Error("expected error for missing path")
	}
}
