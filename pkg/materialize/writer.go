// Package materialize writes generated file states to disk.
//
// Entries are written under a root directory that mirrors their absolute
// paths, so a render can be inspected or synced without touching the
// live system. An empty root writes the paths as they are.
package materialize

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/mongocfg/pkg/engine"
)

// Action is what happened to an entry.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionRemoved   Action = "removed"
)

// Options control a Writer.
type Options struct {
	// Root is prepended to every path.
	Root string

	// Backup keeps the previous content of an updated file as <path>.bak.
	Backup bool

	// Chown applies owner and group. It needs the accounts to exist and
	// usually root privileges.
	Chown bool
}

// Result describes one applied entry.
type Result struct {
	Path         string            `json:"path"`
	Dest         string            `json:"dest"`
	Ensure       engine.FileEnsure `json:"ensure"`
	Action       Action            `json:"action"`
	BackupPath   string            `json:"backup_path,omitempty"`
	BytesWritten int64             `json:"bytes_written,omitempty"`
	Checksum     string            `json:"checksum,omitempty"`
}

// Writer applies file states.
type Writer struct {
	opts   Options
	logger zerolog.Logger
}

// NewWriter creates a writer.
func NewWriter(opts Options, logger zerolog.Logger) *Writer {
	return &Writer{
		opts:   opts,
		logger: logger.With().Str("component", "materialize").Logger(),
	}
}

// Apply applies files in order and stops at the first failure. Results
// for the entries applied before the failure are returned with the error.
func (w *Writer) Apply(ctx context.Context, files []engine.FileState) ([]Result, error) {
	results := make([]Result, 0, len(files))

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if f.Path == "" {
			return results, errors.New("file state has no path")
		}

		r, err := w.apply(f)
		if err != nil {
			return results, fmt.Errorf("%s: %w", f.Path, err)
		}

		w.logger.Debug().
			Str("path", r.Path).
			Str("dest", r.Dest).
			Str("action", string(r.Action)).
			Msg("File state applied")
		results = append(results, r)
	}

	return results, nil
}

// Dest returns where path is written.
func (w *Writer) Dest(path string) string {
	if w.opts.Root == "" {
		return filepath.Clean(path)
	}
	rel := strings.TrimPrefix(filepath.Clean(path), string(filepath.Separator))
	return filepath.Join(w.opts.Root, rel)
}

func (w *Writer) apply(f engine.FileState) (Result, error) {
	r := Result{Path: f.Path, Dest: w.Dest(f.Path), Ensure: f.Ensure}

	switch f.Ensure {
	case engine.FileEnsureDirectory:
		return w.applyDirectory(f, r)
	case engine.FileEnsureFile:
		return w.applyFile(f, r)
	case engine.FileEnsureAbsent:
		return w.applyAbsent(f, r)
	default:
		return r, fmt.Errorf("unknown ensure %q", f.Ensure)
	}
}

func (w *Writer) applyDirectory(f engine.FileState, r Result) (Result, error) {
	info, err := os.Stat(r.Dest)
	switch {
	case err == nil && !info.IsDir():
		return r, errors.New("exists and is not a directory")
	case err == nil:
		r.Action = ActionUnchanged
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(r.Dest, 0o755); err != nil {
			return r, fmt.Errorf("failed to create directory: %w", err)
		}
		r.Action = ActionCreated
	default:
		return r, err
	}

	if err := w.applyAttributes(f, r.Dest, 0o755); err != nil {
		return r, err
	}
	return r, nil
}

// applyFile writes the content. An entry without content only ensures the
// file exists, leaving what a running server wrote in place.
func (w *Writer) applyFile(f engine.FileState, r Result) (Result, error) {
	existing, err := os.ReadFile(r.Dest)
	exists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return r, fmt.Errorf("failed to read existing file: %w", err)
	}

	mode, err := ParseMode(f.Mode, 0o644)
	if err != nil {
		return r, err
	}

	content := []byte(f.Content)
	switch {
	case exists && f.Content == "":
		r.Action = ActionUnchanged
		content = existing
	case exists && checksum(existing) == checksum(content):
		r.Action = ActionUnchanged
	default:
		if err := os.MkdirAll(filepath.Dir(r.Dest), 0o755); err != nil {
			return r, fmt.Errorf("failed to create directory: %w", err)
		}
		if exists && w.opts.Backup {
			r.BackupPath = r.Dest + ".bak"
			if err := copyFile(r.Dest, r.BackupPath); err != nil {
				return r, fmt.Errorf("failed to create backup: %w", err)
			}
		}
		if err := writeFile(r.Dest, content, mode); err != nil {
			return r, fmt.Errorf("failed to write file: %w", err)
		}
		r.BytesWritten = int64(len(content))
		r.Action = ActionCreated
		if exists {
			r.Action = ActionUpdated
		}
	}

	r.Checksum = checksum(content)
	if err := w.applyAttributes(f, r.Dest, 0o644); err != nil {
		return r, err
	}
	return r, nil
}

// applyAbsent removes the entry. Directories are only removed with Force.
func (w *Writer) applyAbsent(f engine.FileState, r Result) (Result, error) {
	info, err := os.Lstat(r.Dest)
	if errors.Is(err, os.ErrNotExist) {
		r.Action = ActionUnchanged
		return r, nil
	}
	if err != nil {
		return r, err
	}

	if info.IsDir() {
		if !f.Force {
			return r, errors.New("refusing to remove a directory without force")
		}
		err = os.RemoveAll(r.Dest)
	} else {
		err = os.Remove(r.Dest)
	}
	if err != nil {
		return r, fmt.Errorf("failed to remove: %w", err)
	}

	r.Action = ActionRemoved
	return r, nil
}

func (w *Writer) applyAttributes(f engine.FileState, dest string, defaultMode os.FileMode) error {
	mode, err := ParseMode(f.Mode, defaultMode)
	if err != nil {
		return err
	}
	if err := os.Chmod(dest, mode); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}

	if !w.opts.Chown || (f.Owner == "" && f.Group == "") {
		return nil
	}
	if err := setOwnership(dest, f.Owner, f.Group); err != nil {
		return fmt.Errorf("failed to set ownership: %w", err)
	}
	return nil
}

// ParseMode parses an octal mode string. An empty string yields def.
func ParseMode(mode string, def os.FileMode) (os.FileMode, error) {
	if mode == "" {
		return def, nil
	}
	m, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", mode, err)
	}
	return os.FileMode(m), nil
}

// setOwnership resolves names to ids. -1 leaves an id unchanged.
func setOwnership(path, owner, group string) error {
	uid, gid := -1, -1

	if owner != "" {
		u, err := user.Lookup(owner)
		if err != nil {
			return err
		}
		if uid, err = strconv.Atoi(u.Uid); err != nil {
			return fmt.Errorf("user %s has a non-numeric uid %q", owner, u.Uid)
		}
	}
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return err
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return fmt.Errorf("group %s has a non-numeric gid %q", group, g.Gid)
		}
	}

	return os.Lchown(path, uid, gid)
}

// writeFile replaces dest with content. The data goes to a temporary file
// in the same directory that already carries mode, so a reader never sees
// the new content with looser permissions.
func writeFile(dest string, content []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, dest)
}

func checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
