package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/mongocfg/pkg/engine"
	"github.com/openfroyo/mongocfg/pkg/history"
	"github.com/openfroyo/mongocfg/pkg/materialize"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// outputFormat applies the global --json flag to a command's --format.
func outputFormat(format string) (string, error) {
	if jsonOutput {
		return formatJSON, nil
	}
	switch format {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// writeArtifacts prints artifacts. Text output is the configuration file
// itself; structured output has the credentials redacted unless asked.
func writeArtifacts(w io.Writer, format string, a *engine.Artifacts, showSecrets bool) error {
	out := a
	if !showSecrets {
		out = history.Redact(a)
	}

	switch format {
	case formatJSON:
		return writeJSON(w, out)
	case formatYAML:
		return writeYAML(w, out)
	default:
		if !a.Config.Present() {
			fmt.Fprintf(w, "# %s is absent\n", a.Config.Path)
			return nil
		}
		_, err := io.WriteString(w, a.Config.Content)
		return err
	}
}

// writeFiles applies the artifact file states under root.
func (a *app) writeFiles(ctx context.Context, root string, backup bool, artifacts *engine.Artifacts) error {
	w := materialize.NewWriter(materialize.Options{Root: root, Backup: backup}, a.logger)
	results, err := w.Apply(ctx, artifacts.Files())

	changed := 0
	for _, r := range results {
		if r.Action != materialize.ActionUnchanged {
			changed++
		}
	}
	log.Info().
		Str("out_dir", root).
		Int("files", len(results)).
		Int("changed", changed).
		Msg("Artifacts written")

	return err
}
