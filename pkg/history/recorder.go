// Package history records generated artifacts in the store so renders can
// be listed, compared and audited later.
package history

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/mongocfg/pkg/engine"
	"github.com/openfroyo/mongocfg/pkg/stores"
)

// Audit actions written by the recorder.
const (
	ActionRenderRecorded = "render.recorded"
)

// Redacted replaces credential file content in stored artifacts.
const Redacted = "<redacted>"

// Recorder writes render records and their audit entries.
type Recorder struct {
	store  stores.Store
	actor  string
	logger zerolog.Logger
}

// NewRecorder creates a recorder. actor is stored on audit entries.
func NewRecorder(store stores.Store, actor string, logger zerolog.Logger) *Recorder {
	if actor == "" {
		actor = "mongocfg"
	}
	return &Recorder{
		store:  store,
		actor:  actor,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Entry is the outcome of Record.
type Entry struct {
	Render *stores.Render

	// Changed is false when the previous render for the target produced
	// the same configuration text.
	Changed bool
}

// Record stores a render of a for target. The credentials file content is
// never written to the store.
func (r *Recorder) Record(ctx context.Context, target string, in engine.Input, a *engine.Artifacts) (*Entry, error) {
	if a == nil || a.Parameters == nil {
		return nil, errors.New("artifacts are incomplete")
	}

	inputHash, err := HashInput(in)
	if err != nil {
		return nil, err
	}

	blob, err := json.Marshal(Redact(a))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifacts: %w", err)
	}

	render := &stores.Render{
		ID:         uuid.New().String(),
		Target:     target,
		Ensure:     string(a.Parameters.Ensure),
		InputHash:  inputHash,
		ConfigHash: HashText(a.Config.Content),
		Artifacts:  string(blob),
		Overrides:  len(a.Overrides),
		CreatedAt:  time.Now().UTC(),
	}

	changed := true
	previous, err := r.store.LatestRender(ctx, target)
	switch {
	case err == nil:
		changed = previous.ConfigHash != render.ConfigHash || previous.Ensure != render.Ensure
	case !errors.Is(err, stores.ErrNotFound):
		return nil, fmt.Errorf("failed to read previous render: %w", err)
	}

	details, err := json.Marshal(map[string]interface{}{
		"target":      target,
		"config_hash": render.ConfigHash,
		"changed":     changed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit details: %w", err)
	}
	detailStr := string(details)
	entry := &stores.AuditEntry{
		Action:    ActionRenderRecorded,
		Actor:     r.actor,
		TargetID:  &render.ID,
		Details:   &detailStr,
		Timestamp: render.CreatedAt,
	}

	if err := r.store.CreateRenderWithAudit(ctx, render, entry); err != nil {
		return nil, fmt.Errorf("failed to record render: %w", err)
	}

	r.logger.Debug().
		Str("render_id", render.ID).
		Str("target", target).
		Bool("changed", changed).
		Msg("Render recorded")

	return &Entry{Render: render, Changed: changed}, nil
}

// Redact returns a copy of a whose credentials content is replaced.
func Redact(a *engine.Artifacts) *engine.Artifacts {
	out := *a
	if out.Credentials.Content != "" {
		out.Credentials.Content = Redacted
	}
	return &out
}

// HashInput returns the SHA256 of the canonical JSON encoding of in. A
// given admin password is hashed as Redacted.
func HashInput(in engine.Input) (string, error) {
	if in.AdminPassword != nil {
		redacted := Redacted
		in.AdminPassword = &redacted
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to marshal input: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// HashText returns the SHA256 of s.
func HashText(s string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(s)))
}
