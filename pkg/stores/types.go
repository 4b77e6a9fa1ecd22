package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Render is one recorded generation.
type Render struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`      // host or target identifier
	Ensure     string    `json:"ensure"`      // present or absent
	InputHash  string    `json:"input_hash"`  // SHA256 of the canonical input
	ConfigHash string    `json:"config_hash"` // SHA256 of the rendered configuration text
	Artifacts  string    `json:"artifacts"`   // JSON blob
	Overrides  int       `json:"overrides"`
	CreatedAt  time.Time `json:"created_at"`
}

// Fact is one cached platform fact for a target. Value holds JSON.
type Fact struct {
	ID        string     `json:"id"`
	TargetID  string     `json:"target_id"`
	Namespace string     `json:"namespace"`
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	TTL       int        `json:"ttl"` // seconds; 0 never expires
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AuditEntry records who did what. TargetID points at the affected row,
// usually a render ID.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	TargetID  *string   `json:"target_id,omitempty"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists render history, cached facts and the audit trail.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Render history
	CreateRender(ctx context.Context, render *Render) error
	CreateRenderWithAudit(ctx context.Context, render *Render, entry *AuditEntry) error
	GetRender(ctx context.Context, id string) (*Render, error)
	ListRenders(ctx context.Context, target *string, limit, offset int) ([]*Render, error)
	LatestRender(ctx context.Context, target string) (*Render, error)

	// Facts
	UpsertFact(ctx context.Context, fact *Fact) error
	GetFact(ctx context.Context, targetID, namespace, key string) (*Fact, error)
	ListFacts(ctx context.Context, targetID, namespace *string, limit, offset int, keys ...string) ([]*Fact, error)
	DeleteExpiredFacts(ctx context.Context) (int64, error)

	// Audit
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action, actor *string, limit, offset int) ([]*AuditEntry, error)

	HealthCheck(ctx context.Context) error
}
