package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = "2006-01-02 15:04:05"

// pragmas are applied to every connection the driver opens.
var pragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// SQLiteStore is the Store backed by a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config locates the database. Zero pool settings take defaults.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == ":memory:" {
		// Every connection to :memory: is a separate database.
		c.MaxOpenConns, c.MaxIdleConns, c.ConnMaxLifetime = 1, 1, 0
		return c
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	return c
}

func (c Config) dsn() string {
	var b strings.Builder
	b.WriteString(c.Path)
	b.WriteString("?_txlock=immediate")
	for _, p := range pragmas {
		b.WriteString("&_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// NewSQLiteStore prepares a store; Init opens it.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	return &SQLiteStore{cfg: cfg.withDefaults()}, nil
}

// Init opens the database and checks the connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.cfg.dsn())
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.cfg.Path, err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

const insertRender = `
	INSERT INTO renders (id, target, ensure, input_hash, config_hash, artifacts, overrides, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

const insertAudit = `
	INSERT INTO audit (action, actor, target_id, details, timestamp)
	VALUES (?, ?, ?, ?, ?)
`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRenderRow(ctx context.Context, db execer, r *Render) error {
	_, err := db.ExecContext(ctx, insertRender,
		r.ID,
		r.Target,
		r.Ensure,
		r.InputHash,
		r.ConfigHash,
		r.Artifacts,
		r.Overrides,
		r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create render: %w", err)
	}
	return nil
}

func insertAuditRow(ctx context.Context, db execer, entry *AuditEntry) error {
	result, err := db.ExecContext(ctx, insertAudit,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}
	entry.ID = id
	return nil
}

// CreateRender records a generation.
func (s *SQLiteStore) CreateRender(ctx context.Context, r *Render) error {
	return insertRenderRow(ctx, s.db, r)
}

// CreateRenderWithAudit records a generation and its audit entry in one
// transaction. Neither row is kept if either insert fails.
func (s *SQLiteStore) CreateRenderWithAudit(ctx context.Context, r *Render, entry *AuditEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertRenderRow(ctx, tx, r); err != nil {
		return err
	}
	if err := insertAuditRow(ctx, tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit render: %w", err)
	}
	return nil
}

const renderColumns = `id, target, ensure, input_hash, config_hash, artifacts, overrides, created_at`

func scanRender(row scanner) (*Render, error) {
	r := &Render{}
	err := row.Scan(&r.ID, &r.Target, &r.Ensure, &r.InputHash, &r.ConfigHash, &r.Artifacts, &r.Overrides, &r.CreatedAt)
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

// conditions collects optional equality filters into a WHERE clause.
type conditions struct {
	clauses []string
	args    []any
}

func (c *conditions) eq(column string, value *string) {
	if value != nil {
		c.clauses = append(c.clauses, column+" = ?")
		c.args = append(c.args, *value)
	}
}

func (c *conditions) raw(clause string) {
	c.clauses = append(c.clauses, clause)
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// collect scans every row and closes rows.
func collect[T any](rows *sql.Rows, scan func(scanner) (*T, error)) ([]*T, error) {
	defer rows.Close()

	out := []*T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetRender retrieves a render by ID.
func (s *SQLiteStore) GetRender(ctx context.Context, id string) (*Render, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+renderColumns+` FROM renders WHERE id = ?`, id)
	r, err := scanRender(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("render %s: %w", id, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to get render %s: %w", id, err)
	}
	return r, nil
}

// LatestRender returns the most recent render for a target.
func (s *SQLiteStore) LatestRender(ctx context.Context, target string) (*Render, error) {
	renders, err := s.ListRenders(ctx, &target, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(renders) == 0 {
		return nil, fmt.Errorf("no render for %s: %w", target, ErrNotFound)
	}
	return renders[0], nil
}

// ListRenders lists renders newest first, optionally filtered by target.
func (s *SQLiteStore) ListRenders(ctx context.Context, target *string, limit, offset int) ([]*Render, error) {
	var c conditions
	c.eq("target", target)

	query := `SELECT ` + renderColumns + ` FROM renders` + c.where() +
		` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(c.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list renders: %w", err)
	}

	renders, err := collect(rows, scanRender)
	if err != nil {
		return nil, fmt.Errorf("failed to read renders: %w", err)
	}
	return renders, nil
}

const upsertFact = `
	INSERT INTO facts (` + factColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(target_id, namespace, key) DO UPDATE SET
		value = excluded.value,
		ttl = excluded.ttl,
		expires_at = excluded.expires_at,
		updated_at = excluded.updated_at
`

// UpsertFact stores a fact, replacing the value of an existing
// (target, namespace, key) row while keeping its ID and creation time.
func (s *SQLiteStore) UpsertFact(ctx context.Context, fact *Fact) error {
	var expires any
	if fact.ExpiresAt != nil {
		expires = fact.ExpiresAt.UTC().Format(timeLayout)
	}

	_, err := s.db.ExecContext(ctx, upsertFact,
		fact.ID, fact.TargetID, fact.Namespace, fact.Key, fact.Value, fact.TTL,
		expires,
		fact.CreatedAt.UTC().Format(timeLayout),
		fact.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fact %s/%s: %w", fact.Namespace, fact.Key, err)
	}
	return nil
}

const (
	factColumns = `id, target_id, namespace, key, value, ttl, expires_at, created_at, updated_at`
	unexpired   = `(expires_at IS NULL OR datetime(expires_at) > datetime('now'))`
)

func scanFact(row scanner) (*Fact, error) {
	f := &Fact{}
	err := row.Scan(&f.ID, &f.TargetID, &f.Namespace, &f.Key, &f.Value, &f.TTL, &f.ExpiresAt, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// GetFact retrieves an unexpired fact.
func (s *SQLiteStore) GetFact(ctx context.Context, targetID, namespace, key string) (*Fact, error) {
	facts, err := s.ListFacts(ctx, &targetID, &namespace, -1, 0, key)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, fmt.Errorf("fact %s/%s/%s: %w", targetID, namespace, key, ErrNotFound)
	}
	return facts[0], nil
}

// ListFacts lists unexpired facts ordered by target, namespace and key.
// Nil filters and an empty keys list match everything; a negative limit
// means no limit.
func (s *SQLiteStore) ListFacts(ctx context.Context, targetID, namespace *string, limit, offset int, keys ...string) ([]*Fact, error) {
	var c conditions
	c.eq("target_id", targetID)
	c.eq("namespace", namespace)
	if len(keys) > 0 {
		c.raw("key IN (?" + strings.Repeat(", ?", len(keys)-1) + ")")
		for _, k := range keys {
			c.args = append(c.args, k)
		}
	}
	c.raw(unexpired)

	query := `SELECT ` + factColumns + ` FROM facts` + c.where() +
		` ORDER BY target_id, namespace, key LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(c.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}

	facts, err := collect(rows, scanFact)
	if err != nil {
		return nil, fmt.Errorf("failed to read facts: %w", err)
	}
	return facts, nil
}

// DeleteExpiredFacts removes facts past their expiry and reports how many.
func (s *SQLiteStore) DeleteExpiredFacts(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM facts WHERE expires_at IS NOT NULL AND NOT `+unexpired)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired facts: %w", err)
	}
	return result.RowsAffected()
}

// CreateAuditEntry appends to the audit trail and sets entry.ID.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	return insertAuditRow(ctx, s.db, entry)
}

func scanAudit(row scanner) (*AuditEntry, error) {
	e := &AuditEntry{}
	err := row.Scan(&e.ID, &e.Action, &e.Actor, &e.TargetID, &e.Details, &e.Timestamp)
	return e, err
}

// ListAuditEntries lists audit entries newest first, optionally filtered
// by action and actor.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action, actor *string, limit, offset int) ([]*AuditEntry, error) {
	var c conditions
	c.eq("action", action)
	c.eq("actor", actor)

	query := `SELECT id, action, actor, target_id, details, timestamp FROM audit` + c.where() +
		` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(c.args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	entries, err := collect(rows, scanAudit)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}
	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
