package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// Open creates, initializes and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// Init opens the database connection with WAL mode and foreign keys enabled.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
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

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
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

// Digest returns the hex sha256 of a snapshot document.
func Digest(document string) string {
	sum := sha256.Sum256([]byte(document))
	return hex.EncodeToString(sum[:])
}

// SaveSnapshot records snap unless a snapshot of the same kind with the same
// document digest exists. In both cases snap is filled with the stored
// record; deduplicated reports whether an existing one was reused.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) (bool, error) {
	if snap.Kind == "" {
		return false, fmt.Errorf("snapshot kind is required")
	}

	snap.Digest = Digest(snap.Document)

	existing, err := s.FindByDigest(ctx, snap.Kind, snap.Digest)
	switch {
	case err == nil:
		*snap = *existing
		return true, nil
	case !errors.Is(err, ErrSnapshotNotFound):
		return false, err
	}

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.Sources == nil {
		snap.Sources = []string{}
	}

	sources, err := json.Marshal(snap.Sources)
	if err != nil {
		return false, fmt.Errorf("failed to encode sources: %w", err)
	}

	query := `
		INSERT INTO snapshots (id, run_id, kind, sources, digest, document, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		snap.ID,
		snap.RunID,
		snap.Kind,
		string(sources),
		snap.Digest,
		snap.Document,
		snap.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save snapshot: %w", err)
	}

	return false, nil
}

const snapshotColumns = `id, run_id, kind, sources, digest, document, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	snap := &Snapshot{}
	var sources string
	if err := row.Scan(
		&snap.ID,
		&snap.RunID,
		&snap.Kind,
		&sources,
		&snap.Digest,
		&snap.Document,
		&snap.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sources), &snap.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources of snapshot %s: %w", snap.ID, err)
	}
	return snap, nil
}

// GetSnapshot retrieves a snapshot by its full ID or a unique ID prefix.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	if id == "" {
		return nil, ErrSnapshotNotFound
	}

	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE id = ?`
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, id))
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	query = `SELECT ` + snapshotColumns + ` FROM snapshots WHERE id LIKE ? ESCAPE '\' LIMIT 2`
	rows, err := s.db.QueryContext(ctx, query, escapeLike(id)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer rows.Close()

	var matches []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		matches = append(matches, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// FindByDigest retrieves the snapshot of kind whose document has digest.
func (s *SQLiteStore) FindByDigest(ctx context.Context, kind, digest string) (*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE kind = ? AND digest = ?`

	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, kind, digest))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", ErrSnapshotNotFound, kind, digest)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshot: %w", err)
	}

	return snap, nil
}

// ListSnapshots lists snapshots newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots`
	var args []any

	if filter.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, filter.Kind)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []*Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	return snapshots, nil
}

// DeleteSnapshot deletes a snapshot and its findings.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}

	return nil
}

// RecordFindings replaces the policy findings of a snapshot.
func (s *SQLiteStore) RecordFindings(ctx context.Context, snapshotID string, findings []PolicyFinding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM policy_results WHERE snapshot_id = ?`, snapshotID); err != nil {
		return fmt.Errorf("failed to clear findings: %w", err)
	}

	query := `
		INSERT INTO policy_results (snapshot_id, policy, severity, path, message)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, f := range findings {
		if _, err := tx.ExecContext(ctx, query, snapshotID, f.Policy, f.Severity, f.Path, f.Message); err != nil {
			return fmt.Errorf("failed to record finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit findings: %w", err)
	}
	return nil
}

// ListFindings returns the policy findings of a snapshot.
func (s *SQLiteStore) ListFindings(ctx context.Context, snapshotID string) ([]PolicyFinding, error) {
	query := `
		SELECT snapshot_id, policy, severity, path, message
		FROM policy_results
		WHERE snapshot_id = ?
		ORDER BY rowid
	`

	rows, err := s.db.QueryContext(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	findings := []PolicyFinding{}
	for rows.Next() {
		var f PolicyFinding
		if err := rows.Scan(&f.SnapshotID, &f.Policy, &f.Severity, &f.Path, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}

	return findings, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
