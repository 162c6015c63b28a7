package stores

import (
	"context"
	"errors"
	"time"
)

// ErrSnapshotNotFound is returned when no snapshot matches an ID.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrAmbiguousID is returned when an ID prefix matches more than one snapshot.
var ErrAmbiguousID = errors.New("snapshot id prefix is ambiguous")

// Snapshot is a resolved config recorded for later inspection.
type Snapshot struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Kind      string    `json:"kind"`    // train, generate or loaded
	Sources   []string  `json:"sources"` // config files in precedence order
	Digest    string    `json:"digest"`  // sha256 of Document
	Document  string    `json:"document"`
	CreatedAt time.Time `json:"created_at"`
}

// PolicyFinding is a policy violation recorded against a snapshot.
type PolicyFinding struct {
	SnapshotID string `json:"snapshot_id"`
	Policy     string `json:"policy"`
	Severity   string `json:"severity"`
	Path       string `json:"path,omitempty"`
	Message    string `json:"message"`
}

// SnapshotFilter narrows ListSnapshots. Zero values match everything.
type SnapshotFilter struct {
	Kind   string
	Limit  int
	Offset int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Snapshot operations
	SaveSnapshot(ctx context.Context, snap *Snapshot) (deduplicated bool, err error)
	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	FindByDigest(ctx context.Context, kind, digest string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]*Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error

	// Policy findings
	RecordFindings(ctx context.Context, snapshotID string, findings []PolicyFinding) error
	ListFindings(ctx context.Context, snapshotID string) ([]PolicyFinding, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
