// Package store defines the persistence contract for the control plane:
// versioned configuration snapshots, per-node status, and the audit log.
// Concrete drivers (sqlite, json) register themselves via Register and are
// selected at runtime from the DATABASE_URL scheme (config.StoreDriverConfig).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get-style methods when no matching row exists.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when an operation would violate a uniqueness
// invariant, e.g. the json driver creating a version whose sequence exists.
var ErrConflict = errors.New("store: conflict")

// VersionStatus is the lifecycle state of a ConfigVersion.
type VersionStatus string

const (
	VersionDraft      VersionStatus = "draft"
	VersionPublished  VersionStatus = "published"
	VersionRolledBack VersionStatus = "rolled_back"
)

// ConfigVersion is an immutable, sequence-numbered configuration snapshot.
// Snapshot holds the compiled snapshot document (see package snapshot) as
// canonical JSON; the store never interprets its contents.
type ConfigVersion struct {
	ID          string
	Sequence    int64
	Snapshot    []byte
	Status      VersionStatus
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// NodeStatus is the control plane's last-known view of a data-plane node,
// updated by heartbeats (spec: HEARTBEAT_INTERVAL_SECS).
type NodeStatus struct {
	NodeID          string
	AppliedSequence int64
	Healthy         bool
	Message         string
	LastHeartbeatAt time.Time
}

// AuditLog is an append-only record of a control-plane mutation.
type AuditLog struct {
	ID         string
	OccurredAt time.Time
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	Details    string
}

// DriverConfig carries the settings a driver needs to initialize itself.
// DataDir is resolved from config.Config.StoreDriverConfig.
type DriverConfig struct {
	DataDir string
}

// ConfigStore persists ConfigVersion rows.
type ConfigStore interface {
	CreateVersion(ctx context.Context, v *ConfigVersion) error
	GetVersion(ctx context.Context, sequence int64) (*ConfigVersion, error)
	GetLatestPublished(ctx context.Context) (*ConfigVersion, error)
	GetLatestSequence(ctx context.Context) (int64, error)
	ListVersions(ctx context.Context, limit int) ([]*ConfigVersion, error)
	UpdateVersionStatus(ctx context.Context, sequence int64, status VersionStatus, publishedAt *time.Time) error
}

// NodeStore persists NodeStatus rows.
type NodeStore interface {
	UpsertNodeStatus(ctx context.Context, n *NodeStatus) error
	GetNodeStatus(ctx context.Context, nodeID string) (*NodeStatus, error)
	ListNodeStatuses(ctx context.Context) ([]*NodeStatus, error)
}

// AuditStore persists AuditLog rows. Entries are never updated or deleted.
type AuditStore interface {
	AppendAuditLog(ctx context.Context, a *AuditLog) error
	ListAuditLog(ctx context.Context, limit int) ([]*AuditLog, error)
}

// Driver is the full persistence contract a control-plane backend implements.
type Driver interface {
	Name() string
	Init(ctx context.Context) error
	Close() error

	ConfigStore
	NodeStore
	AuditStore

	// WithinTx runs fn with a Driver view whose writes are linearizable with
	// respect to every other call into the same underlying store: either all
	// of fn's writes are visible to the next caller or none are in flight
	// concurrently with them. Publish and rollback use this to make their
	// multi-step writes (archive the previously published version, insert or
	// reactivate the target version, append the audit entry) atomic. fn must
	// only use the tx Driver passed to it, never the outer Driver, and must
	// not call WithinTx again from within fn.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Driver) error) error
}
