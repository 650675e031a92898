// Package sqlite implements the control-plane persistence driver backed by
// SQLite via GORM. Selected when DATABASE_URL uses the sqlite:// scheme.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/relaymesh/gatewayd/internal/platform/store"
)

func init() {
	store.Register("sqlite", NewDriver)
}

// Driver implements store.Driver over a single SQLite database file.
type Driver struct {
	dataDir string
	db      *gorm.DB
}

// NewDriver constructs a sqlite driver. The database file is created under
// cfg.DataDir on Init.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("sqlite: data_dir is required")
	}
	return &Driver{dataDir: cfg.DataDir}, nil
}

func (d *Driver) Name() string { return "sqlite" }

// Init opens the database and migrates the schema.
func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.dataDir, 0o700); err != nil {
		return fmt.Errorf("sqlite: create data dir: %w", err)
	}
	dbPath := filepath.Join(d.dataDir, "gatewayd.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("sqlite: open database: %w", err)
	}
	d.db = db

	if err := db.WithContext(ctx).AutoMigrate(
		&configVersionRow{},
		&nodeStatusRow{},
		&auditLogRow{},
	); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// configVersionRow is the GORM row type for store.ConfigVersion.
type configVersionRow struct {
	ID          string `gorm:"primaryKey"`
	Sequence    int64  `gorm:"uniqueIndex"`
	Snapshot    []byte
	Status      string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

func (configVersionRow) TableName() string { return "config_versions" }

func toRow(v *store.ConfigVersion) *configVersionRow {
	return &configVersionRow{
		ID:          v.ID,
		Sequence:    v.Sequence,
		Snapshot:    v.Snapshot,
		Status:      string(v.Status),
		Description: v.Description,
		CreatedBy:   v.CreatedBy,
		CreatedAt:   v.CreatedAt,
		PublishedAt: v.PublishedAt,
	}
}

func fromRow(r *configVersionRow) *store.ConfigVersion {
	return &store.ConfigVersion{
		ID:          r.ID,
		Sequence:    r.Sequence,
		Snapshot:    r.Snapshot,
		Status:      store.VersionStatus(r.Status),
		Description: r.Description,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		PublishedAt: r.PublishedAt,
	}
}

func (d *Driver) CreateVersion(ctx context.Context, v *store.ConfigVersion) error {
	row := toRow(v)
	if err := d.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("sqlite: create version: %w", err)
	}
	return nil
}

func (d *Driver) GetVersion(ctx context.Context, sequence int64) (*store.ConfigVersion, error) {
	var row configVersionRow
	result := d.db.WithContext(ctx).First(&row, "sequence = ?", sequence)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return fromRow(&row), nil
}

func (d *Driver) GetLatestPublished(ctx context.Context) (*store.ConfigVersion, error) {
	var row configVersionRow
	result := d.db.WithContext(ctx).
		Where("status = ?", string(store.VersionPublished)).
		Order("sequence DESC").
		First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return fromRow(&row), nil
}

func (d *Driver) GetLatestSequence(ctx context.Context) (int64, error) {
	var row configVersionRow
	result := d.db.WithContext(ctx).Order("sequence DESC").First(&row)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return row.Sequence, nil
}

func (d *Driver) ListVersions(ctx context.Context, limit int) ([]*store.ConfigVersion, error) {
	var rows []*configVersionRow
	q := d.db.WithContext(ctx).Order("sequence DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*store.ConfigVersion, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

func (d *Driver) UpdateVersionStatus(ctx context.Context, sequence int64, status store.VersionStatus, publishedAt *time.Time) error {
	updates := map[string]any{"status": string(status)}
	if publishedAt != nil {
		updates["published_at"] = *publishedAt
	}
	result := d.db.WithContext(ctx).Model(&configVersionRow{}).Where("sequence = ?", sequence).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// nodeStatusRow is the GORM row type for store.NodeStatus.
type nodeStatusRow struct {
	NodeID          string `gorm:"primaryKey"`
	AppliedSequence int64
	Healthy         bool
	Message         string
	LastHeartbeatAt time.Time
}

func (nodeStatusRow) TableName() string { return "node_statuses" }

func (d *Driver) UpsertNodeStatus(ctx context.Context, n *store.NodeStatus) error {
	row := &nodeStatusRow{
		NodeID:          n.NodeID,
		AppliedSequence: n.AppliedSequence,
		Healthy:         n.Healthy,
		Message:         n.Message,
		LastHeartbeatAt: n.LastHeartbeatAt,
	}
	return d.db.WithContext(ctx).Save(row).Error
}

func (d *Driver) GetNodeStatus(ctx context.Context, nodeID string) (*store.NodeStatus, error) {
	var row nodeStatusRow
	result := d.db.WithContext(ctx).First(&row, "node_id = ?", nodeID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, result.Error
	}
	return &store.NodeStatus{
		NodeID:          row.NodeID,
		AppliedSequence: row.AppliedSequence,
		Healthy:         row.Healthy,
		Message:         row.Message,
		LastHeartbeatAt: row.LastHeartbeatAt,
	}, nil
}

func (d *Driver) ListNodeStatuses(ctx context.Context) ([]*store.NodeStatus, error) {
	var rows []*nodeStatusRow
	if err := d.db.WithContext(ctx).Order("node_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*store.NodeStatus, len(rows))
	for i, r := range rows {
		out[i] = &store.NodeStatus{
			NodeID:          r.NodeID,
			AppliedSequence: r.AppliedSequence,
			Healthy:         r.Healthy,
			Message:         r.Message,
			LastHeartbeatAt: r.LastHeartbeatAt,
		}
	}
	return out, nil
}

// auditLogRow is the GORM row type for store.AuditLog.
type auditLogRow struct {
	ID         string `gorm:"primaryKey"`
	OccurredAt time.Time
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	Details    string
}

func (auditLogRow) TableName() string { return "audit_log" }

func (d *Driver) AppendAuditLog(ctx context.Context, a *store.AuditLog) error {
	row := &auditLogRow{
		ID:         a.ID,
		OccurredAt: a.OccurredAt,
		Actor:      a.Actor,
		Action:     a.Action,
		TargetType: a.TargetType,
		TargetID:   a.TargetID,
		Details:    a.Details,
	}
	return d.db.WithContext(ctx).Create(row).Error
}

func (d *Driver) ListAuditLog(ctx context.Context, limit int) ([]*store.AuditLog, error) {
	var rows []*auditLogRow
	q := d.db.WithContext(ctx).Order("occurred_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*store.AuditLog, len(rows))
	for i, r := range rows {
		out[i] = &store.AuditLog{
			ID:         r.ID,
			OccurredAt: r.OccurredAt,
			Actor:      r.Actor,
			Action:     r.Action,
			TargetType: r.TargetType,
			TargetID:   r.TargetID,
			Details:    r.Details,
		}
	}
	return out, nil
}

// WithinTx runs fn inside a single GORM transaction: a panic or error from
// fn rolls every write back, and the transaction's row locks make fn's
// writes linearizable with respect to any other Driver call opened against
// the same database file.
func (d *Driver) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Driver) error) error {
	return d.db.WithContext(ctx).Transaction(func(txDB *gorm.DB) error {
		txDriver := &Driver{dataDir: d.dataDir, db: txDB}
		return fn(ctx, txDriver)
	})
}

var _ store.Driver = (*Driver)(nil)
