// Package json implements a file-based control-plane persistence driver.
// State lives entirely in memory and is flushed to a single JSON document
// per collection on every write, using a temp-file-then-rename sequence so
// a crash mid-write never leaves a corrupt file. Selected when DATABASE_URL
// uses the json:// scheme; intended for small deployments and tests, not
// high write volume.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/relaymesh/gatewayd/internal/platform/store"
)

func init() {
	store.Register("json", NewDriver)
}

// Driver implements store.Driver over three JSON documents in DataDir.
type Driver struct {
	dataDir string

	mu       sync.Mutex
	versions map[int64]*store.ConfigVersion
	nodes    map[string]*store.NodeStatus
	audit    []*store.AuditLog
}

// NewDriver constructs a json driver.
func NewDriver(cfg *store.DriverConfig) (store.Driver, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("json: data_dir is required")
	}
	return &Driver{
		dataDir:  cfg.DataDir,
		versions: make(map[int64]*store.ConfigVersion),
		nodes:    make(map[string]*store.NodeStatus),
	}, nil
}

func (d *Driver) Name() string { return "json" }

func (d *Driver) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.dataDir, 0o700); err != nil {
		return fmt.Errorf("json: create data dir: %w", err)
	}
	if err := d.loadVersions(); err != nil {
		return err
	}
	if err := d.loadNodes(); err != nil {
		return err
	}
	return d.loadAudit()
}

func (d *Driver) Close() error { return nil }

func (d *Driver) path(name string) string {
	return filepath.Join(d.dataDir, name)
}

func writeJSONAtomic(path string, data any) error {
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("json: marshal %s: %w", path, err)
	}
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("json: create temp file: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("json: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("json: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("json: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("json: rename temp file: %w", err)
	}
	return nil
}

func readJSONIfExists(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("json: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (d *Driver) loadVersions() error {
	var rows []*store.ConfigVersion
	if err := readJSONIfExists(d.path("config_versions.json"), &rows); err != nil {
		return err
	}
	for _, r := range rows {
		d.versions[r.Sequence] = r
	}
	return nil
}

func (d *Driver) flushVersions() error {
	rows := make([]*store.ConfigVersion, 0, len(d.versions))
	for _, v := range d.versions {
		rows = append(rows, v)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Sequence < rows[j].Sequence })
	return writeJSONAtomic(d.path("config_versions.json"), rows)
}

func (d *Driver) loadNodes() error {
	var rows []*store.NodeStatus
	if err := readJSONIfExists(d.path("node_statuses.json"), &rows); err != nil {
		return err
	}
	for _, r := range rows {
		d.nodes[r.NodeID] = r
	}
	return nil
}

func (d *Driver) flushNodes() error {
	rows := make([]*store.NodeStatus, 0, len(d.nodes))
	for _, n := range d.nodes {
		rows = append(rows, n)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].NodeID < rows[j].NodeID })
	return writeJSONAtomic(d.path("node_statuses.json"), rows)
}

func (d *Driver) loadAudit() error {
	return readJSONIfExists(d.path("audit_log.json"), &d.audit)
}

func (d *Driver) flushAudit() error {
	return writeJSONAtomic(d.path("audit_log.json"), d.audit)
}

func (d *Driver) CreateVersion(ctx context.Context, v *store.ConfigVersion) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.createVersionLocked(v)
}

func (d *Driver) createVersionLocked(v *store.ConfigVersion) error {
	if _, exists := d.versions[v.Sequence]; exists {
		return fmt.Errorf("%w: version %d already exists", store.ErrConflict, v.Sequence)
	}
	cp := *v
	d.versions[v.Sequence] = &cp
	return d.flushVersions()
}

func (d *Driver) GetVersion(ctx context.Context, sequence int64) (*store.ConfigVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getVersionLocked(sequence)
}

func (d *Driver) getVersionLocked(sequence int64) (*store.ConfigVersion, error) {
	v, ok := d.versions[sequence]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (d *Driver) GetLatestPublished(ctx context.Context) (*store.ConfigVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getLatestPublishedLocked()
}

func (d *Driver) getLatestPublishedLocked() (*store.ConfigVersion, error) {
	var best *store.ConfigVersion
	for _, v := range d.versions {
		if v.Status != store.VersionPublished {
			continue
		}
		if best == nil || v.Sequence > best.Sequence {
			best = v
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (d *Driver) GetLatestSequence(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getLatestSequenceLocked(), nil
}

func (d *Driver) getLatestSequenceLocked() int64 {
	var max int64
	for seq := range d.versions {
		if seq > max {
			max = seq
		}
	}
	return max
}

func (d *Driver) ListVersions(ctx context.Context, limit int) ([]*store.ConfigVersion, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listVersionsLocked(limit), nil
}

func (d *Driver) listVersionsLocked(limit int) []*store.ConfigVersion {
	out := make([]*store.ConfigVersion, 0, len(d.versions))
	for _, v := range d.versions {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence > out[j].Sequence })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (d *Driver) UpdateVersionStatus(ctx context.Context, sequence int64, status store.VersionStatus, publishedAt *time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateVersionStatusLocked(sequence, status, publishedAt)
}

func (d *Driver) updateVersionStatusLocked(sequence int64, status store.VersionStatus, publishedAt *time.Time) error {
	v, ok := d.versions[sequence]
	if !ok {
		return store.ErrNotFound
	}
	v.Status = status
	if publishedAt != nil {
		v.PublishedAt = publishedAt
	}
	return d.flushVersions()
}

func (d *Driver) UpsertNodeStatus(ctx context.Context, n *store.NodeStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertNodeStatusLocked(n)
}

func (d *Driver) upsertNodeStatusLocked(n *store.NodeStatus) error {
	cp := *n
	d.nodes[n.NodeID] = &cp
	return d.flushNodes()
}

func (d *Driver) GetNodeStatus(ctx context.Context, nodeID string) (*store.NodeStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getNodeStatusLocked(nodeID)
}

func (d *Driver) getNodeStatusLocked(nodeID string) (*store.NodeStatus, error) {
	n, ok := d.nodes[nodeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (d *Driver) ListNodeStatuses(ctx context.Context) ([]*store.NodeStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listNodeStatusesLocked(), nil
}

func (d *Driver) listNodeStatusesLocked() []*store.NodeStatus {
	out := make([]*store.NodeStatus, 0, len(d.nodes))
	for _, n := range d.nodes {
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (d *Driver) AppendAuditLog(ctx context.Context, a *store.AuditLog) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appendAuditLogLocked(a)
}

func (d *Driver) appendAuditLogLocked(a *store.AuditLog) error {
	cp := *a
	d.audit = append(d.audit, &cp)
	return d.flushAudit()
}

func (d *Driver) ListAuditLog(ctx context.Context, limit int) ([]*store.AuditLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listAuditLogLocked(limit), nil
}

func (d *Driver) listAuditLogLocked(limit int) []*store.AuditLog {
	out := make([]*store.AuditLog, len(d.audit))
	copy(out, d.audit)
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// WithinTx runs fn against a Driver view that shares this Driver's single
// mutex for the whole call, so every write fn makes through tx is atomic
// with respect to any other goroutine calling a public Driver method (which
// blocks on the same mutex). There is no on-disk rollback: fn is expected
// to validate before mutating (the publisher always validates the snapshot
// before calling WithinTx), so a mid-fn error only means some of fn's
// writes already flushed to disk — acceptable because the json driver is
// documented as a dev/single-node backend, not a crash-consistent one.
func (d *Driver) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Driver) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(ctx, &txView{d: d})
}

// txView implements store.Driver by calling the already-locked variants of
// Driver's methods, so it is safe to pass into a WithinTx callback without
// re-acquiring d.mu.
type txView struct{ d *Driver }

func (t *txView) Name() string                       { return t.d.Name() }
func (t *txView) Init(ctx context.Context) error     { return nil }
func (t *txView) Close() error                       { return nil }
func (t *txView) CreateVersion(ctx context.Context, v *store.ConfigVersion) error {
	return t.d.createVersionLocked(v)
}
func (t *txView) GetVersion(ctx context.Context, sequence int64) (*store.ConfigVersion, error) {
	return t.d.getVersionLocked(sequence)
}
func (t *txView) GetLatestPublished(ctx context.Context) (*store.ConfigVersion, error) {
	return t.d.getLatestPublishedLocked()
}
func (t *txView) GetLatestSequence(ctx context.Context) (int64, error) {
	return t.d.getLatestSequenceLocked(), nil
}
func (t *txView) ListVersions(ctx context.Context, limit int) ([]*store.ConfigVersion, error) {
	return t.d.listVersionsLocked(limit), nil
}
func (t *txView) UpdateVersionStatus(ctx context.Context, sequence int64, status store.VersionStatus, publishedAt *time.Time) error {
	return t.d.updateVersionStatusLocked(sequence, status, publishedAt)
}
func (t *txView) UpsertNodeStatus(ctx context.Context, n *store.NodeStatus) error {
	return t.d.upsertNodeStatusLocked(n)
}
func (t *txView) GetNodeStatus(ctx context.Context, nodeID string) (*store.NodeStatus, error) {
	return t.d.getNodeStatusLocked(nodeID)
}
func (t *txView) ListNodeStatuses(ctx context.Context) ([]*store.NodeStatus, error) {
	return t.d.listNodeStatusesLocked(), nil
}
func (t *txView) AppendAuditLog(ctx context.Context, a *store.AuditLog) error {
	return t.d.appendAuditLogLocked(a)
}
func (t *txView) ListAuditLog(ctx context.Context, limit int) ([]*store.AuditLog, error) {
	return t.d.listAuditLogLocked(limit), nil
}
func (t *txView) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Driver) error) error {
	return fn(ctx, t)
}

var _ store.Driver = (*Driver)(nil)
var _ store.Driver = (*txView)(nil)
