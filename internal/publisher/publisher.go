// Package publisher implements the control plane's publish/rollback/list
// surface over a versioned store.Driver: validate a candidate snapshot,
// atomically publish it, roll back to an earlier version, and read version
// history and the currently published version.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaymesh/gatewayd/internal/platform/store"
	"github.com/relaymesh/gatewayd/internal/snapshot"
)

// ErrValidationFailed wraps the validator's errors; the publisher never
// mutates state when this is returned.
type ErrValidationFailed struct {
	Errors []snapshot.ValidationError
}

func (e *ErrValidationFailed) Error() string {
	return fmt.Sprintf("publisher: validation failed (%d errors)", len(e.Errors))
}

// ErrConflict is returned when the store driver reports a uniqueness
// violation (the json driver does for a duplicate version sequence).
// Concurrent publishes serialize in WithinTx and do not produce it.
var ErrConflict = store.ErrConflict

// ErrVersionNotFound is returned by Rollback and GetVersion when the
// referenced version id does not exist.
var ErrVersionNotFound = store.ErrNotFound

// ErrNoPublishedVersion is returned by Published when no version has ever
// been published.
var ErrNoPublishedVersion = errors.New("publisher: no published version")

// Published is the snapshot feed's response shape (spec.md §4.3/§6).
type Published struct {
	VersionID string
	Sequence  int64
	Snapshot  *snapshot.Snapshot
}

// Publisher implements spec.md §4.2 over a store.Driver and a validator
// configured with the deployment's port ranges.
type Publisher struct {
	driver      store.Driver
	validateOpt *snapshot.ValidateOptions
}

// New constructs a Publisher. validateOpt may be nil to validate with no
// port-range restriction.
func New(driver store.Driver, validateOpt *snapshot.ValidateOptions) *Publisher {
	return &Publisher{driver: driver, validateOpt: validateOpt}
}

// Validate runs the snapshot validator without touching the store.
func (p *Publisher) Validate(s *snapshot.Snapshot) (bool, []snapshot.ValidationError) {
	return snapshot.Validate(s, p.validateOpt)
}

// Publish validates candidate, then atomically inserts it as a new
// published version and archives whatever version was previously
// published, appending an audit entry. Steps (c) and (d) of spec.md §4.2
// run inside a single store transaction (Invariant V1).
func (p *Publisher) Publish(ctx context.Context, candidate *snapshot.Snapshot, actor string) (*store.ConfigVersion, error) {
	if valid, errs := p.Validate(candidate); !valid {
		return nil, &ErrValidationFailed{Errors: errs}
	}

	payload, err := json.Marshal(candidate)
	if err != nil {
		return nil, fmt.Errorf("publisher: encode snapshot: %w", err)
	}

	now := time.Now()
	var created *store.ConfigVersion

	err = p.driver.WithinTx(ctx, func(ctx context.Context, tx store.Driver) error {
		prevSeq, err := tx.GetLatestSequence(ctx)
		if err != nil {
			return fmt.Errorf("publisher: read latest sequence: %w", err)
		}

		if prev, err := tx.GetLatestPublished(ctx); err == nil {
			if archErr := tx.UpdateVersionStatus(ctx, prev.Sequence, store.VersionRolledBack, nil); archErr != nil {
				return fmt.Errorf("publisher: archive previous version: %w", archErr)
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("publisher: read previously published version: %w", err)
		}

		v := &store.ConfigVersion{
			ID:          uuid.NewString(),
			Sequence:    prevSeq + 1,
			Snapshot:    payload,
			Status:      store.VersionPublished,
			CreatedBy:   actor,
			CreatedAt:   now,
			PublishedAt: &now,
		}
		if err := tx.CreateVersion(ctx, v); err != nil {
			return fmt.Errorf("publisher: insert new version: %w", err)
		}

		if err := tx.AppendAuditLog(ctx, &store.AuditLog{
			ID:         uuid.NewString(),
			OccurredAt: now,
			Actor:      actor,
			Action:     "publish",
			TargetType: "config_version",
			TargetID:   v.ID,
			Details:    fmt.Sprintf("sequence=%d", v.Sequence),
		}); err != nil {
			return fmt.Errorf("publisher: append audit log: %w", err)
		}

		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Rollback clones versionID's snapshot into a fresh, newly-sequenced
// version with status=published, archiving whatever version is currently
// published. The cloned version is not re-validated: it was valid when
// first published, and route/pool/target ids it references have not
// changed meaning since.
func (p *Publisher) Rollback(ctx context.Context, versionID string, actor string) (*store.ConfigVersion, error) {
	var created *store.ConfigVersion

	err := p.driver.WithinTx(ctx, func(ctx context.Context, tx store.Driver) error {
		target, err := findVersionByID(ctx, tx, versionID)
		if err != nil {
			return err
		}

		prevSeq, err := tx.GetLatestSequence(ctx)
		if err != nil {
			return fmt.Errorf("publisher: read latest sequence: %w", err)
		}

		if prev, err := tx.GetLatestPublished(ctx); err == nil {
			if archErr := tx.UpdateVersionStatus(ctx, prev.Sequence, store.VersionRolledBack, nil); archErr != nil {
				return fmt.Errorf("publisher: archive previous version: %w", archErr)
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("publisher: read previously published version: %w", err)
		}

		now := time.Now()
		v := &store.ConfigVersion{
			ID:          uuid.NewString(),
			Sequence:    prevSeq + 1,
			Snapshot:    target.Snapshot,
			Status:      store.VersionPublished,
			Description: fmt.Sprintf("rollback to %s", target.ID),
			CreatedBy:   actor,
			CreatedAt:   now,
			PublishedAt: &now,
		}
		if err := tx.CreateVersion(ctx, v); err != nil {
			return fmt.Errorf("publisher: insert rollback version: %w", err)
		}

		if err := tx.AppendAuditLog(ctx, &store.AuditLog{
			ID:         uuid.NewString(),
			OccurredAt: now,
			Actor:      actor,
			Action:     "rollback",
			TargetType: "config_version",
			TargetID:   v.ID,
			Details:    fmt.Sprintf("sequence=%d source=%s", v.Sequence, target.ID),
		}); err != nil {
			return fmt.Errorf("publisher: append audit log: %w", err)
		}

		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListVersions returns up to limit versions, most recent sequence first.
// limit<=0 means no limit.
func (p *Publisher) ListVersions(ctx context.Context, limit int) ([]*store.ConfigVersion, error) {
	return p.driver.ListVersions(ctx, limit)
}

// GetVersion returns the version with the given id.
func (p *Publisher) GetVersion(ctx context.Context, versionID string) (*store.ConfigVersion, error) {
	return findVersionByID(ctx, p.driver, versionID)
}

// Published returns the currently published version decoded into a
// snapshot.Snapshot, for the snapshot feed endpoint (spec.md §4.3).
func (p *Publisher) Published(ctx context.Context) (*Published, error) {
	v, err := p.driver.GetLatestPublished(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoPublishedVersion
		}
		return nil, err
	}
	var s snapshot.Snapshot
	if err := json.Unmarshal(v.Snapshot, &s); err != nil {
		return nil, fmt.Errorf("publisher: decode published snapshot: %w", err)
	}
	return &Published{VersionID: v.ID, Sequence: v.Sequence, Snapshot: &s}, nil
}

// findVersionByID scans versions for a matching ID, since store.Driver
// indexes ConfigVersion by sequence rather than id.
func findVersionByID(ctx context.Context, d store.Driver, versionID string) (*store.ConfigVersion, error) {
	versions, err := d.ListVersions(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("publisher: list versions: %w", err)
	}
	for _, v := range versions {
		if v.ID == versionID {
			return v, nil
		}
	}
	return nil, store.ErrNotFound
}
