// Package snapshot implements the pre-mutation capture and restore log
// described in spec.md §4.11: every mutating service change is preceded by
// a full-row capture, and a capture may later be replayed back onto the
// service it was taken from.
package snapshot

import (
	"context"
	"fmt"

	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/store"
	"github.com/medicops/medic/infrastructure/errors"
)

// Log captures and restores service snapshots.
type Log struct {
	store store.Store
	clock clock.Clock
}

// New builds a Log backed by st, stamping captures with the time from c.
func New(st store.Store, c clock.Clock) *Log {
	return &Log{store: st, clock: c}
}

// Capture records the current state of svc before a mutation of the given
// actionType is applied. Call this with the service row as it exists
// immediately before the mutating write.
func (l *Log) Capture(ctx context.Context, svc store.Service, actionType store.ActionType, actor string) (store.Snapshot, error) {
	snap, err := l.store.CreateSnapshot(ctx, store.Snapshot{
		ServiceID:    svc.ID,
		SnapshotData: svc,
		ActionType:   actionType,
		Actor:        actor,
		CreatedAt:    l.clock.Now(),
	})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("capture snapshot: %w", err)
	}
	return snap, nil
}

// Restore replays a snapshot's captured data back onto the service it was
// taken from. service_id and heartbeat_name are preserved from the current
// row rather than the snapshot (a service is never renamed or re-keyed by a
// restore). A snapshot that has already been restored is rejected.
func (l *Log) Restore(ctx context.Context, id int64) (store.Service, error) {
	snap, found, err := l.store.GetSnapshot(ctx, id)
	if err != nil {
		return store.Service{}, fmt.Errorf("restore snapshot: %w", err)
	}
	if !found {
		return store.Service{}, errors.NotFound("snapshot", fmt.Sprintf("%d", id))
	}
	if snap.RestoredAt != nil {
		return store.Service{}, errors.Conflict(fmt.Sprintf("snapshot %d already restored at %s", id, snap.RestoredAt))
	}

	current, found, err := l.store.GetServiceByID(ctx, snap.ServiceID)
	if err != nil {
		return store.Service{}, fmt.Errorf("restore snapshot: %w", err)
	}
	if !found {
		return store.Service{}, errors.NotFound("service", fmt.Sprintf("%d", snap.ServiceID))
	}

	restored := snap.SnapshotData
	restored.ID = current.ID
	restored.HeartbeatName = current.HeartbeatName

	if err := l.store.ReplaceService(ctx, restored); err != nil {
		return store.Service{}, fmt.Errorf("restore snapshot: %w", err)
	}
	now := l.clock.Now()
	if err := l.store.MarkSnapshotRestored(ctx, id, now); err != nil {
		return store.Service{}, fmt.Errorf("restore snapshot: %w", err)
	}

	return restored, nil
}

// List returns snapshots matching filter, most recent first, paginated.
func (l *Log) List(ctx context.Context, filter store.SnapshotFilter) ([]store.Snapshot, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 250 {
		filter.Limit = 250
	}
	snaps, err := l.store.ListSnapshots(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

// Get fetches a single snapshot by id.
func (l *Log) Get(ctx context.Context, id int64) (store.Snapshot, bool, error) {
	snap, found, err := l.store.GetSnapshot(ctx, id)
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, found, nil
}
