// Package parent models the read-only view a clone has onto its parent
// image: whether a parent is attached at all, and how much of the child's
// address space is still authoritatively backed by parent data for a given
// snapshot.
package parent

import (
	"sync"

	"cloneio/pkg/extent"
	"cloneio/pkg/helper/errors"
)

// SnapID identifies a read snapshot. The zero value is reserved for HEAD by
// callers; this package treats all SnapIDs opaquely.
type SnapID uint64

// HeadSnapID is the sentinel for the writable HEAD snapshot.
const HeadSnapID SnapID = 0

// Overlap describes the parent overlap known for one snapshot id: the
// number of bytes, from image offset 0, still backed by the parent.
type Overlap struct {
	SnapID SnapID
	Bytes  int64
}

// View is the read-only interface this engine consumes. Implementations
// are expected to be backed by the image's snapshot/clone metadata and are
// read under the caller's snap_lock/parent_lock, per the spec's lock
// ordering (owner_lock -> snap_lock -> parent_lock -> object_map_lock).
type View interface {
	// IsParentAttached reports whether this image currently has a parent.
	IsParentAttached() bool

	// ParentOverlap returns the number of bytes, from image offset 0, that
	// are still backed by the parent for the given snapshot id. ok is
	// false if the snapshot id is unknown (e.g. deleted concurrently);
	// callers treat that as "no overlap" (ErrSnapshotGone semantics).
	ParentOverlap(snapID SnapID) (bytes int64, ok bool)

	// PruneParentExtents intersects extents against the given overlap
	// (the prefix [0, overlap) of image space) and returns the surviving
	// vector plus its total byte count.
	PruneParentExtents(extents extent.Vector, overlapBytes int64) (extent.Vector, int64)
}

// StaticView is a View backed by an in-memory, explicitly-set overlap
// table — used by the demo object store and by tests. A production
// binding would instead read this state from the image's live snapshot
// context.
type StaticView struct {
	mu       sync.RWMutex
	attached bool
	overlaps map[SnapID]int64
}

// NewStaticView creates a StaticView. attached is whether a parent image
// exists at all; overlaps maps snapshot id to parent-overlap byte count.
func NewStaticView(attached bool, overlaps map[SnapID]int64) *StaticView {
	table := make(map[SnapID]int64, len(overlaps))
	for k, v := range overlaps {
		table[k] = v
	}
	return &StaticView{attached: attached, overlaps: table}
}

// IsParentAttached implements View.
func (v *StaticView) IsParentAttached() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.attached
}

// ParentOverlap implements View.
func (v *StaticView) ParentOverlap(snapID SnapID) (int64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.attached {
		return 0, true
	}
	bytes, ok := v.overlaps[snapID]
	return bytes, ok
}

// PruneParentExtents implements View. It keeps only the portion of each
// extent within [0, overlapBytes), returning nil when nothing survives.
func (v *StaticView) PruneParentExtents(extents extent.Vector, overlapBytes int64) (extent.Vector, int64) {
	if overlapBytes <= 0 {
		return nil, 0
	}

	pruned := make(extent.Vector, 0, len(extents))
	var total int64
	for _, e := range extents {
		if e.Offset >= overlapBytes {
			continue
		}
		length := e.Length
		if e.Offset+length > overlapBytes {
			length = overlapBytes - e.Offset
		}
		if length <= 0 {
			continue
		}
		pruned = append(pruned, extent.Extent{Offset: e.Offset, Length: length})
		total += length
	}

	if len(pruned) == 0 {
		return nil, 0
	}
	return pruned, total
}

// Detach removes the parent image, simulating concurrent detach between a
// request's construction and its guarded completion (edge case B2 in the
// spec's boundary behaviors).
func (v *StaticView) Detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.attached = false
}

// DeleteSnapshot removes a snapshot id from the overlap table, simulating
// the snapshot vanishing mid-lookup (ErrSnapshotGone).
func (v *StaticView) DeleteSnapshot(snapID SnapID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.overlaps, snapID)
}

// SetOverlap sets (or updates) the parent overlap for a snapshot id.
func (v *StaticView) SetOverlap(snapID SnapID, bytes int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overlaps[snapID] = bytes
}

// Attach re-attaches a parent image.
func (v *StaticView) Attach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.attached = true
}

// ComputeOverlapForRequest is a convenience wrapper implementing the
// "compute_parent_extents" step described in the spec: given the view, a
// snapshot id and a candidate extent vector, it returns the pruned
// overlapping extents and whether any bytes remain. A missing snapshot id
// (parent overlap lookup failure) is surfaced as ErrSnapshotGone and
// treated as zero overlap, matching the spec's error-propagation policy.
func ComputeOverlapForRequest(v View, snapID SnapID, candidate extent.Vector) (extent.Vector, bool, error) {
	if !v.IsParentAttached() {
		return nil, false, nil
	}

	overlapBytes, ok := v.ParentOverlap(snapID)
	if !ok {
		return nil, false, errors.SnapshotGonef("snapshot %d not found while computing parent overlap", snapID)
	}
	if overlapBytes <= 0 {
		return nil, false, nil
	}

	pruned, total := v.PruneParentExtents(candidate, overlapBytes)
	return pruned, total > 0, nil
}
