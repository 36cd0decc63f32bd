// Package objectmap implements the per-image, per-object presence/state
// vector that the clone I/O engine consults to short-circuit reads and to
// guard writes against objects that have not yet been materialised.
package objectmap

import (
	"context"
	"sync"

	"cloneio/pkg/helper/errors"
	"cloneio/pkg/metrics"
)

// State is one backing object's presence/state cell.
type State int

const (
	// NonExistent means the object is known not to exist (nothing has
	// been written and no copyup has run).
	NonExistent State = iota
	// Exists means the object may contain data; its exact dirtiness is
	// not tracked beyond this.
	Exists
	// Pending means a write is in flight that may change the object's
	// existence (e.g. a discard that will remove it). Reads proceed as
	// if the object exists; guards treat it conservatively.
	Pending
	// ExistsClean is a supplemental state (not in the base object-map
	// alphabet) marking an object that the periodic scrubber has
	// confirmed is present and stable, letting later scrubber passes skip
	// re-checking it until a write moves it back to EXISTS or PENDING.
	ExistsClean
)

// String renders the state for logging.
func (s State) String() string {
	switch s {
	case NonExistent:
		return "NONEXISTENT"
	case Exists:
		return "EXISTS"
	case Pending:
		return "PENDING"
	case ExistsClean:
		return "EXISTS_CLEAN"
	default:
		return "UNKNOWN"
	}
}

// UpdateCompletion is invoked when an asynchronous aio_update finishes.
// accepted is false if the CAS precondition did not hold.
type UpdateCompletion func(accepted bool, err error)

// Map is the per-image object map. It is the only persistent shared
// resource the engine mutates directly; all mutations are conditional-CAS
// style via Update/AioUpdate.
type Map struct {
	mu       sync.RWMutex
	cells    []State
	disabled bool
	metrics  *metrics.Registry
}

// New creates a Map with numObjects cells, all NONEXISTENT. Pass a nil
// registry to skip metrics recording (e.g. in unit tests).
func New(numObjects int64, registry *metrics.Registry) *Map {
	return &Map{
		cells:   make([]State, numObjects),
		metrics: registry,
	}
}

// NewDisabled creates a Map that reports Enabled() == false; all guarded
// transitions are then skipped by callers per invariant B3.
func NewDisabled() *Map {
	return &Map{disabled: true}
}

// Enabled reports whether the object map is in use. When disabled, callers
// must skip pre/post transitions and proceed straight to FLAT.
func (m *Map) Enabled() bool {
	return !m.disabled
}

// Resize grows the map to cover numObjects, leaving existing cells intact
// and initialising new cells to NONEXISTENT. It is a no-op if numObjects is
// not larger than the current size.
func (m *Map) Resize(numObjects int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if numObjects <= int64(len(m.cells)) {
		return
	}
	grown := make([]State, numObjects)
	copy(grown, m.cells)
	m.cells = grown
}

// Get returns the current state of an object cell (the spec's
// `operator[]`).
func (m *Map) Get(objectNo int64) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if objectNo < 0 || objectNo >= int64(len(m.cells)) {
		return NonExistent, errors.InvalidInputf("object number %d out of range [0, %d)", objectNo, len(m.cells))
	}
	return m.cells[objectNo], nil
}

// ObjectMayExist reports whether the object could possibly have data: only
// NONEXISTENT definitively rules it out. When the map is disabled, every
// object may exist (the map provides no information).
func (m *Map) ObjectMayExist(objectNo int64) bool {
	if m.disabled {
		return true
	}
	state, err := m.Get(objectNo)
	if err != nil {
		return true
	}
	return state != NonExistent
}

// AioUpdate performs a conditional state transition: if expectedCurrent is
// non-nil, the update is rejected (accepted=false) unless the cell's
// current value equals *expectedCurrent. This in-memory map invokes the
// completion synchronously, before AioUpdate returns; the signature
// mirrors the async `aio_update` contract from the spec so callers
// written against a real async store port unchanged.
//
// AioUpdate returns false synchronously (no completion fires) if the map
// is disabled — matching "false means rejected synchronously, e.g.,
// disabled".
func (m *Map) AioUpdate(ctx context.Context, objectNo int64, newState State, expectedCurrent *State, completion UpdateCompletion) bool {
	if m.disabled {
		return false
	}

	m.mu.Lock()
	if objectNo < 0 || objectNo >= int64(len(m.cells)) {
		m.mu.Unlock()
		if completion != nil {
			completion(false, errors.InvalidInputf("object number %d out of range [0, %d)", objectNo, len(m.cells)))
		}
		return true
	}

	current := m.cells[objectNo]
	accepted := expectedCurrent == nil || current == *expectedCurrent
	if accepted {
		m.cells[objectNo] = newState
	}
	m.mu.Unlock()

	if m.metrics != nil {
		if accepted {
			m.metrics.RecordObjectMapUpdate(newState.String())
		} else {
			m.metrics.RecordObjectMapRejected()
		}
	}

	if completion != nil {
		completion(accepted, nil)
	}
	return true
}

// Update is the synchronous convenience form of AioUpdate used by callers
// that do not need to observe completion asynchronously (e.g. the scrub
// job). It blocks until the update has been applied.
func (m *Map) Update(objectNo int64, newState State, expectedCurrent *State) (accepted bool, err error) {
	done := make(chan struct{})
	m.AioUpdate(context.Background(), objectNo, newState, expectedCurrent, func(a bool, e error) {
		accepted, err = a, e
		close(done)
	})
	<-done
	return accepted, err
}

// Snapshot returns a copy of all cells, for use by the scrub job and
// diagnostics. Callers must not rely on this being consistent with any
// single point in time under concurrent updates.
func (m *Map) Snapshot() []State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]State, len(m.cells))
	copy(out, m.cells)
	return out
}

// Len returns the number of object cells tracked.
func (m *Map) Len() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.cells))
}
