package aio

import (
	"context"

	"cloneio/pkg/copyup"
	"cloneio/pkg/helper/errors"
	"cloneio/pkg/objectstore"
	"cloneio/pkg/parent"
)

// ReadState is AioRead's state, per §4.2.
type ReadState int

const (
	ReadFlat ReadState = iota
	ReadGuard
	ReadCopyup
)

func (s ReadState) String() string {
	switch s {
	case ReadFlat:
		return "READ_FLAT"
	case ReadGuard:
		return "READ_GUARD"
	case ReadCopyup:
		return "READ_COPYUP"
	default:
		return "UNKNOWN"
	}
}

// Read is the AioRead state machine.
type Read struct {
	base

	sparse      bool
	triedParent bool
	state       ReadState

	data    []byte
	extents []objectstore.SparseExtent

	completion Completion
}

// NewRead constructs an AioRead. Its initial state is READ_GUARD iff the
// object's parent overlap is non-empty at construction time, else
// READ_FLAT (§4.2).
func NewRead(ctx context.Context, ictx *ImageContext, objectNo, offset, length int64, snapID parent.SnapID, hideENOENT, sparse bool, completion Completion) *Read {
	r := &Read{
		base:       newBase(ctx, ictx, objectNo, offset, length, snapID, hideENOENT),
		sparse:     sparse,
		completion: completion,
	}
	if len(r.parentExtents) > 0 {
		r.state = ReadGuard
	} else {
		r.state = ReadFlat
	}
	return r
}

// Data returns the bytes read so far; valid once the completion has
// fired.
func (r *Read) Data() []byte {
	return r.data
}

// Extents returns the populated extent map from a sparse read; empty for
// a dense read.
func (r *Read) Extents() []objectstore.SparseExtent {
	return r.extents
}

// Send issues the request's first object-store operation.
func (r *Read) Send() {
	if !r.ictx.ObjectMap.ObjectMayExist(r.objectNo) {
		r.complete(0, errors.NotFoundf("object %q does not exist per object map", r.oid))
		return
	}

	if r.sparse {
		err := r.ictx.Store.AioSparseRead(r.ctx, r.oid, r.offset, r.length, func(extents []objectstore.SparseExtent, data []byte, err error) {
			r.data = data
			r.extents = extents
			r.complete(int64(len(data)), err)
		})
		if err != nil {
			r.complete(0, err)
		}
		return
	}

	err := r.ictx.Store.AioRead(r.ctx, r.oid, r.offset, r.length, func(data []byte, err error) {
		r.data = data
		r.complete(int64(len(data)), err)
	})
	if err != nil {
		r.complete(0, err)
	}
}

type readDecision struct {
	finished bool
	async    bool
	n        int64
	err      error
}

func (r *Read) shouldComplete(n int64, err error) readDecision {
	switch r.state {
	case ReadGuard:
		if errors.Is(err, errors.ErrNotFound) && !r.triedParent {
			hasOverlap, _ := r.computeParentExtents()
			if hasOverlap {
				r.triedParent = true
				nextState := ReadGuard
				if r.copyOnReadApplies() {
					nextState = ReadCopyup
				}
				r.readFromParent(r.parentExtents, func(data []byte, rerr error) {
					r.data = data
					r.state = nextState
					r.complete(int64(len(data)), rerr)
				})
				return readDecision{async: true}
			}
			// No overlap, or the parent vanished underneath us: the
			// zero-filled/empty result already in the buffer is the
			// answer.
			r.state = ReadFlat
			return readDecision{finished: false, n: 0, err: nil}
		}
		return readDecision{finished: true, n: n, err: err}

	case ReadCopyup:
		if n > 0 {
			r.maybeStartCopyup()
		}
		return readDecision{finished: true, n: n, err: err}

	case ReadFlat:
		return readDecision{finished: true, n: n, err: err}

	default:
		return readDecision{finished: true, n: n, err: err}
	}
}

func (r *Read) complete(n int64, err error) {
	for {
		d := r.shouldComplete(n, err)
		if d.async {
			return
		}
		if d.finished {
			if r.hideENOENT && errors.Is(d.err, errors.ErrNotFound) {
				d.err = nil
			}
			r.finish(d.n, d.err)
			return
		}
		n, err = d.n, d.err
	}
}

func (r *Read) finish(n int64, err error) {
	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		return
	}
	r.completed = true
	r.mu.Unlock()

	status := "ok"
	if err != nil {
		status = "error"
	}
	r.recordMetrics("read", status, n)

	if r.completion != nil {
		r.completion(n, err)
	}
}

// copyOnReadApplies reports whether a guarded read that fell through to
// the parent should also materialise the object, per §4.2's condition
// `clone_copy_on_read && not read_only && snap_id == HEAD`.
func (r *Read) copyOnReadApplies() bool {
	return r.ictx.CopyOnRead && !r.ictx.ReadOnly && r.snapID == parent.HeadSnapID
}

// maybeStartCopyup enqueues a fire-and-forget CopyupRequest for this
// object if one is not already in flight, seeded with the full object's
// parent extents (not just this read's sub-extent, since the copyup
// materialises the whole object).
func (r *Read) maybeStartCopyup() {
	if _, ok := r.ictx.Copyup.Lookup(r.objectNo); ok {
		return
	}

	pruned, hasOverlap, err := r.fullObjectParentExtents()
	if err != nil || !hasOverlap {
		return
	}

	_, _, _ = r.ictx.Copyup.Enqueue(r.ctx, r.objectNo, pruned, r.ictx.readParentForCopyup, copyup.Waiter{})
}
