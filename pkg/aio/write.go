package aio

import (
	"context"

	"cloneio/pkg/copyup"
	"cloneio/pkg/extent"
	"cloneio/pkg/helper/errors"
	"cloneio/pkg/objectmap"
	"cloneio/pkg/objectstore"
	"cloneio/pkg/parent"
)

// WriteState is AbstractWrite's state, per §4.3.
type WriteState int

const (
	WriteFlat WriteState = iota
	WriteGuard
	WritePre
	WritePost
	WriteCopyup
	WriteError
)

func (s WriteState) String() string {
	switch s {
	case WriteFlat:
		return "WRITE_FLAT"
	case WriteGuard:
		return "WRITE_GUARD"
	case WritePre:
		return "WRITE_PRE"
	case WritePost:
		return "WRITE_POST"
	case WriteCopyup:
		return "WRITE_COPYUP"
	case WriteError:
		return "WRITE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Kind distinguishes the payload a Write carries: a full write, a
// zero/discard, a write-same, or a compare-and-write.
type Kind int

const (
	KindWrite Kind = iota
	KindZero
	KindWriteSame
	KindCompareAndWrite
)

// Write is the AbstractWrite state machine, specialised by Kind for the
// four payload shapes the spec names (full write, zero/discard,
// write-same, compare-and-write).
type Write struct {
	base

	state WriteState
	kind  Kind

	data    []byte // write payload, or write-same pattern
	cmpData []byte // compare-and-write expected bytes

	// isRemoval marks a discard that spans the whole object: its
	// send_post transitions the object map PENDING -> NONEXISTENT
	// (invariant I5). A partial zero-fill leaves the object existing and
	// skips the post transition.
	isRemoval bool

	snapCtx objectstore.SnapContext

	// copyupData is the parent bytes materialised for this write's own
	// copyup, when this write is not coordinated through the
	// CopyupCoordinator (copy-on-write disabled, or a late-append
	// fallback to the slow path).
	copyupData []byte

	// copyupExtents is the whole backing object's parent-image extents,
	// computed once a guarded write finds the object absent. Materialising
	// a copyup from this write's own offset/length extent would seed the
	// object-store's copyup payload with only the bytes this write
	// touched, even though the object store installs that payload as the
	// object's entire content.
	copyupExtents extent.Vector

	completion Completion
}

// NewWrite constructs a full-write AioWrite.
func NewWrite(ctx context.Context, ictx *ImageContext, objectNo, offset int64, data []byte, snapCtx objectstore.SnapContext, completion Completion) *Write {
	return newWrite(ctx, ictx, objectNo, offset, int64(len(data)), KindWrite, data, nil, false, snapCtx, completion)
}

// NewDiscard constructs a zero/discard AioWrite. wholeObject marks that
// this discard spans the entire backing object, triggering the object
// map's PENDING -> NONEXISTENT post-transition on success.
func NewDiscard(ctx context.Context, ictx *ImageContext, objectNo, offset, length int64, wholeObject bool, snapCtx objectstore.SnapContext, completion Completion) *Write {
	return newWrite(ctx, ictx, objectNo, offset, length, KindZero, nil, nil, wholeObject, snapCtx, completion)
}

// NewWriteSame constructs a write-same AioWrite: pattern is repeated
// across [offset, offset+length).
func NewWriteSame(ctx context.Context, ictx *ImageContext, objectNo, offset, length int64, pattern []byte, snapCtx objectstore.SnapContext, completion Completion) *Write {
	return newWrite(ctx, ictx, objectNo, offset, length, KindWriteSame, pattern, nil, false, snapCtx, completion)
}

// NewCompareAndWrite constructs a compare-and-write AioWrite: the op
// fails unless the object's current bytes at offset equal expected.
func NewCompareAndWrite(ctx context.Context, ictx *ImageContext, objectNo, offset int64, expected, data []byte, snapCtx objectstore.SnapContext, completion Completion) *Write {
	return newWrite(ctx, ictx, objectNo, offset, int64(len(data)), KindCompareAndWrite, data, expected, false, snapCtx, completion)
}

func newWrite(ctx context.Context, ictx *ImageContext, objectNo, offset, length int64, kind Kind, data, cmpData []byte, isRemoval bool, snapCtx objectstore.SnapContext, completion Completion) *Write {
	return &Write{
		base:       newBase(ctx, ictx, objectNo, offset, length, parent.HeadSnapID, false),
		kind:       kind,
		data:       data,
		cmpData:    cmpData,
		isRemoval:  isRemoval,
		snapCtx:    snapCtx,
		completion: completion,
	}
}

// Send runs send_pre(); if it completes synchronously, proceeds straight
// to send_write(), else an async ObjectMap update is in flight and will
// drive the rest of the request through complete().
func (w *Write) Send() {
	if w.sendPre() {
		w.sendWrite()
	}
}

// preObjectMapState is the subclass hook `pre_object_map_update`: the
// state a guarded write's object-map cell must reach before the write is
// issued.
func (w *Write) preObjectMapState() objectmap.State {
	if w.kind == KindZero && w.isRemoval {
		return objectmap.Pending
	}
	return objectmap.Exists
}

// sendPre implements §4.3's send_pre(): it returns true when no async
// update was needed (map disabled, or the cell already holds the target
// state), false when an update is in flight.
func (w *Write) sendPre() bool {
	if !w.ictx.ObjectMap.Enabled() {
		return true
	}

	newState := w.preObjectMapState()
	if current, err := w.ictx.ObjectMap.Get(w.objectNo); err == nil && current == newState {
		return true
	}

	w.state = WritePre
	w.ictx.ObjectMap.AioUpdate(w.ctx, w.objectNo, newState, nil, func(accepted bool, err error) {
		w.complete(0, err)
	})
	return false
}

// payloadOp builds the object-store op steps for this write's own
// payload, without any assert_exists guard (used both for the direct
// write path and as the write contributed to a combined copyup op).
func (w *Write) payloadOp() *objectstore.Op {
	op := objectstore.NewOp()
	switch w.kind {
	case KindWrite:
		op.Write(w.offset, w.data)
	case KindZero:
		op.Zero(w.offset, w.length)
	case KindWriteSame:
		op.WriteSame(w.offset, w.length, w.data)
	case KindCompareAndWrite:
		op.CmpExt(w.offset, w.cmpData).Write(w.offset, w.data)
	}
	return op
}

// sendWrite implements §4.3's send_write(): it guards the op with
// assert_exists iff the object still has parent overlap, then issues it.
func (w *Write) sendWrite() {
	w.state = WriteFlat
	op := w.guardWrite()

	err := w.ictx.Store.AioOperate(w.ctx, w.oid, op, w.snapCtx, func(n int64, err error) {
		w.complete(n, err)
	})
	if err != nil {
		w.complete(0, err)
	}
}

func (w *Write) guardWrite() *objectstore.Op {
	op := objectstore.NewOp()
	if len(w.parentExtents) > 0 {
		w.state = WriteGuard
		op.AssertExists()
	}
	payload := w.payloadOp()
	op.Steps = append(op.Steps, payload.Steps...)
	return op
}

type writeDecision struct {
	finished bool
	async    bool
	n        int64
	err      error
}

func (w *Write) shouldComplete(n int64, err error) writeDecision {
	switch w.state {
	case WritePre:
		if err != nil {
			w.state = WriteError
			return writeDecision{finished: true, n: n, err: err}
		}
		w.sendWrite()
		return writeDecision{async: true}

	case WriteGuard:
		if errors.Is(err, errors.ErrNotFound) {
			fullExtents, hasOverlap, _ := w.fullObjectParentExtents()
			if hasOverlap {
				w.state = WriteCopyup
				w.copyupExtents = fullExtents
				if w.copyOnWriteApplies() {
					w.startCopyupCoordinated()
				} else {
					w.readFromParent(w.copyupExtents, func(data []byte, rerr error) {
						w.copyupData = data
						w.complete(int64(len(data)), rerr)
					})
				}
				return writeDecision{async: true}
			}
			// Parent disappeared between the guard and this completion:
			// fall back to a flat write and a no-op copyup.
			w.state = WriteFlat
			w.copyupData = nil
			w.sendCopyup()
			return writeDecision{async: true}
		}
		if err != nil {
			w.state = WriteError
			return writeDecision{finished: true, n: n, err: err}
		}
		return w.afterWriteApplied(n, err)

	case WriteCopyup:
		if err != nil {
			w.state = WriteGuard
			return w.shouldComplete(n, err)
		}
		w.state = WriteGuard
		w.sendCopyup()
		return writeDecision{async: true}

	case WriteFlat:
		return w.afterWriteApplied(n, err)

	case WritePost, WriteError:
		return writeDecision{finished: true, n: n, err: err}

	default:
		return writeDecision{finished: true, n: n, err: err}
	}
}

// afterWriteApplied implements send_post(): a PENDING -> NONEXISTENT
// transition for a whole-object discard, skipped for every other write.
func (w *Write) afterWriteApplied(n int64, err error) writeDecision {
	if !w.isRemoval || !w.ictx.ObjectMap.Enabled() {
		return writeDecision{finished: true, n: n, err: err}
	}

	w.state = WritePost
	expected := objectmap.Pending
	w.ictx.ObjectMap.AioUpdate(w.ctx, w.objectNo, objectmap.NonExistent, &expected, func(accepted bool, uerr error) {
		if uerr != nil {
			w.complete(n, uerr)
			return
		}
		w.complete(n, err)
	})
	return writeDecision{async: true}
}

// copyOnWriteApplies reports whether a guarded write that found the
// object absent should materialise it as part of this write.
func (w *Write) copyOnWriteApplies() bool {
	return w.ictx.CopyOnWrite && !w.ictx.ReadOnly
}

// startCopyupCoordinated enqueues this write as a waiter on the image's
// CopyupCoordinator, creating a new CopyupRequest if none is in flight for
// this object. A late-append rejection (the in-flight request has already
// entered phase 2) falls back to the slow path: a direct parent read
// followed by this write's own solo copyup.
func (w *Write) startCopyupCoordinated() {
	// The coordinator's completion already carries the result of the
	// *combined* op (exec copyup + every waiter's payload, including this
	// one): resolve straight to the post-write step rather than
	// re-entering the WRITE_COPYUP dispatch, which would otherwise try to
	// build and issue a second copyup write for an op that has already
	// happened.
	waiter := copyup.Waiter{
		Op:         w.payloadOp(),
		Completion: w.resolveAfterOp,
	}

	_, _, err := w.ictx.Copyup.Enqueue(w.ctx, w.objectNo, w.copyupExtents, w.ictx.readParentForCopyup, waiter)
	if err != nil {
		w.readFromParent(w.copyupExtents, func(data []byte, rerr error) {
			w.copyupData = data
			w.complete(int64(len(data)), rerr)
		})
	}
}

// sendCopyup builds and issues the combined copyup write for a write that
// is not coordinated through the CopyupCoordinator: an exec("copyup",
// data) step (skipped if the parent data is all zero) followed by this
// write's own payload.
func (w *Write) sendCopyup() {
	op := objectstore.NewOp()
	if len(w.copyupData) > 0 && !allZero(w.copyupData) {
		op.Exec("rbd", "copyup", w.copyupData)
	}
	payload := w.payloadOp()
	op.Steps = append(op.Steps, payload.Steps...)

	err := w.ictx.Store.AioOperate(w.ctx, w.oid, op, w.snapCtx, func(n int64, err error) {
		w.complete(n, err)
	})
	if err != nil {
		w.complete(0, err)
	}
}

// resolveAfterOp finishes the request given the result of an op that has
// already fully applied this write's payload (a coordinated copyup's
// combined op): either terminal on error, or through the normal
// post-write object-map transition on success.
func (w *Write) resolveAfterOp(n int64, err error) {
	if err != nil {
		w.state = WriteError
		w.finish(n, err)
		return
	}
	d := w.afterWriteApplied(n, err)
	if d.async {
		return
	}
	w.finish(d.n, d.err)
}

func (w *Write) complete(n int64, err error) {
	for {
		d := w.shouldComplete(n, err)
		if d.async {
			return
		}
		if d.finished {
			w.finish(d.n, d.err)
			return
		}
		n, err = d.n, d.err
	}
}

func (w *Write) finish(n int64, err error) {
	w.mu.Lock()
	if w.completed {
		w.mu.Unlock()
		return
	}
	w.completed = true
	w.mu.Unlock()

	status := "ok"
	if err != nil {
		status = "error"
	}
	w.recordMetrics("write", status, n)

	if w.completion != nil {
		w.completion(n, err)
	}
}
