// Package aio implements the per-object asynchronous read/write state
// machines: the core request engine that coordinates the backing object
// store, the per-object presence map and on-demand materialisation of
// parent-image data for clones.
package aio

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cloneio/pkg/copyup"
	"cloneio/pkg/extent"
	"cloneio/pkg/helper/errors"
	"cloneio/pkg/helper/log"
	"cloneio/pkg/metrics"
	"cloneio/pkg/objectmap"
	"cloneio/pkg/objectstore"
	"cloneio/pkg/parent"
)

// Completion is invoked exactly once, when an AioRequest reaches a
// terminal state (invariant I6).
type Completion func(n int64, err error)

// ImageContext is the shared, read-mostly handle every AioRequest is
// constructed against: the backing object store, the object presence map,
// the parent-overlap view, the extent mapper and the per-image copyup
// coordinator, plus the clone policy flags that decide whether guarded
// reads/writes trigger materialisation.
type ImageContext struct {
	Store     objectstore.Store
	ObjectMap *objectmap.Map
	Parent    parent.View
	Mapper    extent.Mapper
	Copyup    *copyup.Coordinator

	// OID maps a backing object number to its object-store key.
	OID func(objectNo int64) string

	// ParentRead reads imageExtents (image-space byte ranges) from the
	// parent image. Supplied by the caller since how the parent is
	// addressed (its own striping, its own object store) is outside this
	// package's concern.
	ParentRead func(ctx context.Context, imageExtents extent.Vector) ([]byte, error)

	CopyOnRead  bool
	CopyOnWrite bool
	ReadOnly    bool

	Metrics *metrics.Registry
	Logger  log.Logger
}

func (ictx *ImageContext) logger() log.Logger {
	if ictx.Logger != nil {
		return ictx.Logger
	}
	return log.NewBasicLogger(log.InfoLevel)
}

// readParentForCopyup adapts ImageContext.ParentRead to the signature a
// CopyupCoordinator expects; the object number is only needed by the
// coordinator for bookkeeping, not by the read itself.
func (ictx *ImageContext) readParentForCopyup(ctx context.Context, objectNo int64, extents extent.Vector) ([]byte, error) {
	return ictx.ParentRead(ctx, extents)
}

// base holds the state common to every AioRequest variant (§3 "AioRequest
// common state").
type base struct {
	ctx     context.Context
	ictx    *ImageContext
	traceID string

	oid      string
	objectNo int64
	offset   int64
	length   int64
	snapID   parent.SnapID

	hideENOENT bool

	parentExtents extent.Vector

	mu        sync.Mutex
	completed bool

	started time.Time
}

func newBase(ctx context.Context, ictx *ImageContext, objectNo, offset, length int64, snapID parent.SnapID, hideENOENT bool) base {
	b := base{
		ctx:        ctx,
		ictx:       ictx,
		traceID:    uuid.NewString(),
		oid:        ictx.OID(objectNo),
		objectNo:   objectNo,
		offset:     offset,
		length:     length,
		snapID:     snapID,
		hideENOENT: hideENOENT,
		started:    time.Now(),
	}
	b.computeParentExtents()
	return b
}

// computeParentExtents recomputes parentExtents for this request's actual
// intra-object extent (not the whole object) by mapping it to image space
// and pruning against current parent overlap. Any failure clears
// parentExtents. An overlap-lookup failure (e.g. snapshot gone) is
// reported as "no overlap" rather than propagated, per §4.1's failure
// semantics; an error mapping the extent to image space is returned.
func (b *base) computeParentExtents() (bool, error) {
	imageExtents, err := b.ictx.Mapper.ObjectToImageExtents(b.objectNo, b.offset, b.length)
	if err != nil {
		b.parentExtents = nil
		return false, err
	}

	pruned, hasOverlap, err := parent.ComputeOverlapForRequest(b.ictx.Parent, b.snapID, imageExtents)
	if err != nil {
		b.parentExtents = nil
		return false, nil
	}
	b.parentExtents = pruned
	return hasOverlap, nil
}

// fullObjectParentExtents computes the parent-image byte ranges overlapping
// this request's entire backing object — not just this request's own
// offset/length — pruned against current parent overlap. Materialisation
// must be seeded from the whole object's parent bytes: the object store
// installs a copyup payload as the object's complete content, not just the
// sub-range a single read or write happened to touch.
func (b *base) fullObjectParentExtents() (extent.Vector, bool, error) {
	fullExtents, err := b.ictx.Mapper.ObjectToImageExtents(b.objectNo, 0, b.ictx.Mapper.ObjectSize())
	if err != nil {
		return nil, false, err
	}
	return parent.ComputeOverlapForRequest(b.ictx.Parent, b.snapID, fullExtents)
}

// readFromParent issues an async read of extents from the parent image,
// delivering the result to completion on its own goroutine. Unlike the
// source design's block_completion reference-pinning (needed to keep a
// C++ parent-image object alive across the suspension point), Go's
// garbage collector keeps ictx and everything it closes over alive for as
// long as the goroutine runs, so no explicit pin is required here.
func (b *base) readFromParent(extents extent.Vector, completion func(data []byte, err error)) {
	if b.ictx.ParentRead == nil {
		completion(nil, errors.Internalf("object %q: no parent reader configured", b.oid))
		return
	}
	go func() {
		data, err := b.ictx.ParentRead(b.ctx, extents)
		completion(data, err)
	}()
}

func (b *base) recordMetrics(op, status string, bytes int64) {
	if b.ictx.Metrics == nil {
		return
	}
	b.ictx.Metrics.RecordAioRequest(op, status, time.Since(b.started), bytes)
}

func allZero(data []byte) bool {
	for _, v := range data {
		if v != 0 {
			return false
		}
	}
	return true
}
