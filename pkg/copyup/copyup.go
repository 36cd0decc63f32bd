// Package copyup implements materialisation of parent-image data into a
// clone's backing object, deduplicated across concurrent writers and
// readers via a per-image coordinator keyed by object number.
package copyup

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"cloneio/pkg/extent"
	"cloneio/pkg/helper/errors"
	"cloneio/pkg/helper/log"
	"cloneio/pkg/metrics"
	"cloneio/pkg/objectstore"
)

// State is a CopyupRequest's lifecycle stage.
type State int

const (
	New State = iota
	ReadingParent
	WritingCopyup
	Done
)

func (s State) String() string {
	switch s {
	case New:
		return "NEW"
	case ReadingParent:
		return "READING_PARENT"
	case WritingCopyup:
		return "WRITING_COPYUP"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Waiter is one write that must be attached atomically to the combined
// copyup op: the originator that caused the CopyupRequest to be created is
// itself represented as the first waiter, per invariant I4.
type Waiter struct {
	Op         *objectstore.Op
	Completion objectstore.Completion
}

// ParentReadFunc reads the parent-backed bytes for the given extents of an
// object; it is supplied by the caller so this package stays independent
// of how the parent image is actually addressed.
type ParentReadFunc func(ctx context.Context, objectNo int64, extents extent.Vector) ([]byte, error)

// Request is one in-flight materialisation of a single backing object. It
// outlives the AioRequest that created it and is removed from its
// Coordinator once the combined copyup op completes.
type Request struct {
	traceID  string
	objectNo int64

	mu      sync.Mutex
	state   State
	buffer  *bytebufferpool.ByteBuffer
	waiters []Waiter
}

// ObjectNo returns the backing object number this request materialises.
func (r *Request) ObjectNo() int64 {
	return r.objectNo
}

// State returns the request's current lifecycle stage.
func (r *Request) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// append adds a waiter iff phase 2 (WritingCopyup) has not yet begun. A
// false return means the caller must fall back to the slow path: a direct
// parent read and a solo copyup, per the spec's documented lifecycle
// options for a late append.
func (r *Request) append(w Waiter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == WritingCopyup || r.state == Done {
		return false
	}
	r.waiters = append(r.waiters, w)
	return true
}

// Coordinator maps object number to in-flight CopyupRequest, guarded by a
// single leaf lock (copyup_list_lock in the spec's lock-ordering rule):
// it is acquired independently and never held while acquiring any other
// lock in the engine, and never held across object-store I/O.
type Coordinator struct {
	mu       sync.Mutex
	inFlight map[int64]*Request

	store   objectstore.Store
	oidFunc func(objectNo int64) string
	metrics *metrics.Registry
	logger  log.Logger
}

// NewCoordinator creates a Coordinator for one image. oidFunc maps a
// backing object number to the object-store key used for its combined
// copyup write.
func NewCoordinator(store objectstore.Store, oidFunc func(objectNo int64) string, registry *metrics.Registry, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	return &Coordinator{
		inFlight: make(map[int64]*Request),
		store:    store,
		oidFunc:  oidFunc,
		metrics:  registry,
		logger:   logger,
	}
}

// ErrLateAppend is returned by Enqueue when the in-flight request for an
// object has already entered phase 2; the caller must fall back to a
// direct parent read and a solo copyup for its own write.
var ErrLateAppend = errors.Internalf("copyup request already writing, cannot append waiter")

// Enqueue attaches waiter to the in-flight CopyupRequest for objectNo,
// creating and starting one (seeded with parentExtents) if none exists.
// created is true iff this call created the request; callers that get
// created=false must still hold a reference via the returned Request
// until they observe the completion their waiter registered.
func (c *Coordinator) Enqueue(ctx context.Context, objectNo int64, parentExtents extent.Vector, readParent ParentReadFunc, waiter Waiter) (req *Request, created bool, err error) {
	c.mu.Lock()
	if existing, ok := c.inFlight[objectNo]; ok {
		c.mu.Unlock()
		if !existing.append(waiter) {
			return nil, false, ErrLateAppend
		}
		if c.metrics != nil {
			c.metrics.RecordCopyupCoalesced()
		}
		return existing, false, nil
	}

	req = &Request{
		traceID:  uuid.NewString(),
		objectNo: objectNo,
		state:    New,
		buffer:   bytebufferpool.Get(),
	}
	req.waiters = append(req.waiters, waiter)
	c.inFlight[objectNo] = req
	inFlightCount := len(c.inFlight)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetCopyupsInFlight(inFlightCount)
	}

	go c.run(ctx, req, parentExtents, readParent)
	return req, true, nil
}

// run drives a CopyupRequest through its two phases: reading the parent
// extents into the shared buffer, then issuing one combined write carrying
// the copyup exec (skipped if the parent data is all zero) followed by
// every waiter's write operation in insertion order.
func (c *Coordinator) run(ctx context.Context, req *Request, parentExtents extent.Vector, readParent ParentReadFunc) {
	started := time.Now()

	req.mu.Lock()
	req.state = ReadingParent
	req.mu.Unlock()

	data, readErr := readParent(ctx, req.objectNo, parentExtents)
	if readErr != nil {
		c.finish(req, 0, readErr, started)
		return
	}
	req.buffer.Write(data)

	req.mu.Lock()
	req.state = WritingCopyup
	waiters := make([]Waiter, len(req.waiters))
	copy(waiters, req.waiters)
	req.mu.Unlock()

	op := objectstore.NewOp()
	payload := req.buffer.Bytes()
	if !allZero(payload) {
		op.Exec("rbd", "copyup", payload)
	}
	for _, w := range waiters {
		if w.Op != nil {
			op.Steps = append(op.Steps, w.Op.Steps...)
		}
	}

	oid := c.oidFunc(req.objectNo)
	c.logger.WithField("trace_id", req.traceID).WithField("object", oid).
		WithField("waiters", len(waiters)).Debug("issuing combined copyup op")

	if err := c.store.AioOperate(ctx, oid, op, objectstore.SnapContext{}, func(n int64, err error) {
		c.finish(req, n, err, started)
	}); err != nil {
		c.finish(req, 0, err, started)
	}
}

// finish fans the combined op's result out to every waiter, removes the
// request from the coordinator and releases its shared buffer.
func (c *Coordinator) finish(req *Request, n int64, err error, started time.Time) {
	req.mu.Lock()
	req.state = Done
	waiters := make([]Waiter, len(req.waiters))
	copy(waiters, req.waiters)
	req.mu.Unlock()

	c.mu.Lock()
	delete(c.inFlight, req.objectNo)
	remaining := len(c.inFlight)
	c.mu.Unlock()

	if c.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordCopyup(status, time.Since(started), int64(req.buffer.Len()))
		c.metrics.SetCopyupsInFlight(remaining)
	}

	bytebufferpool.Put(req.buffer)

	for _, w := range waiters {
		if w.Completion != nil {
			w.Completion(n, err)
		}
	}
}

// InFlight reports how many objects currently have a live CopyupRequest,
// for diagnostics and tests.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// Lookup returns the in-flight request for objectNo, if any, without
// mutating coordinator state.
func (c *Coordinator) Lookup(objectNo int64) (*Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	req, ok := c.inFlight[objectNo]
	return req, ok
}

func allZero(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	return bytes.Count(b, []byte{0}) == len(b)
}
