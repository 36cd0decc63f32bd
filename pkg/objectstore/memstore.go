package objectstore

import (
	"bytes"
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"

	"cloneio/pkg/cache"
	"cloneio/pkg/helper/errors"
	"cloneio/pkg/helper/log"
	"cloneio/pkg/metrics"
	"cloneio/pkg/resilience"
)

// shardCount is the number of independent locks the in-memory store hashes
// object names across, bounding lock contention under the worker pool's
// concurrent AioOperate/AioRead traffic without requiring one lock per
// object.
const shardCount = 64

// object is one backing object's in-memory content. A nil object behaves
// as NONEXISTENT; a non-nil object with empty data is EXISTS with zero
// length (e.g. after a zero-length write establishes presence).
type object struct {
	data []byte
}

// MemStore is a demonstration/benchmark object store that keeps every
// object in memory, sharded by the xxhash of its name into independently
// locked buckets. Every call is wrapped in the shared resilience manager
// (rate limiting, circuit breaking, retry) so the demo exercises the same
// failure-handling path a real network-backed store would need, and a
// recently-written front cache shortcuts repeat reads of hot objects.
type MemStore struct {
	shards   [shardCount]shardState
	readHot  *cache.LRUCache[string, []byte]
	hotMu    sync.Mutex
	resilien *resilience.Manager
	metrics  *metrics.Registry
	logger   log.Logger
}

type shardState struct {
	mu      sync.Mutex
	objects map[string]*object
}

// NewMemStore creates an empty in-memory store. hotCacheSize bounds the
// number of recently-written objects kept in the front cache; pass 0 to
// disable it.
func NewMemStore(hotCacheSize int, resilien *resilience.Manager, registry *metrics.Registry, logger log.Logger) *MemStore {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	if resilien == nil {
		resilien = resilience.NewManager(logger)
	}

	s := &MemStore{
		resilien: resilien,
		metrics:  registry,
		logger:   logger,
	}
	for i := range s.shards {
		s.shards[i].objects = make(map[string]*object)
	}
	if hotCacheSize > 0 {
		s.readHot = cache.NewLRUCache[string, []byte](hotCacheSize)
	}
	return s
}

func (s *MemStore) shardFor(oid string) *shardState {
	h := xxhash.Sum64String(oid)
	return &s.shards[h%shardCount]
}

func (s *MemStore) cacheInvalidate(oid string) {
	if s.readHot == nil {
		return
	}
	s.hotMu.Lock()
	s.readHot.Remove(oid)
	s.hotMu.Unlock()
}

func (s *MemStore) cacheStore(oid string, data []byte) {
	if s.readHot == nil {
		return
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.hotMu.Lock()
	s.readHot.Put(oid, cp)
	s.hotMu.Unlock()
}

func (s *MemStore) cacheLookup(oid string) ([]byte, bool) {
	if s.readHot == nil {
		return nil, false
	}
	s.hotMu.Lock()
	data, ok := s.readHot.Get(oid)
	s.hotMu.Unlock()
	return data, ok
}

// readRange copies out [off, off+length) from an object's data, clamped to
// the object's actual length. A nil object (NONEXISTENT) reads as all
// zeros of the requested length, matching a sparse backing object.
func readRange(obj *object, off, length int64) []byte {
	out := make([]byte, length)
	if obj == nil {
		return out
	}
	end := off + length
	if end > int64(len(obj.data)) {
		end = int64(len(obj.data))
	}
	if off >= end {
		return out
	}
	copy(out, obj.data[off:end])
	return out
}

// AioRead implements Store. The actual read runs synchronously inside a
// goroutine so the call returns immediately to the caller, matching the
// fire-and-complete-later shape of a real async backend.
func (s *MemStore) AioRead(ctx context.Context, oid string, off, length int64, completion ReadCompletion) error {
	if off < 0 || length < 0 {
		return errors.InvalidInputf("AioRead: negative offset or length")
	}

	go func() {
		var data []byte
		err := s.resilien.ExecuteWithResilience(ctx, "memstore.read", func() error {
			if cached, ok := s.cacheLookup(oid); ok && int64(len(cached)) >= off+length {
				data = append([]byte(nil), cached[off:off+length]...)
				return nil
			}

			shard := s.shardFor(oid)
			shard.mu.Lock()
			obj := shard.objects[oid]
			data = readRange(obj, off, length)
			shard.mu.Unlock()
			return nil
		})
		if s.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			s.metrics.RecordAioRequest("read", status, 0, int64(len(data)))
		}
		if err != nil {
			completion(nil, err)
			return
		}
		completion(data, nil)
	}()
	return nil
}

// AioSparseRead implements Store. The in-memory backend never actually
// sparsifies holes (every object is a flat byte slice), so it reports the
// whole requested range as one populated extent unless the object is
// entirely absent, in which case it reports no extents at all.
func (s *MemStore) AioSparseRead(ctx context.Context, oid string, off, length int64, completion SparseReadCompletion) error {
	if off < 0 || length < 0 {
		return errors.InvalidInputf("AioSparseRead: negative offset or length")
	}

	go func() {
		var data []byte
		var exists bool
		err := s.resilien.ExecuteWithResilience(ctx, "memstore.sparse_read", func() error {
			shard := s.shardFor(oid)
			shard.mu.Lock()
			obj, ok := shard.objects[oid]
			exists = ok
			if ok {
				data = readRange(obj, off, length)
			}
			shard.mu.Unlock()
			return nil
		})
		if err != nil {
			completion(nil, nil, err)
			return
		}
		if !exists {
			completion(nil, nil, nil)
			return
		}
		completion([]SparseExtent{{Offset: off, Length: int64(len(data))}}, data, nil)
	}()
	return nil
}

// AioOperate implements Store. All steps of op are applied to the same
// locked shard bucket as a single critical section, giving the atomicity
// the spec requires of a composite operation.
func (s *MemStore) AioOperate(ctx context.Context, oid string, op *Op, snapCtx SnapContext, completion Completion) error {
	if op == nil || op.IsEmpty() {
		return errors.InvalidInputf("AioOperate: empty op")
	}

	go func() {
		err := s.resilien.ExecuteWithResilience(ctx, "memstore.operate", func() error {
			return s.applyOp(oid, op)
		})
		if s.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			s.metrics.RecordAioRequest("operate", status, 0, 0)
		}
		completion(0, err)
	}()
	return nil
}

func (s *MemStore) applyOp(oid string, op *Op) error {
	shard := s.shardFor(oid)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	obj, exists := shard.objects[oid]

	for _, step := range op.Steps {
		switch step.Kind {
		case OpAssertExists:
			if !exists {
				return errors.NotFoundf("object %q does not exist", oid)
			}

		case OpWrite:
			obj, exists = applyWrite(obj, step.Offset, step.Data)

		case OpZero:
			obj, exists = applyWrite(obj, step.Offset, make([]byte, step.Length))

		case OpWriteSame:
			pattern := repeatPattern(step.Data, step.Length)
			obj, exists = applyWrite(obj, step.Offset, pattern)

		case OpCmpExt:
			if !exists {
				return errors.IOf("cmpext on nonexistent object %q", oid)
			}
			got := readRange(obj, step.Offset, int64(len(step.Data)))
			if !bytes.Equal(got, step.Data) {
				return errors.IOf("cmpext mismatch on object %q at offset %d", oid, step.Offset)
			}

		case OpExec:
			// The only exec verb this demo backend understands is the
			// RBD-style copyup: materialise data iff the object does not
			// yet exist, otherwise a no-op (a racing copyup lost the race).
			if step.Class == "rbd" && step.Method == "copyup" {
				if !exists {
					obj = &object{data: append([]byte(nil), step.Data...)}
					exists = true
				}
			} else {
				return errors.NotSupportedf("exec %s.%s not supported by memstore", step.Class, step.Method)
			}

		case OpSetAllocHint, OpSetOpFlags:
			// Hints only; the in-memory backend has no allocation or
			// fadvise behavior to steer.

		default:
			return errors.Internalf("unknown op step kind %d", step.Kind)
		}
	}

	shard.objects[oid] = obj
	if obj != nil {
		s.cacheStore(oid, obj.data)
	} else {
		s.cacheInvalidate(oid)
	}
	return nil
}

// applyWrite returns the object produced by writing data at offset into
// obj, growing it (zero-filling any gap) as needed. A non-existent object
// is treated as empty before the write. obj itself is left unchanged, so
// a later failing step in the same op leaves the stored object intact.
func applyWrite(obj *object, offset int64, data []byte) (*object, bool) {
	var base []byte
	if obj != nil {
		base = obj.data
	}

	end := offset + int64(len(data))
	size := int64(len(base))
	if end > size {
		size = end
	}
	out := make([]byte, size)
	copy(out, base)
	copy(out[offset:end], data)
	return &object{data: out}, true
}

func repeatPattern(pattern []byte, length int64) []byte {
	out := make([]byte, length)
	if len(pattern) == 0 {
		return out
	}
	for i := int64(0); i < length; i++ {
		out[i] = pattern[int(i)%len(pattern)]
	}
	return out
}

// Exists reports whether oid currently has any data, for tests and the
// scrub job's verification path. It bypasses resilience wrapping since it
// is a local, synchronous diagnostic call, not a simulated network op.
func (s *MemStore) Exists(oid string) bool {
	shard := s.shardFor(oid)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	_, ok := shard.objects[oid]
	return ok
}

// Len returns the number of objects currently materialised, for tests and
// benchmarking reports.
func (s *MemStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].objects)
		s.shards[i].mu.Unlock()
	}
	return n
}
