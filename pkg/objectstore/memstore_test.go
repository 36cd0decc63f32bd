package objectstore

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *MemStore {
	t.Helper()
	return NewMemStore(16, nil, nil, nil)
}

func mustWait(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
}

func TestAioReadNonexistentReturnsZeros(t *testing.T) {
	s := newTestStore(t)
	done := make(chan struct{})

	var got []byte
	var gotErr error
	if err := s.AioRead(context.Background(), "obj.0", 0, 16, func(data []byte, err error) {
		got, gotErr = data, err
		close(done)
	}); err != nil {
		t.Fatalf("AioRead() error = %v", err)
	}
	mustWait(t, done)

	if gotErr != nil {
		t.Fatalf("completion error = %v", gotErr)
	}
	if len(got) != 16 {
		t.Fatalf("len(got) = %d, want 16", len(got))
	}
	for i, b := range got {
		if b != 0 {
			t.Fatalf("got[%d] = %d, want 0", i, b)
		}
	}
}

func TestAioOperateWriteThenRead(t *testing.T) {
	s := newTestStore(t)
	writeDone := make(chan struct{})

	op := NewOp().Write(0, []byte("hello world"))
	var writeErr error
	if err := s.AioOperate(context.Background(), "obj.0", op, SnapContext{}, func(n int64, err error) {
		writeErr = err
		close(writeDone)
	}); err != nil {
		t.Fatalf("AioOperate() error = %v", err)
	}
	mustWait(t, writeDone)
	if writeErr != nil {
		t.Fatalf("write completion error = %v", writeErr)
	}

	readDone := make(chan struct{})
	var got []byte
	if err := s.AioRead(context.Background(), "obj.0", 0, 11, func(data []byte, err error) {
		got = data
		close(readDone)
	}); err != nil {
		t.Fatalf("AioRead() error = %v", err)
	}
	mustWait(t, readDone)

	if string(got) != "hello world" {
		t.Errorf("got %q, want %q", got, "hello world")
	}
}

func TestAioOperateAssertExistsFails(t *testing.T) {
	s := newTestStore(t)
	done := make(chan struct{})

	op := NewOp().AssertExists().Write(0, []byte("x"))
	var gotErr error
	if err := s.AioOperate(context.Background(), "obj.missing", op, SnapContext{}, func(n int64, err error) {
		gotErr = err
		close(done)
	}); err != nil {
		t.Fatalf("AioOperate() error = %v", err)
	}
	mustWait(t, done)

	if gotErr == nil {
		t.Fatal("expected AssertExists on missing object to fail")
	}
	if s.Exists("obj.missing") {
		t.Error("expected failed op to leave object nonexistent")
	}
}

func TestAioOperateCopyupSkipsIfExists(t *testing.T) {
	s := newTestStore(t)

	firstDone := make(chan struct{})
	op1 := NewOp().Write(0, []byte("original"))
	if err := s.AioOperate(context.Background(), "obj.0", op1, SnapContext{}, func(n int64, err error) {
		close(firstDone)
	}); err != nil {
		t.Fatalf("AioOperate() error = %v", err)
	}
	mustWait(t, firstDone)

	copyupDone := make(chan struct{})
	op2 := NewOp().Exec("rbd", "copyup", []byte("parent-data-longer-than-original"))
	if err := s.AioOperate(context.Background(), "obj.0", op2, SnapContext{}, func(n int64, err error) {
		close(copyupDone)
	}); err != nil {
		t.Fatalf("AioOperate() error = %v", err)
	}
	mustWait(t, copyupDone)

	readDone := make(chan struct{})
	var got []byte
	if err := s.AioRead(context.Background(), "obj.0", 0, 8, func(data []byte, err error) {
		got = data
		close(readDone)
	}); err != nil {
		t.Fatalf("AioRead() error = %v", err)
	}
	mustWait(t, readDone)

	if string(got) != "original" {
		t.Errorf("got %q, want copyup to be skipped and original data preserved", got)
	}
}

func TestAioOperateCmpExtMismatch(t *testing.T) {
	s := newTestStore(t)
	writeDone := make(chan struct{})
	if err := s.AioOperate(context.Background(), "obj.0", NewOp().Write(0, []byte("abcdefgh")), SnapContext{}, func(n int64, err error) {
		close(writeDone)
	}); err != nil {
		t.Fatalf("AioOperate() error = %v", err)
	}
	mustWait(t, writeDone)

	cmpDone := make(chan struct{})
	var gotErr error
	op := NewOp().CmpExt(0, []byte("zzzzzzzz")).Write(0, []byte("shouldnotapply"))
	if err := s.AioOperate(context.Background(), "obj.0", op, SnapContext{}, func(n int64, err error) {
		gotErr = err
		close(cmpDone)
	}); err != nil {
		t.Fatalf("AioOperate() error = %v", err)
	}
	mustWait(t, cmpDone)

	if gotErr == nil {
		t.Fatal("expected cmpext mismatch to fail the op")
	}
}

func TestAioSparseReadReportsNoExtentsForMissingObject(t *testing.T) {
	s := newTestStore(t)
	done := make(chan struct{})

	var extents []SparseExtent
	var gotErr error
	if err := s.AioSparseRead(context.Background(), "obj.missing", 0, 4096, func(e []SparseExtent, data []byte, err error) {
		extents, gotErr = e, err
		close(done)
	}); err != nil {
		t.Fatalf("AioSparseRead() error = %v", err)
	}
	mustWait(t, done)

	if gotErr != nil {
		t.Fatalf("completion error = %v", gotErr)
	}
	if extents != nil {
		t.Errorf("expected nil extents for missing object, got %+v", extents)
	}
}

func TestAioSparseReadReportsOneExtentForPresentObject(t *testing.T) {
	s := newTestStore(t)
	writeDone := make(chan struct{})
	if err := s.AioOperate(context.Background(), "obj.0", NewOp().Write(0, []byte("data")), SnapContext{}, func(n int64, err error) {
		close(writeDone)
	}); err != nil {
		t.Fatalf("AioOperate() error = %v", err)
	}
	mustWait(t, writeDone)

	readDone := make(chan struct{})
	var extents []SparseExtent
	if err := s.AioSparseRead(context.Background(), "obj.0", 0, 4, func(e []SparseExtent, data []byte, err error) {
		extents = e
		close(readDone)
	}); err != nil {
		t.Fatalf("AioSparseRead() error = %v", err)
	}
	mustWait(t, readDone)

	if len(extents) != 1 || extents[0].Offset != 0 || extents[0].Length != 4 {
		t.Errorf("extents = %+v, want one extent {0,4}", extents)
	}
}

func TestMemStoreLenAndExists(t *testing.T) {
	s := newTestStore(t)
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}

	done := make(chan struct{})
	if err := s.AioOperate(context.Background(), "obj.0", NewOp().Write(0, []byte("x")), SnapContext{}, func(n int64, err error) {
		close(done)
	}); err != nil {
		t.Fatalf("AioOperate() error = %v", err)
	}
	mustWait(t, done)

	if !s.Exists("obj.0") {
		t.Error("expected obj.0 to exist after write")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}
