package objectmap

import (
	"context"
	"sync"
	"testing"
)

func TestNewMapAllNonExistent(t *testing.T) {
	m := New(4, nil)
	for i := int64(0); i < 4; i++ {
		state, err := m.Get(i)
		if err != nil {
			t.Fatalf("Get(%d) error = %v", i, err)
		}
		if state != NonExistent {
			t.Errorf("Get(%d) = %v, want NONEXISTENT", i, state)
		}
	}
}

func TestDisabledMap(t *testing.T) {
	m := NewDisabled()
	if m.Enabled() {
		t.Error("expected disabled map to report Enabled() == false")
	}
	if !m.ObjectMayExist(0) {
		t.Error("expected disabled map to always report object may exist")
	}

	accepted := m.AioUpdate(context.Background(), 0, Exists, nil, func(bool, error) {
		t.Fatal("completion should not fire for disabled map")
	})
	if accepted {
		t.Error("expected AioUpdate on disabled map to return false synchronously")
	}
}

func TestGetOutOfRange(t *testing.T) {
	m := New(2, nil)
	if _, err := m.Get(5); err == nil {
		t.Error("expected error for out-of-range object number")
	}
}

func TestObjectMayExist(t *testing.T) {
	m := New(2, nil)
	if m.ObjectMayExist(0) {
		t.Error("expected NONEXISTENT object to report may-not-exist")
	}

	if _, err := m.Update(0, Exists, nil); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !m.ObjectMayExist(0) {
		t.Error("expected EXISTS object to report may-exist")
	}
}

func TestAioUpdateUnconditional(t *testing.T) {
	m := New(1, nil)

	var accepted bool
	done := make(chan struct{})
	m.AioUpdate(context.Background(), 0, Pending, nil, func(a bool, err error) {
		accepted = a
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		close(done)
	})
	<-done

	if !accepted {
		t.Error("expected unconditional update to be accepted")
	}
	state, _ := m.Get(0)
	if state != Pending {
		t.Errorf("Get(0) = %v, want PENDING", state)
	}
}

func TestAioUpdateConditionalRejected(t *testing.T) {
	m := New(1, nil)
	expected := Pending // current is NONEXISTENT, so this CAS should fail

	accepted, err := m.Update(0, NonExistent, &expected)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if accepted {
		t.Error("expected CAS with wrong expected state to be rejected")
	}

	state, _ := m.Get(0)
	if state != NonExistent {
		t.Errorf("Get(0) = %v, want unchanged NONEXISTENT", state)
	}
}

func TestAioUpdateConditionalAccepted(t *testing.T) {
	m := New(1, nil)
	if _, err := m.Update(0, Pending, nil); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	expected := Pending
	accepted, err := m.Update(0, NonExistent, &expected)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if !accepted {
		t.Error("expected CAS with correct expected state to be accepted")
	}

	state, _ := m.Get(0)
	if state != NonExistent {
		t.Errorf("Get(0) = %v, want NONEXISTENT", state)
	}
}

func TestResizeGrowsAndPreserves(t *testing.T) {
	m := New(2, nil)
	if _, err := m.Update(1, Exists, nil); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	m.Resize(5)
	if m.Len() != 5 {
		t.Errorf("Len() = %d, want 5", m.Len())
	}

	state, err := m.Get(1)
	if err != nil || state != Exists {
		t.Errorf("Get(1) = %v, %v, want EXISTS, nil", state, err)
	}

	state, err = m.Get(4)
	if err != nil || state != NonExistent {
		t.Errorf("Get(4) = %v, %v, want NONEXISTENT, nil", state, err)
	}

	// Shrinking is a no-op.
	m.Resize(3)
	if m.Len() != 5 {
		t.Errorf("Len() after shrink attempt = %d, want unchanged 5", m.Len())
	}
}

func TestSnapshot(t *testing.T) {
	m := New(3, nil)
	if _, err := m.Update(1, Exists, nil); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	snap := m.Snapshot()
	want := []State{NonExistent, Exists, NonExistent}
	for i := range want {
		if snap[i] != want[i] {
			t.Errorf("Snapshot()[%d] = %v, want %v", i, snap[i], want[i])
		}
	}
}

func TestAioUpdateConcurrentSafety(t *testing.T) {
	m := New(1, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.AioUpdate(context.Background(), 0, Exists, nil, nil)
		}()
	}
	wg.Wait()

	state, err := m.Get(0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if state != Exists {
		t.Errorf("Get(0) = %v, want EXISTS", state)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		NonExistent: "NONEXISTENT",
		Exists:      "EXISTS",
		Pending:     "PENDING",
		ExistsClean: "EXISTS_CLEAN",
		State(99):   "UNKNOWN",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
