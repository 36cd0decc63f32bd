package parent

import (
	"reflect"
	"testing"

	"cloneio/pkg/extent"
	"cloneio/pkg/helper/errors"
)

func TestStaticViewNoParent(t *testing.T) {
	v := NewStaticView(false, nil)
	if v.IsParentAttached() {
		t.Error("expected no parent attached")
	}
	bytes, ok := v.ParentOverlap(HeadSnapID)
	if !ok || bytes != 0 {
		t.Errorf("expected (0, true) for detached parent, got (%d, %v)", bytes, ok)
	}
}

func TestStaticViewParentOverlap(t *testing.T) {
	v := NewStaticView(true, map[SnapID]int64{HeadSnapID: 8192})

	bytes, ok := v.ParentOverlap(HeadSnapID)
	if !ok || bytes != 8192 {
		t.Errorf("expected (8192, true), got (%d, %v)", bytes, ok)
	}

	_, ok = v.ParentOverlap(SnapID(42))
	if ok {
		t.Error("expected unknown snapshot id to report not-ok")
	}
}

func TestStaticViewPruneParentExtents(t *testing.T) {
	v := NewStaticView(true, nil)

	tests := []struct {
		name    string
		in      extent.Vector
		overlap int64
		want    extent.Vector
		total   int64
	}{
		{
			name:    "fully within overlap",
			in:      extent.Vector{{Offset: 0, Length: 100}},
			overlap: 4096,
			want:    extent.Vector{{Offset: 0, Length: 100}},
			total:   100,
		},
		{
			name:    "partially within overlap",
			in:      extent.Vector{{Offset: 4000, Length: 200}},
			overlap: 4096,
			want:    extent.Vector{{Offset: 4000, Length: 96}},
			total:   96,
		},
		{
			name:    "entirely past overlap",
			in:      extent.Vector{{Offset: 5000, Length: 100}},
			overlap: 4096,
			want:    nil,
			total:   0,
		},
		{
			name:    "zero overlap",
			in:      extent.Vector{{Offset: 0, Length: 100}},
			overlap: 0,
			want:    nil,
			total:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total := v.PruneParentExtents(tt.in, tt.overlap)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PruneParentExtents() extents = %+v, want %+v", got, tt.want)
			}
			if total != tt.total {
				t.Errorf("PruneParentExtents() total = %d, want %d", total, tt.total)
			}
		})
	}
}

func TestStaticViewDetach(t *testing.T) {
	v := NewStaticView(true, map[SnapID]int64{HeadSnapID: 4096})
	v.Detach()

	if v.IsParentAttached() {
		t.Error("expected parent detached")
	}
	bytes, ok := v.ParentOverlap(HeadSnapID)
	if !ok || bytes != 0 {
		t.Errorf("expected (0, true) after detach, got (%d, %v)", bytes, ok)
	}
}

func TestStaticViewDeleteSnapshot(t *testing.T) {
	v := NewStaticView(true, map[SnapID]int64{HeadSnapID: 4096})
	v.DeleteSnapshot(HeadSnapID)

	if _, ok := v.ParentOverlap(HeadSnapID); ok {
		t.Error("expected deleted snapshot to report not-ok")
	}
}

func TestComputeOverlapForRequestNoParent(t *testing.T) {
	v := NewStaticView(false, nil)
	candidate := extent.Vector{{Offset: 0, Length: 4096}}

	got, hasOverlap, err := ComputeOverlapForRequest(v, HeadSnapID, candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hasOverlap || got != nil {
		t.Errorf("expected no overlap for detached parent, got %+v, %v", got, hasOverlap)
	}
}

func TestComputeOverlapForRequestWithOverlap(t *testing.T) {
	v := NewStaticView(true, map[SnapID]int64{HeadSnapID: 2048})
	candidate := extent.Vector{{Offset: 0, Length: 4096}}

	got, hasOverlap, err := ComputeOverlapForRequest(v, HeadSnapID, candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasOverlap {
		t.Fatal("expected overlap")
	}
	want := extent.Vector{{Offset: 0, Length: 2048}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestComputeOverlapForRequestSnapshotGone(t *testing.T) {
	v := NewStaticView(true, nil)
	candidate := extent.Vector{{Offset: 0, Length: 4096}}

	_, hasOverlap, err := ComputeOverlapForRequest(v, SnapID(99), candidate)
	if hasOverlap {
		t.Error("expected no overlap when snapshot is gone")
	}
	if !errors.Is(err, errors.ErrSnapshotGone) {
		t.Errorf("expected ErrSnapshotGone, got %v", err)
	}
}
