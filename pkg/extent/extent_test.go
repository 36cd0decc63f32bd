package extent

import (
	"reflect"
	"testing"
)

func TestExtentOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Extent
		want bool
	}{
		{"disjoint", Extent{0, 10}, Extent{10, 10}, false},
		{"overlapping", Extent{0, 10}, Extent{5, 10}, true},
		{"identical", Extent{0, 10}, Extent{0, 10}, true},
		{"contained", Extent{0, 100}, Extent{10, 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVectorTotalLength(t *testing.T) {
	v := Vector{{0, 10}, {20, 5}}
	if got := v.TotalLength(); got != 15 {
		t.Errorf("TotalLength() = %d, want 15", got)
	}
	if Vector(nil).TotalLength() != 0 {
		t.Error("expected 0 for nil vector")
	}
}

func TestVectorIsEmpty(t *testing.T) {
	if !(Vector{}).IsEmpty() {
		t.Error("expected empty vector to report empty")
	}
	if (Vector{{0, 1}}).IsEmpty() {
		t.Error("expected non-empty vector to not report empty")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Vector
		want Vector
	}{
		{
			name: "already disjoint",
			in:   Vector{{0, 10}, {20, 10}},
			want: Vector{{0, 10}, {20, 10}},
		},
		{
			name: "out of order",
			in:   Vector{{20, 10}, {0, 10}},
			want: Vector{{0, 10}, {20, 10}},
		},
		{
			name: "adjacent merges",
			in:   Vector{{0, 10}, {10, 10}},
			want: Vector{{0, 20}},
		},
		{
			name: "overlapping merges",
			in:   Vector{{0, 10}, {5, 10}},
			want: Vector{{0, 15}},
		},
		{
			name: "nil input",
			in:   nil,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name    string
		layout  Layout
		wantErr bool
	}{
		{"valid", Layout{ObjectSizeBytes: 4 << 20, StripeUnit: 4 << 20, StripeCount: 1}, false},
		{"valid striped", Layout{ObjectSizeBytes: 4 << 20, StripeUnit: 1 << 20, StripeCount: 4}, false},
		{"zero object size", Layout{ObjectSizeBytes: 0, StripeUnit: 1, StripeCount: 1}, true},
		{"zero stripe unit", Layout{ObjectSizeBytes: 10, StripeUnit: 0, StripeCount: 1}, true},
		{"zero stripe count", Layout{ObjectSizeBytes: 10, StripeUnit: 10, StripeCount: 0}, true},
		{"non-multiple", Layout{ObjectSizeBytes: 10, StripeUnit: 3, StripeCount: 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.layout.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStripeMapperSingleObjectPerStripe(t *testing.T) {
	m, err := NewStripeMapper(Layout{ObjectSizeBytes: 4 << 20, StripeUnit: 4 << 20, StripeCount: 1})
	if err != nil {
		t.Fatalf("NewStripeMapper() error = %v", err)
	}

	got, err := m.ObjectToImageExtents(3, 100, 200)
	if err != nil {
		t.Fatalf("ObjectToImageExtents() error = %v", err)
	}

	want := Vector{{Offset: 3*(4<<20) + 100, Length: 200}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ObjectToImageExtents() = %+v, want %+v", got, want)
	}
}

func TestStripeMapperMultiObjectStripe(t *testing.T) {
	m, err := NewStripeMapper(Layout{ObjectSizeBytes: 1 << 20, StripeUnit: 1 << 20, StripeCount: 4})
	if err != nil {
		t.Fatalf("NewStripeMapper() error = %v", err)
	}

	// Object 0 covers the first stripe unit in period 0.
	got, err := m.ObjectToImageExtents(0, 0, 1<<20)
	if err != nil {
		t.Fatalf("ObjectToImageExtents() error = %v", err)
	}
	want := Vector{{Offset: 0, Length: 1 << 20}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("object 0: got %+v, want %+v", got, want)
	}

	// Object 1 is position 1 in the stripe, same period: offset is the
	// second stripe unit of the image.
	got, err = m.ObjectToImageExtents(1, 0, 1<<20)
	if err != nil {
		t.Fatalf("ObjectToImageExtents() error = %v", err)
	}
	want = Vector{{Offset: 1 << 20, Length: 1 << 20}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("object 1: got %+v, want %+v", got, want)
	}

	// Object 4 starts the next period, back at stripe position 0.
	got, err = m.ObjectToImageExtents(4, 0, 1<<20)
	if err != nil {
		t.Fatalf("ObjectToImageExtents() error = %v", err)
	}
	want = Vector{{Offset: 4 << 20, Length: 1 << 20}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("object 4: got %+v, want %+v", got, want)
	}
}

func TestStripeMapperRejectsOutOfRangeExtent(t *testing.T) {
	m, err := NewStripeMapper(Layout{ObjectSizeBytes: 4 << 20, StripeUnit: 4 << 20, StripeCount: 1})
	if err != nil {
		t.Fatalf("NewStripeMapper() error = %v", err)
	}

	if _, err := m.ObjectToImageExtents(0, 4<<20, 1); err == nil {
		t.Error("expected error for intra-object extent past object size")
	}
	if _, err := m.ObjectToImageExtents(-1, 0, 1); err == nil {
		t.Error("expected error for negative object number")
	}
	if _, err := m.ObjectToImageExtents(0, 0, 0); err == nil {
		t.Error("expected error for zero-length extent")
	}
}
