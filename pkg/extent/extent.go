// Package extent models byte ranges within an address space (object-local
// or image-global) and the striping layout that maps between them.
package extent

import (
	"sort"

	"cloneio/pkg/helper/errors"
)

// Extent is a byte range [Offset, Offset+Length) within some address space.
// Length must be > 0.
type Extent struct {
	Offset int64
	Length int64
}

// End returns the first byte past the extent.
func (e Extent) End() int64 {
	return e.Offset + e.Length
}

// Overlaps reports whether e and o share at least one byte.
func (e Extent) Overlaps(o Extent) bool {
	return e.Offset < o.End() && o.Offset < e.End()
}

// Vector is a set of disjoint extents in ascending offset order.
type Vector []Extent

// TotalLength returns the sum of all extent lengths in the vector.
func (v Vector) TotalLength() int64 {
	var total int64
	for _, e := range v {
		total += e.Length
	}
	return total
}

// IsEmpty reports whether the vector has no bytes.
func (v Vector) IsEmpty() bool {
	return v.TotalLength() == 0
}

// Normalize sorts the vector by offset and merges adjacent/overlapping
// extents, returning a new disjoint, ascending vector.
func Normalize(v Vector) Vector {
	if len(v) == 0 {
		return nil
	}

	sorted := make(Vector, len(v))
	copy(sorted, v)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	merged := make(Vector, 0, len(sorted))
	current := sorted[0]
	for _, e := range sorted[1:] {
		if e.Offset <= current.End() {
			if e.End() > current.End() {
				current.Length = e.End() - current.Offset
			}
			continue
		}
		merged = append(merged, current)
		current = e
	}
	merged = append(merged, current)

	return merged
}

// Layout describes how an image's logical address space is striped across
// fixed-size backing objects.
type Layout struct {
	ObjectSizeBytes int64
	StripeUnit      int64
	StripeCount     int64
}

// Validate checks that the layout's parameters are self-consistent.
func (l Layout) Validate() error {
	if l.ObjectSizeBytes <= 0 {
		return errors.InvalidInputf("object size must be positive, got %d", l.ObjectSizeBytes)
	}
	if l.StripeUnit <= 0 {
		return errors.InvalidInputf("stripe unit must be positive, got %d", l.StripeUnit)
	}
	if l.StripeCount <= 0 {
		return errors.InvalidInputf("stripe count must be positive, got %d", l.StripeCount)
	}
	if l.ObjectSizeBytes%l.StripeUnit != 0 {
		return errors.InvalidInputf("object size %d must be a multiple of stripe unit %d", l.ObjectSizeBytes, l.StripeUnit)
	}
	return nil
}

// Mapper converts between (object number, intra-object extent) and
// image-space extents under a fixed striping layout.
type Mapper interface {
	// ObjectToImageExtents maps a byte range local to one backing object
	// into the image-space extents it corresponds to.
	ObjectToImageExtents(objectNo int64, intraOff, intraLen int64) (Vector, error)

	// ObjectSize returns the fixed size of a backing object in bytes.
	ObjectSize() int64
}

// StripeMapper maps object extents to image space for a Layout. An object
// holds ObjectSizeBytes/StripeUnit stripe units. With StripeCount 1,
// object number N covers image bytes [N*ObjectSizeBytes,
// (N+1)*ObjectSizeBytes). Striping across multiple objects per stripe
// period (StripeCount > 1) interleaves stripe units round-robin across a
// stripe of StripeCount objects.
type StripeMapper struct {
	layout Layout
}

// NewStripeMapper creates a Mapper for the given layout.
func NewStripeMapper(layout Layout) (*StripeMapper, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return &StripeMapper{layout: layout}, nil
}

// ObjectSize returns the configured backing object size.
func (m *StripeMapper) ObjectSize() int64 {
	return m.layout.ObjectSizeBytes
}

// ObjectToImageExtents implements Mapper. With StripeCount == 1 the mapping
// is a direct affine shift. With StripeCount > 1, object numbers are
// assigned to stripe-unit-sized periods round-robin across the stripe: the
// period index for object N is N / StripeCount, and its position within the
// stripe is N % StripeCount.
func (m *StripeMapper) ObjectToImageExtents(objectNo int64, intraOff, intraLen int64) (Vector, error) {
	if objectNo < 0 {
		return nil, errors.InvalidInputf("object number must be non-negative, got %d", objectNo)
	}
	if intraLen <= 0 {
		return nil, errors.InvalidInputf("intra-object length must be positive, got %d", intraLen)
	}
	if intraOff < 0 || intraOff+intraLen > m.layout.ObjectSizeBytes {
		return nil, errors.InvalidInputf(
			"intra-object extent [%d, %d) exceeds object size %d",
			intraOff, intraOff+intraLen, m.layout.ObjectSizeBytes,
		)
	}

	unit := m.layout.StripeUnit
	stripeCount := m.layout.StripeCount
	unitsPerObject := m.layout.ObjectSizeBytes / unit

	result := make(Vector, 0, unitsPerObject)
	for unitInObject := intraOff / unit; unitInObject*unit < intraOff+intraLen; unitInObject++ {
		unitStart := unitInObject * unit
		unitEnd := unitStart + unit

		segStart := unitStart
		if segStart < intraOff {
			segStart = intraOff
		}
		segEnd := unitEnd
		if segEnd > intraOff+intraLen {
			segEnd = intraOff + intraLen
		}
		if segEnd <= segStart {
			continue
		}

		periodIndex := objectNo / stripeCount
		posInStripe := objectNo % stripeCount

		imageUnitIndex := periodIndex*stripeCount*unitsPerObject + unitInObject*stripeCount + posInStripe
		imageOffset := imageUnitIndex*unit + (segStart - unitStart)

		result = append(result, Extent{
			Offset: imageOffset,
			Length: segEnd - segStart,
		})
	}

	return Normalize(result), nil
}
