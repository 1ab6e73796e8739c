package array

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSelection = errors.New("invalid selection")
	ErrTypeMismatch     = errors.New("element type mismatch")
)

// Dims holds one value per dimension: extents for shapes and counts,
// positions for offsets.
type Dims []int

// Clone returns an independent copy.
func (d Dims) Clone() Dims {
	if d == nil {
		return nil
	}
	out := make(Dims, len(d))
	copy(out, d)
	return out
}

// Equal reports whether two Dims have the same rank and values.
func (d Dims) Equal(other Dims) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if d[i] != other[i] {
			return false
		}
	}
	return true
}

// Elements returns the product of all extents.
func (d Dims) Elements() int {
	n := 1
	for _, v := range d {
		n *= v
	}
	return n
}

func (d Dims) String() string {
	return fmt.Sprintf("%v", []int(d))
}

// Type identifies an element type from the closed numeric set.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat32
	TypeFloat64
)

// Size returns the element size in bytes, or 0 for TypeUnknown.
func (t Type) Size() int {
	switch t {
	case TypeInt8, TypeUint8:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeInt64, TypeUint64, TypeFloat64:
		return 8
	default:
		return 0
	}
}

// String returns the canonical type name.
func (t Type) String() string {
	switch t {
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeInt64:
		return "int64"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeUint64:
		return "uint64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// Selection describes one offset+count sub-region of a global array.
// Start and Count always have the same rank as the global shape.
type Selection struct {
	Start Dims `json:"start"`
	Count Dims `json:"count"`
}

// NewSelection validates rank agreement, non-negative offsets, and
// strictly positive counts. Bounds against a concrete global shape are
// checked separately with Within, since a Selection is constructed
// before it is bound to a variable.
func NewSelection(start, count Dims) (Selection, error) {
	if len(start) != len(count) {
		return Selection{}, fmt.Errorf("%w: rank mismatch between offset %v and count %v",
			ErrInvalidSelection, start, count)
	}
	if len(count) == 0 {
		return Selection{}, fmt.Errorf("%w: zero rank", ErrInvalidSelection)
	}
	for d := range count {
		if start[d] < 0 {
			return Selection{}, fmt.Errorf("%w: negative offset %d in dimension %d",
				ErrInvalidSelection, start[d], d)
		}
		if count[d] <= 0 {
			return Selection{}, fmt.Errorf("%w: non-positive count %d in dimension %d",
				ErrInvalidSelection, count[d], d)
		}
	}
	return Selection{Start: start.Clone(), Count: count.Clone()}, nil
}

// Within checks that the selection fits inside the given global shape.
func (s Selection) Within(shape Dims) error {
	if len(s.Start) != len(shape) {
		return fmt.Errorf("%w: selection rank %d does not match shape rank %d",
			ErrInvalidSelection, len(s.Start), len(shape))
	}
	for d := range shape {
		if s.Start[d]+s.Count[d] > shape[d] {
			return fmt.Errorf("%w: offset %d + count %d exceeds extent %d in dimension %d",
				ErrInvalidSelection, s.Start[d], s.Count[d], shape[d], d)
		}
	}
	return nil
}

// Rank returns the number of dimensions.
func (s Selection) Rank() int { return len(s.Count) }

// Elements returns the number of elements covered by the selection.
func (s Selection) Elements() int { return s.Count.Elements() }

// End returns the exclusive upper corner, start+count per dimension.
func (s Selection) End() Dims {
	end := make(Dims, len(s.Start))
	for d := range s.Start {
		end[d] = s.Start[d] + s.Count[d]
	}
	return end
}

// Contains reports whether the global coordinate lies inside the selection.
func (s Selection) Contains(coord Dims) bool {
	if len(coord) != len(s.Start) {
		return false
	}
	for d := range coord {
		if coord[d] < s.Start[d] || coord[d] >= s.Start[d]+s.Count[d] {
			return false
		}
	}
	return true
}

func (s Selection) String() string {
	return fmt.Sprintf("start%v count%v", s.Start, s.Count)
}

// Intersect returns the per-dimension overlap of two selections:
// max of starts, min of ends. ok is false when the regions are disjoint
// or of different rank.
func Intersect(a, b Selection) (Selection, bool) {
	if a.Rank() != b.Rank() {
		return Selection{}, false
	}
	start := make(Dims, a.Rank())
	count := make(Dims, a.Rank())
	aEnd, bEnd := a.End(), b.End()
	for d := 0; d < a.Rank(); d++ {
		lo := max(a.Start[d], b.Start[d])
		hi := min(aEnd[d], bEnd[d])
		if hi <= lo {
			return Selection{}, false
		}
		start[d] = lo
		count[d] = hi - lo
	}
	return Selection{Start: start, Count: count}, true
}

// Offset returns the row-major linear element offset of a global
// coordinate relative to the selection's own buffer layout. The
// coordinate must lie inside the selection.
func (s Selection) Offset(coord Dims) int {
	off := 0
	for d := range coord {
		off = off*s.Count[d] + (coord[d] - s.Start[d])
	}
	return off
}
