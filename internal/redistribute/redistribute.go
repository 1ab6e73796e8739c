package redistribute

import (
	"errors"
	"fmt"

	"github.com/stagecast/stagecast/internal/array"
)

var ErrShortBuffer = errors.New("buffer too small for selection")

// Block is one writer's contribution: a selection of the global array
// and the raw bytes for it, laid out row-major within the selection.
type Block struct {
	Sel  array.Selection
	Data []byte
}

// Gather satisfies the request from the given blocks, copying each
// intersection into dst, which is laid out row-major relative to req.
// Blocks are applied in slice order; later blocks overwrite earlier
// ones where they overlap. Uncovered elements of dst are not written.
func Gather(dst []byte, req array.Selection, elemSize int, blocks []Block) error {
	if elemSize <= 0 {
		return fmt.Errorf("invalid element size %d", elemSize)
	}
	if need := req.Elements() * elemSize; len(dst) < need {
		return fmt.Errorf("%w: destination holds %d bytes, request needs %d", ErrShortBuffer, len(dst), need)
	}
	for _, b := range blocks {
		region, ok := array.Intersect(b.Sel, req)
		if !ok {
			continue
		}
		if need := b.Sel.Elements() * elemSize; len(b.Data) < need {
			return fmt.Errorf("%w: block %s holds %d bytes, needs %d", ErrShortBuffer, b.Sel, len(b.Data), need)
		}
		copyRegion(dst, req, b.Data, b.Sel, region, elemSize)
	}
	return nil
}

// copyRegion moves the elements of region from src (laid out for
// srcBox) into dst (laid out for dstBox). The innermost dimension of
// region is contiguous in both layouts, so it moves as one run per row.
func copyRegion(dst []byte, dstBox array.Selection, src []byte, srcBox, region array.Selection, elemSize int) {
	rank := region.Rank()
	rowBytes := region.Count[rank-1] * elemSize

	coord := region.Start.Clone()
	for {
		srcOff := srcBox.Offset(coord) * elemSize
		dstOff := dstBox.Offset(coord) * elemSize
		copy(dst[dstOff:dstOff+rowBytes], src[srcOff:srcOff+rowBytes])

		// advance the odometer over all but the last dimension
		d := rank - 2
		for d >= 0 {
			coord[d]++
			if coord[d] < region.Start[d]+region.Count[d] {
				break
			}
			coord[d] = region.Start[d]
			d--
		}
		if d < 0 {
			return
		}
	}
}

// Covered reports whether the union of the block selections fully
// covers the request. Works by subtracting each selection from a
// worklist of uncovered boxes.
func Covered(req array.Selection, sels []array.Selection) bool {
	uncovered := []array.Selection{req}
	for _, sel := range sels {
		next := uncovered[:0:0]
		for _, box := range uncovered {
			next = append(next, subtract(box, sel)...)
		}
		uncovered = next
		if len(uncovered) == 0 {
			return true
		}
	}
	return len(uncovered) == 0
}

// subtract returns box minus cut as a list of disjoint boxes. Splits
// one dimension at a time, peeling off the parts of box outside cut.
func subtract(box, cut array.Selection) []array.Selection {
	overlap, ok := array.Intersect(box, cut)
	if !ok {
		return []array.Selection{box}
	}
	var rest []array.Selection
	remaining := array.Selection{Start: box.Start.Clone(), Count: box.Count.Clone()}
	overlapEnd := overlap.End()
	for d := 0; d < box.Rank(); d++ {
		lo := overlap.Start[d]
		hi := overlapEnd[d]
		if before := lo - remaining.Start[d]; before > 0 {
			part := array.Selection{Start: remaining.Start.Clone(), Count: remaining.Count.Clone()}
			part.Count[d] = before
			rest = append(rest, part)
		}
		if after := remaining.Start[d] + remaining.Count[d] - hi; after > 0 {
			part := array.Selection{Start: remaining.Start.Clone(), Count: remaining.Count.Clone()}
			part.Start[d] = hi
			part.Count[d] = after
			rest = append(rest, part)
		}
		remaining.Start[d] = lo
		remaining.Count[d] = hi - lo
	}
	return rest
}
