// Package array provides the value types describing multidimensional
// array regions: global shapes, element types, and offset+count
// selections.
//
// A Selection names a sub-region of a variable's global array for one
// access. All index math is row-major: the last dimension varies
// fastest, matching how contributed buffers are laid out in memory.
//
// Components:
//   - Dims: ordered dimension extents or offsets
//   - Type: closed tagged set of numeric element types
//   - Selection: offset+count sub-region with validation
//   - Intersect: per-dimension overlap of two selections
package array
