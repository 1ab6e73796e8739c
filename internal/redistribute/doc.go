// Package redistribute computes and executes the data movement that
// satisfies a reader's selection from the blocks contributed by an
// arbitrary set of writers.
//
// Writers and readers decompose the global array independently; neither
// side knows the other's process count or partitioning. For each
// contributed block that intersects the requested region, only the
// intersection is copied, row by row, from the block's local row-major
// layout into the destination buffer's layout relative to the request.
//
// Blocks are applied in registration order, so a sub-region covered by
// more than one block ends up with the last-applied block's values.
// Elements of the request not covered by any block are left untouched.
package redistribute
