// Package step implements the step-synchronized staging protocol: the
// per-handle state machine, the stream's step store, and the broker
// contract that binds writer and reader groups together.
//
// A step is one sequence-numbered unit of produced data. Writers each
// contribute their payloads for a step; the step seals when every
// writer rank in the group has contributed, and only sealed steps are
// visible to readers. Readers admit sealed steps in order, read from
// them, and retire them. Once every writer closes, readers drain the
// remaining sealed steps and then observe end of stream.
//
// Liveness is the reader's concern: the only suspension point in the
// protocol is a reader waiting for the next sealed step, bounded by a
// timeout and interrupted by writer-group close.
package step
