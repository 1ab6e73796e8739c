package step

import (
	"errors"
	"time"

	"github.com/stagecast/stagecast/internal/array"
	"github.com/stagecast/stagecast/internal/variable"
)

var (
	ErrInvalidState      = errors.New("invalid step state transition")
	ErrClosed            = errors.New("stream closed")
	ErrUnknownStep       = errors.New("unknown step")
	ErrStepNotSealed     = errors.New("step not sealed")
	ErrWriterGroupSize   = errors.New("inconsistent writer group size")
	ErrReaderGroupSize   = errors.New("inconsistent reader group size")
	ErrDuplicateContrib  = errors.New("duplicate step contribution")
	ErrStreamUnavailable = errors.New("stream unavailable")
)

// Status is the result of a reader's attempt to admit a step.
type Status int

const (
	// StatusOK means a step was admitted and is active.
	StatusOK Status = iota
	// StatusNotReady means the timeout elapsed with no admissible step.
	StatusNotReady
	// StatusEndOfStream means the writer group closed and every sealed
	// step has already been admitted.
	StatusEndOfStream
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotReady:
		return "not-ready"
	case StatusEndOfStream:
		return "end-of-stream"
	default:
		return "unknown"
	}
}

// Mode selects which sealed step a reader admits next.
type Mode int

const (
	// ModeAppend allocates the next step on the writer side.
	ModeAppend Mode = iota
	// ModeNextAvailable admits the oldest sealed step not yet admitted.
	ModeNextAvailable
	// ModeLatestAvailable admits the newest sealed step, skipping
	// intermediates.
	ModeLatestAvailable
)

func (m Mode) String() string {
	switch m {
	case ModeAppend:
		return "append"
	case ModeNextAvailable:
		return "next-available"
	case ModeLatestAvailable:
		return "latest-available"
	default:
		return "unknown"
	}
}

// Payload is one writer's contribution to a step: a variable
// declaration, the written sub-region, and its bytes. The store owns
// Data once contributed; writers hand over a snapshot, never a live
// buffer.
type Payload struct {
	Var  variable.Def    `json:"var"`
	Sel  array.Selection `json:"sel"`
	Data []byte          `json:"data"`
}

// Info describes an admitted step to a reader: its sequence number and
// the variables it carries.
type Info struct {
	Seq  uint64         `json:"seq"`
	Vars []variable.Def `json:"vars"`
}

// Broker is the stream-side contract binding one writer group and one
// reader group to an ordered sequence of steps. The in-process Store
// and the bridge client both implement it.
type Broker interface {
	// Writer side. OpenWriter declares one rank of the writer group
	// and the group's size; every rank calls it. CompleteStep records
	// one rank's payloads for a step; the step seals when all ranks
	// have completed it. CloseWriter marks a rank done; when the last
	// rank closes, readers drain and then observe end of stream.
	OpenWriter(rank, size int) error
	CompleteStep(rank int, seq uint64, payloads []Payload) error
	CloseWriter(rank int) error

	// Reader side. OpenReader registers one member of the reader
	// group and declares the group's size, so retirement-based
	// cleanup can wait for the whole group. Await blocks (bounded by
	// timeout; 0 polls, negative waits indefinitely) for a sealed
	// step after the given sequence, admitting it for readerID on
	// StatusOK. Read executes one selection against an admitted step.
	// Retire releases the admission.
	OpenReader(id string, groupSize int) error
	Await(readerID string, mode Mode, after int64, timeout time.Duration) (Info, Status, error)
	Read(seq uint64, name string, sel array.Selection, dst []byte) error
	Retire(readerID string, seq uint64) error
	CloseReader(id string) error
}
