package stagecast

import (
	"github.com/stagecast/stagecast/internal/array"
	"github.com/stagecast/stagecast/internal/comm"
	"github.com/stagecast/stagecast/internal/comm/inproc"
	"github.com/stagecast/stagecast/internal/step"
	"github.com/stagecast/stagecast/internal/variable"
)

// Mode selects the side of a stream a handle participates on.
type Mode int

const (
	ModeWrite Mode = iota
	ModeRead
)

func (m Mode) String() string {
	switch m {
	case ModeWrite:
		return "write"
	case ModeRead:
		return "read"
	default:
		return "unknown"
	}
}

// Dims holds one extent or offset per dimension.
type Dims = array.Dims

// DataType tags an element type from the closed numeric set.
type DataType = array.Type

// Element types supported for variables.
const (
	TypeInt8    = array.TypeInt8
	TypeInt16   = array.TypeInt16
	TypeInt32   = array.TypeInt32
	TypeInt64   = array.TypeInt64
	TypeUint8   = array.TypeUint8
	TypeUint16  = array.TypeUint16
	TypeUint32  = array.TypeUint32
	TypeUint64  = array.TypeUint64
	TypeFloat32 = array.TypeFloat32
	TypeFloat64 = array.TypeFloat64
)

// Selection describes one offset+count sub-region of a variable's
// global array, lasting for one step's access.
type Selection = array.Selection

// NewSelection validates and builds a selection from offset and count.
func NewSelection(start, count Dims) (Selection, error) {
	return array.NewSelection(start, count)
}

// Variable is the process-local handle for a defined variable.
type Variable = variable.Variable

// StepMode selects how BeginStep picks a step.
type StepMode = step.Mode

const (
	StepModeAppend          = step.ModeAppend
	StepModeNextAvailable   = step.ModeNextAvailable
	StepModeLatestAvailable = step.ModeLatestAvailable
)

// StepStatus is the result of BeginStep.
type StepStatus = step.Status

const (
	StepStatusOK          = step.StatusOK
	StepStatusNotReady    = step.StatusNotReady
	StepStatusEndOfStream = step.StatusEndOfStream
)

// Group is one member's view of its process group.
type Group = comm.Group

// Broker is the stream transport contract; custom transports plug in
// through WithBroker.
type Broker = step.Broker

// NewLocalGroup creates an n-member in-process group, one handle per
// goroutine rank.
func NewLocalGroup(n int) []Group {
	return inproc.NewGroup(n)
}
