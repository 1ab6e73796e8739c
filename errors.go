package stagecast

import (
	"errors"

	"github.com/stagecast/stagecast/internal/array"
	"github.com/stagecast/stagecast/internal/step"
	"github.com/stagecast/stagecast/internal/variable"
)

// Logic errors surface synchronously to the misusing caller and are
// never recovered silently. Liveness conditions are not errors; they
// are StepStatus values returned by BeginStep.
var (
	// ErrInvalidSelection flags a malformed selection or one that does
	// not fit the variable's global shape.
	ErrInvalidSelection = array.ErrInvalidSelection

	// ErrTypeMismatch flags a buffer whose element type or length does
	// not match the variable and selection it is used with.
	ErrTypeMismatch = array.ErrTypeMismatch

	// ErrDuplicateDefinition flags a conflicting variable redefinition.
	ErrDuplicateDefinition = variable.ErrDuplicateDefinition

	// ErrUnknownVariable flags access to a name never defined here nor
	// carried by the current step.
	ErrUnknownVariable = variable.ErrUnknownVariable

	// ErrInvalidState flags calls that violate the
	// BeginStep/EndStep/Close order.
	ErrInvalidState = step.ErrInvalidState

	// ErrStreamUnavailable flags a reader opening a stream no writer
	// has ever opened.
	ErrStreamUnavailable = step.ErrStreamUnavailable

	// ErrWrongMode flags writer calls on a reader handle and vice
	// versa.
	ErrWrongMode = errors.New("operation not valid for handle mode")
)
