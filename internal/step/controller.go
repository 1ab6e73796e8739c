package step

import "fmt"

// State is the per-handle position in the step protocol.
type State int

const (
	StateIdle State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "step-active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Controller enforces the BeginStep/EndStep/Close call order for one
// engine handle and tracks the current step. It is not safe for
// concurrent use; a handle belongs to a single thread of control.
type Controller struct {
	state   State
	current uint64
	next    uint64
}

// NewController returns a controller in the Idle state.
func NewController() *Controller {
	return &Controller{state: StateIdle}
}

// State returns the current protocol state.
func (c *Controller) State() State { return c.state }

// Current returns the active step's sequence number. Valid only while
// the state is StateActive.
func (c *Controller) Current() uint64 { return c.current }

// BeginWrite allocates the next step sequence number and activates it.
// Writer steps are numbered 0,1,2,... per handle; lockstep within the
// group comes from the seal barrier, not from shared numbering.
func (c *Controller) BeginWrite() (uint64, error) {
	if err := c.checkBegin(); err != nil {
		return 0, err
	}
	c.current = c.next
	c.next++
	c.state = StateActive
	return c.current, nil
}

// BeginRead activates an admitted step on the reader side.
func (c *Controller) BeginRead(seq uint64) error {
	if err := c.checkBegin(); err != nil {
		return err
	}
	c.current = seq
	c.state = StateActive
	return nil
}

// LastAdmitted returns the newest admitted sequence as an int64, or -1
// before the first admission. This is the reader's "after" cursor.
func (c *Controller) LastAdmitted() int64 {
	if c.next == 0 {
		return -1
	}
	return int64(c.next - 1)
}

// MarkAdmitted advances the reader cursor past seq.
func (c *Controller) MarkAdmitted(seq uint64) {
	if seq+1 > c.next {
		c.next = seq + 1
	}
}

// End deactivates the current step and returns its sequence number.
func (c *Controller) End() (uint64, error) {
	switch c.state {
	case StateActive:
		c.state = StateIdle
		return c.current, nil
	case StateClosed:
		return 0, fmt.Errorf("%w: EndStep on closed handle", ErrInvalidState)
	default:
		return 0, fmt.Errorf("%w: EndStep without an active step", ErrInvalidState)
	}
}

// Close moves the handle to its terminal state. Closing with an active
// step is caller misuse.
func (c *Controller) Close() error {
	switch c.state {
	case StateClosed:
		return fmt.Errorf("%w: handle already closed", ErrInvalidState)
	case StateActive:
		return fmt.Errorf("%w: Close with an active step, call EndStep first", ErrInvalidState)
	default:
		c.state = StateClosed
		return nil
	}
}

func (c *Controller) checkBegin() error {
	switch c.state {
	case StateActive:
		return fmt.Errorf("%w: BeginStep while step %d is active", ErrInvalidState, c.current)
	case StateClosed:
		return fmt.Errorf("%w: BeginStep on closed handle", ErrInvalidState)
	default:
		return nil
	}
}
