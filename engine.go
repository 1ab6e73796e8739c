package stagecast

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagecast/stagecast/internal/array"
	"github.com/stagecast/stagecast/internal/logging"
	"github.com/stagecast/stagecast/internal/step"
	"github.com/stagecast/stagecast/internal/variable"
)

// Options holds per-handle engine configuration.
type Options struct {
	// MaxBufferedSteps bounds sealed-but-unretired steps per stream;
	// 0 means unbounded. Only the first writer opening a stream sets
	// the policy.
	MaxBufferedSteps int

	// Logger receives engine and step-store events. Nil logs nothing.
	Logger *zap.Logger

	// Broker overrides the in-process stream registry with a custom
	// transport, such as the bridge client.
	Broker Broker
}

// Option mutates Options.
type Option func(*Options)

// WithMaxBufferedSteps sets the stream's buffering-depth policy.
func WithMaxBufferedSteps(n int) Option {
	return func(o *Options) { o.MaxBufferedSteps = n }
}

// WithLogger routes engine logs to the given logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithBroker plugs in a custom stream transport.
func WithBroker(b Broker) Option {
	return func(o *Options) { o.Broker = b }
}

// Engine is the per-process handle binding one stream, one process
// group, and the step protocol into the Put/Get API. A handle belongs
// to a single thread of control; the parallelism of the system comes
// from many processes each holding their own handle.
type Engine struct {
	name   string
	mode   Mode
	group  Group
	broker Broker
	local  bool // broker came from the in-process registry

	id       string
	log      *zap.Logger
	registry *variable.Registry
	ctrl     *step.Controller

	queued []queuedPut
}

type queuedPut struct {
	def variable.Def
	sel Selection
	raw []byte // caller's buffer, alive until EndStep
}

// Open binds this process to the named stream. Writers create the
// stream; a reader opening a stream no writer has ever opened fails
// with ErrStreamUnavailable. A nil group means a group of one.
func Open(streamName string, mode Mode, group Group, opts ...Option) (*Engine, error) {
	if streamName == "" {
		return nil, fmt.Errorf("%w: empty stream name", ErrStreamUnavailable)
	}
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	if group == nil {
		group = NewLocalGroup(1)[0]
	}
	log := options.Logger
	if log == nil {
		log = logging.Nop()
	}
	log = log.With(
		zap.String("stream", streamName),
		zap.Stringer("mode", mode),
		zap.Int("rank", group.Rank()),
	)

	e := &Engine{
		name:     streamName,
		mode:     mode,
		group:    group,
		id:       uuid.NewString(),
		log:      log,
		registry: variable.NewRegistry(),
		ctrl:     step.NewController(),
	}

	broker := options.Broker
	e.local = broker == nil
	switch mode {
	case ModeWrite:
		if e.local {
			store, err := localStreams.acquireWriter(streamName, group.Rank(), group.Size(), step.StoreOptions{
				MaxBufferedSteps: options.MaxBufferedSteps,
				Logger:           options.Logger,
			})
			if err != nil {
				return nil, err
			}
			broker = store
		} else if err := broker.OpenWriter(group.Rank(), group.Size()); err != nil {
			return nil, err
		}
	case ModeRead:
		if e.local {
			store, err := localStreams.acquireReader(streamName)
			if err != nil {
				return nil, err
			}
			broker = store
		}
		if err := broker.OpenReader(e.id, group.Size()); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: mode %d", ErrWrongMode, mode)
	}
	e.broker = broker

	log.Debug("stream opened", zap.Int("group_size", group.Size()))
	return e, nil
}

// DefineVariable declares a variable's element type and global shape.
// Identical redefinition returns the existing handle; a conflicting
// one fails with ErrDuplicateDefinition.
func (e *Engine) DefineVariable(name string, typ DataType, globalShape Dims) (*Variable, error) {
	return e.registry.Define(name, typ, globalShape)
}

// InquireVariable looks up a variable defined locally or carried by
// the current admitted step.
func (e *Engine) InquireVariable(name string) (*Variable, error) {
	return e.registry.Lookup(name)
}

// BeginStep opens the next step. Writers pass StepModeAppend and never
// block. Readers pass StepModeNextAvailable or StepModeLatestAvailable
// and park until a sealed step is admissible: a zero timeout polls, a
// negative timeout waits for data or writer-group close.
func (e *Engine) BeginStep(mode StepMode, timeout time.Duration) (StepStatus, error) {
	if e.mode == ModeWrite {
		if mode != StepModeAppend {
			return StepStatusNotReady, fmt.Errorf("%w: writer BeginStep requires append mode", ErrWrongMode)
		}
		seq, err := e.ctrl.BeginWrite()
		if err != nil {
			return StepStatusNotReady, err
		}
		e.log.Debug("step opened", zap.Uint64("seq", seq))
		return StepStatusOK, nil
	}

	if mode != StepModeNextAvailable && mode != StepModeLatestAvailable {
		return StepStatusNotReady, fmt.Errorf("%w: reader BeginStep requires an availability mode", ErrWrongMode)
	}
	if e.ctrl.State() != step.StateIdle {
		// surface the misuse before parking
		return StepStatusNotReady, fmt.Errorf("%w: BeginStep from state %s", ErrInvalidState, e.ctrl.State())
	}

	info, status, err := e.broker.Await(e.id, mode, e.ctrl.LastAdmitted(), timeout)
	if err != nil {
		return StepStatusNotReady, err
	}
	if status != StepStatusOK {
		return status, nil
	}

	// the admitted step's declarations become visible to Inquire
	for _, def := range info.Vars {
		if _, err := e.registry.Import(def); err != nil {
			return StepStatusNotReady, err
		}
	}
	if err := e.ctrl.BeginRead(info.Seq); err != nil {
		return StepStatusNotReady, err
	}
	e.ctrl.MarkAdmitted(info.Seq)
	e.log.Debug("step admitted", zap.Uint64("seq", info.Seq))
	return StepStatusOK, nil
}

// Put records a deferred write of the selected region. The buffer must
// stay valid and unmodified until EndStep, when it is snapshotted and
// handed to the stream.
func (e *Engine) Put(v *Variable, sel Selection, data any) error {
	if e.mode != ModeWrite {
		return fmt.Errorf("%w: Put on a read handle", ErrWrongMode)
	}
	if e.ctrl.State() != step.StateActive {
		return fmt.Errorf("%w: Put without an active step", ErrInvalidState)
	}
	raw, def, err := e.bind(v, sel, data)
	if err != nil {
		return err
	}
	e.queued = append(e.queued, queuedPut{def: def, sel: sel, raw: raw})
	return nil
}

// Get reads the selected region of an admitted step into the buffer.
// Reads execute immediately: the step is sealed, so the data already
// exists. Regions no writer covered leave the buffer's prior contents.
func (e *Engine) Get(v *Variable, sel Selection, data any) error {
	if e.mode != ModeRead {
		return fmt.Errorf("%w: Get on a write handle", ErrWrongMode)
	}
	if e.ctrl.State() != step.StateActive {
		return fmt.Errorf("%w: Get without an active step", ErrInvalidState)
	}
	raw, def, err := e.bind(v, sel, data)
	if err != nil {
		return err
	}
	return e.broker.Read(e.ctrl.Current(), def.Name, sel, raw)
}

// bind validates a (variable, selection, buffer) triple and returns
// the buffer's byte view.
func (e *Engine) bind(v *Variable, sel Selection, data any) ([]byte, variable.Def, error) {
	if v == nil {
		return nil, variable.Def{}, fmt.Errorf("%w: nil variable", ErrUnknownVariable)
	}
	if _, err := e.registry.Lookup(v.Name()); err != nil {
		return nil, variable.Def{}, err
	}
	if err := v.Validate(sel); err != nil {
		return nil, variable.Def{}, err
	}
	raw, typ, err := array.Bytes(data)
	if err != nil {
		return nil, variable.Def{}, err
	}
	if typ != v.Type() {
		return nil, variable.Def{}, fmt.Errorf("%w: variable %q is %s, buffer is %s",
			ErrTypeMismatch, v.Name(), v.Type(), typ)
	}
	if need := sel.Elements() * typ.Size(); len(raw) < need {
		return nil, variable.Def{}, fmt.Errorf("%w: selection needs %d bytes, buffer holds %d",
			ErrTypeMismatch, need, len(raw))
	}
	return raw, v.Def(), nil
}

// EndStep completes the current step. A writer snapshots its queued
// payloads, records its contribution, and joins the group-wide seal
// barrier, so no reader ever observes a partially sealed step. A
// reader retires its admission.
func (e *Engine) EndStep() error {
	seq, err := e.ctrl.End()
	if err != nil {
		return err
	}

	if e.mode == ModeWrite {
		payloads := make([]step.Payload, len(e.queued))
		for i, q := range e.queued {
			data := make([]byte, len(q.raw))
			copy(data, q.raw)
			payloads[i] = step.Payload{Var: q.def, Sel: q.sel, Data: data}
		}
		e.queued = e.queued[:0]
		if err := e.broker.CompleteStep(e.group.Rank(), seq, payloads); err != nil {
			return err
		}
		e.group.Barrier()
		e.log.Debug("step completed", zap.Uint64("seq", seq), zap.Int("payloads", len(payloads)))
		return nil
	}

	if err := e.broker.Retire(e.id, seq); err != nil {
		return err
	}
	e.log.Debug("step retired", zap.Uint64("seq", seq))
	return nil
}

// Close releases the handle. The last writer to close signals end of
// stream to every reader; a reader releases its admissions.
func (e *Engine) Close() error {
	if err := e.ctrl.Close(); err != nil {
		return err
	}
	var err error
	if e.mode == ModeWrite {
		err = e.broker.CloseWriter(e.group.Rank())
	} else {
		err = e.broker.CloseReader(e.id)
	}
	if e.local {
		localStreams.release(e.name, e.mode)
	}
	e.log.Debug("stream closed")
	return err
}
