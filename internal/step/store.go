package step

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stagecast/stagecast/internal/array"
	"github.com/stagecast/stagecast/internal/monitoring"
	"github.com/stagecast/stagecast/internal/redistribute"
	"github.com/stagecast/stagecast/internal/variable"
)

// StoreOptions configures a stream's step store.
type StoreOptions struct {
	// MaxBufferedSteps bounds sealed-but-unretired steps; when
	// exceeded, the oldest sealed step with no active admission is
	// evicted. 0 means unbounded.
	MaxBufferedSteps int
	Logger           *zap.Logger
	Metrics          *monitoring.Metrics
}

// Store is the in-process Broker: the authoritative step sequence for
// one stream, shared by the stream's writer and reader groups.
type Store struct {
	name        string
	log         *zap.Logger
	metrics     *monitoring.Metrics
	maxBuffered int

	mu            sync.Mutex
	changed       chan struct{}
	writerSize    int
	closedWriters map[int]bool
	readerSize    int
	readersOpened int
	readers       map[string]bool
	steps         map[uint64]*entry
}

type entry struct {
	seq      uint64
	payloads []Payload
	ranks    map[int]bool
	sealed   bool

	admitted map[string]bool // readers currently holding the step
	retired  map[string]bool // readers that admitted and released it
}

// NewStore creates an empty step store for the named stream.
func NewStore(name string, opts StoreOptions) *Store {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = monitoring.Default()
	}
	return &Store{
		name:          name,
		log:           log.With(zap.String("stream", name)),
		metrics:       metrics,
		maxBuffered:   opts.MaxBufferedSteps,
		changed:       make(chan struct{}),
		closedWriters: make(map[int]bool),
		readers:       make(map[string]bool),
		steps:         make(map[uint64]*entry),
	}
}

// Name returns the stream name.
func (s *Store) Name() string { return s.name }

// signalLocked wakes every parked reader. Callers hold s.mu.
func (s *Store) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// OpenWriter declares one writer rank and the writer group size.
// Every writer rank calls it with the same size.
func (s *Store) OpenWriter(rank, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size %d", ErrWriterGroupSize, size)
	}
	if rank < 0 || rank >= size {
		return fmt.Errorf("%w: rank %d outside group of %d", ErrWriterGroupSize, rank, size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writerSize == 0 {
		s.writerSize = size
		return nil
	}
	if s.writerSize != size {
		return fmt.Errorf("%w: declared %d, previously %d", ErrWriterGroupSize, size, s.writerSize)
	}
	return nil
}

// CompleteStep records one writer rank's payloads for a step. The step
// seals, and becomes visible to readers, once every rank in the writer
// group has completed it.
func (s *Store) CompleteStep(rank int, seq uint64, payloads []Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writerSize == 0 {
		return fmt.Errorf("%w: writer group not opened", ErrInvalidState)
	}
	if s.closedWriters[rank] {
		return fmt.Errorf("%w: writer rank %d already closed", ErrClosed, rank)
	}

	e, ok := s.steps[seq]
	if !ok {
		e = &entry{
			seq:      seq,
			ranks:    make(map[int]bool),
			admitted: make(map[string]bool),
			retired:  make(map[string]bool),
		}
		s.steps[seq] = e
	}
	if e.sealed || e.ranks[rank] {
		return fmt.Errorf("%w: rank %d step %d", ErrDuplicateContrib, rank, seq)
	}
	e.ranks[rank] = true
	e.payloads = append(e.payloads, payloads...)

	if len(e.ranks) == s.writerSize {
		e.sealed = true
		s.metrics.StepsSealed.WithLabelValues(s.name).Inc()
		s.log.Debug("step sealed",
			zap.Uint64("seq", seq),
			zap.Int("payloads", len(e.payloads)))
		s.evictLocked()
		s.signalLocked()
	}
	return nil
}

// CloseWriter marks a writer rank done. When the last rank closes, any
// parked reader wakes to drain or observe end of stream.
func (s *Store) CloseWriter(rank int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedWriters[rank] = true
	if s.closedLocked() {
		s.log.Debug("writer group closed")
		s.signalLocked()
	}
	return nil
}

func (s *Store) closedLocked() bool {
	return s.writerSize > 0 && len(s.closedWriters) >= s.writerSize
}

// OpenReader registers one member of the reader group and declares
// the group's size. Retirement-based eviction waits until that many
// readers have opened, so no group member misses a step a faster
// sibling already retired.
func (s *Store) OpenReader(id string, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size %d", ErrReaderGroupSize, size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readerSize == 0 {
		s.readerSize = size
	} else if s.readerSize != size {
		return fmt.Errorf("%w: declared %d, previously %d", ErrReaderGroupSize, size, s.readerSize)
	}
	if !s.readers[id] {
		s.readers[id] = true
		s.readersOpened++
	}
	return nil
}

// CloseReader releases all of a reader's admissions.
func (s *Store) CloseReader(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.readers, id)
	for _, e := range s.steps {
		delete(e.admitted, id)
	}
	s.evictLocked()
	return nil
}

// Await parks until a sealed step after the given sequence exists,
// admits it for readerID, and returns its metadata. timeout 0 polls;
// a negative timeout waits until data or writer-group close.
func (s *Store) Await(readerID string, mode Mode, after int64, timeout time.Duration) (Info, Status, error) {
	if mode != ModeNextAvailable && mode != ModeLatestAvailable {
		return Info{}, StatusNotReady, fmt.Errorf("%w: mode %s is not a reader mode", ErrInvalidState, mode)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	waiting := false
	defer func() {
		if waiting {
			s.metrics.BlockedReaders.Dec()
		}
	}()

	for {
		s.mu.Lock()
		if e := s.pickLocked(mode, after); e != nil {
			e.admitted[readerID] = true
			info := stepInfo(e)
			s.mu.Unlock()
			return info, StatusOK, nil
		}
		if s.closedLocked() {
			s.mu.Unlock()
			s.metrics.EndOfStreamHits.Inc()
			return Info{}, StatusEndOfStream, nil
		}
		ch := s.changed
		s.mu.Unlock()

		if timeout == 0 {
			s.metrics.ReaderTimeouts.Inc()
			return Info{}, StatusNotReady, nil
		}
		if !waiting {
			waiting = true
			s.metrics.BlockedReaders.Inc()
		}
		if timeout < 0 {
			<-ch
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.metrics.ReaderTimeouts.Inc()
			return Info{}, StatusNotReady, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			s.metrics.ReaderTimeouts.Inc()
			return Info{}, StatusNotReady, nil
		}
	}
}

// pickLocked selects the sealed step a reader in the given mode admits
// next, or nil.
func (s *Store) pickLocked(mode Mode, after int64) *entry {
	var best *entry
	for _, e := range s.steps {
		if !e.sealed || int64(e.seq) <= after {
			continue
		}
		switch {
		case best == nil:
			best = e
		case mode == ModeNextAvailable && e.seq < best.seq:
			best = e
		case mode == ModeLatestAvailable && e.seq > best.seq:
			best = e
		}
	}
	return best
}

func stepInfo(e *entry) Info {
	info := Info{Seq: e.seq}
	seen := make(map[string]bool)
	for _, p := range e.payloads {
		if seen[p.Var.Name] {
			continue
		}
		seen[p.Var.Name] = true
		info.Vars = append(info.Vars, variable.Def{
			Name:  p.Var.Name,
			Type:  p.Var.Type,
			Shape: p.Var.Shape.Clone(),
		})
	}
	return info
}

// Read satisfies one reader selection from the sealed step's payloads.
// Sealed payloads are immutable, so the copy itself runs unlocked.
func (s *Store) Read(seq uint64, name string, sel array.Selection, dst []byte) error {
	s.mu.Lock()
	e, ok := s.steps[seq]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: step %d", ErrUnknownStep, seq)
	}
	if !e.sealed {
		s.mu.Unlock()
		return fmt.Errorf("%w: step %d", ErrStepNotSealed, seq)
	}

	var blocks []redistribute.Block
	var def *variable.Def
	for i := range e.payloads {
		p := &e.payloads[i]
		if p.Var.Name != name {
			continue
		}
		if def == nil {
			def = &p.Var
		}
		blocks = append(blocks, redistribute.Block{Sel: p.Sel, Data: p.Data})
	}
	s.mu.Unlock()

	if def == nil {
		return fmt.Errorf("%w: %q in step %d", variable.ErrUnknownVariable, name, seq)
	}
	if err := sel.Within(def.Shape); err != nil {
		return err
	}
	if err := redistribute.Gather(dst, sel, def.Type.Size(), blocks); err != nil {
		return err
	}
	s.metrics.ReadRequests.Inc()
	s.metrics.BytesCopied.Add(float64(sel.Elements() * def.Type.Size()))
	return nil
}

// Fragment is one contributed region clipped to a read request.
type Fragment struct {
	Var  variable.Def
	Sel  array.Selection
	Data []byte
}

// Fragments extracts the pieces of a sealed step's payloads that
// intersect the selection, in contribution order. The transport layer
// uses it to ship a reader only the bytes its request touches.
func (s *Store) Fragments(seq uint64, name string, sel array.Selection) ([]Fragment, error) {
	s.mu.Lock()
	e, ok := s.steps[seq]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: step %d", ErrUnknownStep, seq)
	}
	if !e.sealed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: step %d", ErrStepNotSealed, seq)
	}

	var sources []Payload
	var def *variable.Def
	for i := range e.payloads {
		p := &e.payloads[i]
		if p.Var.Name != name {
			continue
		}
		if def == nil {
			def = &p.Var
		}
		sources = append(sources, *p)
	}
	s.mu.Unlock()

	if def == nil {
		return nil, fmt.Errorf("%w: %q in step %d", variable.ErrUnknownVariable, name, seq)
	}
	if err := sel.Within(def.Shape); err != nil {
		return nil, err
	}

	elemSize := def.Type.Size()
	var out []Fragment
	for _, p := range sources {
		isect, ok := array.Intersect(p.Sel, sel)
		if !ok {
			continue
		}
		data := make([]byte, isect.Elements()*elemSize)
		if err := redistribute.Gather(data, isect, elemSize,
			[]redistribute.Block{{Sel: p.Sel, Data: p.Data}}); err != nil {
			return nil, err
		}
		out = append(out, Fragment{Var: p.Var, Sel: isect, Data: data})
	}
	s.metrics.ReadRequests.Inc()
	return out, nil
}

// Retire releases a reader's admission of a step. Retiring an already
// evicted step is a no-op.
func (s *Store) Retire(readerID string, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.steps[seq]
	if !ok {
		return nil
	}
	if e.admitted[readerID] {
		delete(e.admitted, readerID)
		e.retired[readerID] = true
		s.metrics.StepsRetired.WithLabelValues(s.name).Inc()
	}
	s.evictLocked()
	return nil
}

// evictLocked applies the buffering-depth policy. With a bound, the
// oldest sealed steps without active admissions are dropped until the
// buffer fits. Unbounded stores drop steps that every reader has
// retired, but only once the declared reader group is fully open.
func (s *Store) evictLocked() {
	if s.maxBuffered > 0 {
		for s.sealedCountLocked() > s.maxBuffered {
			victim := s.oldestSealedIdleLocked()
			if victim == nil {
				return
			}
			delete(s.steps, victim.seq)
			s.metrics.StepsEvicted.WithLabelValues(s.name).Inc()
			s.log.Debug("step evicted", zap.Uint64("seq", victim.seq))
		}
		return
	}

	if len(s.readers) == 0 || s.readersOpened < s.readerSize {
		return
	}
	for seq, e := range s.steps {
		if !e.sealed || len(e.admitted) > 0 {
			continue
		}
		done := true
		for id := range s.readers {
			if !e.retired[id] {
				done = false
				break
			}
		}
		if done {
			delete(s.steps, seq)
			s.metrics.StepsEvicted.WithLabelValues(s.name).Inc()
		}
	}
}

func (s *Store) sealedCountLocked() int {
	n := 0
	for _, e := range s.steps {
		if e.sealed {
			n++
		}
	}
	return n
}

func (s *Store) oldestSealedIdleLocked() *entry {
	var victim *entry
	for _, e := range s.steps {
		if !e.sealed || len(e.admitted) > 0 {
			continue
		}
		if victim == nil || e.seq < victim.seq {
			victim = e
		}
	}
	return victim
}
