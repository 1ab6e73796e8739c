package stagecast

import (
	"fmt"
	"sync"

	"github.com/stagecast/stagecast/internal/step"
)

// streamRegistry tracks the in-process streams of this OS process. A
// stream comes into being when its first writer opens it and is
// destroyed once both sides have opened and every handle has closed.
type streamRegistry struct {
	mu      sync.Mutex
	streams map[string]*localStream
}

type localStream struct {
	store       *step.Store
	writersOpen int
	readersOpen int
	writerSeen  bool
	readerSeen  bool
}

var localStreams = &streamRegistry{streams: make(map[string]*localStream)}

func (r *streamRegistry) acquireWriter(name string, rank, size int, opts step.StoreOptions) (*step.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.streams[name]
	if !ok {
		ls = &localStream{store: step.NewStore(name, opts)}
		r.streams[name] = ls
	}
	if err := ls.store.OpenWriter(rank, size); err != nil {
		return nil, err
	}
	ls.writersOpen++
	ls.writerSeen = true
	return ls.store, nil
}

func (r *streamRegistry) acquireReader(name string) (*step.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no writer", ErrStreamUnavailable, name)
	}
	ls.readersOpen++
	ls.readerSeen = true
	return ls.store, nil
}

func (r *streamRegistry) release(name string, mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls, ok := r.streams[name]
	if !ok {
		return
	}
	if mode == ModeWrite {
		ls.writersOpen--
	} else {
		ls.readersOpen--
	}
	if ls.writerSeen && ls.readerSeen && ls.writersOpen == 0 && ls.readersOpen == 0 {
		delete(r.streams, name)
	}
}
