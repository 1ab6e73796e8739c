// Package inproc implements comm.Group for process groups that run as
// goroutines inside one OS process. Collective operations coordinate
// through shared state and channels; there is no wire format.
package inproc

import (
	"sort"
	"sync"

	"github.com/stagecast/stagecast/internal/comm"
)

// NewGroup creates an n-member in-process group and returns one Group
// handle per rank. Each handle must be used by exactly one goroutine.
func NewGroup(n int) []comm.Group {
	if n <= 0 {
		return nil
	}
	w := &world{
		size:    n,
		barrier: make(chan struct{}),
	}
	members := make([]comm.Group, n)
	for rank := 0; rank < n; rank++ {
		members[rank] = &member{w: w, rank: rank}
	}
	return members
}

type member struct {
	w    *world
	rank int
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.w.size }

func (m *member) Barrier() { m.w.await() }

func (m *member) Split(color, key int) comm.Group {
	return m.w.split(m.rank, color, key)
}

type world struct {
	mu   sync.Mutex
	size int

	// barrier state: arrivals accumulate until the last member closes
	// the generation's channel and swaps in a fresh one
	arrived int
	barrier chan struct{}

	pending *splitRound
}

func (w *world) await() {
	w.mu.Lock()
	w.arrived++
	ch := w.barrier
	if w.arrived == w.size {
		w.arrived = 0
		w.barrier = make(chan struct{})
		w.mu.Unlock()
		close(ch)
		return
	}
	w.mu.Unlock()
	<-ch
}

type splitRound struct {
	entries map[int][2]int // rank -> (color, key)
	results map[int]comm.Group
	ready   chan struct{}
}

func (w *world) split(rank, color, key int) comm.Group {
	w.mu.Lock()
	if w.pending == nil {
		w.pending = &splitRound{
			entries: make(map[int][2]int, w.size),
			results: make(map[int]comm.Group, w.size),
			ready:   make(chan struct{}),
		}
	}
	round := w.pending
	round.entries[rank] = [2]int{color, key}

	if len(round.entries) == w.size {
		// last member in: build the subgroups and release the round
		w.pending = nil
		buildSubgroups(round)
		w.mu.Unlock()
		close(round.ready)
	} else {
		w.mu.Unlock()
		<-round.ready
	}
	return round.results[rank]
}

func buildSubgroups(round *splitRound) {
	byColor := make(map[int][]int)
	for rank, ck := range round.entries {
		if ck[0] < 0 {
			continue
		}
		byColor[ck[0]] = append(byColor[ck[0]], rank)
	}
	for _, ranks := range byColor {
		entries := round.entries
		sort.Slice(ranks, func(i, j int) bool {
			ki, kj := entries[ranks[i]][1], entries[ranks[j]][1]
			if ki != kj {
				return ki < kj
			}
			return ranks[i] < ranks[j]
		})
		sub := &world{
			size:    len(ranks),
			barrier: make(chan struct{}),
		}
		for newRank, oldRank := range ranks {
			round.results[oldRank] = &member{w: sub, rank: newRank}
		}
	}
}
