package inproc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecast/stagecast/internal/comm"
)

func TestRankAndSize(t *testing.T) {
	group := NewGroup(4)
	require.Len(t, group, 4)
	for rank, g := range group {
		assert.Equal(t, rank, g.Rank())
		assert.Equal(t, 4, g.Size())
	}

	assert.Nil(t, NewGroup(0))
}

func TestBarrierHoldsUntilAllArrive(t *testing.T) {
	group := NewGroup(3)

	var passed atomic.Int32
	var wg sync.WaitGroup
	for _, g := range group[:2] {
		wg.Add(1)
		go func(g comm.Group) {
			defer wg.Done()
			g.Barrier()
			passed.Add(1)
		}(g)
	}

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), passed.Load(), "barrier released before last member arrived")

	group[2].Barrier()
	wg.Wait()
	assert.Equal(t, int32(2), passed.Load())
}

func TestBarrierReusableAcrossGenerations(t *testing.T) {
	group := NewGroup(4)

	var wg sync.WaitGroup
	for _, g := range group {
		wg.Add(1)
		go func(g comm.Group) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				g.Barrier()
			}
		}(g)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("barrier deadlocked across generations")
	}
}

func TestSplitByColor(t *testing.T) {
	group := NewGroup(5)

	// ranks 0-1 color 0, ranks 2-4 color 1 (same scheme the staging
	// harness uses to carve writer and reader groups out of the world)
	results := make([]comm.Group, 5)
	var wg sync.WaitGroup
	for rank, g := range group {
		wg.Add(1)
		go func(rank int, g comm.Group) {
			defer wg.Done()
			color := 0
			if rank >= 2 {
				color = 1
			}
			results[rank] = g.Split(color, rank)
		}(rank, g)
	}
	wg.Wait()

	assert.Equal(t, 2, results[0].Size())
	assert.Equal(t, 0, results[0].Rank())
	assert.Equal(t, 1, results[1].Rank())

	assert.Equal(t, 3, results[2].Size())
	assert.Equal(t, 0, results[2].Rank())
	assert.Equal(t, 1, results[3].Rank())
	assert.Equal(t, 2, results[4].Rank())
}

func TestSplitNegativeColorOptsOut(t *testing.T) {
	group := NewGroup(3)

	results := make([]comm.Group, 3)
	var wg sync.WaitGroup
	for rank, g := range group {
		wg.Add(1)
		go func(rank int, g comm.Group) {
			defer wg.Done()
			color := 0
			if rank == 2 {
				color = -1
			}
			results[rank] = g.Split(color, rank)
		}(rank, g)
	}
	wg.Wait()

	assert.Equal(t, 2, results[0].Size())
	assert.Equal(t, 2, results[1].Size())
	assert.Nil(t, results[2])
}

func TestSplitKeyOrdersSubgroup(t *testing.T) {
	group := NewGroup(3)

	results := make([]comm.Group, 3)
	var wg sync.WaitGroup
	for rank, g := range group {
		wg.Add(1)
		go func(rank int, g comm.Group) {
			defer wg.Done()
			// reverse the ordering via keys
			results[rank] = g.Split(0, -rank)
		}(rank, g)
	}
	wg.Wait()

	assert.Equal(t, 2, results[0].Rank())
	assert.Equal(t, 1, results[1].Rank())
	assert.Equal(t, 0, results[2].Rank())
}

func TestSubgroupBarrierIsIndependent(t *testing.T) {
	group := NewGroup(4)

	subs := make([]comm.Group, 4)
	var wg sync.WaitGroup
	for rank, g := range group {
		wg.Add(1)
		go func(rank int, g comm.Group) {
			defer wg.Done()
			subs[rank] = g.Split(rank%2, rank)
		}(rank, g)
	}
	wg.Wait()

	// a two-member subgroup barrier completes without the other subgroup
	done := make(chan struct{})
	go func() {
		var inner sync.WaitGroup
		for _, s := range []comm.Group{subs[0], subs[2]} {
			inner.Add(1)
			go func(s comm.Group) { defer inner.Done(); s.Barrier() }(s)
		}
		inner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subgroup barrier depended on members outside the subgroup")
	}
}
