package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stagecast/stagecast"
)

// grid is one side's process decomposition.
type grid struct {
	NPX int `yaml:"npx"`
	NPY int `yaml:"npy"`
}

func (g grid) size() int { return g.NPX * g.NPY }

// runParams describes one harness run. The global array is
// Writers.NPX*BlockX by Writers.NPY*BlockY; every writer rank owns one
// BlockX-by-BlockY block and readers decompose independently.
type runParams struct {
	Stream  string        `yaml:"stream"`
	Steps   int           `yaml:"steps"`
	BlockX  int           `yaml:"block_x"`
	BlockY  int           `yaml:"block_y"`
	Rate    float64       `yaml:"rate"`
	Timeout time.Duration `yaml:"timeout"`
	Writers grid          `yaml:"writers"`
	Readers grid          `yaml:"readers"`
}

func defaultParams() runParams {
	return runParams{
		Stream:  "stagetest",
		Steps:   5,
		BlockX:  50,
		BlockY:  60,
		Timeout: 60 * time.Second,
		Writers: grid{NPX: 2, NPY: 2},
		Readers: grid{NPX: 3, NPY: 1},
	}
}

func loadParams(path string) (runParams, error) {
	p := defaultParams()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read params: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse params: %w", err)
	}
	return p, p.validate()
}

func (p runParams) validate() error {
	if p.Stream == "" {
		return errors.New("params: empty stream name")
	}
	if p.Steps <= 0 {
		return fmt.Errorf("params: steps must be positive, got %d", p.Steps)
	}
	if p.BlockX <= 0 || p.BlockY <= 0 {
		return fmt.Errorf("params: block extents must be positive, got %dx%d", p.BlockX, p.BlockY)
	}
	if p.Writers.size() <= 0 || p.Readers.size() <= 0 {
		return errors.New("params: both grids need at least one rank")
	}
	return nil
}

// cellValue is the harness fill pattern: the step in the thousands,
// the global coordinates in the rest. Writers fill with it and readers
// verify against it.
func cellValue(gndx, x, y, s int) float32 {
	return 1000*float32(s) + float32(x*gndx) + float32(y)/1000
}

// brokerFactory supplies one transport per rank. Nil means the
// in-process stream registry.
type brokerFactory func() (stagecast.Broker, io.Closer, error)

// runWriterSide drives the whole writer group, one goroutine per rank.
// The opened hook fires once the stream exists.
func runWriterSide(ctx context.Context, p runParams, log *zap.Logger, newBroker brokerFactory, opened func()) error {
	n := p.Writers.size()
	groups := stagecast.NewLocalGroup(n)

	var openOnce sync.Once
	fireOpened := func() {
		if opened != nil {
			openOnce.Do(opened)
		}
	}

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g stagecast.Group) {
			defer wg.Done()
			errs <- writeRank(ctx, p, g, log, newBroker, fireOpened)
		}(g)
	}
	wg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

func writeRank(ctx context.Context, p runParams, g stagecast.Group, log *zap.Logger, newBroker brokerFactory, opened func()) error {
	rank := g.Rank()
	gndx, gndy := p.Writers.NPX*p.BlockX, p.Writers.NPY*p.BlockY
	posx, posy := rank%p.Writers.NPX, rank/p.Writers.NPX
	offsx, offsy := posx*p.BlockX, posy*p.BlockY

	opts := []stagecast.Option{stagecast.WithLogger(log)}
	var closer io.Closer
	if newBroker != nil {
		broker, c, err := newBroker()
		if err != nil {
			return fmt.Errorf("writer %d: %w", rank, err)
		}
		closer = c
		opts = append(opts, stagecast.WithBroker(broker))
	}
	if closer != nil {
		defer closer.Close()
	}

	e, err := stagecast.Open(p.Stream, stagecast.ModeWrite, g, opts...)
	if err != nil {
		return fmt.Errorf("writer %d open: %w", rank, err)
	}
	defer e.Close()
	opened()

	v, err := e.DefineVariable("myArray", stagecast.TypeFloat32, stagecast.Dims{gndx, gndy})
	if err != nil {
		return fmt.Errorf("writer %d define: %w", rank, err)
	}
	sel, err := stagecast.NewSelection(stagecast.Dims{offsx, offsy}, stagecast.Dims{p.BlockX, p.BlockY})
	if err != nil {
		return fmt.Errorf("writer %d selection: %w", rank, err)
	}

	var limiter *rate.Limiter
	if p.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.Rate), 1)
	}

	block := make([]float32, p.BlockX*p.BlockY)
	for s := 0; s < p.Steps; s++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("writer %d: %w", rank, err)
			}
		}
		for j := 0; j < p.BlockX; j++ {
			for i := 0; i < p.BlockY; i++ {
				block[j*p.BlockY+i] = cellValue(gndx, offsx+j, offsy+i, s)
			}
		}
		status, err := e.BeginStep(stagecast.StepModeAppend, 0)
		if err != nil {
			return fmt.Errorf("writer %d step %d begin: %w", rank, s, err)
		}
		if status != stagecast.StepStatusOK {
			return fmt.Errorf("writer %d step %d: status %v", rank, s, status)
		}
		if err := e.Put(v, sel, block); err != nil {
			return fmt.Errorf("writer %d step %d put: %w", rank, s, err)
		}
		if err := e.EndStep(); err != nil {
			return fmt.Errorf("writer %d step %d end: %w", rank, s, err)
		}
		log.Debug("step written", zap.Int("rank", rank), zap.Int("step", s))
	}
	return nil
}

// runReaderSide drives the whole reader group until end of stream and
// verifies every element it reads.
func runReaderSide(ctx context.Context, p runParams, log *zap.Logger, newBroker brokerFactory) error {
	n := p.Readers.size()
	groups := stagecast.NewLocalGroup(n)

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func(g stagecast.Group) {
			defer wg.Done()
			errs <- readRank(ctx, p, g, log, newBroker)
		}(g)
	}
	wg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

func readRank(ctx context.Context, p runParams, g stagecast.Group, log *zap.Logger, newBroker brokerFactory) error {
	rank := g.Rank()

	opts := []stagecast.Option{stagecast.WithLogger(log)}
	var closer io.Closer
	if newBroker != nil {
		broker, c, err := newBroker()
		if err != nil {
			return fmt.Errorf("reader %d: %w", rank, err)
		}
		closer = c
		opts = append(opts, stagecast.WithBroker(broker))
	}
	if closer != nil {
		defer closer.Close()
	}

	e, err := stagecast.Open(p.Stream, stagecast.ModeRead, g, opts...)
	if err != nil {
		return fmt.Errorf("reader %d open: %w", rank, err)
	}
	defer e.Close()

	seen := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("reader %d: %w", rank, err)
		}
		status, err := e.BeginStep(stagecast.StepModeNextAvailable, p.Timeout)
		if err != nil {
			return fmt.Errorf("reader %d step %d begin: %w", rank, seen, err)
		}
		if status == stagecast.StepStatusEndOfStream {
			break
		}
		if status == stagecast.StepStatusNotReady {
			return fmt.Errorf("reader %d: no step within %s", rank, p.Timeout)
		}

		v, err := e.InquireVariable("myArray")
		if err != nil {
			return fmt.Errorf("reader %d step %d inquire: %w", rank, seen, err)
		}
		shape := v.Shape()
		gndx, gndy := shape[0], shape[1]

		posx, posy := rank%p.Readers.NPX, rank/p.Readers.NPX
		ndx, ndy := gndx/p.Readers.NPX, gndy/p.Readers.NPY
		offsx, offsy := posx*ndx, posy*ndy
		if posx == p.Readers.NPX-1 {
			ndx = gndx - offsx
		}
		if posy == p.Readers.NPY-1 {
			ndy = gndy - offsy
		}

		sel, err := stagecast.NewSelection(stagecast.Dims{offsx, offsy}, stagecast.Dims{ndx, ndy})
		if err != nil {
			return fmt.Errorf("reader %d step %d selection: %w", rank, seen, err)
		}
		out := make([]float32, ndx*ndy)
		if err := e.Get(v, sel, out); err != nil {
			return fmt.Errorf("reader %d step %d get: %w", rank, seen, err)
		}
		for j := 0; j < ndx; j++ {
			for i := 0; i < ndy; i++ {
				want := cellValue(gndx, offsx+j, offsy+i, seen)
				if got := out[j*ndy+i]; got != want {
					return fmt.Errorf("reader %d step %d: element (%d,%d) = %v, want %v",
						rank, seen, offsx+j, offsy+i, got, want)
				}
			}
		}
		if err := e.EndStep(); err != nil {
			return fmt.Errorf("reader %d step %d end: %w", rank, seen, err)
		}
		log.Debug("step verified", zap.Int("rank", rank), zap.Int("step", seen))
		seen++
	}
	if seen != p.Steps {
		return fmt.Errorf("reader %d: saw %d steps, want %d", rank, seen, p.Steps)
	}
	log.Info("reader done", zap.Int("rank", rank), zap.Int("steps", seen))
	return nil
}
