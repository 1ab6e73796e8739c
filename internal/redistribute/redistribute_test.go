package redistribute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagecast/stagecast/internal/array"
)

func sel(t *testing.T, start, count array.Dims) array.Selection {
	t.Helper()
	s, err := array.NewSelection(start, count)
	require.NoError(t, err)
	return s
}

// value encodes a global 2D coordinate the way the staging harness does.
func value(x, y, gndx int) float32 {
	return float32(x*gndx) + float32(y)/1000
}

// fillBlock produces the row-major contents of a 2D selection.
func fillBlock(s array.Selection, gndx int) []float32 {
	data := make([]float32, s.Elements())
	i := 0
	for x := s.Start[0]; x < s.Start[0]+s.Count[0]; x++ {
		for y := s.Start[1]; y < s.Start[1]+s.Count[1]; y++ {
			data[i] = value(x, y, gndx)
			i++
		}
	}
	return data
}

// decompose2D splits shape into npx*npy blocks; the right/bottom blocks
// absorb the remainder, matching the reference decomposition.
func decompose2D(shape array.Dims, npx, npy int) []array.Selection {
	ndx := shape[0] / npx
	ndy := shape[1] / npy
	var sels []array.Selection
	for py := 0; py < npy; py++ {
		for px := 0; px < npx; px++ {
			cx, cy := ndx, ndy
			if px == npx-1 {
				cx = shape[0] - ndx*(npx-1)
			}
			if py == npy-1 {
				cy = shape[1] - ndy*(npy-1)
			}
			sels = append(sels, array.Selection{
				Start: array.Dims{px * ndx, py * ndy},
				Count: array.Dims{cx, cy},
			})
		}
	}
	return sels
}

func TestGather1D(t *testing.T) {
	req := sel(t, array.Dims{2}, array.Dims{6})
	left := sel(t, array.Dims{0}, array.Dims{5})
	right := sel(t, array.Dims{5}, array.Dims{5})

	leftData := []float32{0, 1, 2, 3, 4}
	rightData := []float32{5, 6, 7, 8, 9}
	lb, _, err := array.Bytes(leftData)
	require.NoError(t, err)
	rb, _, err := array.Bytes(rightData)
	require.NoError(t, err)

	out := make([]float32, req.Elements())
	dst, _, err := array.Bytes(out)
	require.NoError(t, err)

	err = Gather(dst, req, 4, []Block{{Sel: left, Data: lb}, {Sel: right, Data: rb}})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3, 4, 5, 6, 7}, out)
}

func TestGatherDecompositionIndependence(t *testing.T) {
	shape := array.Dims{12, 15}

	writerDecomps := [][2]int{{1, 1}, {2, 1}, {1, 2}, {2, 2}, {3, 5}, {1, 7}}
	readerDecomps := [][2]int{{1, 1}, {1, 2}, {2, 2}, {5, 3}, {7, 1}}

	for _, wd := range writerDecomps {
		blocks := make([]Block, 0)
		for _, s := range decompose2D(shape, wd[0], wd[1]) {
			raw, _, err := array.Bytes(fillBlock(s, shape[0]))
			require.NoError(t, err)
			blocks = append(blocks, Block{Sel: s, Data: raw})
		}

		for _, rd := range readerDecomps {
			for _, req := range decompose2D(shape, rd[0], rd[1]) {
				out := make([]float32, req.Elements())
				dst, _, err := array.Bytes(out)
				require.NoError(t, err)
				require.NoError(t, Gather(dst, req, 4, blocks))

				i := 0
				for x := req.Start[0]; x < req.Start[0]+req.Count[0]; x++ {
					for y := req.Start[1]; y < req.Start[1]+req.Count[1]; y++ {
						require.Equal(t, value(x, y, shape[0]), out[i],
							"writers %vx%v readers %vx%v at (%d,%d)", wd[0], wd[1], rd[0], rd[1], x, y)
						i++
					}
				}
			}
		}
	}
}

func TestGather3D(t *testing.T) {
	// two slabs along the first dimension
	bottom := sel(t, array.Dims{0, 0, 0}, array.Dims{2, 3, 4})
	top := sel(t, array.Dims{2, 0, 0}, array.Dims{2, 3, 4})

	mk := func(s array.Selection) []byte {
		data := make([]float32, s.Elements())
		i := 0
		for x := s.Start[0]; x < s.Start[0]+s.Count[0]; x++ {
			for y := s.Start[1]; y < s.Start[1]+s.Count[1]; y++ {
				for z := s.Start[2]; z < s.Start[2]+s.Count[2]; z++ {
					data[i] = float32(x*100 + y*10 + z)
					i++
				}
			}
		}
		raw, _, err := array.Bytes(data)
		require.NoError(t, err)
		return raw
	}

	// a request straddling the slab boundary
	req := sel(t, array.Dims{1, 1, 1}, array.Dims{2, 2, 2})
	out := make([]float32, req.Elements())
	dst, _, err := array.Bytes(out)
	require.NoError(t, err)

	err = Gather(dst, req, 4, []Block{{Sel: bottom, Data: mk(bottom)}, {Sel: top, Data: mk(top)}})
	require.NoError(t, err)

	i := 0
	for x := 1; x < 3; x++ {
		for y := 1; y < 3; y++ {
			for z := 1; z < 3; z++ {
				assert.Equal(t, float32(x*100+y*10+z), out[i])
				i++
			}
		}
	}
}

func TestGatherLastBlockWinsOnOverlap(t *testing.T) {
	req := sel(t, array.Dims{0}, array.Dims{4})
	first := Block{Sel: req, Data: mustBytes(t, []float32{1, 1, 1, 1})}
	second := Block{Sel: sel(t, array.Dims{1}, array.Dims{2}), Data: mustBytes(t, []float32{2, 2})}

	out := make([]float32, 4)
	dst := mustBytes(t, out)
	require.NoError(t, Gather(dst, req, 4, []Block{first, second}))
	assert.Equal(t, []float32{1, 2, 2, 1}, out)

	// reverse registration order flips the winner
	out2 := make([]float32, 4)
	require.NoError(t, Gather(mustBytes(t, out2), req, 4, []Block{second, first}))
	assert.Equal(t, []float32{1, 1, 1, 1}, out2)
}

func TestGatherLeavesGapsUntouched(t *testing.T) {
	req := sel(t, array.Dims{0}, array.Dims{4})
	blk := Block{Sel: sel(t, array.Dims{0}, array.Dims{2}), Data: mustBytes(t, []float32{7, 8})}

	out := []float32{-1, -1, -1, -1}
	require.NoError(t, Gather(mustBytes(t, out), req, 4, []Block{blk}))
	assert.Equal(t, []float32{7, 8, -1, -1}, out)
}

func TestGatherShortBuffers(t *testing.T) {
	req := sel(t, array.Dims{0}, array.Dims{4})

	err := Gather(make([]byte, 8), req, 4, nil)
	assert.ErrorIs(t, err, ErrShortBuffer)

	blk := Block{Sel: req, Data: make([]byte, 8)}
	err = Gather(make([]byte, 16), req, 4, []Block{blk})
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestCovered(t *testing.T) {
	shape := array.Dims{10, 10}
	req := sel(t, array.Dims{0, 0}, array.Dims{10, 10})

	full := decompose2D(shape, 2, 2)
	assert.True(t, Covered(req, full))

	assert.False(t, Covered(req, full[:3]))
	assert.False(t, Covered(req, nil))

	// overlapping tiles still cover
	overlapping := []array.Selection{
		sel(t, array.Dims{0, 0}, array.Dims{7, 10}),
		sel(t, array.Dims{4, 0}, array.Dims{6, 10}),
	}
	assert.True(t, Covered(req, overlapping))

	// a hole in the middle
	ring := []array.Selection{
		sel(t, array.Dims{0, 0}, array.Dims{10, 4}),
		sel(t, array.Dims{0, 6}, array.Dims{10, 4}),
		sel(t, array.Dims{0, 4}, array.Dims{4, 2}),
		sel(t, array.Dims{6, 4}, array.Dims{4, 2}),
	}
	assert.False(t, Covered(req, ring))
	ring = append(ring, sel(t, array.Dims{4, 4}, array.Dims{2, 2}))
	assert.True(t, Covered(req, ring))
}

func mustBytes(t *testing.T, data any) []byte {
	t.Helper()
	raw, _, err := array.Bytes(data)
	require.NoError(t, err)
	return raw
}
