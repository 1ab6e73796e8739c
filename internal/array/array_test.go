package array

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectionValidation(t *testing.T) {
	tests := []struct {
		name    string
		start   Dims
		count   Dims
		wantErr bool
	}{
		{name: "valid 2d block", start: Dims{0, 60}, count: Dims{50, 60}},
		{name: "valid 1d", start: Dims{10}, count: Dims{5}},
		{name: "rank mismatch", start: Dims{0}, count: Dims{5, 5}, wantErr: true},
		{name: "zero rank", start: Dims{}, count: Dims{}, wantErr: true},
		{name: "negative offset", start: Dims{-1, 0}, count: Dims{5, 5}, wantErr: true},
		{name: "zero count", start: Dims{0, 0}, count: Dims{5, 0}, wantErr: true},
		{name: "negative count", start: Dims{0, 0}, count: Dims{5, -2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := NewSelection(tt.start, tt.count)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidSelection)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.start, sel.Start)
			assert.Equal(t, tt.count, sel.Count)
		})
	}
}

func TestSelectionIsIndependentOfInput(t *testing.T) {
	start := Dims{1, 2}
	count := Dims{3, 4}
	sel, err := NewSelection(start, count)
	require.NoError(t, err)

	start[0] = 99
	count[1] = 99
	assert.Equal(t, Dims{1, 2}, sel.Start)
	assert.Equal(t, Dims{3, 4}, sel.Count)
}

func TestSelectionWithin(t *testing.T) {
	shape := Dims{100, 120}

	sel, err := NewSelection(Dims{50, 60}, Dims{50, 60})
	require.NoError(t, err)
	assert.NoError(t, sel.Within(shape))

	sel, err = NewSelection(Dims{51, 0}, Dims{50, 60})
	require.NoError(t, err)
	assert.ErrorIs(t, sel.Within(shape), ErrInvalidSelection)

	sel, err = NewSelection(Dims{0}, Dims{100})
	require.NoError(t, err)
	assert.ErrorIs(t, sel.Within(shape), ErrInvalidSelection)
}

func TestSelectionEnd(t *testing.T) {
	sel, err := NewSelection(Dims{10, 20}, Dims{5, 7})
	require.NoError(t, err)
	assert.Equal(t, Dims{15, 27}, sel.End())
}

func TestIntersect(t *testing.T) {
	mk := func(start, count Dims) Selection {
		sel, err := NewSelection(start, count)
		require.NoError(t, err)
		return sel
	}

	tests := []struct {
		name    string
		a, b    Selection
		want    Selection
		overlap bool
	}{
		{
			name:    "identical",
			a:       mk(Dims{0, 0}, Dims{10, 10}),
			b:       mk(Dims{0, 0}, Dims{10, 10}),
			want:    Selection{Start: Dims{0, 0}, Count: Dims{10, 10}},
			overlap: true,
		},
		{
			name:    "partial corner overlap",
			a:       mk(Dims{0, 0}, Dims{50, 60}),
			b:       mk(Dims{40, 50}, Dims{30, 30}),
			want:    Selection{Start: Dims{40, 50}, Count: Dims{10, 10}},
			overlap: true,
		},
		{
			name:    "contained",
			a:       mk(Dims{0, 0}, Dims{100, 120}),
			b:       mk(Dims{10, 20}, Dims{5, 6}),
			want:    Selection{Start: Dims{10, 20}, Count: Dims{5, 6}},
			overlap: true,
		},
		{
			name: "disjoint in one dimension",
			a:    mk(Dims{0, 0}, Dims{50, 60}),
			b:    mk(Dims{50, 0}, Dims{50, 60}),
		},
		{
			name: "touching edges do not overlap",
			a:    mk(Dims{0}, Dims{10}),
			b:    mk(Dims{10}, Dims{10}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Intersect(tt.a, tt.b)
			assert.Equal(t, tt.overlap, ok)
			if tt.overlap {
				assert.Equal(t, tt.want, got)
				// intersection is symmetric
				sym, ok := Intersect(tt.b, tt.a)
				require.True(t, ok)
				assert.Equal(t, tt.want, sym)
			}
		})
	}
}

func TestOffsetRowMajor(t *testing.T) {
	sel := Selection{Start: Dims{10, 20}, Count: Dims{4, 6}}

	// first element of the block
	assert.Equal(t, 0, sel.Offset(Dims{10, 20}))
	// last dimension varies fastest
	assert.Equal(t, 1, sel.Offset(Dims{10, 21}))
	assert.Equal(t, 6, sel.Offset(Dims{11, 20}))
	// last element
	assert.Equal(t, 23, sel.Offset(Dims{13, 25}))
}

func TestTypeSizes(t *testing.T) {
	assert.Equal(t, 1, TypeInt8.Size())
	assert.Equal(t, 2, TypeUint16.Size())
	assert.Equal(t, 4, TypeFloat32.Size())
	assert.Equal(t, 8, TypeFloat64.Size())
	assert.Equal(t, 0, TypeUnknown.Size())
	assert.Equal(t, "float32", TypeFloat32.String())
}

func TestBytesView(t *testing.T) {
	data := []float32{1, 2, 3}
	raw, typ, err := Bytes(data)
	require.NoError(t, err)
	assert.Equal(t, TypeFloat32, typ)
	assert.Len(t, raw, 12)

	// the view aliases the slice
	data[0] = 42
	raw2, _, err := Bytes(data)
	require.NoError(t, err)
	assert.Equal(t, raw2[:4], raw[:4])

	_, _, err = Bytes("not a slice")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	raw, typ, err = Bytes([]uint8{1, 2})
	require.NoError(t, err)
	assert.Equal(t, TypeUint8, typ)
	assert.Len(t, raw, 2)
}

func TestDimsHelpers(t *testing.T) {
	d := Dims{2, 3, 4}
	assert.Equal(t, 24, d.Elements())
	assert.True(t, d.Equal(Dims{2, 3, 4}))
	assert.False(t, d.Equal(Dims{2, 3}))
	assert.False(t, d.Equal(Dims{2, 3, 5}))

	c := d.Clone()
	c[0] = 9
	assert.Equal(t, 2, d[0])
}
