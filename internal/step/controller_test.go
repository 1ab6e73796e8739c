package step

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterStepNumbering(t *testing.T) {
	c := NewController()

	for want := uint64(0); want < 3; want++ {
		seq, err := c.BeginWrite()
		require.NoError(t, err)
		assert.Equal(t, want, seq)
		assert.Equal(t, StateActive, c.State())

		ended, err := c.End()
		require.NoError(t, err)
		assert.Equal(t, want, ended)
		assert.Equal(t, StateIdle, c.State())
	}
}

func TestBeginWhileActiveIsInvalid(t *testing.T) {
	c := NewController()
	_, err := c.BeginWrite()
	require.NoError(t, err)

	_, err = c.BeginWrite()
	assert.ErrorIs(t, err, ErrInvalidState)

	err = c.BeginRead(7)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEndFromIdleIsInvalid(t *testing.T) {
	c := NewController()
	_, err := c.End()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCloseTransitions(t *testing.T) {
	c := NewController()
	_, err := c.BeginWrite()
	require.NoError(t, err)

	// closing mid-step is misuse
	assert.ErrorIs(t, c.Close(), ErrInvalidState)

	_, err = c.End()
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, StateClosed, c.State())

	assert.ErrorIs(t, c.Close(), ErrInvalidState)
	_, err = c.BeginWrite()
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = c.End()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReaderCursor(t *testing.T) {
	c := NewController()
	assert.Equal(t, int64(-1), c.LastAdmitted())

	require.NoError(t, c.BeginRead(0))
	c.MarkAdmitted(0)
	assert.Equal(t, uint64(0), c.Current())
	_, err := c.End()
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.LastAdmitted())

	// latest-available mode can skip ahead
	require.NoError(t, c.BeginRead(5))
	c.MarkAdmitted(5)
	_, err = c.End()
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.LastAdmitted())
}
