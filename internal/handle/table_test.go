package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

func TestTablePutGetDelete(t *testing.T) {
	tbl := NewTable[string]()

	h, err := tbl.Put("display")
	require.NoError(t, err)
	require.NotEqual(t, None, h)

	got, err := tbl.Get(h)
	require.NoError(t, err)
	assert.Equal(t, "display", got)
	assert.Equal(t, 1, tbl.Len())

	require.NoError(t, tbl.Delete(h))
	assert.Equal(t, 0, tbl.Len())

	_, err = tbl.Get(h)
	assert.True(t, vmerr.Is(err, vmerr.NotFound))
}

func TestTableNullHandle(t *testing.T) {
	tbl := NewTable[int]()

	_, err := tbl.Get(None)
	assert.True(t, vmerr.Is(err, vmerr.InvalidArgument))

	err = tbl.Delete(None)
	assert.True(t, vmerr.Is(err, vmerr.InvalidArgument))
}

func TestTableStaleHandleAfterReuse(t *testing.T) {
	tbl := NewTable[string]()

	h1, err := tbl.Put("first")
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(h1))

	// The freed slot is reused; the old handle must not resolve to the
	// new occupant.
	h2, err := tbl.Put("second")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	_, err = tbl.Get(h1)
	assert.True(t, vmerr.Is(err, vmerr.NotFound))

	got, err := tbl.Get(h2)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestTableDeleteTwice(t *testing.T) {
	tbl := NewTable[int]()

	h, err := tbl.Put(7)
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(h))

	err = tbl.Delete(h)
	assert.True(t, vmerr.Is(err, vmerr.NotFound))
}

func TestTableRange(t *testing.T) {
	tbl := NewTable[int]()

	want := map[Handle]int{}
	for i := 0; i < 5; i++ {
		h, err := tbl.Put(i * 10)
		require.NoError(t, err)
		want[h] = i * 10
	}

	seen := map[Handle]int{}
	tbl.Range(func(h Handle, v int) bool {
		seen[h] = v
		return true
	})
	assert.Equal(t, want, seen)
}

func TestTableHandlesAreDistinct(t *testing.T) {
	tbl := NewTable[int]()
	seen := map[Handle]bool{}
	for i := 0; i < 100; i++ {
		h, err := tbl.Put(i)
		require.NoError(t, err)
		assert.False(t, seen[h])
		seen[h] = true
	}
}
