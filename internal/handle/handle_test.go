package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAssignsIncreasingIDs(t *testing.T) {
	tbl := New()

	id1, st1, err := tbl.Open(10, true, false)
	require.NoError(t, err)
	id2, st2, err := tbl.Open(10, false, true)
	require.NoError(t, err)

	assert.Greater(t, uint64(id2), uint64(id1))
	assert.True(t, st1.CanRead)
	assert.True(t, st2.CanWrite)
}

func TestGetAndRelease(t *testing.T) {
	tbl := New()
	id, st, err := tbl.Open(1, true, true)
	require.NoError(t, err)

	require.Equal(t, st, tbl.Get(id))

	released := tbl.Release(id)
	assert.Equal(t, st, released)
	assert.Nil(t, tbl.Get(id))
}

func TestCountForInodeReflectsMultipleOpenHandles(t *testing.T) {
	tbl := New()
	id1, _, _ := tbl.Open(5, true, false)
	_, _, _ = tbl.Open(5, true, false)
	_, _, _ = tbl.Open(6, true, false)

	assert.Equal(t, 2, tbl.CountForInode(5))
	assert.Equal(t, 1, tbl.CountForInode(6))

	tbl.Release(id1)
	assert.Equal(t, 1, tbl.CountForInode(5))
}

func TestOpenFailsOnceTableIsAtCapacity(t *testing.T) {
	tbl := &Table{nextID: 1, handles: make(map[ID]*State), limit: 2}

	_, _, err := tbl.Open(1, true, false)
	require.NoError(t, err)
	_, _, err = tbl.Open(2, true, false)
	require.NoError(t, err)

	_, st, err := tbl.Open(3, true, false)
	assert.ErrorIs(t, err, ErrTooManyHandles)
	assert.Nil(t, st)
}

func TestStatePositionAdvanceAndDirty(t *testing.T) {
	st := &State{Ino: 1, CanRead: true, CanWrite: true}

	assert.EqualValues(t, 0, st.Position())

	st.Seek(42)
	assert.EqualValues(t, 42, st.Position())

	newPos := st.Advance(8)
	assert.EqualValues(t, 50, newPos)

	assert.False(t, st.ClearDirty())
	st.MarkDirty()
	assert.True(t, st.ClearDirty())
	assert.False(t, st.ClearDirty())
}
