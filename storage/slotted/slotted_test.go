package slotted

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/storage/pager"
)

func newTestPage(t *testing.T) *pager.Page {
	pg, err := pager.Open(filepath.Join(t.TempDir(), "t.dat"), 4)
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })

	id, err := pg.Allocate()
	require.NoError(t, err)
	p, err := pg.Read(id)
	require.NoError(t, err)
	return p
}

func TestInsertGet(t *testing.T) {
	p := newTestPage(t)

	slot, err := Insert(p, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 0, slot)

	got, err := Get(p, slot)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestDeleteThenReuseLowestSlot(t *testing.T) {
	p := newTestPage(t)

	a, err := Insert(p, []byte("aaa"))
	require.NoError(t, err)
	_, err = Insert(p, []byte("bbb"))
	require.NoError(t, err)

	require.NoError(t, Delete(p, a))
	_, err = Get(p, a)
	assert.Error(t, err)

	reused, err := Insert(p, []byte("ccc"))
	require.NoError(t, err)
	assert.Equal(t, a, reused)

	got, err := Get(p, reused)
	require.NoError(t, err)
	assert.Equal(t, "ccc", string(got))
}

func TestUpdateInPlace(t *testing.T) {
	p := newTestPage(t)
	slot, err := Insert(p, []byte("hello world"))
	require.NoError(t, err)

	newSlot, err := Update(p, slot, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, slot, newSlot)

	got, err := Get(p, newSlot)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestUpdateGrowsPastSlotMovesTuple(t *testing.T) {
	p := newTestPage(t)
	slot, err := Insert(p, []byte("hi"))
	require.NoError(t, err)

	bigger := make([]byte, 200)
	for i := range bigger {
		bigger[i] = 'x'
	}
	newSlot, err := Update(p, slot, bigger)
	require.NoError(t, err)

	got, err := Get(p, newSlot)
	require.NoError(t, err)
	assert.Equal(t, bigger, got)

	_, err = Get(p, slot)
	if newSlot != slot {
		assert.Error(t, err)
	}
}

func TestCompactPreservesLiveTuples(t *testing.T) {
	p := newTestPage(t)
	a, err := Insert(p, []byte("aaa"))
	require.NoError(t, err)
	b, err := Insert(p, []byte("bbb"))
	require.NoError(t, err)
	require.NoError(t, Delete(p, a))

	Compact(p)

	_, err = Get(p, a)
	assert.Error(t, err)
	got, err := Get(p, b)
	require.NoError(t, err)
	assert.Equal(t, "bbb", string(got))
}

func TestPutAtExtendsDirectory(t *testing.T) {
	p := newTestPage(t)
	require.NoError(t, PutAt(p, 3, []byte("redo")))

	got, err := Get(p, 3)
	require.NoError(t, err)
	assert.Equal(t, "redo", string(got))

	for i := 0; i < 3; i++ {
		_, err := Get(p, i)
		assert.Error(t, err)
	}
}

func TestInsertReturnsErrPageFullWhenExhausted(t *testing.T) {
	p := newTestPage(t)
	big := make([]byte, pager.PageSize)

	_, err := Insert(p, big)
	assert.Error(t, err)
}
