package pager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesHeaderPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.dat")

	pg, err := Open(path, 4)
	require.NoError(t, err)
	defer pg.Close()

	assert.EqualValues(t, 1, pg.NumPages())
	hp, err := pg.Header()
	require.NoError(t, err)
	assert.EqualValues(t, 0, hp.ID)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.dat")

	pg, err := Open(path, 4)
	require.NoError(t, err)
	require.NoError(t, pg.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF, 0xFF}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path, 4)
	assert.Error(t, err)
}

func TestAllocateReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.dat")
	pg, err := Open(path, 4)
	require.NoError(t, err)
	defer pg.Close()

	id, err := pg.Allocate()
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	p, err := pg.Read(id)
	require.NoError(t, err)
	copy(p.Buf[DataStart:], []byte("hello"))
	p.MarkDirty()
	require.NoError(t, pg.Write(p))

	got, err := pg.Read(id)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got.Buf[DataStart:DataStart+5]))
}

func TestFlushSurvivesPoolEviction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.dat")
	pg, err := Open(path, 1)
	require.NoError(t, err)
	defer pg.Close()

	id1, err := pg.Allocate()
	require.NoError(t, err)
	p1, err := pg.Read(id1)
	require.NoError(t, err)
	copy(p1.Buf[DataStart:], []byte("first"))
	require.NoError(t, pg.Write(p1))

	id2, err := pg.Allocate()
	require.NoError(t, err)
	p2, err := pg.Read(id2)
	require.NoError(t, err)
	copy(p2.Buf[DataStart:], []byte("second"))
	require.NoError(t, pg.Write(p2))

	got, err := pg.Read(id1)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got.Buf[DataStart:DataStart+5]))
}

func TestWriteHeaderPersistsMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.dat")
	pg, err := Open(path, 4)
	require.NoError(t, err)
	defer pg.Close()

	require.NoError(t, pg.WriteHeader([]byte("meta")))

	hp, err := pg.Header()
	require.NoError(t, err)
	assert.Equal(t, "meta", string(hp.Buf[HeaderMetadataOffset:HeaderMetadataOffset+4]))
}
