package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/storage/pager"
	"minidb/storage/rid"
)

func TestAppendAssignsMonotonicLSNs(t *testing.T) {
	w, err := Open(filepath.Join(t.TempDir(), "t.wal"))
	require.NoError(t, err)
	defer w.Close()

	lsn1, err := w.Append(Record{Op: OpInsert, Table: "t", RID: rid.RID{PageID: pager.PageID(1), SlotID: 0}})
	require.NoError(t, err)
	lsn2, err := w.Append(Record{Op: OpInsert, Table: "t", RID: rid.RID{PageID: pager.PageID(1), SlotID: 1}})
	require.NoError(t, err)

	assert.Equal(t, lsn1+1, lsn2)
}

func TestCommitFlushesAndIsVisibleOnIterate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(Record{
		Op: OpInsert, Table: "t", TxnID: 1,
		RID: rid.RID{PageID: pager.PageID(1), SlotID: 0}, After: []byte("row"),
	})
	require.NoError(t, err)
	_, err = w.Commit(1)
	require.NoError(t, err)

	var ops []Op
	err = w.IterateFrom(0, func(r Record) error {
		ops = append(ops, r.Op)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Op{OpInsert, OpCommit}, ops)
}

func TestReopenRecoversNextLSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.wal")
	w, err := Open(path)
	require.NoError(t, err)
	lsn, err := w.Append(Record{Op: OpInsert, Table: "t", RID: rid.RID{PageID: pager.PageID(1), SlotID: 0}})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()
	next := w2.NextLSN()
	assert.Equal(t, lsn+1, next)
}

func TestTruncateToDropsOlderRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(Record{Op: OpInsert, Table: "t", RID: rid.RID{PageID: pager.PageID(1), SlotID: 0}})
	require.NoError(t, err)
	ckpt, err := w.Append(Record{Op: OpInsert, Table: "t", RID: rid.RID{PageID: pager.PageID(1), SlotID: 1}})
	require.NoError(t, err)

	require.NoError(t, w.TruncateTo(ckpt))

	var lsns []uint64
	err = w.IterateFrom(0, func(r Record) error {
		lsns = append(lsns, r.LSN)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{ckpt}, lsns)
}

func TestIterateFromSkipsBefore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.wal")
	w, err := Open(path)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(Record{Op: OpInsert, Table: "t", RID: rid.RID{PageID: pager.PageID(1), SlotID: 0}})
	require.NoError(t, err)
	second, err := w.Append(Record{Op: OpInsert, Table: "t", RID: rid.RID{PageID: pager.PageID(1), SlotID: 1}})
	require.NoError(t, err)

	var lsns []uint64
	err = w.IterateFrom(second, func(r Record) error {
		lsns = append(lsns, r.LSN)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{second}, lsns)
}
