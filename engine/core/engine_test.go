package core

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/types"
)

func testConfig() Config {
	return Config{CachePages: 16}
}

func openTestEngine(t *testing.T) *Engine {
	e, err := Open(t.TempDir(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func testSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.INT},
		{Name: "name", Type: types.STRING, Nullable: true},
	}}
}

func TestCreateTableInsertGet(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("t", testSchema()))

	tx := e.Begin()
	r, err := e.Insert(tx, "t", []types.Value{types.IntValue(1), types.StringValue("alice")})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	tx2 := e.Begin()
	row, err := e.Get(tx2, "t", r)
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))

	assert.Equal(t, []types.Value{types.IntValue(1), types.StringValue("alice")}, row)
}

func TestRollbackUndoesInsert(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("t", testSchema()))

	tx := e.Begin()
	r, err := e.Insert(tx, "t", []types.Value{types.IntValue(1), types.StringValue("alice")})
	require.NoError(t, err)
	require.NoError(t, e.Rollback(tx))

	tx2 := e.Begin()
	_, err = e.Get(tx2, "t", r)
	assert.Error(t, err)
	require.NoError(t, e.Commit(tx2))
}

func TestScanReturnsAllRows(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("t", testSchema()))

	tx := e.Begin()
	_, err := e.Insert(tx, "t", []types.Value{types.IntValue(1), types.StringValue("a")})
	require.NoError(t, err)
	_, err = e.Insert(tx, "t", []types.Value{types.IntValue(2), types.StringValue("b")})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	tx2 := e.Begin()
	_, rows, err := e.Scan(tx2, "t")
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))
	assert.Len(t, rows, 2)
}

func TestUpdateChangesValue(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("t", testSchema()))

	tx := e.Begin()
	r, err := e.Insert(tx, "t", []types.Value{types.IntValue(1), types.StringValue("a")})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	tx2 := e.Begin()
	newR, err := e.Update(tx2, "t", r, []types.Value{types.IntValue(1), types.StringValue("b")})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))

	tx3 := e.Begin()
	row, err := e.Get(tx3, "t", newR)
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx3))
	assert.Equal(t, types.StringValue("b"), row[1])
}

func TestDeleteRemovesRow(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("t", testSchema()))

	tx := e.Begin()
	r, err := e.Insert(tx, "t", []types.Value{types.IntValue(1), types.StringValue("a")})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))

	tx2 := e.Begin()
	require.NoError(t, e.Delete(tx2, "t", r))
	require.NoError(t, e.Commit(tx2))

	tx3 := e.Begin()
	_, err = e.Get(tx3, "t", r)
	assert.Error(t, err)
	require.NoError(t, e.Commit(tx3))
}

func TestIndexSearchAndRange(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("t", testSchema()))
	require.NoError(t, e.CreateIndex("t", "ix_id", "id", true))

	tx := e.Begin()
	for i := int32(1); i <= 5; i++ {
		_, err := e.Insert(tx, "t", []types.Value{types.IntValue(i), types.StringValue("row")})
		require.NoError(t, err)
	}
	require.NoError(t, e.Commit(tx))

	tx2 := e.Begin()
	r, err := e.IndexSearch(tx2, "t", "ix_id", types.IntValue(3))
	require.NoError(t, err)

	rids, err := e.IndexRange(tx2, "t", "ix_id", types.IntValue(2), types.IntValue(4))
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx2))

	assert.Len(t, rids, 3)
	assert.Contains(t, rids, r)
}

func TestRecoveryRedoesCommittedMutationsAfterReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir())
	e, err := Open(dir, testConfig())
	require.NoError(t, err)
	require.NoError(t, e.CreateTable("t", testSchema()))

	tx := e.Begin()
	r, err := e.Insert(tx, "t", []types.Value{types.IntValue(1), types.StringValue("a")})
	require.NoError(t, err)
	require.NoError(t, e.Commit(tx))
	require.NoError(t, e.Close())

	e2, err := Open(dir, testConfig())
	require.NoError(t, err)
	defer e2.Close()

	tx2 := e2.Begin()
	row, err := e2.Get(tx2, "t", r)
	require.NoError(t, err)
	require.NoError(t, e2.Commit(tx2))
	assert.Equal(t, types.StringValue("a"), row[1])
}

func TestDropTableRemovesItFromListTables(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.CreateTable("t", testSchema()))
	require.NoError(t, e.DropTable("t"))
	assert.NotContains(t, e.ListTables(), "t")
}
