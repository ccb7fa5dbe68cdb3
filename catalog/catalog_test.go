package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/types"
)

func schema() types.Schema {
	return types.Schema{Columns: []types.Column{{Name: "id", Type: types.INT}}}
}

func TestCreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.dat")

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.CreateTable(TableDef{Name: "t", Schema: schema()}))
	require.NoError(t, c.CreateIndex("t", IndexDef{Name: "ix_id", Column: "id", Unique: true}))

	c2, err := Open(path)
	require.NoError(t, err)
	def, ok := c2.GetTable("t")
	require.True(t, ok)
	assert.Equal(t, "t", def.Name)
	assert.Len(t, def.Indexes, 1)
	assert.Equal(t, "ix_id", def.Indexes[0].Name)
	assert.True(t, def.Indexes[0].Unique)
}

func TestCreateTableDuplicate(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.dat"))
	require.NoError(t, err)
	require.NoError(t, c.CreateTable(TableDef{Name: "t", Schema: schema()}))
	assert.Error(t, c.CreateTable(TableDef{Name: "t", Schema: schema()}))
}

func TestDropTableRemovesIndexes(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.dat"))
	require.NoError(t, err)
	require.NoError(t, c.CreateTable(TableDef{Name: "t", Schema: schema()}))
	require.NoError(t, c.CreateIndex("t", IndexDef{Name: "ix_id", Column: "id"}))
	require.NoError(t, c.DropTable("t"))

	_, ok := c.GetTable("t")
	assert.False(t, ok)
	assert.Nil(t, c.ListIndexes("t"))
}

func TestDropIndexUnknown(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.dat"))
	require.NoError(t, err)
	require.NoError(t, c.CreateTable(TableDef{Name: "t", Schema: schema()}))
	assert.Error(t, c.DropIndex("t", "missing"))
}

func TestListTablesSorted(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.dat"))
	require.NoError(t, err)
	require.NoError(t, c.CreateTable(TableDef{Name: "zebra", Schema: schema()}))
	require.NoError(t, c.CreateTable(TableDef{Name: "apple", Schema: schema()}))
	assert.Equal(t, []string{"apple", "zebra"}, c.ListTables())
}
