package tuple

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minidb/types"
)

func testSchema() types.Schema {
	return types.Schema{Columns: []types.Column{
		{Name: "id", Type: types.INT},
		{Name: "name", Type: types.STRING, Nullable: true},
		{Name: "active", Type: types.BOOLEAN},
	}}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	schema := testSchema()
	values := []types.Value{types.IntValue(42), types.StringValue("hello"), types.BoolValue(true)}

	buf, err := Encode(schema, values)
	require.NoError(t, err)

	got, err := Decode(schema, buf)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestEncodeDecodeNull(t *testing.T) {
	schema := testSchema()
	values := []types.Value{types.IntValue(1), nil, types.BoolValue(false)}

	buf, err := Encode(schema, values)
	require.NoError(t, err)

	got, err := Decode(schema, buf)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestEncodeRejectsNullInNonNullableColumn(t *testing.T) {
	schema := testSchema()
	values := []types.Value{nil, types.StringValue("x"), types.BoolValue(true)}
	_, err := Encode(schema, values)
	assert.Error(t, err)
}

func TestEncodeRejectsWrongValueCount(t *testing.T) {
	schema := testSchema()
	_, err := Encode(schema, []types.Value{types.IntValue(1)})
	assert.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	schema := testSchema()
	buf, err := Encode(schema, []types.Value{types.IntValue(1), nil, types.BoolValue(true)})
	require.NoError(t, err)

	_, err = Decode(schema, buf[:len(buf)-1])
	assert.Error(t, err)
}
