package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "NULL", Format(nil))
	assert.Equal(t, "3", Format(IntValue(3)))
	assert.Equal(t, "true", Format(BoolValue(true)))
	assert.Equal(t, "abc", Format(StringValue("abc")))
}

func TestCompareOrdering(t *testing.T) {
	cases := []struct {
		tag  TypeTag
		a, b Value
		want int
	}{
		{INT, IntValue(1), IntValue(2), -1},
		{INT, IntValue(2), IntValue(2), 0},
		{INT, IntValue(3), IntValue(2), 1},
		{FLOAT, FloatValue(1.5), FloatValue(1.5), 0},
		{BOOLEAN, BoolValue(false), BoolValue(true), -1},
		{DATE, DateValue(100), DateValue(99), 1},
		{STRING, StringValue("abc"), StringValue("abd"), -1},
	}
	for _, c := range cases {
		got, err := Compare(c.tag, c.a, c.b)
		assert.NoError(t, err)
		assert.Equal(t, c.want, got, "Compare(%v, %v, %v)", c.tag, c.a, c.b)
	}
}

func TestCompareNull(t *testing.T) {
	_, err := Compare(INT, nil, IntValue(1))
	assert.Error(t, err)
}

func TestSchemaColumnIndex(t *testing.T) {
	s := Schema{Columns: []Column{{Name: "id", Type: INT}, {Name: "name", Type: STRING}}}
	assert.Equal(t, 0, s.ColumnIndex("id"))
	assert.Equal(t, 1, s.ColumnIndex("name"))
	assert.Equal(t, -1, s.ColumnIndex("missing"))
}
