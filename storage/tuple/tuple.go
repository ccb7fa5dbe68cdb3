// Package tuple implements the tuple codec: encoding and decoding rows
// against a schema, with a null bitmap and typed fixed- or variable-width
// fields.
package tuple

import (
	"encoding/binary"
	"fmt"
	"math"

	"minidb/errs"
	"minidb/types"
)

const (
	headerSize = 6 // tuple_len(u16) | null_bitmap(u16) | flags(u16)
	maxColumns = 16 // null bitmap is one uint16, one bit per column
)

// Encode builds the on-disk byte representation of values against schema:
// a 6-byte header followed by column data in schema order, skipping
// columns whose null bit is set.
func Encode(schema types.Schema, values []types.Value) ([]byte, error) {
	if len(values) != len(schema.Columns) {
		return nil, fmt.Errorf("tuple: encode: got %d values, schema has %d columns",
			len(values), len(schema.Columns))
	}
	if len(schema.Columns) > maxColumns {
		return nil, fmt.Errorf("tuple: encode: schema has %d columns, max %d",
			len(schema.Columns), maxColumns)
	}

	var bitmap uint16
	body := make([]byte, 0, 64)

	for i, col := range schema.Columns {
		v := values[i]
		if v == nil {
			if !col.Nullable {
				return nil, fmt.Errorf("tuple: encode: column %q is not nullable", col.Name)
			}
			bitmap |= 1 << uint(i)
			continue
		}
		enc, err := EncodeScalar(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("tuple: encode: column %q: %w", col.Name, err)
		}
		body = append(body, enc...)
	}

	total := headerSize + len(body)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(total))
	binary.BigEndian.PutUint16(buf[2:4], bitmap)
	binary.BigEndian.PutUint16(buf[4:6], 0) // flags, unused
	copy(buf[headerSize:], body)
	return buf, nil
}

func EncodeScalar(tag types.TypeTag, v types.Value) ([]byte, error) {
	switch tag {
	case types.INT:
		iv, ok := v.(types.IntValue)
		if !ok {
			return nil, fmt.Errorf("expected INT, got %T", v)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(iv)))
		return buf, nil
	case types.FLOAT:
		fv, ok := v.(types.FloatValue)
		if !ok {
			return nil, fmt.Errorf("expected FLOAT, got %T", v)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(float64(fv)))
		return buf, nil
	case types.BOOLEAN:
		bv, ok := v.(types.BoolValue)
		if !ok {
			return nil, fmt.Errorf("expected BOOLEAN, got %T", v)
		}
		if bv {
			return []byte{0x01}, nil
		}
		return []byte{0x00}, nil
	case types.DATE:
		dv, ok := v.(types.DateValue)
		if !ok {
			return nil, fmt.Errorf("expected DATE, got %T", v)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(int32(dv)))
		return buf, nil
	case types.STRING:
		sv, ok := v.(types.StringValue)
		if !ok {
			return nil, fmt.Errorf("expected STRING, got %T", v)
		}
		b := []byte(sv)
		if len(b) > 0xFFFF {
			return nil, fmt.Errorf("string too long: %d bytes", len(b))
		}
		buf := make([]byte, 2+len(b))
		binary.BigEndian.PutUint16(buf, uint16(len(b)))
		copy(buf[2:], b)
		return buf, nil
	default:
		return nil, fmt.Errorf("unknown type tag %v", tag)
	}
}

// Decode is the inverse of Encode: it verifies tuple_len equals len(buf)
// and returns one types.Value (or nil for NULL) per schema column.
func Decode(schema types.Schema, buf []byte) ([]types.Value, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("tuple: decode: buffer shorter than header (%d bytes)", len(buf))
	}
	tupleLen := binary.BigEndian.Uint16(buf[0:2])
	if int(tupleLen) != len(buf) {
		return nil, fmt.Errorf("tuple: decode: tuple_len %d does not match buffer length %d",
			tupleLen, len(buf))
	}
	bitmap := binary.BigEndian.Uint16(buf[2:4])

	values := make([]types.Value, len(schema.Columns))
	body := buf[headerSize:]

	for i, col := range schema.Columns {
		if bitmap&(1<<uint(i)) != 0 {
			values[i] = nil
			continue
		}
		v, rest, err := DecodeScalar(col.Type, body)
		if err != nil {
			return nil, fmt.Errorf("tuple: decode: column %q: %w", col.Name, err)
		}
		values[i] = v
		body = rest
	}
	return values, nil
}

func DecodeScalar(tag types.TypeTag, buf []byte) (types.Value, []byte, error) {
	switch tag {
	case types.INT:
		if len(buf) < 4 {
			return nil, nil, errs.New(errs.KindStorage, 0, "truncated INT")
		}
		return types.IntValue(int32(binary.BigEndian.Uint32(buf))), buf[4:], nil
	case types.FLOAT:
		if len(buf) < 8 {
			return nil, nil, errs.New(errs.KindStorage, 0, "truncated FLOAT")
		}
		bits := binary.BigEndian.Uint64(buf)
		return types.FloatValue(math.Float64frombits(bits)), buf[8:], nil
	case types.BOOLEAN:
		if len(buf) < 1 {
			return nil, nil, errs.New(errs.KindStorage, 0, "truncated BOOLEAN")
		}
		return types.BoolValue(buf[0] != 0), buf[1:], nil
	case types.DATE:
		if len(buf) < 4 {
			return nil, nil, errs.New(errs.KindStorage, 0, "truncated DATE")
		}
		return types.DateValue(int32(binary.BigEndian.Uint32(buf))), buf[4:], nil
	case types.STRING:
		if len(buf) < 2 {
			return nil, nil, errs.New(errs.KindStorage, 0, "truncated STRING length prefix")
		}
		n := binary.BigEndian.Uint16(buf)
		if len(buf) < 2+int(n) {
			return nil, nil, errs.New(errs.KindStorage, 0, "string length prefix overflows buffer: want %d, have %d",
				n, len(buf)-2)
		}
		s := make([]byte, n)
		copy(s, buf[2:2+int(n)])
		return types.StringValue(s), buf[2+int(n):], nil
	default:
		return nil, nil, fmt.Errorf("unknown type tag %v", tag)
	}
}
