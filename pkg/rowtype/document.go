package rowtype

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/snappy"
)

// FieldType tags the dynamic type carried by a Field value, exactly as the
// teacher's storage.FieldType does.
type FieldType byte

const (
	FieldNull FieldType = iota
	FieldString
	FieldInt64
	FieldFloat64
	FieldBool
	FieldDocument
	FieldArray
)

// Field is one named, typed value inside a GenericRow.
type Field struct {
	Name  string
	Type  FieldType
	Value any // string | int64 | float64 | bool | nil | *GenericRow | []any
}

// GenericRow is a column-generic row, the core's stand-in for a generated,
// schema-specific row type. It generalizes the teacher's storage.Document
// with the primary-key accessor and flag triple the row contract requires.
type GenericRow struct {
	PKField string
	Fields  []Field
	flags   RowFlags
}

// NewGenericRow creates a new row, ghosted by default as every freshly
// allocated row must be until its indexes are populated.
func NewGenericRow(pkField string) *GenericRow {
	return &GenericRow{PKField: pkField, flags: RowFlags{Ghosted: true}}
}

func (d *GenericRow) Set(name string, value any) {
	for i, f := range d.Fields {
		if f.Name == name {
			d.Fields[i].Type, d.Fields[i].Value = inferType(value)
			return
		}
	}
	t, v := inferType(value)
	d.Fields = append(d.Fields, Field{Name: name, Type: t, Value: v})
}

func (d *GenericRow) Get(name string) (any, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

func (d *GenericRow) PrimaryKey() string {
	v, _ := d.Get(d.PKField)
	s, _ := v.(string)
	return s
}

func (d *GenericRow) Columns() []Column {
	cols := make([]Column, 0, len(d.Fields))
	for _, f := range d.Fields {
		cols = append(cols, Column{Name: f.Name, Value: f.Value})
	}
	return cols
}

func (d *GenericRow) Clone() Row[string] {
	clone := &GenericRow{PKField: d.PKField, flags: d.flags, Fields: make([]Field, len(d.Fields))}
	copy(clone.Fields, d.Fields)
	return clone
}

func (d *GenericRow) Flags() RowFlags     { return d.flags }
func (d *GenericRow) SetFlags(f RowFlags) { d.flags = f }

func inferType(value any) (FieldType, any) {
	if value == nil {
		return FieldNull, nil
	}
	switch v := value.(type) {
	case string:
		return FieldString, v
	case int:
		return FieldInt64, int64(v)
	case int64:
		return FieldInt64, v
	case float64:
		return FieldFloat64, v
	case bool:
		return FieldBool, v
	case *GenericRow:
		return FieldDocument, v
	case []any:
		return FieldArray, v
	default:
		return FieldNull, nil
	}
}

// DocumentCodec implements Codec[string, *GenericRow]. Encoded layout:
//
//	[flags:1][pk_field_len:2][pk_field][nb_fields:2]{[name_len:2][name][type:1][value...]}
//
// String, array and nested-document values whose encoded payload reaches
// CompressionThreshold are snappy-compressed when that makes them smaller; a
// leading marker byte distinguishes compressed from raw payloads so Decode
// stays self-describing.
type DocumentCodec struct {
	// CompressionThreshold is the minimum payload size, in bytes, a string,
	// array or nested-document value must reach before it is
	// snappy-compressed. Zero disables compression.
	CompressionThreshold int
}

const (
	payloadRaw        = 0
	payloadCompressed = 1
)

var (
	ErrTooShort    = errors.New("rowtype: encoded row too short")
	ErrTruncated   = errors.New("rowtype: encoded row truncated")
	ErrUnknownType = errors.New("rowtype: unknown field type")
	ErrSerialize   = errors.New("rowtype: serialize failed")
	ErrDeserialize = errors.New("rowtype: deserialize failed")
)

func (c DocumentCodec) Encode(row *GenericRow) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, row.flags.encode())

	pk := []byte(row.PKField)
	if len(pk) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: pk field name too long", ErrSerialize)
	}
	buf = appendUint16(buf, uint16(len(pk)))
	buf = append(buf, pk...)

	buf = appendUint16(buf, uint16(len(row.Fields)))
	for _, f := range row.Fields {
		nameBytes := []byte(f.Name)
		if len(nameBytes) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: field name too long: %s", ErrSerialize, f.Name)
		}
		buf = appendUint16(buf, uint16(len(nameBytes)))
		buf = append(buf, nameBytes...)
		buf = append(buf, byte(f.Type))

		valBytes, err := c.encodeValue(f.Type, f.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	return buf, nil
}

func (c DocumentCodec) EncodedLen(row *GenericRow) int {
	b, err := c.Encode(row)
	if err != nil {
		return 0
	}
	return len(b)
}

func (c DocumentCodec) Decode(data []byte) (*GenericRow, error) {
	if len(data) < 1+2 {
		return nil, ErrTooShort
	}
	flags := decodeRowFlags(data[0])
	offset := 1

	pkLen := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if offset+pkLen > len(data) {
		return nil, ErrTruncated
	}
	pkField := string(data[offset : offset+pkLen])
	offset += pkLen

	if offset+2 > len(data) {
		return nil, ErrTruncated
	}
	nbFields := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	row := &GenericRow{PKField: pkField, flags: flags}
	for i := 0; i < nbFields; i++ {
		if offset+2 > len(data) {
			return nil, ErrTruncated
		}
		nameLen := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
		if offset+nameLen > len(data) {
			return nil, ErrTruncated
		}
		name := string(data[offset : offset+nameLen])
		offset += nameLen

		if offset >= len(data) {
			return nil, ErrTruncated
		}
		ftype := FieldType(data[offset])
		offset++

		val, n, err := c.decodeValue(ftype, data[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		row.Fields = append(row.Fields, Field{Name: name, Type: ftype, Value: val})
	}
	return row, nil
}

func (c DocumentCodec) PatchFlags(data []byte, flags RowFlags) ([]byte, error) {
	if len(data) < 1 {
		return nil, ErrTooShort
	}
	out := make([]byte, len(data))
	copy(out, data)
	out[0] = flags.encode()
	return out, nil
}

func (c DocumentCodec) PeekFlags(data []byte) (RowFlags, error) {
	if len(data) < 1 {
		return RowFlags{}, ErrTooShort
	}
	return decodeRowFlags(data[0]), nil
}

func (c DocumentCodec) encodeValue(t FieldType, v any) ([]byte, error) {
	switch t {
	case FieldNull:
		return nil, nil
	case FieldBool:
		if v.(bool) {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case FieldInt64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(v.(int64)))
		return buf, nil
	case FieldFloat64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.(float64)))
		return buf, nil
	case FieldString:
		return c.encodeBytesPayload([]byte(v.(string)))
	case FieldDocument:
		sub := v.(*GenericRow)
		encoded, err := c.Encode(sub)
		if err != nil {
			return nil, err
		}
		return c.encodeBytesPayload(encoded)
	case FieldArray:
		arr := v.([]any)
		arrBuf := make([]byte, 0, 64)
		arrBuf = appendUint16(arrBuf, uint16(len(arr)))
		for _, elem := range arr {
			et, ev := inferType(elem)
			arrBuf = append(arrBuf, byte(et))
			eb, err := c.encodeValue(et, ev)
			if err != nil {
				return nil, err
			}
			arrBuf = append(arrBuf, eb...)
		}
		return c.encodeBytesPayload(arrBuf)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

func (c DocumentCodec) decodeValue(t FieldType, data []byte) (any, int, error) {
	switch t {
	case FieldNull:
		return nil, 0, nil
	case FieldBool:
		if len(data) < 1 {
			return nil, 0, ErrTruncated
		}
		return data[0] != 0, 1, nil
	case FieldInt64:
		if len(data) < 8 {
			return nil, 0, ErrTruncated
		}
		return int64(binary.LittleEndian.Uint64(data)), 8, nil
	case FieldFloat64:
		if len(data) < 8 {
			return nil, 0, ErrTruncated
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8, nil
	case FieldString:
		raw, n, err := c.decodeBytesPayload(data)
		if err != nil {
			return nil, 0, err
		}
		return string(raw), n, nil
	case FieldDocument:
		raw, n, err := c.decodeBytesPayload(data)
		if err != nil {
			return nil, 0, err
		}
		sub, err := c.Decode(raw)
		if err != nil {
			return nil, 0, err
		}
		return sub, n, nil
	case FieldArray:
		raw, n, err := c.decodeBytesPayload(data)
		if err != nil {
			return nil, 0, err
		}
		if len(raw) < 2 {
			return []any{}, n, nil
		}
		count := int(binary.LittleEndian.Uint16(raw))
		aoff := 2
		arr := make([]any, 0, count)
		for i := 0; i < count; i++ {
			if aoff >= len(raw) {
				return nil, 0, ErrTruncated
			}
			et := FieldType(raw[aoff])
			aoff++
			ev, m, err := c.decodeValue(et, raw[aoff:])
			if err != nil {
				return nil, 0, err
			}
			aoff += m
			arr = append(arr, ev)
		}
		return arr, n, nil
	default:
		return nil, 0, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

// encodeBytesPayload writes [marker:1][len:4][payload], compressing payload
// with snappy when it reaches CompressionThreshold and compression actually
// shrinks it.
func (c DocumentCodec) encodeBytesPayload(raw []byte) ([]byte, error) {
	marker := byte(payloadRaw)
	payload := raw
	if c.CompressionThreshold > 0 && len(raw) >= c.CompressionThreshold {
		compressed := snappy.Encode(nil, raw)
		if len(compressed) < len(raw) {
			marker = payloadCompressed
			payload = compressed
		}
	}
	buf := make([]byte, 1+4+len(payload))
	buf[0] = marker
	binary.LittleEndian.PutUint32(buf[1:], uint32(len(payload)))
	copy(buf[5:], payload)
	return buf, nil
}

func (c DocumentCodec) decodeBytesPayload(data []byte) ([]byte, int, error) {
	if len(data) < 5 {
		return nil, 0, ErrTruncated
	}
	marker := data[0]
	plen := int(binary.LittleEndian.Uint32(data[1:]))
	if len(data) < 5+plen {
		return nil, 0, ErrTruncated
	}
	payload := data[5 : 5+plen]
	if marker == payloadCompressed {
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrDeserialize, err)
		}
		return raw, 5 + plen, nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, 5 + plen, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, v)
	return append(buf, tmp...)
}
