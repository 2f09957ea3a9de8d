package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const FieldHeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("wire: short tlv field header")
	ErrShortFieldValue  = errors.New("wire: short tlv field value")
	ErrFieldMissing     = errors.New("wire: tlv field missing")
)

// TLV type IDs.
const (
	TypeU32    uint8 = 1
	TypeU64    uint8 = 2
	TypeString uint8 = 3
	TypeBytes  uint8 = 4
)

// Field is one decoded TLV field.
type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func EncodeField(f Field) []byte {
	buf := make([]byte, FieldHeaderLen+len(f.Value))
	binary.BigEndian.PutUint16(buf[0:2], f.ID)
	buf[2] = f.Type
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(f.Value)))
	copy(buf[7:], f.Value)
	return buf
}

func EncodeFields(fields []Field) []byte {
	out := make([]byte, 0)
	for _, f := range fields {
		out = append(out, EncodeField(f)...)
	}
	return out
}

func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < FieldHeaderLen {
			return nil, ErrShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		l := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += FieldHeaderLen
		if uint32(len(payload)-i) < l {
			return nil, ErrShortFieldValue
		}
		val := make([]byte, l)
		copy(val, payload[i:i+int(l)])
		i += int(l)
		fields = append(fields, Field{ID: id, Type: typeID, Value: val})
	}
	return fields, nil
}

func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func U32Field(id uint16, v uint32) Field {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return Field{ID: id, Type: TypeU32, Value: b}
}

func U64Field(id uint16, v uint64) Field {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return Field{ID: id, Type: TypeU64, Value: b}
}

func U32FromField(fields []Field, id uint16) (uint32, error) {
	f, ok := GetField(fields, id)
	if !ok {
		return 0, fmt.Errorf("%w: id %d", ErrFieldMissing, id)
	}
	if f.Type != TypeU32 || len(f.Value) != 4 {
		return 0, fmt.Errorf("wire: field %d is not a u32", id)
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

func U64FromField(fields []Field, id uint16) (uint64, error) {
	f, ok := GetField(fields, id)
	if !ok {
		return 0, fmt.Errorf("%w: id %d", ErrFieldMissing, id)
	}
	if f.Type != TypeU64 || len(f.Value) != 8 {
		return 0, fmt.Errorf("wire: field %d is not a u64", id)
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

func BytesFromField(fields []Field, id uint16) ([]byte, error) {
	f, ok := GetField(fields, id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrFieldMissing, id)
	}
	if f.Type != TypeBytes {
		return nil, fmt.Errorf("wire: field %d is not bytes", id)
	}
	return f.Value, nil
}
