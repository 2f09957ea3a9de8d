package wire

import (
	"errors"
	"reflect"
	"testing"
)

func TestFieldsRoundTrip(t *testing.T) {
	in := []Field{
		U64Field(1, 999),
		U32Field(2, 7),
		{ID: 3, Type: TypeBytes, Value: []byte{0xAA, 0xBB}},
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("fields mismatch: got=%+v want=%+v", out, in)
	}

	v, err := U64FromField(out, 1)
	if err != nil || v != 999 {
		t.Fatalf("u64 field: got %d, %v", v, err)
	}
	if _, err := U32FromField(out, 99); !errors.Is(err, ErrFieldMissing) {
		t.Fatalf("expected ErrFieldMissing, got %v", err)
	}
}

func TestDecodeFieldsTruncated(t *testing.T) {
	payload := EncodeField(U32Field(1, 5))
	if _, err := DecodeFields(payload[:len(payload)-2]); !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
	if _, err := DecodeFields(payload[:3]); !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestProbeRecordRoundTrip(t *testing.T) {
	in := ProbeRecord{
		Key:    100,
		Period: 10,
		Samples: [][]float64{
			{1, 2},
			{3, 4},
			{5, 6},
		},
	}
	payload, err := EncodeProbeRecord(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeProbeRecord(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Key != in.Key || out.Period != in.Period {
		t.Fatalf("record mismatch: got=%+v", out)
	}
	if !reflect.DeepEqual(in.Samples, out.Samples) {
		t.Fatalf("samples mismatch: got=%v want=%v", out.Samples, in.Samples)
	}
}

func TestProbeRecordEmpty(t *testing.T) {
	payload, err := EncodeProbeRecord(ProbeRecord{Key: 5, Period: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeProbeRecord(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Key != 5 || len(out.Samples) != 0 {
		t.Fatalf("expected empty record for key 5, got %+v", out)
	}
}

func TestProbeRecordRaggedSamples(t *testing.T) {
	_, err := EncodeProbeRecord(ProbeRecord{
		Key:     1,
		Period:  1,
		Samples: [][]float64{{1}, {2, 3}},
	})
	if err == nil {
		t.Fatalf("expected error for ragged samples")
	}
}
