package wire

import (
	"fmt"
)

// TLV field IDs for probe-record frames.
const (
	FieldProbeKey    uint16 = 1
	FieldPeriod      uint16 = 2
	FieldSampleCount uint16 = 3
	FieldSampleSize  uint16 = 4
	FieldSamples     uint16 = 5
)

// ProbeRecord is one probe's accumulated history as it crosses the wire
// at gather time.
type ProbeRecord struct {
	Key     uint64
	Period  uint32
	Samples [][]float64
}

func EncodeProbeRecord(rec ProbeRecord) ([]byte, error) {
	size := 0
	if len(rec.Samples) > 0 {
		size = len(rec.Samples[0])
	}
	flat := make([]float64, 0, len(rec.Samples)*size)
	for i, s := range rec.Samples {
		if len(s) != size {
			return nil, fmt.Errorf("wire: probe %d sample %d has %d elements, want %d", rec.Key, i, len(s), size)
		}
		flat = append(flat, s...)
	}
	fields := []Field{
		U64Field(FieldProbeKey, rec.Key),
		U32Field(FieldPeriod, rec.Period),
		U32Field(FieldSampleCount, uint32(len(rec.Samples))),
		U32Field(FieldSampleSize, uint32(size)),
		{ID: FieldSamples, Type: TypeBytes, Value: EncodeVector(flat)},
	}
	return EncodeFields(fields), nil
}

func DecodeProbeRecord(payload []byte) (ProbeRecord, error) {
	fields, err := DecodeFields(payload)
	if err != nil {
		return ProbeRecord{}, err
	}
	key, err := U64FromField(fields, FieldProbeKey)
	if err != nil {
		return ProbeRecord{}, err
	}
	period, err := U32FromField(fields, FieldPeriod)
	if err != nil {
		return ProbeRecord{}, err
	}
	count, err := U32FromField(fields, FieldSampleCount)
	if err != nil {
		return ProbeRecord{}, err
	}
	size, err := U32FromField(fields, FieldSampleSize)
	if err != nil {
		return ProbeRecord{}, err
	}
	raw, err := BytesFromField(fields, FieldSamples)
	if err != nil {
		return ProbeRecord{}, err
	}
	flat, err := DecodeVector(raw)
	if err != nil {
		return ProbeRecord{}, err
	}
	if uint32(len(flat)) != count*size {
		return ProbeRecord{}, fmt.Errorf("wire: probe %d has %d values, want %d x %d", key, len(flat), count, size)
	}
	samples := make([][]float64, count)
	for i := uint32(0); i < count; i++ {
		samples[i] = flat[i*size : (i+1)*size]
	}
	return ProbeRecord{Key: key, Period: period, Samples: samples}, nil
}
