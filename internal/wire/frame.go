package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic   uint32 = 0x4C4B5350 // "LKSP"
	Version uint16 = 1

	FixedHeaderLen uint16 = 32
)

// Frame kinds. Control frames carry JSON envelopes, data frames carry raw
// float64 vectors, probe frames carry TLV-encoded probe records.
const (
	KindHello   uint16 = 1
	KindControl uint16 = 2
	KindData    uint16 = 3
	KindProbe   uint16 = 4
)

// Reserved tags for the bootstrap channels. Data tags assigned by the
// plan compiler start at MinDataTag and can never collide with these.
const (
	TagSetup   uint64 = 1
	TagProbe   uint64 = 2
	TagControl uint64 = 3

	MinDataTag uint64 = 16
)

var (
	ErrShortHeader     = errors.New("wire: short fixed header")
	ErrBadMagic        = errors.New("wire: bad magic")
	ErrBadVersion      = errors.New("wire: unsupported version")
	ErrPayloadTooLarge = errors.New("wire: payload too large")
)

// Header is the fixed wire header. Every message between ranks, whether
// bootstrap, lockstep data or probe gather, travels under one of these.
type Header struct {
	Magic      uint32
	Version    uint16
	Kind       uint16
	SrcRank    uint32
	Tag        uint64
	Seq        uint32
	PayloadLen uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 64 * 1024 * 1024}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, fmt.Errorf("%w: 0x%08x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.PayloadLen = payloadLen

	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if payloadLen > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Kind)
	binary.BigEndian.PutUint32(buf[8:12], h.SrcRank)
	binary.BigEndian.PutUint64(buf[12:20], h.Tag)
	binary.BigEndian.PutUint32(buf[20:24], h.Seq)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("wire: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Kind:       binary.BigEndian.Uint16(b[6:8]),
		SrcRank:    binary.BigEndian.Uint32(b[8:12]),
		Tag:        binary.BigEndian.Uint64(b[12:20]),
		Seq:        binary.BigEndian.Uint32(b[20:24]),
		PayloadLen: binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
