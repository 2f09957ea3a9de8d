// Package signal holds the named numeric state vectors that operators
// read and write. A buffer belongs to exactly one chunk; the same key on
// two different ranks names the same logical signal, each rank keeping
// its own physical copy.
package signal

import (
	"errors"
	"fmt"
)

var ErrSizeMismatch = errors.New("signal: size mismatch")

// Key identifies a logical signal. Keys are assigned by the plan compiler
// and are stable across ranks.
type Key = uint64

// Buffer is one contiguous float64 vector.
type Buffer struct {
	key    Key
	label  string
	values []float64
}

func NewBuffer(key Key, label string, size int) *Buffer {
	return &Buffer{key: key, label: label, values: make([]float64, size)}
}

func NewBufferFrom(key Key, label string, initial []float64) *Buffer {
	v := make([]float64, len(initial))
	copy(v, initial)
	return &Buffer{key: key, label: label, values: v}
}

func (b *Buffer) Key() Key      { return b.key }
func (b *Buffer) Label() string { return b.label }
func (b *Buffer) Size() int     { return len(b.values) }

// Values returns the live backing slice. Callers within a chunk may
// mutate it in place; chunks are single-threaded so this is safe as long
// as the schedule ordering contract holds.
func (b *Buffer) Values() []float64 { return b.values }

// Set replaces the buffer contents.
func (b *Buffer) Set(v []float64) error {
	if len(v) != len(b.values) {
		return fmt.Errorf("%w: buffer %d holds %d values, got %d", ErrSizeMismatch, b.key, len(b.values), len(v))
	}
	copy(b.values, v)
	return nil
}

// Snapshot returns an independent copy of the current contents.
func (b *Buffer) Snapshot() []float64 {
	v := make([]float64, len(b.values))
	copy(v, b.values)
	return v
}

func (b *Buffer) String() string {
	return fmt.Sprintf("signal{key=%d label=%q size=%d}", b.key, b.label, len(b.values))
}
