// Package engine executes one chunk of the distributed operator graph:
// a fixed, ordered schedule of operators stepped in lockstep with every
// other chunk in the run, exchanging boundary signals through the comm
// layer.
package engine

import (
	"fmt"

	"lockstep/internal/plan"
	"lockstep/internal/signal"
)

// Operator is one scheduled unit of per-step work. Implementations are
// either ordinary compute operators or the Send/Recv/Wait communication
// operators; the chunk steps them strictly in schedule order, single
// threaded.
type Operator interface {
	Step() error
	String() string
}

// Reset fills its target with a constant each step.
type Reset struct {
	dst   *signal.Buffer
	value float64
}

func NewReset(dst *signal.Buffer, value float64) *Reset {
	return &Reset{dst: dst, value: value}
}

func (o *Reset) Step() error {
	v := o.dst.Values()
	for i := range v {
		v[i] = o.value
	}
	return nil
}

func (o *Reset) String() string {
	return fmt.Sprintf("Reset{dst=%d value=%g}", o.dst.Key(), o.value)
}

// Copy overwrites dst with src each step.
type Copy struct {
	src *signal.Buffer
	dst *signal.Buffer
}

func NewCopy(src, dst *signal.Buffer) *Copy {
	return &Copy{src: src, dst: dst}
}

func (o *Copy) Step() error {
	return o.dst.Set(o.src.Values())
}

func (o *Copy) String() string {
	return fmt.Sprintf("Copy{src=%d dst=%d}", o.src.Key(), o.dst.Key())
}

// Scale writes k*src into dst each step.
type Scale struct {
	k   float64
	src *signal.Buffer
	dst *signal.Buffer
}

func NewScale(k float64, src, dst *signal.Buffer) *Scale {
	return &Scale{k: k, src: src, dst: dst}
}

func (o *Scale) Step() error {
	src := o.src.Values()
	dst := o.dst.Values()
	if len(src) != len(dst) {
		return fmt.Errorf("scale: src %d and dst %d differ in size", o.src.Key(), o.dst.Key())
	}
	for i := range dst {
		dst[i] = o.k * src[i]
	}
	return nil
}

func (o *Scale) String() string {
	return fmt.Sprintf("Scale{k=%g src=%d dst=%d}", o.k, o.src.Key(), o.dst.Key())
}

// Ramp drives its target with base + slope*n, where n counts this
// operator's invocations. Used to feed a deterministic input signal.
type Ramp struct {
	dst   *signal.Buffer
	base  float64
	slope float64
	n     int64
}

func NewRamp(dst *signal.Buffer, base, slope float64) *Ramp {
	return &Ramp{dst: dst, base: base, slope: slope}
}

func (o *Ramp) Step() error {
	o.n++
	v := o.dst.Values()
	for i := range v {
		v[i] = o.base + o.slope*float64(o.n)
	}
	return nil
}

func (o *Ramp) String() string {
	return fmt.Sprintf("Ramp{dst=%d base=%g slope=%g}", o.dst.Key(), o.base, o.slope)
}

// Compute-operator kinds understood by the chunk builder.
const (
	OpReset = "reset"
	OpCopy  = "copy"
	OpScale = "scale"
	OpRamp  = "ramp"
)

func newComputeOp(spec plan.OpSpec, buffers map[uint64]*signal.Buffer) (Operator, error) {
	dst, ok := buffers[spec.Dst]
	if !ok {
		return nil, fmt.Errorf("engine: operator %q writes unknown signal %d", spec.Kind, spec.Dst)
	}
	switch spec.Kind {
	case OpReset:
		return NewReset(dst, spec.Value), nil
	case OpRamp:
		return NewRamp(dst, 0, spec.Value), nil
	case OpCopy, OpScale:
		src, ok := buffers[spec.Src]
		if !ok {
			return nil, fmt.Errorf("engine: operator %q reads unknown signal %d", spec.Kind, spec.Src)
		}
		if spec.Kind == OpCopy {
			return NewCopy(src, dst), nil
		}
		return NewScale(spec.Value, src, dst), nil
	default:
		return nil, fmt.Errorf("engine: unknown operator kind %q", spec.Kind)
	}
}
