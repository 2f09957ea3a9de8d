package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"lockstep/internal/comm"
	"lockstep/internal/plan"
	"lockstep/internal/signal"
)

// BuildChunk turns one chunk's build instructions into a runnable chunk
// wired to the given comm context. The schedule is assembled in the
// canonical order that satisfies the communication contract when every
// boundary signal has a single producing operator per step:
//
//	recv-waits, send-waits, compute operators (plan order), sends, recvs
//
// Recv-waits run before any consumer, sends run after the producer, and
// recvs prime the next step after every consumer has read the current
// value. The caller finalizes the chunk once the whole mesh is built.
func BuildChunk(ctx *comm.Context, dt float64, spec plan.ChunkSpec, log zerolog.Logger) (*Chunk, error) {
	c := NewChunk(spec.Rank, dt, log)

	for _, s := range spec.Signals {
		var buf *signal.Buffer
		if len(s.Initial) > 0 {
			buf = signal.NewBufferFrom(s.Key, s.Label, s.Initial)
		} else {
			buf = signal.NewBuffer(s.Key, s.Label, s.Size)
		}
		if err := c.AddBuffer(buf); err != nil {
			return nil, err
		}
	}

	sends := make([]*Send, 0, len(spec.Sends))
	recvs := make([]*Recv, 0, len(spec.Recvs))

	for _, r := range spec.Recvs {
		buf, ok := c.Buffer(r.Signal)
		if !ok {
			return nil, fmt.Errorf("engine: recv tag %d references unknown signal %d", r.Tag, r.Signal)
		}
		recv := NewRecv(ctx, r.Src, r.Tag, buf)
		w := NewWait(r.Tag)
		recv.SetWaiter(w)
		if err := c.AddOperator(w); err != nil {
			return nil, err
		}
		recvs = append(recvs, recv)
	}

	for _, s := range spec.Sends {
		buf, ok := c.Buffer(s.Signal)
		if !ok {
			return nil, fmt.Errorf("engine: send tag %d references unknown signal %d", s.Tag, s.Signal)
		}
		send := NewSend(ctx, s.Dst, s.Tag, buf)
		w := NewWait(s.Tag)
		send.SetWaiter(w)
		if err := c.AddOperator(w); err != nil {
			return nil, err
		}
		sends = append(sends, send)
	}

	for _, opSpec := range spec.Operators {
		op, err := newComputeOp(opSpec, c.buffers)
		if err != nil {
			return nil, err
		}
		if err := c.AddOperator(op); err != nil {
			return nil, err
		}
	}

	for _, send := range sends {
		if err := c.AddOperator(send); err != nil {
			return nil, err
		}
	}
	for _, recv := range recvs {
		if err := c.AddOperator(recv); err != nil {
			return nil, err
		}
	}

	for _, pr := range spec.Probes {
		buf, ok := c.Buffer(pr.Signal)
		if !ok {
			return nil, fmt.Errorf("engine: probe %d samples unknown signal %d", pr.Key, pr.Signal)
		}
		if err := c.AddProbe(NewProbe(pr.Key, pr.Period, buf)); err != nil {
			return nil, err
		}
	}

	return c, nil
}
