package engine

import (
	"errors"
	"fmt"

	"lockstep/internal/comm"
	"lockstep/internal/signal"
)

// Each Send and Recv operator has a paired Wait operator that retires
// its in-flight request. The schedule must place the Wait for a Send
// strictly before that Send, and the Wait for a Recv strictly before
// every operator that reads the received buffer, with the Recv itself
// after all of them. Boundary data observed at step N was therefore
// produced remotely at step N-1, and network transfer overlaps local
// computation. The engine never reorders operators to enforce this; the
// plan compiler owes it a conforming schedule.

var ErrUnpaired = errors.New("engine: communication operator has no paired wait")

// Wait retires the pending request armed by its paired Send or Recv.
// Before anything is in flight the slot is empty and Step is a no-op,
// so both sides start primed.
type Wait struct {
	tag     uint64
	pending *comm.Request
}

func NewWait(tag uint64) *Wait {
	return &Wait{tag: tag}
}

func (w *Wait) Tag() uint64 { return w.tag }

func (w *Wait) Step() error {
	if w.pending == nil {
		return nil
	}
	req := w.pending
	w.pending = nil
	if err := req.Wait(); err != nil {
		return fmt.Errorf("wait tag %d: %w", w.tag, err)
	}
	return nil
}

func (w *Wait) String() string {
	return fmt.Sprintf("Wait{tag=%d}", w.tag)
}

// Send transmits its buffer's current contents to the destination rank
// without blocking, handing the request to its paired Wait. By the
// schedule contract the previous request has already been retired, so
// the slot is always free when Step runs.
type Send struct {
	ctx     *comm.Context
	dst     int
	tag     uint64
	content *signal.Buffer
	waiter  *Wait
}

func NewSend(ctx *comm.Context, dst int, tag uint64, content *signal.Buffer) *Send {
	return &Send{ctx: ctx, dst: dst, tag: tag, content: content}
}

func (s *Send) Tag() uint64       { return s.tag }
func (s *Send) SetWaiter(w *Wait) { s.waiter = w }
func (s *Send) Waiter() *Wait     { return s.waiter }

func (s *Send) Step() error {
	if s.waiter == nil {
		return fmt.Errorf("%w: send tag %d", ErrUnpaired, s.tag)
	}
	s.waiter.pending = s.ctx.Isend(s.dst, s.tag, s.content.Values())
	return nil
}

func (s *Send) String() string {
	return fmt.Sprintf("Send{dst=%d tag=%d signal=%d}", s.dst, s.tag, s.content.Key())
}

// Recv arms a non-blocking reception into its buffer, handing the
// request to its paired Wait. The buffer is only written when that Wait
// runs at the top of the next step, after this step's consumers are
// done with the previous value.
type Recv struct {
	ctx     *comm.Context
	src     int
	tag     uint64
	content *signal.Buffer
	waiter  *Wait
}

func NewRecv(ctx *comm.Context, src int, tag uint64, content *signal.Buffer) *Recv {
	return &Recv{ctx: ctx, src: src, tag: tag, content: content}
}

func (r *Recv) Tag() uint64       { return r.tag }
func (r *Recv) SetWaiter(w *Wait) { r.waiter = w }
func (r *Recv) Waiter() *Wait     { return r.waiter }

func (r *Recv) Step() error {
	if r.waiter == nil {
		return fmt.Errorf("%w: recv tag %d", ErrUnpaired, r.tag)
	}
	r.waiter.pending = r.ctx.Irecv(r.src, r.tag, r.content.Values())
	return nil
}

func (r *Recv) String() string {
	return fmt.Sprintf("Recv{src=%d tag=%d signal=%d}", r.src, r.tag, r.content.Key())
}
