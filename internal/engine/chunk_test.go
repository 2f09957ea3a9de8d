package engine

import (
	"errors"
	"testing"

	"lockstep/internal/comm"
	"lockstep/internal/observability"
	"lockstep/internal/signal"
)

func soloContext(t *testing.T) *comm.Context {
	t.Helper()
	ctxs, err := comm.PipeMesh(1, observability.TestLogger())
	if err != nil {
		t.Fatalf("pipe mesh: %v", err)
	}
	t.Cleanup(func() { ctxs[0].Close() })
	return ctxs[0]
}

func TestChunkClockAndProbeSampling(t *testing.T) {
	c := NewChunk(0, 0.001, observability.TestLogger())
	buf := signal.NewBuffer(1, "x", 1)
	if err := c.AddBuffer(buf); err != nil {
		t.Fatalf("add buffer: %v", err)
	}
	if err := c.AddOperator(NewRamp(buf, 0, 1)); err != nil {
		t.Fatalf("add operator: %v", err)
	}
	if err := c.AddProbe(NewProbe(100, 2, buf)); err != nil {
		t.Fatalf("add probe: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := c.RunSteps(5, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.StepCount() != 5 {
		t.Fatalf("step count: got %d want 5", c.StepCount())
	}
	if got, want := c.Time(), 0.005; got < want-1e-12 || got > want+1e-12 {
		t.Fatalf("time: got %g want %g", got, want)
	}

	// period 2 over 5 steps: samples after steps 2 and 4.
	p := c.Probes()[0]
	if p.Len() != 2 {
		t.Fatalf("samples: got %d want 2", p.Len())
	}
	rec := p.Record()
	if rec.Samples[0][0] != 2 || rec.Samples[1][0] != 4 {
		t.Fatalf("sample values: got %v", rec.Samples)
	}
}

func TestChunkStructureFrozenAfterFinalize(t *testing.T) {
	c := NewChunk(0, 0.001, observability.TestLogger())
	buf := signal.NewBuffer(1, "x", 1)
	if err := c.AddBuffer(buf); err != nil {
		t.Fatalf("add buffer: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := c.AddBuffer(signal.NewBuffer(2, "y", 1)); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if err := c.AddOperator(NewRamp(buf, 0, 1)); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
	if err := c.Finalize(); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized on double finalize, got %v", err)
	}
}

func TestStepBeforeFinalize(t *testing.T) {
	c := NewChunk(0, 0.001, observability.TestLogger())
	if err := c.Step(); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("expected ErrNotFinalized, got %v", err)
	}
}

func TestFinalizeRejectsWaitAfterSend(t *testing.T) {
	ctx := soloContext(t)
	c := NewChunk(0, 0.001, observability.TestLogger())
	buf := signal.NewBuffer(1, "x", 1)
	if err := c.AddBuffer(buf); err != nil {
		t.Fatalf("add buffer: %v", err)
	}

	send := NewSend(ctx, 0, 16, buf)
	w := NewWait(16)
	send.SetWaiter(w)
	// Send scheduled before its wait violates the ordering contract.
	if err := c.AddOperator(send); err != nil {
		t.Fatalf("add send: %v", err)
	}
	if err := c.AddOperator(w); err != nil {
		t.Fatalf("add wait: %v", err)
	}

	if err := c.Finalize(); !errors.Is(err, ErrBadSchedule) {
		t.Fatalf("expected ErrBadSchedule, got %v", err)
	}
}

func TestFinalizeRejectsUnpairedSend(t *testing.T) {
	ctx := soloContext(t)
	c := NewChunk(0, 0.001, observability.TestLogger())
	buf := signal.NewBuffer(1, "x", 1)
	if err := c.AddBuffer(buf); err != nil {
		t.Fatalf("add buffer: %v", err)
	}
	if err := c.AddOperator(NewSend(ctx, 0, 16, buf)); err != nil {
		t.Fatalf("add send: %v", err)
	}
	if err := c.Finalize(); !errors.Is(err, ErrUnpaired) {
		t.Fatalf("expected ErrUnpaired, got %v", err)
	}
}

func TestWaitIdempotentWhenNothingInFlight(t *testing.T) {
	w := NewWait(16)
	// Primed state: nothing issued yet, both calls must be no-ops and
	// neither may block.
	if err := w.Step(); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := w.Step(); err != nil {
		t.Fatalf("second wait: %v", err)
	}
}

func TestWaitRetiresRequestOnce(t *testing.T) {
	ctx := soloContext(t)
	buf := signal.NewBuffer(1, "x", 1)
	if err := buf.Set([]float64{3}); err != nil {
		t.Fatalf("set: %v", err)
	}

	into := signal.NewBuffer(1, "x", 1)
	recv := NewRecv(ctx, 0, 16, into)
	rw := NewWait(16)
	recv.SetWaiter(rw)

	send := NewSend(ctx, 0, 16, buf)
	sw := NewWait(16)
	send.SetWaiter(sw)

	if err := recv.Step(); err != nil {
		t.Fatalf("recv: %v", err)
	}
	if err := send.Step(); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := rw.Step(); err != nil {
		t.Fatalf("recv wait: %v", err)
	}
	if into.Values()[0] != 3 {
		t.Fatalf("delivered value: got %g want 3", into.Values()[0])
	}
	if err := sw.Step(); err != nil {
		t.Fatalf("send wait: %v", err)
	}

	// Both requests retired; repeat waits must not block.
	if err := rw.Step(); err != nil {
		t.Fatalf("recv wait again: %v", err)
	}
	if err := sw.Step(); err != nil {
		t.Fatalf("send wait again: %v", err)
	}
}

func TestComputeOperators(t *testing.T) {
	a := signal.NewBuffer(1, "a", 2)
	b := signal.NewBuffer(2, "b", 2)

	if err := NewReset(a, 1.5).Step(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if a.Values()[0] != 1.5 || a.Values()[1] != 1.5 {
		t.Fatalf("reset values: %v", a.Values())
	}

	if err := NewCopy(a, b).Step(); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if b.Values()[0] != 1.5 {
		t.Fatalf("copy values: %v", b.Values())
	}

	if err := NewScale(2, a, b).Step(); err != nil {
		t.Fatalf("scale: %v", err)
	}
	if b.Values()[0] != 3 {
		t.Fatalf("scale values: %v", b.Values())
	}

	r := NewRamp(a, 10, 2)
	_ = r.Step()
	_ = r.Step()
	if a.Values()[0] != 14 {
		t.Fatalf("ramp after two steps: %v", a.Values())
	}
}
