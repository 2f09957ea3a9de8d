package engine

import (
	"reflect"
	"testing"
	"time"

	"lockstep/internal/comm"
	"lockstep/internal/observability"
	"lockstep/internal/plan"
)

// Boundary exchange between two chunks: a ramp on chunk 0 produces
// 1, 2, 3 at the start of steps 1-3 and sends them under tag 7; a
// consumer on chunk 1 copies the boundary buffer into a probed local
// buffer every step. With the double-buffered pipeline the consumer
// must observe the initial value at step 1, then 1 and 2 at steps 2-3:
// one step of latency in exchange for transfer/compute overlap.
func TestOneStepLatencyPipeline(t *testing.T) {
	ctxs, err := comm.PipeMesh(2, observability.TestLogger())
	if err != nil {
		t.Fatalf("pipe mesh: %v", err)
	}
	defer ctxs[0].Close()
	defer ctxs[1].Close()

	producer := plan.ChunkSpec{
		Rank:      0,
		Signals:   []plan.SignalSpec{{Key: 1, Label: "boundary", Size: 1}},
		Operators: []plan.OpSpec{{Kind: "ramp", Dst: 1, Value: 1}},
		Sends:     []plan.SendSpec{{Tag: 7, Dst: 1, Signal: 1}},
	}
	consumer := plan.ChunkSpec{
		Rank: 1,
		Signals: []plan.SignalSpec{
			{Key: 1, Label: "boundary", Size: 1},
			{Key: 2, Label: "observed", Size: 1},
		},
		Operators: []plan.OpSpec{{Kind: "copy", Dst: 2, Src: 1}},
		Recvs:     []plan.RecvSpec{{Tag: 7, Src: 0, Signal: 1}},
		Probes:    []plan.ProbeSpec{{Key: 100, Signal: 2, Period: 1}},
	}

	chunk0, err := BuildChunk(ctxs[0], 0.001, producer, observability.TestLogger())
	if err != nil {
		t.Fatalf("build chunk 0: %v", err)
	}
	chunk1, err := BuildChunk(ctxs[1], 0.001, consumer, observability.TestLogger())
	if err != nil {
		t.Fatalf("build chunk 1: %v", err)
	}
	if err := chunk0.Finalize(); err != nil {
		t.Fatalf("finalize chunk 0: %v", err)
	}
	if err := chunk1.Finalize(); err != nil {
		t.Fatalf("finalize chunk 1: %v", err)
	}

	const steps = 3
	errs := make(chan error, 2)
	for _, c := range []*Chunk{chunk0, chunk1} {
		go func(c *Chunk) {
			errs <- c.RunSteps(steps, false)
		}(c)
	}
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("chunks did not finish stepping")
		}
	}

	p := chunk1.Probes()[0]
	want := [][]float64{{0}, {1}, {2}}
	if !reflect.DeepEqual(p.Record().Samples, want) {
		t.Fatalf("observed sequence: got %v want %v", p.Record().Samples, want)
	}
}

// The same exchange driven further: after N steps the consumer has seen
// the producer's values from steps 1..N-1, each delayed exactly one step.
func TestOneStepLatencyLongRun(t *testing.T) {
	ctxs, err := comm.PipeMesh(2, observability.TestLogger())
	if err != nil {
		t.Fatalf("pipe mesh: %v", err)
	}
	defer ctxs[0].Close()
	defer ctxs[1].Close()

	producer := plan.ChunkSpec{
		Rank:      0,
		Signals:   []plan.SignalSpec{{Key: 1, Label: "boundary", Size: 2}},
		Operators: []plan.OpSpec{{Kind: "ramp", Dst: 1, Value: 1}},
		Sends:     []plan.SendSpec{{Tag: 16, Dst: 1, Signal: 1}},
	}
	consumer := plan.ChunkSpec{
		Rank: 1,
		Signals: []plan.SignalSpec{
			{Key: 1, Label: "boundary", Size: 2},
			{Key: 2, Label: "observed", Size: 2},
		},
		Operators: []plan.OpSpec{{Kind: "copy", Dst: 2, Src: 1}},
		Recvs:     []plan.RecvSpec{{Tag: 16, Src: 0, Signal: 1}},
		Probes:    []plan.ProbeSpec{{Key: 100, Signal: 2, Period: 1}},
	}

	chunk0, err := BuildChunk(ctxs[0], 0.001, producer, observability.TestLogger())
	if err != nil {
		t.Fatalf("build chunk 0: %v", err)
	}
	chunk1, err := BuildChunk(ctxs[1], 0.001, consumer, observability.TestLogger())
	if err != nil {
		t.Fatalf("build chunk 1: %v", err)
	}
	if err := chunk0.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := chunk1.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	const steps = 50
	errs := make(chan error, 2)
	go func() { errs <- chunk0.RunSteps(steps, false) }()
	go func() { errs <- chunk1.RunSteps(steps, false) }()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("run: %v", err)
		}
	}

	samples := chunk1.Probes()[0].Record().Samples
	if len(samples) != steps {
		t.Fatalf("sample count: got %d want %d", len(samples), steps)
	}
	for k, s := range samples {
		want := float64(k) // value produced remotely at step k, observed at step k+1
		if s[0] != want || s[1] != want {
			t.Fatalf("step %d: got %v want [%g %g]", k+1, s, want, want)
		}
	}
}
