package coordinator

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"lockstep/internal/comm"
	"lockstep/internal/observability"
	"lockstep/internal/plan"
	"lockstep/internal/worker"
)

func pipelinePlan() *plan.Plan {
	return &plan.Plan{
		Version: plan.Version,
		Dt:      0.001,
		Chunks: []plan.ChunkSpec{
			{
				Rank:      0,
				Signals:   []plan.SignalSpec{{Key: 1, Label: "boundary", Size: 1}},
				Operators: []plan.OpSpec{{Kind: "ramp", Dst: 1, Value: 1}},
				Sends:     []plan.SendSpec{{Tag: 16, Dst: 1, Signal: 1}},
				Probes:    []plan.ProbeSpec{{Key: 100, Signal: 1, Period: 1}},
			},
			{
				Rank: 1,
				Signals: []plan.SignalSpec{
					{Key: 1, Label: "boundary", Size: 1},
					{Key: 2, Label: "observed", Size: 1},
				},
				Operators: []plan.OpSpec{{Kind: "copy", Dst: 2, Src: 1}},
				Recvs:     []plan.RecvSpec{{Tag: 16, Src: 0, Signal: 1}},
				Probes:    []plan.ProbeSpec{{Key: 101, Signal: 2, Period: 2}},
			},
		},
	}
}

// startWorkers serves every rank except 0 on goroutines.
func startWorkers(t *testing.T, ctxs []*comm.Context) chan error {
	t.Helper()
	errs := make(chan error, len(ctxs)-1)
	for rank := 1; rank < len(ctxs); rank++ {
		go func(c *comm.Context) {
			errs <- worker.Serve(c, observability.TestLogger())
		}(ctxs[rank])
	}
	return errs
}

func awaitWorkers(t *testing.T, errs chan error, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			if err != nil {
				t.Fatalf("worker: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("workers did not exit")
		}
	}
}

func TestMergedLifecycle(t *testing.T) {
	p := pipelinePlan()
	ctxs, err := comm.PipeMesh(2, observability.TestLogger())
	if err != nil {
		t.Fatalf("pipe mesh: %v", err)
	}
	workerErrs := startWorkers(t, ctxs)

	coord := New(ctxs[0], p, Options{Merged: true}, observability.TestLogger())
	if err := coord.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if coord.Chunk() == nil {
		t.Fatalf("merged coordinator must host chunk 0")
	}

	const steps = 6
	if err := coord.RunSteps(steps, false); err != nil {
		t.Fatalf("run: %v", err)
	}

	probes, err := coord.GatherProbes()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	// Probe 100 (period 1, local to the merged coordinator) samples the
	// ramp after every step; probe 101 (period 2, on the worker) samples
	// the one-step-delayed boundary copy after steps 2, 4, 6.
	if len(probes) != 2 {
		t.Fatalf("probe count: got %d want 2", len(probes))
	}
	want100 := [][]float64{{1}, {2}, {3}, {4}, {5}, {6}}
	if !reflect.DeepEqual(probes[100], want100) {
		t.Fatalf("probe 100: got %v want %v", probes[100], want100)
	}
	want101 := [][]float64{{1}, {3}, {5}}
	if !reflect.DeepEqual(probes[101], want101) {
		t.Fatalf("probe 101: got %v want %v", probes[101], want101)
	}

	if err := coord.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	awaitWorkers(t, workerErrs, 1)
}

func TestDetachedLifecycle(t *testing.T) {
	p := pipelinePlan()
	// Coordinator owns no chunk: mesh is one process larger than the plan.
	ctxs, err := comm.PipeMesh(3, observability.TestLogger())
	if err != nil {
		t.Fatalf("pipe mesh: %v", err)
	}
	workerErrs := startWorkers(t, ctxs)

	coord := New(ctxs[0], p, Options{Merged: false}, observability.TestLogger())
	if err := coord.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if coord.Chunk() != nil {
		t.Fatalf("detached coordinator must not host a chunk")
	}

	const steps = 4
	if err := coord.RunSteps(steps, false); err != nil {
		t.Fatalf("run: %v", err)
	}
	probes, err := coord.GatherProbes()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	// floor(steps/period) samples per probe, in step order.
	if len(probes[100]) != 4 || len(probes[101]) != 2 {
		t.Fatalf("sample counts: got %d and %d", len(probes[100]), len(probes[101]))
	}
	want100 := [][]float64{{1}, {2}, {3}, {4}}
	if !reflect.DeepEqual(probes[100], want100) {
		t.Fatalf("probe 100: got %v want %v", probes[100], want100)
	}
	want101 := [][]float64{{1}, {3}}
	if !reflect.DeepEqual(probes[101], want101) {
		t.Fatalf("probe 101: got %v want %v", probes[101], want101)
	}

	if err := coord.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	awaitWorkers(t, workerErrs, 2)
}

func TestMismatchedTagsFailAtSetup(t *testing.T) {
	p := pipelinePlan()
	p.Chunks[1].Recvs[0].Tag = 17 // the two ends now disagree

	ctxs, err := comm.PipeMesh(2, observability.TestLogger())
	if err != nil {
		t.Fatalf("pipe mesh: %v", err)
	}
	defer ctxs[0].Close()
	defer ctxs[1].Close()

	coord := New(ctxs[0], p, Options{Merged: true}, observability.TestLogger())
	if err := coord.Setup(); !errors.Is(err, plan.ErrPairBroken) {
		t.Fatalf("expected ErrPairBroken, got %v", err)
	}

	// Stepping must be unreachable after a failed setup.
	if err := coord.RunSteps(1, false); !errors.Is(err, ErrSetupIncomplete) {
		t.Fatalf("expected ErrSetupIncomplete, got %v", err)
	}
	if _, err := coord.GatherProbes(); !errors.Is(err, ErrSetupIncomplete) {
		t.Fatalf("expected ErrSetupIncomplete, got %v", err)
	}
}

func TestSetupRejectsWrongMeshSize(t *testing.T) {
	p := pipelinePlan()
	ctxs, err := comm.PipeMesh(4, observability.TestLogger())
	if err != nil {
		t.Fatalf("pipe mesh: %v", err)
	}
	for _, c := range ctxs {
		defer c.Close()
	}

	coord := New(ctxs[0], p, Options{Merged: true}, observability.TestLogger())
	if err := coord.Setup(); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestRepeatedRunsAccumulateProbes(t *testing.T) {
	p := pipelinePlan()
	ctxs, err := comm.PipeMesh(2, observability.TestLogger())
	if err != nil {
		t.Fatalf("pipe mesh: %v", err)
	}
	workerErrs := startWorkers(t, ctxs)

	coord := New(ctxs[0], p, Options{Merged: true}, observability.TestLogger())
	if err := coord.Setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := coord.RunSteps(2, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := coord.RunSteps(2, false); err != nil {
		t.Fatalf("second run: %v", err)
	}

	probes, err := coord.GatherProbes()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(probes[100]) != 4 {
		t.Fatalf("probe 100 after two runs: got %d samples want 4", len(probes[100]))
	}

	if err := coord.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	awaitWorkers(t, workerErrs, 1)
}
