// Package coordinator drives a distributed run: it distributes each
// worker's build instructions, triggers the lockstep stepping phase,
// gathers probe histories afterwards and tears the mesh down. Exactly
// one process per run hosts a Coordinator, always at rank 0; with the
// Merged option it additionally hosts chunk 0 itself.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lockstep/internal/comm"
	"lockstep/internal/engine"
	"lockstep/internal/plan"
	"lockstep/internal/timings"
	"lockstep/internal/wire"
)

var (
	ErrSetupIncomplete = errors.New("coordinator: setup has not completed")
	ErrSizeMismatch    = errors.New("coordinator: mesh size does not match plan")
	ErrProtocol        = errors.New("coordinator: protocol violation")
)

// Options configures a run.
type Options struct {
	// Merged makes rank 0 host chunk 0 in addition to coordinating.
	// Otherwise rank 0 owns no chunk and chunk r lives on rank r+1.
	Merged bool

	// CollectTimings records each stepping phase in the timing store.
	CollectTimings bool
	TimingsPath    string
}

type Coordinator struct {
	ctx   *comm.Context
	plan  *plan.Plan
	opts  Options
	chunk *engine.Chunk
	store *timings.Store
	log   zerolog.Logger

	setupDone bool
}

func New(ctx *comm.Context, p *plan.Plan, opts Options, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		ctx:  ctx,
		plan: p,
		opts: opts,
		log:  log.With().Str("component", "coordinator").Logger(),
	}
}

// rankOffset maps chunk ranks to process ranks.
func (c *Coordinator) rankOffset() int {
	if c.opts.Merged {
		return 0
	}
	return 1
}

// Chunk returns the locally hosted chunk, nil unless merged.
func (c *Coordinator) Chunk() *engine.Chunk { return c.chunk }

// Setup validates the plan, ships every worker its chunk description
// and the global timestep on the setup tag, awaits acks, and builds the
// local chunk when merged. Every error here is a setup error: it is
// reported before any step has run anywhere.
func (c *Coordinator) Setup() error {
	if err := c.plan.Validate(); err != nil {
		return err
	}
	offset := c.rankOffset()
	want := c.plan.NumRanks() + offset
	if c.ctx.Size() != want {
		return fmt.Errorf("%w: plan needs %d processes, mesh has %d", ErrSizeMismatch, want, c.ctx.Size())
	}

	for _, cs := range c.plan.Chunks {
		proc := cs.Rank + offset
		if proc == 0 {
			continue
		}
		shifted := shiftRanks(cs, offset)
		payload, err := plan.EncodeSetup(c.plan.Dt, c.ctx.Size(), shifted)
		if err != nil {
			return err
		}
		if err := c.ctx.SendBytes(proc, wire.KindControl, comm.TagSetup, payload); err != nil {
			return err
		}
		c.log.Debug().Int("rank", proc).Int("operators", len(cs.Operators)).Msg("chunk description sent")
	}

	for proc := 1; proc < c.ctx.Size(); proc++ {
		if _, err := c.ctx.RecvSetupAck(proc); err != nil {
			return err
		}
	}

	if c.opts.Merged {
		cs, ok := c.plan.ChunkFor(0)
		if !ok {
			return fmt.Errorf("%w: merged mode but plan has no chunk 0", plan.ErrInvalidPlan)
		}
		chunk, err := engine.BuildChunk(c.ctx, c.plan.Dt, cs, c.log)
		if err != nil {
			return err
		}
		if err := chunk.Finalize(); err != nil {
			return err
		}
		c.chunk = chunk
	}

	if c.opts.CollectTimings {
		c.store = timings.NewStore(c.opts.TimingsPath)
		if err := c.store.Init(context.Background()); err != nil {
			return err
		}
	}

	c.setupDone = true
	c.log.Info().Int("chunks", c.plan.NumRanks()).Bool("merged", c.opts.Merged).Msg("setup complete")
	return nil
}

// RunSteps broadcasts the step count and run flags, then steps the
// local chunk when merged. There is no barrier between steps: chunks
// synchronize only through their communication pairs.
func (c *Coordinator) RunSteps(steps int64, progress bool) error {
	if !c.setupDone {
		return ErrSetupIncomplete
	}
	runID := uuid.NewString()
	started := time.Now()
	c.log.Info().Str("run_id", runID).Int64("steps", steps).Msg("run starting")

	params := comm.RunParams{Steps: steps, Progress: progress, CollectTimings: c.opts.CollectTimings}
	if err := c.ctx.BcastRun(params); err != nil {
		return err
	}
	if c.chunk != nil {
		if err := c.chunk.RunSteps(steps, progress); err != nil {
			return err
		}
	}

	if c.store != nil {
		run := timings.Run{
			ID:        runID,
			StartedAt: started,
			Steps:     steps,
			Dt:        c.plan.Dt,
			Ranks:     c.ctx.Size(),
			WallMS:    time.Since(started).Milliseconds(),
		}
		if err := c.store.SaveRun(context.Background(), run); err != nil {
			return err
		}
	}
	c.log.Info().Str("run_id", runID).Dur("wall", time.Since(started)).Msg("run dispatched")
	return nil
}

// GatherProbes collects every probe history in the plan into one
// mapping from probe key to ordered samples. Workers owning zero probes
// send no reply; the coordinator knows each rank's probe count from the
// plan and reads exactly that many records per rank.
func (c *Coordinator) GatherProbes() (map[uint64][][]float64, error) {
	if !c.setupDone {
		return nil, ErrSetupIncomplete
	}
	offset := c.rankOffset()
	results := make(map[uint64][][]float64)

	if c.chunk != nil {
		for _, p := range c.chunk.Probes() {
			results[p.Key()] = p.Record().Samples
			p.Clear()
		}
	}

	var totalBytes uint64
	for _, cs := range c.plan.Chunks {
		proc := cs.Rank + offset
		if proc == 0 {
			continue
		}
		if err := c.ctx.SendGatherRequest(proc); err != nil {
			return nil, err
		}
		for i := 0; i < len(cs.Probes); i++ {
			payload, err := c.ctx.RecvBytes(proc, wire.KindProbe, comm.TagProbe)
			if err != nil {
				return nil, err
			}
			rec, err := wire.DecodeProbeRecord(payload)
			if err != nil {
				return nil, err
			}
			if _, dup := results[rec.Key]; dup {
				return nil, fmt.Errorf("%w: probe key %d gathered twice", ErrProtocol, rec.Key)
			}
			results[rec.Key] = rec.Samples
			totalBytes += uint64(len(payload))
		}
	}

	for _, pr := range c.plan.ProbeSpecs() {
		if _, ok := results[pr.Key]; !ok {
			return nil, fmt.Errorf("%w: probe key %d missing from gather", ErrProtocol, pr.Key)
		}
	}

	c.log.Info().
		Int("probes", len(results)).
		Str("gathered", humanize.Bytes(totalBytes)).
		Msg("probe gather complete")
	return results, nil
}

// Close shuts the run down: workers are told to exit, the timing store
// is flushed and the mesh is torn down.
func (c *Coordinator) Close() error {
	if err := c.ctx.BcastClose(); err != nil {
		c.log.Warn().Err(err).Msg("close broadcast failed")
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			return err
		}
	}
	return c.ctx.Close()
}

// shiftRanks rewrites chunk-rank peers into process ranks. After
// distribution every rank field in a ChunkSpec is a process rank.
func shiftRanks(cs plan.ChunkSpec, offset int) plan.ChunkSpec {
	if offset == 0 {
		return cs
	}
	out := cs
	out.Rank = cs.Rank + offset
	out.Sends = make([]plan.SendSpec, len(cs.Sends))
	for i, s := range cs.Sends {
		s.Dst += offset
		out.Sends[i] = s
	}
	out.Recvs = make([]plan.RecvSpec, len(cs.Recvs))
	for i, r := range cs.Recvs {
		r.Src += offset
		out.Recvs[i] = r
	}
	return out
}
