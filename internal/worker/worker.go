// Package worker runs the non-coordinating side of a distributed run:
// build the local chunk from rank 0's instructions, step it on command,
// hand probe histories back, exit on close.
package worker

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"lockstep/internal/comm"
	"lockstep/internal/engine"
	"lockstep/internal/plan"
	"lockstep/internal/wire"
)

var ErrProtocol = errors.New("worker: protocol violation")

// Serve executes the worker lifecycle on the given context and returns
// when the coordinator closes the run or a fatal error occurs. Fatal
// errors mean the whole distributed run is lost; callers should exit.
func Serve(ctx *comm.Context, log zerolog.Logger) error {
	log = log.With().Str("component", "worker").Int("rank", ctx.Rank()).Logger()

	chunk, err := buildFromSetup(ctx, log)
	if err != nil {
		ack := comm.SetupAck{Rank: ctx.Rank(), Status: comm.AckStatusFailed, Message: err.Error()}
		if ackErr := ctx.SendSetupAck(ack); ackErr != nil {
			log.Error().Err(ackErr).Msg("setup failure ack not delivered")
		}
		return err
	}
	if err := ctx.SendSetupAck(comm.SetupAck{Rank: ctx.Rank(), Status: comm.AckStatusOK}); err != nil {
		return err
	}
	log.Info().Int("operators", chunk.NumOperators()).Msg("chunk built")

	for {
		typ, params, err := ctx.RecvControl()
		if err != nil {
			return err
		}
		switch typ {
		case comm.ControlTypeRun:
			log.Info().Int64("steps", params.Steps).Msg("stepping")
			if err := chunk.RunSteps(params.Steps, params.Progress); err != nil {
				return err
			}
		case comm.ControlTypeGather:
			if err := sendProbeRecords(ctx, chunk); err != nil {
				return err
			}
		case comm.ControlTypeClose:
			log.Info().Msg("closing")
			return nil
		default:
			return fmt.Errorf("%w: unexpected control type %q", ErrProtocol, typ)
		}
	}
}

func buildFromSetup(ctx *comm.Context, log zerolog.Logger) (*engine.Chunk, error) {
	payload, err := ctx.RecvBytes(0, wire.KindControl, comm.TagSetup)
	if err != nil {
		return nil, err
	}
	dt, ranks, spec, err := plan.DecodeSetup(payload)
	if err != nil {
		return nil, err
	}
	if ranks != ctx.Size() {
		return nil, fmt.Errorf("%w: instructions are for a %d-process mesh, this one has %d", ErrProtocol, ranks, ctx.Size())
	}
	if spec.Rank != ctx.Rank() {
		return nil, fmt.Errorf("%w: instructions are for rank %d, this is rank %d", ErrProtocol, spec.Rank, ctx.Rank())
	}
	chunk, err := engine.BuildChunk(ctx, dt, spec, log)
	if err != nil {
		return nil, err
	}
	if err := chunk.Finalize(); err != nil {
		return nil, err
	}
	return chunk, nil
}

// sendProbeRecords replies to a gather request with one probe frame per
// owned probe. A chunk with no probes sends nothing; the coordinator
// knows the count from the plan.
func sendProbeRecords(ctx *comm.Context, chunk *engine.Chunk) error {
	for _, p := range chunk.Probes() {
		payload, err := wire.EncodeProbeRecord(p.Record())
		if err != nil {
			return err
		}
		if err := ctx.SendBytes(0, wire.KindProbe, comm.TagProbe, payload); err != nil {
			return err
		}
		p.Clear()
	}
	return nil
}
