// Package plan models the build plan: the versioned, partitioned
// description of the full operator graph that an external compiler
// produces and the coordinator consumes. Plans load from TOML; the
// per-chunk slice of a plan travels to its worker as a self-contained
// JSON setup envelope.
package plan

import (
	"errors"
	"fmt"

	"lockstep/internal/wire"
)

const Version = 1

var (
	ErrInvalidPlan = errors.New("plan: invalid plan")
	ErrPairBroken  = errors.New("plan: broken communication pair")
)

// Plan is the full operator graph, partitioned by chunk.
type Plan struct {
	Version int         `toml:"version" json:"version"`
	Dt      float64     `toml:"dt" json:"dt"`
	Chunks  []ChunkSpec `toml:"chunks" json:"chunks"`
}

// ChunkSpec is everything one worker needs to build its chunk. It never
// references another chunk's contents.
type ChunkSpec struct {
	Rank      int          `toml:"rank" json:"rank"`
	Signals   []SignalSpec `toml:"signals" json:"signals"`
	Operators []OpSpec     `toml:"operators" json:"operators"`
	Sends     []SendSpec   `toml:"sends" json:"sends,omitempty"`
	Recvs     []RecvSpec   `toml:"recvs" json:"recvs,omitempty"`
	Probes    []ProbeSpec  `toml:"probes" json:"probes,omitempty"`
}

// SignalSpec declares one buffer. The key is stable across ranks: the
// same key on sender and receiver names the same logical signal.
type SignalSpec struct {
	Key     uint64    `toml:"key" json:"key"`
	Label   string    `toml:"label" json:"label"`
	Size    int       `toml:"size" json:"size"`
	Initial []float64 `toml:"initial" json:"initial,omitempty"`
}

// OpSpec declares one ordinary compute operator, in schedule order.
type OpSpec struct {
	Kind  string  `toml:"kind" json:"kind"`
	Dst   uint64  `toml:"dst" json:"dst"`
	Src   uint64  `toml:"src" json:"src,omitempty"`
	Value float64 `toml:"value" json:"value,omitempty"`
}

// SendSpec is the producing end of a communication pair.
type SendSpec struct {
	Tag    uint64 `toml:"tag" json:"tag"`
	Dst    int    `toml:"dst" json:"dst"`
	Signal uint64 `toml:"signal" json:"signal"`
}

// RecvSpec is the consuming end of a communication pair.
type RecvSpec struct {
	Tag    uint64 `toml:"tag" json:"tag"`
	Src    int    `toml:"src" json:"src"`
	Signal uint64 `toml:"signal" json:"signal"`
}

// ProbeSpec attaches a periodic sampler to a signal.
type ProbeSpec struct {
	Key    uint64 `toml:"key" json:"key"`
	Signal uint64 `toml:"signal" json:"signal"`
	Period int64  `toml:"period" json:"period"`
}

// NumRanks is the number of worker processes the plan requires.
func (p *Plan) NumRanks() int { return len(p.Chunks) }

// ChunkFor returns the chunk assigned to the given rank.
func (p *Plan) ChunkFor(rank int) (ChunkSpec, bool) {
	for _, c := range p.Chunks {
		if c.Rank == rank {
			return c, true
		}
	}
	return ChunkSpec{}, false
}

// ProbeCount reports how many probes the given rank owns. The
// coordinator uses this at gather time: a rank with zero probes sends no
// gather reply at all.
func (p *Plan) ProbeCount(rank int) int {
	c, ok := p.ChunkFor(rank)
	if !ok {
		return 0
	}
	return len(c.Probes)
}

// ProbeSpecs returns every probe in the plan, across all chunks.
func (p *Plan) ProbeSpecs() []ProbeSpec {
	var out []ProbeSpec
	for _, c := range p.Chunks {
		out = append(out, c.Probes...)
	}
	return out
}

func (s SignalSpec) signalByKey(key uint64) bool { return s.Key == key }

func (c ChunkSpec) signal(key uint64) (SignalSpec, bool) {
	for _, s := range c.Signals {
		if s.signalByKey(key) {
			return s, true
		}
	}
	return SignalSpec{}, false
}

// Validate performs the whole-plan consistency check that backs the
// finalize step: dense unique ranks, resolvable signal references, legal
// tags and exactly-matched communication pairs. Anything caught here is
// a setup error, reported before any stepping begins.
func (p *Plan) Validate() error {
	if p.Version != Version {
		return fmt.Errorf("%w: version %d, want %d", ErrInvalidPlan, p.Version, Version)
	}
	if p.Dt <= 0 {
		return fmt.Errorf("%w: dt must be positive, got %g", ErrInvalidPlan, p.Dt)
	}
	if len(p.Chunks) == 0 {
		return fmt.Errorf("%w: no chunks", ErrInvalidPlan)
	}

	seen := make(map[int]bool)
	for _, c := range p.Chunks {
		if c.Rank < 0 || c.Rank >= len(p.Chunks) {
			return fmt.Errorf("%w: rank %d out of range for %d chunks", ErrInvalidPlan, c.Rank, len(p.Chunks))
		}
		if seen[c.Rank] {
			return fmt.Errorf("%w: duplicate rank %d", ErrInvalidPlan, c.Rank)
		}
		seen[c.Rank] = true
		if err := c.validateLocal(len(p.Chunks)); err != nil {
			return err
		}
	}

	return p.validatePairs()
}

func (c ChunkSpec) validateLocal(numRanks int) error {
	keys := make(map[uint64]bool)
	for _, s := range c.Signals {
		if s.Key == 0 {
			return fmt.Errorf("%w: chunk %d: signal key 0 is reserved", ErrInvalidPlan, c.Rank)
		}
		if s.Size <= 0 {
			return fmt.Errorf("%w: chunk %d: signal %d has size %d", ErrInvalidPlan, c.Rank, s.Key, s.Size)
		}
		if len(s.Initial) != 0 && len(s.Initial) != s.Size {
			return fmt.Errorf("%w: chunk %d: signal %d initial has %d values, size is %d",
				ErrInvalidPlan, c.Rank, s.Key, len(s.Initial), s.Size)
		}
		if keys[s.Key] {
			return fmt.Errorf("%w: chunk %d: duplicate signal key %d", ErrInvalidPlan, c.Rank, s.Key)
		}
		keys[s.Key] = true
	}
	for i, op := range c.Operators {
		if op.Kind == "" {
			return fmt.Errorf("%w: chunk %d: operator %d has no kind", ErrInvalidPlan, c.Rank, i)
		}
		if !keys[op.Dst] {
			return fmt.Errorf("%w: chunk %d: operator %d writes unknown signal %d", ErrInvalidPlan, c.Rank, i, op.Dst)
		}
		if op.Src != 0 && !keys[op.Src] {
			return fmt.Errorf("%w: chunk %d: operator %d reads unknown signal %d", ErrInvalidPlan, c.Rank, i, op.Src)
		}
	}
	for _, s := range c.Sends {
		if s.Tag < wire.MinDataTag {
			return fmt.Errorf("%w: chunk %d: send tag %d collides with reserved tags", ErrInvalidPlan, c.Rank, s.Tag)
		}
		if s.Dst < 0 || s.Dst >= numRanks || s.Dst == c.Rank {
			return fmt.Errorf("%w: chunk %d: send tag %d targets invalid rank %d", ErrInvalidPlan, c.Rank, s.Tag, s.Dst)
		}
		if !keys[s.Signal] {
			return fmt.Errorf("%w: chunk %d: send tag %d references unknown signal %d", ErrInvalidPlan, c.Rank, s.Tag, s.Signal)
		}
	}
	for _, r := range c.Recvs {
		if r.Tag < wire.MinDataTag {
			return fmt.Errorf("%w: chunk %d: recv tag %d collides with reserved tags", ErrInvalidPlan, c.Rank, r.Tag)
		}
		if r.Src < 0 || r.Src >= numRanks || r.Src == c.Rank {
			return fmt.Errorf("%w: chunk %d: recv tag %d names invalid rank %d", ErrInvalidPlan, c.Rank, r.Tag, r.Src)
		}
		if !keys[r.Signal] {
			return fmt.Errorf("%w: chunk %d: recv tag %d references unknown signal %d", ErrInvalidPlan, c.Rank, r.Tag, r.Signal)
		}
	}
	for _, pr := range c.Probes {
		if pr.Period < 1 {
			return fmt.Errorf("%w: chunk %d: probe %d has period %d", ErrInvalidPlan, c.Rank, pr.Key, pr.Period)
		}
		if !keys[pr.Signal] {
			return fmt.Errorf("%w: chunk %d: probe %d samples unknown signal %d", ErrInvalidPlan, c.Rank, pr.Key, pr.Signal)
		}
	}
	return nil
}

// validatePairs checks that every send has exactly one matching recv
// (same tag, mirrored ranks, equal signal size) and that tags and probe
// keys are globally unique. A tag mismatch between the two ends of a
// boundary surfaces here, before run-n-steps is ever reachable.
func (p *Plan) validatePairs() error {
	type end struct {
		rank   int
		peer   int
		size   int
		signal uint64
	}
	sends := make(map[uint64]end)
	for _, c := range p.Chunks {
		for _, s := range c.Sends {
			if _, dup := sends[s.Tag]; dup {
				return fmt.Errorf("%w: tag %d used by two sends", ErrPairBroken, s.Tag)
			}
			sig, _ := c.signal(s.Signal)
			sends[s.Tag] = end{rank: c.Rank, peer: s.Dst, size: sig.Size, signal: s.Signal}
		}
	}

	matched := make(map[uint64]bool)
	for _, c := range p.Chunks {
		for _, r := range c.Recvs {
			snd, ok := sends[r.Tag]
			if !ok {
				return fmt.Errorf("%w: recv tag %d on rank %d has no matching send", ErrPairBroken, r.Tag, c.Rank)
			}
			if matched[r.Tag] {
				return fmt.Errorf("%w: tag %d used by two recvs", ErrPairBroken, r.Tag)
			}
			if snd.peer != c.Rank || snd.rank != r.Src {
				return fmt.Errorf("%w: tag %d connects ranks %d->%d on the send side but %d->%d on the recv side",
					ErrPairBroken, r.Tag, snd.rank, snd.peer, r.Src, c.Rank)
			}
			sig, _ := c.signal(r.Signal)
			if sig.Size != snd.size {
				return fmt.Errorf("%w: tag %d sends %d values but receives into %d",
					ErrPairBroken, r.Tag, snd.size, sig.Size)
			}
			if r.Signal != snd.signal {
				return fmt.Errorf("%w: tag %d sends signal %d but receives signal %d",
					ErrPairBroken, r.Tag, snd.signal, r.Signal)
			}
			matched[r.Tag] = true
		}
	}
	for tag := range sends {
		if !matched[tag] {
			snd := sends[tag]
			return fmt.Errorf("%w: send tag %d on rank %d has no matching recv on rank %d",
				ErrPairBroken, tag, snd.rank, snd.peer)
		}
	}

	probes := make(map[uint64]bool)
	for _, c := range p.Chunks {
		for _, pr := range c.Probes {
			if probes[pr.Key] {
				return fmt.Errorf("%w: duplicate probe key %d", ErrInvalidPlan, pr.Key)
			}
			probes[pr.Key] = true
		}
	}
	return nil
}
