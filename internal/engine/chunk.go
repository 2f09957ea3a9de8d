package engine

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"lockstep/internal/observability"
	"lockstep/internal/signal"
)

var (
	ErrFinalized    = errors.New("engine: chunk already finalized")
	ErrNotFinalized = errors.New("engine: chunk not finalized")
	ErrBadSchedule  = errors.New("engine: invalid schedule")
)

// Chunk is this process's partition of the operator graph: the signal
// buffers it owns, its fixed operator schedule, a local clock and its
// probes. Structure is frozen by Finalize; after that only Step mutates
// it, single threaded.
type Chunk struct {
	rank      int
	dt        float64
	time      float64
	step      int64
	buffers   map[uint64]*signal.Buffer
	schedule  []Operator
	probes    []*Probe
	finalized bool
	log       zerolog.Logger
}

func NewChunk(rank int, dt float64, log zerolog.Logger) *Chunk {
	return &Chunk{
		rank:    rank,
		dt:      dt,
		buffers: make(map[uint64]*signal.Buffer),
		log:     log.With().Int("chunk", rank).Logger(),
	}
}

func (c *Chunk) Rank() int         { return c.rank }
func (c *Chunk) Dt() float64       { return c.dt }
func (c *Chunk) Time() float64     { return c.time }
func (c *Chunk) StepCount() int64  { return c.step }
func (c *Chunk) NumOperators() int { return len(c.schedule) }
func (c *Chunk) NumBuffers() int   { return len(c.buffers) }
func (c *Chunk) Probes() []*Probe  { return c.probes }

func (c *Chunk) AddBuffer(b *signal.Buffer) error {
	if c.finalized {
		return ErrFinalized
	}
	if _, dup := c.buffers[b.Key()]; dup {
		return fmt.Errorf("engine: duplicate buffer key %d", b.Key())
	}
	c.buffers[b.Key()] = b
	return nil
}

func (c *Chunk) Buffer(key uint64) (*signal.Buffer, bool) {
	b, ok := c.buffers[key]
	return b, ok
}

func (c *Chunk) AddOperator(op Operator) error {
	if c.finalized {
		return ErrFinalized
	}
	c.schedule = append(c.schedule, op)
	return nil
}

func (c *Chunk) AddProbe(p *Probe) error {
	if c.finalized {
		return ErrFinalized
	}
	c.probes = append(c.probes, p)
	return nil
}

// Finalize freezes chunk structure and checks what can be checked
// locally: every Send and Recv is paired with a Wait that runs earlier
// in the schedule, and no data tag appears on two operators of the same
// direction. Anything it finds is a setup error; no step has run yet.
func (c *Chunk) Finalize() error {
	if c.finalized {
		return ErrFinalized
	}

	waitIndex := make(map[*Wait]int)
	for i, op := range c.schedule {
		if w, ok := op.(*Wait); ok {
			if _, dup := waitIndex[w]; dup {
				return fmt.Errorf("%w: wait tag %d scheduled twice", ErrBadSchedule, w.Tag())
			}
			waitIndex[w] = i
		}
	}

	sendTags := make(map[uint64]bool)
	recvTags := make(map[uint64]bool)
	for i, op := range c.schedule {
		switch o := op.(type) {
		case *Send:
			if sendTags[o.Tag()] {
				return fmt.Errorf("%w: two sends on tag %d", ErrBadSchedule, o.Tag())
			}
			sendTags[o.Tag()] = true
			wi, ok := waitIndex[o.Waiter()]
			if !ok {
				return fmt.Errorf("%w: send tag %d", ErrUnpaired, o.Tag())
			}
			if wi >= i {
				return fmt.Errorf("%w: wait for send tag %d scheduled at %d, after the send at %d",
					ErrBadSchedule, o.Tag(), wi, i)
			}
		case *Recv:
			if recvTags[o.Tag()] {
				return fmt.Errorf("%w: two recvs on tag %d", ErrBadSchedule, o.Tag())
			}
			recvTags[o.Tag()] = true
			wi, ok := waitIndex[o.Waiter()]
			if !ok {
				return fmt.Errorf("%w: recv tag %d", ErrUnpaired, o.Tag())
			}
			if wi >= i {
				return fmt.Errorf("%w: wait for recv tag %d scheduled at %d, after the recv at %d",
					ErrBadSchedule, o.Tag(), wi, i)
			}
		}
	}

	c.finalized = true
	c.log.Debug().
		Int("operators", len(c.schedule)).
		Int("buffers", len(c.buffers)).
		Int("probes", len(c.probes)).
		Msg("chunk finalized")
	return nil
}

// Step executes the schedule once, advances the clock and samples due
// probes.
func (c *Chunk) Step() error {
	if !c.finalized {
		return ErrNotFinalized
	}
	for _, op := range c.schedule {
		if err := op.Step(); err != nil {
			return fmt.Errorf("chunk %d step %d: %s: %w", c.rank, c.step+1, op, err)
		}
	}
	c.step++
	c.time += c.dt
	observability.RecordStep()
	for _, p := range c.probes {
		p.observe(c.step)
	}
	return nil
}

// RunSteps executes n steps back to back.
func (c *Chunk) RunSteps(n int64, progress bool) error {
	for i := int64(0); i < n; i++ {
		if err := c.Step(); err != nil {
			return err
		}
		if progress && (i+1)%progressInterval == 0 {
			c.log.Info().Int64("step", c.step).Int64("of", n).Msg("stepping")
		}
	}
	return nil
}

const progressInterval = 1000
