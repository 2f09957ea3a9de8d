package engine

import (
	"lockstep/internal/observability"
	"lockstep/internal/signal"
	"lockstep/internal/wire"
)

// Probe samples a signal every period steps, accumulating an ordered
// history for retrieval at gather time.
type Probe struct {
	key     uint64
	period  int64
	buf     *signal.Buffer
	samples [][]float64
}

func NewProbe(key uint64, period int64, buf *signal.Buffer) *Probe {
	return &Probe{key: key, period: period, buf: buf}
}

func (p *Probe) Key() uint64   { return p.key }
func (p *Probe) Period() int64 { return p.period }
func (p *Probe) Len() int      { return len(p.samples) }

// observe captures a snapshot when the completed-step count lands on a
// period boundary. After n steps a probe holds floor(n/period) samples.
func (p *Probe) observe(step int64) {
	if step%p.period != 0 {
		return
	}
	p.samples = append(p.samples, p.buf.Snapshot())
	observability.RecordProbeSample()
}

// Record packages the accumulated history for the gather protocol.
func (p *Probe) Record() wire.ProbeRecord {
	return wire.ProbeRecord{Key: p.key, Period: uint32(p.period), Samples: p.samples}
}

// Clear drops the history. Called after a record has been gathered.
func (p *Probe) Clear() {
	p.samples = nil
}
