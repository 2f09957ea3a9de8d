package comm

import (
	"encoding/json"
	"errors"
	"fmt"

	"lockstep/internal/wire"
)

// Control envelope types. Setup payloads are plan-owned and travel as
// opaque bytes on TagSetup; everything else is one of these envelopes on
// TagControl (or TagSetup for acks).
const (
	ControlTypeRun    = "engine.run"
	ControlTypeGather = "engine.gather"
	ControlTypeClose  = "engine.close"
	ControlTypeAck    = "engine.setup.ack"

	AckStatusOK     = "ok"
	AckStatusFailed = "failed"

	controlVersion = 1
)

var (
	ErrInvalidControl = errors.New("comm: invalid control envelope")
	ErrSetupRejected  = errors.New("comm: setup rejected")
)

// RunParams is the rank-0 broadcast that starts a stepping phase.
type RunParams struct {
	Steps          int64 `json:"steps"`
	Progress       bool  `json:"progress"`
	CollectTimings bool  `json:"collect_timings"`
}

// SetupAck is a worker's reply after building its chunk.
type SetupAck struct {
	Rank    int    `json:"rank"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type controlEnvelope struct {
	Type    string     `json:"type"`
	Version int        `json:"version"`
	Run     *RunParams `json:"run,omitempty"`
	Ack     *SetupAck  `json:"ack,omitempty"`
}

func encodeControl(env controlEnvelope) ([]byte, error) {
	env.Version = controlVersion
	return json.Marshal(env)
}

func decodeControl(payload []byte) (controlEnvelope, error) {
	var env controlEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return controlEnvelope{}, fmt.Errorf("%w: %v", ErrInvalidControl, err)
	}
	if env.Version != controlVersion {
		return controlEnvelope{}, fmt.Errorf("%w: version %d", ErrInvalidControl, env.Version)
	}
	if env.Type == "" {
		return controlEnvelope{}, fmt.Errorf("%w: missing type", ErrInvalidControl)
	}
	return env, nil
}

// BcastRun fans the run parameters out to every other rank. Collectives
// are built from point-to-point sends; rank 0 is always the root.
func (c *Context) BcastRun(params RunParams) error {
	payload, err := encodeControl(controlEnvelope{Type: ControlTypeRun, Run: &params})
	if err != nil {
		return err
	}
	return c.bcast(payload)
}

// SendGatherRequest asks one worker for its probe records. Gather is
// point-to-point request/reply per worker, not a collective.
func (c *Context) SendGatherRequest(dst int) error {
	payload, err := encodeControl(controlEnvelope{Type: ControlTypeGather})
	if err != nil {
		return err
	}
	return c.SendBytes(dst, wire.KindControl, TagControl, payload)
}

// BcastClose announces shutdown.
func (c *Context) BcastClose() error {
	payload, err := encodeControl(controlEnvelope{Type: ControlTypeClose})
	if err != nil {
		return err
	}
	return c.bcast(payload)
}

func (c *Context) bcast(payload []byte) error {
	for dst := 0; dst < c.size; dst++ {
		if dst == c.rank {
			continue
		}
		if err := c.SendBytes(dst, wire.KindControl, TagControl, payload); err != nil {
			return err
		}
	}
	return nil
}

// RecvControl blocks on the next control envelope from rank 0 and
// returns its type plus the run parameters when present.
func (c *Context) RecvControl() (string, *RunParams, error) {
	payload, err := c.RecvBytes(0, wire.KindControl, TagControl)
	if err != nil {
		return "", nil, err
	}
	env, err := decodeControl(payload)
	if err != nil {
		return "", nil, err
	}
	if env.Type == ControlTypeRun && env.Run == nil {
		return "", nil, fmt.Errorf("%w: run envelope without parameters", ErrInvalidControl)
	}
	return env.Type, env.Run, nil
}

// SendSetupAck reports build success or failure back to rank 0.
func (c *Context) SendSetupAck(ack SetupAck) error {
	payload, err := encodeControl(controlEnvelope{Type: ControlTypeAck, Ack: &ack})
	if err != nil {
		return err
	}
	return c.SendBytes(0, wire.KindControl, TagSetup, payload)
}

// RecvSetupAck collects one worker's ack. A failed status is a setup
// error and aborts the run before any step executes.
func (c *Context) RecvSetupAck(src int) (SetupAck, error) {
	payload, err := c.RecvBytes(src, wire.KindControl, TagSetup)
	if err != nil {
		return SetupAck{}, err
	}
	env, err := decodeControl(payload)
	if err != nil {
		return SetupAck{}, err
	}
	if env.Type != ControlTypeAck || env.Ack == nil {
		return SetupAck{}, fmt.Errorf("%w: expected ack, got %q", ErrInvalidControl, env.Type)
	}
	if env.Ack.Status != AckStatusOK {
		return *env.Ack, fmt.Errorf("%w: rank %d: %s", ErrSetupRejected, env.Ack.Rank, env.Ack.Message)
	}
	return *env.Ack, nil
}
