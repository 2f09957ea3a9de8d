package plan

import (
	"encoding/json"
	"errors"
	"fmt"
)

const setupEnvelopeType = "engine.setup"

var ErrInvalidSetup = errors.New("plan: invalid setup envelope")

// setupEnvelope carries one chunk's build instructions to its worker.
// Self-contained: a worker never needs another worker's description.
type setupEnvelope struct {
	Type    string    `json:"type"`
	Version int       `json:"version"`
	Dt      float64   `json:"dt"`
	Ranks   int       `json:"ranks"`
	Chunk   ChunkSpec `json:"chunk"`
}

// EncodeSetup serializes the build instructions for one chunk.
func EncodeSetup(dt float64, ranks int, chunk ChunkSpec) ([]byte, error) {
	return json.Marshal(setupEnvelope{
		Type:    setupEnvelopeType,
		Version: Version,
		Dt:      dt,
		Ranks:   ranks,
		Chunk:   chunk,
	})
}

// DecodeSetup parses build instructions and re-validates the chunk's
// local structure on the worker side.
func DecodeSetup(payload []byte) (dt float64, ranks int, chunk ChunkSpec, err error) {
	var env setupEnvelope
	if err = json.Unmarshal(payload, &env); err != nil {
		return 0, 0, ChunkSpec{}, fmt.Errorf("%w: %v", ErrInvalidSetup, err)
	}
	if env.Type != setupEnvelopeType {
		return 0, 0, ChunkSpec{}, fmt.Errorf("%w: type %q", ErrInvalidSetup, env.Type)
	}
	if env.Version != Version {
		return 0, 0, ChunkSpec{}, fmt.Errorf("%w: version %d, want %d", ErrInvalidSetup, env.Version, Version)
	}
	if env.Dt <= 0 {
		return 0, 0, ChunkSpec{}, fmt.Errorf("%w: dt %g", ErrInvalidSetup, env.Dt)
	}
	if env.Ranks < 1 {
		return 0, 0, ChunkSpec{}, fmt.Errorf("%w: ranks %d", ErrInvalidSetup, env.Ranks)
	}
	if err = env.Chunk.validateLocal(env.Ranks); err != nil {
		return 0, 0, ChunkSpec{}, err
	}
	return env.Dt, env.Ranks, env.Chunk, nil
}
