// Package comm is the rank-addressed messaging layer the engine runs on.
// A Context is constructed once per process and passed to every component
// that talks to a peer; it owns a full mesh of framed, reliable, ordered
// links and demultiplexes inbound frames into per-(source, kind, tag)
// inboxes. Non-blocking sends and receives return a Request whose Wait
// observes completion.
package comm

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"lockstep/internal/observability"
	"lockstep/internal/wire"
)

// Reserved tags live in package wire next to the frame kinds; the
// aliases keep call sites readable.
const (
	TagSetup   = wire.TagSetup
	TagProbe   = wire.TagProbe
	TagControl = wire.TagControl

	MinDataTag = wire.MinDataTag
)

var (
	ErrClosed      = errors.New("comm: context closed")
	ErrBadRank     = errors.New("comm: rank out of range")
	ErrPeerInvalid = errors.New("comm: unexpected peer")
)

const inboxDepth = 128

type inboxKey struct {
	src  int
	kind uint16
	tag  uint64
}

type link struct {
	rw  io.ReadWriteCloser
	wmu sync.Mutex
	seq uint32
}

// Context is one process's view of the mesh.
type Context struct {
	rank   int
	size   int
	limits wire.Limits
	links  []*link
	log    zerolog.Logger

	inboxMu sync.Mutex
	inbox   map[inboxKey]chan []byte

	failOnce sync.Once
	failed   chan struct{}
	failErr  error

	closeOnce sync.Once
	closed    chan struct{}
	readers   sync.WaitGroup
}

// New wires a Context over pre-established links, indexed by peer rank
// with the self slot nil. Reader goroutines start immediately.
func New(rank int, links []io.ReadWriteCloser, log zerolog.Logger) (*Context, error) {
	if rank < 0 || rank >= len(links) {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrBadRank, rank, len(links))
	}
	c := &Context{
		rank:   rank,
		size:   len(links),
		limits: wire.DefaultLimits(),
		links:  make([]*link, len(links)),
		log:    log.With().Int("rank", rank).Logger(),
		inbox:  make(map[inboxKey]chan []byte),
		failed: make(chan struct{}),
		closed: make(chan struct{}),
	}
	for peer, rw := range links {
		if peer == rank {
			continue
		}
		if rw == nil {
			return nil, fmt.Errorf("%w: no link for peer %d", ErrBadRank, peer)
		}
		c.links[peer] = &link{rw: rw}
		c.readers.Add(1)
		go c.readLoop(peer, rw)
	}
	return c, nil
}

func (c *Context) Rank() int { return c.rank }
func (c *Context) Size() int { return c.size }

// Err reports the context's poison error, if a protocol fault has
// occurred. Once set, every subsequent Wait and blocking receive returns
// it; protocol faults are fatal to the whole run.
func (c *Context) Err() error {
	select {
	case <-c.failed:
		return c.failErr
	default:
		return nil
	}
}

func (c *Context) fail(err error) {
	c.failOnce.Do(func() {
		c.failErr = err
		c.log.Error().Err(err).Msg("comm context poisoned")
		close(c.failed)
	})
}

func (c *Context) readLoop(peer int, rw io.ReadWriteCloser) {
	defer c.readers.Done()
	for {
		f, err := wire.ReadFrame(rw, c.limits)
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.fail(fmt.Errorf("comm: read from rank %d: %w", peer, err))
			return
		}
		if int(f.Header.SrcRank) != peer {
			c.fail(fmt.Errorf("%w: frame claims rank %d on link to rank %d", ErrPeerInvalid, f.Header.SrcRank, peer))
			return
		}
		observability.RecordFrameReceived(len(f.Payload))
		c.deliver(peer, f.Header.Kind, f.Header.Tag, f.Payload)
	}
}

func (c *Context) chanFor(src int, kind uint16, tag uint64) chan []byte {
	key := inboxKey{src: src, kind: kind, tag: tag}
	c.inboxMu.Lock()
	defer c.inboxMu.Unlock()
	ch, ok := c.inbox[key]
	if !ok {
		ch = make(chan []byte, inboxDepth)
		c.inbox[key] = ch
	}
	return ch
}

func (c *Context) deliver(src int, kind uint16, tag uint64, payload []byte) {
	select {
	case c.chanFor(src, kind, tag) <- payload:
	case <-c.closed:
	}
}

func (c *Context) writeFrame(dst int, kind uint16, tag uint64, payload []byte) error {
	if dst == c.rank {
		c.deliver(c.rank, kind, tag, payload)
		return nil
	}
	if dst < 0 || dst >= c.size {
		return fmt.Errorf("%w: destination %d of %d", ErrBadRank, dst, c.size)
	}
	l := c.links[dst]
	l.wmu.Lock()
	defer l.wmu.Unlock()
	l.seq++
	f := wire.Frame{
		Header: wire.Header{
			Kind:    kind,
			SrcRank: uint32(c.rank),
			Tag:     tag,
			Seq:     l.seq,
		},
		Payload: payload,
	}
	if err := wire.WriteFrame(l.rw, f, c.limits); err != nil {
		return fmt.Errorf("comm: write to rank %d: %w", dst, err)
	}
	observability.RecordFrameSent(len(payload))
	return nil
}

// SendBytes writes one frame synchronously. Used by the bootstrap
// channels (setup, control, probe gather), never by the step loop.
func (c *Context) SendBytes(dst int, kind uint16, tag uint64, payload []byte) error {
	if err := c.Err(); err != nil {
		return err
	}
	return c.writeFrame(dst, kind, tag, payload)
}

// RecvBytes blocks until a frame from src with the given kind and tag
// arrives, or the context is poisoned or closed.
func (c *Context) RecvBytes(src int, kind uint16, tag uint64) ([]byte, error) {
	if src < 0 || src >= c.size {
		return nil, fmt.Errorf("%w: source %d of %d", ErrBadRank, src, c.size)
	}
	select {
	case payload := <-c.chanFor(src, kind, tag):
		return payload, nil
	case <-c.failed:
		return nil, c.failErr
	case <-c.closed:
		return nil, ErrClosed
	}
}

// Close tears down the mesh. Pending Waits unblock with ErrClosed.
func (c *Context) Close() error {
	var first error
	c.closeOnce.Do(func() {
		close(c.closed)
		for _, l := range c.links {
			if l == nil {
				continue
			}
			if err := l.rw.Close(); err != nil && first == nil {
				first = err
			}
		}
		c.readers.Wait()
	})
	return first
}
