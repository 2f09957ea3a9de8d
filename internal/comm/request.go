package comm

import (
	"lockstep/internal/wire"
)

// Request is the handle to one in-flight non-blocking transmission or
// reception. It is created by Isend or Irecv and owned by the caller
// until retired by Wait; a Request must be waited on exactly once.
type Request struct {
	c *Context

	// send side
	done chan struct{}
	err  error

	// recv side
	ch   chan []byte
	into []float64
}

// Isend snapshots payload's contents and transmits them to dst under tag
// without blocking. Completion is observed through Wait on the returned
// Request. The snapshot happens before Isend returns, so the caller may
// not mutate the source buffer again until the paired Wait has retired
// this request.
func (c *Context) Isend(dst int, tag uint64, payload []float64) *Request {
	req := &Request{c: c, done: make(chan struct{})}
	encoded := wire.EncodeVector(payload)
	go func() {
		req.err = c.writeFrame(dst, wire.KindData, tag, encoded)
		close(req.done)
	}()
	return req
}

// Irecv arms a reception from src under tag into the given buffer slice.
// The buffer is written only during Wait, never concurrently with the
// chunk's own stepping.
func (c *Context) Irecv(src int, tag uint64, into []float64) *Request {
	return &Request{c: c, ch: c.chanFor(src, wire.KindData, tag), into: into}
}

// Wait blocks until the request completes and retires it. For receives
// this is where the delivered vector lands in the target buffer.
func (r *Request) Wait() error {
	if r.ch != nil {
		select {
		case payload := <-r.ch:
			return wire.DecodeVectorInto(r.into, payload)
		case <-r.c.failed:
			return r.c.failErr
		case <-r.c.closed:
			return ErrClosed
		}
	}
	select {
	case <-r.done:
	case <-r.c.closed:
		return ErrClosed
	}
	if r.err != nil {
		return r.err
	}
	return r.c.Err()
}
