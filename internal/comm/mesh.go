package comm

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"lockstep/internal/wire"
)

// MeshConfig controls TCP mesh establishment.
type MeshConfig struct {
	DialAttempts int
	DialDelay    time.Duration
}

func DefaultMeshConfig() MeshConfig {
	return MeshConfig{DialAttempts: 30, DialDelay: 250 * time.Millisecond}
}

// Connect builds a full TCP mesh and returns this process's Context.
// addrs lists every rank's listen address, indexed by rank. Each rank
// listens on its own address and dials every lower-ranked peer; the
// dialer identifies itself with a hello frame, so the accepting side
// learns which rank is on the other end.
func Connect(rank int, addrs []string, cfg MeshConfig, log zerolog.Logger) (*Context, error) {
	size := len(addrs)
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrBadRank, rank, size)
	}

	links := make([]io.ReadWriteCloser, size)
	limits := wire.DefaultLimits()

	var ln net.Listener
	if rank < size-1 {
		var err error
		ln, err = net.Listen("tcp", addrs[rank])
		if err != nil {
			return nil, fmt.Errorf("comm: listen %s: %w", addrs[rank], err)
		}
		defer ln.Close()
	}

	// Dial lower ranks first so rank 0 only ever accepts.
	for peer := 0; peer < rank; peer++ {
		conn, err := dialPeer(addrs[peer], cfg)
		if err != nil {
			closeLinks(links)
			return nil, fmt.Errorf("comm: dial rank %d at %s: %w", peer, addrs[peer], err)
		}
		hello := wire.Frame{Header: wire.Header{Kind: wire.KindHello, SrcRank: uint32(rank)}}
		if err := wire.WriteFrame(conn, hello, limits); err != nil {
			conn.Close()
			closeLinks(links)
			return nil, fmt.Errorf("comm: hello to rank %d: %w", peer, err)
		}
		links[peer] = conn
	}

	// Accept every higher rank.
	for accepted := 0; accepted < size-1-rank; accepted++ {
		conn, err := ln.Accept()
		if err != nil {
			closeLinks(links)
			return nil, fmt.Errorf("comm: accept: %w", err)
		}
		f, err := wire.ReadFrame(conn, limits)
		if err != nil || f.Header.Kind != wire.KindHello {
			conn.Close()
			closeLinks(links)
			return nil, fmt.Errorf("comm: bad hello: %w", err)
		}
		peer := int(f.Header.SrcRank)
		if peer <= rank || peer >= size || links[peer] != nil {
			conn.Close()
			closeLinks(links)
			return nil, fmt.Errorf("%w: hello from rank %d", ErrPeerInvalid, peer)
		}
		links[peer] = conn
	}

	log.Info().Int("rank", rank).Int("size", size).Msg("mesh established")
	return New(rank, links, log)
}

func dialPeer(addr string, cfg MeshConfig) (net.Conn, error) {
	var lastErr error
	attempts := cfg.DialAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(cfg.DialDelay)
	}
	return nil, lastErr
}

func closeLinks(links []io.ReadWriteCloser) {
	for _, l := range links {
		if l != nil {
			l.Close()
		}
	}
}

// PipeMesh wires n Contexts together in-process over net.Pipe links.
// Used by tests and by merged single-process runs that host every chunk
// in one binary.
func PipeMesh(n int, log zerolog.Logger) ([]*Context, error) {
	links := make([][]io.ReadWriteCloser, n)
	for i := range links {
		links[i] = make([]io.ReadWriteCloser, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := net.Pipe()
			links[i][j] = a
			links[j][i] = b
		}
	}
	ctxs := make([]*Context, n)
	for i := 0; i < n; i++ {
		c, err := New(i, links[i], log)
		if err != nil {
			for _, built := range ctxs {
				if built != nil {
					built.Close()
				}
			}
			return nil, err
		}
		ctxs[i] = c
	}
	return ctxs, nil
}
