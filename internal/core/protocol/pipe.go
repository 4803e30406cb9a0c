package protocol

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
)

var _ Link = (*pipeEnd)(nil)

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

// Pipe returns the two ends of an in-process link. It serves local matches where the host
// and a peer share a process. Frames are copied on Send; each direction buffers up to
// capacity frames before Send blocks.
func Pipe(capacity int) (Link, Link) {
	if capacity < 0 {
		capacity = 0
	}
	ab := make(chan []byte, capacity)
	ba := make(chan []byte, capacity)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &pipeEnd{id: uuid.NewString(), in: ba, out: ab, done: done, once: once}
	b := &pipeEnd{id: uuid.NewString(), in: ab, out: ba, done: done, once: once}
	a.remote, b.remote = pipeAddr(b.id), pipeAddr(a.id)
	return a, b
}

type pipeEnd struct {
	id     string
	remote net.Addr
	in     <-chan []byte
	out    chan<- []byte
	done   chan struct{}
	once   *sync.Once
}

func (p *pipeEnd) ID() string           { return p.id }
func (p *pipeEnd) RemoteAddr() net.Addr { return p.remote }

func (p *pipeEnd) Send(ctx context.Context, frame []byte) error {
	select {
	case <-p.done:
		return ErrLinkClosed
	default:
	}
	select {
	case p.out <- append([]byte(nil), frame...):
		return nil
	case <-p.done:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive drains frames already buffered before reporting a closed pipe.
func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		return nil, ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends.
func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
