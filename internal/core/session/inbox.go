package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/zeusync/lockstep/internal/core/command"
)

var (
	ErrInboxFull   = errors.New("inbox is full")
	ErrInboxClosed = errors.New("inbox is closed")
)

// Inbox is the only door from producer goroutines (network readers, loaders, UI) into the
// simulation goroutine. A submitted command must be fully built; ownership passes with
// the send and the producer must not touch it afterwards.
type Inbox struct {
	ch       chan command.Command
	closed   atomic.Bool
	overflow atomic.Uint64
}

func NewInbox(capacity int) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Inbox{ch: make(chan command.Command, capacity)}
}

// Submit hands cmd over without blocking.
func (in *Inbox) Submit(cmd command.Command) error {
	if in.closed.Load() {
		return ErrInboxClosed
	}
	select {
	case in.ch <- cmd:
		return nil
	default:
		in.overflow.Add(1)
		return ErrInboxFull
	}
}

// SubmitWait hands cmd over, blocking until there is room or ctx is done.
func (in *Inbox) SubmitWait(ctx context.Context, cmd command.Command) error {
	if in.closed.Load() {
		return ErrInboxClosed
	}
	select {
	case in.ch <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting commands. Already submitted commands can still be taken.
func (in *Inbox) Close() {
	in.closed.Store(true)
}

// Overflow counts Submit calls rejected because the inbox was full.
func (in *Inbox) Overflow() uint64 { return in.overflow.Load() }

// Len reports the number of commands waiting to be taken.
func (in *Inbox) Len() int { return len(in.ch) }

// take removes every waiting command without blocking. Simulation goroutine only.
func (in *Inbox) take() []command.Command {
	var out []command.Command
	for {
		select {
		case cmd := <-in.ch:
			out = append(out, cmd)
		default:
			return out
		}
	}
}
