package server

import (
	"sync"

	"github.com/zeusync/lockstep/internal/core/command"
)

// Sequencer owns the host clock and turns proposals into authoritative commands: it
// assigns the ordering serial and a due time no earlier than the clock plus the input
// delay. Due times never decrease in serial order, which keeps replays seekable.
type Sequencer struct {
	mu      sync.Mutex
	now     command.Time
	delay   command.Time
	next    uint64
	lastDue command.Time
}

func NewSequencer(delay command.Time) *Sequencer {
	if delay < 1 {
		delay = 1
	}
	return &Sequencer{delay: delay}
}

// Sequence stamps cmd, overwriting any proposed due time, and calls accept while still
// holding the sequencing lock, so accept observes commands in serial order. If accept
// fails the serial is burnt and the due time floor is left unchanged.
func (s *Sequencer) Sequence(cmd command.Player, accept func(command.Player) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	head := cmd.PlayerHead()
	due := max(s.now+s.delay, s.lastDue)
	serial := s.next
	s.next++
	if err := cmd.AssignSerial(serial); err != nil {
		return err
	}
	head.Due = due
	if err := accept(cmd); err != nil {
		return err
	}
	s.lastDue = due
	return nil
}

// Advance moves the clock one tick and calls publish under the sequencing lock. Every
// command sequenced before publish runs is due at or after the new time.
func (s *Sequencer) Advance(publish func(now command.Time)) command.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now++
	if publish != nil {
		publish(s.now)
	}
	return s.now
}

func (s *Sequencer) Now() command.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Issued reports how many serials have been handed out.
func (s *Sequencer) Issued() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
