// Package scheduler implements the time-bucketed command queue. Draining order depends
// only on (due time, category, serial), never on enqueue timing or memory layout, so
// peers that received the same commands execute them identically.
package scheduler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/pkg/sequence"
)

var (
	ErrNilCommand     = errors.New("nil command")
	ErrPastDueTime    = errors.New("command due before current time")
	ErrTimeReversal   = errors.New("drain target before current time")
	ErrUnsequenced    = errors.New("player command has no ordering serial")
	ErrReentrantDrain = errors.New("drain called from inside a command")
	ErrBadCategory    = errors.New("command category does not match its capabilities")
)

const DefaultBuckets = 64

// Config tunes the queue. Buckets only affects performance, never ordering.
type Config struct {
	Buckets int `yaml:"buckets"`
}

// Stats are cumulative counters since construction.
type Stats struct {
	Enqueued uint64
	Rejected uint64
	Executed uint64
	NoOps    uint64
	Failed   uint64
	Flushed  uint64
}

// DrainStats describes one Drain call.
type DrainStats struct {
	Executed int
	NoOps    int
	Failed   int
}

// entry is the scheduling wrapper around a pending command.
type entry struct {
	cmd       command.Command
	due       command.Time
	category  command.Category
	serial    uint64
	insertion uint64
}

// before orders entries by due time, category, serial, then insertion. serial is the
// ordering serial for player commands and the insertion serial for everything else.
func before(a, b *entry) bool {
	if a.due != b.due {
		return a.due < b.due
	}
	if a.category != b.category {
		return a.category < b.category
	}
	if a.serial != b.serial {
		return a.serial < b.serial
	}
	return a.insertion < b.insertion
}

// Queue owns pending commands between Enqueue and execution. A command lives in bucket
// due mod N. It is not safe for concurrent use; the simulation goroutine owns it.
type Queue struct {
	buckets   []*sequence.PriorityQueue[*entry]
	now       command.Time
	cursor    command.Time
	draining  bool
	pending   int
	insertion uint64
	stats     Stats
	logger    log.Log
}

func New(cfg Config, logger log.Log) *Queue {
	n := cfg.Buckets
	if n < 1 {
		n = DefaultBuckets
	}
	if logger == nil {
		logger = log.NewNop()
	}
	q := &Queue{
		buckets: make([]*sequence.PriorityQueue[*entry], n),
		logger:  logger,
	}
	for i := range q.buckets {
		q.buckets[i] = sequence.NewPriorityQueue[*entry](before)
	}
	return q
}

// Now returns the queue's current time: every command due before it has executed.
func (q *Queue) Now() command.Time {
	if q.draining {
		return q.cursor
	}
	return q.now
}

// Len reports the number of pending commands.
func (q *Queue) Len() int { return q.pending }

func (q *Queue) Stats() Stats { return q.stats }

// Enqueue takes ownership of cmd. Commands due before Now are rejected with
// ErrPastDueTime; a command due exactly at Now runs on the next drain, or later in the
// current drain when enqueued by a command executing at that time.
func (q *Queue) Enqueue(cmd command.Command) error {
	if cmd == nil {
		q.stats.Rejected++
		return ErrNilCommand
	}
	e := &entry{
		cmd:       cmd,
		due:       cmd.DueTime(),
		category:  cmd.Category(),
		insertion: q.insertion,
	}
	if now := q.Now(); e.due < now {
		q.stats.Rejected++
		return fmt.Errorf("%w: due %d, now %d", ErrPastDueTime, e.due, now)
	}

	switch e.category {
	case command.CategoryPlayer:
		p, ok := cmd.(command.Player)
		if !ok {
			q.stats.Rejected++
			return fmt.Errorf("%w: %T", ErrBadCategory, cmd)
		}
		serial, sequenced := p.OrderingSerial()
		if !sequenced {
			q.stats.Rejected++
			return ErrUnsequenced
		}
		e.serial = serial
	case command.CategoryGameLogic, command.CategoryNonGameLogic:
		e.serial = e.insertion
	default:
		q.stats.Rejected++
		return fmt.Errorf("%w: %s", ErrBadCategory, e.category)
	}

	q.insertion++
	q.buckets[q.bucketOf(e.due)].Enqueue(e)
	q.pending++
	q.stats.Enqueued++
	return nil
}

// Drain executes, in deterministic order, every pending command due at or before until,
// then advances Now to until. Commands failing with a recoverable error count as no-ops;
// other failures are logged and counted. Drain never stops early.
func (q *Queue) Drain(ctx command.Context, until command.Time) (DrainStats, error) {
	var ds DrainStats
	if q.draining {
		return ds, ErrReentrantDrain
	}
	if until < q.now {
		return ds, fmt.Errorf("%w: until %d, now %d", ErrTimeReversal, until, q.now)
	}

	q.draining = true
	q.cursor = q.now
	defer func() {
		q.draining = false
		q.now = until
		q.cursor = until
	}()

	for q.pending > 0 {
		next, ok := q.nextDue(q.cursor)
		if !ok || next > until {
			break
		}
		q.cursor = next
		bucket := q.buckets[q.bucketOf(next)]
		for {
			e, ok := bucket.Peek()
			if !ok || e.due != next {
				break
			}
			bucket.Dequeue()
			q.pending--
			q.run(ctx, e, &ds)
		}
	}
	return ds, nil
}

// Flush discards every pending command without executing it.
func (q *Queue) Flush() int {
	n := q.pending
	for _, b := range q.buckets {
		b.Clear()
	}
	q.pending = 0
	q.stats.Flushed += uint64(n)
	return n
}

// Restart flushes the queue and moves Now to at. Only valid at session boundaries
// (new game or load), never mid-session.
func (q *Queue) Restart(at command.Time) int {
	n := q.Flush()
	q.now = at
	q.cursor = at
	q.insertion = 0
	return n
}

// Pending returns the pending commands in execution order without removing them.
func (q *Queue) Pending() []command.Command {
	entries := make([]*entry, 0, q.pending)
	for _, b := range q.buckets {
		for b.Len() > 0 {
			e, _ := b.Dequeue()
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return before(entries[i], entries[j]) })
	out := make([]command.Command, len(entries))
	for i, e := range entries {
		out[i] = e.cmd
		q.buckets[q.bucketOf(e.due)].Enqueue(e)
	}
	return out
}

func (q *Queue) run(ctx command.Context, e *entry, ds *DrainStats) {
	err := q.execute(ctx, e)
	switch {
	case err == nil:
		ds.Executed++
		q.stats.Executed++
	case command.IsRecoverable(err):
		ds.NoOps++
		q.stats.NoOps++
		q.logger.Debug("command skipped",
			log.Uint64("due", uint64(e.due)),
			log.String("category", e.category.String()),
			log.Uint64("serial", e.serial),
			log.Error(err))
	default:
		ds.Failed++
		q.stats.Failed++
		q.logger.Error("command failed",
			log.Uint64("due", uint64(e.due)),
			log.String("category", e.category.String()),
			log.Uint64("serial", e.serial),
			log.Error(err))
	}
}

func (q *Queue) execute(ctx command.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()
	return e.cmd.Execute(ctx)
}

func (q *Queue) bucketOf(t command.Time) int {
	return int(uint64(t) % uint64(len(q.buckets)))
}

// nextDue returns the smallest pending due time at or after from. Every pending command
// is due at or after from, so the top of bucket (from+k) mod N is due at from+k exactly
// when something is scheduled then.
func (q *Queue) nextDue(from command.Time) (command.Time, bool) {
	n := command.Time(len(q.buckets))
	for k := command.Time(0); k < n; k++ {
		t := from + k
		if e, ok := q.buckets[q.bucketOf(t)].Peek(); ok && e.due == t {
			return t, true
		}
	}
	var (
		best  command.Time
		found bool
	)
	for _, b := range q.buckets {
		if e, ok := b.Peek(); ok && (!found || e.due < best) {
			best, found = e.due, true
		}
	}
	return best, found
}
