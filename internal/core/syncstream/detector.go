package syncstream

import (
	"fmt"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/events/bus"
	"github.com/zeusync/lockstep/internal/core/observability/log"
)

// State of one digest exchange.
type State uint8

const (
	StateRecording State = iota
	StateDigestExchanged
	StateMatch
	StateMismatchReported
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateDigestExchanged:
		return "digest_exchanged"
	case StateMatch:
		return "match"
	case StateMismatchReported:
		return "mismatch_reported"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Report describes a detected divergence. It is the payload of bus.EventDesyncDetected.
type Report struct {
	ExchangeAt command.Time
	Peer       command.PlayerID
	Local      uint64
	Remote     uint64
}

func (r Report) Error() string {
	return fmt.Sprintf("%s at exchange %d: peer %d digest %016x, local %016x",
		command.ErrDesyncDetected, r.ExchangeAt, r.Peer, r.Remote, r.Local)
}

func (r Report) Unwrap() error { return command.ErrDesyncDetected }

type exchange struct {
	state  State
	remote map[command.PlayerID]uint64
}

// Detector compares peer digests against local checkpoints. A mismatch is reported once
// per exchange; afterwards the session stays flagged as desynced and keeps running.
type Detector struct {
	stream    *Stream
	bus       bus.EventBus
	source    string
	logger    log.Log
	exchanges map[command.Time]*exchange
	order     []command.Time
	window    int

	desynced bool
	reports  []Report
	ignored  uint64
}

// NewDetector binds a detector to the stream whose checkpoints it compares against.
// Reports are published on eventBus (optional) with source as the event source.
func NewDetector(stream *Stream, eventBus bus.EventBus, source string, logger log.Log) *Detector {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Detector{
		stream:    stream,
		bus:       eventBus,
		source:    source,
		logger:    logger,
		exchanges: make(map[command.Time]*exchange),
		window:    stream.window,
	}
}

// Record takes the local checkpoint for an exchange point.
func (d *Detector) Record(at command.Time) uint64 {
	digest := d.stream.Checkpoint(at)
	d.track(at)
	return digest
}

// Compare evaluates a peer digest for an exchange point and returns the resulting state.
// Exchanges with no local checkpoint (too old, or before a load) are ignored.
func (d *Detector) Compare(peer command.PlayerID, at command.Time, remote uint64) State {
	local, ok := d.stream.CheckpointAt(at)
	if !ok {
		d.ignored++
		d.logger.Debug("digest for unknown exchange ignored",
			log.Uint64("exchange_at", uint64(at)),
			log.Uint32("peer", uint32(peer)))
		return StateRecording
	}

	ex := d.track(at)
	if ex.state == StateRecording {
		ex.state = StateDigestExchanged
	}
	ex.remote[peer] = remote

	if remote == local {
		if ex.state == StateDigestExchanged {
			ex.state = StateMatch
		}
		return ex.state
	}
	if ex.state == StateMismatchReported {
		return ex.state
	}

	ex.state = StateMismatchReported
	d.desynced = true
	report := Report{ExchangeAt: at, Peer: peer, Local: local, Remote: remote}
	d.reports = append(d.reports, report)

	d.logger.Warn("desync detected",
		log.Uint64("exchange_at", uint64(at)),
		log.Uint32("peer", uint32(peer)),
		log.Digest("local", local),
		log.Digest("remote", remote))
	if d.bus != nil {
		if err := d.bus.Publish(bus.NewEvent(bus.EventDesyncDetected, d.source, report)); err != nil {
			d.logger.Error("desync subscriber failed", log.Error(err))
		}
	}
	return ex.state
}

// StateOf returns the state of an exchange point, if it is still tracked.
func (d *Detector) StateOf(at command.Time) (State, bool) {
	ex, ok := d.exchanges[at]
	if !ok {
		return StateRecording, false
	}
	return ex.state, true
}

// Desynced reports whether any exchange has mismatched since the last reset.
func (d *Detector) Desynced() bool { return d.desynced }

// Reports returns every mismatch reported since the last reset.
func (d *Detector) Reports() []Report {
	out := make([]Report, len(d.reports))
	copy(out, d.reports)
	return out
}

// Ignored counts digests that arrived for exchanges without a local checkpoint.
func (d *Detector) Ignored() uint64 { return d.ignored }

// Reset forgets every exchange. Called together with Stream.Reset at session boundaries.
func (d *Detector) Reset() {
	d.exchanges = make(map[command.Time]*exchange)
	d.order = d.order[:0]
	d.desynced = false
	d.reports = nil
	d.ignored = 0
}

func (d *Detector) track(at command.Time) *exchange {
	if ex, ok := d.exchanges[at]; ok {
		return ex
	}
	ex := &exchange{state: StateRecording, remote: make(map[command.PlayerID]uint64)}
	d.exchanges[at] = ex
	d.order = append(d.order, at)
	for len(d.order) > d.window {
		delete(d.exchanges, d.order[0])
		d.order = d.order[1:]
	}
	return ex
}
