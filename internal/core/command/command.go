package command

import (
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/pkg/encoding"
)

// Command is a unit of deferred work. The queue only ever needs its due time, its
// category and the ability to run it.
type Command interface {
	DueTime() Time
	Category() Category
	Execute(ctx Context) error
}

// GameLogic commands mutate simulated state and therefore persist: they carry a stable
// type id and a versioned body.
type GameLogic interface {
	Command
	encoding.Serializable
	TypeID() TypeID
	Head() *Header
}

// Player commands originate from a participant. They become schedulable only once the
// arbitrating layer has assigned an ordering serial.
type Player interface {
	GameLogic
	Sender() PlayerID
	OrderingSerial() (uint64, bool)
	AssignSerial(serial uint64) error
	PlayerHead() *PlayerHeader
}

// Context is handed to every Execute call. It is only valid for the duration of the call.
type Context interface {
	Now() Time
	World() World
	// Random draws a value in [0, bound) from the session RNG and feeds it to the sync stream.
	Random(bound uint32) uint32
	Sync() SyncSink
	Enqueue(cmd Command) error
	// ExchangeDigest compares a peer's digest for an exchange point against the local one.
	ExchangeDigest(peer PlayerID, at Time, remote uint64)
	Log() log.Log
}

// SyncSink accepts values that must be identical on every peer.
type SyncSink interface {
	AppendUint64(v uint64)
	AppendInt64(v int64)
	AppendBool(v bool)
	AppendBytes(b []byte)
}

// World is the slice of simulation state commands are allowed to touch.
type World interface {
	Object(id ObjectID) (Object, bool)
	Player(id PlayerID) (Participant, bool)
	Destroy(id ObjectID) bool
}

type Object interface {
	ID() ObjectID
	Owner() PlayerID
	Position() (x, y int32)
	MoveBy(dx, dy int32)
	Health() int32
	SetHealth(hp int32)
}

type Participant interface {
	ID() PlayerID
	Active() bool
	SetActive(active bool)
}

// Header carries the scheduling data shared by every persisted command.
type Header struct {
	Due Time
}

func (h *Header) DueTime() Time      { return h.Due }
func (h *Header) Category() Category { return CategoryGameLogic }
func (h *Header) Head() *Header      { return h }

// PlayerHeader adds sender identity and the assign-once ordering serial.
type PlayerHeader struct {
	Header
	SenderID  PlayerID
	serial    uint64
	sequenced bool
}

func (h *PlayerHeader) Category() Category       { return CategoryPlayer }
func (h *PlayerHeader) Sender() PlayerID         { return h.SenderID }
func (h *PlayerHeader) PlayerHead() *PlayerHeader { return h }

func (h *PlayerHeader) OrderingSerial() (uint64, bool) {
	return h.serial, h.sequenced
}

func (h *PlayerHeader) AssignSerial(serial uint64) error {
	if h.sequenced {
		return ErrSerialAlreadyAssigned
	}
	h.serial = serial
	h.sequenced = true
	return nil
}

// Authorize re-validates, at execution time, that sender may act on object id.
func Authorize(ctx Context, sender PlayerID, id ObjectID) (Object, error) {
	p, ok := ctx.World().Player(sender)
	if !ok || !p.Active() {
		return nil, ErrStaleAuthorization
	}
	obj, ok := ctx.World().Object(id)
	if !ok {
		return nil, ErrMissingTargetObject
	}
	if obj.Owner() != sender {
		return nil, ErrStaleAuthorization
	}
	return obj, nil
}

// Func is a local, non-persisted command such as a UI timer. It runs before any game
// logic due at the same time and must not mutate simulated state.
type Func struct {
	Due Time
	Fn  func(ctx Context) error
}

func (f *Func) DueTime() Time      { return f.Due }
func (f *Func) Category() Category { return CategoryNonGameLogic }

func (f *Func) Execute(ctx Context) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx)
}
