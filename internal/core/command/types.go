package command

import "fmt"

// Time is a simulated timestamp measured in ticks.
type Time uint64

// ObjectID identifies a simulated object. It is stable for the lifetime of a session and
// never reused after destruction.
type ObjectID uint64

// PlayerID identifies a participant. Zero is reserved for the simulation itself.
type PlayerID uint32

// TypeID is the stable wire identifier of a concrete command kind. Ids are never reassigned;
// new kinds always get a new id.
type TypeID uint16

// Category is the first tie-break between commands due at the same time.
type Category uint8

const (
	CategoryNonGameLogic Category = iota
	CategoryGameLogic
	CategoryPlayer
)

func (c Category) String() string {
	switch c {
	case CategoryNonGameLogic:
		return "non_game_logic"
	case CategoryGameLogic:
		return "game_logic"
	case CategoryPlayer:
		return "player"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}
