// Package commands holds the closed set of persisted command kinds and the dispatch table
// shared by the savegame reader, the network decoder and the replay reader.
package commands

import "github.com/zeusync/lockstep/internal/core/command"

// Wire ids. Never reuse or renumber an id; retire it and add a new one instead.
const (
	TypeMove       command.TypeID = 1
	TypeAttack     command.TypeID = 2
	TypeSyncMarker command.TypeID = 3
	TypeRegenerate command.TypeID = 4
	TypeDestroy    command.TypeID = 5
	TypeLeave      command.TypeID = 6
)

var known = []command.TypeID{
	TypeMove,
	TypeAttack,
	TypeSyncMarker,
	TypeRegenerate,
	TypeDestroy,
	TypeLeave,
}

// New constructs an empty command of the given kind, ready to be decoded into.
func New(id command.TypeID) (command.GameLogic, error) {
	switch id {
	case TypeMove:
		return &Move{}, nil
	case TypeAttack:
		return &Attack{}, nil
	case TypeSyncMarker:
		return &SyncMarker{}, nil
	case TypeRegenerate:
		return &Regenerate{}, nil
	case TypeDestroy:
		return &Destroy{}, nil
	case TypeLeave:
		return &Leave{}, nil
	default:
		return nil, &command.UnknownCommandIDError{ID: id}
	}
}

// Known lists every id New accepts, in ascending order.
func Known() []command.TypeID {
	out := make([]command.TypeID, len(known))
	copy(out, known)
	return out
}

// Name returns a human readable kind name for logs and errors.
func Name(id command.TypeID) string {
	switch id {
	case TypeMove:
		return "move"
	case TypeAttack:
		return "attack"
	case TypeSyncMarker:
		return "sync_marker"
	case TypeRegenerate:
		return "regenerate"
	case TypeDestroy:
		return "destroy"
	case TypeLeave:
		return "leave"
	default:
		return "unknown"
	}
}
