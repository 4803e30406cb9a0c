package command

import (
	"errors"
	"fmt"
	"strings"
)

// Fatal to the stream being decoded.
var (
	ErrUnknownCommandID = errors.New("unknown command type id")
	ErrUnhandledVersion = errors.New("unhandled command version")
	ErrFieldOutOfRange  = errors.New("command field out of range")
)

// Recovered locally: the command becomes a no-op.
var (
	ErrMissingTargetObject = errors.New("target object no longer exists")
	ErrStaleAuthorization  = errors.New("sender is no longer authorized")
)

// Reported once per exchange, never fatal.
var ErrDesyncDetected = errors.New("desync detected")

// Contract violations by callers.
var (
	ErrSerialAlreadyAssigned = errors.New("ordering serial already assigned")
	ErrNotSerializable       = errors.New("command is not serializable")
)

// UnknownCommandIDError names the id that has no constructor.
type UnknownCommandIDError struct {
	ID TypeID
}

func (e *UnknownCommandIDError) Error() string {
	return fmt.Sprintf("unknown command type id %d", e.ID)
}

func (e *UnknownCommandIDError) Is(target error) bool {
	return target == ErrUnknownCommandID
}

// UnhandledVersionError names the command kind, the version found and what the reader
// understands.
type UnhandledVersionError struct {
	Kind       string
	Found      uint16
	Understood []uint16
}

func (e *UnhandledVersionError) Error() string {
	versions := make([]string, len(e.Understood))
	for i, v := range e.Understood {
		versions[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("%s: unhandled version %d (understood: %s)", e.Kind, e.Found, strings.Join(versions, ", "))
}

func (e *UnhandledVersionError) Is(target error) bool {
	return target == ErrUnhandledVersion
}

// CheckVersion returns an *UnhandledVersionError unless found is one of understood.
func CheckVersion(kind string, found uint16, understood ...uint16) error {
	for _, v := range understood {
		if v == found {
			return nil
		}
	}
	return &UnhandledVersionError{Kind: kind, Found: found, Understood: understood}
}

// IsRecoverable reports whether err turns a command into a deterministic no-op.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrMissingTargetObject) || errors.Is(err, ErrStaleAuthorization)
}

// IsFatal reports whether err must abort the stream being read.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnknownCommandID) || errors.Is(err, ErrUnhandledVersion) ||
		errors.Is(err, ErrFieldOutOfRange)
}
