package protocol

import "errors"

// Envelope errors
var (
	ErrMalformedFrame           = errors.New("malformed frame")
	ErrUnknownSigner            = errors.New("unknown signer")
	ErrBadMAC                   = errors.New("frame authentication failed")
	ErrSenderMismatch           = errors.New("signer does not match command sender")
	ErrSequencedProposal        = errors.New("proposal already carries an ordering serial")
	ErrUnsequencedAuthoritative = errors.New("authoritative command has no ordering serial")
	ErrNotPlayerCommand         = errors.New("only player commands travel over the network")
	ErrInvalidKey               = errors.New("keys must be 32 bytes")
)

// Link errors
var (
	ErrLinkClosed    = errors.New("link is closed")
	ErrFrameTooLarge = errors.New("frame too large")
)
