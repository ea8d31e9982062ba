package ledger

import "errors"

// Sentinel errors shared by the economy core. Services return them (possibly
// wrapped) and the HTTP layer maps them onto status codes, so callers can
// rely on errors.Is across package boundaries.
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidDirection      = errors.New("invalid direction")
	ErrUnknownInstrument     = errors.New("unknown instrument")
	ErrStalePrice            = errors.New("stale price")
	ErrPositionNotFound      = errors.New("position not found")
	ErrPositionAlreadyClosed = errors.New("position already closed")
	ErrAlreadyClaimed        = errors.New("daily reward already claimed")
	ErrUnknownGame           = errors.New("unknown game")
	ErrStorageUnavailable    = errors.New("storage unavailable")
)
