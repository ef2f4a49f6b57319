package mapban

import "errors"

var (
	ErrNotAuthorized   = errors.New("mapban: actor is not authorized")
	ErrNotYourTurn     = errors.New("mapban: not your turn")
	ErrInvalidMap      = errors.New("mapban: map is not in the remaining pool")
	ErrSessionResolved = errors.New("mapban: session already resolved")

	// ErrInvalidConfig is returned by NewSession; the wrapped message names
	// the failing precondition.
	ErrInvalidConfig = errors.New("mapban: invalid session config")
)

// ErrorKind classifies a rejected ban for callers that map rejections onto
// their own codes.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindNotAuthorized   ErrorKind = "NotAuthorized"
	KindNotYourTurn     ErrorKind = "NotYourTurn"
	KindInvalidMap      ErrorKind = "InvalidMap"
	KindSessionResolved ErrorKind = "SessionResolved"
	KindUnknown         ErrorKind = "Unknown"
)

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotAuthorized):
		return KindNotAuthorized
	case errors.Is(err, ErrNotYourTurn):
		return KindNotYourTurn
	case errors.Is(err, ErrInvalidMap):
		return KindInvalidMap
	case errors.Is(err, ErrSessionResolved):
		return KindSessionResolved
	default:
		return KindUnknown
	}
}
