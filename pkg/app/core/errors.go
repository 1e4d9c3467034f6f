package core

import "errors"

// Code is the short, stable reason a fill, cancel or init was rejected.
type Code string

const (
	CodeExpired         Code = "EXR" // current time past order deadline
	CodeFillZero        Code = "FR0" // requested fill amount is zero
	CodeSignature       Code = "SNE" // recovered signer != declared owner
	CodeRemainingZero   Code = "RD0" // fully filled or cancelled
	CodeFillTooBig      Code = "FTB" // fill exceeds logical remaining
	CodePrice           Code = "PRE" // price condition not met
	CodeUnreliablePrice Code = "UPF" // oracle update too stale for stop-loss
	CodeNegative        Code = "NEG" // engine result below protected minimum
	CodeNullAddress     Code = "NAD" // null/zero configuration address
	CodeNotOwner        Code = "OWN" // caller is not the order owner
	CodeInit            Code = "INI" // engine not (or already) initialized
)

// Error is a rejection surfaced to the filler or owner unchanged.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Msg }

// Is matches on code so errors.Is works against the sentinels below even
// when the message differs.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

var (
	ErrExpired          = newError(CodeExpired, "order expired")
	ErrFillZero         = newError(CodeFillZero, "fill amount is zero")
	ErrSignatureInvalid = newError(CodeSignature, "signature invalid")
	ErrRemainingZero    = newError(CodeRemainingZero, "remaining is zero")
	ErrFillTooBig       = newError(CodeFillTooBig, "fill too big")
	ErrPrice            = newError(CodePrice, "price condition not satisfied")
	ErrUnreliablePrice  = newError(CodeUnreliablePrice, "unreliable price feed")
	ErrNegative         = newError(CodeNegative, "result below protected minimum")
	ErrNullAddress      = newError(CodeNullAddress, "null address")
	ErrNotOwner         = newError(CodeNotOwner, "caller is not order owner")
	ErrNotInitialized   = newError(CodeInit, "engine not initialized")
	ErrInitialized      = newError(CodeInit, "engine already initialized")
)

// Errorf returns a coded error with a custom message.
func Errorf(code Code, msg string) error { return newError(code, msg) }

// CodeOf extracts the rejection code, or "" for collaborator and
// infrastructure errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
