// Package apperrors defines the error kinds returned by the ledger store,
// the quote providers and the trading engine.
//
// Every failure that crosses a package boundary is an *Error (or wraps one),
// so callers classify with errors.Is against the sentinels below or with KindOf.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindInvalidQuantity
	KindInvalidAmount
	KindUnknownSymbol
	KindQuoteUnavailable
	KindInsufficientFunds
	KindInsufficientShares
	KindDuplicateUsername
	KindNotFound
	KindStorageUnavailable
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindValidation:         "validation_error",
	KindInvalidQuantity:    "invalid_quantity",
	KindInvalidAmount:      "invalid_amount",
	KindUnknownSymbol:      "unknown_symbol",
	KindQuoteUnavailable:   "quote_unavailable",
	KindInsufficientFunds:  "insufficient_funds",
	KindInsufficientShares: "insufficient_shares",
	KindDuplicateUsername:  "duplicate_username",
	KindNotFound:           "not_found",
	KindStorageUnavailable: "storage_unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Retryable reports whether the same request may succeed later without any
// change from the user. No partial state is ever committed, so both kinds
// are safe to resubmit.
func (k Kind) Retryable() bool {
	return k == KindQuoteUnavailable || k == KindStorageUnavailable
}

// UserFacing reports whether the message can be shown to the user verbatim.
func (k Kind) UserFacing() bool {
	switch k {
	case KindUnknown, KindNotFound, KindStorageUnavailable:
		return false
	}
	return true
}

// Error is a classified error. Msg is safe to show to users when
// Kind.UserFacing is true; Err carries the underlying cause, if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrInsufficientFunds)
// holds regardless of the message the error was created with.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels, one per kind.
var (
	ErrValidation         = &Error{Kind: KindValidation, Msg: "invalid input"}
	ErrInvalidQuantity    = &Error{Kind: KindInvalidQuantity, Msg: "shares must be a positive whole number"}
	ErrInvalidAmount      = &Error{Kind: KindInvalidAmount, Msg: "amount must be a positive number with at most 2 decimals"}
	ErrUnknownSymbol      = &Error{Kind: KindUnknownSymbol, Msg: "stock symbol does not exist"}
	ErrQuoteUnavailable   = &Error{Kind: KindQuoteUnavailable, Msg: "quotes are temporarily unavailable, try again in a minute"}
	ErrInsufficientFunds  = &Error{Kind: KindInsufficientFunds, Msg: "not enough funds"}
	ErrInsufficientShares = &Error{Kind: KindInsufficientShares, Msg: "not enough shares"}
	ErrDuplicateUsername  = &Error{Kind: KindDuplicateUsername, Msg: "username already exists"}
	ErrNotFound           = &Error{Kind: KindNotFound, Msg: "user not found"}
	ErrStorageUnavailable = &Error{Kind: KindStorageUnavailable, Msg: "storage unavailable"}
)

// New returns an error of the given kind with a specific message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Validation returns a ValidationError carrying the reason verbatim.
func Validation(reason string) *Error {
	return &Error{Kind: KindValidation, Msg: reason}
}

// Wrap classifies cause under kind. A nil cause yields nil.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Storage wraps a driver-level failure as StorageUnavailable unless it is
// already classified.
func Storage(cause error, msg string) error {
	if cause == nil {
		return nil
	}
	var e *Error
	if errors.As(cause, &e) {
		return fmt.Errorf("%s: %w", msg, cause)
	}
	return &Error{Kind: KindStorageUnavailable, Msg: msg, Err: cause}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message returns the text to display for err: the classified message for
// user-facing kinds, a generic one otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind.UserFacing() {
		return e.Msg
	}
	return "something went wrong, please try again"
}
