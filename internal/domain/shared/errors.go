package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every error that can leave the settlement core.
// The set is closed: handlers switch on it exhaustively.
type ErrorKind int

const (
	KindInfrastructure ErrorKind = iota
	KindExpected
	KindPermission
	KindNotFound
	KindInsufficientBalance
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindExpected:
		return "EXPECTED"
	case KindPermission:
		return "PERMISSION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	case KindTimeout:
		return "TIMEOUT"
	default:
		return "INFRASTRUCTURE"
	}
}

// Error is the single concrete error type of the taxonomy.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. A target without a message
// matches any error of its kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrExpected            = &Error{Kind: KindExpected}
	ErrPermission          = &Error{Kind: KindPermission}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrInfrastructure      = &Error{Kind: KindInfrastructure}
)

// Expected reports a violated business precondition.
func Expected(message string) error {
	return &Error{Kind: KindExpected, Message: message}
}

// Permission reports an actor that is not allowed to perform the operation.
func Permission(message string) error {
	return &Error{Kind: KindPermission, Message: message}
}

// NotFound reports a missing entity.
func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// InsufficientBalance reports a wallet that cannot cover the requested amount.
func InsufficientBalance(message string) error {
	if message == "" {
		message = "Insufficient balance"
	}
	return &Error{Kind: KindInsufficientBalance, Message: message}
}

// Timeout reports a bounded call that did not complete in time.
func Timeout(operation string, err error) error {
	return &Error{Kind: KindTimeout, Message: operation + " timed out", Err: err}
}

// Infrastructure wraps a failure of a store, the ledger or the payment provider.
func Infrastructure(message string, err error) error {
	return &Error{Kind: KindInfrastructure, Message: message, Err: err}
}

// KindOf returns the kind of err. Errors outside the taxonomy are infrastructure errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}
