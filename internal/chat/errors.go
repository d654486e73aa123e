package chat

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindUnauthenticated
	KindValidation
	KindNotFound
	KindPersistence
	KindDelivery
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	case KindDelivery:
		return "delivery"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrPersistence     = &Error{Kind: KindPersistence}
	ErrDelivery        = &Error{Kind: KindDelivery}
)

// Error is the error type returned by every chat operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

func Unauthenticated(op, msg string) error {
	return &Error{Kind: KindUnauthenticated, Op: op, Msg: msg}
}

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func NotFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: msg}
}

// Persistence wraps a storage failure. Errors that are already chat errors
// keep their kind.
func Persistence(op string, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: KindPersistence, Op: op, Msg: "store failure", Err: err}
}

func Delivery(op string, err error) error {
	return &Error{Kind: KindDelivery, Op: op, Msg: "live delivery failed", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Public returns the message that is safe to show a caller.
func Public(err error) string {
	var ce *Error
	if !errors.As(err, &ce) {
		return "internal error"
	}
	switch ce.Kind {
	case KindPersistence, KindUnknown:
		return "internal error"
	}
	if ce.Msg != "" {
		return ce.Msg
	}
	return fmt.Sprint(ce.Kind)
}
