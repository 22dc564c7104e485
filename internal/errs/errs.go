// Package errs is the client's error taxonomy. Errors match each other by
// Kind, so callers test with errors.Is(err, errs.ErrValidation).
package errs

import "fmt"

type Kind string

const (
	KindConnection Kind = "connection"
	KindRejected   Kind = "rejected"
	KindValidation Kind = "validation"
	KindServer     Kind = "server"
	KindTimeout    Kind = "timeout"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

var (
	ErrConnection = &Error{Kind: KindConnection}
	ErrRejected   = &Error{Kind: KindRejected}
	ErrValidation = &Error{Kind: KindValidation}
	ErrServer     = &Error{Kind: KindServer}
	ErrTimeout    = &Error{Kind: KindTimeout}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func Connection(op string, err error) *Error {
	return &Error{Kind: KindConnection, Op: op, Err: err}
}

func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func Server(op, message string) *Error {
	return &Error{Kind: KindServer, Op: op, Message: message}
}

func Timeout(op string) *Error {
	return &Error{Kind: KindTimeout, Op: op, Message: "no acknowledgment before grace period"}
}
