package domain

import "errors"

// ErrorKind classifies client errors by how they are recovered.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindPrecondition ErrorKind = "precondition"
	KindUpload       ErrorKind = "upload"
	KindNetwork      ErrorKind = "network"
	KindChannel      ErrorKind = "channel"
	KindRecovery     ErrorKind = "recovery"
)

// Error carries a human-readable message suitable for display plus the
// underlying cause, if any.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind) + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a *Error of the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var target *Error
	if !errors.As(err, &target) {
		return false
	}
	return target.Kind == kind
}

// Message returns the display message of err, or fallback when err carries none.
func Message(err error, fallback string) string {
	var target *Error
	if errors.As(err, &target) && target.Message != "" {
		return target.Message
	}
	return fallback
}
