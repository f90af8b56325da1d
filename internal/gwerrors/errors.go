// Package gwerrors defines the error taxonomy shared by the acquisition and
// forwarding core: configuration, transient network, protocol-violation, data
// and fatal errors. Only a KindFatal error (built by Fatal) is meant to be
// raised as a panic.
package gwerrors

import "fmt"

// Kind classifies an error for logging and retry decisions.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindTransient     Kind = "transient"
	KindProtocol      Kind = "protocol_violation"
	KindData          Kind = "data"
	KindFatal         Kind = "fatal"
)

// Error is the gateway's structured error type.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, gwerrors.Transient("", nil)) style checks: any
// *Error of the same Kind matches, whatever its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func Configuration(msg string) error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

func ConfigurationWrap(msg string, err error) error {
	return &Error{Kind: KindConfiguration, Message: msg, Err: err}
}

func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

func Protocol(msg string) error {
	return &Error{Kind: KindProtocol, Message: msg}
}

func ProtocolWrap(msg string, err error) error {
	return &Error{Kind: KindProtocol, Message: msg, Err: err}
}

func Data(msg string) error {
	return &Error{Kind: KindData, Message: msg}
}

// Fatal represents an impossible state inside the supervisor. The caller is
// expected to panic with it so the process supervisor restarts the gateway.
func Fatal(msg string) error {
	return &Error{Kind: KindFatal, Message: msg}
}

// KindOf extracts the Kind of an error produced by this package, defaulting
// to KindTransient for anything else (the conservative retry choice).
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
