// Package toxerr defines the handle-level error kinds surfaced to callers
// of the core. Packet-level authentication failures never reach
// this surface; they are logged and dropped by the component that caught
// them.
package toxerr

import "errors"

// Kind identifies the category of a handle-level error. Compare with
// errors.Is against Of(kind) for one of the Kinds below, not by string
// matching.
type Kind int

const (
	// InvalidArgument: malformed address, zero-length key, out-of-range parameter.
	InvalidArgument Kind = iota + 1
	// Unreachable: no route to peer (neither UDP nor any relay).
	Unreachable
	// Busy: send buffer or congestion window full; caller should retry.
	Busy
	// AuthenticationFailed: MAC mismatch, signature invalid, unknown peer key.
	AuthenticationFailed
	// NotFound: friend/group/connection handle invalid.
	NotFound
	// ResourceExhausted: too many friends, relays, or sessions.
	ResourceExhausted
	// TransportDown: underlying socket/relay failed.
	TransportDown
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case Unreachable:
		return "unreachable"
	case Busy:
		return "busy"
	case AuthenticationFailed:
		return "authentication_failed"
	case NotFound:
		return "not_found"
	case ResourceExhausted:
		return "resource_exhausted"
	case TransportDown:
		return "transport_down"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with context, chaining to an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, toxerr.Of(toxerr.InvalidArgument)) match any
// *Error of the same Kind. A bare Kind is not an error value and cannot
// be passed as the target.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Of returns a sentinel *Error of the given kind with no message, suitable
// as an errors.Is target: errors.Is(err, toxerr.Of(toxerr.NotFound)).
func Of(kind Kind) *Error {
	return &Error{Kind: kind}
}
