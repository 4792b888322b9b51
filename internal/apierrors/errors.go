// Package apierrors defines the structured error-kind catalogue shared across the HTTP and realtime surfaces.
package apierrors

// Code identifies a structured error kind. Codes are stable across releases and are safe to match on in client code.
type Code string

// Error kinds, matching the failure taxonomy every component reports against.
const (
	BadInput           Code = "bad_input"
	Unauthorized       Code = "unauthorized"
	Forbidden          Code = "forbidden"
	NotFound           Code = "not_found"
	Conflict           Code = "conflict"
	RateLimited        Code = "rate_limited"
	LoginLocked        Code = "login_locked"
	ReadOnly           Code = "read_only"
	Locked             Code = "locked"
	SlowMode           Code = "slow_mode"
	NotInRoom          Code = "not_in_room"
	CapReached         Code = "cap_reached"
	ReactionFinal      Code = "reaction_final"
	CallStateError     Code = "call_state_error"
	PeerGone           Code = "peer_gone"
	SlowConsumer       Code = "slow_consumer"
	StorageUnavailable Code = "storage_unavailable"
	Internal           Code = "internal"
)

// Error is a structured application error carrying a Code, an HTTP-independent kind, and a message that must never
// leak existence information (e.g. "no such user" vs "bad password" are always reported identically).
type Error struct {
	Code    Code
	Message string
	// Detail, when set, is additional machine-readable context (e.g. the active slowmode window or voice cap) that
	// callers may surface to the user without it being part of the generic Message.
	Detail any
}

func (e *Error) Error() string { return e.Message }

// New constructs an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetail attaches machine-readable detail to an existing error and returns it for chaining.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// Is allows errors.Is(err, apierrors.New(code, "")) style comparisons by code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus maps a Code to the conventional HTTP status code used by the Entry Surfaces layer. Realtime handlers
// ignore this and report the Code directly in the event envelope instead.
func (c Code) HTTPStatus() int {
	switch c {
	case BadInput:
		return 400
	case Unauthorized:
		return 401
	case Forbidden, ReadOnly, Locked, NotInRoom, ReactionFinal, CallStateError, PeerGone:
		return 403
	case NotFound:
		return 404
	case Conflict, CapReached:
		return 409
	case RateLimited, SlowMode, SlowConsumer:
		return 429
	case LoginLocked:
		return 423
	case StorageUnavailable:
		return 503
	default:
		return 500
	}
}
