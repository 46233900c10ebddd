// Package services defines the business logic for call signaling. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers, plus the
// error-kind classification used by the HTTP layer.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the
// handler layer by branching on Classify rather than matching strings.
package services

import "errors"

// Call-signaling errors.
var (
	// ErrSelfCall is returned when a user attempts to call themselves.
	ErrSelfCall = errors.New("caller and callee must differ")

	// ErrCalleeNotFound indicates that the requested callee does not exist in
	// the user directory.
	ErrCalleeNotFound = errors.New("callee not found")

	// ErrCallNotFound indicates that the requested call does not exist or is
	// not visible to the current user.
	ErrCallNotFound = errors.New("call not found")

	// ErrNotCallee is returned when someone other than the callee attempts to
	// accept or reject a pending call.
	ErrNotCallee = errors.New("only the callee may answer this call")

	// ErrNotParticipant is returned when a user who is neither caller nor
	// callee attempts to end a call.
	ErrNotParticipant = errors.New("not a participant of this call")

	// ErrCallNotPending is returned when accept/reject is attempted on a call
	// that already left the PENDING state. This is the race-loser outcome when
	// two transitions contend for the same session.
	ErrCallNotPending = errors.New("call is not pending")

	// ErrCallNotActive is returned when end is attempted on a call that
	// already reached a terminal state.
	ErrCallNotActive = errors.New("call is not active")

	// ErrTokenIssuance wraps media token issuer failures. During initiate the
	// just-created record is deleted before this is returned; during accept
	// the committed transition is kept and only the token failure surfaces.
	ErrTokenIssuance = errors.New("media token issuance failed")
)

// Kind partitions service errors into the categories the transport layer
// maps to responses. It replaces string matching on error text.
type Kind int

const (
	// KindUnknown covers unexpected failures (raw DB errors and the like).
	KindUnknown Kind = iota
	// KindValidation covers input rejected before any state mutation.
	KindValidation
	// KindStateGuard covers actor/state preconditions that failed, including
	// losing a concurrent transition race.
	KindStateGuard
	// KindDependency covers failures of external collaborators that must
	// surface to the client (currently only the token issuer).
	KindDependency
	// KindNotFound covers references to nonexistent records.
	KindNotFound
)

// Classify reports the Kind of a service error. Unrecognized errors are
// KindUnknown and should be treated as internal failures.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrSelfCall), errors.Is(err, ErrCalleeNotFound):
		return KindValidation
	case errors.Is(err, ErrNotCallee), errors.Is(err, ErrNotParticipant),
		errors.Is(err, ErrCallNotPending), errors.Is(err, ErrCallNotActive):
		return KindStateGuard
	case errors.Is(err, ErrTokenIssuance):
		return KindDependency
	case errors.Is(err, ErrCallNotFound):
		return KindNotFound
	}
	return KindUnknown
}
