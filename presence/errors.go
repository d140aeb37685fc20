package presence

import "fmt"

// ErrorKind is a closed enum of the failure modes the Presence Core
// surfaces to its callers (spec.md §7). External collaborator failures
// never propagate as raw errors; they are always converted to one of
// these kinds.
type ErrorKind int

const (
	// InvalidTransition means a lifecycle step was rejected; no state
	// mutation occurred.
	InvalidTransition ErrorKind = iota
	// AlreadyRoot is an idempotent no-op: a second concurrent promotion
	// observed IsChild == false.
	AlreadyRoot
	// AlreadyChild is an idempotent no-op on a redundant demotion.
	AlreadyChild
	// PeerHandshakeTimeout means the origin region never confirmed
	// within the bounded wait; the presence stays child.
	PeerHandshakeTimeout
	// NonFiniteState means physics reported a corrupt position; the
	// core self-heals by restoring the last finite position.
	NonFiniteState
	// PhysicsFault is an out-of-bounds physics callback; surfaced to the
	// client as an alert, never a hard kill.
	PhysicsFault
	// CrossRejected means the peer transfer module refused a hand-off;
	// the presence is reflected back inside the border.
	CrossRejected
	// LandingDenied means telehub/landing policy constrained a local
	// teleport; the client receives an alert and the teleport is
	// abandoned.
	LandingDenied
	// SitRefused means no suitable seat surface was found.
	SitRefused
	// NeighbourCloseFailed is logged, not surfaced as a hard failure;
	// the neighbour entry is removed locally regardless.
	NeighbourCloseFailed
)

var errorKindNames = map[ErrorKind]string{
	InvalidTransition:    "InvalidTransition",
	AlreadyRoot:          "AlreadyRoot",
	AlreadyChild:         "AlreadyChild",
	PeerHandshakeTimeout: "PeerHandshakeTimeout",
	NonFiniteState:       "NonFiniteState",
	PhysicsFault:         "PhysicsFault",
	CrossRejected:        "CrossRejected",
	LandingDenied:        "LandingDenied",
	SitRefused:           "SitRefused",
	NeighbourCloseFailed: "NeighbourCloseFailed",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Error wraps an ErrorKind with a human message, an optional underlying
// cause, and structured fields, so callers can errors.As/errors.Is
// against Kind rather than sniffing strings.
type Error struct {
	Kind    ErrorKind
	Message string
	Fields  map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, presence.NewError(kind, ...)) by comparing
// Kind alone.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// NewError constructs an *Error of the given kind.
func NewError(kind ErrorKind, message string, fields map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Fields: fields}
}

// WrapError constructs an *Error of the given kind around a cause.
func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
