package presence

import "sync"

// LifecycleState is the authoritative state of existence for a Presence
// (spec.md §4.1). Transitions only move forward except Running<->Running
// (child<->root is an orthogonal attribute, not a lifecycle step).
type LifecycleState int

const (
	PreAdd LifecycleState = iota
	NotInRegion
	Running
	Removing
	Removed
)

var lifecycleStateNames = map[LifecycleState]string{
	PreAdd:      "PreAdd",
	NotInRegion: "NotInRegion",
	Running:     "Running",
	Removing:    "Removing",
	Removed:     "Removed",
}

func (s LifecycleState) String() string {
	if name, ok := lifecycleStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// rank gives the forward-only ordering lifecycle transitions must respect.
func (s LifecycleState) rank() int {
	switch s {
	case PreAdd:
		return 0
	case NotInRegion:
		return 1
	case Running:
		return 2
	case Removing:
		return 3
	case Removed:
		return 4
	default:
		return -1
	}
}

// lifecycleState is C1's component-owned state: the LifecycleState
// itself, IsChild/IsInTransit/IsLoggingIn, and the complete-movement
// critical section (spec.md §5's complete_movement_lock) that serialises
// child<->root promotion/demotion.
type lifecycleState struct {
	mu          sync.Mutex
	state       LifecycleState
	isChild     bool
	isInTransit bool
	isLoggingIn bool
}

// LifecycleState returns the current authoritative state.
func (p *Presence) LifecycleState() LifecycleState {
	p.lifecycle.mu.Lock()
	defer p.lifecycle.mu.Unlock()
	return p.lifecycle.state
}

// IsChild reports whether this presence is currently a child agent.
func (p *Presence) IsChild() bool {
	p.lifecycle.mu.Lock()
	defer p.lifecycle.mu.Unlock()
	return p.lifecycle.isChild
}

// IsInTransit reports whether a cross-region hand-off is in progress.
func (p *Presence) IsInTransit() bool {
	p.lifecycle.mu.Lock()
	defer p.lifecycle.mu.Unlock()
	return p.lifecycle.isInTransit
}

// Advance moves the lifecycle forward to the given state. Setting to an
// earlier (or equal, except the Running<->Running case handled by
// MakeRoot/MakeChild) state fails with InvalidTransition.
func (p *Presence) Advance(to LifecycleState) error {
	p.lifecycle.mu.Lock()
	defer p.lifecycle.mu.Unlock()

	if to.rank() <= p.lifecycle.state.rank() {
		return NewError(InvalidTransition, "lifecycle transitions must move forward", map[string]any{
			"from": p.lifecycle.state.String(),
			"to":   to.String(),
		})
	}
	p.lifecycle.state = to
	return nil
}

// MakeRoot promotes a child presence to root. It requires IsChild to be
// true and is guarded by the complete-movement lock so two concurrent
// arrivals cannot both promote: the loser observes IsChild == false and
// returns AlreadyRoot (spec.md §4.1).
func (p *Presence) MakeRoot() error {
	p.lifecycle.mu.Lock()
	defer p.lifecycle.mu.Unlock()

	if !p.lifecycle.isChild {
		return NewError(AlreadyRoot, "presence is already root", nil)
	}
	p.lifecycle.isChild = false
	if p.lifecycle.state.rank() < Running.rank() {
		p.lifecycle.state = Running
	}
	return nil
}

// MakeChild unconditionally detaches the Physical Body, zeroes the
// movement bitset, resets teleport flags, and clears parcel state
// (spec.md §4.1: "child presences hold no parcel binding").
func (p *Presence) MakeChild() {
	p.lifecycle.mu.Lock()
	p.lifecycle.isChild = true
	p.lifecycle.mu.Unlock()

	p.detachBodyForChildhood()
	p.resetMovementBitset()
	p.resetTeleportFlags()
	p.clearParcelState()
}
