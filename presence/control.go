package presence

import (
	"context"
	"sync"

	"presencecore/collab"
)

// ScriptControlEffect classifies the (accept, pass_on) registration
// encoding from spec.md §4.6.
type ScriptControlEffect int

const (
	// EffectIgnoreSilent: accept=0, pass_on=0 — add to ignore mask, no events.
	EffectIgnoreSilent ScriptControlEffect = iota
	// EffectIgnoreAndEmit: accept=1, pass_on=0 — add to ignore mask, emit events.
	EffectIgnoreAndEmit
	// EffectPassAndEmit: accept=1, pass_on=1 — do not ignore, emit events.
	EffectPassAndEmit
	// EffectRelease: accept=0, pass_on=1 — remove from ignore mask, remove registration.
	EffectRelease
)

// EffectFor derives the registration effect from (accept, passOn), per
// the table in spec.md §4.6.
func EffectFor(accept, passOn bool) ScriptControlEffect {
	switch {
	case !accept && !passOn:
		return EffectIgnoreSilent
	case accept && !passOn:
		return EffectIgnoreAndEmit
	case accept && passOn:
		return EffectPassAndEmit
	default:
		return EffectRelease
	}
}

// controlRegistration is one script's hold on this presence's control
// inputs: object_id, item_id, ignore_mask, event_mask.
type controlRegistration struct {
	objectID   collab.LocalID
	itemID     collab.LocalID
	ignoreMask ControlFlags
	eventMask  ControlFlags
	emits      bool
}

// controlState is C6's component-owned state: the registration table,
// the aggregated ignore mask, and the last-commands latch used for
// per-tick edge detection.
type controlState struct {
	mu            sync.Mutex
	registrations map[collab.LocalID]controlRegistration
	ignoreMask    ControlFlags
	lastCommands  ControlFlags
	latchedMouse  ControlFlags
}

// ScriptEventSink receives control events emitted by the arbiter.
type ScriptEventSink interface {
	EmitControlEvent(ctx context.Context, itemID collab.LocalID, held, changed ControlFlags) error
}

// Register adds or updates a script's control registration (spec.md
// §4.6). The aggregated ignore mask is recomputed as the union across
// all active registrations (invariant 4).
func (p *Presence) Register(objectID, itemID collab.LocalID, controls, eventMask ControlFlags, accept, passOn bool) {
	effect := EffectFor(accept, passOn)

	p.control.mu.Lock()
	defer p.control.mu.Unlock()

	if p.control.registrations == nil {
		p.control.registrations = make(map[collab.LocalID]controlRegistration)
	}

	if effect == EffectRelease {
		delete(p.control.registrations, itemID)
		p.recomputeIgnoreMaskLocked()
		return
	}

	reg := controlRegistration{
		objectID:  objectID,
		itemID:    itemID,
		eventMask: eventMask,
		emits:     effect == EffectIgnoreAndEmit || effect == EffectPassAndEmit,
	}
	if effect == EffectIgnoreSilent || effect == EffectIgnoreAndEmit {
		reg.ignoreMask = controls
	}
	p.control.registrations[itemID] = reg
	p.recomputeIgnoreMaskLocked()
}

// Unregister removes a script's registration entirely.
func (p *Presence) Unregister(itemID collab.LocalID) {
	p.control.mu.Lock()
	defer p.control.mu.Unlock()
	delete(p.control.registrations, itemID)
	p.recomputeIgnoreMaskLocked()
}

func (p *Presence) recomputeIgnoreMaskLocked() {
	var mask ControlFlags
	for _, reg := range p.control.registrations {
		mask |= reg.ignoreMask
	}
	p.control.ignoreMask = mask
}

// aggregatedIgnoreMask returns the union of all active registrations'
// ignore masks (invariant 4), read by the Motion Controller each tick.
func (p *Presence) aggregatedIgnoreMask() ControlFlags {
	p.control.mu.Lock()
	defer p.control.mu.Unlock()
	return p.control.ignoreMask
}

// IgnoreMask exposes the aggregated ignore mask for tests and callers.
func (p *Presence) IgnoreMask() ControlFlags {
	return p.aggregatedIgnoreMask()
}

// DispatchControlEvents computes allflags as raw control bits unioned
// with latched mouse-button state, and for each registration whose held
// or changed bits (masked by its event_mask) are non-zero, emits a
// control event, per spec.md §4.6. mouseDown/mouseUp update the
// mouse-button latch first.
func (p *Presence) DispatchControlEvents(ctx context.Context, sink ScriptEventSink, raw ControlFlags, mouseDown, mouseUp ControlFlags) error {
	p.control.mu.Lock()
	p.control.latchedMouse |= mouseDown
	p.control.latchedMouse &^= mouseUp
	allFlags := raw | p.control.latchedMouse
	last := p.control.lastCommands
	registrations := make([]controlRegistration, 0, len(p.control.registrations))
	for _, reg := range p.control.registrations {
		if reg.emits {
			registrations = append(registrations, reg)
		}
	}
	p.control.lastCommands = allFlags
	p.control.mu.Unlock()

	if allFlags == last && allFlags == 0 {
		return nil
	}

	for _, reg := range registrations {
		held := allFlags & reg.eventMask
		changed := (allFlags ^ last) & reg.eventMask
		if held != 0 || changed != 0 {
			if err := sink.EmitControlEvent(ctx, reg.itemID, held, changed); err != nil {
				return err
			}
		}
	}
	return nil
}
