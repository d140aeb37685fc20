// Package presence implements the Avatar Presence Core: the
// authoritative server-side state of one user's (or NPC's) avatar
// inside one region, and the components that drive it — lifecycle,
// cross-region transit, motion, sit/stand, parcel visibility, script
// control arbitration, update scheduling, and the physical body
// adapter. The Presence struct owns stable identity and composes
// per-component state types, each guarding its own invariants behind
// its own lock, per the "replace overlapping locks with component-owned
// state" design note: no two components share a mutex. Some operations
// read another component's state (such as the position) while holding
// their own component's lock.
package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"presencecore/collab"
	"presencecore/geom"
)

// Kind distinguishes a human-controlled avatar from a scripted NPC.
type Kind int

const (
	KindHuman Kind = iota
	KindNonPlayerCharacter
)

// AccessLevel is the elevated-access level; 0 is normal, >=200 is god.
type AccessLevel int

const godAccessThreshold AccessLevel = 200

// IsElevated reports whether this access level is treated as "god"
// throughout the visibility and landing-policy rules.
func (a AccessLevel) IsElevated() bool {
	return a >= godAccessThreshold
}

// Presence is the entity: stable identity plus the component-owned
// mutable state enumerated in spec.md §3. Never reused across
// identities — a logout or a failed re-login always gets a fresh
// Presence via the Orchestrator.
type Presence struct {
	// Identity — immutable after construction.
	ID          collab.PresenceID
	FirstName   string
	LastName    string
	Kind        Kind
	SessionID   uuid.UUID
	Access      AccessLevel
	Invulnerable bool

	// Derived configuration. New clamps both to Config's bounds;
	// AgentUpdate and CopyFrom store DrawDistance as given, unclamped.
	DrawDistance       float64
	RegionViewDistance float64

	lifecycle lifecycleState
	transit   transitState
	motion    motionState
	seat      seatState
	parcel    parcelState
	control   controlState
	schedule  scheduleState
	body      bodyState

	// Health is in [0, 100], owned by the Physical Body Adapter (C8).
	healthMu sync.RWMutex
	health   float64
}

// Config bounds the derived fields a Presence is constructed with.
type Config struct {
	MinDrawDistance, MaxDrawDistance float64
	MinRegionView, MaxRegionView     float64
}

// New constructs a Presence in the PreAdd lifecycle state, as an NPC or
// a human, with distances clamped to cfg's bounds (spec.md §3 "Derived").
func New(id collab.PresenceID, firstName, lastName string, kind Kind, sessionID uuid.UUID, access AccessLevel, requestedDrawDistance, requestedRegionView float64, cfg Config) *Presence {
	p := &Presence{
		ID:                 id,
		FirstName:          firstName,
		LastName:           lastName,
		Kind:               kind,
		SessionID:          sessionID,
		Access:             access,
		DrawDistance:       clampF(requestedDrawDistance, cfg.MinDrawDistance, cfg.MaxDrawDistance),
		RegionViewDistance: clampF(requestedRegionView, cfg.MinRegionView, cfg.MaxRegionView),
		health:             100,
	}
	p.lifecycle.state = PreAdd
	p.transit.lastPushTime = time.Time{}
	p.control.ignoreMask = 0
	p.motion.speedModifier = 1.0
	return p
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Name is the display name (spec.md §3 "Derived: name").
func (p *Presence) Name() string {
	return p.FirstName + " " + p.LastName
}

// Health returns the current health in [0, 100].
func (p *Presence) Health() float64 {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health
}

func (p *Presence) setHealth(h float64) {
	if h < 0 {
		h = 0
	}
	if h > 100 {
		h = 100
	}
	p.healthMu.Lock()
	p.health = h
	p.healthMu.Unlock()
}

// IsSatOnObject reports invariant 1's left-hand side: parent_part_id != 0.
func (p *Presence) IsSatOnObject() bool {
	p.seat.mu.RLock()
	defer p.seat.mu.RUnlock()
	return p.seat.parentPartID != 0
}

// Position returns the current absolute position.
func (p *Presence) Position() geom.Vec {
	p.motion.mu.RLock()
	defer p.motion.mu.RUnlock()
	return p.motion.position
}

// BodyRotation returns the current body rotation (world frame when
// standing, seat-relative when sitting — spec.md §3).
func (p *Presence) BodyRotation() geom.Quat {
	p.motion.mu.RLock()
	defer p.motion.mu.RUnlock()
	return p.motion.bodyRotation
}

// HasPhysicalBody reports whether the Physical Body Adapter currently
// holds a live handle (invariant 1 and 2's right-hand side).
func (p *Presence) HasPhysicalBody() bool {
	p.body.mu.RLock()
	defer p.body.mu.RUnlock()
	return p.body.handle != nil && p.body.handle.IsValid()
}

// checkInvariants is a debug helper exercised by tests: it asserts the
// testable invariants in spec.md §8 hold for the current state. It
// panics rather than returning an error, per spec.md §7: "violating an
// invariant is a bug, not a runtime condition."
func (p *Presence) checkInvariants() {
	if p.IsSatOnObject() && p.HasPhysicalBody() {
		panic("invariant violated: IsSatOnObject but PhysicalBody present")
	}
	if p.LifecycleState() == Running && !p.IsChild() && !p.IsSatOnObject() && !p.HasPhysicalBody() {
		panic("invariant violated: Running root standing presence without PhysicalBody")
	}
	if _, self := p.transit.neighbours()[regionHandleSelfSentinel]; self {
		panic("invariant violated: neighbours map contains current region handle")
	}
}

// regionHandleSelfSentinel is never a real neighbour handle;
// UpsertNeighbour refuses it and checkInvariants asserts invariant 5 is
// never violated by accident (a real self-reference would use the actual region handle,
// which components must never insert — see transit.go).
const regionHandleSelfSentinel collab.RegionHandle = 0
