package presence

import (
	"context"
	"sync"

	"presencecore/collab"
	"presencecore/geom"
)

// seatState is C4's component-owned state: the optional seat linkage
// (parent_object_id, parent_part_id, prev_sit_offset) — a non-zero
// parent_part_id means "sitting" (spec.md §3).
type seatState struct {
	mu sync.RWMutex

	parentObjectID collab.LocalID
	parentPartID   collab.LocalID
	prevSitOffset  geom.Vec

	sitOnGround  bool
	sitAnimation string

	storedBodyRotation geom.Quat
	sitTargetRotation  geom.Quat
}

// SitDeps bundles the collaborators a sit request needs.
type SitDeps struct {
	Scene       collab.Scene
	Physics     collab.PhysicsScene
	LegacyRegion bool // selects the legacy vs. modern sit-offset formula
	AvatarHeight float64
	ScriptSink  LinkChangeSink
}

// LinkChangeSink fires the LINK-changed script event on sit/stand.
type LinkChangeSink interface {
	FireLinkChanged(ctx context.Context, groupID collab.LocalID) error
}

// SitRequest is a request to sit on targetID with the given requested offset.
type SitRequest struct {
	TargetID       collab.LocalID
	RequestedOffset geom.Vec
}

// RequestSit resolves the target to a sit-eligible part and, if one is
// found with an explicit sit target, computes the seat-relative
// position via the region's legacy or modern formula; otherwise it asks
// physics for a sit-on-surface solution, falling back to a geometric
// offset within 10m (spec.md §4.4).
func (p *Presence) RequestSit(ctx context.Context, req SitRequest, deps SitDeps) (collab.SitResponse, error) {
	part, ok := deps.Scene.PartByID(ctx, req.TargetID)
	if !ok {
		return collab.SitResponse{}, NewError(SitRefused, "target part not found", map[string]any{"target": req.TargetID})
	}

	target := p.resolveSitEligiblePart(ctx, deps.Scene, part)

	var offset geom.Vec
	var orientation geom.Quat

	if target.SitTargetSet && target.SitTargetAvatar == "" {
		if deps.LegacyRegion {
			offset = geom.LegacySitOffset(target.SitTargetOffset, target.SitTargetRot)
		} else {
			offset = geom.NonLegacySitOffset(target.SitTargetOffset, target.SitTargetRot, deps.AvatarHeight)
		}
		orientation = target.SitTargetRot
	} else {
		if deps.Physics != nil {
			solvedOffset, solvedOrientation, ok, err := deps.Physics.SitOnSurface(ctx, target.ID, req.RequestedOffset)
			if err == nil && ok {
				offset, orientation = solvedOffset, solvedOrientation
			} else {
				geomOffset, withinRange := geometricSitFallback(p.Position(), target.WorldPosition, req.RequestedOffset)
				if !withinRange {
					return collab.SitResponse{}, NewError(SitRefused, "no suitable sit surface within range", nil)
				}
				offset = geomOffset
			}
		} else {
			geomOffset, withinRange := geometricSitFallback(p.Position(), target.WorldPosition, req.RequestedOffset)
			if !withinRange {
				return collab.SitResponse{}, NewError(SitRefused, "no suitable sit surface within range", nil)
			}
			offset = geomOffset
		}
	}

	p.acceptSit(ctx, target, offset, orientation, deps)

	resp := collab.SitResponse{
		Offset:      offset,
		Orientation: orientation,
	}
	return resp, nil
}

// resolveSitEligiblePart prefers any linked part whose sit-target
// position is set and whose sit-target avatar is empty, preferring the
// selected part first in link-number order; falls back to the clicked
// part if none has an explicit sit target (spec.md §4.4).
func (p *Presence) resolveSitEligiblePart(ctx context.Context, scene collab.Scene, clicked collab.Part) collab.Part {
	if clicked.SitTargetSet && clicked.SitTargetAvatar == "" {
		return clicked
	}
	var best *collab.Part
	for _, part := range scene.PartsInGroup(ctx, clicked.GroupID) {
		if part.SitTargetSet && part.SitTargetAvatar == "" && (best == nil || part.LinkNumber < best.LinkNumber) {
			candidate := part
			best = &candidate
		}
	}
	if best == nil {
		return clicked
	}
	return *best
}

const sitDistanceTolerance = 10.0

func geometricSitFallback(requesterPos, partPos, requestedOffset geom.Vec) (geom.Vec, bool) {
	d := geom.Vec{X: requesterPos.X - partPos.X, Y: requesterPos.Y - partPos.Y, Z: requesterPos.Z - partPos.Z}
	if vecNorm(d) > sitDistanceTolerance {
		return geom.Vec{}, false
	}
	return requestedOffset, true
}

// acceptSit implements the accept-side effects common to both sit paths:
// detach body, cancel move-to-target, zero velocities, register seat
// linkage, set animation, fire LINK-changed (spec.md §4.4).
func (p *Presence) acceptSit(ctx context.Context, part collab.Part, offset geom.Vec, orientation geom.Quat, deps SitDeps) {
	p.detachBody(ctx)
	p.cancelMoveToTarget()

	p.motion.mu.Lock()
	p.motion.velocity = geom.Vec{}
	p.motion.angularVel = geom.Vec{}
	storedRotation := p.motion.bodyRotation
	p.motion.mu.Unlock()

	animation := part.CustomSitAnim
	if animation == "" {
		animation = "SIT"
	}

	p.seat.mu.Lock()
	p.seat.parentObjectID = part.GroupID
	p.seat.parentPartID = part.ID
	p.seat.prevSitOffset = offset
	p.seat.sitOnGround = false
	p.seat.sitAnimation = animation
	p.seat.storedBodyRotation = storedRotation
	p.seat.sitTargetRotation = orientation
	p.seat.mu.Unlock()

	if deps.ScriptSink != nil {
		_ = deps.ScriptSink.FireLinkChanged(ctx, part.GroupID)
	}
}

// SitOnGround is the simpler path: zero angular velocity, detach body,
// set sit_on_ground, sit_animation = SIT_GROUND_CONSTRAINED.
func (p *Presence) SitOnGround(ctx context.Context) {
	p.motion.mu.Lock()
	p.motion.angularVel = geom.Vec{}
	p.motion.mu.Unlock()

	p.detachBody(ctx)

	p.seat.mu.Lock()
	p.seat.parentObjectID = 0
	p.seat.parentPartID = 0
	p.seat.sitOnGround = true
	p.seat.sitAnimation = "SIT_GROUND_CONSTRAINED"
	p.seat.mu.Unlock()
}

// StandUp clears the seat (or sit-on-ground) linkage, unregisters the
// script controls registered by the seat's object, and restores body
// rotation via composeSeatRotation. It does not compute a stand
// position, revoke camera-follow permissions, attach a Physical Body
// (reattachBody is a no-op), fire LINK-changed, or play STAND.
func (p *Presence) StandUp(ctx context.Context) error {
	p.seat.mu.Lock()
	if p.seat.parentPartID == 0 && !p.seat.sitOnGround {
		p.seat.mu.Unlock()
		return nil
	}
	groupID := p.seat.parentObjectID
	stored := p.seat.storedBodyRotation
	sitTargetRot := p.seat.sitTargetRotation
	p.seat.parentObjectID = 0
	p.seat.parentPartID = 0
	p.seat.sitOnGround = false
	p.seat.sitAnimation = ""
	p.seat.mu.Unlock()

	p.control.mu.Lock()
	for id, reg := range p.control.registrations {
		if reg.objectID == groupID {
			delete(p.control.registrations, id)
		}
	}
	p.recomputeIgnoreMaskLocked()
	p.control.mu.Unlock()

	restored := composeSeatRotation(sitTargetRot, stored)
	p.motion.mu.Lock()
	p.motion.bodyRotation = restored
	p.motion.mu.Unlock()

	p.reattachBody(ctx)

	return nil
}

// composeSeatRotation returns the sit-target orientation when it is
// non-zero, else the stored body rotation. The seat's own rotation is
// not composed into the result.
func composeSeatRotation(sitTargetOrientation, storedBodyRotation geom.Quat) geom.Quat {
	if sitTargetOrientation != (geom.Quat{}) {
		return sitTargetOrientation
	}
	return storedBodyRotation
}

// StandPosition computes the world-space stand position: seat world
// position + rotation applied to (0.75, 0, sitAvatarHeight+0.3)
// (spec.md §4.4).
func StandPosition(seatWorldPosition geom.Vec, seatRotation geom.Quat, sitAvatarHeight float64) geom.Vec {
	offset := geom.StandExtractionOffset(seatRotation, sitAvatarHeight)
	return geom.Vec{X: seatWorldPosition.X + offset.X, Y: seatWorldPosition.Y + offset.Y, Z: seatWorldPosition.Z + offset.Z}
}

// IsSitting returns parentPartID != 0 || sitOnGround.
func (p *Presence) IsSitting() bool {
	p.seat.mu.RLock()
	defer p.seat.mu.RUnlock()
	return p.seat.parentPartID != 0 || p.seat.sitOnGround
}

// SitAnimation returns the currently set sit animation name.
func (p *Presence) SitAnimation() string {
	p.seat.mu.RLock()
	defer p.seat.mu.RUnlock()
	return p.seat.sitAnimation
}
