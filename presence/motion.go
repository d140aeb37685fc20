package presence

import (
	"context"
	"math"
	"sync"

	"presencecore/collab"
	"presencecore/geom"
)

// ControlFlags is the client control-flags bitset (spec.md GLOSSARY):
// movement directions, mouse buttons, and modifiers sent each tick.
type ControlFlags uint32

const (
	CtrlAtPos ControlFlags = 1 << iota
	CtrlAtNeg
	CtrlLeftPos
	CtrlLeftNeg
	CtrlUpPos
	CtrlUpNeg
	CtrlNudgeAtPos
	CtrlNudgeAtNeg
	CtrlNudgeLeftPos
	CtrlNudgeLeftNeg
	CtrlNudgeUpPos
	CtrlNudgeUpNeg
	CtrlYawPos
	CtrlYawNeg
	CtrlStop
	CtrlFly
	CtrlMouselook
	CtrlLButtonDown
)

// directionBitOrder aligns the 12 direction control bits with
// geom.ImpulseTable's compile-time ordering.
var directionBitOrder = [12]ControlFlags{
	CtrlAtPos, CtrlAtNeg,
	CtrlLeftPos, CtrlLeftNeg,
	CtrlUpPos, CtrlUpNeg,
	CtrlNudgeAtPos, CtrlNudgeAtNeg,
	CtrlNudgeLeftPos, CtrlNudgeLeftNeg,
	CtrlNudgeUpPos, CtrlNudgeUpNeg,
}

// NumMovementsBetweenRayCast is the per-tick interval at which the
// camera collision ray-cast runs (spec.md §4.3).
const NumMovementsBetweenRayCast = 5

// motionState is C3's component-owned state.
type motionState struct {
	mu sync.RWMutex

	position     geom.Vec
	lastFinite   geom.Vec
	velocity     geom.Vec
	angularVel   geom.Vec
	bodyRotation geom.Quat

	cameraPosition geom.Vec
	cameraUp       geom.Vec
	cameraAt       geom.Vec
	cameraLeft     geom.Vec
	followCamAuto  bool

	cameraPlaneNormal geom.Vec
	cameraPlanePoint  geom.Vec

	bodyPlaneNormal geom.Vec
	bodyPlanePoint  geom.Vec

	movementFlag    ControlFlags // masked-for-motion, currently-held bits
	rawControlFlags ControlFlags // unmasked, saved for scripts
	lastControlFlags ControlFlags
	stopActive      bool

	movingToTarget  bool
	target          geom.Vec
	landAtTarget    bool
	speedModifier   float64
	alwaysRun       bool

	flying     bool
	flyingRoll float64

	forceToApply geom.Vec
	pendingForce bool

	tickCount      int
	doingCamRayCast bool

	fallingAnimation bool
	hovering         bool
	collidingDown    bool
	onGround         bool
}

// AgentUpdateInput is one tick's worth of client input to the Motion
// Controller (spec.md §4.3).
type AgentUpdateInput struct {
	Position       geom.Vec
	CameraPosition geom.Vec
	CameraUp       geom.Vec
	CameraAt       geom.Vec
	CameraLeft     geom.Vec
	DrawDistance   float64
	ControlFlags   ControlFlags
	Mouselook      bool
	StandUpFlag    bool
	ForceFly       bool
	FlyDisabled    bool
}

// MotionDeps bundles the collaborators AgentUpdate needs for the
// single-flighted camera ray-cast (spec.md §4.3: "an async ray-cast from
// adjusted head to camera").
type MotionDeps struct {
	Scene collab.Scene
	Body  BodyDeps
}

// regionCentre is the re-centre point for non-finite positions
// (spec.md §8 boundary behaviour).
var regionCentre = geom.Vec{X: 127, Y: 127, Z: 127}

// AgentUpdate applies one tick of client input. It is documented as
// non-blocking; the camera ray-cast is offloaded and single-flighted via
// doingCamRayCast.
func (p *Presence) AgentUpdate(ctx context.Context, in AgentUpdateInput, deps MotionDeps) error {
	if !isFinite(in.Position) {
		p.motion.mu.Lock()
		last := p.motion.lastFinite
		if last == (geom.Vec{}) {
			last = regionCentre
		}
		p.motion.position = last
		p.motion.mu.Unlock()
		p.reattachAtLastFinite(ctx, last)
		if deps.Body.Physics != nil {
			_ = p.AttachBody(ctx, deps.Body, collab.AvatarShape{}, false)
		}
		return NewError(NonFiniteState, "non-finite position from physics; re-centred", map[string]any{"position": in.Position})
	}

	if p.IsChild() || p.IsInTransit() {
		return nil
	}

	p.motion.mu.Lock()
	p.motion.lastFinite = in.Position
	p.motion.cameraPosition = in.CameraPosition
	p.motion.cameraUp = in.CameraUp
	p.motion.cameraAt = in.CameraAt
	p.motion.cameraLeft = in.CameraLeft
	p.motion.followCamAuto = computeFollowCamAuto(in.CameraUp, in.CameraAt)
	p.DrawDistance = in.DrawDistance

	p.motion.tickCount++
	shouldRayCast := p.motion.tickCount%NumMovementsBetweenRayCast == 0 && !in.Mouselook && !p.motion.doingCamRayCast
	p.motion.mu.Unlock()

	if shouldRayCast && !p.IsSatOnObject() && deps.Scene != nil {
		p.motion.mu.Lock()
		p.motion.doingCamRayCast = true
		p.motion.mu.Unlock()
		go p.runCameraRayCast(ctx, deps.Scene)
	}

	if in.StandUpFlag {
		_ = p.StandUp(ctx)
	}

	p.motion.mu.Lock()
	p.motion.rawControlFlags = in.ControlFlags

	masked := in.ControlFlags &^ p.aggregatedIgnoreMask()

	flying := computeFlying(in.ForceFly, in.FlyDisabled, masked&CtrlFly != 0)
	p.motion.flying = flying

	var impulse geom.Vec
	for i, bit := range directionBitOrder {
		down := masked&bit != 0
		wasDown := p.motion.movementFlag&bit != 0
		if down && !wasDown {
			p.motion.movementFlag |= bit
		} else if !down && wasDown {
			p.motion.movementFlag &^= bit
		}
		if down {
			impulse = geom.Vec{X: impulse.X + geom.ImpulseTable[i].X, Y: impulse.Y + geom.ImpulseTable[i].Y, Z: impulse.Z + geom.ImpulseTable[i].Z}
		}
	}

	stopNow := masked&CtrlStop != 0
	stopTransitioned := stopNow != (p.motion.lastControlFlags&CtrlStop != 0)
	if stopTransitioned {
		p.motion.stopActive = stopNow
	}
	p.motion.lastControlFlags = masked

	anyDirectionDown := masked&directionMask() != 0
	movingToTarget := p.motion.movingToTarget
	target := p.motion.target
	landAtTarget := p.motion.landAtTarget
	position := p.motion.position
	flyingNow := p.motion.flying
	turningLeft := masked&CtrlYawPos != 0
	turningRight := masked&CtrlYawNeg != 0
	upHeld := masked&CtrlUpPos != 0
	downHeld := masked&CtrlUpNeg != 0
	p.motion.mu.Unlock()

	updated := false
	if movingToTarget && anyDirectionDown {
		p.cancelMoveToTarget()
	} else if movingToTarget {
		moveImpulse, snapped := p.applyMoveToTarget(target, position, flyingNow, landAtTarget)
		if snapped {
			updated = true
		} else {
			impulse = geom.Vec{X: impulse.X + moveImpulse.X, Y: impulse.Y + moveImpulse.Y, Z: impulse.Z + moveImpulse.Z}
			updated = true
		}
	}

	p.motion.mu.Lock()
	p.motion.flyingRoll = geom.FlyingRoll(p.motion.flyingRoll, turningLeft, turningRight, upHeld, downHeld)
	p.motion.angularVel.Z = p.motion.flyingRoll
	changed := impulse != (geom.Vec{}) || updated
	rotation := p.motion.bodyRotation
	p.motion.mu.Unlock()

	if changed {
		p.AddNewMovement(rotation, impulse, 1.0, in.Mouselook)
	}

	return nil
}

func directionMask() ControlFlags {
	var m ControlFlags
	for _, b := range directionBitOrder {
		m |= b
	}
	return m
}

func computeFollowCamAuto(up, at geom.Vec) bool {
	return math.Abs(up.Z-0.97) < 0.01 && math.Abs(at.X) < 0.4 && math.Abs(at.Y) < 0.4
}

func computeFlying(forceFly, flyDisabled, clientFlyFlag bool) bool {
	switch {
	case forceFly:
		return true
	case flyDisabled:
		return false
	default:
		return clientFlyFlag
	}
}

func isFinite(v geom.Vec) bool {
	finite := func(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

func (p *Presence) runCameraRayCast(ctx context.Context, scene collab.Scene) {
	defer func() {
		p.motion.mu.Lock()
		p.motion.doingCamRayCast = false
		p.motion.mu.Unlock()
	}()

	p.motion.mu.RLock()
	origin := p.motion.position
	origin.Z += 1.0 // adjusted head offset
	camera := p.motion.cameraPosition
	p.motion.mu.RUnlock()

	direction := geom.Vec{X: camera.X - origin.X, Y: camera.Y - origin.Y, Z: camera.Z - origin.Z}
	contacts, err := scene.RayCast(ctx, origin, direction, 1.0, 4)
	if err != nil {
		return
	}
	for _, c := range contacts {
		if c.Opaque && !c.VolumeDetect {
			p.motion.mu.Lock()
			p.motion.cameraPlaneNormal = geom.RoundCameraPlaneNormal(c.Normal)
			p.motion.cameraPlanePoint = geom.RoundCameraPlanePoint(c.Point)
			p.motion.mu.Unlock()
			return
		}
	}
}

// MoveToTargetTolerance is the default snap tolerance for move-to-target.
const MoveToTargetTolerance = 0.5

// MoveToTarget begins moving this presence toward target.
func (p *Presence) MoveToTarget(target geom.Vec, landAtTarget bool) {
	p.motion.mu.Lock()
	defer p.motion.mu.Unlock()
	p.motion.movingToTarget = true
	p.motion.target = target
	p.motion.landAtTarget = landAtTarget
}

// cancelMoveToTarget clears the move (spec.md §4.3: "cancel the move;
// otherwise apply move-to-target").
func (p *Presence) cancelMoveToTarget() {
	p.motion.mu.Lock()
	p.motion.movingToTarget = false
	p.motion.target = geom.Vec{}
	p.motion.movementFlag &^= directionMask()
	p.motion.mu.Unlock()
}

// applyMoveToTarget implements spec.md §4.3.1. It returns the impulse to
// accumulate and whether the target was reached (snapped).
func (p *Presence) applyMoveToTarget(target, position geom.Vec, flying, landAtTarget bool) (geom.Vec, bool) {
	delta := geom.Vec{X: target.X - position.X, Y: target.Y - position.Y, Z: target.Z - position.Z}

	var distance float64
	if flying && !landAtTarget {
		distance = vecNorm(delta)
	} else {
		h := geom.HorizontalProject(delta)
		distance = vecNorm(h)
	}

	if distance <= MoveToTargetTolerance {
		p.snapToTarget(target, flying, landAtTarget)
		return geom.Vec{}, true
	}

	p.motion.mu.RLock()
	rotation := p.motion.bodyRotation
	p.motion.mu.RUnlock()

	local := geom.RotateVec(geom.Quat{Real: rotation.Real, Imag: -rotation.Imag, Jmag: -rotation.Jmag, Kmag: -rotation.Kmag}, delta)
	local = vecUnit(local)

	p.motion.mu.Lock()
	if local.X > 0 {
		p.motion.movementFlag |= CtrlAtPos
	} else if local.X < 0 {
		p.motion.movementFlag |= CtrlAtNeg
	}
	if local.Y > 0 {
		p.motion.movementFlag |= CtrlLeftPos
	} else if local.Y < 0 {
		p.motion.movementFlag |= CtrlLeftNeg
	}
	p.motion.mu.Unlock()

	return local, false
}

// snapToTarget implements the "snap to target, zero velocity" branch of
// §4.3.1, including the five-consecutive-tick colliding assertion hack.
func (p *Presence) snapToTarget(target geom.Vec, flying, landAtTarget bool) {
	p.motion.mu.Lock()
	p.motion.position = target
	p.motion.velocity = geom.Vec{}
	if landAtTarget {
		p.motion.flying = false
	}
	p.motion.movingToTarget = false
	p.motion.target = geom.Vec{}
	p.motion.movementFlag &^= directionMask()
	p.motion.mu.Unlock()

	if landAtTarget {
		p.assertCollidingForTicks(5)
	}
}

// assertCollidingForTicks is the "mass-like hack" noted in spec.md
// §4.3.1: the physics adapter only believes colliding state after
// repeated assertions. The exact retry count is empirical (spec.md §9
// open question); five is carried as the documented value.
func (p *Presence) assertCollidingForTicks(n int) {
	p.body.mu.Lock()
	p.body.pendingCollidingAssertions = n
	p.body.mu.Unlock()
}

// AddNewMovement implements spec.md §4.3's force-composition rule.
func (p *Presence) AddNewMovement(rotation geom.Quat, vector geom.Vec, scale float64, mouselook bool) {
	v := geom.RotateVec(rotation, vector)
	if mouselook && vector.Z == 0 {
		v.Z = 0
	}

	p.motion.mu.Lock()
	defer p.motion.mu.Unlock()

	v = geom.Vec{
		X: v.X * geom.MovementPostScale * p.motion.speedModifier * scale,
		Y: v.Y * geom.MovementPostScale * p.motion.speedModifier * scale,
		Z: v.Z * geom.MovementPostScale * p.motion.speedModifier * scale,
	}

	switch {
	case p.motion.fallingAnimation && !p.motion.hovering:
		v.Z = -9999
	case p.motion.flying && p.motion.collidingDown:
		v.Z = 0
	case p.motion.flying:
		v.Z *= 4
	case p.motion.onGround && v.Z > 2:
		v.Z *= 2.6
	}

	p.motion.forceToApply = v
	p.motion.pendingForce = true
}

// ConsumeForce returns and clears the force computed by AddNewMovement,
// consumed by the Physical Body Adapter on the next tick (spec.md §4.3).
func (p *Presence) ConsumeForce() (geom.Vec, bool) {
	p.motion.mu.Lock()
	defer p.motion.mu.Unlock()
	if !p.motion.pendingForce {
		return geom.Vec{}, false
	}
	f := p.motion.forceToApply
	p.motion.pendingForce = false
	return f, true
}

// MovementFlag returns the currently-held, masked-for-motion direction bits.
func (p *Presence) MovementFlag() ControlFlags {
	p.motion.mu.RLock()
	defer p.motion.mu.RUnlock()
	return p.motion.movementFlag
}

// RawControlFlags returns the unmasked control flags saved for scripts
// (spec.md §4.3: "Raw control flags are saved for scripts... before
// ignore masking").
func (p *Presence) RawControlFlags() ControlFlags {
	p.motion.mu.RLock()
	defer p.motion.mu.RUnlock()
	return p.motion.rawControlFlags
}

func (p *Presence) resetMovementBitset() {
	p.motion.mu.Lock()
	p.motion.movementFlag = 0
	p.motion.movingToTarget = false
	p.motion.target = geom.Vec{}
	p.motion.mu.Unlock()
}

func vecNorm(v geom.Vec) float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

func vecUnit(v geom.Vec) geom.Vec {
	n := vecNorm(v)
	if n == 0 {
		return geom.Vec{}
	}
	return geom.Vec{X: v.X / n, Y: v.Y / n, Z: v.Z / n}
}
