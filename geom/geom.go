// Package geom supplies the vector/quaternion helpers the Motion
// Controller and Sit/Stand Controller need on top of gonum's spatial
// types: horizontal projection, region clamping, the 12-entry direction
// impulse table, and the flying-roll/sit-offset constants from the
// protocol constants table.
package geom

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Vec and Quat alias the gonum types this package and its callers share,
// so presence/* code never has to import gonum directly.
type Vec = r3.Vec
type Quat = quat.Number

// Protocol constants (spec.md §6, bit-exact).
const (
	DirectionImpulseMagnitude = 1.0
	MovementPostScale         = 0.03 * 128 // 3.84

	FlyingRollMax          = 1.1
	FlyingRollAccumulation = 0.06
	FlyingRollRelax        = 0.02

	SitTargetVerticalAdjustment = 0.4
	StandExtractionForward      = 0.75

	LegacySitScaleNumerator = 0.05
	NonLegacySitHeightScale = 0.02638
)

// Direction is a closed enum of the 12 direction bits named in spec.md
// §4.3 ("12-entry direction impulse table is a compile-time constant").
type Direction int

const (
	DirAtPos Direction = iota
	DirAtNeg
	DirLeftPos
	DirLeftNeg
	DirUpPos
	DirUpNeg
	DirAtNudgePos
	DirAtNudgeNeg
	DirLeftNudgePos
	DirLeftNudgeNeg
	DirUpNudgePos
	DirUpNudgeNeg
	numDirections
)

// ImpulseTable is the compile-time 12-entry table of unit impulses: six
// primary (±X, ±Y, ±Z) at nominal speed, six nudges at the same
// magnitude, all in avatar-local frame (X = forward, Y = left, Z = up).
var ImpulseTable = [numDirections]Vec{
	DirAtPos:        {X: DirectionImpulseMagnitude},
	DirAtNeg:        {X: -DirectionImpulseMagnitude},
	DirLeftPos:      {Y: DirectionImpulseMagnitude},
	DirLeftNeg:      {Y: -DirectionImpulseMagnitude},
	DirUpPos:        {Z: DirectionImpulseMagnitude},
	DirUpNeg:        {Z: -DirectionImpulseMagnitude},
	DirAtNudgePos:   {X: DirectionImpulseMagnitude},
	DirAtNudgeNeg:   {X: -DirectionImpulseMagnitude},
	DirLeftNudgePos: {Y: DirectionImpulseMagnitude},
	DirLeftNudgeNeg: {Y: -DirectionImpulseMagnitude},
	DirUpNudgePos:   {Z: DirectionImpulseMagnitude},
	DirUpNudgeNeg:   {Z: -DirectionImpulseMagnitude},
}

// HorizontalProject zeroes the Z component, used when a full-3D velocity
// needs to become a "look vector" candidate or a move-to-target distance
// needs to ignore height.
func HorizontalProject(v Vec) Vec {
	return Vec{X: v.X, Y: v.Y, Z: 0}
}

// ClampToRegion clamps position into the standard region bounds: 0.5 to
// size-0.5 on each horizontal axis (spec.md §4.2 step 4).
func ClampToRegion(pos Vec, sizeX, sizeY float64) Vec {
	return Vec{
		X: clamp(pos.X, 0.5, sizeX-0.5),
		Y: clamp(pos.Y, 0.5, sizeY-0.5),
		Z: pos.Z,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RotateVec rotates v by q, using the standard q·v·q⁻¹ sandwich with v
// lifted to a pure quaternion.
func RotateVec(q Quat, v Vec) Vec {
	qn := normalizeQuat(q)
	p := quat.Number{Real: 0, Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(qn, p), quat.Conj(qn))
	return Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

func normalizeQuat(q Quat) Quat {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Number{Real: q.Real / n, Imag: q.Imag / n, Jmag: q.Jmag / n, Kmag: q.Kmag / n}
}

// Up returns the quaternion's local +Z axis rotated into world space
// (R·ẑ in spec.md §6's sit-offset formulas).
func Up(q Quat) Vec {
	return RotateVec(q, Vec{Z: 1})
}

// QuatNormSquared is |R|² for the legacy sit-offset scale term.
func QuatNormSquared(q Quat) float64 {
	return q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag
}

// LegacySitOffset implements the legacy-region sit-target formula:
// up = R·ẑ, scale by 0.05/|R|², subtract from the sit position, then add
// (0, 0, 0.4).
func LegacySitOffset(sitPos Vec, orientation Quat) Vec {
	up := Up(orientation)
	normSq := QuatNormSquared(orientation)
	if normSq == 0 {
		normSq = 1
	}
	scaled := r3.Scale(LegacySitScaleNumerator/normSq, up)
	adjusted := r3.Sub(sitPos, scaled)
	adjusted.Z += SitTargetVerticalAdjustment
	return adjusted
}

// NonLegacySitOffset implements the non-legacy formula: normalise R,
// up = R·ẑ, scale by 0.02638·avatarHeight, add to the sit position, add
// (0, 0, 0.4).
func NonLegacySitOffset(sitPos Vec, orientation Quat, avatarHeight float64) Vec {
	up := Up(normalizeQuat(orientation))
	scaled := r3.Scale(NonLegacySitHeightScale*avatarHeight, up)
	adjusted := r3.Add(sitPos, scaled)
	adjusted.Z += SitTargetVerticalAdjustment
	return adjusted
}

// StandExtractionOffset is the seat-frame offset an avatar is moved to
// on stand-up: (0.75, 0, sitHeight+0.3), rotated into world space by the
// seat's z-planar (yaw-only) rotation.
func StandExtractionOffset(seatRotation Quat, sitHeight float64) Vec {
	local := Vec{X: StandExtractionForward, Y: 0, Z: sitHeight + 0.3}
	return RotateVec(ZPlanar(seatRotation), local)
}

// ZPlanar projects a quaternion onto a yaw-only (Z-axis) rotation,
// discarding pitch/roll — used when composing sit offsets "in the
// seat's z-planar rotation frame" (spec.md §6).
func ZPlanar(q Quat) Quat {
	// Extract yaw from the quaternion assuming XYZ Euler convention, then
	// rebuild a pure-yaw quaternion.
	yaw := math.Atan2(2*(q.Real*q.Kmag+q.Imag*q.Jmag), 1-2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag))
	return quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
}

// RoundCameraPlaneNormal rounds a camera-collision-plane normal to 2
// decimal places (spec.md §6).
func RoundCameraPlaneNormal(v Vec) Vec {
	return Vec{X: round(v.X, 2), Y: round(v.Y, 2), Z: round(v.Z, 2)}
}

// RoundCameraPlanePoint rounds a camera-collision-plane point to 1
// decimal place (spec.md §6).
func RoundCameraPlanePoint(v Vec) Vec {
	return Vec{X: round(v.X, 1), Y: round(v.Y, 1), Z: round(v.Z, 1)}
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

// FlyingRoll accumulates or relaxes angular_velocity.z for the
// flying-roll effect (spec.md §4.3.2): turning accumulates toward
// ±FlyingRollMax at FlyingRollAccumulation per tick; no turn input
// relaxes toward zero at FlyingRollRelax per tick.
func FlyingRoll(current float64, turningLeft, turningRight, upHeld, downHeld bool) float64 {
	switch {
	case turningLeft && !turningRight:
		current += rollStep(upHeld, downHeld)
	case turningRight && !turningLeft:
		current -= rollStep(upHeld, downHeld)
	default:
		current = relaxToward(current, 0, FlyingRollRelax)
		return clamp(current, -FlyingRollMax, FlyingRollMax)
	}
	return clamp(current, -FlyingRollMax, FlyingRollMax)
}

// rollStep returns the per-tick roll accumulation, asymmetrically
// adjusted when up/down is held simultaneously with a turn.
func rollStep(upHeld, downHeld bool) float64 {
	switch {
	case upHeld:
		return FlyingRollAccumulation * 1.5
	case downHeld:
		return FlyingRollAccumulation * 0.5
	default:
		return FlyingRollAccumulation
	}
}

func relaxToward(v, target, step float64) float64 {
	if v > target {
		return math.Max(target, v-step)
	}
	if v < target {
		return math.Min(target, v+step)
	}
	return target
}

// IsOutsideView reports whether a neighbour region at relative offset
// (dx, dy) in meters falls outside the view rectangle implied by the
// source and destination draw distances — the "standard is-outside-view
// predicate" referenced in spec.md §4.2's neighbour bookkeeping.
func IsOutsideView(dx, dy, sourceDrawDistance, destDrawDistance float64) bool {
	limit := math.Max(sourceDrawDistance, destDrawDistance)
	return math.Abs(dx) > limit || math.Abs(dy) > limit
}
