package presence

import (
	"context"
	"math/rand"

	"presencecore/collab"
	"presencecore/geom"
)

// LandingRequest is the input to a LandingPolicy's redirection decision
// (spec.md §4.9).
type LandingRequest struct {
	Requester        collab.PresenceID
	RequesterAccess  AccessLevel
	Position         geom.Vec
	LookAt           geom.Vec
	TeleportFlags    TeleportFlags
	DirectTeleportAllowed bool
	Telehub          *Telehub
	Parcel           collab.Parcel
}

// LandingDecision is what a LandingPolicy resolved to.
type LandingDecision struct {
	Position  geom.Vec
	LookAt    geom.Vec
	Redirected bool
}

// LandingPolicy chooses where an arriving avatar actually lands —
// telehub routing and landing-point redirection (spec.md §4.9, two
// variants). Neither variant checks estate bans for the arrival
// position; a Telehub's Permitted checker applies only to its spawn
// points.
type LandingPolicy interface {
	Resolve(ctx context.Context, req LandingRequest) (LandingDecision, error)
}

func arrivedViaRedirectableFlags(flags TeleportFlags) bool {
	return flags&(TeleportViaLogin|TeleportViaLandmark|TeleportViaLocation|TeleportViaHGLogin) != 0
}

// PermissivePolicy is the first landing-policy variant (spec.md §4.9):
// applies telehub routing only when a telehub exists and direct
// teleport is estate-disallowed; otherwise redirects to a non-zero
// landing-point user-location on login/landmark/location/HG-login
// arrivals, unless the requester is the parcel owner or elevated. It
// makes no estate ban check, has no map-arrival flag to match, and does
// not exempt estate managers.
type PermissivePolicy struct{}

func (PermissivePolicy) Resolve(ctx context.Context, req LandingRequest) (LandingDecision, error) {
	if req.Telehub != nil && !req.DirectTeleportAllowed {
		pos, err := req.Telehub.Route(ctx)
		if err != nil {
			return LandingDecision{}, err
		}
		return LandingDecision{Position: pos, Redirected: true}, nil
	}

	if req.Parcel.LandingType == collab.LandingPoint && req.Parcel.UserLocation != (geom.Vec{}) {
		isOwnerOrElevated := req.Parcel.OwnerID == req.Requester || req.RequesterAccess.IsElevated()
		if !isOwnerOrElevated && arrivedViaRedirectableFlags(req.TeleportFlags) {
			return LandingDecision{Position: req.Parcel.UserLocation, LookAt: req.Parcel.UserLookAt, Redirected: true}, nil
		}
	}

	return LandingDecision{Position: req.Position, LookAt: req.LookAt}, nil
}

// StrictPolicy is the second variant: never redirects elevated-access
// users; always applies telehub routing when direct teleport is
// disallowed; applies landing-point redirection on the same arrival
// flags; additionally respects a non-zero user-look-at (spec.md §4.9).
type StrictPolicy struct{}

func (StrictPolicy) Resolve(ctx context.Context, req LandingRequest) (LandingDecision, error) {
	if req.RequesterAccess.IsElevated() {
		return LandingDecision{Position: req.Position, LookAt: req.LookAt}, nil
	}

	if !req.DirectTeleportAllowed {
		if req.Telehub != nil {
			pos, err := req.Telehub.Route(ctx)
			if err != nil {
				return LandingDecision{}, err
			}
			return LandingDecision{Position: pos, Redirected: true}, nil
		}
	}

	if req.Parcel.LandingType == collab.LandingPoint && req.Parcel.UserLocation != (geom.Vec{}) && arrivedViaRedirectableFlags(req.TeleportFlags) {
		lookAt := req.LookAt
		if req.Parcel.UserLookAt != (geom.Vec{}) {
			lookAt = req.Parcel.UserLookAt
		}
		return LandingDecision{Position: req.Parcel.UserLocation, LookAt: lookAt, Redirected: true}, nil
	}

	return LandingDecision{Position: req.Position, LookAt: req.LookAt}, nil
}

// TelehubMode selects how Telehub.Route picks among spawn points
// (spec.md §4.9).
type TelehubMode int

const (
	TelehubRandom TelehubMode = iota
	TelehubSequence
	TelehubClosest
)

// LandPermissionChecker reports whether a position is permitted for an
// arriving avatar (ban check via the land channel).
type LandPermissionChecker func(ctx context.Context, position geom.Vec) bool

// Telehub is a region-scoped object overriding arrival coordinates to a
// set of spawn points (spec.md GLOSSARY).
type Telehub struct {
	Mode        TelehubMode
	SpawnPoints []geom.Vec
	Permitted   LandPermissionChecker

	sequenceIdx int
	target      geom.Vec // used only for TelehubClosest
}

// Route chooses a spawn point per Mode (spec.md §4.9):
//   - random: sample without replacement, accepting the first whose
//     land permits the avatar; falls through to sequence on exhaustion.
//   - sequence: iterate in configured order.
//   - closest: pick the spawn point with the smallest squared distance
//     to the requested position whose land permits the avatar.
func (t *Telehub) Route(ctx context.Context) (geom.Vec, error) {
	if len(t.SpawnPoints) == 0 {
		return geom.Vec{}, NewError(LandingDenied, "telehub has no spawn points", nil)
	}

	switch t.Mode {
	case TelehubRandom:
		if pos, ok := t.routeRandom(ctx); ok {
			return pos, nil
		}
		fallthrough
	case TelehubSequence:
		return t.routeSequence(ctx)
	case TelehubClosest:
		return t.routeClosest(ctx)
	default:
		return t.routeSequence(ctx)
	}
}

func (t *Telehub) routeRandom(ctx context.Context) (geom.Vec, bool) {
	order := rand.Perm(len(t.SpawnPoints))
	for _, idx := range order {
		pos := t.SpawnPoints[idx]
		if t.Permitted == nil || t.Permitted(ctx, pos) {
			return pos, true
		}
	}
	return geom.Vec{}, false
}

func (t *Telehub) routeSequence(ctx context.Context) (geom.Vec, error) {
	for i := 0; i < len(t.SpawnPoints); i++ {
		idx := (t.sequenceIdx + i) % len(t.SpawnPoints)
		pos := t.SpawnPoints[idx]
		if t.Permitted == nil || t.Permitted(ctx, pos) {
			t.sequenceIdx = (idx + 1) % len(t.SpawnPoints)
			return pos, nil
		}
	}
	return geom.Vec{}, NewError(LandingDenied, "no telehub spawn point permitted", nil)
}

func (t *Telehub) routeClosest(ctx context.Context) (geom.Vec, error) {
	best := -1
	bestDistSq := 0.0
	for i, pos := range t.SpawnPoints {
		if t.Permitted != nil && !t.Permitted(ctx, pos) {
			continue
		}
		d := vecNormSq(vecSub(pos, t.target))
		if best == -1 || d < bestDistSq {
			best = i
			bestDistSq = d
		}
	}
	if best == -1 {
		return geom.Vec{}, NewError(LandingDenied, "no telehub spawn point permitted", nil)
	}
	return t.SpawnPoints[best], nil
}

// SetClosestTarget records the requested position used by TelehubClosest.
func (t *Telehub) SetClosestTarget(pos geom.Vec) {
	t.target = pos
}
