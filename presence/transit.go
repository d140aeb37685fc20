package presence

import (
	"context"
	"math"
	"sync"
	"time"

	"presencecore/collab"
	"presencecore/geom"
)

// TeleportFlags is the observable teleport-flags bitset (spec.md §6).
type TeleportFlags uint32

const (
	TeleportDefault TeleportFlags = 1 << iota
	TeleportViaLure
	TeleportViaLogin
	TeleportViaHGLogin
	TeleportViaLocation
	TeleportViaRegionID
	TeleportViaLandmark
)

// NeighbourInfo is one entry of the neighbours map: seed capability
// endpoint plus the neighbour region's size (spec.md §3).
type NeighbourInfo struct {
	SeedEndpoint string
	SizeX, SizeY float64
}

// transitState is C2's component-owned state.
type transitState struct {
	mu sync.RWMutex

	originRegionID  string // empty sentinel until peer confirms
	callbackURI     string
	teleportFlags   TeleportFlags
	doNotCloseAfterTeleport bool

	neighbourMap map[collab.RegionHandle]NeighbourInfo

	lastPushPosition geom.Vec
	lastPushTime     time.Time
	busy             bool

	childUpdateGateOpenAt time.Time
}

func (t *transitState) neighbours() map[collab.RegionHandle]NeighbourInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[collab.RegionHandle]NeighbourInfo, len(t.neighbourMap))
	for k, v := range t.neighbourMap {
		out[k] = v
	}
	return out
}

// HandshakePollInterval and HandshakeMaxAttempts implement the bounded
// wait for origin_region_id (spec.md §4.2 step 1: "≈10s in 200ms polls").
const (
	HandshakePollInterval = 200 * time.Millisecond
	HandshakeMaxAttempts  = 50
)

// ChildUpdateGateGrace is the grace period after arrival before the
// child-update gate opens (spec.md §4.2 step 6).
const ChildUpdateGateGrace = 10 * time.Second

// CompleteMovementDeps bundles the collaborators CompleteMovement needs.
type CompleteMovementDeps struct {
	Scene       collab.Scene
	Physics     collab.PhysicsScene
	Transfer    collab.TransferModule
	Body        BodyDeps
	Landing     LandingPolicy
}

// CompleteMovementInput is the inbound hand-off request.
type CompleteMovementInput struct {
	IsNPC            bool
	IsRealLogin      bool
	DeclaredPosition geom.Vec
	Flying           bool
	ClientLook       geom.Vec // zero if not sent
	LastVelocity     geom.Vec
	TeleportFlags    TeleportFlags
	CallbackURI      string
	RegionSizeX      float64
	RegionSizeY      float64
	GroundHeight     float64
	AvatarHalfHeight float64
}

// CompleteMovement implements the inbound hand-off (spec.md §4.2).
func (p *Presence) CompleteMovement(ctx context.Context, in CompleteMovementInput, deps CompleteMovementDeps) error {
	if !in.IsNPC && !in.IsRealLogin {
		if err := p.waitForOriginRegion(ctx); err != nil {
			return err
		}
	}

	look := landingLookVector(in.ClientLook, in.LastVelocity)

	if err := p.MakeRoot(); err != nil {
		if e, ok := err.(*Error); ok && e.Kind == AlreadyRoot {
			return nil
		}
		return err
	}

	p.motion.mu.Lock()
	p.motion.bodyRotation = lookToRotation(look)
	p.motion.flying = in.Flying
	p.motion.mu.Unlock()

	position := in.DeclaredPosition
	if deps.Landing != nil {
		decision, err := deps.Landing.Resolve(ctx, LandingRequest{
			Requester:       p.ID,
			RequesterAccess: p.Access,
			Position:        position,
			LookAt:          look,
			TeleportFlags:   in.TeleportFlags,
		})
		if err != nil {
			return err
		}
		position = decision.Position
	}

	position = geom.ClampToRegion(position, in.RegionSizeX, in.RegionSizeY)
	position.Z = in.GroundHeight + in.AvatarHalfHeight

	if teleportIsLocationBased(in.TeleportFlags) && deps.Scene != nil {
		if probed, ok := probeLandingSurface(ctx, deps.Scene, position); ok {
			position = probed
		}
	}

	p.motion.mu.Lock()
	p.motion.position = position
	if !teleportIsSimpleTeleport(in.TeleportFlags) {
		p.motion.velocity = geom.Vec{}
		p.motion.cameraPosition = position
	}
	p.motion.mu.Unlock()

	if err := p.AttachBody(ctx, deps.Body, collab.AvatarShape{}, in.Flying); err != nil {
		return err
	}

	if deps.Transfer != nil {
		neighbours := p.neighbourHandles()
		_ = deps.Transfer.EnableChildAgents(ctx, p.ID, neighbours)
	}

	p.transit.mu.Lock()
	p.transit.childUpdateGateOpenAt = time.Now().Add(ChildUpdateGateGrace)
	callback := p.transit.callbackURI
	p.transit.callbackURI = ""
	p.transit.mu.Unlock()

	if callback != "" && deps.Transfer != nil {
		_ = deps.Transfer.ReleaseAgent(ctx, callback)
	}

	return nil
}

func (p *Presence) waitForOriginRegion(ctx context.Context) error {
	for attempt := 0; attempt < HandshakeMaxAttempts; attempt++ {
		p.transit.mu.RLock()
		origin := p.transit.originRegionID
		p.transit.mu.RUnlock()
		if origin != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return WrapError(PeerHandshakeTimeout, "context cancelled waiting for origin region", ctx.Err())
		case <-time.After(HandshakePollInterval):
		}
	}
	return NewError(PeerHandshakeTimeout, "origin region never confirmed", nil)
}

// SetOriginRegionID is called by UpdateAgent once the peer confirms.
func (p *Presence) SetOriginRegionID(id string) {
	p.transit.mu.Lock()
	p.transit.originRegionID = id
	p.transit.mu.Unlock()
}

// SetCallbackURI records the peer's release callback.
func (p *Presence) SetCallbackURI(uri string) {
	p.transit.mu.Lock()
	p.transit.callbackURI = uri
	p.transit.mu.Unlock()
}

func landingLookVector(clientLook, velocity geom.Vec) geom.Vec {
	if clientLook != (geom.Vec{}) {
		return clientLook
	}
	h := geom.HorizontalProject(velocity)
	if h != (geom.Vec{}) {
		return vecUnit(h)
	}
	return geom.Vec{X: 1}
}

func lookToRotation(look geom.Vec) geom.Quat {
	// Yaw-only rotation facing `look` in the XY plane.
	yaw := 0.0
	if look.X != 0 || look.Y != 0 {
		yaw = math.Atan2(look.Y, look.X)
	}
	return geom.Quat{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
}

func teleportIsLocationBased(flags TeleportFlags) bool {
	return flags&(TeleportViaLocation|TeleportViaLandmark|TeleportViaLogin|TeleportViaHGLogin|TeleportViaRegionID) != 0
}

func teleportIsSimpleTeleport(flags TeleportFlags) bool {
	return flags == TeleportDefault
}

// Landing-surface ray-cast constants (spec.md §6).
const (
	LandingRayCastMaxHeight    = 600.0
	LandingRayCastGroundMargin = 100.0
	LandingRayCastMaxHits      = 30
	LandingRayCastMinGap       = 50.0
)

func probeLandingSurface(ctx context.Context, scene collab.Scene, position geom.Vec) (geom.Vec, bool) {
	groundHeight, err := scene.GroundHeight(ctx, position.X, position.Y)
	if err != nil {
		return position, false
	}
	testHeight := groundHeight + LandingRayCastGroundMargin
	if testHeight > LandingRayCastMaxHeight {
		testHeight = LandingRayCastMaxHeight
	}
	origin := geom.Vec{X: position.X, Y: position.Y, Z: testHeight}
	contacts, err := scene.RayCast(ctx, origin, geom.Vec{Z: -1}, testHeight-groundHeight, LandingRayCastMaxHits)
	if err != nil || len(contacts) == 0 {
		return position, false
	}

	var lastDepth float64 = -1
	for _, c := range contacts {
		if lastDepth >= 0 && (c.Distance-lastDepth) < LandingRayCastMinGap {
			continue
		}
		lastDepth = c.Distance
		result := position
		result.Z = c.Point.Z
		return result, true
	}
	return position, false
}

// CrossToNewRegion implements the outbound hand-off on each heartbeat
// (spec.md §4.2): predict position + 0.1*velocity; if still inside,
// return; otherwise invoke transfer; on refusal, reflect and zero
// velocity.
func (p *Presence) CrossToNewRegion(ctx context.Context, regionSizeX, regionSizeY float64, destination collab.RegionHandle, transfer collab.TransferModule) error {
	p.motion.mu.RLock()
	position := p.motion.position
	velocity := p.motion.velocity
	p.motion.mu.RUnlock()

	predicted := geom.Vec{
		X: position.X + 0.1*velocity.X,
		Y: position.Y + 0.1*velocity.Y,
		Z: position.Z + 0.1*velocity.Z,
	}

	if isInsideRegion(predicted, regionSizeX, regionSizeY) {
		return nil
	}

	if transfer == nil {
		return nil
	}

	err := transfer.CrossAgentToRegion(ctx, p.ID, destination, predicted)
	if err != nil {
		reflected := reflectInsideBorder(position, velocity, regionSizeX, regionSizeY)
		p.motion.mu.Lock()
		p.motion.position = reflected
		p.motion.velocity = geom.Vec{}
		p.motion.mu.Unlock()
		return WrapError(CrossRejected, "peer refused hand-off", err)
	}

	p.MakeChild()
	return nil
}

func isInsideRegion(pos geom.Vec, sizeX, sizeY float64) bool {
	return pos.X >= 0 && pos.X <= sizeX && pos.Y >= 0 && pos.Y <= sizeY
}

func reflectInsideBorder(position, velocity geom.Vec, sizeX, sizeY float64) geom.Vec {
	reflected := geom.Vec{
		X: position.X + 2*velocity.X,
		Y: position.Y + 2*velocity.Y,
		Z: position.Z,
	}
	return geom.ClampToRegion(reflected, sizeX, sizeY)
}

// UpsertNeighbour adds or updates a neighbour entry. It is the caller's
// responsibility to never pass this region's own handle (invariant 5);
// UpsertNeighbour defends the invariant by refusing handle 0, the
// reserved self sentinel.
func (p *Presence) UpsertNeighbour(handle collab.RegionHandle, info NeighbourInfo) {
	if handle == regionHandleSelfSentinel {
		return
	}
	p.transit.mu.Lock()
	if p.transit.neighbourMap == nil {
		p.transit.neighbourMap = make(map[collab.RegionHandle]NeighbourInfo)
	}
	p.transit.neighbourMap[handle] = info
	p.transit.mu.Unlock()
}

// DropNeighbour removes a neighbour entry unconditionally.
func (p *Presence) DropNeighbour(handle collab.RegionHandle) {
	p.transit.mu.Lock()
	delete(p.transit.neighbourMap, handle)
	p.transit.mu.Unlock()
}

func (p *Presence) neighbourHandles() []collab.RegionHandle {
	p.transit.mu.RLock()
	defer p.transit.mu.RUnlock()
	out := make([]collab.RegionHandle, 0, len(p.transit.neighbourMap))
	for h := range p.transit.neighbourMap {
		out = append(out, h)
	}
	return out
}

// OutOfViewNeighbours computes the set of neighbours that fall outside
// the new view rectangle using the standard is-outside-view predicate,
// given this presence's new draw distance (spec.md §4.2).
func (p *Presence) OutOfViewNeighbours(regionHandleOffsets map[collab.RegionHandle][2]float64, sourceDrawDistance, destDrawDistance float64) []collab.RegionHandle {
	var out []collab.RegionHandle
	for handle := range p.transit.neighbours() {
		offset, ok := regionHandleOffsets[handle]
		if !ok {
			continue
		}
		if geom.IsOutsideView(offset[0], offset[1], sourceDrawDistance, destDrawDistance) {
			out = append(out, handle)
		}
	}
	return out
}

// CloseOutOfViewNeighbours requests the grid service close the
// child-agent connection for every out-of-view neighbour, with a
// bearer session token for authentication (spec.md §4.2). Failures are
// logged by the caller and the entry is removed locally regardless
// (NeighbourCloseFailed is best-effort).
func (p *Presence) CloseOutOfViewNeighbours(ctx context.Context, grid collab.GridService, bearerToken string, handles []collab.RegionHandle) []error {
	var errs []error
	for _, h := range handles {
		if grid != nil {
			if err := grid.CloseChildAgent(ctx, h, p.ID, bearerToken); err != nil {
				errs = append(errs, WrapError(NeighbourCloseFailed, "neighbour close failed", err))
			}
		}
		p.DropNeighbour(h)
	}
	return errs
}

func (p *Presence) resetTeleportFlags() {
	p.transit.mu.Lock()
	p.transit.teleportFlags = 0
	p.transit.doNotCloseAfterTeleport = false
	p.transit.mu.Unlock()
}
