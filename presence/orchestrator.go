package presence

import (
	"context"
	"time"

	"presencecore/collab"
	"presencecore/geom"
)

// Deps bundles every collaborator the Orchestrator composes C1-C8
// through. It is the concrete realization of spec.md §6's collaborator
// list; nil fields are tolerated by individual components (treated as
// "no-op" collaborators), so tests can wire only what a scenario needs.
type Deps struct {
	Scene       collab.Scene
	Physics     collab.PhysicsScene
	ClientSink  collab.ClientSink
	Transfer    collab.TransferModule
	Grid        collab.GridService
	Attachments collab.AttachmentModule
	Land        collab.LandChannel

	Landing  LandingPolicy
	Worker   AsyncTaskSubmitter
	Scripts  CollisionScriptSink
	Audio    CollisionAudioSink
	Movement MovementEventSink
	Reprior  ReprioritiseSink

	BearerToken string

	RegionSizeX, RegionSizeY float64
	AvatarHalfHeight         float64
	AvatarHeight             float64
	LegacySitRegion          bool

	ReprioritiseInterval  time.Duration
	ReprioritiseDistance  float64
}

// Orchestrator owns one Presence's entity identity and composes C1-C8,
// exposing the public contract a region process drives (spec.md §4.9/C9).
type Orchestrator struct {
	Presence *Presence
	Deps     Deps
}

// NewOrchestrator constructs an Orchestrator for an already-built Presence.
func NewOrchestrator(p *Presence, deps Deps) *Orchestrator {
	return &Orchestrator{Presence: p, Deps: deps}
}

func (o *Orchestrator) bodyDeps() BodyDeps {
	return BodyDeps{
		Physics:     o.Deps.Physics,
		LandChannel: o.Deps.Land,
		Audio:       o.Deps.Audio,
		Scripts:     o.Deps.Scripts,
	}
}

// Join adds the presence to the region for the first time, as a child
// agent, promoting the lifecycle to Running (spec.md §3 "Lifecycle").
func (o *Orchestrator) Join(ctx context.Context) error {
	if err := o.Presence.Advance(Running); err != nil {
		return err
	}
	o.Presence.MakeChild()
	return nil
}

// CompleteMovement promotes the presence to root, attaching it to this
// region's physics and collaborators (spec.md §4.2 inbound).
func (o *Orchestrator) CompleteMovement(ctx context.Context, in CompleteMovementInput) error {
	in.RegionSizeX = nonZero(in.RegionSizeX, o.Deps.RegionSizeX)
	in.RegionSizeY = nonZero(in.RegionSizeY, o.Deps.RegionSizeY)
	if in.AvatarHalfHeight == 0 {
		in.AvatarHalfHeight = o.Deps.AvatarHalfHeight
	}

	deps := CompleteMovementDeps{
		Scene:    o.Deps.Scene,
		Physics:  o.Deps.Physics,
		Transfer: o.Deps.Transfer,
		Body:     o.bodyDeps(),
		Landing:  o.Deps.Landing,
	}
	return o.Presence.CompleteMovement(ctx, in, deps)
}

func nonZero(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}

// TeleportRequest is a local (within-region) teleport request.
type TeleportRequest struct {
	Position      geom.Vec
	LookAt        geom.Vec
	TeleportFlags TeleportFlags
	Parcel        collab.Parcel
	Telehub       *Telehub
	DirectTeleportAllowed bool
}

// Teleport resolves a local teleport through the landing policy, clamps
// and raises the result, and sends a local-teleport message to the
// client; LandingDenied aborts with an alert (spec.md §4.9).
func (o *Orchestrator) Teleport(ctx context.Context, req TeleportRequest) error {
	var decision LandingDecision
	if o.Deps.Landing != nil {
		var err error
		decision, err = o.Deps.Landing.Resolve(ctx, LandingRequest{
			Requester:             o.Presence.ID,
			RequesterAccess:       o.Presence.Access,
			Position:              req.Position,
			LookAt:                req.LookAt,
			TeleportFlags:         req.TeleportFlags,
			DirectTeleportAllowed: req.DirectTeleportAllowed,
			Telehub:               req.Telehub,
			Parcel:                req.Parcel,
		})
		if err != nil {
			if o.Deps.ClientSink != nil {
				_ = o.Deps.ClientSink.SendAlertMessage(ctx, o.Presence.ID, "teleport denied")
			}
			return err
		}
	} else {
		decision = LandingDecision{Position: req.Position, LookAt: req.LookAt}
	}

	position := geom.ClampToRegion(decision.Position, o.Deps.RegionSizeX, o.Deps.RegionSizeY)
	if o.Deps.Scene != nil {
		ground, err := o.Deps.Scene.GroundHeight(ctx, position.X, position.Y)
		if err == nil {
			if raised := ground + o.Deps.AvatarHalfHeight; position.Z < raised {
				position.Z = raised
			}
		}
	}

	o.Presence.motion.mu.Lock()
	o.Presence.motion.position = position
	o.Presence.motion.mu.Unlock()

	if o.Deps.ClientSink != nil {
		return o.Deps.ClientSink.SendLocalTeleport(ctx, o.Presence.ID, position, decision.LookAt)
	}
	return nil
}

// Heartbeat drives the region-tick side of the Presence: cross-region
// prediction, terse updates, significance events, reprioritisation, and
// neighbour pushes (spec.md §4.2 outbound + §4.7).
func (o *Orchestrator) Heartbeat(ctx context.Context, now time.Time, destination collab.RegionHandle, peers []peerParcelInfo, peerParcel collab.LocalID, peerAccess AccessLevel) {
	if !o.Presence.IsChild() && o.Presence.LifecycleState() == Running {
		_ = o.Presence.CrossToNewRegion(ctx, o.Deps.RegionSizeX, o.Deps.RegionSizeY, destination, o.Deps.Transfer)
	}

	_ = o.Presence.TickTerseUpdate(ctx, geom.Vec{}, geom.Vec{}, peers, peerParcel, peerAccess, o.Deps.ClientSink)
	o.Presence.TickSignificance(ctx, o.Deps.Movement)
	o.Presence.TickReprioritise(ctx, now, o.Deps.ReprioritiseInterval, o.Deps.ReprioritiseDistance, o.Deps.Worker, o.Deps.Reprior)
	o.Presence.TickNeighbourPush(ctx, now, o.Deps.Transfer, o.Deps.Worker)
}

// AgentUpdate delegates to the Motion Controller with this
// Orchestrator's scene and physics collaborators wired in.
func (o *Orchestrator) AgentUpdate(ctx context.Context, in AgentUpdateInput) error {
	return o.Presence.AgentUpdate(ctx, in, MotionDeps{Scene: o.Deps.Scene, Body: o.bodyDeps()})
}

// Logout moves the presence through Removing to Removed, detaching its
// Physical Body (spec.md §3 "Lifecycle").
func (o *Orchestrator) Logout(ctx context.Context) error {
	if err := o.Presence.Advance(Removing); err != nil {
		return err
	}
	o.Presence.detachBody(ctx)
	return o.Presence.Advance(Removed)
}

// RequestSit delegates to the Sit/Stand Controller with this
// Orchestrator's configured legacy-region flag and avatar height.
func (o *Orchestrator) RequestSit(ctx context.Context, req SitRequest) (collab.SitResponse, error) {
	return o.Presence.RequestSit(ctx, req, SitDeps{
		Scene:        o.Deps.Scene,
		Physics:      o.Deps.Physics,
		LegacyRegion: o.Deps.LegacySitRegion,
		AvatarHeight: o.Deps.AvatarHeight,
	})
}
