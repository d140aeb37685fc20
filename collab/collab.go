// Package collab defines the collaborator interfaces the Avatar Presence
// Core is driven by and drives in turn: the scene, the physics engine,
// the client wire sink, the inter-region transfer module, the grid
// service, the attachment module, and the land channel. The core never
// talks to a concrete asset store, physics engine, or wire codec — it
// talks to these interfaces, so a host process can plug in real
// implementations (package transport, package scene, package grid) or
// test doubles.
package collab

import (
	"context"
	"time"

	"presencecore/geom"
)

// PresenceID identifies a Presence uniquely within a running process.
type PresenceID string

// LocalID is a scene-local integer identity for a presence, object, or
// part, dereferenced through Scene — never an owning pointer (spec.md §9).
type LocalID uint32

// RegionHandle identifies a neighbouring region in the grid.
type RegionHandle uint64

// Scene enumerates presences, answers ground-height and ray-cast
// queries, and gives access to the parcel/capability/script-engine/stats
// collaborators a presence needs to reach.
type Scene interface {
	// Presences returns a snapshot copy of all presences currently in the
	// scene. Callers must not assume the list reflects later mutations
	// (spec.md §5 "scene's snapshot abstraction").
	Presences(ctx context.Context) []PresenceID

	// GroundHeight returns the terrain height at (x, y).
	GroundHeight(ctx context.Context, x, y float64) (float64, error)

	// RayCast probes from origin along direction up to maxDistance,
	// returning up to maxHits contacts ordered by increasing distance.
	RayCast(ctx context.Context, origin, direction geom.Vec, maxDistance float64, maxHits int) ([]RayContact, error)

	// PartByID resolves a scene-local object part.
	PartByID(ctx context.Context, id LocalID) (Part, bool)

	// PartsInGroup returns every part belonging to the linkset rooted at
	// groupID, ordered by LinkNumber ascending (link number 1 is the
	// root/selected part first).
	PartsInGroup(ctx context.Context, groupID LocalID) []Part

	// LandChannel returns the parcel/land collaborator for this scene.
	LandChannel() LandChannel

	// Stats reports a named counter/gauge to the scene's stats sink.
	Stats(name string, value float64)
}

// RayContact is a single ray-cast hit.
type RayContact struct {
	Distance       float64
	Point          geom.Vec
	Normal         geom.Vec
	PartID         LocalID
	Opaque         bool
	VolumeDetect   bool
	CharacterFeet  bool
}

// Part is a scene object part a presence can sit on, collide with, or be
// attached to.
type Part struct {
	ID               LocalID
	GroupID          LocalID
	LinkNumber       int
	WorldPosition    geom.Vec
	WorldRotation    geom.Quat
	SitTargetSet     bool
	SitTargetOffset  geom.Vec
	SitTargetRot     geom.Quat
	SitTargetAvatar  PresenceID // empty if unoccupied
	CustomSitAnim    string
	DamageValue      float64
}

// PhysicsScene is the abstract physics capability the Physical Body
// Adapter (C8) drives: add/remove an avatar shape, set kinematics,
// ray-cast the world, solve sit-on-surface, and subscribe to collisions
// at a fixed cadence.
type PhysicsScene interface {
	AddAvatar(ctx context.Context, id PresenceID, shape AvatarShape, position geom.Vec, flying bool) (BodyHandle, error)
	RemoveAvatar(ctx context.Context, handle BodyHandle) error

	SetTargetVelocity(ctx context.Context, handle BodyHandle, v geom.Vec) error
	SetOrientation(ctx context.Context, handle BodyHandle, q geom.Quat) error

	RayCastWorld(ctx context.Context, origin, direction geom.Vec, maxDistance float64) (RayContact, bool, error)

	// SitOnSurface asks physics for a geometric sit solution at hitPoint
	// on the given part; ok is false if physics declines.
	SitOnSurface(ctx context.Context, part LocalID, hitPoint geom.Vec) (offset geom.Vec, orientation geom.Quat, ok bool, err error)

	// SubscribeCollisions registers a callback invoked at the given
	// cadence (spec.md §4.8: 100ms) with the current contact set for handle.
	SubscribeCollisions(ctx context.Context, handle BodyHandle, cadence time.Duration, callback func([]Contact)) (unsubscribe func(), err error)
}

// AvatarShape is the capsule/box shape physics uses to represent an
// avatar, e.g. the standard (0.45, 0.6, 1.9) or a configured appearance
// size (spec.md §4.8).
type AvatarShape struct {
	Width, Depth, Height float64
}

// BodyHandle is an opaque reference to a physics body, owned exclusively
// by the Physical Body Adapter (spec.md §5).
type BodyHandle interface {
	IsValid() bool
}

// Contact is a single collision contact reported by PhysicsScene.
type Contact struct {
	OtherPartID   LocalID // 0 = ground/land
	Point         geom.Vec
	Normal        geom.Vec
	PenetrationDepth float64
	RelativeSpeed float64
	CharacterFeet bool
	DamageGroupID LocalID
	DamageValue   float64
	HasDamage     bool
}

// EntityUpdateFlags is the bitmask a ClientSink entity update declares
// which fields changed (spec.md §6).
type EntityUpdateFlags uint8

const (
	UpdatePosition EntityUpdateFlags = 1 << iota
	UpdateRotation
	UpdateVelocity
	UpdateAcceleration
	UpdateAngularVelocity
	UpdateFull
)

// ClientSink is the wire-protocol collaborator: every outbound message
// the Presence Core ever sends to a connected client goes through it.
// Concrete implementations live in package transport.
type ClientSink interface {
	SendAvatarDataImmediate(ctx context.Context, to PresenceID, avatar AvatarData) error
	SendAppearance(ctx context.Context, to PresenceID, appearance []byte) error
	SendAnimations(ctx context.Context, to PresenceID, anims AnimationSet) error
	SendEntityUpdate(ctx context.Context, to PresenceID, update TerseUpdate, flags EntityUpdateFlags) error
	SendSitResponse(ctx context.Context, to PresenceID, resp SitResponse) error
	SendCoarseLocations(ctx context.Context, to PresenceID, locations []geom.Vec) error
	SendKillObject(ctx context.Context, to PresenceID, localIDs []LocalID) error
	SendAlertMessage(ctx context.Context, to PresenceID, message string) error
	SendCameraConstraint(ctx context.Context, to PresenceID, normal, point geom.Vec) error
	SendLocalTeleport(ctx context.Context, to PresenceID, position geom.Vec, lookAt geom.Vec) error
	SendTakeControls(ctx context.Context, to PresenceID, controls uint32, passToAgent bool) error
	SendHealth(ctx context.Context, to PresenceID, health float64) error
}

// AvatarData is the payload of SendAvatarDataImmediate.
type AvatarData struct {
	ID       PresenceID
	Position geom.Vec
	Rotation geom.Quat
}

// AnimationSet is the payload of SendAnimations: the current animation
// array plus the default/implicit-default and motion state named in the
// transit payload (spec.md §3).
type AnimationSet struct {
	Animations        []string
	DefaultAnimation  string
	ImplicitDefault   string
	MotionState       string
}

// TerseUpdate is the minimal motion update the Update Scheduler gates
// (spec.md GLOSSARY).
type TerseUpdate struct {
	Position        geom.Vec
	Rotation        geom.Quat
	Velocity        geom.Vec
	Acceleration    geom.Vec
	AngularVelocity geom.Vec
}

// SitResponse is sent to a client whose sit request was accepted.
type SitResponse struct {
	Offset          geom.Vec
	Orientation     geom.Quat
	CameraAtOffset  geom.Vec
	CameraEyeOffset geom.Vec
	ForceMouselook  bool
}

// TransferModule is the cross-region hand-off collaborator (C2 outbound
// path + inbound enablement request).
type TransferModule interface {
	EnableChildAgents(ctx context.Context, presence PresenceID, neighbours []RegionHandle) error
	CrossAgentToRegion(ctx context.Context, presence PresenceID, destination RegionHandle, position geom.Vec) error
	ReleaseAgent(ctx context.Context, callbackURI string) error

	// PushAgentPosition sends an out-of-band position update to a
	// neighbour that already holds a child agent for presence, used by
	// the Update Scheduler's periodic neighbour push (spec.md §4.7).
	PushAgentPosition(ctx context.Context, presence PresenceID, neighbour RegionHandle, position geom.Vec) error
}

// GridService closes a child-agent connection on a neighbouring region,
// authenticated with a bearer session token (package grid mints these).
type GridService interface {
	CloseChildAgent(ctx context.Context, region RegionHandle, presence PresenceID, bearerToken string) error
}

// AttachmentModule rezzes, deletes, and copies attachments to/from the
// transit payload during cross-region hand-off.
type AttachmentModule interface {
	Rez(ctx context.Context, presence PresenceID, attachment []byte) error
	Delete(ctx context.Context, presence PresenceID, attachmentID LocalID) error
	CopyToTransit(ctx context.Context, presence PresenceID) ([]byte, error)
	CopyFromTransit(ctx context.Context, presence PresenceID, payload []byte) error
}

// LandChannel answers parcel/land queries: lookup by coordinate, ban
// check, and landing policy fields.
type LandChannel interface {
	LandObjectAt(ctx context.Context, x, y float64) (Parcel, error)
	IsBanned(ctx context.Context, parcel LocalID, presence PresenceID) (bool, error)
}

// LandingType classifies how a parcel directs arriving avatars.
type LandingType int

const (
	LandingNone LandingType = iota
	LandingPoint
	LandingDirect
)

// Parcel is the land-channel's view of a parcel: privacy, landing
// policy, and access metadata.
type Parcel struct {
	ID            LocalID
	SeeAvatars    bool
	LandingType   LandingType
	UserLocation  geom.Vec
	UserLookAt    geom.Vec
	OwnerID       PresenceID
}
