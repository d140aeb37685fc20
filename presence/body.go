package presence

import (
	"context"
	"sync"
	"time"

	"presencecore/collab"
	"presencecore/geom"
)

// StandardAvatarShape is the default capsule shape (spec.md §4.8).
var StandardAvatarShape = collab.AvatarShape{Width: 0.45, Depth: 0.6, Height: 1.9}

const collisionSubscriptionCadence = 100 * time.Millisecond

// HealthRegenPerTick and damage constants (spec.md §4.8).
const (
	HealthRegenPerTick    = 0.03
	HealthRegenTarget     = 100.0
	MinPenetrationForDamage = 0.10
	PenetrationDamageScale  = 5.0
	CollisionSoundMinSpeed  = 0.2
)

// bodyState is C8's component-owned state: the exclusively-owned
// physics handle, the previous tick's collider set (for started/ended/
// continuing diffing), and the collision plane.
type bodyState struct {
	mu sync.RWMutex

	handle  collab.BodyHandle
	unsubscribe func()

	previousColliders map[collab.LocalID]collab.Contact

	pendingCollidingAssertions int
}

// BodyDeps bundles the collaborators the Physical Body Adapter needs.
type BodyDeps struct {
	Physics    collab.PhysicsScene
	LandChannel collab.LandChannel
	Audio      CollisionAudioSink
	Scripts    CollisionScriptSink
}

// CollisionAudioSink queues a collision sound descriptor.
type CollisionAudioSink interface {
	QueueCollisionSound(ctx context.Context, presence collab.PresenceID, relativeSpeed float64, point geom.Vec)
}

// CollisionScriptSink dispatches collision_start/collision/collision_end
// events (and their land-collision variants, local id 0 = ground) to
// attached objects' scripts.
type CollisionScriptSink interface {
	DispatchCollisionStart(ctx context.Context, partID collab.LocalID, contact collab.Contact)
	DispatchCollision(ctx context.Context, partID collab.LocalID, contact collab.Contact)
	DispatchCollisionEnd(ctx context.Context, partID collab.LocalID, contact collab.Contact)
}

// AttachBody attaches to the physics scene at construction of the root
// agent with the standard avatar shape or a configured appearance size,
// and subscribes to collisions at the standard cadence (spec.md §4.8).
func (p *Presence) AttachBody(ctx context.Context, deps BodyDeps, shape collab.AvatarShape, flying bool) error {
	if shape == (collab.AvatarShape{}) {
		shape = StandardAvatarShape
	}

	position := p.Position()
	handle, err := deps.Physics.AddAvatar(ctx, p.ID, shape, position, flying)
	if err != nil {
		return WrapError(PhysicsFault, "failed to attach physical body", err)
	}

	unsub, err := deps.Physics.SubscribeCollisions(ctx, handle, collisionSubscriptionCadence, func(contacts []collab.Contact) {
		p.onCollisions(ctx, contacts, deps)
	})
	if err != nil {
		unsub = func() {}
	}

	p.body.mu.Lock()
	p.body.handle = handle
	p.body.unsubscribe = unsub
	p.body.previousColliders = make(map[collab.LocalID]collab.Contact)
	p.body.mu.Unlock()
	return nil
}

// detachBody removes the physics handle, used by the sit path and by
// MakeChild.
func (p *Presence) detachBody(ctx context.Context) {
	p.body.mu.Lock()
	handle := p.body.handle
	unsub := p.body.unsubscribe
	p.body.handle = nil
	p.body.unsubscribe = nil
	p.body.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	_ = handle // the handle is dropped; PhysicsScene.RemoveAvatar is not called for it
}

func (p *Presence) detachBodyForChildhood() {
	p.body.mu.Lock()
	p.body.handle = nil
	unsub := p.body.unsubscribe
	p.body.unsubscribe = nil
	p.body.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// reattachBody is called by StandUp. It attaches nothing and changes no
// state; a body is only attached through AttachBody, which needs BodyDeps.
func (p *Presence) reattachBody(ctx context.Context) {
	p.body.mu.Lock()
	defer p.body.mu.Unlock()
	if p.body.handle != nil {
		return
	}
}

func (p *Presence) reattachAtLastFinite(ctx context.Context, position geom.Vec) {
	p.body.mu.Lock()
	p.body.handle = nil
	p.body.mu.Unlock()
}

// onCollisions implements the per-tick collision callback (spec.md §4.8).
func (p *Presence) onCollisions(ctx context.Context, contacts []collab.Contact, deps BodyDeps) {
	p.body.mu.Lock()
	previous := p.body.previousColliders
	current := make(map[collab.LocalID]collab.Contact, len(contacts))
	for _, c := range contacts {
		current[c.OtherPartID] = c
	}

	var started, continuing, ended []collab.Contact
	for id, c := range current {
		if _, existed := previous[id]; existed {
			continuing = append(continuing, c)
		} else {
			started = append(started, c)
		}
	}
	for id, c := range previous {
		if _, stillThere := current[id]; !stillThere {
			ended = append(ended, c)
		}
	}
	p.body.previousColliders = current

	pendingAssertions := p.body.pendingCollidingAssertions
	if pendingAssertions > 0 {
		p.body.pendingCollidingAssertions--
	}
	p.body.mu.Unlock()

	for _, c := range started {
		if c.RelativeSpeed > CollisionSoundMinSpeed && deps.Audio != nil {
			if deps.LandChannel != nil {
				// parcel permission check is best-effort; a denied lookup
				// simply suppresses the sound rather than failing the tick.
				if parcel, err := deps.LandChannel.LandObjectAt(ctx, c.Point.X, c.Point.Y); err == nil {
					_ = parcel
					deps.Audio.QueueCollisionSound(ctx, p.ID, c.RelativeSpeed, c.Point)
				}
			} else {
				deps.Audio.QueueCollisionSound(ctx, p.ID, c.RelativeSpeed, c.Point)
			}
		}
	}

	p.updateCollisionPlane(current)

	if deps.Scripts != nil {
		for _, c := range started {
			deps.Scripts.DispatchCollisionStart(ctx, c.OtherPartID, c)
		}
		for _, c := range continuing {
			deps.Scripts.DispatchCollision(ctx, c.OtherPartID, c)
		}
		for _, c := range ended {
			deps.Scripts.DispatchCollisionEnd(ctx, c.OtherPartID, c)
		}
	}

	p.applyDamage(append(append(started, continuing...), ended...))
}

// updateCollisionPlane selects the lowest-z contact among those with
// character_feet = true, sets the plane to its negated normal and
// point; clears it to a zero normal and zero point if none (spec.md §4.8).
func (p *Presence) updateCollisionPlane(current map[collab.LocalID]collab.Contact) {
	var best *collab.Contact
	for _, c := range current {
		if !c.CharacterFeet {
			continue
		}
		cc := c
		if best == nil || cc.Point.Z < best.Point.Z {
			best = &cc
		}
	}

	p.motion.mu.Lock()
	defer p.motion.mu.Unlock()
	if best == nil {
		p.motion.bodyPlaneNormal = geom.Vec{}
		p.motion.bodyPlanePoint = geom.Vec{}
		p.motion.collidingDown = false
		return
	}
	p.motion.bodyPlaneNormal = geom.Vec{X: -best.Normal.X, Y: -best.Normal.Y, Z: -best.Normal.Z}
	p.motion.bodyPlanePoint = best.Point
	p.motion.collidingDown = best.Normal.Z > 0
}

// applyDamage implements spec.md §4.8's damage rule: damage-bearing
// colliders directly decrement health by their damage value; ordinary
// deep-penetration collisions decrement by depth*5; health regenerates
// by HealthRegenPerTick toward 100 on ticks with no contacts;
// invulnerable/elevated avatars skip damage and always regenerate. The
// damage-bearing collider's group is not deleted.
func (p *Presence) applyDamage(contacts []collab.Contact) (killed bool) {
	if p.Invulnerable || p.Access.IsElevated() {
		p.setHealth(minF(p.Health()+HealthRegenPerTick, HealthRegenTarget))
		return false
	}

	health := p.Health()
	for _, c := range contacts {
		if c.HasDamage {
			health -= c.DamageValue
			continue
		}
		if c.PenetrationDepth >= MinPenetrationForDamage {
			health -= c.PenetrationDepth * PenetrationDamageScale
		}
	}
	if len(contacts) == 0 {
		health = minF(health+HealthRegenPerTick, HealthRegenTarget)
	}
	p.setHealth(health)
	return health <= 0
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// CollisionPlane returns the body/avatar collision plane (normal,
// point) written by updateCollisionPlane from physics feet-contacts
// (spec.md §4.8), used by the client to clamp the avatar to a surface.
func (p *Presence) CollisionPlane() (geom.Vec, geom.Vec) {
	p.motion.mu.RLock()
	defer p.motion.mu.RUnlock()
	return p.motion.bodyPlaneNormal, p.motion.bodyPlanePoint
}

// CameraPlane returns the camera collision plane (normal, point)
// written by runCameraRayCast (spec.md §4.3), used by the client to
// keep the camera from clipping through geometry.
func (p *Presence) CameraPlane() (geom.Vec, geom.Vec) {
	p.motion.mu.RLock()
	defer p.motion.mu.RUnlock()
	return p.motion.cameraPlaneNormal, p.motion.cameraPlanePoint
}
