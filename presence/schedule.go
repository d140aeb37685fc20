package presence

import (
	"context"
	"math"
	"sync"
	"time"

	"presencecore/collab"
	"presencecore/geom"
)

// Significance thresholds (spec.md §6, bit-exact).
const (
	TerseRotationTolerance  = 0.01
	TerseVelocityTolerance  = 0.1
	TersePositionTolerance  = 5.0
	TerseSmallPositionDelta = 0.05
	TerseSmallVelocitySq    = 0.1

	ClientMovementThresholdSq            = 0.25
	SignificantClientMovementThresholdSq = 16.0

	ChildAgentPushDistanceSq   = 100.0
	ChildAgentPushPeriod       = 10 * time.Second
)

// scheduleState is C7's component-owned state: last-sent terse trio,
// significance anchors, and the reprioritisation cadence/busy flag.
type scheduleState struct {
	mu sync.Mutex

	lastSentPosition geom.Vec
	lastSentRotation geom.Quat
	lastSentVelocity geom.Vec
	everSent         bool

	movementAnchor            geom.Vec
	significantMovementAnchor geom.Vec

	lastReprioritiseTime time.Time
	reprioritiseBusy     bool
}

// AsyncTaskSubmitter submits fire-and-forget work, implemented by
// package worker's bounded pool.
type AsyncTaskSubmitter interface {
	Submit(task func(ctx context.Context))
}

// MovementEventSink receives client_movement / significant_client_movement events.
type MovementEventSink interface {
	ClientMovement(ctx context.Context, presence collab.PresenceID)
	SignificantClientMovement(ctx context.Context, presence collab.PresenceID)
}

// ReprioritiseSink schedules an asynchronous "reprioritise queues" call
// on the client.
type ReprioritiseSink interface {
	ReprioritiseQueues(ctx context.Context, presence collab.PresenceID)
}

// shouldSendTerse implements spec.md §4.7's terse-update gate.
func shouldSendTerse(have, want terseSnapshot, everSent bool) bool {
	if !everSent {
		return true
	}
	rotDiff := quatDistance(have.rotation, want.rotation)
	velDiff := vecNorm(vecSub(have.velocity, want.velocity))
	posDiff := vecNorm(vecSub(have.position, want.position))
	velBecameZero := want.velocity == (geom.Vec{}) && have.velocity != (geom.Vec{})
	velSq := want.velocity.X*want.velocity.X + want.velocity.Y*want.velocity.Y + want.velocity.Z*want.velocity.Z

	return rotDiff > TerseRotationTolerance ||
		velDiff > TerseVelocityTolerance ||
		posDiff > TersePositionTolerance ||
		velBecameZero ||
		(posDiff > TerseSmallPositionDelta && velSq < TerseSmallVelocitySq)
}

type terseSnapshot struct {
	position geom.Vec
	rotation geom.Quat
	velocity geom.Vec
}

// TickTerseUpdate evaluates the terse-update gate for the current tick
// and, if it fires, broadcasts to every peer the Parcel Visibility
// Engine allows and updates the last-sent trio (spec.md §4.7). Sitting
// presences never send terse updates.
func (p *Presence) TickTerseUpdate(ctx context.Context, acceleration, angularVelocity geom.Vec, peers []peerParcelInfo, peerParcel collab.LocalID, peerAccess AccessLevel, sink collab.ClientSink) error {
	if p.IsSitting() {
		return nil
	}

	want := terseSnapshot{position: p.Position(), rotation: p.BodyRotation()}
	p.motion.mu.RLock()
	want.velocity = p.motion.velocity
	p.motion.mu.RUnlock()

	p.schedule.mu.Lock()
	have := terseSnapshot{position: p.schedule.lastSentPosition, rotation: p.schedule.lastSentRotation, velocity: p.schedule.lastSentVelocity}
	everSent := p.schedule.everSent
	fire := shouldSendTerse(have, want, everSent)
	if fire {
		p.schedule.lastSentPosition = want.position
		p.schedule.lastSentRotation = want.rotation
		p.schedule.lastSentVelocity = want.velocity
		p.schedule.everSent = true
	}
	p.schedule.mu.Unlock()

	if !fire || sink == nil {
		return nil
	}

	update := collab.TerseUpdate{
		Position:        want.position,
		Rotation:        want.rotation,
		Velocity:        want.velocity,
		Acceleration:    acceleration,
		AngularVelocity: angularVelocity,
	}
	flags := collab.UpdatePosition | collab.UpdateRotation | collab.UpdateVelocity | collab.UpdateAcceleration | collab.UpdateAngularVelocity

	for _, peer := range peers {
		if !p.VisibleTo(peer.ParcelID, peer.AccessLevel) {
			continue
		}
		_ = sink.SendEntityUpdate(ctx, peer.ID, update, flags)
	}
	return nil
}

// TickSignificance evaluates the two squared-distance thresholds and
// fires client_movement / significant_client_movement events, updating
// the significant anchor when it fires (spec.md §4.7).
func (p *Presence) TickSignificance(ctx context.Context, sink MovementEventSink) {
	position := p.Position()

	p.schedule.mu.Lock()
	moveDistSq := vecNormSq(vecSub(position, p.schedule.movementAnchor))
	sigDistSq := vecNormSq(vecSub(position, p.schedule.significantMovementAnchor))
	fireMove := moveDistSq > ClientMovementThresholdSq
	fireSig := sigDistSq > SignificantClientMovementThresholdSq
	if fireMove {
		p.schedule.movementAnchor = position
	}
	if fireSig {
		p.schedule.significantMovementAnchor = position
	}
	p.schedule.mu.Unlock()

	if sink == nil {
		return
	}
	if fireMove {
		sink.ClientMovement(ctx, p.ID)
	}
	if fireSig {
		sink.SignificantClientMovement(ctx, p.ID)
	}
}

// TickReprioritise schedules an asynchronous reprioritisation at most
// once per interval, when position moved beyond the configured distance
// (spec.md §4.7); busy gates the next call until completion.
func (p *Presence) TickReprioritise(ctx context.Context, now time.Time, interval time.Duration, distance float64, submitter AsyncTaskSubmitter, sink ReprioritiseSink) {
	p.schedule.mu.Lock()
	if p.schedule.reprioritiseBusy || now.Sub(p.schedule.lastReprioritiseTime) < interval {
		p.schedule.mu.Unlock()
		return
	}
	position := p.Position()
	moved := vecNorm(vecSub(position, p.schedule.lastSentPosition))
	if moved <= distance {
		p.schedule.mu.Unlock()
		return
	}
	p.schedule.reprioritiseBusy = true
	p.schedule.lastReprioritiseTime = now
	p.schedule.mu.Unlock()

	task := func(ctx context.Context) {
		if sink != nil {
			sink.ReprioritiseQueues(ctx, p.ID)
		}
		p.schedule.mu.Lock()
		p.schedule.reprioritiseBusy = false
		p.schedule.mu.Unlock()
	}
	if submitter != nil {
		submitter.Submit(task)
	} else {
		task(ctx)
	}
}

// TickNeighbourPush asynchronously sends AgentPosition to all remote
// neighbours via the transfer module at most every ChildAgentPushPeriod,
// when distance from the last pushed position exceeds 10m
// (spec.md §4.7).
func (p *Presence) TickNeighbourPush(ctx context.Context, now time.Time, transfer collab.TransferModule, submitter AsyncTaskSubmitter) {
	p.transit.mu.Lock()
	if p.transit.busy || now.Sub(p.transit.lastPushTime) < ChildAgentPushPeriod {
		p.transit.mu.Unlock()
		return
	}
	position := p.Position()
	if vecNormSq(vecSub(position, p.transit.lastPushPosition)) <= ChildAgentPushDistanceSq {
		p.transit.mu.Unlock()
		return
	}
	neighbourCount := len(p.transit.neighbourMap)
	if neighbourCount == 0 {
		p.transit.mu.Unlock()
		return
	}
	p.transit.busy = true
	p.transit.lastPushTime = now
	p.transit.lastPushPosition = position
	neighbours := make([]collab.RegionHandle, 0, neighbourCount)
	for h := range p.transit.neighbourMap {
		neighbours = append(neighbours, h)
	}
	p.transit.mu.Unlock()

	task := func(ctx context.Context) {
		if transfer != nil {
			for _, h := range neighbours {
				_ = transfer.PushAgentPosition(ctx, p.ID, h, position)
			}
		}
		p.transit.mu.Lock()
		p.transit.busy = false
		p.transit.mu.Unlock()
	}
	if submitter != nil {
		submitter.Submit(task)
	} else {
		task(ctx)
	}
}

func vecSub(a, b geom.Vec) geom.Vec {
	return geom.Vec{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

func vecNormSq(v geom.Vec) float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func quatDistance(a, b geom.Quat) float64 {
	dr := a.Real - b.Real
	di := a.Imag - b.Imag
	dj := a.Jmag - b.Jmag
	dk := a.Kmag - b.Kmag
	return math.Sqrt(dr*dr + di*di + dj*dj + dk*dk)
}
