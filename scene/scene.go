// Package scene provides a reference in-memory collab.Scene: a
// presence registry, a flat terrain ground-height function, and a
// parcel-backed LandChannel, grounded on the teacher's
// server.AvatarRegistry (a mutex-guarded map keyed by ID, with
// snapshot-returning accessors).
package scene

import (
	"context"
	"math"
	"sort"
	"sync"

	"presencecore/collab"
	"presencecore/geom"
)

// InMemoryScene is a process-local collab.Scene: presences are tracked
// by PresenceID, parts by LocalID, and ground height is a configurable
// flat plane (real terrain lookup belongs to the host process's
// heightmap collaborator, out of this package's scope).
type InMemoryScene struct {
	mu         sync.RWMutex
	presences  map[collab.PresenceID]struct{}
	parts      map[collab.LocalID]collab.Part
	groundZ    float64
	land       collab.LandChannel
	statsSink  func(name string, value float64)
}

// NewInMemoryScene constructs an empty scene with a flat ground plane at
// groundZ, backed by land for parcel queries.
func NewInMemoryScene(groundZ float64, land collab.LandChannel) *InMemoryScene {
	return &InMemoryScene{
		presences: make(map[collab.PresenceID]struct{}),
		parts:     make(map[collab.LocalID]collab.Part),
		groundZ:   groundZ,
		land:      land,
	}
}

// SetStatsSink installs the callback Stats forwards named counters to;
// the host process wires this to its metrics collector.
func (s *InMemoryScene) SetStatsSink(sink func(name string, value float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsSink = sink
}

// Enter registers a presence as present in the scene.
func (s *InMemoryScene) Enter(id collab.PresenceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presences[id] = struct{}{}
}

// Leave removes a presence from the scene.
func (s *InMemoryScene) Leave(id collab.PresenceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.presences, id)
}

// PutPart inserts or replaces a scene object part, used by the host
// process's object-rez path and by tests seeding sit targets.
func (s *InMemoryScene) PutPart(part collab.Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts[part.ID] = part
}

// Presences implements collab.Scene by returning a snapshot copy.
func (s *InMemoryScene) Presences(ctx context.Context) []collab.PresenceID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]collab.PresenceID, 0, len(s.presences))
	for id := range s.presences {
		out = append(out, id)
	}
	return out
}

// GroundHeight implements collab.Scene with a flat terrain plane.
func (s *InMemoryScene) GroundHeight(ctx context.Context, x, y float64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groundZ, nil
}

// RayCast implements collab.Scene by testing parts' world positions
// against the ray; this is a reference geometric stub, not a collision
// engine — a host process wanting physically accurate hits should
// delegate through collab.PhysicsScene instead.
func (s *InMemoryScene) RayCast(ctx context.Context, origin, direction geom.Vec, maxDistance float64, maxHits int) ([]collab.RayContact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := vecUnit(direction)
	var hits []collab.RayContact
	for _, part := range s.parts {
		toPart := vecSub(part.WorldPosition, origin)
		distance := vecDot(toPart, dir)
		if distance < 0 || distance > maxDistance {
			continue
		}
		closest := vecAdd(origin, vecScale(dir, distance))
		if vecNorm(vecSub(closest, part.WorldPosition)) > 0.5 {
			continue
		}
		hits = append(hits, collab.RayContact{
			Distance: distance,
			Point:    closest,
			Normal:   geom.Vec{Z: 1},
			PartID:   part.ID,
		})
		if len(hits) >= maxHits {
			break
		}
	}
	return hits, nil
}

// PartByID implements collab.Scene.
func (s *InMemoryScene) PartByID(ctx context.Context, id collab.LocalID) (collab.Part, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	part, ok := s.parts[id]
	return part, ok
}

// PartsInGroup implements collab.Scene by returning every part sharing
// groupID, ordered by LinkNumber ascending.
func (s *InMemoryScene) PartsInGroup(ctx context.Context, groupID collab.LocalID) []collab.Part {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var group []collab.Part
	for _, part := range s.parts {
		if part.GroupID == groupID {
			group = append(group, part)
		}
	}
	sort.Slice(group, func(i, j int) bool { return group[i].LinkNumber < group[j].LinkNumber })
	return group
}

// LandChannel implements collab.Scene.
func (s *InMemoryScene) LandChannel() collab.LandChannel {
	return s.land
}

// Stats implements collab.Scene by forwarding to the installed sink, if
// any; scenes created without SetStatsSink silently discard reports.
func (s *InMemoryScene) Stats(name string, value float64) {
	s.mu.RLock()
	sink := s.statsSink
	s.mu.RUnlock()
	if sink != nil {
		sink(name, value)
	}
}

var _ collab.Scene = (*InMemoryScene)(nil)

func vecSub(a, b geom.Vec) geom.Vec {
	return geom.Vec{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z}
}

func vecAdd(a, b geom.Vec) geom.Vec {
	return geom.Vec{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

func vecScale(v geom.Vec, f float64) geom.Vec {
	return geom.Vec{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

func vecDot(a, b geom.Vec) float64 {
	return a.X*b.X + a.Y*b.Y + a.Z*b.Z
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
