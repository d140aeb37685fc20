package presence

import (
	"context"
	"testing"

	"presencecore/collab"
	"presencecore/geom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScene struct {
	parts map[collab.LocalID]collab.Part
}

func (s *fakeScene) Presences(ctx context.Context) []collab.PresenceID { return nil }
func (s *fakeScene) GroundHeight(ctx context.Context, x, y float64) (float64, error) {
	return 0, nil
}
func (s *fakeScene) RayCast(ctx context.Context, origin, direction geom.Vec, maxDistance float64, maxHits int) ([]collab.RayContact, error) {
	return nil, nil
}
func (s *fakeScene) PartByID(ctx context.Context, id collab.LocalID) (collab.Part, bool) {
	p, ok := s.parts[id]
	return p, ok
}
func (s *fakeScene) PartsInGroup(ctx context.Context, groupID collab.LocalID) []collab.Part {
	var group []collab.Part
	for _, p := range s.parts {
		if p.GroupID == groupID {
			group = append(group, p)
		}
	}
	return group
}
func (s *fakeScene) LandChannel() collab.LandChannel { return nil }
func (s *fakeScene) Stats(name string, value float64) {}

func TestRequestSitWithExplicitSitTarget(t *testing.T) {
	scene := &fakeScene{parts: map[collab.LocalID]collab.Part{
		1: {
			ID: 1, GroupID: 1, LinkNumber: 1,
			WorldPosition: geom.Vec{X: 5, Y: 5, Z: 0},
			SitTargetSet:  true,
			SitTargetOffset: geom.Vec{X: 0, Y: 0, Z: 0.5},
		},
	}}

	p := newTestPresence()
	resp, err := p.RequestSit(context.Background(), SitRequest{TargetID: 1}, SitDeps{Scene: scene})
	require.NoError(t, err)
	assert.True(t, p.IsSitting())
	assert.Equal(t, "SIT", p.SitAnimation())
	assert.NotZero(t, resp.Offset)
}

func TestRequestSitFallsBackGeometricallyWithinRange(t *testing.T) {
	scene := &fakeScene{parts: map[collab.LocalID]collab.Part{
		1: {ID: 1, GroupID: 1, WorldPosition: geom.Vec{X: 0, Y: 0, Z: 0}},
	}}

	p := newTestPresence()
	_, err := p.RequestSit(context.Background(), SitRequest{TargetID: 1, RequestedOffset: geom.Vec{X: 1}}, SitDeps{Scene: scene})
	require.NoError(t, err)
	assert.True(t, p.IsSitting())
}

func TestRequestSitRefusedBeyondRange(t *testing.T) {
	scene := &fakeScene{parts: map[collab.LocalID]collab.Part{
		1: {ID: 1, GroupID: 1, WorldPosition: geom.Vec{X: 1000, Y: 1000, Z: 0}},
	}}

	p := newTestPresence()
	_, err := p.RequestSit(context.Background(), SitRequest{TargetID: 1}, SitDeps{Scene: scene})
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, SitRefused, perr.Kind)
}

func TestStandUpClearsSeat(t *testing.T) {
	scene := &fakeScene{parts: map[collab.LocalID]collab.Part{
		1: {ID: 1, GroupID: 1, WorldPosition: geom.Vec{X: 0, Y: 0, Z: 0}},
	}}

	p := newTestPresence()
	_, err := p.RequestSit(context.Background(), SitRequest{TargetID: 1}, SitDeps{Scene: scene})
	require.NoError(t, err)

	require.NoError(t, p.StandUp(context.Background()))
	assert.False(t, p.IsSitting())
}

func TestRequestSitPrefersLinkedPartOverRootWithoutSitTarget(t *testing.T) {
	scene := &fakeScene{parts: map[collab.LocalID]collab.Part{
		1: {ID: 1, GroupID: 1, LinkNumber: 1, WorldPosition: geom.Vec{X: 1000, Y: 1000, Z: 0}},
		2: {
			ID: 2, GroupID: 1, LinkNumber: 2,
			WorldPosition: geom.Vec{X: 1000, Y: 1000, Z: 0},
			SitTargetSet:  true,
			SitTargetOffset: geom.Vec{X: 0, Y: 0, Z: 1},
		},
	}}

	p := newTestPresence()
	// The root part (link 1) has no sit target and is far out of the
	// geometric-fallback range; the request only succeeds if the walk
	// finds link 2's explicit sit target instead of refusing on the root.
	resp, err := p.RequestSit(context.Background(), SitRequest{TargetID: 1}, SitDeps{Scene: scene})
	require.NoError(t, err)
	assert.NotZero(t, resp.Offset)
}

func TestSitOnGroundSetsGroundAnimation(t *testing.T) {
	p := newTestPresence()
	p.SitOnGround(context.Background())
	assert.True(t, p.IsSitting())
	assert.Equal(t, "SIT_GROUND_CONSTRAINED", p.SitAnimation())
}
