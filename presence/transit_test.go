package presence

import (
	"context"
	"testing"
	"time"

	"presencecore/collab"
	"presencecore/geom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{ valid bool }

func (h fakeHandle) IsValid() bool { return h.valid }

type fakePhysics struct{}

func (fakePhysics) AddAvatar(ctx context.Context, id collab.PresenceID, shape collab.AvatarShape, position geom.Vec, flying bool) (collab.BodyHandle, error) {
	return fakeHandle{valid: true}, nil
}
func (fakePhysics) RemoveAvatar(ctx context.Context, handle collab.BodyHandle) error { return nil }
func (fakePhysics) SetTargetVelocity(ctx context.Context, handle collab.BodyHandle, v geom.Vec) error {
	return nil
}
func (fakePhysics) SetOrientation(ctx context.Context, handle collab.BodyHandle, q geom.Quat) error {
	return nil
}
func (fakePhysics) RayCastWorld(ctx context.Context, origin, direction geom.Vec, maxDistance float64) (collab.RayContact, bool, error) {
	return collab.RayContact{}, false, nil
}
func (fakePhysics) SitOnSurface(ctx context.Context, part collab.LocalID, hitPoint geom.Vec) (geom.Vec, geom.Quat, bool, error) {
	return geom.Vec{}, geom.Quat{}, false, nil
}
func (fakePhysics) SubscribeCollisions(ctx context.Context, handle collab.BodyHandle, cadence time.Duration, callback func([]collab.Contact)) (func(), error) {
	return func() {}, nil
}

type fakeTransfer struct {
	crossed     bool
	crossErr    error
	enabledWith []collab.RegionHandle
}

func (f *fakeTransfer) EnableChildAgents(ctx context.Context, presence collab.PresenceID, neighbours []collab.RegionHandle) error {
	f.enabledWith = neighbours
	return nil
}
func (f *fakeTransfer) CrossAgentToRegion(ctx context.Context, presence collab.PresenceID, destination collab.RegionHandle, position geom.Vec) error {
	f.crossed = true
	return f.crossErr
}
func (f *fakeTransfer) ReleaseAgent(ctx context.Context, callbackURI string) error { return nil }
func (f *fakeTransfer) PushAgentPosition(ctx context.Context, presence collab.PresenceID, neighbour collab.RegionHandle, position geom.Vec) error {
	return nil
}

func TestCompleteMovementAttachesBodyAndEnablesChildAgents(t *testing.T) {
	p := newTestPresence()
	p.MakeChild()

	transfer := &fakeTransfer{}
	p.UpsertNeighbour(7, NeighbourInfo{})

	err := p.CompleteMovement(context.Background(), CompleteMovementInput{
		IsNPC:            true,
		DeclaredPosition: geom.Vec{X: 10, Y: 10},
		RegionSizeX:      256,
		RegionSizeY:      256,
		GroundHeight:     20,
		AvatarHalfHeight: 0.9,
	}, CompleteMovementDeps{
		Physics:  fakePhysics{},
		Transfer: transfer,
		Body:     BodyDeps{Physics: fakePhysics{}},
	})

	require.NoError(t, err)
	assert.False(t, p.IsChild())
	assert.True(t, p.HasPhysicalBody())
	assert.ElementsMatch(t, []collab.RegionHandle{7}, transfer.enabledWith)
	assert.Equal(t, 20.9, p.Position().Z)
}

func TestCompleteMovementIsIdempotentOnceRoot(t *testing.T) {
	p := newTestPresence()
	p.MakeChild()
	require.NoError(t, p.MakeRoot())

	err := p.CompleteMovement(context.Background(), CompleteMovementInput{IsNPC: true}, CompleteMovementDeps{
		Physics: fakePhysics{},
		Body:    BodyDeps{Physics: fakePhysics{}},
	})
	assert.NoError(t, err)
}

func TestCrossToNewRegionReflectsOnRefusal(t *testing.T) {
	p := newTestPresence()
	p.motion.mu.Lock()
	p.motion.position = geom.Vec{X: 255, Y: 128}
	p.motion.velocity = geom.Vec{X: 50}
	p.motion.mu.Unlock()

	transfer := &fakeTransfer{crossErr: assertError{}}
	err := p.CrossToNewRegion(context.Background(), 256, 256, 99, transfer)

	require.Error(t, err)
	assert.True(t, transfer.crossed)
	assert.LessOrEqual(t, p.Position().X, 255.5)
	assert.Equal(t, geom.Vec{}, p.motion.velocity)
}

type assertError struct{}

func (assertError) Error() string { return "refused" }

func TestCrossToNewRegionMakesChildOnAcceptance(t *testing.T) {
	p := newTestPresence()
	p.MakeChild()
	require.NoError(t, p.MakeRoot())
	p.motion.mu.Lock()
	p.motion.position = geom.Vec{X: 255, Y: 128}
	p.motion.velocity = geom.Vec{X: 50}
	p.motion.mu.Unlock()

	transfer := &fakeTransfer{}
	err := p.CrossToNewRegion(context.Background(), 256, 256, 99, transfer)
	require.NoError(t, err)
	assert.True(t, p.IsChild())
}

func TestUpsertNeighbourRefusesSelfSentinel(t *testing.T) {
	p := newTestPresence()
	p.UpsertNeighbour(0, NeighbourInfo{})
	assert.Empty(t, p.transit.neighbours())
}

func TestOutOfViewNeighboursUsesDistancePredicate(t *testing.T) {
	p := newTestPresence()
	p.UpsertNeighbour(1, NeighbourInfo{})
	p.UpsertNeighbour(2, NeighbourInfo{})

	offsets := map[collab.RegionHandle][2]float64{
		1: {10, 10},
		2: {2000, 2000},
	}
	out := p.OutOfViewNeighbours(offsets, 256, 256)
	assert.ElementsMatch(t, []collab.RegionHandle{2}, out)
}
