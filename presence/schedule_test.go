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

type fakeClientSink struct {
	entityUpdates int
}

func (f *fakeClientSink) SendAvatarDataImmediate(ctx context.Context, to collab.PresenceID, avatar collab.AvatarData) error {
	return nil
}
func (f *fakeClientSink) SendAppearance(ctx context.Context, to collab.PresenceID, appearance []byte) error {
	return nil
}
func (f *fakeClientSink) SendAnimations(ctx context.Context, to collab.PresenceID, anims collab.AnimationSet) error {
	return nil
}
func (f *fakeClientSink) SendEntityUpdate(ctx context.Context, to collab.PresenceID, update collab.TerseUpdate, flags collab.EntityUpdateFlags) error {
	f.entityUpdates++
	return nil
}
func (f *fakeClientSink) SendSitResponse(ctx context.Context, to collab.PresenceID, resp collab.SitResponse) error {
	return nil
}
func (f *fakeClientSink) SendCoarseLocations(ctx context.Context, to collab.PresenceID, locations []geom.Vec) error {
	return nil
}
func (f *fakeClientSink) SendKillObject(ctx context.Context, to collab.PresenceID, localIDs []collab.LocalID) error {
	return nil
}
func (f *fakeClientSink) SendAlertMessage(ctx context.Context, to collab.PresenceID, message string) error {
	return nil
}
func (f *fakeClientSink) SendCameraConstraint(ctx context.Context, to collab.PresenceID, normal, point geom.Vec) error {
	return nil
}
func (f *fakeClientSink) SendLocalTeleport(ctx context.Context, to collab.PresenceID, position, lookAt geom.Vec) error {
	return nil
}
func (f *fakeClientSink) SendTakeControls(ctx context.Context, to collab.PresenceID, controls uint32, passToAgent bool) error {
	return nil
}
func (f *fakeClientSink) SendHealth(ctx context.Context, to collab.PresenceID, health float64) error {
	return nil
}

type syncSubmitter struct{ calls int }

func (s *syncSubmitter) Submit(task func(ctx context.Context)) {
	s.calls++
	task(context.Background())
}

func TestTickTerseUpdateFiresOnFirstSend(t *testing.T) {
	p := newTestPresence()
	sink := &fakeClientSink{}
	peers := []peerParcelInfo{{ID: "peer"}}

	err := p.TickTerseUpdate(context.Background(), geom.Vec{}, geom.Vec{}, peers, 0, 0, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.entityUpdates)
}

func TestTickTerseUpdateSkipsWhenSitting(t *testing.T) {
	p := newTestPresence()
	p.SitOnGround(context.Background())
	sink := &fakeClientSink{}

	err := p.TickTerseUpdate(context.Background(), geom.Vec{}, geom.Vec{}, []peerParcelInfo{{ID: "peer"}}, 0, 0, sink)
	require.NoError(t, err)
	assert.Zero(t, sink.entityUpdates)
}

func TestTickTerseUpdateGatesOnUnchangedState(t *testing.T) {
	p := newTestPresence()
	sink := &fakeClientSink{}
	peers := []peerParcelInfo{{ID: "peer"}}

	require.NoError(t, p.TickTerseUpdate(context.Background(), geom.Vec{}, geom.Vec{}, peers, 0, 0, sink))
	require.NoError(t, p.TickTerseUpdate(context.Background(), geom.Vec{}, geom.Vec{}, peers, 0, 0, sink))
	assert.Equal(t, 1, sink.entityUpdates)
}

func TestTickSignificanceFiresBeyondThresholds(t *testing.T) {
	p := newTestPresence()
	var moved, sig int
	sink := movementSinkFunc{
		move: func() { moved++ },
		sig:  func() { sig++ },
	}

	p.TickSignificance(context.Background(), sink)
	assert.Zero(t, moved)

	p.motion.mu.Lock()
	p.motion.position = geom.Vec{X: 5}
	p.motion.mu.Unlock()
	p.TickSignificance(context.Background(), sink)
	assert.Equal(t, 1, moved)
	assert.Equal(t, 1, sig)
}

type movementSinkFunc struct {
	move, sig func()
}

func (m movementSinkFunc) ClientMovement(ctx context.Context, presence collab.PresenceID) { m.move() }
func (m movementSinkFunc) SignificantClientMovement(ctx context.Context, presence collab.PresenceID) {
	m.sig()
}

func TestTickReprioritiseGatesOnDistanceAndBusy(t *testing.T) {
	p := newTestPresence()
	submitter := &syncSubmitter{}

	p.TickReprioritise(context.Background(), time.Now(), time.Minute, 10, submitter, nil)
	assert.Zero(t, submitter.calls)

	p.motion.mu.Lock()
	p.motion.position = geom.Vec{X: 100}
	p.motion.mu.Unlock()
	p.TickReprioritise(context.Background(), time.Now(), time.Minute, 10, submitter, nil)
	assert.Equal(t, 1, submitter.calls)
}

func TestTickNeighbourPushGatesOnNeighbourCountAndDistance(t *testing.T) {
	p := newTestPresence()
	transfer := &fakeTransfer{}
	submitter := &syncSubmitter{}

	p.TickNeighbourPush(context.Background(), time.Now(), transfer, submitter)
	assert.Zero(t, submitter.calls)

	p.UpsertNeighbour(5, NeighbourInfo{})
	p.motion.mu.Lock()
	p.motion.position = geom.Vec{X: 50}
	p.motion.mu.Unlock()
	p.TickNeighbourPush(context.Background(), time.Now(), transfer, submitter)
	assert.Equal(t, 1, submitter.calls)
}
