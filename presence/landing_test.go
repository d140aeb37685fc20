package presence

import (
	"context"
	"testing"

	"presencecore/collab"
	"presencecore/geom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelehubSequenceCyclesThroughSpawnPoints(t *testing.T) {
	hub := &Telehub{Mode: TelehubSequence, SpawnPoints: []geom.Vec{{X: 1}, {X: 2}, {X: 3}}}

	first, err := hub.Route(context.Background())
	require.NoError(t, err)
	second, err := hub.Route(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestTelehubClosestPicksNearestPermitted(t *testing.T) {
	hub := &Telehub{
		Mode:        TelehubClosest,
		SpawnPoints: []geom.Vec{{X: 0}, {X: 10}, {X: 100}},
		Permitted: func(ctx context.Context, pos geom.Vec) bool {
			return pos.X != 0 // ban the nearest one
		},
	}
	hub.SetClosestTarget(geom.Vec{X: 1})

	pos, err := hub.Route(context.Background())
	require.NoError(t, err)
	assert.Equal(t, geom.Vec{X: 10}, pos)
}

// TestPermissiveTeleportWithLandingPointRedirect exercises the concrete
// scenario: an arriving non-owner, non-elevated avatar via login on a
// parcel with a non-zero landing point gets redirected there rather than
// to the requested position (spec.md §8 scenario 2).
func TestPermissiveTeleportWithLandingPointRedirect(t *testing.T) {
	req := LandingRequest{
		Requester:       "visitor",
		RequesterAccess: 0,
		Position:        geom.Vec{X: 1, Y: 1, Z: 1},
		TeleportFlags:   TeleportViaLogin,
		Parcel: collab.Parcel{
			OwnerID:      "owner",
			LandingType:  collab.LandingPoint,
			UserLocation: geom.Vec{X: 50, Y: 50, Z: 0},
		},
	}
	decision, err := PermissivePolicy{}.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, decision.Redirected)
	assert.Equal(t, geom.Vec{X: 50, Y: 50, Z: 0}, decision.Position)
}

func TestPermissiveTeleportNoTelehubNoRedirectForOwner(t *testing.T) {
	req := LandingRequest{
		Requester:       "owner",
		Position:        geom.Vec{X: 1, Y: 1, Z: 1},
		TeleportFlags:   TeleportViaLogin,
		Parcel: collab.Parcel{
			OwnerID:      "owner",
			LandingType:  collab.LandingPoint,
			UserLocation: geom.Vec{X: 50, Y: 50, Z: 0},
		},
	}
	decision, err := PermissivePolicy{}.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, decision.Redirected)
	assert.Equal(t, req.Position, decision.Position)
}

func TestStrictPolicyNeverRedirectsElevatedAccess(t *testing.T) {
	req := LandingRequest{
		RequesterAccess:       200,
		Position:              geom.Vec{X: 1, Y: 1, Z: 1},
		DirectTeleportAllowed: false,
		Telehub:               &Telehub{Mode: TelehubSequence, SpawnPoints: []geom.Vec{{X: 9}}},
	}
	decision, err := StrictPolicy{}.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, decision.Redirected)
	assert.Equal(t, req.Position, decision.Position)
}

func TestStrictPolicyTelehubWhenDirectDisallowed(t *testing.T) {
	req := LandingRequest{
		DirectTeleportAllowed: false,
		Telehub:               &Telehub{Mode: TelehubSequence, SpawnPoints: []geom.Vec{{X: 9}}},
	}
	decision, err := StrictPolicy{}.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, decision.Redirected)
	assert.Equal(t, geom.Vec{X: 9}, decision.Position)
}
