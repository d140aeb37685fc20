package scene

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"presencecore/collab"
	"presencecore/geom"
	"presencecore/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParcelGridLandObjectAtFindsContainingParcel(t *testing.T) {
	g := NewParcelGrid()
	g.AddParcel(collab.Parcel{ID: 1, OwnerID: "owner-1"}, 0, 0, 10, 10)
	g.AddParcel(collab.Parcel{ID: 2, OwnerID: "owner-2"}, 10, 0, 20, 10)

	parcel, err := g.LandObjectAt(context.Background(), 15, 5)
	require.NoError(t, err)
	assert.Equal(t, collab.PresenceID("owner-2"), parcel.OwnerID)
}

func TestParcelGridLandObjectAtReturnsErrorOutsideAnyParcel(t *testing.T) {
	g := NewParcelGrid()
	g.AddParcel(collab.Parcel{ID: 1}, 0, 0, 10, 10)

	_, err := g.LandObjectAt(context.Background(), 50, 50)
	require.Error(t, err)
}

func TestParcelGridBanRoundTrip(t *testing.T) {
	g := NewParcelGrid()
	g.AddParcel(collab.Parcel{ID: 1}, 0, 0, 10, 10)
	g.Ban(1, "troublemaker")

	banned, err := g.IsBanned(context.Background(), 1, "troublemaker")
	require.NoError(t, err)
	assert.True(t, banned)

	banned, err = g.IsBanned(context.Background(), 1, "someone-else")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestLoadTelehubsParsesModesAndSpawnPoints(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telehubs.yaml")
	contents := `
regions:
  region-a:
    mode: sequence
    spawn_points:
      - [1, 2, 3]
      - [4, 5, 6]
  region-b:
    mode: closest
    spawn_points:
      - [0, 0, 0]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	hubs, err := LoadTelehubs(path)
	require.NoError(t, err)
	require.Contains(t, hubs, "region-a")
	require.Contains(t, hubs, "region-b")
	assert.Equal(t, presence.TelehubSequence, hubs["region-a"].Mode)
	assert.Len(t, hubs["region-a"].SpawnPoints, 2)
	assert.Equal(t, presence.TelehubClosest, hubs["region-b"].Mode)
}

func TestLoadTelehubsRejectsUnknownMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telehubs.yaml")
	contents := "regions:\n  region-a:\n    mode: teleportnow\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := LoadTelehubs(path)
	require.Error(t, err)
}

func TestWithBanCheckDeniesBannedPresence(t *testing.T) {
	g := NewParcelGrid()
	g.AddParcel(collab.Parcel{ID: 1}, 0, 0, 10, 10)
	g.Ban(1, "banned-avatar")

	check := WithBanCheck(context.Background(), g, "banned-avatar")
	assert.False(t, check(context.Background(), geom.Vec{X: 5, Y: 5}))
}
