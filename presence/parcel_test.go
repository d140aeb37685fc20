package presence

import (
	"context"
	"testing"

	"presencecore/collab"

	"github.com/stretchr/testify/assert"
)

func TestVisibleToEnforcesInvariant3(t *testing.T) {
	p := newTestPresence()
	p.OnParcelMove(context.Background(), 5, true, nil)

	assert.False(t, p.VisibleTo(6, 0))
	assert.True(t, p.VisibleTo(5, 0))
	assert.True(t, p.VisibleTo(6, 200))
}

func TestPublicToPublicIsNoOp(t *testing.T) {
	p := newTestPresence()
	peers := []peerParcelInfo{{ID: "a", ParcelID: 1}}
	tr := p.OnParcelMove(context.Background(), 2, false, peers)
	assert.Empty(t, tr.KillToThem)
	assert.Empty(t, tr.KillToMe)
	assert.Empty(t, tr.ShowToThem)
	assert.Empty(t, tr.ShowToMe)
}

// TestPublicToPrivateKillsPreviousShowsCurrent is the concrete parcel
// privacy scenario from spec.md §8: crossing from a public parcel into a
// private one kills visibility with the former parcel's occupants and
// shows it to the new parcel's occupants, both ways.
func TestPublicToPrivateKillsPreviousShowsCurrent(t *testing.T) {
	p := newTestPresence()
	p.OnParcelMove(context.Background(), 1, false, nil)
	peers := []peerParcelInfo{
		{ID: "old-neighbour", ParcelID: 1},
		{ID: "new-neighbour", ParcelID: 2},
		{ID: "unrelated", ParcelID: 3},
	}

	tr := p.OnParcelMove(context.Background(), 2, true, peers)

	assert.ElementsMatch(t, []collab.PresenceID{"old-neighbour"}, tr.KillToThem)
	assert.ElementsMatch(t, []collab.PresenceID{"old-neighbour"}, tr.KillToMe)
	assert.ElementsMatch(t, []collab.PresenceID{"new-neighbour"}, tr.ShowToThem)
	assert.ElementsMatch(t, []collab.PresenceID{"new-neighbour"}, tr.ShowToMe)
}

// TestPublicToPrivateElevatedPeerAlwaysSees covers the elevated-access
// override (spec.md §4.5) on the public -> private branch specifically:
// a god-level peer standing in the presence's former (now-killed) parcel
// must still land in both show sets rather than being killed.
func TestPublicToPrivateElevatedPeerAlwaysSees(t *testing.T) {
	p := newTestPresence()
	p.OnParcelMove(context.Background(), 1, false, nil)
	peers := []peerParcelInfo{
		{ID: "god", ParcelID: 1, AccessLevel: 200},
		{ID: "old-neighbour", ParcelID: 1},
	}

	tr := p.OnParcelMove(context.Background(), 2, true, peers)

	assert.Contains(t, tr.ShowToThem, collab.PresenceID("god"))
	assert.Contains(t, tr.ShowToMe, collab.PresenceID("god"))
	assert.NotContains(t, tr.KillToThem, collab.PresenceID("god"))
	assert.NotContains(t, tr.KillToMe, collab.PresenceID("god"))
	assert.Contains(t, tr.KillToThem, collab.PresenceID("old-neighbour"))
}

func TestPrivateToPublicElevatedPeerAlwaysSees(t *testing.T) {
	p := newTestPresence()
	p.OnParcelMove(context.Background(), 1, true, nil)

	peers := []peerParcelInfo{
		{ID: "god", ParcelID: 99, AccessLevel: 200},
		{ID: "stranger", ParcelID: 50},
	}
	tr := p.OnParcelMove(context.Background(), 2, false, peers)

	assert.Contains(t, tr.ShowToThem, collab.PresenceID("god"))
	assert.Contains(t, tr.ShowToMe, collab.PresenceID("god"))
	assert.Contains(t, tr.ShowToThem, collab.PresenceID("stranger"))
}

func TestGodToggleShowsOrKillsNonLocalPeers(t *testing.T) {
	p := newTestPresence()
	p.OnParcelMove(context.Background(), 1, false, nil)

	peers := []peerParcelInfo{{ID: "a", ParcelID: 2}, {ID: "b", ParcelID: 1}}

	shown := p.GodToggle(context.Background(), true, peers)
	assert.Equal(t, []collab.PresenceID{"a"}, shown.ShowToThem)

	killed := p.GodToggle(context.Background(), false, peers)
	assert.Equal(t, []collab.PresenceID{"a"}, killed.KillToThem)
}
