package scene

import (
	"context"
	"testing"

	"presencecore/collab"
	"presencecore/geom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresencesReturnsSnapshot(t *testing.T) {
	s := NewInMemoryScene(0, NewParcelGrid())
	s.Enter("a")
	s.Enter("b")

	got := s.Presences(context.Background())
	assert.ElementsMatch(t, []collab.PresenceID{"a", "b"}, got)

	s.Enter("c")
	assert.Len(t, got, 2, "earlier snapshot must not observe later mutation")
}

func TestGroundHeightReturnsConfiguredPlane(t *testing.T) {
	s := NewInMemoryScene(42, NewParcelGrid())
	h, err := s.GroundHeight(context.Background(), 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 42.0, h)
}

func TestRayCastHitsPartAlongDirection(t *testing.T) {
	s := NewInMemoryScene(0, NewParcelGrid())
	s.PutPart(collab.Part{ID: 7, WorldPosition: geom.Vec{X: 10}})

	hits, err := s.RayCast(context.Background(), geom.Vec{}, geom.Vec{X: 1}, 20, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, collab.LocalID(7), hits[0].PartID)
}

func TestRayCastSkipsPartsBehindOrigin(t *testing.T) {
	s := NewInMemoryScene(0, NewParcelGrid())
	s.PutPart(collab.Part{ID: 7, WorldPosition: geom.Vec{X: -10}})

	hits, err := s.RayCast(context.Background(), geom.Vec{}, geom.Vec{X: 1}, 20, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStatsForwardsToInstalledSink(t *testing.T) {
	s := NewInMemoryScene(0, NewParcelGrid())
	var gotName string
	var gotValue float64
	s.SetStatsSink(func(name string, value float64) {
		gotName, gotValue = name, value
	})

	s.Stats("presence_count", 3)
	assert.Equal(t, "presence_count", gotName)
	assert.Equal(t, 3.0, gotValue)
}
