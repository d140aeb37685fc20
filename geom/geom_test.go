package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/num/quat"
)

func TestHorizontalProjectDropsZ(t *testing.T) {
	v := HorizontalProject(Vec{X: 1, Y: 2, Z: 3})
	assert.Equal(t, Vec{X: 1, Y: 2, Z: 0}, v)
}

func TestClampToRegionBounds(t *testing.T) {
	v := ClampToRegion(Vec{X: -5, Y: 1000, Z: 20}, 256, 256)
	assert.Equal(t, 0.5, v.X)
	assert.Equal(t, 255.5, v.Y)
	assert.Equal(t, 20.0, v.Z)
}

func TestRotateVecIdentity(t *testing.T) {
	identity := quat.Number{Real: 1}
	v := Vec{X: 1, Y: 2, Z: 3}
	got := RotateVec(identity, v)
	assert.InDelta(t, v.X, got.X, 1e-9)
	assert.InDelta(t, v.Y, got.Y, 1e-9)
	assert.InDelta(t, v.Z, got.Z, 1e-9)
}

func TestImpulseTableHasTwelveEntries(t *testing.T) {
	assert.Len(t, ImpulseTable, 12)
	for _, v := range ImpulseTable {
		mag := v.X*v.X + v.Y*v.Y + v.Z*v.Z
		assert.InDelta(t, 1.0, mag, 1e-9, "each impulse must be a unit vector")
	}
}

func TestFlyingRollAccumulatesAndClamps(t *testing.T) {
	roll := 0.0
	for i := 0; i < 100; i++ {
		roll = FlyingRoll(roll, true, false, false, false)
	}
	assert.InDelta(t, FlyingRollMax, roll, 1e-9)
}

func TestFlyingRollRelaxesToZero(t *testing.T) {
	roll := 0.5
	for i := 0; i < 100; i++ {
		roll = FlyingRoll(roll, false, false, false, false)
	}
	assert.InDelta(t, 0.0, roll, 1e-9)
}

func TestRoundCameraPlane(t *testing.T) {
	n := RoundCameraPlaneNormal(Vec{X: 0.12345, Y: -0.98765, Z: 0.001})
	assert.Equal(t, Vec{X: 0.12, Y: -0.99, Z: 0.0}, n)

	p := RoundCameraPlanePoint(Vec{X: 1.25, Y: 2.34, Z: -0.05})
	assert.Equal(t, 1.3, p.X)
	assert.Equal(t, 2.3, p.Y)
}

func TestIsOutsideView(t *testing.T) {
	assert.False(t, IsOutsideView(10, 10, 256, 256))
	assert.True(t, IsOutsideView(500, 10, 256, 256))
}
