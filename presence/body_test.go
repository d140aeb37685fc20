package presence

import (
	"testing"

	"presencecore/collab"
	"presencecore/geom"

	"github.com/stretchr/testify/assert"
)

func TestApplyDamageDecrementsHealthOnPenetration(t *testing.T) {
	p := newTestPresence()
	killed := p.applyDamage([]collab.Contact{{PenetrationDepth: 1.0}})
	assert.False(t, killed)
	assert.Equal(t, 95.0, p.Health())
}

func TestApplyDamageSkipsInvulnerable(t *testing.T) {
	p := newTestPresence()
	p.Invulnerable = true
	p.applyDamage([]collab.Contact{{PenetrationDepth: 1.0}})
	assert.Equal(t, 100.0, p.Health())
}

func TestApplyDamageRegeneratesWithNoContacts(t *testing.T) {
	p := newTestPresence()
	p.setHealth(90)
	p.applyDamage(nil)
	assert.Equal(t, 90.03, p.Health())
}

func TestUpdateCollisionPlaneSelectsLowestFeetContact(t *testing.T) {
	p := newTestPresence()
	p.updateCollisionPlane(map[collab.LocalID]collab.Contact{
		1: {CharacterFeet: true, Point: geom.Vec{Z: 5}, Normal: geom.Vec{Z: 1}},
		2: {CharacterFeet: true, Point: geom.Vec{Z: 1}, Normal: geom.Vec{Z: 1}},
		3: {CharacterFeet: false, Point: geom.Vec{Z: -10}},
	})
	normal, point := p.CollisionPlane()
	assert.Equal(t, -1.0, normal.Z)
	assert.Equal(t, 1.0, point.Z)
}
