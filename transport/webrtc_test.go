package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebRTCSendToUnregisteredPresenceReturnsError(t *testing.T) {
	sink := NewWebRTCSink()
	err := sink.SendHealth(nil, "avatar-1", 50)
	assert.Error(t, err)
}

func TestWebRTCCloseOnUnknownPresenceIsNoop(t *testing.T) {
	sink := NewWebRTCSink()
	assert.NotPanics(t, func() { sink.Close("ghost") })
}
