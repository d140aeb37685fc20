package presence

import (
	"context"
	"testing"

	"presencecore/collab"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectForTable(t *testing.T) {
	assert.Equal(t, EffectIgnoreSilent, EffectFor(false, false))
	assert.Equal(t, EffectIgnoreAndEmit, EffectFor(true, false))
	assert.Equal(t, EffectPassAndEmit, EffectFor(true, true))
	assert.Equal(t, EffectRelease, EffectFor(false, true))
}

func TestIgnoreMaskIsUnionOfRegistrations(t *testing.T) {
	p := newTestPresence()
	p.Register(1, 10, CtrlAtPos, CtrlAtPos, true, false)
	p.Register(2, 11, CtrlLeftPos, CtrlLeftPos, true, false)

	assert.Equal(t, CtrlAtPos|CtrlLeftPos, p.IgnoreMask())

	p.Unregister(10)
	assert.Equal(t, CtrlLeftPos, p.IgnoreMask())
}

func TestRegisterUnregisterIgnoreMaskRoundTrip(t *testing.T) {
	p := newTestPresence()
	before := p.IgnoreMask()

	p.Register(1, 10, CtrlAtPos|CtrlAtNeg, CtrlAtPos|CtrlAtNeg, true, false)
	p.Unregister(10)

	assert.Equal(t, before, p.IgnoreMask())
}

// TestScriptControlsForwardBackwardScenario exercises the concrete
// scenario: a script registers FWD|BACK with accept=1, pass_on=0. A FWD
// press emits held=FWD,changed=FWD; the following FWD release emits
// held=0,changed=FWD (spec.md §8 scenario 4).
func TestScriptControlsForwardBackwardScenario(t *testing.T) {
	p := newTestPresence()
	p.Register(1, 10, CtrlAtPos|CtrlAtNeg, CtrlAtPos|CtrlAtNeg, true, false)

	sink := &testEventSink{}

	require.NoError(t, p.DispatchControlEvents(context.Background(), sink, CtrlAtPos, 0, 0))
	require.Len(t, sink.events, 1)
	assert.Equal(t, CtrlAtPos, sink.events[0].held)
	assert.Equal(t, CtrlAtPos, sink.events[0].changed)

	require.NoError(t, p.DispatchControlEvents(context.Background(), sink, 0, 0, 0))
	require.Len(t, sink.events, 2)
	assert.Equal(t, ControlFlags(0), sink.events[1].held)
	assert.Equal(t, CtrlAtPos, sink.events[1].changed)
}

func TestIgnoreSilentSuppressesEmission(t *testing.T) {
	// accept=0, pass_on=0 registers ignore-only, no emission expected.
	p := newTestPresence()
	p.Register(1, 10, CtrlAtPos, CtrlAtPos, false, false)

	sink := &testEventSink{}
	require.NoError(t, p.DispatchControlEvents(context.Background(), sink, CtrlAtPos, 0, 0))
	assert.Empty(t, sink.events)
}

type controlEvent struct {
	held, changed ControlFlags
}

type testEventSink struct {
	events []controlEvent
}

func (s *testEventSink) EmitControlEvent(ctx context.Context, itemID collab.LocalID, held, changed ControlFlags) error {
	s.events = append(s.events, controlEvent{held: held, changed: changed})
	return nil
}
