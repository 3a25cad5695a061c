package toggle

import (
	"errors"
	"math"
	"testing"

	"github.com/jkaflik/garage2mqtt/internal/cover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSwitch struct {
	now     *uint32
	presses []uint32
	err     error
}

func (s *fakeSwitch) Press() error {
	if s.err != nil {
		return s.err
	}
	var at uint32
	if s.now != nil {
		at = *s.now
	}
	s.presses = append(s.presses, at)
	return nil
}

type recorder struct {
	states []cover.State
}

func (r *recorder) handler() cover.UpdateHandler {
	return func(state cover.State) {
		r.states = append(r.states, state)
	}
}

func (r *recorder) last() cover.State {
	return r.states[len(r.states)-1]
}

var scenarioConfig = Config{
	SwitchPressInterval: 500,
	OpenDuration:        10000,
	CloseDuration:       8000,
}

func newTestController(t *testing.T, cfg Config) (*Controller, *fakeSwitch, *recorder) {
	t.Helper()

	sw := &fakeSwitch{}
	c, err := New("garage", sw, cfg)
	require.NoError(t, err)

	rec := &recorder{}
	c.OnUpdate(rec.handler())

	return c, sw, rec
}

// tickAt ticks the controller and records the press time on the fake switch.
func tickAt(c *Controller, sw *fakeSwitch, now uint32) {
	sw.now = &now
	c.Tick(now)
}

func TestNew(t *testing.T) {
	t.Run("zero open duration is rejected", func(t *testing.T) {
		_, err := New("garage", &fakeSwitch{}, Config{CloseDuration: 1000})
		assert.Error(t, err)
	})

	t.Run("zero close duration is rejected", func(t *testing.T) {
		_, err := New("garage", &fakeSwitch{}, Config{OpenDuration: 1000})
		assert.Error(t, err)
	})

	t.Run("missing switch is rejected", func(t *testing.T) {
		_, err := New("garage", nil, scenarioConfig)
		assert.Error(t, err)
	})

	t.Run("new controller is idle without target", func(t *testing.T) {
		c, err := New("garage", &fakeSwitch{}, scenarioConfig)
		require.NoError(t, err)
		assert.Equal(t, cover.OperationIdle, c.State().Operation)
		assert.Equal(t, TargetNone, c.targetOperation)
		assert.Equal(t, "garage", c.Name())
		assert.Equal(t, scenarioConfig, c.Config())
	})
}

func TestTargetImplies(t *testing.T) {
	op, ok := targetImplies(TargetIdle)
	assert.True(t, ok)
	assert.Equal(t, cover.OperationIdle, op)

	op, ok = targetImplies(TargetOpen)
	assert.True(t, ok)
	assert.Equal(t, cover.OperationOpening, op)

	op, ok = targetImplies(TargetClose)
	assert.True(t, ok)
	assert.Equal(t, cover.OperationClosing, op)

	_, ok = targetImplies(TargetNone)
	assert.False(t, ok)

	_, ok = targetImplies(TargetActivateOnce)
	assert.False(t, ok)
}

func TestSetup(t *testing.T) {
	t.Run("open endstop seeds fully open", func(t *testing.T) {
		c, _, rec := newTestController(t, scenarioConfig)
		c.Setup(0, true, false)
		assert.Equal(t, cover.PositionOpen, c.position)
		assert.Equal(t, cover.OperationOpening, c.lastOperation)
		assert.Equal(t, c.position, c.targetPosition)
		assert.Len(t, rec.states, 1)
	})

	t.Run("close endstop seeds fully closed", func(t *testing.T) {
		c, _, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, true)
		assert.Equal(t, cover.PositionClosed, c.position)
		assert.Equal(t, cover.OperationClosing, c.lastOperation)
	})

	t.Run("no endstop seeds the midpoint", func(t *testing.T) {
		c, _, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		assert.Equal(t, 0.5, c.position)
		assert.Equal(t, 0.5, c.targetPosition)
	})

	t.Run("both endstops prefer closed and raise a fault", func(t *testing.T) {
		c, _, rec := newTestController(t, scenarioConfig)
		c.Setup(0, true, true)
		assert.Equal(t, cover.PositionClosed, c.position)
		assert.Equal(t, cover.FaultEndstopConflict, rec.last().Fault)
	})
}

func TestReseed(t *testing.T) {
	t.Run("endstop settled after boot corrects the midpoint guess", func(t *testing.T) {
		c, _, rec := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		c.Reseed(2000, true, false)
		assert.Equal(t, cover.PositionOpen, c.position)
		assert.Equal(t, cover.PositionOpen, rec.last().Position)
	})

	t.Run("moving door keeps its estimate", func(t *testing.T) {
		c, sw, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		c.Control(Command{Kind: CommandToggle})
		tickAt(c, sw, 100)
		require.NotEqual(t, cover.OperationIdle, c.currentOperation)

		c.Reseed(2000, false, true)
		assert.NotEqual(t, cover.OperationIdle, c.currentOperation)
		assert.Equal(t, 0.5, c.position)
	})

	t.Run("no endstop keeps a restored position", func(t *testing.T) {
		c, _, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		require.True(t, c.Restore(0.3))
		c.Reseed(2000, false, false)
		assert.Equal(t, 0.3, c.position)
	})
}

func TestRestore(t *testing.T) {
	t.Run("applies to an idle door between endstops", func(t *testing.T) {
		c, _, rec := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		assert.True(t, c.Restore(1.7))
		assert.Equal(t, cover.PositionOpen, c.position)
		assert.Equal(t, cover.PositionOpen, rec.last().Position)
	})

	t.Run("ignored when an endstop is asserted", func(t *testing.T) {
		c, _, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, true)
		assert.False(t, c.Restore(0.4))
		assert.Equal(t, cover.PositionClosed, c.position)
	})
}

func TestPositionCommandClamping(t *testing.T) {
	for _, p := range []float64{-10, -0.01, 0, 0.25, 0.5, 0.99, 1, 1.5, 100, math.Inf(1), math.Inf(-1)} {
		c, _, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		c.Control(PositionCommand(p))

		assert.GreaterOrEqual(t, c.targetPosition, 0.0, "position %v", p)
		assert.LessOrEqual(t, c.targetPosition, 1.0, "position %v", p)
	}
}

func TestPositionCommandClampedToExtremes(t *testing.T) {
	c, _, _ := newTestController(t, scenarioConfig)
	c.Setup(0, false, false)

	c.Control(PositionCommand(1.5))
	assert.Equal(t, TargetOpen, c.targetOperation)
	assert.Equal(t, cover.PositionOpen, c.targetPosition)

	c.Control(PositionCommand(-0.2))
	assert.Equal(t, TargetClose, c.targetOperation)
	assert.Equal(t, cover.PositionClosed, c.targetPosition)
}

func TestPositionCommand(t *testing.T) {
	t.Run("lower position targets close", func(t *testing.T) {
		c, _, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		c.Control(PositionCommand(0.2))
		assert.Equal(t, TargetClose, c.targetOperation)
		assert.Equal(t, 0.2, c.targetPosition)
	})

	t.Run("higher position targets open", func(t *testing.T) {
		c, _, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		c.Control(PositionCommand(0.8))
		assert.Equal(t, TargetOpen, c.targetOperation)
	})

	t.Run("current position is a no-op", func(t *testing.T) {
		c, _, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		c.Control(PositionCommand(0.5))
		assert.Equal(t, TargetNone, c.targetOperation)
	})
}

func TestStopIdempotence(t *testing.T) {
	t.Run("stop while idle does nothing", func(t *testing.T) {
		c, sw, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, true)
		c.Control(Command{Kind: CommandStop})
		c.Control(Command{Kind: CommandStop})
		assert.Equal(t, TargetNone, c.targetOperation)

		for now := uint32(0); now < 5000; now += 10 {
			tickAt(c, sw, now)
		}
		assert.Empty(t, sw.presses)
	})

	t.Run("stop twice while moving presses once", func(t *testing.T) {
		c, sw, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, true)
		c.Control(PositionCommand(1))
		tickAt(c, sw, 10)
		require.Equal(t, cover.OperationOpening, c.currentOperation)
		require.Len(t, sw.presses, 1)

		c.Control(Command{Kind: CommandStop})
		c.Control(Command{Kind: CommandStop})
		for now := uint32(20); now < 3000; now += 10 {
			tickAt(c, sw, now)
		}

		assert.Len(t, sw.presses, 2)
		assert.Equal(t, cover.OperationIdle, c.currentOperation)
		assert.Equal(t, TargetNone, c.targetOperation)
	})
}

func TestToggleCycle(t *testing.T) {
	c, sw, _ := newTestController(t, scenarioConfig)
	c.Setup(0, false, true)
	require.Equal(t, cover.OperationClosing, c.lastOperation)

	var ops []cover.Operation
	for _, now := range []uint32{1000, 2000, 3000} {
		sw.now = &now
		require.True(t, c.activate(now))
		ops = append(ops, c.currentOperation)
	}

	assert.Equal(t, []cover.Operation{cover.OperationOpening, cover.OperationIdle, cover.OperationClosing}, ops)
	assert.Len(t, sw.presses, 3)
}

func TestActivateDebounce(t *testing.T) {
	c, sw, rec := newTestController(t, scenarioConfig)
	c.Setup(0, false, false)

	now := uint32(1000)
	sw.now = &now
	require.True(t, c.activate(now))
	published := len(rec.states)

	t.Run("press inside the interval is suppressed without side effects", func(t *testing.T) {
		state := c.State()
		assert.False(t, c.activate(1500))
		assert.Equal(t, state, c.State())
		assert.Len(t, sw.presses, 1)
		assert.Len(t, rec.states, published)
	})

	t.Run("press after the interval goes through", func(t *testing.T) {
		assert.True(t, c.activate(1501))
		assert.Len(t, sw.presses, 2)
	})
}

func TestDebounceAcrossTicks(t *testing.T) {
	c, sw, _ := newTestController(t, scenarioConfig)
	c.Setup(0, false, false)

	commands := []Command{
		{Kind: CommandToggle},
		PositionCommand(0.1),
		{Kind: CommandStop},
		PositionCommand(0.9),
		{Kind: CommandPress},
		{Kind: CommandToggle},
	}
	for now := uint32(0); now < 60000; now += 7 {
		if now%311 == 0 {
			c.Control(commands[(now/311)%uint32(len(commands))])
		}
		tickAt(c, sw, now)
	}

	require.NotEmpty(t, sw.presses)
	for i := 1; i < len(sw.presses); i++ {
		assert.Greater(t, sw.presses[i]-sw.presses[i-1], scenarioConfig.SwitchPressInterval)
	}
}

func TestScenarioIntermediatePosition(t *testing.T) {
	c, sw, _ := newTestController(t, scenarioConfig)
	c.Setup(0, false, false)
	c.lastOperation = cover.OperationClosing

	c.Control(PositionCommand(0.8))
	assert.Equal(t, TargetOpen, c.targetOperation)

	tickAt(c, sw, 500)
	assert.Equal(t, cover.OperationOpening, c.currentOperation)
	assert.Len(t, sw.presses, 1)

	tickAt(c, sw, 1000)
	assert.Equal(t, TargetNone, c.targetOperation, "reached target operation is cleared")
	assert.InDelta(t, 0.55, c.position, 1e-9)

	tickAt(c, sw, 3500)
	assert.Equal(t, cover.OperationIdle, c.currentOperation)
	assert.Len(t, sw.presses, 2)
	assert.InDelta(t, 0.8, c.position, 1e-9)

	for now := uint32(3510); now < 8000; now += 10 {
		tickAt(c, sw, now)
	}
	assert.Len(t, sw.presses, 2)
	assert.InDelta(t, 0.8, c.position, 1e-9)
}

func TestFullRangeTargetLeftToEndstop(t *testing.T) {
	c, sw, _ := newTestController(t, scenarioConfig)
	c.Setup(0, false, true)

	c.Control(PositionCommand(1))
	for now := uint32(10); now <= 15000; now += 10 {
		tickAt(c, sw, now)
	}

	assert.Len(t, sw.presses, 1, "estimator reaching 1.0 must not stop the door")
	assert.Equal(t, cover.OperationOpening, c.currentOperation)
	assert.Equal(t, cover.PositionOpen, c.position)

	c.EndstopEdge(15005, EndstopClose, false)
	c.EndstopEdge(15010, EndstopOpen, true)
	assert.Equal(t, cover.OperationIdle, c.currentOperation)
}

func TestReversalThroughStop(t *testing.T) {
	c, sw, _ := newTestController(t, scenarioConfig)
	c.Setup(0, false, false)
	c.lastOperation = cover.OperationOpening

	// idle with last direction opening: first press closes, so opening takes three presses
	c.Control(PositionCommand(0.9))
	for now := uint32(0); now <= 2000; now += 10 {
		tickAt(c, sw, now)
	}

	require.Len(t, sw.presses, 3)
	assert.Equal(t, cover.OperationOpening, c.currentOperation)
	assert.Equal(t, TargetNone, c.targetOperation)
}

func TestToggleCommand(t *testing.T) {
	c, sw, _ := newTestController(t, scenarioConfig)
	c.Setup(0, false, true)

	c.Control(PositionCommand(0.3))
	c.Control(Command{Kind: CommandToggle})
	assert.Equal(t, TargetNone, c.targetOperation, "toggle clears a pending target")

	tickAt(c, sw, 10)
	assert.False(t, c.toggleRequested)
	assert.Equal(t, cover.OperationOpening, c.currentOperation)
	assert.Equal(t, cover.PositionOpen, c.targetPosition)

	c.Control(Command{Kind: CommandToggle})
	tickAt(c, sw, 100)
	assert.True(t, c.toggleRequested, "debounced toggle stays pending")

	tickAt(c, sw, 600)
	assert.False(t, c.toggleRequested)
	assert.Equal(t, cover.OperationIdle, c.currentOperation)
	assert.Equal(t, c.position, c.targetPosition)
}

func TestPressCommand(t *testing.T) {
	c, sw, _ := newTestController(t, scenarioConfig)
	c.Setup(0, true, false)

	c.Control(Command{Kind: CommandPress})
	tickAt(c, sw, 10)

	assert.Len(t, sw.presses, 1)
	assert.Equal(t, TargetNone, c.targetOperation)
	assert.Equal(t, cover.OperationClosing, c.currentOperation)
	assert.Equal(t, cover.PositionClosed, c.targetPosition)

	for now := uint32(20); now < 3000; now += 10 {
		tickAt(c, sw, now)
	}
	assert.Len(t, sw.presses, 1)
}

func TestEndstopAuthority(t *testing.T) {
	t.Run("close endstop overrides a drifted estimate", func(t *testing.T) {
		c, sw, rec := newTestController(t, scenarioConfig)
		c.Setup(0, true, false)
		c.Control(PositionCommand(0))
		for now := uint32(10); now <= 5000; now += 10 {
			tickAt(c, sw, now)
		}
		c.EndstopEdge(5000, EndstopOpen, false)
		require.Equal(t, cover.OperationClosing, c.currentOperation)
		require.Greater(t, c.position, 0.0)

		c.EndstopEdge(5005, EndstopClose, true)
		assert.Equal(t, cover.PositionClosed, c.position)
		assert.Equal(t, cover.OperationIdle, c.currentOperation)
		assert.Equal(t, cover.OperationClosing, c.lastOperation)
		assert.Equal(t, TargetNone, c.targetOperation)
		assert.Equal(t, cover.State{Position: 0, Operation: cover.OperationIdle}, rec.last())
		assert.Equal(t, uint32(5005), c.lastActivationTime)
	})

	t.Run("open endstop overrides an estimate that fell short", func(t *testing.T) {
		c, sw, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		c.lastOperation = cover.OperationClosing
		c.Control(Command{Kind: CommandToggle})
		tickAt(c, sw, 10)
		require.Equal(t, cover.OperationOpening, c.currentOperation)
		tickAt(c, sw, 1000)
		require.Less(t, c.position, 1.0)

		c.EndstopEdge(1001, EndstopOpen, true)
		assert.Equal(t, cover.PositionOpen, c.position)
		assert.Equal(t, cover.OperationIdle, c.currentOperation)
	})
}

func TestExternalMotion(t *testing.T) {
	t.Run("leaving the close endstop unasked means external opening", func(t *testing.T) {
		c, sw, rec := newTestController(t, scenarioConfig)
		c.Setup(0, false, true)

		c.EndstopEdge(1000, EndstopClose, false)
		assert.Equal(t, cover.OperationOpening, c.currentOperation)
		assert.Equal(t, cover.OperationOpening, c.lastOperation)
		assert.Equal(t, cover.PositionOpen, c.targetPosition)
		assert.Equal(t, cover.OperationOpening, rec.last().Operation)
		assert.Empty(t, sw.presses)

		tickAt(c, sw, 6000)
		assert.InDelta(t, 0.5, c.position, 1e-9)
		assert.Empty(t, sw.presses, "external full range motion is not stopped")
	})

	t.Run("leaving the open endstop unasked means external closing", func(t *testing.T) {
		c, _, _ := newTestController(t, scenarioConfig)
		c.Setup(0, true, false)

		c.EndstopEdge(1000, EndstopOpen, false)
		assert.Equal(t, cover.OperationClosing, c.currentOperation)
		assert.Equal(t, cover.PositionClosed, c.targetPosition)
	})

	t.Run("self caused departure is a no-op", func(t *testing.T) {
		c, sw, rec := newTestController(t, scenarioConfig)
		c.Setup(0, false, true)
		c.Control(PositionCommand(0.6))
		tickAt(c, sw, 10)
		require.Equal(t, cover.OperationOpening, c.currentOperation)
		published := len(rec.states)

		c.EndstopEdge(200, EndstopClose, false)
		assert.Equal(t, cover.OperationOpening, c.currentOperation)
		assert.Equal(t, 0.6, c.targetPosition)
		assert.Len(t, rec.states, published)
	})

	t.Run("repeated level is ignored", func(t *testing.T) {
		c, _, rec := newTestController(t, scenarioConfig)
		c.Setup(0, false, false)
		published := len(rec.states)

		c.EndstopEdge(10, EndstopClose, false)
		assert.Equal(t, cover.OperationIdle, c.currentOperation)
		assert.Len(t, rec.states, published)
	})
}

func TestEndstopConflict(t *testing.T) {
	c, sw, rec := newTestController(t, scenarioConfig)
	c.Setup(0, true, false)

	c.EndstopEdge(100, EndstopClose, true)
	assert.Equal(t, cover.FaultEndstopConflict, c.State().Fault)
	assert.Equal(t, cover.PositionClosed, c.position)
	assert.Equal(t, cover.OperationIdle, c.currentOperation)

	c.EndstopEdge(200, EndstopClose, false)
	assert.Equal(t, cover.FaultNone, c.State().Fault)
	assert.Equal(t, cover.PositionOpen, c.position, "open endstop alone is trusted again")
	assert.Equal(t, cover.OperationIdle, c.currentOperation, "clearing the fault infers no motion")
	assert.Equal(t, cover.FaultNone, rec.last().Fault)
	assert.Empty(t, sw.presses)
}

func TestPublishThrottle(t *testing.T) {
	c, sw, rec := newTestController(t, scenarioConfig)
	c.Setup(0, false, true)
	c.Control(PositionCommand(1))

	tickAt(c, sw, 10)
	published := len(rec.states)

	for now := uint32(20); now <= 1010; now += 10 {
		tickAt(c, sw, now)
	}
	assert.Len(t, rec.states, published, "no periodic publish within a second")

	tickAt(c, sw, 1011)
	assert.Len(t, rec.states, published+1)
	assert.Equal(t, cover.OperationOpening, rec.last().Operation)

	tickAt(c, sw, 1500)
	assert.Len(t, rec.states, published+1)
}

func TestIdleDoesNotPublishPeriodically(t *testing.T) {
	c, sw, rec := newTestController(t, scenarioConfig)
	c.Setup(0, false, true)

	for now := uint32(0); now < 10000; now += 10 {
		tickAt(c, sw, now)
	}
	assert.Len(t, rec.states, 1)
}

func TestClockWraparound(t *testing.T) {
	t.Run("estimate spans the rollover", func(t *testing.T) {
		c, sw, _ := newTestController(t, scenarioConfig)
		start := uint32(math.MaxUint32 - 999)
		c.Setup(start, false, true)

		c.Control(PositionCommand(0.5))
		tickAt(c, sw, start)
		require.Equal(t, cover.OperationOpening, c.currentOperation)

		// 1000ms up to the rollover and 1000ms after it
		tickAt(c, sw, 1000)
		assert.InDelta(t, 0.2, c.position, 1e-9)

		c.Control(Command{Kind: CommandStop})
		tickAt(c, sw, 1001)
		assert.Equal(t, cover.OperationIdle, c.currentOperation)
		assert.Len(t, sw.presses, 2)
	})

	t.Run("debounce holds across the rollover", func(t *testing.T) {
		c, _, _ := newTestController(t, scenarioConfig)
		c.Setup(0, false, true)

		require.True(t, c.activate(math.MaxUint32-100))
		assert.False(t, c.activate(200))
		assert.True(t, c.activate(500))
	})
}

func TestPressFailureBacksOff(t *testing.T) {
	c, sw, rec := newTestController(t, scenarioConfig)
	c.Setup(0, false, true)
	sw.err = errors.New("i2c write failed")

	c.Control(PositionCommand(1))
	tickAt(c, sw, 10)
	assert.Equal(t, cover.OperationIdle, c.currentOperation)
	assert.Len(t, rec.states, 1)

	sw.err = nil
	tickAt(c, sw, 300)
	assert.Empty(t, sw.presses, "retry waits one press interval")

	tickAt(c, sw, 600)
	assert.Len(t, sw.presses, 1)
	assert.Equal(t, cover.OperationOpening, c.currentOperation)
}
