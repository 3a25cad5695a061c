package cover

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateName(t *testing.T) {
	t.Run("moving door reports its direction regardless of position", func(t *testing.T) {
		assert.Equal(t, CoverOpeningState, State{Position: 0, Operation: OperationOpening}.Name())
		assert.Equal(t, CoverClosingState, State{Position: 1, Operation: OperationClosing}.Name())
	})

	t.Run("idle door at an endstop is open or closed", func(t *testing.T) {
		assert.Equal(t, CoverClosedState, State{Position: PositionClosed}.Name())
		assert.Equal(t, CoverOpenState, State{Position: PositionOpen}.Name())
	})

	t.Run("idle door in between is stopped", func(t *testing.T) {
		assert.Equal(t, CoverStoppedState, State{Position: 0.4}.Name())
	})
}

func TestOperationMarshalText(t *testing.T) {
	text, err := OperationClosing.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "closing", string(text))
	assert.Equal(t, "idle", Operation(42).String())
}

func TestOperationUnmarshalText(t *testing.T) {
	var o Operation
	assert.NoError(t, o.UnmarshalText([]byte("opening")))
	assert.Equal(t, OperationOpening, o)

	assert.Error(t, o.UnmarshalText([]byte("sideways")))
	assert.Equal(t, OperationOpening, o, "unchanged on error")
}
