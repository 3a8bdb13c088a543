package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTerminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateProgress.Terminal())
	assert.True(t, StateSuccess.Terminal())
	assert.True(t, StateFailure.Terminal())
	assert.True(t, StateRevoked.Terminal())
}

func TestValidTransition(t *testing.T) {
	allowed := [][2]State{
		{StatePending, StateProgress},
		{StatePending, StateRevoked},
		{StateProgress, StateProgress},
		{StateProgress, StateSuccess},
		{StateProgress, StateFailure},
		{StateProgress, StateRevoked},
		{StatePending, StateFailure},
	}
	for _, tc := range allowed {
		assert.True(t, ValidTransition(tc[0], tc[1]), "%s -> %s", tc[0], tc[1])
	}

	denied := [][2]State{
		{StatePending, StateSuccess},
		{StateSuccess, StateProgress},
		{StateFailure, StatePending},
		{StateRevoked, StateProgress},
	}
	for _, tc := range denied {
		assert.False(t, ValidTransition(tc[0], tc[1]), "%s -> %s", tc[0], tc[1])
	}
}

func TestNewRecord(t *testing.T) {
	a := NewRecord()
	b := NewRecord()
	assert.Equal(t, StatePending, a.State)
	assert.Zero(t, a.Progress)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestRecordClone(t *testing.T) {
	rec := NewRecord()
	rec.State = StateSuccess
	rec.Result = &Result{Outputs: []Output{{Name: "trimmed.mp4", Kind: "video"}}}
	rec.Error = &ErrorInfo{Kind: KindFatal, Message: "boom"}

	clone := rec.Clone()
	require.NotSame(t, rec, clone)
	assert.Equal(t, rec, clone)

	clone.Result.Outputs[0].Name = "other.mp4"
	clone.Error.Message = "changed"
	assert.Equal(t, "trimmed.mp4", rec.Result.Outputs[0].Name)
	assert.Equal(t, "boom", rec.Error.Message)
}
