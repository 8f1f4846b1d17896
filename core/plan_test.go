package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanState_Lifecycle(t *testing.T) {
	steps := []string{"look up", "summarize"}
	p := NewPlanState("goal", steps)

	steps[0] = "mutated"

	next, ok := p.NextStep()
	require.True(t, ok)
	assert.Equal(t, "look up", next)

	p.Complete(next, "42")
	p.ReplaceSteps([]string{"summarize"})

	res, ok := p.LastResult()
	require.True(t, ok)
	assert.Equal(t, "42", res)
	assert.False(t, p.Done())

	p.Respond("final")
	require.True(t, p.Done())
	assert.Equal(t, "final", *p.FinalResponse)
}

func TestPlanState_Empty(t *testing.T) {
	p := NewPlanState("goal", nil)

	_, ok := p.NextStep()
	assert.False(t, ok)

	_, ok = p.LastResult()
	assert.False(t, ok)
}
