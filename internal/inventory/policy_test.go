package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)

	p, err = ParsePolicy("assign", "strict")
	require.NoError(t, err)
	assert.Equal(t, Policy{Availability: ReserveOnAssign, Capacity: CapacityStrict}, p)

	_, err = ParsePolicy("checkout", "")
	assert.Error(t, err)

	_, err = ParsePolicy("", "unbounded")
	assert.Error(t, err)
}

func TestParseSlotState(t *testing.T) {
	st, ok := ParseSlotState("pending")
	require.True(t, ok)
	assert.Equal(t, StateAssigned, st)

	st, ok = ParseSlotState("active")
	require.True(t, ok)
	assert.Equal(t, StateActive, st)

	_, ok = ParseSlotState("returned")
	assert.False(t, ok)
}
