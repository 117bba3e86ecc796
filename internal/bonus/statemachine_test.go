package bonus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBonus(status Status) *UserBonus {
	return &UserBonus{ID: "b1", Status: status}
}

func TestTransition_HappyPath(t *testing.T) {
	ub := newBonus(StatusPending)

	for _, next := range []Status{StatusActive, StatusInProgress, StatusRequirementsMet, StatusConverted, StatusClaimed} {
		require.NoError(t, Transition(ub, next, "", "test"))
		assert.Equal(t, next, ub.Status)
	}

	assert.NotNil(t, ub.ActivatedAt)
	assert.NotNil(t, ub.CompletedAt)
	assert.NotNil(t, ub.ConvertedAt)
	assert.NotNil(t, ub.ClaimedAt)
	assert.Len(t, ub.History, 5)
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	for _, terminal := range []Status{StatusClaimed, StatusForfeited, StatusExpired, StatusCancelled} {
		ub := newBonus(terminal)
		err := Transition(ub, StatusActive, "", "test")
		assert.Error(t, err, "cannot leave %s", terminal)
	}
}

func TestTransition_NoSkippingToClaimed(t *testing.T) {
	ub := newBonus(StatusActive)
	assert.Error(t, Transition(ub, StatusClaimed, "", "test"))
	assert.Error(t, Transition(ub, StatusConverted, "", "test"))
}

func TestTransition_LockedReturnsToSource(t *testing.T) {
	ub := newBonus(StatusActive)
	require.NoError(t, Transition(ub, StatusInProgress, "", "test"))

	require.NoError(t, Transition(ub, StatusLocked, "manual review", "ops"))
	assert.Equal(t, StatusInProgress, ub.LockedFrom)

	// Cannot unlock into a different progress state.
	assert.Error(t, Transition(ub, StatusActive, "", "ops"))

	require.NoError(t, Transition(ub, StatusInProgress, "review passed", "ops"))
	assert.Equal(t, StatusInProgress, ub.Status)
	assert.Empty(t, ub.LockedFrom)
}

func TestTransition_LockedCanCancel(t *testing.T) {
	ub := newBonus(StatusRequirementsMet)
	require.NoError(t, Transition(ub, StatusLocked, "fraud review", "ops"))
	require.NoError(t, Transition(ub, StatusCancelled, "fraud confirmed", "ops"))
	assert.Equal(t, StatusCancelled, ub.Status)
}

func TestTransition_PendingCannotLock(t *testing.T) {
	ub := newBonus(StatusPending)
	assert.Error(t, Transition(ub, StatusLocked, "", "ops"))
}

func TestTransition_ForfeitFromProgressStates(t *testing.T) {
	for _, from := range []Status{StatusActive, StatusInProgress, StatusRequirementsMet} {
		ub := newBonus(from)
		require.NoError(t, Transition(ub, StatusForfeited, "abuse", "ops"))
		assert.NotNil(t, ub.ForfeitedAt)
	}
}
