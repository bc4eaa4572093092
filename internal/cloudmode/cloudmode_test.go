package cloudmode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var trunk = []string{"main", "master"}

func TestExplicitFlagActivatesOffTrunk(t *testing.T) {
	r := Detect(true, false, false, false, "feature/x", trunk)
	require.True(t, r.Active)
	require.Equal(t, ReasonExplicitFlag, r.Reason)
}

func TestExplicitEnvActivatesOffTrunk(t *testing.T) {
	r := Detect(false, true, false, false, "feature/x", trunk)
	require.True(t, r.Active)
	require.Equal(t, ReasonExplicitEnv, r.Reason)
}

func TestExplicitActivationBlockedOnProtectedBranch(t *testing.T) {
	r := Detect(true, false, false, false, "main", trunk)
	require.False(t, r.Active)
	require.Equal(t, ReasonBlockedTrunk, r.Reason)
}

func TestEnvSignalRequiresOptIn(t *testing.T) {
	r := Detect(false, false, true, false, "feature/x", trunk)
	require.False(t, r.Active)
	require.Equal(t, ReasonNotActive, r.Reason)

	r = Detect(false, false, true, true, "feature/x", trunk)
	require.True(t, r.Active)
	require.Equal(t, ReasonEnvSignal, r.Reason)
}

func TestEnvSignalSuppressedOnProtectedBranch(t *testing.T) {
	r := Detect(false, false, true, true, "master", trunk)
	require.False(t, r.Active)
	require.Equal(t, ReasonSuppressedTrunk, r.Reason)
}

func TestNothingActiveByDefault(t *testing.T) {
	r := Detect(false, false, false, false, "feature/x", trunk)
	require.False(t, r.Active)
	require.Equal(t, ReasonNotActive, r.Reason)
}
