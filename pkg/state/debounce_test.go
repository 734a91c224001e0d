package state

import (
	"testing"

	"github.com/cuemby/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRule(kind types.RuleKind, cycles, count int) *types.Rule {
	failed := types.Action{Kind: types.ActionAlert, Cycles: cycles, Count: count}
	return &types.Rule{Kind: kind, Binding: types.NewActionBinding(failed)}
}

func newService() *types.Service {
	return &types.Service{Name: "nginx", Events: map[types.EventKey]*types.Event{}}
}

// TestFirstFailureTransitionsImmediatelyByDefault exercises the {cycles=1,
// count=1} default threshold: a single failing post is already a transition.
func TestFirstFailureTransitionsImmediatelyByDefault(t *testing.T) {
	s := newService()
	rule := newRule(types.RuleKindPort, 1, 1)

	ev, transitioned := Evaluate(s, rule, types.OutcomeFailed)
	require.True(t, transitioned)
	assert.Equal(t, types.OutcomeFailed, ev.Outcome)
	assert.Equal(t, ^uint64(0), ev.StateMap)
}

// TestPureSuccessSeriesBeforeFirstFailureIsSwallowed matches spec.md's rule
// that a Service which has never failed this rule-kind does not emit success
// transitions for an uninterrupted run of successes.
func TestPureSuccessSeriesBeforeFirstFailureIsSwallowed(t *testing.T) {
	s := newService()
	rule := newRule(types.RuleKindPort, 1, 1)

	for i := 0; i < 5; i++ {
		ev, transitioned := Evaluate(s, rule, types.OutcomeSucceeded)
		assert.False(t, transitioned)
		assert.Equal(t, types.OutcomeInit, ev.Outcome)
	}
}

// TestDebouncedAlertScenario covers spec.md 8's {cycles=3, count=2}
// scenario: two failures out of the last three cycles trip the alert, and a
// lone failure does not.
func TestDebouncedAlertScenario(t *testing.T) {
	s := newService()
	rule := newRule(types.RuleKindCPU, 3, 2)

	_, transitioned := Evaluate(s, rule, types.OutcomeFailed)
	assert.False(t, transitioned, "single failure out of threshold 2-of-3 must not yet transition")

	_, transitioned = Evaluate(s, rule, types.OutcomeSucceeded)
	assert.False(t, transitioned)

	ev, transitioned := Evaluate(s, rule, types.OutcomeFailed)
	assert.True(t, transitioned, "second failure within the last 3 cycles must trip the 2-of-3 threshold")
	assert.Equal(t, types.OutcomeFailed, ev.Outcome)
}

// TestRecoveryRequiresItsOwnThreshold checks that once failed, the
// succeeded leg's own cycles/count must be satisfied before a recovery
// transition is reported.
func TestRecoveryRequiresItsOwnThreshold(t *testing.T) {
	s := newService()
	rule := newRule(types.RuleKindCPU, 1, 1)
	rule.Binding.Succeeded.Cycles = 2
	rule.Binding.Succeeded.Count = 2

	_, transitioned := Evaluate(s, rule, types.OutcomeFailed)
	require.True(t, transitioned)

	_, transitioned = Evaluate(s, rule, types.OutcomeSucceeded)
	assert.False(t, transitioned, "one success does not satisfy a 2-of-2 recovery threshold")

	ev, transitioned := Evaluate(s, rule, types.OutcomeSucceeded)
	assert.True(t, transitioned)
	assert.Equal(t, types.OutcomeSucceeded, ev.Outcome)
}

// TestInstanceAndExecRulesAlwaysTransition matches the "Instance and Action
// events always transition" special case: each post is reported regardless
// of the rolling bitmap.
func TestInstanceAndExecRulesAlwaysTransition(t *testing.T) {
	s := newService()
	rule := newRule(types.RuleKindInstance, 5, 5)

	_, transitioned := Evaluate(s, rule, types.OutcomeChanged)
	assert.True(t, transitioned)
	_, transitioned = Evaluate(s, rule, types.OutcomeChanged)
	assert.True(t, transitioned)
}

// TestResetOnTransitionPreventsImmediateFlapBack asserts that once a
// transition fires, the bitmap is reset to a uniform run of the new class and
// an immediately-following post of that same class is not reported as a new
// transition.
func TestResetOnTransitionPreventsImmediateFlapBack(t *testing.T) {
	s := newService()
	rule := newRule(types.RuleKindCPU, 2, 1)

	_, transitioned := Evaluate(s, rule, types.OutcomeFailed)
	require.True(t, transitioned)

	ev, transitioned := Evaluate(s, rule, types.OutcomeFailed)
	assert.False(t, transitioned, "repeating the already-declared class is not a new transition")
	assert.Equal(t, uint64(0b11), ev.StateMap&0b11)
}

// TestChangedOutcomeAlwaysQualifiesAsDestinationDiffer exercises the
// "outcome == Changed" disjunct: a changed checksum/content rule reports a
// transition on every qualifying post even while the declared class (Failed)
// stays the same across posts.
func TestChangedOutcomeAlwaysQualifiesAsDestinationDiffer(t *testing.T) {
	s := newService()
	rule := newRule(types.RuleKindChecksum, 1, 1)

	_, transitioned := Evaluate(s, rule, types.OutcomeChanged)
	require.True(t, transitioned)

	_, transitioned = Evaluate(s, rule, types.OutcomeChanged)
	assert.True(t, transitioned, "Changed re-qualifies every time even though the declared class is unchanged")
}

func TestActionForSelectsFailedOrSucceededLeg(t *testing.T) {
	s := newService()
	rule := newRule(types.RuleKindPort, 1, 1)

	ev, _ := Evaluate(s, rule, types.OutcomeFailed)
	assert.Equal(t, types.ActionAlert, ActionFor(ev, types.OutcomeFailed).Kind)

	ev, _ = Evaluate(s, rule, types.OutcomeSucceeded)
	assert.Equal(t, rule.Binding.Succeeded.Kind, ActionFor(ev, types.OutcomeSucceeded).Kind)
}
