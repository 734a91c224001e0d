// Package state implements the per-rule rolling state bitmap and the
// N-of-M cycle-threshold debounce that decides when a rule evaluation
// becomes a reportable transition.
//
// Grounded on original_source/src/event.c's _checkState, generalizing the
// simpler consecutive-failure/success counter shape of the teacher's
// pkg/health.Status/Update into the full rolling-bitmap algorithm.
package state

import (
	"time"

	"github.com/cuemby/warden/pkg/types"
)

// maxCycles bounds the rolling bitmap to 64 bits, the width of
// types.Event.StateMap.
const maxCycles = 64

// Evaluate posts outcome for rule against s's Event singleton, returning
// the (created-if-absent) Event and whether this post produced a
// transition. Callers only act on the Event Engine when transitioned is
// true.
func Evaluate(s *types.Service, rule *types.Rule, outcome types.Outcome) (event *types.Event, transitioned bool) {
	key := rule.Key()
	ev, existed := s.EventFor(key)
	if !existed {
		ev = &types.Event{
			Service: s.Name,
			Kind:    rule.Kind,
			Outcome: types.OutcomeInit,
			Binding: &rule.Binding,
		}
	}

	// The bitmap is shifted and the new outcome's class bit set on every
	// post, transition or not (spec.md 4.5). An unsigned shift is used
	// throughout so the eventual overflow into the sign bit is harmless,
	// per spec.md 9's "Event bitmap shift" note.
	class := classOf(outcome)
	ev.StateMap = (ev.StateMap << 1) | uint64(class)

	// A purely-successful series before the Service has ever recorded
	// this rule-kind as failing is dropped silently: the Event singleton
	// is still created (so a later failure has a slot to transition
	// into) but no success transition is ever reported for it.
	if class == 0 && ev.Outcome == types.OutcomeInit && !s.HasErrorBit(rule.Kind) {
		s.Events[key] = ev
		return ev, false
	}

	action := actionFor(&rule.Binding, class)
	cycles, count := normalizeThreshold(action.Cycles, action.Count)

	matches := 0
	for i := 0; i < cycles; i++ {
		if int((ev.StateMap>>uint(i))&1) == class {
			matches++
		}
	}

	alwaysTransitions := rule.Kind == types.RuleKindInstance || rule.Kind == types.RuleKindExec
	destDiffers := recordedClass(ev.Outcome) != class
	shouldTransition := alwaysTransitions ||
		(matches >= count && (destDiffers || outcome == types.OutcomeChanged))

	if shouldTransition {
		resetRun(ev, class)
		ev.CollectedAt = time.Now()
		ev.Repeat = 0
	} else {
		ev.Repeat++
	}

	s.Events[key] = ev
	return ev, shouldTransition
}

// classOf maps a posted outcome onto the binary debounce class: 0 for a
// success-shaped outcome, 1 for a failure-shaped one.
func classOf(o types.Outcome) int {
	switch o {
	case types.OutcomeFailed, types.OutcomeChanged:
		return 1
	default:
		return 0
	}
}

// recordedClass maps an Event's last-declared Outcome onto a class, or -1
// if the Event has never transitioned (still Init).
func recordedClass(o types.Outcome) int {
	switch o {
	case types.OutcomeFailed:
		return 1
	case types.OutcomeSucceeded:
		return 0
	default:
		return -1
	}
}

// actionFor selects the failure or success leg of a binding by class.
func actionFor(b *types.ActionBinding, class int) *types.Action {
	if class == 1 {
		return &b.Failed
	}
	return &b.Succeeded
}

// ActionFor selects the Action a caller should run after Evaluate reports
// a transition for ev with outcome, exported so the cycle driver can pick
// the binding's failed/succeeded leg without reaching into Evaluate's
// internal class bookkeeping.
func ActionFor(ev *types.Event, outcome types.Outcome) *types.Action {
	return actionFor(ev.Binding, classOf(outcome))
}

func normalizeThreshold(cycles, count int) (int, int) {
	if cycles <= 0 {
		cycles = 1
	}
	if cycles > maxCycles {
		cycles = maxCycles
	}
	if count <= 0 {
		count = 1
	}
	if count > cycles {
		count = cycles
	}
	return cycles, count
}

// resetRun sets ev.StateMap to a uniform run of the new class so that
// flapping does not cause an immediate re-transition, and records the new
// class as the Event's declared Outcome. This implements spec.md 4.5's
// reset "to a constant run of the new class" as true all-0s/all-1s,
// deliberately not replicating the C original's byte-repeated memset
// pattern — see DESIGN.md.
func resetRun(ev *types.Event, class int) {
	if class == 1 {
		ev.StateMap = ^uint64(0)
		ev.Outcome = types.OutcomeFailed
	} else {
		ev.StateMap = 0
		ev.Outcome = types.OutcomeSucceeded
	}
}
