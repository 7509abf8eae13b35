package rulesim

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"
)

// ReactionSelector maintains the total propensity and draws the next rule
// and inter-event time of the trajectory.
type ReactionSelector struct {
	rules []*ReactionRule
	aTot  float64
}

func newReactionSelector(rules []*ReactionRule) *ReactionSelector {
	return &ReactionSelector{rules: rules}
}

// ATot returns the current total propensity.
func (s *ReactionSelector) ATot() float64 { return s.aTot }

// apply accumulates a propensity delta reported by a rule's updateA.
func (s *ReactionSelector) apply(delta float64) {
	s.aTot += delta
	if s.aTot < 0 && s.aTot > -1e-9 {
		// Clamp accumulated floating point drift at the absorbing state.
		s.aTot = 0
	}
}

// refresh recomputes aTot from scratch, resynchronizing after bulk updates
// such as prepareForSimulation or a parameter change.
func (s *ReactionSelector) refresh() {
	s.aTot = 0
	for _, r := range s.rules {
		s.aTot += r.a
	}
}

// nextTime draws the exponential inter-event time for the current aTot.
func (s *ReactionSelector) nextTime(rng *rand.Rand) float64 {
	exp := distuv.Exponential{Rate: s.aTot, Src: rng}
	return exp.Rand()
}

// nextRule picks the rule r with the smallest prefix propensity sum
// reaching u*aTot. Returns nil at the absorbing state.
func (s *ReactionSelector) nextRule(u float64) *ReactionRule {
	if s.aTot <= 0 {
		return nil
	}
	target := u * s.aTot
	var acc float64
	var last *ReactionRule
	for _, r := range s.rules {
		if r.a <= 0 {
			continue
		}
		last = r
		acc += r.a
		if acc >= target {
			return r
		}
	}
	return last
}
