package rulesim

import (
	"math"
	"sort"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestSelectorInterEventTimesAreExponential(t *testing.T) {
	sel := &ReactionSelector{aTot: 4.0}
	rng := rand.New(rand.NewSource(17))

	const n = 10000
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = sel.nextTime(rng)
	}

	if mean := stat.Mean(samples, nil); math.Abs(mean-0.25) > 0.01 {
		t.Errorf("mean inter-event time = %g, want about 0.25", mean)
	}

	// One-sample Kolmogorov-Smirnov against Exp(4): the statistic must
	// stay under the p=0.01 critical value 1.63/sqrt(n).
	sort.Float64s(samples)
	dist := distuv.Exponential{Rate: 4.0}
	var d float64
	for i, x := range samples {
		f := dist.CDF(x)
		lo := f - float64(i)/n
		hi := float64(i+1)/n - f
		if lo > d {
			d = lo
		}
		if hi > d {
			d = hi
		}
	}
	if crit := 1.63 / math.Sqrt(n); d > crit {
		t.Errorf("KS statistic %g exceeds critical value %g", d, crit)
	}
}

func TestSelectorRulePickProportionalToPropensity(t *testing.T) {
	rules := []*ReactionRule{
		{name: "slow", a: 1.0},
		{name: "fast", a: 3.0},
		{name: "off", a: 0.0},
	}
	sel := newReactionSelector(rules)
	sel.refresh()
	if sel.ATot() != 4.0 {
		t.Fatalf("aTot = %g, want 4", sel.ATot())
	}

	rng := rand.New(rand.NewSource(23))
	counts := make(map[string]int)
	const n = 8000
	for i := 0; i < n; i++ {
		counts[sel.nextRule(rng.Float64()).name]++
	}
	if counts["off"] != 0 {
		t.Errorf("zero-propensity rule picked %d times", counts["off"])
	}
	frac := float64(counts["fast"]) / n
	if frac < 0.72 || frac > 0.78 {
		t.Errorf("fast rule pick fraction = %.3f, want about 0.75", frac)
	}
}

func TestSelectorIncrementalDeltas(t *testing.T) {
	r := &ReactionRule{name: "r", a: 0}
	sel := newReactionSelector([]*ReactionRule{r})

	r.a = 2.5
	sel.apply(2.5)
	if sel.ATot() != 2.5 {
		t.Errorf("aTot = %g, want 2.5", sel.ATot())
	}
	r.a = 1.0
	sel.apply(-1.5)
	if sel.ATot() != 1.0 {
		t.Errorf("aTot = %g, want 1", sel.ATot())
	}
	// Tiny negative drift clamps to the absorbing state.
	r.a = 0
	sel.apply(-1.0 - 1e-12)
	if sel.ATot() != 0 {
		t.Errorf("aTot = %g, want clamped 0", sel.ATot())
	}
}
