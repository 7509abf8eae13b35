package rulesim

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"
)

// RuleKind selects the propensity law and mapping-set pick of a rule.
type RuleKind int

const (
	// BasicRule is plain mass action over reactant counts.
	BasicRule RuleKind = iota
	// DORRule weights every mapping set individually; the propensity is the
	// weight sum and firing samples proportionally.
	DORRule
	// ObservableRule replaces the base rate by an observable-dependent
	// rate function re-evaluated on demand.
	ObservableRule
	// PopulationRule treats lumped population counts as the combinatoric
	// factor and carries no reactant lists.
	PopulationRule
)

// ReactionRule owns the reactant patterns, the transformation set, the
// per-slot reactant populations and the current propensity of one rule.
type ReactionRule struct {
	id   int
	name string
	kind RuleKind

	baseRate float64
	// rateFn overrides baseRate for ObservableRule.
	rateFn func(*System) float64

	// totalRate interprets baseRate as the macroscopic total rule rate
	// instead of a per-collision microscopic constant.
	totalRate bool

	// rateParam names the system parameter the base rate is bound to, so
	// parameter updates can rewrite it.
	rateParam string

	patterns []*Pattern
	lists    []*ReactantList
	tset     *TransformationSet

	// identicalGroups holds reactant position groups with structurally
	// identical patterns, for the falling-factorial correction.
	identicalGroups [][]int

	// DOR fields.
	dorFn  *LocalFunction
	dorPos int

	a         float64
	fireCount int64

	pool mappingSetPool
	sys  *System
}

// NewBasicRule builds a mass-action rule.
func NewBasicRule(name string, rate float64, patterns []*Pattern, tset *TransformationSet) *ReactionRule {
	return newRule(name, BasicRule, rate, patterns, tset)
}

// NewObservableRule builds a rule whose rate constant is recomputed from
// system state by rateFn.
func NewObservableRule(name string, rateFn func(*System) float64, patterns []*Pattern, tset *TransformationSet) *ReactionRule {
	r := newRule(name, ObservableRule, 0, patterns, tset)
	r.rateFn = rateFn
	return r
}

// NewDORRule builds a distribution-of-rates rule. weightFn computes the
// per-match weight; pos selects which reactant slot carries the weights.
func NewDORRule(name string, rate float64, patterns []*Pattern, tset *TransformationSet, weightFn *LocalFunction, pos int) *ReactionRule {
	r := newRule(name, DORRule, rate, patterns, tset)
	r.dorFn = weightFn
	r.dorPos = pos
	return r
}

// NewPopulationRule builds a rule over lumped population species.
func NewPopulationRule(name string, rate float64, patterns []*Pattern, tset *TransformationSet) *ReactionRule {
	return newRule(name, PopulationRule, rate, patterns, tset)
}

func newRule(name string, kind RuleKind, rate float64, patterns []*Pattern, tset *TransformationSet) *ReactionRule {
	r := &ReactionRule{
		name:     name,
		kind:     kind,
		baseRate: rate,
		patterns: patterns,
		tset:     tset,
	}
	for range patterns {
		r.lists = append(r.lists, newReactantList())
	}
	r.identicalGroups = identicalPatternGroups(patterns)
	return r
}

// ID returns the rule's registration index.
func (r *ReactionRule) ID() int { return r.id }

// Name returns the rule name.
func (r *ReactionRule) Name() string { return r.name }

// Kind returns the rule variant.
func (r *ReactionRule) Kind() RuleKind { return r.kind }

// A returns the current propensity.
func (r *ReactionRule) A() float64 { return r.a }

// FireCount returns the number of successful (non-null) firings.
func (r *ReactionRule) FireCount() int64 { return r.fireCount }

// BaseRate returns the rate constant.
func (r *ReactionRule) BaseRate() float64 { return r.baseRate }

// SetBaseRate replaces the rate constant; the caller refreshes propensities
// afterwards through the System.
func (r *ReactionRule) SetBaseRate(rate float64) { r.baseRate = rate }

// BindRateParameter ties the base rate to a named system parameter;
// UpdateSystemWithNewParameters rereads it.
func (r *ReactionRule) BindRateParameter(name string) *ReactionRule {
	r.rateParam = name
	return r
}

// SetTotalRate switches between macroscopic and microscopic rate
// interpretation.
func (r *ReactionRule) SetTotalRate(total bool) *ReactionRule {
	r.totalRate = total
	return r
}

// ReactantCount returns the population of reactant slot pos.
func (r *ReactionRule) ReactantCount(pos int) int { return r.lists[pos].Count() }

// prepare rebuilds every reactant list from a full scan of the instance
// stores. Safe to call repeatedly; the result only depends on the graph.
func (r *ReactionRule) prepare() error {
	for pos := range r.patterns {
		for _, ms := range r.lists[pos].snapshot() {
			r.dropMappingSet(ms)
		}
	}
	if r.kind == PopulationRule {
		return nil
	}
	for pos, p := range r.patterns {
		for _, m := range p.Anchor().typ.liveMolecules() {
			if _, err := r.tryToAdd(m, pos); err != nil {
				return err
			}
		}
	}
	return nil
}

// tryToAdd enumerates every embedding of reactant pattern pos anchored at m
// and inserts the resulting mapping sets. Existing sets anchored at m for
// this slot must have been removed first. Returns whether the slot count
// changed.
func (r *ReactionRule) tryToAdd(m *Molecule, pos int) (bool, error) {
	if r.kind == PopulationRule {
		return false, nil
	}
	p := r.patterns[pos]
	if p.Anchor().typ != m.typ || !m.alive {
		return false, nil
	}
	added := 0
	var weightErr error
	p.matchEach(m, func(st *matchState) {
		ms := r.pool.claim(r, pos)
		ms.capture(st)
		if r.kind == DORRule && pos == r.dorPos {
			w, err := r.dorFn.Fn(r.sys, ms)
			if err != nil {
				weightErr = err
				r.pool.release(ms)
				return
			}
			ms.weight = w
		}
		r.lists[pos].insert(ms)
		for _, mol := range ms.Molecules() {
			set := mol.ruleMappings[r.id]
			if set == nil {
				set = make(map[*MappingSet]struct{})
				mol.ruleMappings[r.id] = set
			}
			set[ms] = struct{}{}
		}
		added++
	})
	if weightErr != nil {
		return added > 0, weightErr
	}
	return added > 0, nil
}

// remove drops every mapping set through which m participates in slot pos.
// Returns whether the slot count changed.
func (r *ReactionRule) remove(m *Molecule, pos int) bool {
	set := m.ruleMappings[r.id]
	if len(set) == 0 {
		return false
	}
	var victims []*MappingSet
	for ms := range set {
		if ms.reactantPos == pos {
			victims = append(victims, ms)
		}
	}
	for _, ms := range victims {
		r.dropMappingSet(ms)
	}
	return len(victims) > 0
}

// removeAll drops m from every reactant slot of the rule.
func (r *ReactionRule) removeAll(m *Molecule) bool {
	changed := false
	for pos := range r.patterns {
		if r.remove(m, pos) {
			changed = true
		}
	}
	return changed
}

// dropMappingSet unlinks a mapping set from its list and every registered
// molecule, then releases it to the pool.
func (r *ReactionRule) dropMappingSet(ms *MappingSet) {
	r.lists[ms.reactantPos].remove(ms)
	for _, mol := range ms.Molecules() {
		if set := mol.ruleMappings[r.id]; set != nil {
			delete(set, ms)
		}
	}
	r.pool.release(ms)
}

// updateA recomputes the propensity and returns the delta against the
// previous value, for incremental aTot maintenance.
func (r *ReactionRule) updateA() float64 {
	old := r.a
	r.a = r.computeA()
	return r.a - old
}

func (r *ReactionRule) computeA() float64 {
	rate := r.baseRate
	if r.kind == ObservableRule && r.rateFn != nil {
		rate = r.rateFn(r.sys)
	}

	if r.kind == PopulationRule {
		return rate * r.populationFactor()
	}

	if r.totalRate {
		for _, l := range r.lists {
			if l.Count() == 0 {
				return 0
			}
		}
		return rate
	}

	factor := 1.0
	for _, group := range r.identicalGroups {
		n := float64(r.lists[group[0]].Count())
		if r.kind == DORRule && contains(group, r.dorPos) {
			// The weighted slot contributes its weight sum instead of a
			// count. Identical-group correction does not apply to it.
			factor *= r.lists[r.dorPos].TotalWeight()
			for i := 1; i < len(group); i++ {
				n--
				factor *= n
			}
			continue
		}
		// Distinct combinations of g interchangeable picks from n matches.
		for i := 0; i < len(group); i++ {
			factor *= n - float64(i)
		}
		for i := 2; i <= len(group); i++ {
			factor /= float64(i)
		}
	}
	a := rate * factor
	if a < 0 {
		a = 0
	}
	return a
}

// populationFactor multiplies lumped counts with a falling-factorial
// correction for identical population reactants.
func (r *ReactionRule) populationFactor() float64 {
	factor := 1.0
	for _, group := range r.identicalGroups {
		n := float64(r.patterns[group[0]].Anchor().typ.PopulationCount())
		for i := 0; i < len(group); i++ {
			factor *= n - float64(i)
		}
		for i := 2; i <= len(group); i++ {
			factor /= float64(i)
		}
	}
	if factor < 0 {
		return 0
	}
	return factor
}

// pickMappingSets draws one mapping set per reactant slot: weighted for the
// DOR slot, uniform otherwise. Overlapping picks reject the firing as a
// null event.
func (r *ReactionRule) pickMappingSets(rng *rand.Rand) ([]*MappingSet, error) {
	if r.kind == PopulationRule {
		return r.populationMappingSets()
	}
	picked := make([]*MappingSet, len(r.patterns))
	seen := make(map[*Molecule]struct{})
	for pos := range r.patterns {
		var ms *MappingSet
		if r.kind == DORRule && pos == r.dorPos {
			ms = r.lists[pos].pickWeighted(rng.Float64())
		} else {
			ms = r.lists[pos].pickUniform(rng)
		}
		if ms == nil {
			return nil, internalf("rule %s fired with empty reactant slot %d", r.name, pos)
		}
		for _, mol := range ms.Molecules() {
			if _, dup := seen[mol]; dup {
				return nil, fmt.Errorf("rule %s: %w", r.name, ErrIdenticalReactant)
			}
			seen[mol] = struct{}{}
		}
		picked[pos] = ms
	}
	return picked, nil
}

// populationMappingSets builds transient mapping sets over the lumped
// instances of a population rule's reactant types.
func (r *ReactionRule) populationMappingSets() ([]*MappingSet, error) {
	picked := make([]*MappingSet, len(r.patterns))
	for pos, p := range r.patterns {
		var found *MappingSet
		for _, m := range p.Anchor().typ.liveMolecules() {
			ms := r.pool.claim(r, pos)
			if p.MatchInto(m, ms) {
				found = ms
				break
			}
			r.pool.release(ms)
		}
		if found == nil {
			for _, ms := range picked {
				if ms != nil {
					r.pool.release(ms)
				}
			}
			return nil, internalf("population rule %s has no live instance for slot %d", r.name, pos)
		}
		picked[pos] = found
	}
	return picked, nil
}

// fire draws reactant instances and applies the transformation set. A
// null-event error leaves all state untouched.
func (r *ReactionRule) fire(rng *rand.Rand) (*FireRecord, error) {
	msets, err := r.pickMappingSets(rng)
	if r.kind == PopulationRule {
		defer func() {
			for _, ms := range msets {
				if ms != nil {
					r.pool.release(ms)
				}
			}
		}()
	}
	if err != nil {
		return nil, err
	}
	rec, err := r.tset.apply(r.sys, msets)
	if err != nil {
		return nil, err
	}
	r.fireCount++
	return rec, nil
}

// refreshWeights recomputes the DOR weight of every mapping set whose
// anchor lives in one of the given complexes.
func (r *ReactionRule) refreshWeights(complexIDs map[int]struct{}) error {
	if r.kind != DORRule {
		return nil
	}
	rl := r.lists[r.dorPos]
	for _, ms := range rl.snapshot() {
		anchor := ms.At(0).Molecule()
		if _, hit := complexIDs[anchor.complexID]; !hit {
			continue
		}
		w, err := r.dorFn.Fn(r.sys, ms)
		if err != nil {
			return err
		}
		rl.updateWeight(ms, w)
	}
	return nil
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// identicalPatternGroups groups reactant positions whose patterns are
// structurally identical, by comparing deterministic encodings.
func identicalPatternGroups(patterns []*Pattern) [][]int {
	bySig := make(map[string][]int)
	var order []string
	for i, p := range patterns {
		sig := patternSignature(p)
		if _, ok := bySig[sig]; !ok {
			order = append(order, sig)
		}
		bySig[sig] = append(bySig[sig], i)
	}
	groups := make([][]int, 0, len(order))
	for _, sig := range order {
		groups = append(groups, bySig[sig])
	}
	return groups
}

// patternSignature encodes a pattern deterministically in node order.
func patternSignature(p *Pattern) string {
	var sb strings.Builder
	for _, n := range p.nodes {
		sb.WriteString(n.typ.name)
		sb.WriteByte('(')
		for i, c := range n.comps {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(c.Name)
			if c.HasState {
				fmt.Fprintf(&sb, "~%d", c.State)
			}
			if c.MustBeOpen {
				sb.WriteString("!-")
			}
			if c.MustBeBonded {
				sb.WriteString("!+")
			}
			if c.Bond != nil {
				fmt.Fprintf(&sb, "!%d.%d", c.Bond.To.index, c.Bond.ToComp)
			}
			if c.Label != "" {
				sb.WriteByte('%')
				sb.WriteString(c.Label)
			}
		}
		sb.WriteString(").")
	}
	return sb.String()
}
