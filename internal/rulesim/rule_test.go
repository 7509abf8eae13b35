package rulesim

import (
	"errors"
	"math"
	"testing"
)

// newDimerSystem builds L(r) with a reversible dimerization rule pair.
func newDimerSystem(t *testing.T, copies int, kon, koff float64) *System {
	t.Helper()
	sys := NewSystem("dimer-test", WithSeed(42))
	lt, err := sys.AddMoleculeType("L", []ComponentDef{{Name: "r"}}, false)
	if err != nil {
		t.Fatalf("AddMoleculeType: %v", err)
	}

	freeL := func() *Pattern {
		return NewPattern(NewTemplateMolecule(lt, []TemplateComponent{{Name: "r", MustBeOpen: true}}))
	}
	bind := NewBasicRule("dimerize", kon,
		[]*Pattern{freeL(), freeL()},
		NewTransformationSet(Transformation{
			Op: OpAddBond,
			A:  Site{Reactant: 0, Node: 0, Comp: 0},
			B:  Site{Reactant: 1, Node: 0, Comp: 0},
		}))
	if err := sys.AddReaction(bind); err != nil {
		t.Fatalf("AddReaction(dimerize): %v", err)
	}

	if koff > 0 {
		ln := NewTemplateMolecule(lt, []TemplateComponent{{Name: "r"}})
		rn := NewTemplateMolecule(lt, []TemplateComponent{{Name: "r"}})
		BondTemplates(ln, 0, rn, 0)
		unbind := NewBasicRule("dissociate", koff,
			[]*Pattern{NewPattern(ln, rn)},
			NewTransformationSet(Transformation{
				Op: OpDeleteBond,
				A:  Site{Reactant: 0, Node: 0, Comp: 0},
			}))
		if err := sys.AddReaction(unbind); err != nil {
			t.Fatalf("AddReaction(dissociate): %v", err)
		}
	}

	if _, err := sys.CreateMolecules(lt, copies); err != nil {
		t.Fatalf("CreateMolecules: %v", err)
	}
	if err := sys.PrepareForSimulation(); err != nil {
		t.Fatalf("PrepareForSimulation: %v", err)
	}
	return sys
}

func TestBasicPropensityIdenticalReactants(t *testing.T) {
	sys := newDimerSystem(t, 10, 0.5, 0)
	r, _ := sys.Rule("dimerize")

	if got := r.ReactantCount(0); got != 10 {
		t.Fatalf("reactant count = %d, want 10", got)
	}
	// Identical reactant patterns: a = k * N*(N-1)/2.
	want := 0.5 * 10 * 9 / 2
	if math.Abs(r.A()-want) > 1e-9 {
		t.Errorf("a = %g, want %g", r.A(), want)
	}
	if math.Abs(sys.ATot()-want) > 1e-9 {
		t.Errorf("aTot = %g, want %g", sys.ATot(), want)
	}
}

func TestTotalRateFlag(t *testing.T) {
	sys := NewSystem("total-rate-test", WithSeed(1))
	xt, _ := sys.AddMoleculeType("X", nil, false)
	rule := NewBasicRule("drain", 2.5,
		[]*Pattern{NewPattern(NewTemplateMolecule(xt, nil))},
		NewTransformationSet(Transformation{Op: OpDeleteMolecule, A: Site{Reactant: 0, Node: 0, Comp: noBond}})).
		SetTotalRate(true)
	_ = sys.AddReaction(rule)
	_, _ = sys.CreateMolecules(xt, 50)
	if err := sys.PrepareForSimulation(); err != nil {
		t.Fatalf("PrepareForSimulation: %v", err)
	}

	// Macroscopic interpretation: a is the rate itself while any reactant
	// remains, independent of the count.
	if got := rule.A(); got != 2.5 {
		t.Errorf("a = %g, want 2.5", got)
	}
}

func TestFireDimerizationUpdatesEverything(t *testing.T) {
	sys := newDimerSystem(t, 4, 1.0, 0)
	r, _ := sys.Rule("dimerize")

	rec, err := r.fire(sys.rng)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if err := sys.repair(rec, r); err != nil {
		t.Fatalf("repair: %v", err)
	}

	// Two molecules bound: both left the free-site lists.
	if got := r.ReactantCount(0); got != 2 {
		t.Errorf("reactant count after fire = %d, want 2", got)
	}
	want := 1.0 * 2 * 1 / 2
	if math.Abs(r.A()-want) > 1e-9 {
		t.Errorf("a after fire = %g, want %g", r.A(), want)
	}
	if got := sys.Complexes().Count(); got != 3 {
		t.Errorf("complex count after fire = %d, want 3", got)
	}
	if r.FireCount() != 1 {
		t.Errorf("fire count = %d, want 1", r.FireCount())
	}
	if err := sys.CheckInvariants(); err != nil {
		t.Errorf("invariants after fire: %v", err)
	}
}

func TestNullEventsOnSameComplexChain(t *testing.T) {
	sys := NewSystem("null-event-test", WithSeed(9))
	at, _ := sys.AddMoleculeType("A", []ComponentDef{{Name: "s"}, {Name: "s"}}, false)

	freeA := func() *Pattern {
		return NewPattern(NewTemplateMolecule(at, []TemplateComponent{{Name: "s", MustBeOpen: true}}))
	}
	rule := NewBasicRule("link", 1.0,
		[]*Pattern{freeA(), freeA()},
		NewTransformationSet(Transformation{
			Op: OpAddBond,
			A:  Site{Reactant: 0, Node: 0, Comp: 0},
			B:  Site{Reactant: 1, Node: 0, Comp: 0},
		}).ForbidSameComplex())
	_ = sys.AddReaction(rule)

	// Chain of ten A molecules: only the two chain ends keep a free site,
	// and they share one complex, so every proposed firing must be null.
	chain := make([]*Molecule, 10)
	for i := range chain {
		chain[i], _ = sys.CreateMolecule(at)
	}
	for i := 0; i < len(chain)-1; i++ {
		if err := Bind(chain[i], 1, chain[i+1], 0); err != nil {
			t.Fatalf("Bind chain[%d]: %v", i, err)
		}
	}
	if err := sys.PrepareForSimulation(); err != nil {
		t.Fatalf("PrepareForSimulation: %v", err)
	}

	if got := rule.ReactantCount(0); got != 2 {
		t.Fatalf("free-site count = %d, want 2 (chain ends)", got)
	}
	aBefore := sys.ATot()
	if aBefore <= 0 {
		t.Fatal("aTot must be positive for firings to be proposed")
	}

	if _, err := sys.StepTo(t.Context(), 2.0); err != nil {
		t.Fatalf("StepTo: %v", err)
	}
	if sys.EventCount() == 0 {
		t.Fatal("no events were proposed")
	}
	if sys.NullEventCount() != sys.EventCount() {
		t.Errorf("null events = %d of %d events, want all null",
			sys.NullEventCount(), sys.EventCount())
	}
	if got := sys.ATot(); math.Abs(got-aBefore) > 1e-9 {
		t.Errorf("aTot changed across null events: %g -> %g", aBefore, got)
	}
	if got := sys.Complexes().Count(); got != 1 {
		t.Errorf("null events mutated the graph: %d complexes, want 1", got)
	}
	if err := sys.CheckInvariants(); err != nil {
		t.Errorf("invariants after null events: %v", err)
	}
}

func TestFireRejectsOverlappingPicks(t *testing.T) {
	// A single free molecule populates both slots of a homodimerization;
	// the only possible draw overlaps and must be a null event.
	sys := newDimerSystem(t, 1, 1.0, 0)
	r, _ := sys.Rule("dimerize")
	r.a = 1 // force a proposable propensity despite N=1

	_, err := r.fire(sys.rng)
	if !errors.Is(err, ErrIdenticalReactant) {
		t.Errorf("fire error = %v, want ErrIdenticalReactant", err)
	}
	if !IsNullEvent(err) {
		t.Error("overlapping pick is not classified as a null event")
	}
}

func TestDeleteMoleculeCleansUp(t *testing.T) {
	sys := NewSystem("decay-test", WithSeed(3))
	xt, _ := sys.AddMoleculeType("X", nil, false)
	rule := NewBasicRule("decay", 0.5,
		[]*Pattern{NewPattern(NewTemplateMolecule(xt, nil))},
		NewTransformationSet(Transformation{Op: OpDeleteMolecule, A: Site{Reactant: 0, Node: 0, Comp: noBond}}))
	_ = sys.AddReaction(rule)
	obs := NewMoleculesObservable("X_total", NewPattern(NewTemplateMolecule(xt, nil)))
	_ = sys.AddObservable(obs)
	_, _ = sys.CreateMolecules(xt, 5)
	if err := sys.PrepareForSimulation(); err != nil {
		t.Fatalf("PrepareForSimulation: %v", err)
	}

	rec, err := rule.fire(sys.rng)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if err := sys.repair(rec, rule); err != nil {
		t.Fatalf("repair: %v", err)
	}

	if got := rule.ReactantCount(0); got != 4 {
		t.Errorf("reactant count = %d, want 4", got)
	}
	if got := obs.Value(); got != 4 {
		t.Errorf("observable = %g, want 4", got)
	}
	if got := sys.Complexes().Count(); got != 4 {
		t.Errorf("complex count = %d, want 4", got)
	}
	if len(rec.Deleted) != 1 {
		t.Fatalf("deleted list has %d entries, want 1", len(rec.Deleted))
	}
	uid := rec.Deleted[0].UniqueID()
	if m := sys.GetMoleculeByUID(uid, false); m != nil {
		t.Errorf("deleted uid %d still resolves", uid)
	}
	if err := sys.CheckInvariants(); err != nil {
		t.Errorf("invariants after delete: %v", err)
	}
}

func TestStateChangeRule(t *testing.T) {
	sys := NewSystem("phos-test", WithSeed(5))
	kt, _ := sys.AddMoleculeType("K", []ComponentDef{{Name: "y", States: []string{"u", "p"}}}, false)
	rule := NewBasicRule("phosphorylate", 1.0,
		[]*Pattern{NewPattern(NewTemplateMolecule(kt, []TemplateComponent{{Name: "y", HasState: true, State: 0}}))},
		NewTransformationSet(Transformation{Op: OpStateChange, A: Site{Reactant: 0, Node: 0, Comp: 0}, NewState: 1}))
	_ = sys.AddReaction(rule)
	phospho := NewMoleculesObservable("K_p", NewPattern(NewTemplateMolecule(kt, []TemplateComponent{{Name: "y", HasState: true, State: 1}})))
	_ = sys.AddObservable(phospho)
	_, _ = sys.CreateMolecules(kt, 3)
	if err := sys.PrepareForSimulation(); err != nil {
		t.Fatalf("PrepareForSimulation: %v", err)
	}

	if got := rule.ReactantCount(0); got != 3 {
		t.Fatalf("initial reactant count = %d, want 3", got)
	}

	// Each firing converts one K: the rule population drains while the
	// phosphorylated observable rises.
	for i := 1; i <= 3; i++ {
		rec, err := rule.fire(sys.rng)
		if err != nil {
			t.Fatalf("fire %d: %v", i, err)
		}
		if err := sys.repair(rec, rule); err != nil {
			t.Fatalf("repair %d: %v", i, err)
		}
		if got := rule.ReactantCount(0); got != 3-i {
			t.Errorf("reactant count after fire %d = %d, want %d", i, got, 3-i)
		}
		if got := phospho.Value(); got != float64(i) {
			t.Errorf("K_p after fire %d = %g, want %d", i, got, i)
		}
	}
	if got := sys.ATot(); got != 0 {
		t.Errorf("aTot = %g after draining, want 0", got)
	}
}

func TestPopulationRulePropensityAndFire(t *testing.T) {
	sys := NewSystem("population-rule-test", WithSeed(6))
	pool, _ := sys.AddMoleculeType("Pool", nil, true)

	rule := NewPopulationRule("drain", 0.1,
		[]*Pattern{NewPattern(NewTemplateMolecule(pool, nil))},
		NewTransformationSet(
			Transformation{Op: OpDecPopulation, A: Site{Reactant: 0, Node: 0, Comp: noBond}},
		))
	_ = sys.AddReaction(rule)

	pm, _ := sys.CreateMolecule(pool)
	_ = pm.SetPopulation(40)
	if err := sys.PrepareForSimulation(); err != nil {
		t.Fatalf("PrepareForSimulation: %v", err)
	}

	// a = k * population count.
	if got, want := rule.A(), 0.1*40; math.Abs(got-want) > 1e-9 {
		t.Fatalf("a = %g, want %g", got, want)
	}

	rec, err := rule.fire(sys.rng)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if err := sys.repair(rec, rule); err != nil {
		t.Fatalf("repair: %v", err)
	}
	if got := pm.PopulationCount(); got != 39 {
		t.Errorf("population = %d, want 39", got)
	}
	if got, want := rule.A(), 0.1*39; math.Abs(got-want) > 1e-9 {
		t.Errorf("a after fire = %g, want %g", got, want)
	}

	// Draining to zero makes further decrements null events.
	_ = pm.SetPopulation(0)
	sys.selector.apply(rule.updateA())
	if _, err := rule.fire(sys.rng); !errors.Is(err, ErrPopulationUnderflow) {
		t.Errorf("fire on empty pool error = %v, want ErrPopulationUnderflow", err)
	}
}
