package rulesim

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/rand"
)

// FiringEvent is the per-event record handed to firing observers and the
// reaction log.
type FiringEvent struct {
	EventIndex   int64   `json:"event_index"`
	Time         float64 `json:"time"`
	RuleID       int     `json:"rule_id"`
	RuleName     string  `json:"rule_name"`
	Null         bool    `json:"null"`
	ReactantUIDs []int64 `json:"reactant_uids,omitempty"`
	ProductUIDs  []int64 `json:"product_uids,omitempty"`
}

// FiringObserver receives every event of the trajectory, null events
// included.
type FiringObserver func(FiringEvent)

// SampleObserver receives the observable values at each sample time.
type SampleObserver func(t float64, values []float64)

// System owns every registry of one simulation: molecule types, rules,
// observables, parameters, functions and the complex list. Two Systems are
// fully independent; all counters live here rather than in process globals.
type System struct {
	name string
	log  Logger
	rng  *rand.Rand

	types      []*MoleculeType
	typeByName map[string]*MoleculeType
	rules      []*ReactionRule
	ruleByName map[string]*ReactionRule

	observables []*Observable
	obsByName   map[string]*Observable
	params      map[string]float64
	functions   []*GlobalFunction
	fnByName    map[string]*GlobalFunction

	complexes *ComplexList
	selector  *ReactionSelector
	evaluator Evaluator

	connected       [][]bool
	useConnectivity bool

	// utl is the universal traversal limit bounding neighborhood repair.
	utl          int
	maxMolecules int
	maxCPU       time.Duration

	uniqueIDCount  int64
	nullEventCount int64
	eventCount     int64
	currentTime    float64

	byUID map[int64]*Molecule

	prepared bool

	firingObservers []FiringObserver
}

// SystemOption configures a System at construction.
type SystemOption func(*System)

// WithLogger injects the logger used for diagnostics and status reports.
func WithLogger(log Logger) SystemOption {
	return func(s *System) { s.log = log }
}

// WithSeed fixes the random source for reproducible trajectories.
func WithSeed(seed int64) SystemOption {
	return func(s *System) { s.rng = rand.New(rand.NewSource(uint64(seed))) }
}

// WithCanonicalizer replaces the built-in canonical labeler.
func WithCanonicalizer(c Canonicalizer) SystemOption {
	return func(s *System) { s.complexes.canon = c }
}

// WithEvaluator injects the external expression evaluator used by global
// functions and expression rates.
func WithEvaluator(e Evaluator) SystemOption {
	return func(s *System) { s.evaluator = e }
}

// NewSystem creates an empty simulation system.
func NewSystem(name string, opts ...SystemOption) *System {
	s := &System{
		name:            name,
		log:             NewNoOpLogger(),
		rng:             rand.New(rand.NewSource(uint64(time.Now().UnixNano()))),
		typeByName:      make(map[string]*MoleculeType),
		ruleByName:      make(map[string]*ReactionRule),
		obsByName:       make(map[string]*Observable),
		params:          make(map[string]float64),
		fnByName:        make(map[string]*GlobalFunction),
		byUID:           make(map[int64]*Molecule),
		useConnectivity: true,
		utl:             NoLimit,
	}
	s.complexes = newComplexList(NewCanonicalizer())
	s.complexes.onFree = s.complexFreed
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the system name.
func (s *System) Name() string { return s.name }

// CurrentTime returns the trajectory's simulated time.
func (s *System) CurrentTime() float64 { return s.currentTime }

// ATot returns the current total propensity.
func (s *System) ATot() float64 {
	if s.selector == nil {
		return 0
	}
	return s.selector.aTot
}

// EventCount returns the number of events drawn so far, null events
// included.
func (s *System) EventCount() int64 { return s.eventCount }

// NullEventCount returns the number of rejected firings.
func (s *System) NullEventCount() int64 { return s.nullEventCount }

// Complexes exposes the complex tracker.
func (s *System) Complexes() *ComplexList { return s.complexes }

// Rules returns the registered rules.
func (s *System) Rules() []*ReactionRule { return s.rules }

// Observables returns the registered observables.
func (s *System) Observables() []*Observable { return s.observables }

// SetUniversalTraversalLimit bounds the bonded-neighborhood walk of the
// post-firing repair pass. NoLimit repairs whole complexes.
func (s *System) SetUniversalTraversalLimit(n int) { s.utl = n }

// SetMaxMolecules caps the live molecule population; an add beyond the cap
// aborts with ErrResourceExhaustion. Zero means unlimited.
func (s *System) SetMaxMolecules(n int) { s.maxMolecules = n }

// SetMaxCPUTime bounds the wall-clock budget of a Sim/StepTo call.
func (s *System) SetMaxCPUTime(d time.Duration) { s.maxCPU = d }

// SetConnectivityInference toggles the connected-rule pruning of membership
// repair. Disabled, every rule is checked after every firing.
func (s *System) SetConnectivityInference(enabled bool) { s.useConnectivity = enabled }

// AddMoleculeType registers a molecule type. Types are immutable once
// registered.
func (s *System) AddMoleculeType(name string, comps []ComponentDef, populationType bool) (*MoleculeType, error) {
	if s.prepared {
		return nil, fmt.Errorf("add molecule type %q: system already prepared", name)
	}
	if _, dup := s.typeByName[name]; dup {
		return nil, fmt.Errorf("add molecule type %q: duplicate name", name)
	}
	mt := newMoleculeType(s, len(s.types), name, comps, populationType)
	s.types = append(s.types, mt)
	s.typeByName[name] = mt
	return mt, nil
}

// MoleculeType looks up a registered type by name.
func (s *System) MoleculeType(name string) (*MoleculeType, bool) {
	mt, ok := s.typeByName[name]
	return mt, ok
}

// AddReaction registers a rule. Rules cannot be added after
// PrepareForSimulation.
func (s *System) AddReaction(r *ReactionRule) error {
	if s.prepared {
		return fmt.Errorf("add reaction %q: system already prepared", r.name)
	}
	if _, dup := s.ruleByName[r.name]; dup {
		return fmt.Errorf("add reaction %q: duplicate name", r.name)
	}
	r.id = len(s.rules)
	r.sys = s
	s.rules = append(s.rules, r)
	s.ruleByName[r.name] = r
	return nil
}

// Rule looks up a registered rule by name.
func (s *System) Rule(name string) (*ReactionRule, bool) {
	r, ok := s.ruleByName[name]
	return r, ok
}

// AddObservable registers an observable.
func (s *System) AddObservable(o *Observable) error {
	if s.prepared {
		return fmt.Errorf("add observable %q: system already prepared", o.name)
	}
	if _, dup := s.obsByName[o.name]; dup {
		return fmt.Errorf("add observable %q: duplicate name", o.name)
	}
	o.id = len(s.observables)
	o.sys = s
	s.observables = append(s.observables, o)
	s.obsByName[o.name] = o
	return nil
}

// Observable looks up a registered observable by name.
func (s *System) Observable(name string) (*Observable, bool) {
	o, ok := s.obsByName[name]
	return o, ok
}

// AddGlobalFunction registers a named expression function.
func (s *System) AddGlobalFunction(f *GlobalFunction) error {
	if _, dup := s.fnByName[f.name]; dup {
		return fmt.Errorf("add function %q: duplicate name", f.name)
	}
	f.sys = s
	s.functions = append(s.functions, f)
	s.fnByName[f.name] = f
	return nil
}

// AddParameter declares a named numeric parameter.
func (s *System) AddParameter(name string, value float64) {
	s.params[name] = value
}

// Parameter returns a parameter value.
func (s *System) Parameter(name string) (float64, bool) {
	v, ok := s.params[name]
	return v, ok
}

// SetParameter updates a parameter. Call UpdateSystemWithNewParameters to
// propagate the change into rates and functions.
func (s *System) SetParameter(name string, value float64) {
	s.params[name] = value
}

// bindings assembles the evaluator variable scope: parameters, observable
// values, function values and the current time.
func (s *System) bindings() map[string]float64 {
	b := make(map[string]float64, len(s.params)+len(s.observables)+len(s.functions)+1)
	for k, v := range s.params {
		b[k] = v
	}
	for _, o := range s.observables {
		if o.kind != FunctionObservable {
			b[o.name] = o.Value()
		}
	}
	for _, f := range s.functions {
		b[f.name] = f.value
	}
	b["time"] = s.currentTime
	return b
}

// totalMolecules counts live instances over every type store.
func (s *System) totalMolecules() int {
	n := 0
	for _, mt := range s.types {
		n += mt.liveN
	}
	return n
}

// CreateMolecule births a free molecule of the given type with default
// component states, tracked in its own complex.
func (s *System) CreateMolecule(mt *MoleculeType) (*Molecule, error) {
	if s.maxMolecules > 0 && s.totalMolecules() >= s.maxMolecules {
		return nil, fmt.Errorf("create %s: %w", mt.name, ErrResourceExhaustion)
	}
	s.uniqueIDCount++
	m := mt.newInstance(s.uniqueIDCount)
	m.observableCount = make([]int, len(s.observables))
	m.ruleMappings = make([]map[*MappingSet]struct{}, len(s.rules))
	c := s.complexes.track(m)
	s.byUID[m.uniqueID] = m

	// After preparation the live bookkeeping absorbs newcomers directly;
	// before it, PrepareForSimulation scans everything anyway.
	if s.prepared {
		for _, o := range s.observables {
			o.updateMolecule(m)
			o.updateComplex(c)
		}
		for _, r := range s.rules {
			for pos, p := range r.patterns {
				if p.Anchor().typ == mt {
					if _, err := r.tryToAdd(m, pos); err != nil {
						return nil, err
					}
				}
			}
			s.selector.apply(r.updateA())
		}
	}
	return m, nil
}

// CreateMolecules births n molecules of a type.
func (s *System) CreateMolecules(mt *MoleculeType, n int) ([]*Molecule, error) {
	out := make([]*Molecule, 0, n)
	for i := 0; i < n; i++ {
		m, err := s.CreateMolecule(mt)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

// GetMoleculeByUID resolves a unique id. After a delete the id no longer
// resolves: with warn the miss is logged, without it the nil return is
// silent.
func (s *System) GetMoleculeByUID(uid int64, warn bool) *Molecule {
	m, ok := s.byUID[uid]
	if !ok {
		if warn {
			s.log.Warnf("molecule uid %d does not resolve (deleted or never existed)", uid)
		}
		return nil
	}
	return m
}

// deleteMolecule retires a fully unbonded molecule, detaching it from every
// rule, observable and the complex tracker.
func (s *System) deleteMolecule(m *Molecule) {
	for _, r := range s.rules {
		r.removeAll(m)
	}
	s.complexes.untrack(m)
	m.typ.retireInstance(m)
	for _, o := range s.observables {
		o.updateMolecule(m)
	}
	delete(s.byUID, m.uniqueID)
}

// complexFreed clears retired complex ids out of species observables.
func (s *System) complexFreed(id int) {
	for _, o := range s.observables {
		o.dropComplex(id)
	}
}

// PrepareForSimulation builds every reactant list from a full scan,
// initializes observables, functions, the connected-rule matrix and the
// selector. Idempotent on an unchanged model; rules are frozen afterwards
// while molecules may still be added.
func (s *System) PrepareForSimulation() error {
	if err := s.validateModel(); err != nil {
		return err
	}
	for _, m := range s.allLiveMolecules() {
		if len(m.observableCount) < len(s.observables) {
			m.observableCount = append(m.observableCount, make([]int, len(s.observables)-len(m.observableCount))...)
		}
		if len(m.ruleMappings) < len(s.rules) {
			m.ruleMappings = append(m.ruleMappings, make([]map[*MappingSet]struct{}, len(s.rules)-len(m.ruleMappings))...)
		}
	}
	for _, o := range s.observables {
		o.Recount()
	}
	for _, f := range s.functions {
		if err := f.evaluate(); err != nil {
			return err
		}
	}
	for _, r := range s.rules {
		if err := r.prepare(); err != nil {
			return err
		}
		r.updateA()
	}
	s.connected = inferConnectedRules(s.rules, s.useConnectivity)
	s.selector = newReactionSelector(s.rules)
	s.selector.refresh()
	s.prepared = true
	return nil
}

// validateModel checks cross-references the construction API cannot reject
// locally.
func (s *System) validateModel() error {
	verr := &ValidationError{}
	for _, r := range s.rules {
		if len(r.patterns) == 0 {
			verr.Add(fmt.Sprintf("rule %q has no reactant patterns", r.name))
		}
		if r.kind == DORRule {
			if r.dorFn == nil {
				verr.Add(fmt.Sprintf("rule %q is DOR but has no weight function", r.name))
			}
			if r.dorPos < 0 || r.dorPos >= len(r.patterns) {
				verr.Add(fmt.Sprintf("rule %q weighted slot %d out of range", r.name, r.dorPos))
			}
		}
		if r.kind == ObservableRule && r.rateFn == nil {
			verr.Add(fmt.Sprintf("rule %q has no rate function", r.name))
		}
		if r.kind == PopulationRule {
			for _, p := range r.patterns {
				if !p.Anchor().typ.populationType {
					verr.Add(fmt.Sprintf("rule %q: population rule over particle type %s", r.name, p.Anchor().typ.name))
				}
			}
		}
		if r.baseRate < 0 {
			verr.Add(fmt.Sprintf("rule %q has negative rate", r.name))
		}
	}
	if verr.HasIssues() {
		return verr
	}
	return nil
}

func (s *System) allLiveMolecules() []*Molecule {
	var out []*Molecule
	for _, mt := range s.types {
		out = append(out, mt.liveMolecules()...)
	}
	return out
}

// RegisterFiringObserver subscribes to every event of the trajectory.
func (s *System) RegisterFiringObserver(fo FiringObserver) {
	s.firingObservers = append(s.firingObservers, fo)
}

func (s *System) emitFiring(r *ReactionRule, rec *FireRecord, null bool) {
	if len(s.firingObservers) == 0 {
		return
	}
	ev := FiringEvent{
		EventIndex: s.eventCount,
		Time:       s.currentTime,
		RuleID:     r.id,
		RuleName:   r.name,
		Null:       null,
	}
	if rec != nil {
		ev.ReactantUIDs = rec.ReactantUIDs
		ev.ProductUIDs = rec.ProductUIDs
	}
	for _, fo := range s.firingObservers {
		fo(ev)
	}
}

// repair restores reactant-list, observable, weight and propensity
// consistency after a firing mutated the graph around the touched
// molecules.
func (s *System) repair(rec *FireRecord, fired *ReactionRule) error {
	// Neighborhood of the touched set, bounded by the universal traversal
	// limit.
	inHood := make(map[*Molecule]struct{})
	var hood []*Molecule
	for _, m := range rec.Touched {
		if !m.alive {
			continue
		}
		for _, n := range TraverseBondedNeighborhood(m, s.utl) {
			if _, ok := inHood[n]; !ok {
				inHood[n] = struct{}{}
				hood = append(hood, n)
			}
		}
	}

	candidates := s.rules
	if fired != nil && s.useConnectivity {
		candidates = candidates[:0:0]
		for j, ok := range s.connected[fired.id] {
			if ok {
				candidates = append(candidates, s.rules[j])
			}
		}
	}

	// Close the repair set over mapping-set anchors: a match spanning into
	// the neighborhood must be regenerated from its anchor even when the
	// anchor sits outside the traversal bound.
	work := hood
	for len(work) > 0 {
		var next []*Molecule
		for _, n := range work {
			for _, r := range candidates {
				if r.id >= len(n.ruleMappings) {
					continue
				}
				for ms := range n.ruleMappings[r.id] {
					a := ms.At(0).Molecule()
					if _, ok := inHood[a]; !ok {
						inHood[a] = struct{}{}
						hood = append(hood, a)
						next = append(next, a)
					}
				}
			}
		}
		work = next
	}

	complexIDs := make(map[int]struct{})
	for _, n := range hood {
		complexIDs[n.complexID] = struct{}{}
	}
	for _, m := range rec.Touched {
		if m.alive {
			complexIDs[m.complexID] = struct{}{}
		}
	}

	// Remove-then-readd in two phases so an embedding spanning two repaired
	// molecules is dropped exactly once and regenerated exactly once.
	for _, r := range candidates {
		for _, n := range hood {
			for pos := range r.patterns {
				r.remove(n, pos)
			}
		}
	}
	for _, r := range candidates {
		for _, n := range hood {
			if !n.alive {
				continue
			}
			for pos, p := range r.patterns {
				if p.Anchor().typ == n.typ {
					if _, err := r.tryToAdd(n, pos); err != nil {
						return err
					}
				}
			}
		}
	}

	// Observables around the neighborhood.
	for _, o := range s.observables {
		for _, n := range hood {
			o.updateMolecule(n)
		}
		if o.kind == SpeciesObservable {
			for id := range complexIDs {
				o.updateComplex(s.complexes.Get(id))
			}
		}
	}

	// Local DOR weights react to complex-composition changes beyond the
	// matched molecules themselves.
	for _, r := range s.rules {
		if err := r.refreshWeights(complexIDs); err != nil {
			return err
		}
	}

	// Functions read observables, observable-dependent rates read both.
	for _, f := range s.functions {
		if err := f.evaluate(); err != nil {
			return err
		}
	}

	for _, r := range candidates {
		s.selector.apply(r.updateA())
	}
	for _, r := range s.rules {
		if r.kind == ObservableRule || r.kind == DORRule || r.kind == PopulationRule {
			s.selector.apply(r.updateA())
		}
	}
	return nil
}

// UpdateSystemWithNewParameters recomputes functions, parameter-bound rates
// and every propensity after SetParameter calls.
func (s *System) UpdateSystemWithNewParameters() error {
	for _, f := range s.functions {
		if err := f.evaluate(); err != nil {
			return err
		}
	}
	for _, r := range s.rules {
		if r.rateParam != "" {
			if v, ok := s.params[r.rateParam]; ok {
				r.baseRate = v
			}
		}
		r.updateA()
	}
	if s.selector != nil {
		s.selector.refresh()
	}
	return nil
}

// StepTo advances the trajectory to the stop time without emitting samples.
// Returns the reached time; the absorbing state or budget exhaustion can
// stop earlier than requested, with time advanced to stop on absorption.
func (s *System) StepTo(ctx context.Context, stop float64) (float64, error) {
	start := time.Now()
	for s.currentTime < stop {
		if err := ctx.Err(); err != nil {
			return s.currentTime, err
		}
		if s.maxCPU > 0 && time.Since(start) > s.maxCPU {
			return s.currentTime, nil
		}
		if s.selector.aTot <= 0 {
			s.currentTime = stop
			break
		}
		tau := s.selector.nextTime(s.rng)
		if s.currentTime+tau > stop {
			s.currentTime = stop
			break
		}
		if err := s.applyNextEvent(tau); err != nil {
			return s.currentTime, err
		}
	}
	return s.currentTime, nil
}

// applyNextEvent commits one event whose inter-event time was already
// drawn.
func (s *System) applyNextEvent(tau float64) error {
	r := s.selector.nextRule(s.rng.Float64())
	if r == nil {
		return internalf("selector returned no rule with aTot=%g", s.selector.aTot)
	}
	s.currentTime += tau
	s.eventCount++
	rec, err := r.fire(s.rng)
	if err != nil {
		if IsNullEvent(err) {
			s.nullEventCount++
			s.emitFiring(r, nil, true)
			return nil
		}
		return fmt.Errorf("rule %q fire: %w", r.name, err)
	}
	if err := s.repair(rec, r); err != nil {
		return err
	}
	s.emitFiring(r, rec, false)
	return nil
}

// Sim advances the trajectory by duration, emitting samples+1 evenly spaced
// observable snapshots (including both endpoints) to the registered sample
// observers. Returns the final time.
func (s *System) Sim(ctx context.Context, duration float64, samples int, observers ...SampleObserver) (float64, error) {
	if !s.prepared {
		return s.currentTime, fmt.Errorf("system %q: PrepareForSimulation has not run", s.name)
	}
	start := time.Now()
	begin := s.currentTime
	end := begin + duration

	sampleTimes := make([]float64, 0, samples+1)
	if samples <= 0 {
		sampleTimes = append(sampleTimes, end)
	} else {
		dt := duration / float64(samples)
		for i := 0; i <= samples; i++ {
			sampleTimes = append(sampleTimes, begin+float64(i)*dt)
		}
		// Accumulated rounding must not push the last sample past end.
		sampleTimes[samples] = end
	}

	emit := func(t float64) {
		values := make([]float64, len(s.observables))
		for i, o := range s.observables {
			values[i] = o.Value()
		}
		for _, ob := range observers {
			ob(t, values)
		}
	}

	next := 0
	for {
		if err := ctx.Err(); err != nil {
			return s.currentTime, err
		}
		if s.maxCPU > 0 && time.Since(start) > s.maxCPU {
			s.log.Warnf("system %q: CPU budget exhausted at t=%g", s.name, s.currentTime)
			break
		}
		var tNext float64
		absorbing := s.selector.aTot <= 0
		if absorbing {
			tNext = end
		} else {
			tNext = s.currentTime + s.selector.nextTime(s.rng)
		}
		for next < len(sampleTimes) && sampleTimes[next] <= tNext && sampleTimes[next] <= end {
			emit(sampleTimes[next])
			next++
		}
		if absorbing || tNext > end {
			s.currentTime = end
			break
		}
		if err := s.applyNextEvent(tNext - s.currentTime); err != nil {
			return s.currentTime, err
		}
	}
	for next < len(sampleTimes) {
		emit(sampleTimes[next])
		next++
	}
	return s.currentTime, nil
}

// Equilibrate runs the trajectory for duration and then rewinds the clock
// to zero, leaving the relaxed state in place. statusReports > 0 logs that
// many evenly spaced progress lines.
func (s *System) Equilibrate(ctx context.Context, duration float64, statusReports int) error {
	if !s.prepared {
		return fmt.Errorf("system %q: PrepareForSimulation has not run", s.name)
	}
	chunks := 1
	if statusReports > 0 {
		chunks = statusReports
	}
	begin := s.currentTime
	for i := 1; i <= chunks; i++ {
		stop := begin + duration*float64(i)/float64(chunks)
		if _, err := s.StepTo(ctx, stop); err != nil {
			return err
		}
		if statusReports > 0 {
			s.log.Infof("system %q equilibration %d/%d: t=%g events=%d",
				s.name, i, chunks, s.currentTime, s.eventCount)
		}
	}
	s.currentTime = 0
	return nil
}

// CheckInvariants performs the full consistency sweep: bond symmetry,
// complex partition, reactant-list soundness and completeness, observable
// accuracy and the propensity sum. Intended for tests and paranoid runs;
// any violation is an Internal error.
func (s *System) CheckInvariants() error {
	for _, mt := range s.types {
		for _, m := range mt.mols {
			if m == nil || !m.alive {
				continue
			}
			for i, p := range m.bonds {
				if p == nil {
					continue
				}
				pi := m.bondComp[i]
				if p.bonds[pi] != m || p.bondComp[pi] != i {
					return internalf("bond %s.%d -> %s.%d is not symmetric", m, i, p, pi)
				}
			}
		}
	}
	if err := s.complexes.checkPartition(s.types); err != nil {
		return err
	}
	for _, r := range s.rules {
		if r.kind == PopulationRule {
			continue
		}
		for pos, p := range r.patterns {
			want := 0
			for _, m := range p.Anchor().typ.liveMolecules() {
				want += p.MatchCount(m)
			}
			got := r.lists[pos].Count()
			if got != want {
				return internalf("rule %q slot %d: reactant list holds %d sets, graph has %d matches",
					r.name, pos, got, want)
			}
			var stale []*MappingSet
			r.lists[pos].each(func(ms *MappingSet) {
				for _, m := range ms.Molecules() {
					if !m.alive {
						stale = append(stale, ms)
						return
					}
				}
			})
			if len(stale) > 0 {
				return internalf("rule %q slot %d: %d mapping sets reference dead molecules",
					r.name, pos, len(stale))
			}
		}
	}
	for _, o := range s.observables {
		if o.kind == FunctionObservable {
			continue
		}
		onFly := o.Value()
		if rescan := o.Recount(); rescan != onFly {
			return internalf("observable %q: on-the-fly %g != rescan %g", o.name, onFly, rescan)
		}
	}
	if s.selector != nil {
		var sum float64
		for _, r := range s.rules {
			sum += r.a
		}
		if diff := sum - s.selector.aTot; diff > 1e-6 || diff < -1e-6 {
			return internalf("aTot %g drifted from propensity sum %g", s.selector.aTot, sum)
		}
	}
	return nil
}
