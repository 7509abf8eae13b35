package rulesim

// TemplateComponent is one constrained site of a pattern node. Name refers
// to the declared component name, so a symmetric site's constraint may be
// satisfied by any concrete component in the equivalence class.
type TemplateComponent struct {
	Name string

	HasState bool
	State    int

	// MustBeOpen requires the concrete component to be unbonded.
	MustBeOpen bool
	// MustBeBonded requires a bond to exist without constraining the
	// partner (wildcard bond).
	MustBeBonded bool

	// Bond links this site to a site of another template node. The matched
	// concrete components must be bonded to each other.
	Bond *TemplateBond

	// Label enforces state equality between every template component
	// sharing the same label string.
	Label string
}

// TemplateBond is a pattern edge endpoint.
type TemplateBond struct {
	To     *TemplateMolecule
	ToComp int
}

// TemplateMolecule is a typed pattern node.
type TemplateMolecule struct {
	typ   *MoleculeType
	comps []TemplateComponent
	index int
}

// NewTemplateMolecule creates a pattern node for the given type.
func NewTemplateMolecule(typ *MoleculeType, comps []TemplateComponent) *TemplateMolecule {
	return &TemplateMolecule{typ: typ, comps: comps}
}

// Type returns the molecule type this node matches.
func (t *TemplateMolecule) Type() *MoleculeType { return t.typ }

// Pattern is a rooted template graph. nodes[0] is the anchor the matcher
// starts from; every other node must be reachable from it through template
// bonds.
type Pattern struct {
	nodes []*TemplateMolecule
}

// NewPattern assembles a pattern from its nodes, anchored at the first.
func NewPattern(nodes ...*TemplateMolecule) *Pattern {
	for i, n := range nodes {
		n.index = i
	}
	return &Pattern{nodes: nodes}
}

// Anchor returns the root template node.
func (p *Pattern) Anchor() *TemplateMolecule { return p.nodes[0] }

// Nodes returns the pattern's template nodes.
func (p *Pattern) Nodes() []*TemplateMolecule { return p.nodes }

// BondTemplates connects component ai of node a to component bi of node b.
func BondTemplates(a *TemplateMolecule, ai int, b *TemplateMolecule, bi int) {
	a.comps[ai].Bond = &TemplateBond{To: b, ToComp: bi}
	b.comps[bi].Bond = &TemplateBond{To: a, ToComp: ai}
}

// matchState is the scratch state of one backtracking search. Undo actions
// are pushed onto the trail so partial assignments roll back cleanly.
type matchState struct {
	p      *Pattern
	molOf  []*Molecule
	compOf [][]int
	nodeOf map[*Molecule]*TemplateMolecule
	used   map[*Molecule]map[int]bool
	labels map[string]int
	trail  []func()
}

func newMatchState(p *Pattern) *matchState {
	st := &matchState{
		p:      p,
		molOf:  make([]*Molecule, len(p.nodes)),
		compOf: make([][]int, len(p.nodes)),
		nodeOf: make(map[*Molecule]*TemplateMolecule),
		used:   make(map[*Molecule]map[int]bool),
		labels: make(map[string]int),
	}
	for i, n := range p.nodes {
		st.compOf[i] = make([]int, len(n.comps))
		for j := range st.compOf[i] {
			st.compOf[i][j] = noBond
		}
	}
	return st
}

func (st *matchState) mark() int { return len(st.trail) }

func (st *matchState) rollback(mark int) {
	for i := len(st.trail) - 1; i >= mark; i-- {
		st.trail[i]()
	}
	st.trail = st.trail[:mark]
}

func (st *matchState) assign(t *TemplateMolecule, m *Molecule) {
	st.molOf[t.index] = m
	st.nodeOf[m] = t
	st.trail = append(st.trail, func() {
		st.molOf[t.index] = nil
		delete(st.nodeOf, m)
	})
}

func (st *matchState) claim(t *TemplateMolecule, ci int, m *Molecule, k int) {
	if st.used[m] == nil {
		st.used[m] = make(map[int]bool)
	}
	st.used[m][k] = true
	st.compOf[t.index][ci] = k
	st.trail = append(st.trail, func() {
		delete(st.used[m], k)
		st.compOf[t.index][ci] = noBond
	})
}

// checkLocal verifies the molecule-local constraints of tc against concrete
// component k of m, recording label bindings on success.
func (st *matchState) checkLocal(tc *TemplateComponent, m *Molecule, k int) bool {
	if tc.HasState && m.states[k] != tc.State {
		return false
	}
	if tc.MustBeOpen && m.IsBonded(k) {
		return false
	}
	if tc.MustBeBonded && !m.IsBonded(k) {
		return false
	}
	if tc.Label != "" {
		if v, ok := st.labels[tc.Label]; ok {
			if m.states[k] != v {
				return false
			}
		} else {
			label := tc.Label
			st.labels[label] = m.states[k]
			st.trail = append(st.trail, func() { delete(st.labels, label) })
		}
	}
	return true
}

// tryNode attempts to map template node t onto molecule m, then continues
// with cont. Every search function returns true to stop the whole search
// (single-match mode) and false to keep enumerating.
func (st *matchState) tryNode(t *TemplateMolecule, m *Molecule, cont func() bool) bool {
	if cur := st.molOf[t.index]; cur != nil {
		if cur != m {
			return false
		}
		return cont()
	}
	if !m.alive || m.typ != t.typ {
		return false
	}
	if _, taken := st.nodeOf[m]; taken {
		return false
	}
	mark := st.mark()
	st.assign(t, m)
	if st.tryComps(t, m, 0, cont) {
		return true
	}
	st.rollback(mark)
	return false
}

// tryComps satisfies t's components from index ci on, backtracking over the
// equivalence-class choices of symmetric sites.
func (st *matchState) tryComps(t *TemplateMolecule, m *Molecule, ci int, cont func() bool) bool {
	if ci == len(t.comps) {
		return cont()
	}
	tc := &t.comps[ci]

	// A component already claimed through an incoming pattern bond was
	// fully checked at claim time; move on.
	if st.compOf[t.index][ci] != noBond {
		return st.tryComps(t, m, ci+1, cont)
	}

	for _, k := range t.typ.compIndex[tc.Name] {
		if st.used[m][k] {
			continue
		}
		mark := st.mark()
		if !st.checkLocal(tc, m, k) {
			st.rollback(mark)
			continue
		}
		st.claim(t, ci, m, k)
		var stop bool
		if tc.Bond == nil {
			stop = st.tryComps(t, m, ci+1, cont)
		} else {
			stop = st.tryBond(t, m, ci, k, tc, cont)
		}
		if stop {
			return true
		}
		st.rollback(mark)
	}
	return false
}

// tryBond follows the pattern edge leaving (t, ci) through the concrete
// bond at (m, k).
func (st *matchState) tryBond(t *TemplateMolecule, m *Molecule, ci, k int, tc *TemplateComponent, cont func() bool) bool {
	partner, pk := m.BondPartner(k)
	if partner == nil {
		return false
	}
	t2 := tc.Bond.To
	ci2 := tc.Bond.ToComp
	tc2 := &t2.comps[ci2]

	// The partner's concrete component must belong to the declared name's
	// equivalence class on the far template side.
	allowed := false
	for _, c := range t2.typ.compIndex[tc2.Name] {
		if c == pk {
			allowed = true
			break
		}
	}
	if !allowed || partner.typ != t2.typ {
		return false
	}

	next := func() bool { return st.tryComps(t, m, ci+1, cont) }

	if cur := st.molOf[t2.index]; cur != nil {
		if cur != partner {
			return false
		}
		if got := st.compOf[t2.index][ci2]; got != noBond {
			if got != pk {
				return false
			}
			return next()
		}
		if st.used[partner][pk] {
			return false
		}
		mark := st.mark()
		if !st.checkLocal(tc2, partner, pk) {
			st.rollback(mark)
			return false
		}
		st.claim(t2, ci2, partner, pk)
		if next() {
			return true
		}
		st.rollback(mark)
		return false
	}

	if _, taken := st.nodeOf[partner]; taken {
		return false
	}
	if st.used[partner][pk] {
		return false
	}
	mark := st.mark()
	if !st.checkLocal(tc2, partner, pk) {
		st.rollback(mark)
		return false
	}
	st.claim(t2, ci2, partner, pk)
	if st.tryNode(t2, partner, next) {
		return true
	}
	st.rollback(mark)
	return false
}

func (st *matchState) complete() bool {
	for _, m := range st.molOf {
		if m == nil {
			return false
		}
	}
	return true
}

// Matches reports whether the pattern embeds into the graph with its anchor
// at m.
func (p *Pattern) Matches(m *Molecule) bool {
	st := newMatchState(p)
	return st.tryNode(p.Anchor(), m, func() bool { return st.complete() })
}

// MatchInto attempts a single embedding anchored at m and records it into
// ms. Returns false with ms untouched when no embedding exists.
func (p *Pattern) MatchInto(m *Molecule, ms *MappingSet) bool {
	st := newMatchState(p)
	found := st.tryNode(p.Anchor(), m, func() bool { return st.complete() })
	if found {
		ms.capture(st)
	}
	return found
}

// MatchCount counts the distinct embeddings anchored at m. Embeddings
// differing only in which symmetric concrete component a template site
// claimed are distinct, so a molecule with three equivalent free sites
// yields multiplicity three against a one-site pattern.
func (p *Pattern) MatchCount(m *Molecule) int {
	n := 0
	p.matchEach(m, func(*matchState) { n++ })
	return n
}

// matchEach invokes visit for every distinct embedding anchored at m. The
// state passed to visit is only valid for the duration of the call.
func (p *Pattern) matchEach(m *Molecule, visit func(*matchState)) {
	st := newMatchState(p)
	st.tryNode(p.Anchor(), m, func() bool {
		if st.complete() {
			visit(st)
		}
		return false
	})
}
