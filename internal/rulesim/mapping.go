package rulesim

// Mapping records where one template node landed: the concrete molecule and,
// per template component, the concrete component index it claimed.
type Mapping struct {
	mol   *Molecule
	comps []int
}

// Molecule returns the mapped molecule.
func (mp *Mapping) Molecule() *Molecule { return mp.mol }

// Component returns the concrete component index claimed by template
// component ci, or -1 when the template left it unconstrained.
func (mp *Mapping) Component(ci int) int { return mp.comps[ci] }

// MappingSet is one successful embedding of a reactant pattern into the
// instance graph. Sets are reusable storage owned by a per-rule pool: they
// are claimed, populated by the matcher, and either retained in a reactant
// list or released back to the free list.
type MappingSet struct {
	id          int
	rule        *ReactionRule
	reactantPos int

	mappings []Mapping

	// weight is the per-match rate contribution of a DOR rule.
	weight float64

	// listPos is the back-reference into the reactant list, noBond when the
	// set is not stored.
	listPos int
}

// ID returns the pool-local identifier.
func (ms *MappingSet) ID() int { return ms.id }

// At returns the mapping of template node i.
func (ms *MappingSet) At(i int) *Mapping { return &ms.mappings[i] }

// Size returns the number of mapped template nodes.
func (ms *MappingSet) Size() int { return len(ms.mappings) }

// Weight returns the DOR weight of this match.
func (ms *MappingSet) Weight() float64 { return ms.weight }

// Molecules returns the distinct molecules covered by the embedding.
func (ms *MappingSet) Molecules() []*Molecule {
	out := make([]*Molecule, 0, len(ms.mappings))
	for i := range ms.mappings {
		out = append(out, ms.mappings[i].mol)
	}
	return out
}

// capture snapshots a completed match state into the set.
func (ms *MappingSet) capture(st *matchState) {
	nodes := st.p.nodes
	if cap(ms.mappings) < len(nodes) {
		ms.mappings = make([]Mapping, len(nodes))
	}
	ms.mappings = ms.mappings[:len(nodes)]
	for i := range nodes {
		mp := &ms.mappings[i]
		mp.mol = st.molOf[i]
		if cap(mp.comps) < len(st.compOf[i]) {
			mp.comps = make([]int, len(st.compOf[i]))
		}
		mp.comps = mp.comps[:len(st.compOf[i])]
		copy(mp.comps, st.compOf[i])
	}
}

// mappingSetPool is an explicit per-rule free list of mapping sets, sized
// for reuse so a long trajectory stops allocating once warm.
type mappingSetPool struct {
	free        []*MappingSet
	nextID      int
	outstanding int
}

func (pl *mappingSetPool) claim(rule *ReactionRule, pos int) *MappingSet {
	pl.outstanding++
	if n := len(pl.free); n > 0 {
		ms := pl.free[n-1]
		pl.free = pl.free[:n-1]
		ms.rule = rule
		ms.reactantPos = pos
		ms.weight = 0
		ms.listPos = noBond
		return ms
	}
	ms := &MappingSet{id: pl.nextID, rule: rule, reactantPos: pos, listPos: noBond}
	pl.nextID++
	return ms
}

func (pl *mappingSetPool) release(ms *MappingSet) {
	pl.outstanding--
	ms.listPos = noBond
	pl.free = append(pl.free, ms)
}

// Outstanding returns the number of claimed-but-unreleased sets. Property
// tests assert this matches the reactant list population, i.e. no leaks.
func (pl *mappingSetPool) Outstanding() int { return pl.outstanding }
