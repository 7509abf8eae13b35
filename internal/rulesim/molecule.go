package rulesim

import "fmt"

const (
	// noBond marks an open component.
	noBond = -1
	// noComplex marks a molecule not yet tracked by the complex list.
	noComplex = -1
	// NoLimit disables the depth bound of TraverseBondedNeighborhood.
	NoLimit = -1
)

// Molecule is a single typed node in the instance graph. Each component
// carries a discrete state index and an optional doubly-linked bond edge to
// a partner molecule's component.
type Molecule struct {
	typ      *MoleculeType
	uniqueID int64
	listID   int
	alive    bool

	states   []int
	bonds    []*Molecule
	bondComp []int

	complexID int

	// populationCount is meaningful only for population-type molecules.
	populationCount int64

	// observableCount[o] is the molecule's current match multiplicity in
	// molecules-observable o.
	observableCount []int

	// ruleMappings[r] holds the mapping sets through which this molecule
	// currently participates in rule r. It is a set because a symmetric
	// molecule can embed one rule pattern in several distinct ways.
	ruleMappings []map[*MappingSet]struct{}

	// Traversal scratch. Valid only inside a single traversal call.
	visited bool
}

// Type returns the molecule's type.
func (m *Molecule) Type() *MoleculeType { return m.typ }

// UniqueID returns the simulation-wide monotone identifier.
func (m *Molecule) UniqueID() int64 { return m.uniqueID }

// IsAlive reports whether the molecule is live (not retired).
func (m *Molecule) IsAlive() bool { return m.alive }

// ComplexID returns the identifier of the connected complex the molecule
// currently belongs to.
func (m *Molecule) ComplexID() int { return m.complexID }

// ComponentState returns the state index of component i.
func (m *Molecule) ComponentState(i int) int { return m.states[i] }

// IsBonded reports whether component i has a bond.
func (m *Molecule) IsBonded(i int) bool { return m.bonds[i] != nil }

// BondPartner returns the partner molecule and the partner's component index
// for bonded component i, or (nil, noBond) when open.
func (m *Molecule) BondPartner(i int) (*Molecule, int) {
	return m.bonds[i], m.bondComp[i]
}

// PopulationCount returns the lumped count of a population-type molecule.
func (m *Molecule) PopulationCount() int64 { return m.populationCount }

func (m *Molecule) String() string {
	return fmt.Sprintf("%s#%d", m.typ.name, m.uniqueID)
}

// Bind creates the symmetric edge (a,ai)<->(b,bi). Both sites must be open.
// If the endpoints live in distinct complexes the complexes are merged.
func Bind(a *Molecule, ai int, b *Molecule, bi int) error {
	if a.bonds[ai] != nil || b.bonds[bi] != nil {
		return fmt.Errorf("bind %s.%s to %s.%s: %w",
			a, a.typ.components[ai].Name, b, b.typ.components[bi].Name, ErrSiteOccupied)
	}
	a.bonds[ai] = b
	a.bondComp[ai] = bi
	b.bonds[bi] = a
	b.bondComp[bi] = ai
	if a.typ.sys != nil {
		a.typ.sys.complexes.mergeOnBind(a, b)
	}
	return nil
}

// Unbind removes the bond at (m,i) and returns the former partner's unique
// id and component index for logging. The complex is re-analyzed and split
// when the partner is no longer reachable.
func Unbind(m *Molecule, i int) (partnerUID int64, partnerComp int, err error) {
	p := m.bonds[i]
	if p == nil {
		return 0, noBond, fmt.Errorf("unbind %s.%s: %w", m, m.typ.components[i].Name, ErrSiteUnbound)
	}
	pi := m.bondComp[i]
	m.bonds[i] = nil
	m.bondComp[i] = noBond
	p.bonds[pi] = nil
	p.bondComp[pi] = noBond
	if m.typ.sys != nil {
		m.typ.sys.complexes.splitOnUnbind(m, p)
	}
	return p.uniqueID, pi, nil
}

// SetComponentState updates the state of component i. The state index must
// be within the component's allowed states.
func (m *Molecule) SetComponentState(i, state int) error {
	def := m.typ.components[i]
	if !def.IsInteger && (state < 0 || state >= len(def.States)) {
		return fmt.Errorf("molecule %s component %s: state index %d out of range", m, def.Name, state)
	}
	m.states[i] = state
	if m.typ.sys != nil {
		m.typ.sys.complexes.invalidateLabel(m.complexID)
	}
	return nil
}

// SetPopulation sets the lumped count of a population-type molecule.
func (m *Molecule) SetPopulation(n int64) error {
	if !m.typ.populationType {
		return fmt.Errorf("molecule %s: type is not a population type", m)
	}
	if n < 0 {
		return fmt.Errorf("molecule %s: %w", m, ErrPopulationUnderflow)
	}
	m.populationCount = n
	return nil
}

// IncrementPopulation adds one to the lumped count.
func (m *Molecule) IncrementPopulation() error {
	return m.SetPopulation(m.populationCount + 1)
}

// DecrementPopulation subtracts one from the lumped count, failing with
// ErrPopulationUnderflow at zero.
func (m *Molecule) DecrementPopulation() error {
	return m.SetPopulation(m.populationCount - 1)
}

// TraverseBondedNeighborhood walks bond edges breadth-first from m up to
// depthLimit edges away (NoLimit for the whole complex) and returns the
// deduplicated molecules reached, m included.
func TraverseBondedNeighborhood(m *Molecule, depthLimit int) []*Molecule {
	type frontier struct {
		mol   *Molecule
		depth int
	}
	out := []*Molecule{m}
	m.visited = true
	queue := []frontier{{m, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if depthLimit != NoLimit && cur.depth >= depthLimit {
			continue
		}
		for _, p := range cur.mol.bonds {
			if p == nil || p.visited {
				continue
			}
			p.visited = true
			out = append(out, p)
			queue = append(queue, frontier{p, cur.depth + 1})
		}
	}
	for _, n := range out {
		n.visited = false
	}
	return out
}
