package rulesim

import "fmt"

// ComponentDef describes one binding/state site of a molecule type.
// States lists the allowed discrete state names; an empty list means the
// component is a pure binding site with no internal state. IsInteger marks
// integer-valued components whose state index is interpreted numerically.
type ComponentDef struct {
	Name         string
	States       []string
	DefaultState int
	IsInteger    bool
}

// MoleculeType describes a kind of molecule: its named components, their
// allowed states, and the equivalence classes of symmetric components.
// Types are immutable after registration with a System and own the dense
// store of their live molecule instances.
type MoleculeType struct {
	id         int
	name       string
	components []ComponentDef

	// equivClass[i] groups symmetric components: components created from the
	// same declared name share a class and are interchangeable for matching.
	// Components with a unique name have a class of their own.
	equivClass []int

	// compIndex maps a declared component name to all indices belonging to
	// it. A symmetric site declared three times as "r" is stored as r1,r2,r3
	// and compIndex["r"] lists all three.
	compIndex map[string][]int

	populationType bool

	sys *System

	mols    []*Molecule
	freeIDs []int
	liveN   int
}

func newMoleculeType(sys *System, id int, name string, comps []ComponentDef, populationType bool) *MoleculeType {
	mt := &MoleculeType{
		id:             id,
		name:           name,
		populationType: populationType,
		compIndex:      make(map[string][]int),
		sys:            sys,
	}

	// Count duplicate declared names so symmetric sites get relabeled with
	// an ordinal suffix while keeping one equivalence class per name.
	nameCount := make(map[string]int)
	for _, c := range comps {
		nameCount[c.Name]++
	}
	classByName := make(map[string]int)
	nextClass := 0
	seen := make(map[string]int)
	for _, c := range comps {
		class, ok := classByName[c.Name]
		if !ok {
			class = nextClass
			nextClass++
			classByName[c.Name] = class
		}
		stored := c
		if nameCount[c.Name] > 1 {
			seen[c.Name]++
			stored.Name = fmt.Sprintf("%s%d", c.Name, seen[c.Name])
		}
		idx := len(mt.components)
		mt.components = append(mt.components, stored)
		mt.equivClass = append(mt.equivClass, class)
		mt.compIndex[c.Name] = append(mt.compIndex[c.Name], idx)
		if stored.Name != c.Name {
			mt.compIndex[stored.Name] = []int{idx}
		}
	}
	return mt
}

// ID returns the type's registration index within its System.
func (mt *MoleculeType) ID() int { return mt.id }

// Name returns the declared type name.
func (mt *MoleculeType) Name() string { return mt.name }

// NumComponents returns the number of components (symmetric sites expanded).
func (mt *MoleculeType) NumComponents() int { return len(mt.components) }

// Component returns the definition of component i.
func (mt *MoleculeType) Component(i int) ComponentDef { return mt.components[i] }

// IsPopulationType reports whether instances carry a lumped population count
// instead of being tracked individually.
func (mt *MoleculeType) IsPopulationType() bool { return mt.populationType }

// ComponentIndexes returns every component index declared under name.
// For a symmetric site the whole equivalence class is returned.
func (mt *MoleculeType) ComponentIndexes(name string) []int {
	return mt.compIndex[name]
}

// EquivalentComponents returns all component indices interchangeable with
// component i, including i itself.
func (mt *MoleculeType) EquivalentComponents(i int) []int {
	class := mt.equivClass[i]
	out := make([]int, 0, 2)
	for j, c := range mt.equivClass {
		if c == class {
			out = append(out, j)
		}
	}
	return out
}

// StateIndex resolves a state name for component comp, or -1 if the name is
// not an allowed state.
func (mt *MoleculeType) StateIndex(comp int, state string) int {
	for i, s := range mt.components[comp].States {
		if s == state {
			return i
		}
	}
	return -1
}

// PopulationCount sums the population counters over live instances of a
// population type, or counts live instances for a particle type.
func (mt *MoleculeType) PopulationCount() int64 {
	var n int64
	for _, m := range mt.mols {
		if m == nil || !m.alive {
			continue
		}
		if mt.populationType {
			n += m.populationCount
		} else {
			n++
		}
	}
	return n
}

// LiveCount returns the number of live instances in the store.
func (mt *MoleculeType) LiveCount() int { return mt.liveN }

// newInstance allocates a molecule in the type's store, reusing a retired
// slot when one is available.
func (mt *MoleculeType) newInstance(uid int64) *Molecule {
	m := &Molecule{
		typ:       mt,
		uniqueID:  uid,
		alive:     true,
		complexID: noComplex,
		states:    make([]int, len(mt.components)),
		bonds:     make([]*Molecule, len(mt.components)),
		bondComp:  make([]int, len(mt.components)),
	}
	for i, c := range mt.components {
		m.states[i] = c.DefaultState
		m.bondComp[i] = noBond
	}
	if mt.populationType {
		m.populationCount = 1
	}
	if n := len(mt.freeIDs); n > 0 {
		id := mt.freeIDs[n-1]
		mt.freeIDs = mt.freeIDs[:n-1]
		m.listID = id
		mt.mols[id] = m
	} else {
		m.listID = len(mt.mols)
		mt.mols = append(mt.mols, m)
	}
	mt.liveN++
	return m
}

// retireInstance returns a molecule's slot to the free list. The molecule
// must already be unbonded and detached from rules and observables.
func (mt *MoleculeType) retireInstance(m *Molecule) {
	m.alive = false
	mt.mols[m.listID] = nil
	mt.freeIDs = append(mt.freeIDs, m.listID)
	mt.liveN--
}

// eachLive calls f for every live instance. The store must not be mutated
// during iteration; callers that fire rules collect into a slice first.
func (mt *MoleculeType) eachLive(f func(*Molecule)) {
	for _, m := range mt.mols {
		if m != nil && m.alive {
			f(m)
		}
	}
}

// liveMolecules returns a snapshot slice of the live instances, safe to
// iterate while the store is mutated.
func (mt *MoleculeType) liveMolecules() []*Molecule {
	out := make([]*Molecule, 0, mt.liveN)
	mt.eachLive(func(m *Molecule) { out = append(out, m) })
	return out
}
