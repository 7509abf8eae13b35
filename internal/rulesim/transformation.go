package rulesim

import "fmt"

// TransformOp enumerates the edits a rule can apply.
type TransformOp int

const (
	OpStateChange TransformOp = iota
	OpAddBond
	OpDeleteBond
	OpAddMolecule
	OpDeleteMolecule
	OpIncPopulation
	OpDecPopulation
)

// Site addresses one component of one matched molecule. Reactant selects
// the mapping set, Node the template node within it and Comp the template
// component index. A Reactant of NewProduct addresses a molecule created by
// an earlier OpAddMolecule of the same firing, with Node giving its
// creation index and Comp a concrete component index.
const NewProduct = -1

type Site struct {
	Reactant int
	Node     int
	Comp     int
}

// Transformation is one declarative edit.
type Transformation struct {
	Op TransformOp
	A  Site
	B  Site

	NewState  int
	NewType   *MoleculeType
	NewStates []int
}

// TransformationSet is a rule's ordered edit list. Edits apply in declared
// order except molecule deletions, which always run last. Validity is
// established before the first mutation, so a rejected firing is a null
// event with no side effects.
type TransformationSet struct {
	transforms []Transformation

	// forbidSameComplex rejects AddBond edits whose endpoints already live
	// in one complex, surfacing as a null event.
	forbidSameComplex bool
}

// NewTransformationSet builds a transformation set.
func NewTransformationSet(transforms ...Transformation) *TransformationSet {
	return &TransformationSet{transforms: transforms}
}

// ForbidSameComplex makes intra-complex AddBond edits a null event.
func (ts *TransformationSet) ForbidSameComplex() *TransformationSet {
	ts.forbidSameComplex = true
	return ts
}

// Transforms returns the declared edits.
func (ts *TransformationSet) Transforms() []Transformation { return ts.transforms }

// FireRecord describes one applied firing for logging and repair.
type FireRecord struct {
	ReactantUIDs []int64
	ProductUIDs  []int64

	// Touched lists every surviving molecule whose local context changed.
	Touched []*Molecule
	// Deleted lists molecules retired by the firing.
	Deleted []*Molecule
}

// siteKey identifies a concrete component for occupancy simulation during
// validation.
type siteKey struct {
	mol  *Molecule
	comp int
}

// resolve maps a Site to its concrete molecule and component index.
func (ts *TransformationSet) resolve(s Site, msets []*MappingSet, added []*Molecule) (*Molecule, int, error) {
	if s.Reactant == NewProduct {
		if s.Node < 0 || s.Node >= len(added) {
			return nil, 0, internalf("transformation references product %d of %d", s.Node, len(added))
		}
		return added[s.Node], s.Comp, nil
	}
	if s.Reactant < 0 || s.Reactant >= len(msets) {
		return nil, 0, internalf("transformation references reactant %d of %d", s.Reactant, len(msets))
	}
	mp := msets[s.Reactant].At(s.Node)
	comp := noBond
	if s.Comp >= 0 {
		comp = mp.Component(s.Comp)
		if comp == noBond {
			return nil, 0, internalf("transformation references unmapped component %d of node %d", s.Comp, s.Node)
		}
	}
	return mp.Molecule(), comp, nil
}

// validate walks the edit list without mutating, simulating bond occupancy
// so an earlier delete can open a site for a later add. Null-event errors
// surface here, before any state changes.
func (ts *TransformationSet) validate(sys *System, msets []*MappingSet) error {
	occupied := make(map[siteKey]bool)
	bonded := func(m *Molecule, c int) bool {
		if v, ok := occupied[siteKey{m, c}]; ok {
			return v
		}
		return m.IsBonded(c)
	}
	adds := 0
	for _, tr := range ts.transforms {
		switch tr.Op {
		case OpAddMolecule:
			if sys.maxMolecules > 0 && sys.totalMolecules()+adds >= sys.maxMolecules {
				return fmt.Errorf("adding %s: %w", tr.NewType.name, ErrResourceExhaustion)
			}
			adds++
		case OpDeleteBond:
			m, c, err := ts.resolve(tr.A, msets, nil)
			if err != nil {
				return err
			}
			if !bonded(m, c) {
				return fmt.Errorf("rule delete-bond on %s: %w", m, ErrSiteUnbound)
			}
			occupied[siteKey{m, c}] = false
			if p, pc := m.BondPartner(c); p != nil {
				occupied[siteKey{p, pc}] = false
			}
		case OpAddBond:
			// Bonds onto freshly added molecules are always open; only
			// existing endpoints need the occupancy and complex checks.
			var am, bm *Molecule
			var ac, bc int
			var err error
			if tr.A.Reactant != NewProduct {
				am, ac, err = ts.resolve(tr.A, msets, nil)
				if err != nil {
					return err
				}
				if bonded(am, ac) {
					return fmt.Errorf("rule add-bond on %s: %w", am, ErrSiteOccupied)
				}
				occupied[siteKey{am, ac}] = true
			}
			if tr.B.Reactant != NewProduct {
				bm, bc, err = ts.resolve(tr.B, msets, nil)
				if err != nil {
					return err
				}
				if bonded(bm, bc) {
					return fmt.Errorf("rule add-bond on %s: %w", bm, ErrSiteOccupied)
				}
				occupied[siteKey{bm, bc}] = true
			}
			if ts.forbidSameComplex && am != nil && bm != nil && am.ComplexID() == bm.ComplexID() {
				return fmt.Errorf("rule add-bond %s to %s: %w", am, bm, ErrComplexMergeForbidden)
			}
		case OpDecPopulation:
			m, _, err := ts.resolve(tr.A, msets, nil)
			if err != nil {
				return err
			}
			if m.populationCount < 1 {
				return fmt.Errorf("rule on %s: %w", m, ErrPopulationUnderflow)
			}
		}
	}
	return nil
}

// apply validates and then executes the edit list, returning the firing
// record. On a validation error nothing has been mutated.
func (ts *TransformationSet) apply(sys *System, msets []*MappingSet) (*FireRecord, error) {
	if err := ts.validate(sys, msets); err != nil {
		return nil, err
	}

	rec := &FireRecord{}
	touched := make(map[*Molecule]struct{})
	touch := func(m *Molecule) {
		if m != nil {
			touched[m] = struct{}{}
		}
	}
	for _, ms := range msets {
		for _, m := range ms.Molecules() {
			touch(m)
			rec.ReactantUIDs = append(rec.ReactantUIDs, m.uniqueID)
		}
	}

	var added []*Molecule
	var deletes []Transformation

	for _, tr := range ts.transforms {
		switch tr.Op {
		case OpStateChange:
			m, c, err := ts.resolve(tr.A, msets, added)
			if err != nil {
				return nil, err
			}
			if err := m.SetComponentState(c, tr.NewState); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInternal, err)
			}
			touch(m)
		case OpDeleteBond:
			m, c, err := ts.resolve(tr.A, msets, added)
			if err != nil {
				return nil, err
			}
			// Idempotent across doubly-listed edges: the partner side may
			// already have removed the bond.
			if m.IsBonded(c) {
				if _, _, err := Unbind(m, c); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInternal, err)
				}
			}
			touch(m)
		case OpAddMolecule:
			nm, err := sys.CreateMolecule(tr.NewType)
			if err != nil {
				return nil, err
			}
			for i, s := range tr.NewStates {
				nm.states[i] = s
			}
			added = append(added, nm)
			touch(nm)
		case OpAddBond:
			am, ac, err := ts.resolve(tr.A, msets, added)
			if err != nil {
				return nil, err
			}
			bm, bc, err := ts.resolve(tr.B, msets, added)
			if err != nil {
				return nil, err
			}
			if err := Bind(am, ac, bm, bc); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInternal, err)
			}
			touch(am)
			touch(bm)
		case OpIncPopulation:
			m, _, err := ts.resolve(tr.A, msets, added)
			if err != nil {
				return nil, err
			}
			if err := m.IncrementPopulation(); err != nil {
				return nil, err
			}
			touch(m)
		case OpDecPopulation:
			m, _, err := ts.resolve(tr.A, msets, added)
			if err != nil {
				return nil, err
			}
			if err := m.DecrementPopulation(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInternal, err)
			}
			touch(m)
		case OpDeleteMolecule:
			deletes = append(deletes, tr)
		}
	}

	// Deletes run last so every other edit saw a stable graph.
	for _, tr := range deletes {
		m, _, err := ts.resolve(tr.A, msets, added)
		if err != nil {
			return nil, err
		}
		for i := range m.bonds {
			if m.bonds[i] != nil {
				p := m.bonds[i]
				if _, _, err := Unbind(m, i); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrInternal, err)
				}
				touch(p)
			}
		}
		sys.deleteMolecule(m)
		delete(touched, m)
		rec.Deleted = append(rec.Deleted, m)
	}

	for m := range touched {
		if m.alive {
			rec.Touched = append(rec.Touched, m)
			rec.ProductUIDs = append(rec.ProductUIDs, m.uniqueID)
		}
	}
	return rec, nil
}
