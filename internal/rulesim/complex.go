package rulesim

// Complex is a maximal connected subgraph of bonded molecules. Its canonical
// label is computed lazily and invalidated on any mutation that touches a
// member.
type Complex struct {
	id      int
	members []*Molecule

	labelValid bool
	label      string
}

// ID returns the complex identifier.
func (c *Complex) ID() int { return c.id }

// Size returns the number of member molecules.
func (c *Complex) Size() int { return len(c.members) }

// Members returns a snapshot of the membership list.
func (c *Complex) Members() []*Molecule {
	out := make([]*Molecule, len(c.members))
	copy(out, c.members)
	return out
}

// ComplexList tracks every live complex in a dense indexed table with a
// queue of reusable identifiers.
type ComplexList struct {
	complexes []*Complex
	freeIDs   []int
	canon     Canonicalizer

	// onFree is invoked with each retired complex id so per-complex
	// bookkeeping elsewhere (species observables) can forget it.
	onFree func(id int)
}

func newComplexList(canon Canonicalizer) *ComplexList {
	return &ComplexList{canon: canon}
}

// Get returns the complex with the given id, or nil when the id is retired.
func (cl *ComplexList) Get(id int) *Complex {
	if id < 0 || id >= len(cl.complexes) {
		return nil
	}
	return cl.complexes[id]
}

// Count returns the number of live complexes.
func (cl *ComplexList) Count() int {
	return len(cl.complexes) - len(cl.freeIDs)
}

// Each calls f for every live complex.
func (cl *ComplexList) Each(f func(*Complex)) {
	for _, c := range cl.complexes {
		if c != nil {
			f(c)
		}
	}
}

// allocate creates a complex containing exactly the given molecules,
// reusing a retired id when one is queued.
func (cl *ComplexList) allocate(members []*Molecule) *Complex {
	c := &Complex{members: members}
	if n := len(cl.freeIDs); n > 0 {
		c.id = cl.freeIDs[0]
		cl.freeIDs = cl.freeIDs[1:]
		cl.complexes[c.id] = c
	} else {
		c.id = len(cl.complexes)
		cl.complexes = append(cl.complexes, c)
	}
	for _, m := range members {
		m.complexID = c.id
	}
	return c
}

// free retires a complex id back to the queue.
func (cl *ComplexList) free(c *Complex) {
	cl.complexes[c.id] = nil
	cl.freeIDs = append(cl.freeIDs, c.id)
	c.members = nil
	if cl.onFree != nil {
		cl.onFree(c.id)
	}
}

// track registers a newborn free molecule in its own complex.
func (cl *ComplexList) track(m *Molecule) *Complex {
	return cl.allocate([]*Molecule{m})
}

// untrack removes a molecule from its complex, retiring the complex when it
// was the last member. The molecule must already be fully unbonded.
func (cl *ComplexList) untrack(m *Molecule) {
	c := cl.Get(m.complexID)
	if c == nil {
		return
	}
	for i, mm := range c.members {
		if mm == m {
			c.members[i] = c.members[len(c.members)-1]
			c.members = c.members[:len(c.members)-1]
			break
		}
	}
	m.complexID = noComplex
	if len(c.members) == 0 {
		cl.free(c)
	} else {
		c.labelValid = false
	}
}

// mergeOnBind joins the complexes of a and b after a bond was created.
// The smaller membership list is spliced into the larger; the emptied id is
// queued for reuse. Binding within one complex only invalidates the label.
func (cl *ComplexList) mergeOnBind(a, b *Molecule) {
	ca := cl.Get(a.complexID)
	cb := cl.Get(b.complexID)
	if ca == nil || cb == nil {
		return
	}
	if ca == cb {
		ca.labelValid = false
		return
	}
	if len(ca.members) < len(cb.members) {
		ca, cb = cb, ca
	}
	for _, m := range cb.members {
		m.complexID = ca.id
	}
	ca.members = append(ca.members, cb.members...)
	ca.labelValid = false
	cl.free(cb)
}

// splitOnUnbind re-analyzes connectivity after the bond between a and b was
// removed. A BFS from a decides whether b is still reachable; when it is
// not, b's fragment moves to a freshly allocated complex.
func (cl *ComplexList) splitOnUnbind(a, b *Molecule) {
	c := cl.Get(a.complexID)
	if c == nil {
		return
	}
	reach := TraverseBondedNeighborhood(a, NoLimit)
	stillConnected := false
	for _, m := range reach {
		if m == b {
			stillConnected = true
			break
		}
	}
	c.labelValid = false
	if stillConnected {
		return
	}
	fragment := TraverseBondedNeighborhood(b, NoLimit)
	inFragment := make(map[*Molecule]struct{}, len(fragment))
	for _, m := range fragment {
		inFragment[m] = struct{}{}
	}
	kept := c.members[:0]
	for _, m := range c.members {
		if _, moved := inFragment[m]; !moved {
			kept = append(kept, m)
		}
	}
	c.members = kept
	cl.allocate(fragment)
}

// invalidateLabel marks a complex's canonical label dirty.
func (cl *ComplexList) invalidateLabel(id int) {
	if c := cl.Get(id); c != nil {
		c.labelValid = false
	}
}

// CanonicalLabel returns the complex's canonical label, recomputing it
// through the configured canonicalizer when the cache is dirty.
func (cl *ComplexList) CanonicalLabel(c *Complex) string {
	if !c.labelValid {
		c.label = cl.canon.Label(c)
		c.labelValid = true
	}
	return c.label
}

// checkPartition verifies that bond reachability and complex membership
// agree for every live molecule. Called from System.CheckInvariants; the
// repair path does not call it.
func (cl *ComplexList) checkPartition(types []*MoleculeType) error {
	for _, mt := range types {
		for _, m := range mt.mols {
			if m == nil || !m.alive {
				continue
			}
			c := cl.Get(m.complexID)
			if c == nil {
				return internalf("molecule %s has retired complex id %d", m, m.complexID)
			}
			reach := TraverseBondedNeighborhood(m, NoLimit)
			if len(reach) != len(c.members) {
				return internalf("complex %d: reachability size %d != membership size %d",
					c.id, len(reach), len(c.members))
			}
			for _, n := range reach {
				if n.complexID != c.id {
					return internalf("molecule %s reachable from %s but in complex %d, want %d",
						n, m, n.complexID, c.id)
				}
			}
		}
	}
	return nil
}
