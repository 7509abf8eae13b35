package rulesim

// productSignature is the set of (type, component) slots a rule's products
// can differ in from its reactants: state changes, new or removed bonds,
// created or deleted molecules. A component of noBond marks a whole-
// molecule effect.
type productSignature map[[2]int]struct{}

func (sig productSignature) add(typeID, comp int) {
	sig[[2]int{typeID, comp}] = struct{}{}
}

// ruleProductSignature derives the signature from a rule's transformation
// set, resolving template sites to concrete (type, component) slots.
func ruleProductSignature(r *ReactionRule) productSignature {
	sig := make(productSignature)
	resolveSite := func(s Site, adds []*MoleculeType) {
		if s.Reactant == NewProduct {
			if s.Node >= 0 && s.Node < len(adds) {
				sig.add(adds[s.Node].id, noBond)
			}
			return
		}
		if s.Reactant < 0 || s.Reactant >= len(r.patterns) {
			return
		}
		node := r.patterns[s.Reactant].nodes[s.Node]
		if s.Comp == noBond || s.Comp < 0 || s.Comp >= len(node.comps) {
			sig.add(node.typ.id, noBond)
			return
		}
		// Symmetric sites can land on any component of the class.
		for _, k := range node.typ.compIndex[node.comps[s.Comp].Name] {
			sig.add(node.typ.id, k)
		}
	}
	var adds []*MoleculeType
	for _, tr := range r.tset.transforms {
		if tr.Op == OpAddMolecule {
			adds = append(adds, tr.NewType)
		}
	}
	for _, tr := range r.tset.transforms {
		switch tr.Op {
		case OpStateChange, OpDeleteBond, OpDeleteMolecule, OpIncPopulation, OpDecPopulation:
			resolveSite(tr.A, adds)
		case OpAddBond:
			resolveSite(tr.A, adds)
			resolveSite(tr.B, adds)
		case OpAddMolecule:
			sig.add(tr.NewType.id, noBond)
		}
	}
	return sig
}

// reactantConstrains reports whether any reactant template of r could see a
// change described by sig: some template node of the affected type either
// constrains an affected component or the effect was molecule-wide.
func reactantConstrains(r *ReactionRule, sig productSignature) bool {
	for _, p := range r.patterns {
		for _, node := range p.nodes {
			for key := range sig {
				typeID, comp := key[0], key[1]
				if node.typ.id != typeID {
					continue
				}
				if comp == noBond {
					return true
				}
				for _, tc := range node.comps {
					for _, k := range node.typ.compIndex[tc.Name] {
						if k == comp {
							return true
						}
					}
				}
			}
		}
	}
	return false
}

// inferConnectedRules builds the boolean matrix connected[r1][r2]: whether
// firing r1 can change r2's reactant populations, used to prune membership
// repair. With inference disabled every pair is considered connected.
func inferConnectedRules(rules []*ReactionRule, enabled bool) [][]bool {
	connected := make([][]bool, len(rules))
	for i := range rules {
		connected[i] = make([]bool, len(rules))
	}
	if !enabled {
		for i := range rules {
			for j := range rules {
				connected[i][j] = true
			}
		}
		return connected
	}
	for i, r1 := range rules {
		sig := ruleProductSignature(r1)
		for j, r2 := range rules {
			connected[i][j] = reactantConstrains(r2, sig)
		}
	}
	return connected
}
