package rulesim

import "testing"

func TestCanonicalLabelsIsomorphism(t *testing.T) {
	sys := NewSystem("canonical-test", WithSeed(1))
	lt, _ := sys.AddMoleculeType("L", []ComponentDef{
		{Name: "a"}, {Name: "b"}, {Name: "s", States: []string{"u", "p"}},
	}, false)

	makeDimer := func(state1, state2 int) *Complex {
		m1, _ := sys.CreateMolecule(lt)
		m2, _ := sys.CreateMolecule(lt)
		_ = m1.SetComponentState(2, state1)
		_ = m2.SetComponentState(2, state2)
		_ = Bind(m1, 1, m2, 0)
		return sys.Complexes().Get(m1.ComplexID())
	}

	// Two dimers built in opposite member order are isomorphic.
	d1 := makeDimer(0, 1)
	d2 := makeDimer(1, 0)
	l1 := sys.Complexes().CanonicalLabel(d1)
	l2 := sys.Complexes().CanonicalLabel(d2)
	if l1 != l2 {
		t.Errorf("isomorphic dimers labeled differently:\n  %s\n  %s", l1, l2)
	}

	// A dimer with both sites phosphorylated is a different species.
	d3 := makeDimer(1, 1)
	if l3 := sys.Complexes().CanonicalLabel(d3); l3 == l1 {
		t.Errorf("distinct dimers share label %s", l3)
	}

	// Labels are invalidated by mutation and recomputed.
	m := d1.Members()[0]
	_ = m.SetComponentState(2, 1)
	if d1.labelValid {
		t.Error("label cache survived a state change")
	}
	if l := sys.Complexes().CanonicalLabel(d1); l != sys.Complexes().CanonicalLabel(d3) {
		t.Error("mutated dimer does not relabel as the doubly-modified species")
	}
}

func TestSpeciesHistogram(t *testing.T) {
	sys := NewSystem("histogram-test", WithSeed(1))
	lt, _ := sys.AddMoleculeType("L", []ComponentDef{{Name: "a"}, {Name: "b"}}, false)

	// Three monomers and one dimer.
	for i := 0; i < 3; i++ {
		_, _ = sys.CreateMolecule(lt)
	}
	m1, _ := sys.CreateMolecule(lt)
	m2, _ := sys.CreateMolecule(lt)
	_ = Bind(m1, 1, m2, 0)

	counts, labels := SpeciesHistogram(sys.Complexes())
	if len(labels) != 2 {
		t.Fatalf("distinct species = %d, want 2", len(labels))
	}
	if counts[labels[0]] != 3 {
		t.Errorf("most common species count = %d, want 3 monomers", counts[labels[0]])
	}
	if counts[labels[1]] != 1 {
		t.Errorf("second species count = %d, want 1 dimer", counts[labels[1]])
	}
}
