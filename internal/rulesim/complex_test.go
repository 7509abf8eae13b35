package rulesim

import "testing"

func TestComplexMergeAndSplit(t *testing.T) {
	sys := NewSystem("complex-test", WithSeed(1))
	lt, _ := sys.AddMoleculeType("L", []ComponentDef{{Name: "a"}, {Name: "b"}}, false)

	m1, _ := sys.CreateMolecule(lt)
	m2, _ := sys.CreateMolecule(lt)
	m3, _ := sys.CreateMolecule(lt)

	if got := sys.Complexes().Count(); got != 3 {
		t.Fatalf("initial complex count = %d, want 3", got)
	}

	// m1-m2-m3 chain: two merges.
	if err := Bind(m1, 1, m2, 0); err != nil {
		t.Fatalf("Bind m1-m2: %v", err)
	}
	if err := Bind(m2, 1, m3, 0); err != nil {
		t.Fatalf("Bind m2-m3: %v", err)
	}

	if got := sys.Complexes().Count(); got != 1 {
		t.Fatalf("complex count after chain = %d, want 1", got)
	}
	c := sys.Complexes().Get(m1.ComplexID())
	if c == nil || c.Size() != 3 {
		t.Fatalf("chain complex size = %v, want 3 members", c)
	}
	if m2.ComplexID() != m1.ComplexID() || m3.ComplexID() != m1.ComplexID() {
		t.Error("chain members disagree on complex id")
	}

	// Splitting the middle bond leaves {m1,m2} and {m3}.
	if _, _, err := Unbind(m2, 1); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if got := sys.Complexes().Count(); got != 2 {
		t.Fatalf("complex count after split = %d, want 2", got)
	}
	if m1.ComplexID() != m2.ComplexID() {
		t.Error("m1 and m2 separated by split of m2-m3 bond")
	}
	if m3.ComplexID() == m1.ComplexID() {
		t.Error("m3 still shares a complex with m1 after split")
	}

	if err := sys.Complexes().checkPartition(sys.types); err != nil {
		t.Errorf("partition check: %v", err)
	}
}

func TestComplexIDReuse(t *testing.T) {
	sys := NewSystem("complex-reuse-test", WithSeed(1))
	lt, _ := sys.AddMoleculeType("L", []ComponentDef{{Name: "a"}, {Name: "b"}}, false)

	m1, _ := sys.CreateMolecule(lt)
	m2, _ := sys.CreateMolecule(lt)
	if err := Bind(m1, 1, m2, 0); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	// The merge freed one id; the next birth must reuse it.
	before := len(sys.Complexes().complexes)
	m3, _ := sys.CreateMolecule(lt)
	after := len(sys.Complexes().complexes)
	if after != before {
		t.Errorf("complex table grew from %d to %d instead of reusing a freed id", before, after)
	}
	if sys.Complexes().Get(m3.ComplexID()) == nil {
		t.Error("reused complex id does not resolve")
	}
}

func TestIntraComplexBindKeepsPartition(t *testing.T) {
	sys := NewSystem("complex-cycle-test", WithSeed(1))
	lt, _ := sys.AddMoleculeType("L", []ComponentDef{{Name: "a"}, {Name: "b"}}, false)

	// Ring of three: the closing bond is intra-complex.
	m1, _ := sys.CreateMolecule(lt)
	m2, _ := sys.CreateMolecule(lt)
	m3, _ := sys.CreateMolecule(lt)
	_ = Bind(m1, 1, m2, 0)
	_ = Bind(m2, 1, m3, 0)
	if err := Bind(m3, 1, m1, 0); err != nil {
		t.Fatalf("closing ring: %v", err)
	}
	if got := sys.Complexes().Count(); got != 1 {
		t.Fatalf("ring complex count = %d, want 1", got)
	}

	// Opening one ring bond must not split: the ring stays connected.
	if _, _, err := Unbind(m1, 1); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	if got := sys.Complexes().Count(); got != 1 {
		t.Errorf("complex count after opening ring = %d, want 1", got)
	}
	if err := sys.Complexes().checkPartition(sys.types); err != nil {
		t.Errorf("partition check: %v", err)
	}
}
