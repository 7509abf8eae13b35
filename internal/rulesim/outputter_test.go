package rulesim

import (
	"strings"
	"testing"
)

func TestGdatWriterFormatsHeaderAndRows(t *testing.T) {
	sys := newDecaySystem(t, 10, 1.0, 31)

	var sb strings.Builder
	gw := NewGdatWriter(&sb, sys)
	if err := gw.Write(0, []float64{10}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := gw.Write(1.5, []float64{4}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "#") {
		t.Errorf("header line %q does not start with #", lines[0])
	}
	if !strings.Contains(lines[0], "time") || !strings.Contains(lines[0], "X") {
		t.Errorf("header %q missing columns", lines[0])
	}
	if !strings.Contains(lines[2], "1.5") {
		t.Errorf("row %q missing sample time", lines[2])
	}
}

func TestSimWritesTrace(t *testing.T) {
	sys := newDecaySystem(t, 50, 0.5, 32)

	var sb strings.Builder
	gw := NewGdatWriter(&sb, sys)
	if _, err := sys.Sim(t.Context(), 4.0, 10, gw.Observer()); err != nil {
		t.Fatalf("Sim: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 12 {
		t.Errorf("trace has %d lines, want header + 11 samples", len(lines))
	}
}

func TestFiringLogCSV(t *testing.T) {
	sys := newDecaySystem(t, 20, 1.0, 33)
	fl := NewFiringLog()
	sys.RegisterFiringObserver(fl.Observer())

	if _, err := sys.StepTo(t.Context(), 1.0); err != nil {
		t.Fatalf("StepTo: %v", err)
	}
	if fl.Len() == 0 {
		t.Fatal("no firing records collected")
	}
	if int64(fl.Len()) != sys.EventCount() {
		t.Errorf("log has %d records, system drew %d events", fl.Len(), sys.EventCount())
	}

	var sb strings.Builder
	if err := fl.WriteCSV(&sb); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out := sb.String()
	if !strings.Contains(out, "run_id") || !strings.Contains(out, "rule_name") {
		t.Errorf("CSV header missing columns:\n%s", out)
	}
	if !strings.Contains(out, "decay") {
		t.Error("CSV rows missing rule name")
	}
	if fl.Len() != 0 {
		t.Errorf("log not reset after flush: %d records", fl.Len())
	}
}

func TestWriteSpeciesHistogram(t *testing.T) {
	sys := NewSystem("species-dump-test", WithSeed(34))
	lt, _ := sys.AddMoleculeType("L", []ComponentDef{{Name: "a"}, {Name: "b"}}, false)
	for i := 0; i < 4; i++ {
		_, _ = sys.CreateMolecule(lt)
	}
	m1, _ := sys.CreateMolecule(lt)
	m2, _ := sys.CreateMolecule(lt)
	_ = Bind(m1, 1, m2, 0)

	var sb strings.Builder
	if err := WriteSpecies(&sb, sys); err != nil {
		t.Fatalf("WriteSpecies: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d species lines, want 2", len(lines))
	}
	// Most populous species first, tab-separated count and label.
	if !strings.HasPrefix(lines[0], "4\t") {
		t.Errorf("first line %q, want 4 monomers first", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1\t") {
		t.Errorf("second line %q, want 1 dimer", lines[1])
	}
}

func TestDumpIndexTables(t *testing.T) {
	sys := newDecaySystem(t, 7, 1.0, 35)

	var types strings.Builder
	if err := DumpMoleculeTypes(&types, sys); err != nil {
		t.Fatalf("DumpMoleculeTypes: %v", err)
	}
	if !strings.Contains(types.String(), "X") || !strings.Contains(types.String(), "7") {
		t.Errorf("type table missing entries:\n%s", types.String())
	}

	var rules strings.Builder
	if err := DumpRules(&rules, sys); err != nil {
		t.Fatalf("DumpRules: %v", err)
	}
	if !strings.Contains(rules.String(), "decay") || !strings.Contains(rules.String(), "basic") {
		t.Errorf("rule table missing entries:\n%s", rules.String())
	}
}
