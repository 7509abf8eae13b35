package rulesim

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
)

// GdatWriter streams observable samples as a whitespace-aligned .gdat
// table, one row per sample time.
type GdatWriter struct {
	w             io.Writer
	names         []string
	headerWritten bool
}

// NewGdatWriter creates a trace writer over the system's observables.
func NewGdatWriter(w io.Writer, sys *System) *GdatWriter {
	names := make([]string, 0, len(sys.Observables()))
	for _, o := range sys.Observables() {
		names = append(names, o.Name())
	}
	return &GdatWriter{w: w, names: names}
}

// Observer returns the SampleObserver to register with Sim.
func (gw *GdatWriter) Observer() SampleObserver {
	return func(t float64, values []float64) {
		_ = gw.Write(t, values)
	}
}

// Write emits one sample row, writing the header first when needed.
func (gw *GdatWriter) Write(t float64, values []float64) error {
	if !gw.headerWritten {
		cols := make([]string, 0, len(gw.names)+1)
		cols = append(cols, fmt.Sprintf("#%17s", "time"))
		for _, n := range gw.names {
			cols = append(cols, fmt.Sprintf("%18s", n))
		}
		if _, err := fmt.Fprintln(gw.w, strings.Join(cols, " ")); err != nil {
			return err
		}
		gw.headerWritten = true
	}
	cols := make([]string, 0, len(values)+1)
	cols = append(cols, fmt.Sprintf("%18.6f", t))
	for _, v := range values {
		cols = append(cols, fmt.Sprintf("%18.6f", v))
	}
	_, err := fmt.Fprintln(gw.w, strings.Join(cols, " "))
	return err
}

// firingRecord is the CSV row shape of the reaction firing log.
type firingRecord struct {
	RunID        string  `csv:"run_id"`
	EventIndex   int64   `csv:"event_index"`
	Time         float64 `csv:"time"`
	RuleID       int     `csv:"rule_id"`
	RuleName     string  `csv:"rule_name"`
	Null         bool    `csv:"null"`
	ReactantUIDs string  `csv:"reactant_uids"`
	ProductUIDs  string  `csv:"product_uids"`
}

// FiringLog buffers per-event records and flushes them as CSV. Each log
// carries a run identifier so post-processing can merge logs from several
// trajectories.
type FiringLog struct {
	runID   string
	records []*firingRecord
}

// NewFiringLog creates an empty log with a fresh run id.
func NewFiringLog() *FiringLog {
	return &FiringLog{runID: uuid.NewString()}
}

// RunID returns the log's run identifier.
func (fl *FiringLog) RunID() string { return fl.runID }

// Len returns the number of buffered records.
func (fl *FiringLog) Len() int { return len(fl.records) }

// Observer returns the FiringObserver to register with the system.
func (fl *FiringLog) Observer() FiringObserver {
	return func(ev FiringEvent) {
		fl.records = append(fl.records, &firingRecord{
			RunID:        fl.runID,
			EventIndex:   ev.EventIndex,
			Time:         ev.Time,
			RuleID:       ev.RuleID,
			RuleName:     ev.RuleName,
			Null:         ev.Null,
			ReactantUIDs: joinUIDs(ev.ReactantUIDs),
			ProductUIDs:  joinUIDs(ev.ProductUIDs),
		})
	}
}

// WriteCSV flushes the buffered records and resets the log.
func (fl *FiringLog) WriteCSV(w io.Writer) error {
	if err := gocsv.Marshal(fl.records, w); err != nil {
		return fmt.Errorf("writing firing log: %w", err)
	}
	fl.records = fl.records[:0]
	return nil
}

func joinUIDs(uids []int64) string {
	parts := make([]string, len(uids))
	for i, u := range uids {
		parts[i] = fmt.Sprintf("%d", u)
	}
	return strings.Join(parts, ";")
}

// SaveSpecies writes the canonical-label histogram of the current
// complexes, one "count\tlabel" line per distinct species.
func SaveSpecies(path string, sys *System) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating species file: %w", err)
	}
	defer f.Close()
	return WriteSpecies(f, sys)
}

// WriteSpecies writes the species histogram to w.
func WriteSpecies(w io.Writer, sys *System) error {
	counts, labels := SpeciesHistogram(sys.Complexes())
	for _, l := range labels {
		if _, err := fmt.Fprintf(w, "%d\t%s\n", counts[l], l); err != nil {
			return err
		}
	}
	return nil
}

// DumpMoleculeTypes writes the molecule-type index table for
// post-processing: id, name, component list and live population.
func DumpMoleculeTypes(w io.Writer, sys *System) error {
	for _, mt := range sys.types {
		comps := make([]string, 0, mt.NumComponents())
		for i := 0; i < mt.NumComponents(); i++ {
			def := mt.Component(i)
			if len(def.States) > 0 {
				comps = append(comps, fmt.Sprintf("%s~{%s}", def.Name, strings.Join(def.States, ",")))
			} else {
				comps = append(comps, def.Name)
			}
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%d\n",
			mt.ID(), mt.Name(), strings.Join(comps, " "), mt.PopulationCount()); err != nil {
			return err
		}
	}
	return nil
}

// DumpRules writes the rule index table: id, name, kind, rate, current
// propensity and fire count.
func DumpRules(w io.Writer, sys *System) error {
	kinds := map[RuleKind]string{
		BasicRule:      "basic",
		DORRule:        "dor",
		ObservableRule: "observable",
		PopulationRule: "population",
	}
	for _, r := range sys.rules {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%g\t%g\t%d\n",
			r.ID(), r.Name(), kinds[r.Kind()], r.BaseRate(), r.A(), r.FireCount()); err != nil {
			return err
		}
	}
	return nil
}
