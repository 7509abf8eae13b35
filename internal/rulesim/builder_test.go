package rulesim

import (
	"strings"
	"testing"
)

// decayModelConfig is a minimal complete model document: X -> 0 at k=0.5.
func decayModelConfig() ModelConfig {
	return ModelConfig{
		Name:       "decay",
		Parameters: map[string]float64{"k": 0.5},
		MoleculeTypes: []MoleculeTypeConfig{
			{Name: "X"},
		},
		Observables: []ObservableConfig{
			{Name: "X_total", Pattern: &PatternConfig{Molecules: []PatternMoleculeConfig{{Type: "X"}}}},
		},
		Rules: []RuleConfig{
			{
				ID:        "decay",
				RateParam: "k",
				Reactants: []PatternConfig{{Molecules: []PatternMoleculeConfig{{Type: "X"}}}},
				Transforms: []TransformConfig{
					{Op: "delete", Site: SiteConfig{Reactant: 0, Molecule: 0}},
				},
			},
		},
		Seed: []SeedConfig{{Type: "X", Count: 100}},
	}
}

func TestBuildSystemFromConfigRunsTrajectory(t *testing.T) {
	sys, err := BuildSystemFromConfig(decayModelConfig(), WithSeed(21))
	if err != nil {
		t.Fatalf("BuildSystemFromConfig: %v", err)
	}
	if err := sys.PrepareForSimulation(); err != nil {
		t.Fatalf("PrepareForSimulation: %v", err)
	}

	obs, ok := sys.Observable("X_total")
	if !ok {
		t.Fatal("observable X_total not registered")
	}
	if got := obs.Value(); got != 100 {
		t.Fatalf("initial X_total = %g, want 100", got)
	}
	if got := sys.ATot(); got != 50 {
		t.Fatalf("aTot = %g, want k*N = 50", got)
	}

	if _, err := sys.StepTo(t.Context(), 100.0); err != nil {
		t.Fatalf("StepTo: %v", err)
	}
	if got := obs.Value(); got != 0 {
		t.Errorf("final X_total = %g, want 0", got)
	}
	if err := sys.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestBuildDimerizationWithBondLabels(t *testing.T) {
	cfg := ModelConfig{
		Name: "dimer",
		MoleculeTypes: []MoleculeTypeConfig{
			{Name: "L", Components: []ComponentConfig{{Name: "r"}}},
		},
		Observables: []ObservableConfig{
			{Name: "Dimers", Kind: "species", Pattern: &PatternConfig{Molecules: []PatternMoleculeConfig{
				{Type: "L", Components: []PatternComponentConfig{{Name: "r", Bond: 1}}},
				{Type: "L", Components: []PatternComponentConfig{{Name: "r", Bond: 1}}},
			}}},
		},
		Rules: []RuleConfig{
			{
				ID:   "dimerize",
				Rate: 0.01,
				Reactants: []PatternConfig{
					{Molecules: []PatternMoleculeConfig{{Type: "L", Components: []PatternComponentConfig{{Name: "r"}}}}},
					{Molecules: []PatternMoleculeConfig{{Type: "L", Components: []PatternComponentConfig{{Name: "r"}}}}},
				},
				Transforms: []TransformConfig{
					{Op: "bind", Site: SiteConfig{Reactant: 0, Molecule: 0, Component: "r"},
						Target: &SiteConfig{Reactant: 1, Molecule: 0, Component: "r"}},
				},
			},
			{
				ID:   "dissociate",
				Rate: 1.0,
				Reactants: []PatternConfig{
					{Molecules: []PatternMoleculeConfig{
						{Type: "L", Components: []PatternComponentConfig{{Name: "r", Bond: 1}}},
						{Type: "L", Components: []PatternComponentConfig{{Name: "r", Bond: 1}}},
					}},
				},
				Transforms: []TransformConfig{
					{Op: "unbind", Site: SiteConfig{Reactant: 0, Molecule: 0, Component: "r"}},
				},
			},
		},
		Seed: []SeedConfig{{Type: "L", Count: 60}},
	}

	sys, err := BuildSystemFromConfig(cfg, WithSeed(33))
	if err != nil {
		t.Fatalf("BuildSystemFromConfig: %v", err)
	}
	if err := sys.PrepareForSimulation(); err != nil {
		t.Fatalf("PrepareForSimulation: %v", err)
	}
	if _, err := sys.StepTo(t.Context(), 10.0); err != nil {
		t.Fatalf("StepTo: %v", err)
	}

	obs, _ := sys.Observable("Dimers")
	if obs.Value() == 0 {
		t.Error("no dimers formed over the trajectory")
	}
	if err := sys.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestBuildSynthesisRuleBondsNewProduct(t *testing.T) {
	// A(s) -> A(s!1).B(t!1): the new B binds to the matched A.
	cfg := ModelConfig{
		Name: "synthesis",
		MoleculeTypes: []MoleculeTypeConfig{
			{Name: "A", Components: []ComponentConfig{{Name: "s"}}},
			{Name: "B", Components: []ComponentConfig{{Name: "t"}}},
		},
		Rules: []RuleConfig{
			{
				ID:   "sprout",
				Rate: 1.0,
				Reactants: []PatternConfig{
					{Molecules: []PatternMoleculeConfig{{Type: "A", Components: []PatternComponentConfig{{Name: "s"}}}}},
				},
				Transforms: []TransformConfig{
					{Op: "add", Type: "B"},
					{Op: "bind", Site: SiteConfig{Reactant: 0, Molecule: 0, Component: "s"},
						Target: &SiteConfig{Reactant: NewProduct, Product: 0, Component: "t"}},
				},
			},
		},
		Seed: []SeedConfig{{Type: "A", Count: 3}},
	}
	sys, err := BuildSystemFromConfig(cfg, WithSeed(14))
	if err != nil {
		t.Fatalf("BuildSystemFromConfig: %v", err)
	}
	if err := sys.PrepareForSimulation(); err != nil {
		t.Fatalf("PrepareForSimulation: %v", err)
	}

	rule, _ := sys.Rule("sprout")
	rec, err := rule.fire(sys.rng)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if err := sys.repair(rec, rule); err != nil {
		t.Fatalf("repair: %v", err)
	}

	bt, _ := sys.MoleculeType("B")
	if got := bt.LiveCount(); got != 1 {
		t.Fatalf("B count = %d, want 1", got)
	}
	b := bt.liveMolecules()[0]
	if !b.IsBonded(0) {
		t.Error("new B is not bonded to its A")
	}
	if p, _ := b.BondPartner(0); p.Type().Name() != "A" {
		t.Errorf("B bonded to %s, want A", p.Type().Name())
	}
	// The matched A's site is now occupied, so it left the reactant list.
	if got := rule.ReactantCount(0); got != 2 {
		t.Errorf("reactant count = %d, want 2", got)
	}
	if err := sys.CheckInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestValidateModelConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ModelConfig)
		wantErr string
	}{
		{
			name:    "valid model passes",
			mutate:  func(cfg *ModelConfig) {},
			wantErr: "",
		},
		{
			name:    "missing model name",
			mutate:  func(cfg *ModelConfig) { cfg.Name = "" },
			wantErr: "model name is required",
		},
		{
			name: "duplicate molecule type",
			mutate: func(cfg *ModelConfig) {
				cfg.MoleculeTypes = append(cfg.MoleculeTypes, MoleculeTypeConfig{Name: "X"})
			},
			wantErr: "duplicate molecule type name: X",
		},
		{
			name: "rule references unknown type",
			mutate: func(cfg *ModelConfig) {
				cfg.Rules[0].Reactants[0].Molecules[0].Type = "Y"
			},
			wantErr: "unknown type 'Y'",
		},
		{
			name: "negative rate",
			mutate: func(cfg *ModelConfig) {
				cfg.Rules[0].RateParam = ""
				cfg.Rules[0].Rate = -1
			},
			wantErr: "rate must not be negative",
		},
		{
			name: "invalid transform op",
			mutate: func(cfg *ModelConfig) {
				cfg.Rules[0].Transforms[0].Op = "explode"
			},
			wantErr: "invalid transform op 'explode'",
		},
		{
			name: "seed of unknown type",
			mutate: func(cfg *ModelConfig) {
				cfg.Seed = append(cfg.Seed, SeedConfig{Type: "Ghost", Count: 1})
			},
			wantErr: "seed references unknown type 'Ghost'",
		},
		{
			name: "duplicate rule id",
			mutate: func(cfg *ModelConfig) {
				cfg.Rules = append(cfg.Rules, cfg.Rules[0])
			},
			wantErr: "duplicate rule ID: decay",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := decayModelConfig()
			tt.mutate(&cfg)
			err := ValidateModelConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateModelConfig: %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateModelConfig = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidatePatternBondLabels(t *testing.T) {
	cfg := decayModelConfig()
	cfg.Rules[0].Reactants[0].Molecules[0].Components = []PatternComponentConfig{}
	cfg.Observables = append(cfg.Observables, ObservableConfig{
		Name: "bad_bond",
		Pattern: &PatternConfig{Molecules: []PatternMoleculeConfig{
			{Type: "X"},
		}},
	})
	// A bond label with a single end is malformed.
	cfg.MoleculeTypes = append(cfg.MoleculeTypes, MoleculeTypeConfig{
		Name:       "L",
		Components: []ComponentConfig{{Name: "r"}},
	})
	cfg.Observables[1].Pattern.Molecules = []PatternMoleculeConfig{
		{Type: "L", Components: []PatternComponentConfig{{Name: "r", Bond: 4}}},
	}
	err := ValidateModelConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "bond label 4 appears 1 times") {
		t.Errorf("error = %v, want dangling bond label diagnostic", err)
	}
}
