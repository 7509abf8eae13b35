package rulesim

import (
	"fmt"
	"slices"
)

// Valid transform operations for TransformConfig.Op
var validOps = map[string]bool{
	"state":  true,
	"bind":   true,
	"unbind": true,
	"add":    true,
	"delete": true,
	"inc":    true,
	"dec":    true,
}

// Valid rule kinds for RuleConfig.Kind
var validKinds = map[string]bool{
	"":           true,
	"basic":      true,
	"dor":        true,
	"observable": true,
	"population": true,
}

// Valid observable kinds for ObservableConfig.Kind
var validObsKinds = map[string]bool{
	"":          true,
	"molecules": true,
	"species":   true,
	"function":  true,
}

// ValidateModelConfig performs comprehensive validation of a ModelConfig
// before any system state is built from it.
func ValidateModelConfig(cfg ModelConfig) error {
	err := &ValidationError{}

	if cfg.Name == "" {
		err.Add("model name is required")
	}

	types := make(map[string]MoleculeTypeConfig)
	for _, mt := range cfg.MoleculeTypes {
		if mt.Name == "" {
			err.Add("molecule type name is required")
			continue
		}
		if _, dup := types[mt.Name]; dup {
			err.Add("duplicate molecule type name: " + mt.Name)
			continue
		}
		types[mt.Name] = mt
		for _, c := range mt.Components {
			if c.Name == "" {
				err.Add("molecule type '" + mt.Name + "': component name is required")
			}
			if c.Default != "" && !slices.Contains(c.States, c.Default) {
				err.Add(fmt.Sprintf("molecule type '%s' component '%s': default state '%s' is not an allowed state",
					mt.Name, c.Name, c.Default))
			}
		}
	}

	validatePattern := func(prefix string, p PatternConfig) {
		if len(p.Molecules) == 0 {
			err.Add(prefix + ": pattern has no molecules")
			return
		}
		bondEnds := make(map[int]int)
		for mi, pm := range p.Molecules {
			mt, ok := types[pm.Type]
			if !ok {
				err.Add(fmt.Sprintf("%s: molecule %d references unknown type '%s'", prefix, mi, pm.Type))
				continue
			}
			declared := make(map[string]int)
			for _, c := range mt.Components {
				declared[c.Name]++
			}
			for _, pc := range pm.Components {
				if declared[pc.Name] == 0 {
					err.Add(fmt.Sprintf("%s: type '%s' has no component '%s'", prefix, pm.Type, pc.Name))
					continue
				}
				if pc.State != "" {
					found := false
					for _, c := range mt.Components {
						if c.Name == pc.Name && slices.Contains(c.States, pc.State) {
							found = true
						}
					}
					if !found {
						err.Add(fmt.Sprintf("%s: component '%s' of '%s' has no state '%s'",
							prefix, pc.Name, pm.Type, pc.State))
					}
				}
				if pc.Bond > 0 {
					bondEnds[pc.Bond]++
				}
			}
		}
		for label, n := range bondEnds {
			if n != 2 {
				err.Add(fmt.Sprintf("%s: bond label %d appears %d times, want exactly 2", prefix, label, n))
			}
		}
	}

	obsNames := make(map[string]bool)
	fnNames := make(map[string]bool)
	for _, f := range cfg.Functions {
		if f.Name == "" {
			err.Add("function name is required")
			continue
		}
		if fnNames[f.Name] {
			err.Add("duplicate function name: " + f.Name)
		}
		fnNames[f.Name] = true
		if f.Expr == "" {
			err.Add("function '" + f.Name + "': expression is required")
		}
	}
	for _, o := range cfg.Observables {
		if o.Name == "" {
			err.Add("observable name is required")
			continue
		}
		if obsNames[o.Name] {
			err.Add("duplicate observable name: " + o.Name)
		}
		obsNames[o.Name] = true
		if !validObsKinds[o.Kind] {
			err.Add("observable '" + o.Name + "': invalid kind '" + o.Kind + "'")
			continue
		}
		if o.Kind == "function" {
			if o.Function == "" || !fnNames[o.Function] {
				err.Add("observable '" + o.Name + "': references unknown function '" + o.Function + "'")
			}
		} else {
			if o.Pattern == nil {
				err.Add("observable '" + o.Name + "': pattern is required")
			} else {
				validatePattern("observable '"+o.Name+"'", *o.Pattern)
			}
		}
	}

	ruleIDs := make(map[string]bool)
	for i, rc := range cfg.Rules {
		prefix := fmt.Sprintf("rule at index %d", i)
		if rc.ID != "" {
			prefix = "rule '" + rc.ID + "'"
		}
		if rc.ID == "" {
			err.Add(prefix + ": rule ID is required")
		} else if ruleIDs[rc.ID] {
			err.Add("duplicate rule ID: " + rc.ID)
		}
		ruleIDs[rc.ID] = true

		if !validKinds[rc.Kind] {
			err.Add(prefix + ": invalid kind '" + rc.Kind + "'")
		}
		if rc.Rate < 0 {
			err.Add(prefix + ": rate must not be negative")
		}
		if len(rc.Reactants) == 0 {
			err.Add(prefix + ": at least one reactant pattern is required")
		}
		for _, p := range rc.Reactants {
			validatePattern(prefix, p)
		}
		if rc.Kind == "dor" {
			if rc.WeightPattern == nil {
				err.Add(prefix + ": dor rule requires a weight_pattern")
			} else {
				validatePattern(prefix+" weight", *rc.WeightPattern)
			}
			if rc.WeightReactant < 0 || rc.WeightReactant >= len(rc.Reactants) {
				err.Add(prefix + ": weight_reactant out of range")
			}
		}
		if rc.Kind == "observable" && rc.RateExpr == "" && rc.RateParam == "" {
			err.Add(prefix + ": observable rule requires rate_expr or rate_param")
		}

		validateSite := func(s SiteConfig, needComp bool) {
			if s.Reactant == NewProduct {
				return
			}
			if s.Reactant < 0 || s.Reactant >= len(rc.Reactants) {
				err.Add(fmt.Sprintf("%s: transform references reactant %d of %d", prefix, s.Reactant, len(rc.Reactants)))
				return
			}
			p := rc.Reactants[s.Reactant]
			if s.Molecule < 0 || s.Molecule >= len(p.Molecules) {
				err.Add(fmt.Sprintf("%s: transform references molecule %d of %d", prefix, s.Molecule, len(p.Molecules)))
				return
			}
			if !needComp {
				return
			}
			if s.Component == "" {
				err.Add(prefix + ": transform requires a component")
				return
			}
			found := false
			for _, pc := range p.Molecules[s.Molecule].Components {
				if pc.Name == s.Component {
					found = true
				}
			}
			if !found {
				err.Add(fmt.Sprintf("%s: transform component '%s' is not part of the matched pattern", prefix, s.Component))
			}
		}

		for _, tc := range rc.Transforms {
			if !validOps[tc.Op] {
				err.Add(prefix + ": invalid transform op '" + tc.Op + "'")
				continue
			}
			switch tc.Op {
			case "state":
				validateSite(tc.Site, true)
				if tc.State == "" {
					err.Add(prefix + ": state transform requires a state")
				}
			case "bind":
				validateSite(tc.Site, true)
				if tc.Target == nil {
					err.Add(prefix + ": bind transform requires a target")
				} else {
					validateSite(*tc.Target, true)
				}
			case "unbind":
				validateSite(tc.Site, true)
			case "add":
				if tc.Type == "" {
					err.Add(prefix + ": add transform requires a type")
				} else if _, ok := types[tc.Type]; !ok {
					err.Add(prefix + ": add transform references unknown type '" + tc.Type + "'")
				}
			case "delete", "inc", "dec":
				validateSite(tc.Site, false)
			}
		}
	}

	for _, sc := range cfg.Seed {
		mt, ok := types[sc.Type]
		if !ok {
			err.Add("seed references unknown type '" + sc.Type + "'")
			continue
		}
		if sc.Count < 0 {
			err.Add("seed of '" + sc.Type + "': count must not be negative")
		}
		for comp, state := range sc.States {
			found := false
			for _, c := range mt.Components {
				if c.Name == comp && slices.Contains(c.States, state) {
					found = true
				}
			}
			if !found {
				err.Add(fmt.Sprintf("seed of '%s': no component '%s' with state '%s'", sc.Type, comp, state))
			}
		}
	}

	if err.HasIssues() {
		return err
	}
	return nil
}
