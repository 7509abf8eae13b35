package rulesim

import "fmt"

// BuildSystemFromConfig validates a model document and assembles the
// corresponding System: types, parameters, functions, observables, rules
// and the seed population. PrepareForSimulation is left to the caller.
func BuildSystemFromConfig(cfg ModelConfig, opts ...SystemOption) (*System, error) {
	if err := ValidateModelConfig(cfg); err != nil {
		return nil, err
	}

	sys := NewSystem(cfg.Name, opts...)
	if cfg.MaxMolecules > 0 {
		sys.SetMaxMolecules(cfg.MaxMolecules)
	}
	if cfg.TraversalLimit > 0 {
		sys.SetUniversalTraversalLimit(cfg.TraversalLimit)
	}
	for name, value := range cfg.Parameters {
		sys.AddParameter(name, value)
	}

	for _, mtc := range cfg.MoleculeTypes {
		comps := make([]ComponentDef, 0, len(mtc.Components))
		for _, cc := range mtc.Components {
			def := ComponentDef{Name: cc.Name, States: cc.States, IsInteger: cc.IsInteger}
			if cc.Default != "" {
				for i, st := range cc.States {
					if st == cc.Default {
						def.DefaultState = i
					}
				}
			}
			comps = append(comps, def)
		}
		if _, err := sys.AddMoleculeType(mtc.Name, comps, mtc.Population); err != nil {
			return nil, err
		}
	}

	for _, fc := range cfg.Functions {
		if err := sys.AddGlobalFunction(NewGlobalFunction(fc.Name, fc.Expr)); err != nil {
			return nil, err
		}
	}

	for _, oc := range cfg.Observables {
		var obs *Observable
		switch oc.Kind {
		case "function":
			fn, ok := sys.fnByName[oc.Function]
			if !ok {
				return nil, fmt.Errorf("observable %q: unknown function %q", oc.Name, oc.Function)
			}
			obs = NewFunctionObservable(oc.Name, fn)
		case "species":
			p, err := buildPattern(sys, *oc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("observable %q: %w", oc.Name, err)
			}
			obs = NewSpeciesObservable(oc.Name, p)
		default:
			p, err := buildPattern(sys, *oc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("observable %q: %w", oc.Name, err)
			}
			obs = NewMoleculesObservable(oc.Name, p)
		}
		if err := sys.AddObservable(obs); err != nil {
			return nil, err
		}
	}

	for _, rc := range cfg.Rules {
		rule, err := buildRule(sys, rc)
		if err != nil {
			return nil, err
		}
		if err := sys.AddReaction(rule); err != nil {
			return nil, err
		}
	}

	for _, sc := range cfg.Seed {
		mt := sys.typeByName[sc.Type]
		count := sc.Count
		if count == 0 && sc.Population > 0 {
			count = 1
		}
		mols, err := sys.CreateMolecules(mt, count)
		if err != nil {
			return nil, err
		}
		for _, m := range mols {
			for comp, state := range sc.States {
				for _, ci := range mt.ComponentIndexes(comp) {
					si := mt.StateIndex(ci, state)
					if err := m.SetComponentState(ci, si); err != nil {
						return nil, err
					}
				}
			}
			if sc.Population > 0 {
				if err := m.SetPopulation(sc.Population); err != nil {
					return nil, err
				}
			}
		}
	}

	return sys, nil
}

// buildPattern assembles a Pattern from its config, pairing bond labels
// across the template nodes.
func buildPattern(sys *System, pc PatternConfig) (*Pattern, error) {
	type bondEnd struct {
		node *TemplateMolecule
		comp int
	}
	bondEnds := make(map[int][]bondEnd)
	nodes := make([]*TemplateMolecule, 0, len(pc.Molecules))
	for _, pm := range pc.Molecules {
		mt, ok := sys.typeByName[pm.Type]
		if !ok {
			return nil, fmt.Errorf("pattern references unknown type %q", pm.Type)
		}
		comps := make([]TemplateComponent, 0, len(pm.Components))
		for _, cc := range pm.Components {
			tc := TemplateComponent{Name: cc.Name, Label: cc.Label}
			if cc.State != "" {
				ci := mt.ComponentIndexes(cc.Name)[0]
				si := mt.StateIndex(ci, cc.State)
				if si < 0 {
					return nil, fmt.Errorf("type %q component %q has no state %q", pm.Type, cc.Name, cc.State)
				}
				tc.HasState = true
				tc.State = si
			}
			switch {
			case cc.Bond > 0:
				// Pattern edge; paired below.
			case cc.Bonded:
				tc.MustBeBonded = true
			case cc.Open == nil || *cc.Open:
				// A bare listed site must be free, matching the usual
				// rule-language reading.
				tc.MustBeOpen = true
			}
			comps = append(comps, tc)
		}
		node := NewTemplateMolecule(mt, comps)
		for i, cc := range pm.Components {
			if cc.Bond > 0 {
				bondEnds[cc.Bond] = append(bondEnds[cc.Bond], bondEnd{node, i})
			}
		}
		nodes = append(nodes, node)
	}
	for label, ends := range bondEnds {
		if len(ends) != 2 {
			return nil, fmt.Errorf("bond label %d appears %d times, want exactly 2", label, len(ends))
		}
		BondTemplates(ends[0].node, ends[0].comp, ends[1].node, ends[1].comp)
	}
	return NewPattern(nodes...), nil
}

// buildRule assembles a rule and its transformation set from config.
func buildRule(sys *System, rc RuleConfig) (*ReactionRule, error) {
	name := rc.Name
	if name == "" {
		name = rc.ID
	}

	patterns := make([]*Pattern, 0, len(rc.Reactants))
	for _, p := range rc.Reactants {
		built, err := buildPattern(sys, p)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rc.ID, err)
		}
		patterns = append(patterns, built)
	}

	resolveSite := func(sc SiteConfig, needComp bool) (Site, error) {
		if sc.Reactant == NewProduct {
			return Site{}, fmt.Errorf("rule %q: only bind targets may reference a product molecule", rc.ID)
		}
		s := Site{Reactant: sc.Reactant, Node: sc.Molecule, Comp: noBond}
		if !needComp && sc.Component == "" {
			return s, nil
		}
		pm := rc.Reactants[sc.Reactant].Molecules[sc.Molecule]
		for i, pc := range pm.Components {
			if pc.Name == sc.Component {
				s.Comp = i
				return s, nil
			}
		}
		return s, fmt.Errorf("rule %q: component %q is not part of reactant %d molecule %d",
			rc.ID, sc.Component, sc.Reactant, sc.Molecule)
	}

	var transforms []Transformation
	var addedTypes []*MoleculeType
	for _, tc := range rc.Transforms {
		switch tc.Op {
		case "state":
			site, err := resolveSite(tc.Site, true)
			if err != nil {
				return nil, err
			}
			pm := rc.Reactants[tc.Site.Reactant].Molecules[tc.Site.Molecule]
			mt := sys.typeByName[pm.Type]
			ci := mt.ComponentIndexes(tc.Site.Component)[0]
			si := mt.StateIndex(ci, tc.State)
			if si < 0 {
				return nil, fmt.Errorf("rule %q: component %q has no state %q", rc.ID, tc.Site.Component, tc.State)
			}
			transforms = append(transforms, Transformation{Op: OpStateChange, A: site, NewState: si})
		case "bind":
			a, err := resolveProductSite(sys, rc, tc.Site, addedTypes, resolveSite)
			if err != nil {
				return nil, err
			}
			b, err := resolveProductSite(sys, rc, *tc.Target, addedTypes, resolveSite)
			if err != nil {
				return nil, err
			}
			transforms = append(transforms, Transformation{Op: OpAddBond, A: a, B: b})
		case "unbind":
			site, err := resolveSite(tc.Site, true)
			if err != nil {
				return nil, err
			}
			transforms = append(transforms, Transformation{Op: OpDeleteBond, A: site})
		case "add":
			mt := sys.typeByName[tc.Type]
			states := make([]int, mt.NumComponents())
			for i := 0; i < mt.NumComponents(); i++ {
				states[i] = mt.Component(i).DefaultState
			}
			for comp, st := range tc.States {
				for _, ci := range mt.ComponentIndexes(comp) {
					si := mt.StateIndex(ci, st)
					if si < 0 {
						return nil, fmt.Errorf("rule %q: add %q: no state %q for component %q", rc.ID, tc.Type, st, comp)
					}
					states[ci] = si
				}
			}
			addedTypes = append(addedTypes, mt)
			transforms = append(transforms, Transformation{Op: OpAddMolecule, NewType: mt, NewStates: states})
		case "delete":
			site, err := resolveSite(tc.Site, false)
			if err != nil {
				return nil, err
			}
			transforms = append(transforms, Transformation{Op: OpDeleteMolecule, A: site})
		case "inc":
			site, err := resolveSite(tc.Site, false)
			if err != nil {
				return nil, err
			}
			transforms = append(transforms, Transformation{Op: OpIncPopulation, A: site})
		case "dec":
			site, err := resolveSite(tc.Site, false)
			if err != nil {
				return nil, err
			}
			transforms = append(transforms, Transformation{Op: OpDecPopulation, A: site})
		}
	}

	tset := NewTransformationSet(transforms...)
	if rc.ForbidSameComplex {
		tset.ForbidSameComplex()
	}

	rate := rc.Rate
	if rc.RateParam != "" {
		if v, ok := sys.params[rc.RateParam]; ok {
			rate = v
		}
	}

	var rule *ReactionRule
	switch rc.Kind {
	case "dor":
		wp, err := buildPattern(sys, *rc.WeightPattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q weight pattern: %w", rc.ID, err)
		}
		scale := rc.WeightScale
		if scale == 0 {
			scale = 1
		}
		weightFn := NewComplexObservableWeight(name+"_weight", wp, scale)
		rule = NewDORRule(name, rate, patterns, tset, weightFn, rc.WeightReactant)
	case "observable":
		expr := rc.RateExpr
		rule = NewObservableRule(name, func(s *System) float64 {
			if expr == "" {
				return rate
			}
			v, err := s.evaluator(expr, s.bindings())
			if err != nil {
				s.log.Errorf("rule %q rate expression: %v", name, err)
				return 0
			}
			return v
		}, patterns, tset)
	case "population":
		rule = NewPopulationRule(name, rate, patterns, tset)
	default:
		rule = NewBasicRule(name, rate, patterns, tset)
	}
	if rc.RateParam != "" {
		rule.BindRateParameter(rc.RateParam)
	}
	if rc.TotalRate {
		rule.SetTotalRate(true)
	}
	return rule, nil
}

// resolveProductSite resolves a bind endpoint that may address a freshly
// added product molecule, whose component names resolve against the
// concrete type.
func resolveProductSite(sys *System, rc RuleConfig, sc SiteConfig, addedTypes []*MoleculeType, fallback func(SiteConfig, bool) (Site, error)) (Site, error) {
	if sc.Reactant != NewProduct {
		return fallback(sc, true)
	}
	if sc.Product < 0 || sc.Product >= len(addedTypes) {
		return Site{}, fmt.Errorf("rule %q: bind references product %d of %d", rc.ID, sc.Product, len(addedTypes))
	}
	mt := addedTypes[sc.Product]
	idxs := mt.ComponentIndexes(sc.Component)
	if len(idxs) == 0 {
		return Site{}, fmt.Errorf("rule %q: product type %q has no component %q", rc.ID, mt.Name(), sc.Component)
	}
	return Site{Reactant: NewProduct, Node: sc.Product, Comp: idxs[0]}, nil
}
