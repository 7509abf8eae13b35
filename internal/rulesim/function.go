package rulesim

import "fmt"

// Evaluator computes the value of a rate or function expression under the
// given variable bindings. The expression language itself is external to
// the engine; anything from a constant-folder to a full parser can be
// plugged in.
type Evaluator func(expr string, bindings map[string]float64) (float64, error)

// GlobalFunction is a named expression over parameters and observable
// values, re-evaluated whenever parameters change or a repair pass touches
// one of its operands.
type GlobalFunction struct {
	name  string
	expr  string
	value float64
	sys   *System
}

// NewGlobalFunction declares a function with the given expression.
func NewGlobalFunction(name, expr string) *GlobalFunction {
	return &GlobalFunction{name: name, expr: expr}
}

// Name returns the function name.
func (f *GlobalFunction) Name() string { return f.name }

// Expr returns the declared expression.
func (f *GlobalFunction) Expr() string { return f.expr }

// Value returns the most recently evaluated value.
func (f *GlobalFunction) Value() float64 { return f.value }

// evaluate recomputes the function through the System's evaluator with
// parameters and observable values bound by name.
func (f *GlobalFunction) evaluate() error {
	if f.sys == nil || f.sys.evaluator == nil {
		return fmt.Errorf("function %q: no evaluator configured", f.name)
	}
	v, err := f.sys.evaluator(f.expr, f.sys.bindings())
	if err != nil {
		return fmt.Errorf("function %q: %w", f.name, err)
	}
	f.value = v
	return nil
}

// LocalFunction computes a per-match quantity from the local context of a
// mapping set. DOR rules use one as their weight function.
type LocalFunction struct {
	Name string
	Fn   func(sys *System, ms *MappingSet) (float64, error)
}

// NewComplexObservableWeight builds the most common DOR weight function:
// scale times the number of obs-pattern matches found inside the complex of
// the mapping set's anchor molecule.
func NewComplexObservableWeight(name string, pattern *Pattern, scale float64) *LocalFunction {
	return &LocalFunction{
		Name: name,
		Fn: func(sys *System, ms *MappingSet) (float64, error) {
			anchor := ms.At(0).Molecule()
			if anchor == nil || !anchor.IsAlive() {
				return 0, fmt.Errorf("%w: %s has no live anchor molecule", ErrLocalFunctionScope, name)
			}
			c := sys.complexes.Get(anchor.ComplexID())
			if c == nil {
				return 0, fmt.Errorf("%w: %s anchor is not in a tracked complex", ErrLocalFunctionScope, name)
			}
			n := 0
			at := pattern.Anchor().typ
			for _, m := range c.members {
				if m.typ == at {
					n += pattern.MatchCount(m)
				}
			}
			return scale * float64(n), nil
		},
	}
}
