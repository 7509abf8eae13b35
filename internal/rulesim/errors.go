package rulesim

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure modes a firing or a model load can hit.
// SiteOccupied, SiteUnbound, PopulationUnderflow, ComplexMergeForbidden and
// IdenticalReactant are "null event" errors: a firing that hits one is
// counted and discarded without mutating any state. The remaining kinds
// abort the simulation.
var (
	ErrSiteOccupied          = errors.New("binding site is already occupied")
	ErrSiteUnbound           = errors.New("binding site is not bonded")
	ErrPopulationUnderflow   = errors.New("population count would drop below zero")
	ErrComplexMergeForbidden = errors.New("rule forbids binding within the same complex")
	ErrLocalFunctionScope    = errors.New("local function argument is out of scope")
	ErrResourceExhaustion    = errors.New("global molecule limit reached")
	ErrInternal              = errors.New("internal invariant violation")

	// ErrIdenticalReactant rejects a firing whose slots drew overlapping
	// molecule instances, e.g. both sides of a homodimerization picking
	// the same molecule.
	ErrIdenticalReactant = errors.New("selected reactant instances overlap")
)

// IsNullEvent reports whether err is one of the rejection errors that are
// absorbed as a null event rather than aborting the trajectory.
func IsNullEvent(err error) bool {
	return errors.Is(err, ErrSiteOccupied) ||
		errors.Is(err, ErrSiteUnbound) ||
		errors.Is(err, ErrPopulationUnderflow) ||
		errors.Is(err, ErrComplexMergeForbidden) ||
		errors.Is(err, ErrIdenticalReactant)
}

// internalf wraps ErrInternal with a diagnostic message.
func internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}

// ValidationError collects multiple model validation issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid model: unknown validation error"
	}
	if len(e.Issues) == 1 {
		return e.Issues[0]
	}
	return "model validation errors: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Add(issue string) {
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) HasIssues() bool {
	return len(e.Issues) > 0
}
