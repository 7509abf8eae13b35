package rulesim

import (
	"fmt"
	"sort"
	"strings"
)

// Canonicalizer produces a deterministic string label for a complex, equal
// exactly when two complexes are isomorphic. Production deployments can plug
// in a third-party graph-isomorphism backend; the engine only depends on
// this interface.
type Canonicalizer interface {
	Label(c *Complex) string
}

// orderedCanonicalizer is the default labeler. It encodes the complex once
// per candidate root, ordering molecules by breadth-first discovery and
// numbering bonds by first appearance, then keeps the lexicographically
// smallest encoding. Quadratic in complex size, which is fine for the
// complex sizes a rule-based trajectory produces.
type orderedCanonicalizer struct{}

// NewCanonicalizer returns the built-in deterministic labeler.
func NewCanonicalizer() Canonicalizer {
	return orderedCanonicalizer{}
}

func (orderedCanonicalizer) Label(c *Complex) string {
	if len(c.members) == 0 {
		return ""
	}
	best := ""
	for _, root := range c.members {
		enc := encodeFrom(root)
		if best == "" || enc < best {
			best = enc
		}
	}
	return best
}

// encodeFrom serializes the complex with a BFS rooted at root. Neighbor
// expansion follows component order so the encoding is a pure function of
// the rooted graph.
func encodeFrom(root *Molecule) string {
	order := []*Molecule{root}
	pos := map[*Molecule]int{root: 0}
	for i := 0; i < len(order); i++ {
		m := order[i]
		for _, p := range m.bonds {
			if p == nil {
				continue
			}
			if _, ok := pos[p]; !ok {
				pos[p] = len(order)
				order = append(order, p)
			}
		}
	}

	var sb strings.Builder
	bondNum := make(map[[2]int]int)
	nextBond := 1
	for _, m := range order {
		sb.WriteString(m.typ.name)
		sb.WriteByte('(')
		for i, def := range m.typ.components {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(def.Name)
			if len(def.States) > 0 {
				sb.WriteByte('~')
				sb.WriteString(def.States[m.states[i]])
			} else if def.IsInteger {
				fmt.Fprintf(&sb, "~%d", m.states[i])
			}
			if p := m.bonds[i]; p != nil {
				key := bondKey(pos[m], i, pos[p], m.bondComp[i])
				n, ok := bondNum[key]
				if !ok {
					n = nextBond
					nextBond++
					bondNum[key] = n
				}
				fmt.Fprintf(&sb, "!%d", n)
			}
		}
		sb.WriteByte(')')
		sb.WriteByte('.')
	}
	return sb.String()
}

// bondKey identifies an undirected edge endpoint-pair in BFS position space.
func bondKey(aPos, aComp, bPos, bComp int) [2]int {
	a := aPos<<16 | aComp
	b := bPos<<16 | bComp
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// SpeciesHistogram groups every live complex by canonical label and returns
// label -> count, plus the labels sorted descending by count for stable
// output.
func SpeciesHistogram(cl *ComplexList) (map[string]int, []string) {
	counts := make(map[string]int)
	cl.Each(func(c *Complex) {
		counts[cl.CanonicalLabel(c)]++
	})
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return counts, labels
}
