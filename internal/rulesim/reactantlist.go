package rulesim

import "golang.org/x/exp/rand"

// defaultCompactRatio triggers compaction once this fraction of slots are
// holes left by O(1) removals.
const defaultCompactRatio = 0.5

// ReactantList is the indexed population of current mapping sets for one
// reactant slot of one rule. Removal punches a hole instead of shifting, so
// insert, remove and uniform random pick are all O(1); holes are bounded by
// periodic compaction.
type ReactantList struct {
	sets         []*MappingSet
	holes        int
	count        int
	compactRatio float64

	// totalWeight caches the DOR weight sum of the stored sets.
	totalWeight float64
}

func newReactantList() *ReactantList {
	return &ReactantList{compactRatio: defaultCompactRatio}
}

// Count returns the number of stored mapping sets.
func (rl *ReactantList) Count() int { return rl.count }

// TotalWeight returns the sum of DOR weights over the stored sets.
func (rl *ReactantList) TotalWeight() float64 { return rl.totalWeight }

// insert stores a mapping set and records its position back-reference.
func (rl *ReactantList) insert(ms *MappingSet) {
	ms.listPos = len(rl.sets)
	rl.sets = append(rl.sets, ms)
	rl.count++
	rl.totalWeight += ms.weight
}

// remove drops a stored mapping set in O(1) via its back-reference.
func (rl *ReactantList) remove(ms *MappingSet) {
	pos := ms.listPos
	if pos == noBond || pos >= len(rl.sets) || rl.sets[pos] != ms {
		return
	}
	rl.sets[pos] = nil
	ms.listPos = noBond
	rl.holes++
	rl.count--
	rl.totalWeight -= ms.weight
	if rl.count == 0 {
		rl.sets = rl.sets[:0]
		rl.holes = 0
		rl.totalWeight = 0
	} else if float64(rl.holes) > rl.compactRatio*float64(len(rl.sets)) {
		rl.compact()
	}
}

// compact squeezes out holes, rewriting the back-references of the
// surviving sets.
func (rl *ReactantList) compact() {
	dst := 0
	for _, ms := range rl.sets {
		if ms == nil {
			continue
		}
		ms.listPos = dst
		rl.sets[dst] = ms
		dst++
	}
	rl.sets = rl.sets[:dst]
	rl.holes = 0
}

// pickUniform draws a stored mapping set uniformly at random, rejecting and
// redrawing on holes.
func (rl *ReactantList) pickUniform(rng *rand.Rand) *MappingSet {
	if rl.count == 0 {
		return nil
	}
	for {
		if ms := rl.sets[rng.Intn(len(rl.sets))]; ms != nil {
			return ms
		}
	}
}

// pickWeighted draws a stored mapping set with probability proportional to
// its DOR weight, given u uniform in [0,1).
func (rl *ReactantList) pickWeighted(u float64) *MappingSet {
	if rl.count == 0 || rl.totalWeight <= 0 {
		return nil
	}
	target := u * rl.totalWeight
	var acc float64
	var last *MappingSet
	for _, ms := range rl.sets {
		if ms == nil {
			continue
		}
		last = ms
		acc += ms.weight
		if acc >= target {
			return ms
		}
	}
	// Floating point shortfall lands on the final set.
	return last
}

// updateWeight adjusts a stored set's DOR weight, keeping the cached sum
// consistent.
func (rl *ReactantList) updateWeight(ms *MappingSet, w float64) {
	if ms.listPos != noBond {
		rl.totalWeight += w - ms.weight
	}
	ms.weight = w
}

// each calls f over the stored sets. The list must not be mutated during
// iteration; mutating callers snapshot first.
func (rl *ReactantList) each(f func(*MappingSet)) {
	for _, ms := range rl.sets {
		if ms != nil {
			f(ms)
		}
	}
}

// snapshot returns the stored sets as a fresh slice.
func (rl *ReactantList) snapshot() []*MappingSet {
	out := make([]*MappingSet, 0, rl.count)
	rl.each(func(ms *MappingSet) { out = append(out, ms) })
	return out
}
