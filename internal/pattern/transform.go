package pattern

import (
	"slices"

	"github.com/phyletica/coevolity-sub001/internal/errs"
)

// IsConstant reports whether no population carries the red allele, or every
// population carries only the red allele. The vectors are compared whole.
func IsConstant(alleles, red []uint32) bool {
	for _, r := range red {
		if r != 0 {
			return slices.Equal(red, alleles)
		}
	}
	return true
}

// HasMissingPopulation reports whether some population has no alleles.
func HasMissingPopulation(alleles []uint32) bool {
	return slices.Contains(alleles, 0)
}

// IsMirror reports whether two patterns share allele counts and their red
// counts add up to them in every population.
func IsMirror(alleles1, red1, alleles2, red2 []uint32) bool {
	if !slices.Equal(alleles1, alleles2) || len(red1) != len(alleles1) || len(red2) != len(alleles1) {
		return false
	}
	for p, n := range alleles1 {
		if uint64(red1[p])+uint64(red2[p]) != uint64(n) {
			return false
		}
	}
	return true
}

// HasConstant reports whether any pattern is constant.
func (t *Table) HasConstant() bool {
	for i := range t.weights {
		if IsConstant(t.alleleCounts[i], t.redAlleleCounts[i]) {
			return true
		}
	}
	return false
}

// HasMissingPopulation reports whether any pattern lacks data for a population.
func (t *Table) HasMissingPopulation() bool {
	for i := range t.weights {
		if HasMissingPopulation(t.alleleCounts[i]) {
			return true
		}
	}
	return false
}

// HasMirrored reports whether two distinct patterns are mirror images.
func (t *Table) HasMirrored() bool {
	for i := range t.weights {
		for j := i + 1; j < len(t.weights); j++ {
			if IsMirror(t.alleleCounts[i], t.redAlleleCounts[i], t.alleleCounts[j], t.redAlleleCounts[j]) {
				return true
			}
		}
	}
	return false
}

// retain keeps the patterns whose keep entry is true, in their original
// order, and returns how many patterns and columns were dropped.
func (t *Table) retain(keep []bool) (int, uint64) {
	n := 0
	var droppedWeight uint64
	for i, k := range keep {
		if !k {
			droppedWeight += uint64(t.weights[i])
			continue
		}
		t.alleleCounts[n] = t.alleleCounts[i]
		t.redAlleleCounts[n] = t.redAlleleCounts[i]
		t.weights[n] = t.weights[i]
		n++
	}
	dropped := len(t.weights) - n
	t.alleleCounts = slices.Delete(t.alleleCounts, n, len(t.alleleCounts))
	t.redAlleleCounts = slices.Delete(t.redAlleleCounts, n, len(t.redAlleleCounts))
	t.weights = t.weights[:n]
	return dropped, droppedWeight
}

// RemoveConstant drops every constant pattern. It returns the number of
// patterns and columns removed.
func (t *Table) RemoveConstant() (int, uint64) {
	keep := make([]bool, len(t.weights))
	for i := range keep {
		keep[i] = !IsConstant(t.alleleCounts[i], t.redAlleleCounts[i])
	}
	return t.retain(keep)
}

// RemoveMissingPopulation drops every pattern where some population has no
// alleles. If that would leave no patterns the table is not changed and an
// ErrData error is returned.
func (t *Table) RemoveMissingPopulation() (int, uint64, error) {
	keep := make([]bool, len(t.weights))
	kept := 0
	for i := range keep {
		keep[i] = !HasMissingPopulation(t.alleleCounts[i])
		if keep[i] {
			kept++
		}
	}
	if kept == 0 {
		return 0, 0, errs.Data("no data: every pattern is missing data for at least one population")
	}
	removed, weight := t.retain(keep)
	return removed, weight, nil
}

// shouldFlip reports whether red alleles are the majority over all
// populations. Exact halves are left alone.
func shouldFlip(alleles, red []uint32) bool {
	var totalRed, totalAlleles uint64
	for _, n := range red {
		totalRed += uint64(n)
	}
	for _, n := range alleles {
		totalAlleles += uint64(n)
	}
	return 2*totalRed > totalAlleles
}

// complement returns alleles-red, or false if the pattern is malformed.
func complement(alleles, red []uint32) ([]uint32, bool) {
	if len(alleles) != len(red) {
		return nil, false
	}
	out := make([]uint32, len(red))
	for p := range red {
		if red[p] > alleles[p] {
			return nil, false
		}
		out[p] = alleles[p] - red[p]
	}
	return out, true
}

// Fold relabels alleles so that red is the minority allele of every
// pattern, then merges patterns that became identical into the earliest one,
// summing weights. It returns the number of patterns removed by merging.
func (t *Table) Fold() int {
	folded := &Table{
		alleleCounts:    make([][]uint32, 0, len(t.weights)),
		redAlleleCounts: make([][]uint32, 0, len(t.weights)),
		weights:         make([]uint32, 0, len(t.weights)),
	}
	for i := range t.weights {
		alleles, red := t.alleleCounts[i], t.redAlleleCounts[i]
		if shouldFlip(alleles, red) {
			if flipped, ok := complement(alleles, red); ok {
				red = flipped
			}
		}
		folded.AddWeighted(alleles, red, t.weights[i])
	}
	merged := len(t.weights) - len(folded.weights)
	*t = *folded
	return merged
}

// Check verifies the structural invariants of the table for numPopulations
// populations: parallel slices agree, at least one pattern remains, every
// vector has one entry per population, weights are positive and red counts
// never exceed allele counts. Violations are ErrData.
func (t *Table) Check(numPopulations int) error {
	if len(t.alleleCounts) != len(t.weights) || len(t.redAlleleCounts) != len(t.weights) {
		return errs.Data("pattern table sizes differ: %d weights, %d allele count vectors, %d red allele count vectors",
			len(t.weights), len(t.alleleCounts), len(t.redAlleleCounts))
	}
	if len(t.weights) == 0 {
		return errs.Data("no patterns")
	}
	for i := range t.weights {
		alleles, red := t.alleleCounts[i], t.redAlleleCounts[i]
		if len(alleles) != numPopulations || len(red) != numPopulations {
			return errs.Data("pattern %d has %d allele counts and %d red allele counts for %d populations",
				i, len(alleles), len(red), numPopulations)
		}
		if t.weights[i] == 0 {
			return errs.Data("pattern %d has zero weight", i)
		}
		for p := range alleles {
			if red[p] > alleles[p] {
				return errs.Data("pattern %d, population %d: red allele count %d exceeds allele count %d",
					i, p, red[p], alleles[p])
			}
		}
	}
	return nil
}
