// Package pattern holds the weighted table of unique biallelic site patterns.
//
// A pattern is the pair of per-population vectors (allele counts, red allele
// counts) seen at an alignment column; its weight is the number of columns
// that share it. Patterns keep insertion order, and every transform is a
// stable pass over that order.
package pattern

import (
	"slices"

	"github.com/phyletica/coevolity-sub001/internal/errs"
)

// Table is an ordered collection of unique patterns. The three slices are
// parallel; Check reports when they disagree.
type Table struct {
	alleleCounts    [][]uint32
	redAlleleCounts [][]uint32
	weights         []uint32
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

// find returns the index of the first pattern equal to (alleles, red), or -1.
func (t *Table) find(alleles, red []uint32) int {
	for i := range t.weights {
		if slices.Equal(t.alleleCounts[i], alleles) && slices.Equal(t.redAlleleCounts[i], red) {
			return i
		}
	}
	return -1
}

// FindOrInsert records one column with the given counts. If an identical
// pattern exists its weight is incremented, otherwise a new pattern with
// weight 1 is appended. The vectors are copied. It returns the pattern index.
func (t *Table) FindOrInsert(alleles, red []uint32) int {
	return t.AddWeighted(alleles, red, 1)
}

// AddWeighted is FindOrInsert for a pattern standing for weight columns.
func (t *Table) AddWeighted(alleles, red []uint32, weight uint32) int {
	if i := t.find(alleles, red); i >= 0 {
		t.weights[i] += weight
		return i
	}
	t.alleleCounts = append(t.alleleCounts, slices.Clone(alleles))
	t.redAlleleCounts = append(t.redAlleleCounts, slices.Clone(red))
	t.weights = append(t.weights, weight)
	return len(t.weights) - 1
}

// Len returns the number of patterns.
func (t *Table) Len() int {
	return len(t.weights)
}

func (t *Table) checkIndex(i int) error {
	if i < 0 || i >= len(t.weights) {
		return errs.OutOfRange("pattern index %d, have %d", i, len(t.weights))
	}
	return nil
}

// Weight returns the number of columns pattern i stands for.
func (t *Table) Weight(i int) (uint32, error) {
	if err := t.checkIndex(i); err != nil {
		return 0, err
	}
	return t.weights[i], nil
}

// AlleleCounts returns a copy of the allele counts of pattern i.
func (t *Table) AlleleCounts(i int) ([]uint32, error) {
	if err := t.checkIndex(i); err != nil {
		return nil, err
	}
	return slices.Clone(t.alleleCounts[i]), nil
}

// RedAlleleCounts returns a copy of the red allele counts of pattern i.
func (t *Table) RedAlleleCounts(i int) ([]uint32, error) {
	if err := t.checkIndex(i); err != nil {
		return nil, err
	}
	return slices.Clone(t.redAlleleCounts[i]), nil
}

// AlleleCount returns the allele count of population p in pattern i.
func (t *Table) AlleleCount(i, p int) (uint32, error) {
	if err := t.checkIndex(i); err != nil {
		return 0, err
	}
	if p < 0 || p >= len(t.alleleCounts[i]) {
		return 0, errs.OutOfRange("population index %d, pattern has %d", p, len(t.alleleCounts[i]))
	}
	return t.alleleCounts[i][p], nil
}

// RedAlleleCount returns the red allele count of population p in pattern i.
func (t *Table) RedAlleleCount(i, p int) (uint32, error) {
	if err := t.checkIndex(i); err != nil {
		return 0, err
	}
	if p < 0 || p >= len(t.redAlleleCounts[i]) {
		return 0, errs.OutOfRange("population index %d, pattern has %d", p, len(t.redAlleleCounts[i]))
	}
	return t.redAlleleCounts[i][p], nil
}

// Weights returns a copy of all pattern weights.
func (t *Table) Weights() []uint32 {
	return slices.Clone(t.weights)
}

// TotalWeight returns the number of columns the table stands for.
func (t *Table) TotalWeight() uint64 {
	var total uint64
	for _, w := range t.weights {
		total += uint64(w)
	}
	return total
}

// MaxAlleleCounts returns, for each of numPopulations populations, the
// largest allele count over all patterns. It is computed on every call since
// removals can drop the pattern that held a maximum.
func (t *Table) MaxAlleleCounts(numPopulations int) []uint32 {
	maxCounts := make([]uint32, numPopulations)
	for _, alleles := range t.alleleCounts {
		for p := 0; p < len(alleles) && p < numPopulations; p++ {
			maxCounts[p] = max(maxCounts[p], alleles[p])
		}
	}
	return maxCounts
}

// Each calls fn for every pattern in order. The slices must not be modified.
func (t *Table) Each(fn func(i int, alleles, red []uint32, weight uint32)) {
	for i := range t.weights {
		fn(i, t.alleleCounts[i], t.redAlleleCounts[i], t.weights[i])
	}
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	c := &Table{
		alleleCounts:    make([][]uint32, len(t.alleleCounts)),
		redAlleleCounts: make([][]uint32, len(t.redAlleleCounts)),
		weights:         slices.Clone(t.weights),
	}
	for i := range t.alleleCounts {
		c.alleleCounts[i] = slices.Clone(t.alleleCounts[i])
	}
	for i := range t.redAlleleCounts {
		c.redAlleleCounts[i] = slices.Clone(t.redAlleleCounts[i])
	}
	return c
}
