package biallelic

import (
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/phyletica/coevolity-sub001/internal/encoder"
	"github.com/phyletica/coevolity-sub001/internal/errs"
	"github.com/phyletica/coevolity-sub001/internal/pattern"
	"github.com/phyletica/coevolity-sub001/internal/population"
)

// Data is a compressed biallelic dataset: populations plus weighted unique
// site patterns.
type Data struct {
	path     string
	encoding encoder.Encoding
	pops     *population.Index
	table    *pattern.Table
	log      logrus.FieldLogger

	hasConstant bool
	hasMissing  bool
	hasMirrored bool
	folded      bool

	constantRemoved uint64
	missingRemoved  uint64
}

// updateFlags recomputes the derived booleans from the current patterns.
func (d *Data) updateFlags() {
	d.hasConstant = d.table.HasConstant()
	d.hasMissing = d.table.HasMissingPopulation()
	d.hasMirrored = d.table.HasMirrored()
}

// Path returns the source the dataset was read from.
func (d *Data) Path() string { return d.path }

// Encoding returns the genotype encoding.
func (d *Data) Encoding() encoder.Encoding { return d.encoding }

// MarkersAreDominant reports whether markers are dominant.
func (d *Data) MarkersAreDominant() bool { return d.encoding.Dominant() }

// GenotypesAreDiploid reports whether genotypes are diploid.
func (d *Data) GenotypesAreDiploid() bool { return d.encoding.Diploid() }

// HasConstantPatterns reports whether a constant pattern remains.
func (d *Data) HasConstantPatterns() bool { return d.hasConstant }

// HasMissingPopulationPatterns reports whether a pattern lacks a population.
func (d *Data) HasMissingPopulationPatterns() bool { return d.hasMissing }

// HasMirroredPatterns reports whether two patterns are complements of each
// other, which is when folding would merge something.
func (d *Data) HasMirroredPatterns() bool { return d.hasMirrored }

// PatternsAreFolded reports whether FoldPatterns has run.
func (d *Data) PatternsAreFolded() bool { return d.folded }

// NumPopulations returns the number of populations.
func (d *Data) NumPopulations() int { return d.pops.Len() }

// NumPatterns returns the number of unique patterns.
func (d *Data) NumPatterns() int { return d.table.Len() }

// PopulationLabel returns the label of population i.
func (d *Data) PopulationLabel(i int) (string, error) {
	return d.pops.Label(i)
}

// PopulationLabels returns all population labels in index order.
func (d *Data) PopulationLabels() []string {
	return d.pops.Labels()
}

// PopulationIndex returns the population a sequence label belongs to.
func (d *Data) PopulationIndex(seqLabel string) (int, error) {
	return d.pops.IndexOf(seqLabel)
}

// SequenceLabels returns the sequence labels of population i.
func (d *Data) SequenceLabels(i int) ([]string, error) {
	return d.pops.SequenceLabels(i)
}

// Populations returns a copy of the populations.
func (d *Data) Populations() []population.Population {
	return d.pops.Populations()
}

// PatternWeight returns the number of columns pattern i stands for.
func (d *Data) PatternWeight(i int) (uint32, error) {
	return d.table.Weight(i)
}

// PatternWeights returns a copy of every pattern weight.
func (d *Data) PatternWeights() []uint32 {
	return d.table.Weights()
}

// AlleleCounts returns the per-population allele counts of pattern i.
func (d *Data) AlleleCounts(i int) ([]uint32, error) {
	return d.table.AlleleCounts(i)
}

// RedAlleleCounts returns the per-population red allele counts of pattern i.
func (d *Data) RedAlleleCounts(i int) ([]uint32, error) {
	return d.table.RedAlleleCounts(i)
}

// AlleleCount returns the allele count of population p in pattern i.
func (d *Data) AlleleCount(i, p int) (uint32, error) {
	return d.table.AlleleCount(i, p)
}

// RedAlleleCount returns the red allele count of population p in pattern i.
func (d *Data) RedAlleleCount(i, p int) (uint32, error) {
	return d.table.RedAlleleCount(i, p)
}

// MaxAlleleCounts returns the largest allele count of each population over
// the current patterns.
func (d *Data) MaxAlleleCounts() []uint32 {
	return d.table.MaxAlleleCounts(d.pops.Len())
}

// NumSites returns the number of columns the patterns stand for.
func (d *Data) NumSites() uint64 {
	return d.table.TotalWeight()
}

// NumVariableSites returns the weight of the non-constant patterns.
func (d *Data) NumVariableSites() uint64 {
	var n uint64
	d.table.Each(func(_ int, alleles, red []uint32, weight uint32) {
		if !pattern.IsConstant(alleles, red) {
			n += uint64(weight)
		}
	})
	return n
}

// ConstantSitesRemoved returns the column weight dropped as constant.
func (d *Data) ConstantSitesRemoved() uint64 { return d.constantRemoved }

// MissingSitesRemoved returns the column weight dropped for missing
// populations.
func (d *Data) MissingSitesRemoved() uint64 { return d.missingRemoved }

// AlleleCountWeight is a distinct allele count vector and the number of
// columns that share it.
type AlleleCountWeight struct {
	AlleleCounts []uint32
	Weight       uint64
}

// UniqueAlleleCounts groups the patterns by allele counts alone, in first
// seen order. The likelihood correction for unsampled constant sites is
// evaluated once per group.
func (d *Data) UniqueAlleleCounts() []AlleleCountWeight {
	var out []AlleleCountWeight
	d.table.Each(func(_ int, alleles, _ []uint32, weight uint32) {
		for k := range out {
			if slices.Equal(out[k].AlleleCounts, alleles) {
				out[k].Weight += uint64(weight)
				return
			}
		}
		out = append(out, AlleleCountWeight{
			AlleleCounts: slices.Clone(alleles),
			Weight:       uint64(weight),
		})
	})
	return out
}

// RemoveConstantPatterns drops every constant pattern and returns how many
// were removed. With validate set the dataset is validated afterwards.
func (d *Data) RemoveConstantPatterns(validate bool) (int, error) {
	removed, weight := d.table.RemoveConstant()
	d.constantRemoved += weight
	d.updateFlags()
	d.log.WithFields(logrus.Fields{
		"removed": removed,
		"sites":   weight,
	}).Debug("removed constant patterns")
	if validate {
		if err := d.Validate(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// RemoveMissingPopulationPatterns drops every pattern where some population
// has no alleles and returns how many were removed. It fails with ErrData,
// leaving the dataset unchanged, if nothing would remain.
func (d *Data) RemoveMissingPopulationPatterns(validate bool) (int, error) {
	removed, weight, err := d.table.RemoveMissingPopulation()
	if err != nil {
		return 0, errs.WithPath(err, d.path)
	}
	d.missingRemoved += weight
	d.updateFlags()
	d.log.WithFields(logrus.Fields{
		"removed": removed,
		"sites":   weight,
	}).Debug("removed missing-population patterns")
	if validate {
		if err := d.Validate(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// FoldPatterns makes red the minority allele of every pattern and merges
// the patterns that collide. It returns the number of patterns merged away.
func (d *Data) FoldPatterns(validate bool) (int, error) {
	merged := d.table.Fold()
	d.folded = true
	d.updateFlags()
	d.log.WithField("merged", merged).Debug("folded patterns")
	if validate {
		if err := d.Validate(); err != nil {
			return merged, err
		}
	}
	return merged, nil
}

// Validate checks the dataset invariants without changing anything. Every
// violation is ErrData.
func (d *Data) Validate() error {
	if err := d.table.Check(d.pops.Len()); err != nil {
		return errs.WithPath(err, d.path)
	}
	if got := d.table.HasConstant(); got != d.hasConstant {
		return errs.WithPath(errs.Data("constant pattern flag is %t, patterns say %t", d.hasConstant, got), d.path)
	}
	if got := d.table.HasMissingPopulation(); got != d.hasMissing {
		return errs.WithPath(errs.Data("missing population flag is %t, patterns say %t", d.hasMissing, got), d.path)
	}
	return nil
}
