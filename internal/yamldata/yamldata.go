// Package yamldata converts pattern tables to and from the YAML interchange
// format read by downstream analysis tools.
//
// The pattern vectors and encoding keys are required. The folded flag, the
// removed-site counters and the per-population sequence labels are written
// only when set, so plain tables from other tools read unchanged.
package yamldata

import (
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/phyletica/coevolity-sub001/internal/biallelic"
	"github.com/phyletica/coevolity-sub001/internal/encoder"
	"github.com/phyletica/coevolity-sub001/internal/errs"
	"github.com/phyletica/coevolity-sub001/internal/population"
)

// Document is the YAML layout of a pattern table. Pattern rows are parallel
// to PatternWeights and each has one entry per population. SequenceLabels,
// when present, has one row per population.
type Document struct {
	MarkersAreDominant         bool       `yaml:"markers_are_dominant"`
	GenotypesAreDiploid        bool       `yaml:"genotypes_are_diploid"`
	PatternsAreFolded          bool       `yaml:"patterns_are_folded,omitempty"`
	ConstantSitesRemoved       uint64     `yaml:"constant_sites_removed,omitempty"`
	MissingSitesRemoved        uint64     `yaml:"missing_sites_removed,omitempty"`
	PopulationLabels           []string   `yaml:"population_labels,flow"`
	SequenceLabels             [][]string `yaml:"sequence_labels,flow,omitempty"`
	AlleleCountPatterns        []FlowRow  `yaml:"allele_count_patterns"`
	DerivedAlleleCountPatterns []FlowRow  `yaml:"derived_allele_count_patterns"`
	PatternWeights             []uint32   `yaml:"pattern_weights,flow"`
}

// FlowRow is a count vector written on one line.
type FlowRow []uint32

// MarshalYAML implements yaml.Marshaler.
func (r FlowRow) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range r {
		n.Content = append(n.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!int",
			Value: strconv.FormatUint(uint64(v), 10),
		})
	}
	return n, nil
}

// FromData builds the document for d.
func FromData(d *biallelic.Data) (*Document, error) {
	doc := &Document{
		MarkersAreDominant:   d.MarkersAreDominant(),
		GenotypesAreDiploid:  d.GenotypesAreDiploid(),
		PatternsAreFolded:    d.PatternsAreFolded(),
		ConstantSitesRemoved: d.ConstantSitesRemoved(),
		MissingSitesRemoved:  d.MissingSitesRemoved(),
		PopulationLabels:     d.PopulationLabels(),
		PatternWeights:       d.PatternWeights(),
	}
	hasSequences := false
	labels := make([][]string, 0, d.NumPopulations())
	for _, pop := range d.Populations() {
		labels = append(labels, pop.SequenceLabels)
		hasSequences = hasSequences || len(pop.SequenceLabels) > 0
	}
	if hasSequences {
		doc.SequenceLabels = labels
	}
	for i := range d.NumPatterns() {
		alleles, err := d.AlleleCounts(i)
		if err != nil {
			return nil, err
		}
		red, err := d.RedAlleleCounts(i)
		if err != nil {
			return nil, err
		}
		doc.AlleleCountPatterns = append(doc.AlleleCountPatterns, FlowRow(alleles))
		doc.DerivedAlleleCountPatterns = append(doc.DerivedAlleleCountPatterns, FlowRow(red))
	}
	return doc, nil
}

// Write writes d to w as YAML.
func Write(w io.Writer, d *biallelic.Data) error {
	doc, err := FromData(d)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(4)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}

// Read parses a YAML pattern table. Unknown keys and inconsistent lengths
// are ErrParsing; red counts above allele counts are ErrData.
func Read(r io.Reader, path string) (*biallelic.Data, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, errs.WithPath(errs.Parsing("decoding yaml: %v", err), path)
	}
	d, err := doc.Data(path)
	if err != nil {
		return nil, errs.WithPath(err, path)
	}
	return d, nil
}

// Data builds a validated dataset from the document.
func (doc *Document) Data(path string) (*biallelic.Data, error) {
	if len(doc.PopulationLabels) == 0 {
		return nil, errs.Parsing("no population labels")
	}
	n := len(doc.PatternWeights)
	if len(doc.AlleleCountPatterns) != n || len(doc.DerivedAlleleCountPatterns) != n {
		return nil, errs.Parsing("%d allele count patterns, %d derived allele count patterns and %d pattern weights",
			len(doc.AlleleCountPatterns), len(doc.DerivedAlleleCountPatterns), n)
	}

	pops := population.NewIndex(' ', true)
	for _, label := range doc.PopulationLabels {
		if _, err := pops.IndexOfPopulation(label); err == nil {
			return nil, errs.Parsing("duplicate population label %q", label)
		}
		pops.AddPopulation(label)
	}
	if doc.SequenceLabels != nil {
		if len(doc.SequenceLabels) != pops.Len() {
			return nil, errs.Parsing("%d sequence label rows for %d populations", len(doc.SequenceLabels), pops.Len())
		}
		for i, row := range doc.SequenceLabels {
			for _, label := range row {
				if err := pops.Assign(label, i); err != nil {
					return nil, err
				}
			}
		}
	}

	b := biallelic.NewBuilder(path, encoder.NewEncoding(doc.MarkersAreDominant, doc.GenotypesAreDiploid), pops)
	b.SetFolded(doc.PatternsAreFolded)
	b.SetSitesRemoved(doc.ConstantSitesRemoved, doc.MissingSitesRemoved)
	for i := range n {
		alleles, red := doc.AlleleCountPatterns[i], doc.DerivedAlleleCountPatterns[i]
		if len(alleles) != pops.Len() || len(red) != pops.Len() {
			return nil, errs.Parsing("pattern %d has %d allele counts and %d derived allele counts for %d populations",
				i, len(alleles), len(red), pops.Len())
		}
		if _, err := b.AddPattern(alleles, red, doc.PatternWeights[i]); err != nil {
			return nil, err
		}
	}

	d := b.Build()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
