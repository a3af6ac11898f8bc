// Package population assigns taxa to populations by their labels.
package population

import (
	"slices"
	"strings"

	"github.com/phyletica/coevolity-sub001/internal/errs"
)

// Population is a group of sampled sequences.
type Population struct {
	Index          int
	Label          string
	SequenceLabels []string // first-encountered order
}

// LabelOf extracts the population label from a sequence label. The label is
// split on delimiter, empty tokens are dropped, and the first token (prefix)
// or the last one is returned. An underscore delimiter splits on spaces
// instead, since unquoted labels already had underscores turned into spaces.
func LabelOf(seqLabel string, delimiter rune, isPrefix bool) (string, error) {
	if delimiter == '_' {
		delimiter = ' '
	}
	tokens := strings.FieldsFunc(seqLabel, func(r rune) bool { return r == delimiter })
	if len(tokens) == 0 {
		return "", errs.Parsing("cannot get population label from %q", seqLabel)
	}
	if isPrefix {
		return tokens[0], nil
	}
	return tokens[len(tokens)-1], nil
}

// Index maps sequence labels to populations. Populations are numbered in
// the order they are first seen.
type Index struct {
	delimiter rune
	isPrefix  bool

	pops    []Population
	byLabel map[string]int
	bySeq   map[string]int
}

// NewIndex returns an empty Index that splits labels on delimiter.
func NewIndex(delimiter rune, isPrefix bool) *Index {
	return &Index{
		delimiter: delimiter,
		isPrefix:  isPrefix,
		byLabel:   make(map[string]int),
		bySeq:     make(map[string]int),
	}
}

// Add assigns seqLabel to its population, creating the population on first
// encounter, and returns the population index.
func (x *Index) Add(seqLabel string) (int, error) {
	if _, dup := x.bySeq[seqLabel]; dup {
		return 0, errs.Parsing("duplicate sequence label %q", seqLabel)
	}
	label, err := LabelOf(seqLabel, x.delimiter, x.isPrefix)
	if err != nil {
		return 0, err
	}
	idx := x.AddPopulation(label)
	x.pops[idx].SequenceLabels = append(x.pops[idx].SequenceLabels, seqLabel)
	x.bySeq[seqLabel] = idx
	return idx, nil
}

// Assign puts seqLabel in population pop without parsing the label, as when
// a stored table is restored.
func (x *Index) Assign(seqLabel string, pop int) error {
	if pop < 0 || pop >= len(x.pops) {
		return errs.OutOfRange("population index %d, have %d", pop, len(x.pops))
	}
	if _, dup := x.bySeq[seqLabel]; dup {
		return errs.Parsing("duplicate sequence label %q", seqLabel)
	}
	x.pops[pop].SequenceLabels = append(x.pops[pop].SequenceLabels, seqLabel)
	x.bySeq[seqLabel] = pop
	return nil
}

// AddPopulation returns the index of the population called label, creating
// it (with no sequences) if needed.
func (x *Index) AddPopulation(label string) int {
	if idx, ok := x.byLabel[label]; ok {
		return idx
	}
	idx := len(x.pops)
	x.pops = append(x.pops, Population{Index: idx, Label: label})
	x.byLabel[label] = idx
	return idx
}

// Len returns the number of populations.
func (x *Index) Len() int {
	return len(x.pops)
}

// IndexOf returns the population index of a sequence label.
func (x *Index) IndexOf(seqLabel string) (int, error) {
	idx, ok := x.bySeq[seqLabel]
	if !ok {
		return 0, errs.OutOfRange("unknown sequence label %q", seqLabel)
	}
	return idx, nil
}

// IndexOfPopulation returns the index of a population label.
func (x *Index) IndexOfPopulation(label string) (int, error) {
	idx, ok := x.byLabel[label]
	if !ok {
		return 0, errs.OutOfRange("unknown population label %q", label)
	}
	return idx, nil
}

// Label returns the label of population i.
func (x *Index) Label(i int) (string, error) {
	if i < 0 || i >= len(x.pops) {
		return "", errs.OutOfRange("population index %d, have %d", i, len(x.pops))
	}
	return x.pops[i].Label, nil
}

// SequenceLabels returns a copy of the sequence labels of population i.
func (x *Index) SequenceLabels(i int) ([]string, error) {
	if i < 0 || i >= len(x.pops) {
		return nil, errs.OutOfRange("population index %d, have %d", i, len(x.pops))
	}
	return slices.Clone(x.pops[i].SequenceLabels), nil
}

// Labels returns the population labels in index order.
func (x *Index) Labels() []string {
	labels := make([]string, len(x.pops))
	for i, p := range x.pops {
		labels[i] = p.Label
	}
	return labels
}

// Populations returns a deep copy of the populations.
func (x *Index) Populations() []Population {
	out := make([]Population, len(x.pops))
	for i, p := range x.pops {
		p.SequenceLabels = slices.Clone(p.SequenceLabels)
		out[i] = p
	}
	return out
}
