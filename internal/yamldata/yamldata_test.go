package yamldata

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phyletica/coevolity-sub001/internal/biallelic"
	"github.com/phyletica/coevolity-sub001/internal/encoder"
	"github.com/phyletica/coevolity-sub001/internal/errs"
	"github.com/phyletica/coevolity-sub001/internal/population"
)

const table = `markers_are_dominant: false
genotypes_are_diploid: true
population_labels: [pop1, pop2]
allele_count_patterns:
    - [6, 4]
    - [6, 4]
    - [6, 2]
derived_allele_count_patterns:
    - [0, 1]
    - [3, 4]
    - [1, 0]
pattern_weights: [2, 1, 1]
`

func TestRead(t *testing.T) {
	t.Parallel()

	d, err := Read(strings.NewReader(table), "table.yml")
	require.NoError(t, err)

	assert.Equal(t, "table.yml", d.Path())
	assert.Equal(t, []string{"pop1", "pop2"}, d.PopulationLabels())
	assert.Equal(t, 3, d.NumPatterns())
	assert.Equal(t, []uint32{2, 1, 1}, d.PatternWeights())
	assert.True(t, d.GenotypesAreDiploid())
	assert.False(t, d.MarkersAreDominant())
	assert.Equal(t, []uint32{6, 4}, d.MaxAlleleCounts())

	red, err := d.RedAlleleCounts(1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 4}, red)
}

func TestWriteRoundTrip(t *testing.T) {
	t.Parallel()

	d, err := Read(strings.NewReader(table), "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, d))
	assert.Equal(t, table, buf.String())
}

func TestWriteReadKeepsProvenance(t *testing.T) {
	t.Parallel()

	pops := population.NewIndex(' ', true)
	for _, label := range []string{"pop1 a", "pop1 b", "pop2 c"} {
		_, err := pops.Add(label)
		require.NoError(t, err)
	}
	b := biallelic.NewBuilder("aln.fasta", encoder.DiploidCodominant, pops)
	_, err := b.AddPattern([]uint32{4, 2}, []uint32{1, 0}, 3)
	require.NoError(t, err)
	_, err = b.AddPattern([]uint32{4, 2}, []uint32{3, 2}, 1)
	require.NoError(t, err)
	b.SetSitesRemoved(5, 2)
	want := b.Build()
	merged, err := want.FoldPatterns(true)
	require.NoError(t, err)
	require.Equal(t, 1, merged)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, want))
	out := buf.String()
	assert.Contains(t, out, "patterns_are_folded: true\n")
	assert.Contains(t, out, "constant_sites_removed: 5\n")
	assert.Contains(t, out, "missing_sites_removed: 2\n")
	assert.Contains(t, out, "sequence_labels: [[pop1 a, pop1 b], [pop2 c]]\n")

	got, err := Read(&buf, "t.yml")
	require.NoError(t, err)
	assert.True(t, got.PatternsAreFolded())
	assert.Equal(t, uint64(5), got.ConstantSitesRemoved())
	assert.Equal(t, uint64(2), got.MissingSitesRemoved())
	assert.Equal(t, want.Populations(), got.Populations())
	assert.Equal(t, []uint32{4}, got.PatternWeights())
}

func TestReadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		edit func(string) string
		kind error
	}{
		{"unknown key", func(s string) string { return s + "extra: 1\n" }, errs.ErrParsing},
		{"weights too short", func(s string) string {
			return strings.Replace(s, "pattern_weights: [2, 1, 1]", "pattern_weights: [2, 1]", 1)
		}, errs.ErrParsing},
		{"row too long", func(s string) string { return strings.Replace(s, "- [6, 2]", "- [6, 2, 1]", 1) }, errs.ErrParsing},
		{"duplicate population", func(s string) string { return strings.Replace(s, "[pop1, pop2]", "[pop1, pop1]", 1) }, errs.ErrParsing},
		{"no populations", func(s string) string { return strings.Replace(s, "[pop1, pop2]", "[]", 1) }, errs.ErrParsing},
		{"red above alleles", func(s string) string { return strings.Replace(s, "- [1, 0]", "- [7, 0]", 1) }, errs.ErrData},
		{"zero weight", func(s string) string {
			return strings.Replace(s, "pattern_weights: [2, 1, 1]", "pattern_weights: [2, 0, 1]", 1)
		}, errs.ErrData},
		{"not yaml", func(string) string { return "population_labels: [" }, errs.ErrParsing},
		{"sequence rows", func(s string) string {
			return strings.Replace(s, "population_labels: [pop1, pop2]\n", "population_labels: [pop1, pop2]\nsequence_labels: [[a]]\n", 1)
		}, errs.ErrParsing},
		{"duplicate sequence", func(s string) string {
			return strings.Replace(s, "population_labels: [pop1, pop2]\n", "population_labels: [pop1, pop2]\nsequence_labels: [[a], [a]]\n", 1)
		}, errs.ErrParsing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Read(strings.NewReader(tt.edit(table)), "bad.yml")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			assert.Contains(t, err.Error(), "bad.yml")
		})
	}
}
