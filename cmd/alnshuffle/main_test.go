package main

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phyletica/coevolity-sub001/internal/alignment"
	"github.com/phyletica/coevolity-sub001/internal/biallelic"
	"github.com/phyletica/coevolity-sub001/internal/compress"
)

var seqs = []alignment.Sequence{
	{Label: "pop1_a", Data: "0120120011"},
	{Label: "pop1_b", Data: "0110?21010"},
	{Label: "pop2_c", Data: "0000112200"},
	{Label: "pop2_d", Data: "1210-02101"},
}

type weighted struct {
	key    string
	weight uint32
}

func patternSet(t *testing.T, rows []alignment.Sequence) []weighted {
	t.Helper()

	m, err := alignment.NewStandard(rows, nil)
	require.NoError(t, err)
	d, err := compress.Compress(m, "", compress.DefaultOptions())
	require.NoError(t, err)
	return sortedPatterns(t, d)
}

func sortedPatterns(t *testing.T, d *biallelic.Data) []weighted {
	t.Helper()

	out := make([]weighted, d.NumPatterns())
	for i := range out {
		alleles, err := d.AlleleCounts(i)
		require.NoError(t, err)
		red, err := d.RedAlleleCounts(i)
		require.NoError(t, err)
		w, err := d.PatternWeight(i)
		require.NoError(t, err)
		out[i] = weighted{key: fmtCounts(alleles) + "/" + fmtCounts(red), weight: w}
	}
	slices.SortFunc(out, func(a, b weighted) int {
		if a.key < b.key {
			return -1
		}
		if a.key > b.key {
			return 1
		}
		return 0
	})
	return out
}

func fmtCounts(c []uint32) string {
	b := make([]byte, 0, len(c)*3)
	for _, v := range c {
		b = append(b, byte('0'+v), ',')
	}
	return string(b)
}

func TestShuffleColumnsKeepsPatterns(t *testing.T) {
	t.Parallel()

	for _, seed := range []uint64{1, 2, 42} {
		rng := rand.New(rand.NewPCG(seed, seed)) //nolint:gosec // test
		shuffled, err := shuffleColumns(seqs, rng)
		require.NoError(t, err)
		require.Len(t, shuffled, len(seqs))
		for i := range seqs {
			assert.Equal(t, seqs[i].Label, shuffled[i].Label)
			assert.Len(t, shuffled[i].Data, len(seqs[i].Data))
		}
		assert.Equal(t, patternSet(t, seqs), patternSet(t, shuffled), "seed %d", seed)
	}
}

func TestShuffleColumnsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := shuffleColumns(seqs, rand.New(rand.NewPCG(7, 7))) //nolint:gosec // test
	require.NoError(t, err)
	b, err := shuffleColumns(seqs, rand.New(rand.NewPCG(7, 7))) //nolint:gosec // test
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestShuffleColumnsRaggedRows(t *testing.T) {
	t.Parallel()

	_, err := shuffleColumns([]alignment.Sequence{{Label: "a", Data: "011"}, {Label: "b", Data: "01"}}, rand.New(rand.NewPCG(1, 1))) //nolint:gosec // test
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"b"`)
}

func TestShuffleColumnsEmpty(t *testing.T) {
	t.Parallel()

	out, err := shuffleColumns(nil, rand.New(rand.NewPCG(1, 1))) //nolint:gosec // test
	require.NoError(t, err)
	assert.Empty(t, out)
}
