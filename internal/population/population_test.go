package population

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phyletica/coevolity-sub001/internal/errs"
)

func TestLabelOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		seqLabel  string
		delimiter rune
		isPrefix  bool
		want      string
	}{
		{"space prefix", "pop1 a", ' ', true, "pop1"},
		{"space suffix", "a pop1", ' ', false, "pop1"},
		{"underscore splits on space", "pop1 sample 3", '_', true, "pop1"},
		{"underscore suffix", "sample 3 popX", '_', false, "popX"},
		{"literal underscores are not split", "pop1_a", '_', true, "pop1_a"},
		{"dash", "east-12-b", '-', false, "b"},
		{"repeated delimiters", "--east--b", '-', true, "east"},
		{"no delimiter", "lonely", ' ', true, "lonely"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := LabelOf(tt.seqLabel, tt.delimiter, tt.isPrefix)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLabelOfNoTokens(t *testing.T) {
	t.Parallel()

	for _, label := range []string{"", "   ", "---"} {
		delim := ' '
		if label == "---" {
			delim = '-'
		}
		_, err := LabelOf(label, delim, true)
		assert.ErrorIs(t, err, errs.ErrParsing, "%q", label)
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()

	x := NewIndex('_', true)
	for _, label := range []string{"pop1 a", "pop2 a", "pop1 b", "pop1 c", "pop2 b"} {
		_, err := x.Add(label)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, x.Len())
	assert.Equal(t, []string{"pop1", "pop2"}, x.Labels())

	idx, err := x.IndexOf("pop1 c")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	idx, err = x.IndexOf("pop2 b")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	label, err := x.Label(1)
	require.NoError(t, err)
	assert.Equal(t, "pop2", label)

	seqs, err := x.SequenceLabels(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"pop1 a", "pop1 b", "pop1 c"}, seqs)

	// Returned slices are copies.
	seqs[0] = "changed"
	again, err := x.SequenceLabels(0)
	require.NoError(t, err)
	assert.Equal(t, "pop1 a", again[0])

	pops := x.Populations()
	require.Len(t, pops, 2)
	assert.Equal(t, Population{Index: 1, Label: "pop2", SequenceLabels: []string{"pop2 a", "pop2 b"}}, pops[1])
}

func TestIndexErrors(t *testing.T) {
	t.Parallel()

	x := NewIndex(' ', true)
	_, err := x.Add("pop1 a")
	require.NoError(t, err)

	_, err = x.Add("pop1 a")
	assert.ErrorIs(t, err, errs.ErrParsing)

	_, err = x.Add("  ")
	assert.ErrorIs(t, err, errs.ErrParsing)

	_, err = x.IndexOf("pop9 z")
	assert.ErrorIs(t, err, errs.ErrOutOfRange)
	_, err = x.IndexOfPopulation("pop9")
	assert.ErrorIs(t, err, errs.ErrOutOfRange)
	_, err = x.Label(1)
	assert.ErrorIs(t, err, errs.ErrOutOfRange)
	_, err = x.Label(-1)
	assert.ErrorIs(t, err, errs.ErrOutOfRange)
	_, err = x.SequenceLabels(3)
	assert.ErrorIs(t, err, errs.ErrOutOfRange)

	assert.Equal(t, 1, x.Len())
}

func TestAddPopulation(t *testing.T) {
	t.Parallel()

	x := NewIndex(' ', true)
	assert.Equal(t, 0, x.AddPopulation("east"))
	assert.Equal(t, 1, x.AddPopulation("west"))
	assert.Equal(t, 0, x.AddPopulation("east"))

	idx, err := x.IndexOfPopulation("west")
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	seqs, err := x.SequenceLabels(1)
	require.NoError(t, err)
	assert.Empty(t, seqs)
}

func TestAssign(t *testing.T) {
	t.Parallel()

	x := NewIndex(' ', true)
	east := x.AddPopulation("east")
	require.NoError(t, x.Assign("sample 1", east))
	require.NoError(t, x.Assign("sample 2", east))

	idx, err := x.IndexOf("sample 2")
	require.NoError(t, err)
	assert.Equal(t, east, idx)

	assert.ErrorIs(t, x.Assign("sample 1", east), errs.ErrParsing)
	assert.ErrorIs(t, x.Assign("sample 3", 4), errs.ErrOutOfRange)
}
