package alignment

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phyletica/coevolity-sub001/internal/errs"
)

func TestNewStandard(t *testing.T) {
	t.Parallel()

	m, err := NewStandard([]Sequence{
		{Label: "pop1_a", Data: "01?2"},
		{Label: "pop1_b", Data: "1-{01}0"},
		{Label: "pop2_c", Data: "00(12)1"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, m.NumTaxa())
	assert.Equal(t, 4, m.NumSites())
	assert.Equal(t, "pop1 a", m.Label(0))
	assert.Equal(t, "pop2 c", m.Label(2))
	assert.Equal(t, 2, m.HighestState())
	assert.Equal(t, 1, m.NumDatatypes())

	assert.Equal(t, 0, m.State(0, 0))
	assert.Equal(t, 1, m.NumStates(0, 0))
	assert.Equal(t, Missing, m.State(0, 2))
	assert.Equal(t, 0, m.NumStates(0, 2))
	assert.Equal(t, Missing, m.State(1, 1))

	// Polymorphic cells report their lowest state and the group size.
	assert.Equal(t, 0, m.State(1, 2))
	assert.Equal(t, 2, m.NumStates(1, 2))
	assert.Equal(t, 1, m.State(2, 2))
	assert.Equal(t, 2, m.NumStates(2, 2))
}

func TestNewStandardKeepUnderscores(t *testing.T) {
	t.Parallel()

	m, err := NewStandard([]Sequence{{Label: "pop1_a", Data: "01"}}, &Options{KeepUnderscores: true})
	require.NoError(t, err)
	assert.Equal(t, "pop1_a", m.Label(0))
}

func TestNewStandardHighestState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		symbols string
		rows    []string
		want    int
	}{
		{"inferred haploid", "", []string{"0101", "1100"}, 1},
		{"inferred diploid", "", []string{"0102", "1100"}, 2},
		{"declared wider than data", "012", []string{"0101", "1100"}, 2},
		{"declared haploid", "01", []string{"0101", "1100"}, 1},
		{"all missing", "", []string{"??", "--"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			seqs := make([]Sequence, len(tt.rows))
			for i, row := range tt.rows {
				seqs[i] = Sequence{Label: string(rune('a' + i)), Data: row}
			}
			m, err := NewStandard(seqs, &Options{Symbols: tt.symbols})
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.HighestState())
		})
	}
}

func TestNewStandardErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		seqs    []Sequence
		symbols string
		msg     string
	}{
		{"no taxa", nil, "", "no taxa"},
		{"unequal rows", []Sequence{{"a", "010"}, {"b", "01"}}, "", "expected 3"},
		{"duplicate label", []Sequence{{"a_1", "01"}, {"a 1", "10"}}, "", "duplicate taxon"},
		{"empty label", []Sequence{{"_", "01"}}, "", "empty taxon label"},
		{"unknown character", []Sequence{{"a", "0X1"}}, "", "unrecognized character"},
		{"undeclared state", []Sequence{{"a", "012"}}, "01", "not a declared symbol"},
		{"bad symbols", []Sequence{{"a", "01"}}, "0a", "invalid state symbol"},
		{"unterminated group", []Sequence{{"a", "0{01"}}, "", "unterminated"},
		{"empty group", []Sequence{{"a", "0{}1"}}, "", "empty polymorphism"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewStandard(tt.seqs, &Options{Symbols: tt.symbols})
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrParsing)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestNewStandardErrorLocation(t *testing.T) {
	t.Parallel()

	_, err := NewStandard([]Sequence{{"a", "01"}, {"b", "0Z"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `taxon "b": site 2`)
}

func TestParseFasta(t *testing.T) {
	t.Parallel()

	input := ">pop1_a\n0101\n>pop1_b\n0011\n>pop2_c\n1102\n"
	seqs, err := Parse(strings.NewReader(input), FormatFasta)
	require.NoError(t, err)
	require.Len(t, seqs, 3)
	assert.Equal(t, "pop1_a", seqs[0].Label)
	assert.Equal(t, "0101", seqs[0].Data)
	assert.Equal(t, "1102", seqs[2].Data)

	m, err := NewStandard(seqs, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, m.NumSites())
	assert.Equal(t, 2, m.HighestState())
}

func TestParsePhylip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []Sequence
	}{
		{
			name:  "digits only",
			input: "2 4\npop1_a 0101\npop2_b 0011\n",
			want:  []Sequence{{"pop1_a", "0101"}, {"pop2_b", "0011"}},
		},
		{
			name:  "missing cells",
			input: "3 4\npop1_a 01?1\npop1_b 0-11\npop2_c 1100\n",
			want:  []Sequence{{"pop1_a", "01?1"}, {"pop1_b", "0-11"}, {"pop2_c", "1100"}},
		},
		{
			name:  "interleaved with spaces",
			input: "  2 6\n\npop1_a 01 0\npop2_b 001\n\n122\n2 10\n",
			want:  []Sequence{{"pop1_a", "010122"}, {"pop2_b", "001210"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(strings.NewReader(tt.input), FormatPhylip)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCountCells(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 4, countCells([]byte("01?1")))
	assert.Equal(t, 3, countCells([]byte("0{01}1")))
	assert.Equal(t, 3, countCells([]byte("(01)-1")))
	assert.Equal(t, 0, countCells(nil))
}

func TestParsePhylipErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "header"},
		{"one count", "2\n", "header"},
		{"bad taxon count", "x 4\na 0101\n", "taxon count"},
		{"bad site count", "1 -4\na 0101\n", "site count"},
		{"too few taxa", "3 4\na 0101\nb 0011\n", "found 2"},
		{"short row", "2 4\na 0101\nb 001\n", `taxon "b" has 3 sites`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(strings.NewReader(tt.input), FormatPhylip)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrParsing)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteFastaRoundTrip(t *testing.T) {
	t.Parallel()

	seqs := []Sequence{{"pop1_a", "0101"}, {"pop2_b", "1100"}}
	var buf bytes.Buffer
	require.NoError(t, WriteFasta(&buf, seqs))
	assert.Equal(t, ">pop1_a\n0101\n>pop2_b\n1100\n", buf.String())

	got, err := Parse(&buf, FormatFasta)
	require.NoError(t, err)
	assert.Equal(t, seqs, got)
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"aln.fasta", FormatFasta, true},
		{"aln.FA.gz", FormatFasta, true},
		{"dir/aln.phy", FormatPhylip, true},
		{"aln.phylip.gz", FormatPhylip, true},
		{"aln.nex", 0, false},
	}

	for _, tt := range tests {
		got, err := FormatFromPath(tt.path)
		if !tt.ok {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	f, err := ParseFormat("PHYLIP")
	require.NoError(t, err)
	assert.Equal(t, FormatPhylip, f)
	_, err = ParseFormat("nexus")
	assert.Error(t, err)
}
