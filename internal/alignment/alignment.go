// Package alignment provides the discrete character matrix consumed by the
// pattern compressor.
package alignment

import (
	"strings"

	"github.com/phyletica/coevolity-sub001/internal/errs"
)

// Missing is the state code of missing or gap cells.
const Missing = -1

// Matrix is a taxon by site matrix of discrete state codes, as produced by
// an alignment parser.
type Matrix interface {
	NumTaxa() int
	NumSites() int
	Label(taxon int) string
	// State returns the state code of a cell, or Missing.
	State(taxon, site int) int
	// NumStates returns how many states a cell could be. Values above one
	// mean the cell is ambiguous or polymorphic.
	NumStates(taxon, site int) int
	// HighestState returns the highest state code the datatype allows.
	HighestState() int
	// NumDatatypes returns the number of character encodings in the source.
	NumDatatypes() int
}

// Sequence is one labelled row of an alignment.
type Sequence struct {
	Label string
	Data  string
}

// Options configures how rows are turned into a Standard matrix.
type Options struct {
	// Symbols lists the declared state symbols, e.g. "01" or "012". When
	// empty the highest state is the highest digit observed in the data.
	Symbols string
	// KeepUnderscores disables replacing '_' with ' ' in labels. Unquoted
	// NEXUS labels get that replacement, and population splitting relies on it.
	KeepUnderscores bool
}

type cell struct {
	state int8
	n     uint8
}

// Standard is an in-memory matrix of the "standard" datatype: states 0-9,
// '?' and '-' for missing data, and {..} or (..) groups for polymorphic cells.
type Standard struct {
	labels  []string
	cells   [][]cell
	highest int
}

var _ Matrix = (*Standard)(nil)

// NewStandard builds a Standard matrix from labelled rows.
func NewStandard(seqs []Sequence, opts *Options) (*Standard, error) {
	if opts == nil {
		opts = &Options{}
	}
	if len(seqs) == 0 {
		return nil, errs.Parsing("alignment has no taxa")
	}

	declared, declaredHighest, err := parseSymbols(opts.Symbols)
	if err != nil {
		return nil, err
	}

	m := &Standard{
		labels: make([]string, 0, len(seqs)),
		cells:  make([][]cell, 0, len(seqs)),
	}
	seen := make(map[string]struct{}, len(seqs))
	observedHighest := 0

	for _, seq := range seqs {
		label := seq.Label
		if !opts.KeepUnderscores {
			label = strings.ReplaceAll(label, "_", " ")
		}
		if strings.TrimSpace(label) == "" {
			return nil, errs.Parsing("empty taxon label")
		}
		if _, dup := seen[label]; dup {
			return nil, errs.Parsing("duplicate taxon label %q", label)
		}
		seen[label] = struct{}{}

		row, rowHighest, err := tokenizeRow(seq.Data, declared)
		if err != nil {
			return nil, err.At(label, err.Site)
		}
		if len(m.cells) > 0 && len(row) != len(m.cells[0]) {
			return nil, errs.Parsing("row has %d sites, expected %d", len(row), len(m.cells[0])).At(label, -1)
		}
		observedHighest = max(observedHighest, rowHighest)

		m.labels = append(m.labels, label)
		m.cells = append(m.cells, row)
	}

	m.highest = observedHighest
	if declared != nil {
		m.highest = declaredHighest
	}
	return m, nil
}

// parseSymbols returns the declared symbol set, or nil if none is declared.
func parseSymbols(symbols string) (map[byte]bool, int, error) {
	if symbols == "" {
		return nil, 0, nil
	}
	declared := make(map[byte]bool, len(symbols))
	highest := 0
	for i := 0; i < len(symbols); i++ {
		c := symbols[i]
		if c == ' ' {
			continue
		}
		if c < '0' || c > '9' {
			return nil, 0, errs.Parsing("invalid state symbol %q", c)
		}
		declared[c] = true
		highest = max(highest, int(c-'0'))
	}
	return declared, highest, nil
}

func tokenizeRow(data string, declared map[byte]bool) ([]cell, int, *errs.Error) {
	row := make([]cell, 0, len(data))
	highest := 0

	digit := func(c byte) (int, *errs.Error) {
		if c < '0' || c > '9' {
			return 0, errs.Parsing("unrecognized character %q", c).At("", len(row))
		}
		if declared != nil && !declared[c] {
			return 0, errs.Parsing("state %q is not a declared symbol", c).At("", len(row))
		}
		return int(c - '0'), nil
	}

	for i := 0; i < len(data); i++ {
		c := data[i]
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '?', '-':
			row = append(row, cell{state: Missing})
		case '{', '(':
			closer := byte('}')
			if c == '(' {
				closer = ')'
			}
			end := strings.IndexByte(data[i+1:], closer)
			if end < 0 {
				return nil, 0, errs.Parsing("unterminated polymorphism group").At("", len(row))
			}
			var states [10]bool
			n, lowest := 0, 10
			for _, g := range []byte(data[i+1 : i+1+end]) {
				if g == ' ' || g == ',' {
					continue
				}
				s, err := digit(g)
				if err != nil {
					return nil, 0, err
				}
				if !states[s] {
					states[s] = true
					n++
				}
				lowest = min(lowest, s)
				highest = max(highest, s)
			}
			if n == 0 {
				return nil, 0, errs.Parsing("empty polymorphism group").At("", len(row))
			}
			row = append(row, cell{state: int8(lowest), n: uint8(n)}) //nolint:gosec // bounded by 10
			i += end + 1
		default:
			s, err := digit(c)
			if err != nil {
				return nil, 0, err
			}
			highest = max(highest, s)
			row = append(row, cell{state: int8(s), n: 1}) //nolint:gosec // single digit
		}
	}
	return row, highest, nil
}

// NumTaxa returns the number of rows.
func (m *Standard) NumTaxa() int { return len(m.labels) }

// NumSites returns the number of columns.
func (m *Standard) NumSites() int {
	if len(m.cells) == 0 {
		return 0
	}
	return len(m.cells[0])
}

// Label returns the (normalized) label of a taxon.
func (m *Standard) Label(taxon int) string { return m.labels[taxon] }

// State returns the state code of a cell, or Missing.
func (m *Standard) State(taxon, site int) int { return int(m.cells[taxon][site].state) }

// NumStates returns 0 for missing cells, 1 for plain states and the group
// size for polymorphic cells.
func (m *Standard) NumStates(taxon, site int) int { return int(m.cells[taxon][site].n) }

// HighestState returns the highest declared or observed state code.
func (m *Standard) HighestState() int { return m.highest }

// NumDatatypes is always 1 for a Standard matrix.
func (m *Standard) NumDatatypes() int { return 1 }
