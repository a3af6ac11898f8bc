package alignment

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evolbioinfo/goalign/align"
	"github.com/evolbioinfo/goalign/io/fasta"

	"github.com/phyletica/coevolity-sub001/internal/errs"
)

// Format is an alignment file format.
type Format uint8

// Supported alignment formats.
const (
	FormatFasta Format = iota
	FormatPhylip
)

func (f Format) String() string {
	switch f {
	case FormatFasta:
		return "fasta"
	case FormatPhylip:
		return "phylip"
	default:
		return "unknown"
	}
}

// ParseFormat maps a format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "fasta", "fa", "fas":
		return FormatFasta, nil
	case "phylip", "phy":
		return FormatPhylip, nil
	default:
		return 0, fmt.Errorf("unknown alignment format %q", name)
	}
}

// FormatFromPath guesses the format from a file extension, ignoring a
// trailing ".gz".
func FormatFromPath(path string) (Format, error) {
	path = strings.TrimSuffix(strings.ToLower(path), ".gz")
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "fasta" || ext == "fa" || ext == "fas" {
		return FormatFasta, nil
	}
	if ext == "phylip" || ext == "phy" {
		return FormatPhylip, nil
	}
	return 0, fmt.Errorf("cannot infer alignment format from %q", path)
}

// Parse reads every sequence of an aligned FASTA or PHYLIP file.
func Parse(r io.Reader, f Format) ([]Sequence, error) {
	var (
		aln align.Alignment
		err error
	)
	switch f {
	case FormatFasta:
		aln, err = fasta.NewParser(r).Parse()
	case FormatPhylip:
		body, perr := phylipToFasta(r)
		if perr != nil {
			return nil, perr
		}
		aln, err = fasta.NewParser(body).Parse()
	default:
		return nil, errs.Parsing("unsupported alignment format %d", f)
	}
	if err != nil {
		return nil, errs.Parsing("reading %s alignment: %v", f, err)
	}
	if aln == nil {
		return nil, errs.Parsing("no %s alignment found", f)
	}

	seqs := make([]Sequence, 0, aln.NbSequences())
	for _, seq := range aln.Sequences() {
		seqs = append(seqs, Sequence{Label: seq.Name(), Data: seq.Sequence()})
	}
	return seqs, nil
}

// phylipToFasta rewrites a relaxed PHYLIP alignment, sequential or
// interleaved, as FASTA. goalign's PHYLIP scanner reads a row made only of
// digits as a number, so the body is split here and the rows go through the
// FASTA parser instead.
func phylipToFasta(r io.Reader) (io.Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<28)

	var header []string
	for len(header) == 0 && sc.Scan() {
		header = strings.Fields(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errs.Parsing("reading phylip header: %v", err)
	}
	if len(header) < 2 {
		return nil, errs.Parsing("phylip header must give the taxon and site counts")
	}
	numTaxa, err := strconv.Atoi(header[0])
	if err != nil || numTaxa <= 0 {
		return nil, errs.Parsing("bad phylip taxon count %q", header[0])
	}
	numSites, err := strconv.Atoi(header[1])
	if err != nil || numSites < 0 {
		return nil, errs.Parsing("bad phylip site count %q", header[1])
	}

	labels := make([]string, 0, numTaxa)
	rows := make([][]byte, numTaxa)
	row := 0
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		// The first block starts every row with its label.
		if len(labels) < numTaxa {
			labels = append(labels, fields[0])
			fields = fields[1:]
		}
		for _, f := range fields {
			rows[row] = append(rows[row], f...)
		}
		row = (row + 1) % numTaxa
	}
	if err := sc.Err(); err != nil {
		return nil, errs.Parsing("reading phylip alignment: %v", err)
	}
	if len(labels) != numTaxa {
		return nil, errs.Parsing("phylip header lists %d taxa, found %d", numTaxa, len(labels))
	}

	var buf bytes.Buffer
	for i, label := range labels {
		if n := countCells(rows[i]); n != numSites {
			return nil, errs.Parsing("taxon %q has %d sites, phylip header lists %d", label, n, numSites)
		}
		buf.WriteByte('>')
		buf.WriteString(label)
		buf.WriteByte('\n')
		buf.Write(rows[i])
		buf.WriteByte('\n')
	}
	return &buf, nil
}

// countCells counts columns, taking a {..} or (..) group as one.
func countCells(row []byte) int {
	n := 0
	for i := 0; i < len(row); i++ {
		n++
		var closer byte
		switch row[i] {
		case '{':
			closer = '}'
		case '(':
			closer = ')'
		default:
			continue
		}
		for i < len(row) && row[i] != closer {
			i++
		}
	}
	return n
}

// WriteFasta writes seqs as an unwrapped FASTA file.
func WriteFasta(w io.Writer, seqs []Sequence) error {
	bw := bufio.NewWriter(w)
	for _, seq := range seqs {
		bw.WriteByte('>')
		bw.WriteString(seq.Label)
		bw.WriteByte('\n')
		bw.WriteString(seq.Data)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
