// alnshuffle permutes the site columns of an alignment to build test inputs.
//
// Every column is kept intact, so the biallelic pattern table of the output
// holds the same patterns and weights as the input's. Only the order in
// which patterns are first seen changes.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/klauspost/pgzip"

	"github.com/phyletica/coevolity-sub001/internal/alignment"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		inputFile  = flag.String("i", "", "input FASTA or PHYLIP alignment (supports .gz)")
		outputFile = flag.String("o", "", "output FASTA file (default: stdout)")
		format     = flag.String("format", "", "input format: fasta or phylip (default: from extension, fasta on stdin)")
		seed       = flag.Uint64("seed", 42, "random seed for reproducibility")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `alnshuffle - Shuffle alignment columns

Permutes whole site columns, keeping each column's states together, so the
pattern table of the output matches the input.

Usage:
  alnshuffle -i aln.fasta.gz -o shuffled.fasta
  cat aln.fasta | alnshuffle -seed 7 > shuffled.fasta

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	// Handle positional argument
	if *inputFile == "" && flag.NArg() > 0 {
		*inputFile = flag.Arg(0)
	}

	f := alignment.FormatFasta
	var err error
	switch {
	case *format != "":
		f, err = alignment.ParseFormat(*format)
	case *inputFile != "" && *inputFile != "-":
		f, err = alignment.FormatFromPath(*inputFile)
	}
	if err != nil {
		return err
	}

	reader, cleanup, err := openInput(*inputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	writer, cleanup, err := openOutput(*outputFile)
	if err != nil {
		return err
	}
	defer cleanup()

	seqs, err := alignment.Parse(reader, f)
	if err != nil {
		return err
	}

	//nolint:gosec // intentionally using math/rand for reproducibility, not security
	rng := rand.New(rand.NewPCG(*seed, *seed))

	shuffled, err := shuffleColumns(seqs, rng)
	if err != nil {
		return err
	}
	return alignment.WriteFasta(writer, shuffled)
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}

	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gz, func() { _ = gz.Close(); _ = f.Close() }, nil
	}

	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		bw := bufio.NewWriter(os.Stdout)
		return bw, func() { _ = bw.Flush() }, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("creating output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// shuffleColumns returns copies of seqs with the same column permutation
// applied to every row. Columns are single bytes, so rows with {..}
// polymorphism groups are rejected unless every row has the same length.
func shuffleColumns(seqs []alignment.Sequence, rng *rand.Rand) ([]alignment.Sequence, error) {
	if len(seqs) == 0 {
		return nil, nil
	}
	numSites := len(seqs[0].Data)
	for _, seq := range seqs[1:] {
		if len(seq.Data) != numSites {
			return nil, fmt.Errorf("sequence %q has %d sites, expected %d", seq.Label, len(seq.Data), numSites)
		}
	}

	perm := rng.Perm(numSites)
	out := make([]alignment.Sequence, len(seqs))
	buf := make([]byte, numSites)
	for i, seq := range seqs {
		for j, src := range perm {
			buf[j] = seq.Data[src]
		}
		out[i] = alignment.Sequence{Label: seq.Label, Data: string(buf)}
	}
	return out, nil
}
