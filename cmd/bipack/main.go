// bipack compresses biallelic genotype alignments into weighted pattern
// tables, and converts tables between BPZ, YAML and a SQLite catalogue.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/klauspost/pgzip"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/phyletica/coevolity-sub001/internal/alignment"
	"github.com/phyletica/coevolity-sub001/internal/biallelic"
	"github.com/phyletica/coevolity-sub001/internal/compress"
	"github.com/phyletica/coevolity-sub001/internal/store"
	"github.com/phyletica/coevolity-sub001/internal/yamldata"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

type config struct {
	decode       bool
	inputFile    string
	outputFile   string
	settingsFile string
	format       string
	symbols      string
	datasetID    string
	list         bool
	summary      bool
	verbose      bool
	blockSize    int
	workers      int

	delimiter      string
	suffix         bool
	haploid        bool
	dominant       bool
	removeConstant bool
	removeMissing  bool
	fold           bool
	noValidate     bool

	// set holds the names of flags given on the command line.
	set map[string]bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, done, err := parseFlags(args, stderr)
	if err != nil {
		return exitError
	}
	if done {
		return exitSuccess
	}

	log := logrus.New()
	log.SetOutput(stderr)
	log.SetLevel(logrus.WarnLevel)
	if cfg.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	opts, err := options(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	opts.Logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := execute(ctx, cfg, opts, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	return exitSuccess
}

func parseFlags(args []string, stderr io.Writer) (config, bool, error) {
	cfg := config{set: make(map[string]bool)}
	var showVersion bool

	fs := flag.NewFlagSet("bipack", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.BoolVar(&cfg.decode, "d", false, "input is a BPZ table (default: guessed from the extension)")
	fs.StringVar(&cfg.inputFile, "i", "", "input alignment, .bpz, .yml or .db (default: stdin)")
	fs.StringVar(&cfg.outputFile, "o", "", "output .bpz, .yml or .db (default: YAML on stdout)")
	fs.StringVar(&cfg.settingsFile, "config", "", "YAML settings file")
	fs.StringVar(&cfg.format, "format", "", "alignment format: fasta or phylip (default: from extension)")
	fs.StringVar(&cfg.symbols, "symbols", "", "declared state symbols, e.g. 01 or 012")
	fs.StringVar(&cfg.datasetID, "id", "", "dataset id when the input is a .db catalogue")
	fs.BoolVar(&cfg.list, "list", false, "list the datasets of the .db input and exit")
	fs.BoolVar(&cfg.summary, "s", false, "print a summary of the table to stderr")
	fs.BoolVar(&cfg.verbose, "v", false, "debug logging")
	fs.IntVar(&cfg.blockSize, "b", compress.DefaultBlockSize, "sites per block")
	fs.IntVar(&cfg.workers, "w", 0, "encoding workers (default: NumCPU)")

	fs.StringVar(&cfg.delimiter, "delimiter", " ", "population name delimiter in sequence labels")
	fs.BoolVar(&cfg.suffix, "suffix", false, "population name is the last token of the label")
	fs.BoolVar(&cfg.haploid, "haploid", false, "genotypes are haploid")
	fs.BoolVar(&cfg.dominant, "dominant", false, "markers are dominant")
	fs.BoolVar(&cfg.removeConstant, "remove-constant", false, "remove constant patterns")
	fs.BoolVar(&cfg.removeMissing, "remove-missing", false, "remove patterns with a population lacking data")
	fs.BoolVar(&cfg.fold, "fold", false, "fold patterns")
	fs.BoolVar(&cfg.noValidate, "no-validate", false, "skip validation")

	fs.BoolVar(&showVersion, "version", false, "show version and exit")
	fs.Usage = func() { usage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cfg, true, nil
		}
		return cfg, false, err
	}
	fs.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })

	if showVersion {
		fmt.Fprintf(stderr, "bipack version %s\n", version)
		return cfg, true, nil
	}

	// Handle positional arguments
	rest := fs.Args()
	if len(rest) > 0 && cfg.inputFile == "" {
		cfg.inputFile = rest[0]
	}
	if len(rest) > 1 && cfg.outputFile == "" {
		cfg.outputFile = rest[1]
	}

	return cfg, false, nil
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `bipack - biallelic pattern compression

Usage:
  bipack [options] -i aln.fasta[.gz] [-o out.bpz|out.yml|out.db]   Compress an alignment
  bipack -d [-i table.bpz] [-o out.yml]                            Decode a BPZ table
  bipack -list -i catalogue.db                                     List stored tables
  bipack -i catalogue.db -id ID [-o out.yml]                       Load a stored table

Options:
`)
	fs.PrintDefaults()
	fmt.Fprintf(w, `
Examples:
  bipack -i aln.fasta -o aln.bpz -fold              Compress and fold
  bipack -i aln.phy.gz -remove-constant -s          Print YAML and a summary
  bipack -d -i aln.bpz -o aln.yml                   Decode to YAML
  bipack -config run.yml -i aln.fasta -o runs.db    Add to a catalogue
`)
}

// settings is the layout of the -config file. Absent keys keep the defaults.
type settings struct {
	PopulationNameDelimiter          *string `yaml:"population_name_delimiter"`
	PopulationNameIsPrefix           *bool   `yaml:"population_name_is_prefix"`
	GenotypesAreDiploid              *bool   `yaml:"genotypes_are_diploid"`
	MarkersAreDominant               *bool   `yaml:"markers_are_dominant"`
	ConstantSitesRemoved             *bool   `yaml:"constant_sites_removed"`
	MissingPopulationPatternsRemoved *bool   `yaml:"missing_population_patterns_removed"`
	FoldPatterns                     *bool   `yaml:"fold_patterns"`
}

func loadSettings(path string) (*settings, error) {
	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, fmt.Errorf("cannot open config: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var s settings
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return &s, nil
}

func delimiterRune(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("population name delimiter must be one character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}

// options merges the defaults, the settings file and the flags given on the
// command line, in increasing priority.
func options(cfg config) (*compress.Options, error) {
	opts := compress.DefaultOptions()
	opts.BlockSize = cfg.blockSize
	opts.Workers = cfg.workers

	if cfg.settingsFile != "" {
		s, err := loadSettings(cfg.settingsFile)
		if err != nil {
			return nil, err
		}
		if s.PopulationNameDelimiter != nil {
			r, err := delimiterRune(*s.PopulationNameDelimiter)
			if err != nil {
				return nil, err
			}
			opts.PopulationNameDelimiter = r
		}
		setBool(&opts.PopulationNameIsPrefix, s.PopulationNameIsPrefix)
		setBool(&opts.GenotypesAreDiploid, s.GenotypesAreDiploid)
		setBool(&opts.MarkersAreDominant, s.MarkersAreDominant)
		setBool(&opts.RemoveConstant, s.ConstantSitesRemoved)
		setBool(&opts.RemoveMissing, s.MissingPopulationPatternsRemoved)
		setBool(&opts.Fold, s.FoldPatterns)
	}

	if cfg.set["delimiter"] {
		r, err := delimiterRune(cfg.delimiter)
		if err != nil {
			return nil, err
		}
		opts.PopulationNameDelimiter = r
	}
	if cfg.set["suffix"] {
		opts.PopulationNameIsPrefix = !cfg.suffix
	}
	if cfg.set["haploid"] {
		opts.GenotypesAreDiploid = !cfg.haploid
	}
	if cfg.set["dominant"] {
		opts.MarkersAreDominant = cfg.dominant
	}
	if cfg.set["remove-constant"] {
		opts.RemoveConstant = cfg.removeConstant
	}
	if cfg.set["remove-missing"] {
		opts.RemoveMissing = cfg.removeMissing
	}
	if cfg.set["fold"] {
		opts.Fold = cfg.fold
	}
	if cfg.set["no-validate"] {
		opts.Validate = !cfg.noValidate
	}
	return opts, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

type fileKind uint8

const (
	kindAlignment fileKind = iota
	kindBPZ
	kindYAML
	kindStore
)

func kindOf(path string) fileKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bpz":
		return kindBPZ
	case ".yml", ".yaml":
		return kindYAML
	case ".db", ".sqlite":
		return kindStore
	default:
		return kindAlignment
	}
}

func execute(ctx context.Context, cfg config, opts *compress.Options, stdout, stderr io.Writer) error {
	if cfg.list {
		return listDatasets(cfg.inputFile, stdout)
	}

	d, err := load(ctx, cfg, opts)
	if err != nil {
		return err
	}

	if cfg.summary {
		if err := d.WriteSummary(stderr); err != nil {
			return err
		}
	}
	return save(cfg.outputFile, d, stdout)
}

func load(ctx context.Context, cfg config, opts *compress.Options) (*biallelic.Data, error) {
	kind := kindOf(cfg.inputFile)
	if cfg.decode {
		kind = kindBPZ
	}

	switch kind {
	case kindStore:
		if cfg.datasetID == "" {
			return nil, errors.New("-id is required to load from a catalogue")
		}
		s, err := store.Open(cfg.inputFile)
		if err != nil {
			return nil, err
		}
		defer s.Close() //nolint:errcheck // read-only use
		d, err := s.Load(cfg.datasetID)
		if err != nil {
			return nil, err
		}
		return d, compress.ApplyTransforms(d, opts)

	case kindBPZ, kindYAML:
		input, cleanup, err := openInput(cfg.inputFile, false)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		var d *biallelic.Data
		if kind == kindBPZ {
			d, err = compress.ReadTable(input, cfg.inputFile)
		} else {
			d, err = yamldata.Read(input, cfg.inputFile)
		}
		if err != nil {
			return nil, err
		}
		return d, compress.ApplyTransforms(d, opts)
	}

	f, err := alignmentFormat(cfg)
	if err != nil {
		return nil, err
	}
	input, cleanup, err := openInput(cfg.inputFile, true)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	seqs, err := alignment.Parse(input, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", displayPath(cfg.inputFile), err)
	}
	m, err := alignment.NewStandard(seqs, &alignment.Options{Symbols: cfg.symbols})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", displayPath(cfg.inputFile), err)
	}
	return compress.CompressContext(ctx, m, cfg.inputFile, opts)
}

func displayPath(path string) string {
	if path == "" || path == "-" {
		return "stdin"
	}
	return path
}

func alignmentFormat(cfg config) (alignment.Format, error) {
	if cfg.format != "" {
		return alignment.ParseFormat(cfg.format)
	}
	if cfg.inputFile == "" || cfg.inputFile == "-" {
		return alignment.FormatFasta, nil
	}
	return alignment.FormatFromPath(cfg.inputFile)
}

func openInput(path string, maybeGzip bool) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		if !maybeGzip {
			return os.Stdin, func() {}, nil
		}
		return wrapInputMaybeGzip(path, os.Stdin, func() {})
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open input: %w", err)
	}
	cleanup := func() { _ = f.Close() }
	if !maybeGzip {
		return f, cleanup, nil
	}
	return wrapInputMaybeGzip(path, f, cleanup)
}

func wrapInputMaybeGzip(path string, in io.Reader, closeInput func()) (io.Reader, func(), error) {
	br := bufio.NewReaderSize(in, 1<<20)
	hasGzipMagic, err := inputHasGzipMagic(br)
	if err != nil {
		closeInput()
		return nil, nil, fmt.Errorf("cannot inspect input: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(path), ".gz") || hasGzipMagic {
		gz, err := pgzip.NewReader(br)
		if err != nil {
			closeInput()
			return nil, nil, fmt.Errorf("cannot open gzip input: %w", err)
		}
		return gz, func() {
			_ = gz.Close()
			closeInput()
		}, nil
	}

	return br, closeInput, nil
}

func inputHasGzipMagic(br *bufio.Reader) (bool, error) {
	header, err := br.Peek(2)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return len(header) == 2 && header[0] == 0x1f && header[1] == 0x8b, nil
}

func save(path string, d *biallelic.Data, stdout io.Writer) error {
	if kindOf(path) == kindStore {
		s, err := store.Open(path)
		if err != nil {
			return err
		}
		id, err := s.Save(d)
		if cerr := s.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, id)
		return nil
	}

	output, cleanup, err := openOutput(path, stdout)
	if err != nil {
		return err
	}
	if kindOf(path) == kindBPZ {
		err = compress.WriteTable(output, d)
	} else {
		err = yamldata.Write(output, d)
	}
	if cerr := cleanup(); err == nil {
		err = cerr
	}
	return err
}

func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		bw := bufio.NewWriterSize(stdout, 1<<20)
		return bw, bw.Flush, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	return bw, func() error {
		if err := bw.Flush(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}, nil
}

func listDatasets(path string, w io.Writer) error {
	if kindOf(path) != kindStore {
		return fmt.Errorf("-list needs a .db catalogue, got %q", path)
	}
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck // read-only use

	list, err := s.List()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATH\tPOPULATIONS\tPATTERNS\tFOLDED\tCREATED")
	for _, ds := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t%s\n",
			ds.ID, ds.Path, ds.NumPopulations, ds.NumPatterns, ds.PatternsAreFolded, ds.CreatedAt)
	}
	return tw.Flush()
}
