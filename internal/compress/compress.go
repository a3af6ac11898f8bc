// Package compress turns a genotype alignment into a weighted biallelic
// pattern table, and stores that table in BPZ files.
package compress

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/phyletica/coevolity-sub001/internal/alignment"
	"github.com/phyletica/coevolity-sub001/internal/biallelic"
	"github.com/phyletica/coevolity-sub001/internal/encoder"
	"github.com/phyletica/coevolity-sub001/internal/errs"
	"github.com/phyletica/coevolity-sub001/internal/population"
)

// DefaultBlockSize is the default number of sites encoded per work block.
const DefaultBlockSize = 4096

// Options configures how an alignment is compressed.
type Options struct {
	PopulationNameDelimiter rune // Splits sequence labels (default: space)
	PopulationNameIsPrefix  bool // Population label is the first token, else the last
	GenotypesAreDiploid     bool
	MarkersAreDominant      bool

	RemoveConstant bool // Drop constant patterns
	RemoveMissing  bool // Drop patterns where a population has no data
	Fold           bool // Fold patterns after the removals
	Validate       bool // Validate after construction and every transform

	BlockSize int                // Sites per work block (default: 4096)
	Workers   int                // Parallel encoding workers (default: NumCPU)
	Logger    logrus.FieldLogger // Debug output (default: discarded)
}

// DefaultOptions returns the settings of a typical analysis: prefix
// population names split on spaces, diploid co-dominant markers, no
// removals or folding, validation on.
func DefaultOptions() *Options {
	return &Options{
		PopulationNameDelimiter: ' ',
		PopulationNameIsPrefix:  true,
		GenotypesAreDiploid:     true,
		Validate:                true,
	}
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = DefaultOptions()
	}
	opts := *o
	if opts.PopulationNameDelimiter == 0 {
		opts.PopulationNameDelimiter = ' '
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return opts
}

// Compress encodes every site of m and returns the pattern table. path is
// only used in diagnostics.
func Compress(m alignment.Matrix, path string, opts *Options) (*biallelic.Data, error) {
	return CompressContext(context.Background(), m, path, opts)
}

// CompressContext is Compress with cancellation.
func CompressContext(ctx context.Context, m alignment.Matrix, path string, opts *Options) (*biallelic.Data, error) {
	o := opts.withDefaults()

	if n := m.NumDatatypes(); n != 1 {
		return nil, errs.WithPath(errs.Parsing("expected exactly one character datatype, found %d", n), path)
	}
	if m.NumTaxa() == 0 {
		return nil, errs.WithPath(errs.Parsing("no taxa"), path)
	}

	enc := encoder.NewEncoding(o.MarkersAreDominant, o.GenotypesAreDiploid)
	if err := enc.CheckHighestState(m.HighestState()); err != nil {
		return nil, errs.WithPath(err, path)
	}

	pops := population.NewIndex(o.PopulationNameDelimiter, o.PopulationNameIsPrefix)
	popOf := make([]int, m.NumTaxa())
	for t := range popOf {
		idx, err := pops.Add(m.Label(t))
		if err != nil {
			return nil, errs.WithPath(err, path)
		}
		popOf[t] = idx
	}

	b := biallelic.NewBuilder(path, enc, pops)
	b.SetLogger(o.Logger)
	if o.Logger != nil {
		o.Logger.WithFields(logrus.Fields{
			"path":        path,
			"taxa":        m.NumTaxa(),
			"sites":       m.NumSites(),
			"populations": pops.Len(),
			"workers":     o.Workers,
		}).Debug("encoding sites")
	}

	s := &siteEncoder{m: m, enc: enc, popOf: popOf, numPops: pops.Len()}
	var err error
	if o.Workers == 1 || m.NumSites() <= o.BlockSize {
		err = s.encodeSequential(ctx, b, o.BlockSize)
	} else {
		err = s.encodeParallel(ctx, b, o.BlockSize, o.Workers)
	}
	if err != nil {
		return nil, errs.WithPath(err, path)
	}

	d := b.Build()
	if err := applyTransforms(d, &o); err != nil {
		return nil, err
	}
	return d, nil
}

// ApplyTransforms runs the removals and the fold selected in opts on d, in
// that order. Use it on tables that were loaded rather than compressed.
func ApplyTransforms(d *biallelic.Data, opts *Options) error {
	o := opts.withDefaults()
	return applyTransforms(d, &o)
}

func applyTransforms(d *biallelic.Data, o *Options) error {
	if o.Validate {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	if o.RemoveConstant {
		if _, err := d.RemoveConstantPatterns(o.Validate); err != nil {
			return err
		}
	}
	if o.RemoveMissing {
		if _, err := d.RemoveMissingPopulationPatterns(o.Validate); err != nil {
			return err
		}
	}
	if o.Fold {
		if _, err := d.FoldPatterns(o.Validate); err != nil {
			return err
		}
	}
	return nil
}

// siteBlock holds the count vectors of a run of consecutive sites, flattened
// site-major.
type siteBlock struct {
	numSites int
	alleles  []uint32
	red      []uint32
}

var siteBlockPool = sync.Pool{
	New: func() any {
		return &siteBlock{}
	},
}

func (sb *siteBlock) reset(numSites, numPops int) {
	n := numSites * numPops
	if cap(sb.alleles) < n {
		sb.alleles = make([]uint32, n)
		sb.red = make([]uint32, n)
	}
	sb.alleles = sb.alleles[:n]
	sb.red = sb.red[:n]
	sb.numSites = numSites
}

// addTo feeds the block's sites to b in order.
func (sb *siteBlock) addTo(b *biallelic.Builder, numPops int) error {
	for i := range sb.numSites {
		lo, hi := i*numPops, (i+1)*numPops
		if _, err := b.AddSite(sb.alleles[lo:hi], sb.red[lo:hi]); err != nil {
			return err
		}
	}
	return nil
}

type siteEncoder struct {
	m       alignment.Matrix
	enc     encoder.Encoding
	popOf   []int
	numPops int
}

// encodeBlock encodes sites [start, end) into a pooled block.
func (s *siteEncoder) encodeBlock(start, end int) (*siteBlock, error) {
	sb := siteBlockPool.Get().(*siteBlock) //nolint:errcheck // pool always returns *siteBlock
	sb.reset(end-start, s.numPops)
	for site := start; site < end; site++ {
		lo := (site - start) * s.numPops
		hi := lo + s.numPops
		if err := s.enc.EncodeSite(s.m, site, s.popOf, sb.alleles[lo:hi], sb.red[lo:hi]); err != nil {
			siteBlockPool.Put(sb)
			return nil, err
		}
	}
	return sb, nil
}

func (s *siteEncoder) encodeSequential(ctx context.Context, b *biallelic.Builder, blockSize int) error {
	numSites := s.m.NumSites()
	for start := 0; start < numSites; start += blockSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("encoding sites: %w", err)
		}
		sb, err := s.encodeBlock(start, min(start+blockSize, numSites))
		if err != nil {
			return err
		}
		err = sb.addTo(b, s.numPops)
		siteBlockPool.Put(sb)
		if err != nil {
			return err
		}
	}
	return nil
}

// encodeJob is a run of sites to encode.
type encodeJob struct {
	seqNum     int
	start, end int
}

// encodeResult is an encoded run of sites.
type encodeResult struct {
	seqNum int
	block  *siteBlock
	err    error
}

// encodeParallel encodes blocks on several workers and adds them to b in
// site order, so the table is identical to the sequential one. When blocks
// fail, the error of the lowest failing site is returned.
func (s *siteEncoder) encodeParallel(ctx context.Context, b *biallelic.Builder, blockSize, workers int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan encodeJob, workers*2)
	results := make(chan encodeResult, workers*2)

	g, gctx := errgroup.WithContext(ctx)

	for range workers {
		g.Go(func() error {
			return s.runWorker(gctx, jobs, results)
		})
	}

	g.Go(func() error {
		defer close(jobs)
		return produceEncodeJobs(gctx, jobs, s.m.NumSites(), blockSize)
	})

	var collectorErr error
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		collectorErr = collectBlocks(results, b, s.numPops, cancel)
	}()

	workerErr := g.Wait()
	close(results)
	<-collectorDone

	if collectorErr != nil {
		return collectorErr
	}
	if workerErr != nil {
		return fmt.Errorf("encoding sites: %w", workerErr)
	}
	return nil
}

func (s *siteEncoder) runWorker(ctx context.Context, jobs <-chan encodeJob, results chan<- encodeResult) error {
	for job := range jobs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sb, err := s.encodeBlock(job.start, job.end)
		results <- encodeResult{seqNum: job.seqNum, block: sb, err: err}
	}
	return nil
}

func produceEncodeJobs(ctx context.Context, jobs chan<- encodeJob, numSites, blockSize int) error {
	seqNum := 0
	for start := 0; start < numSites; start += blockSize {
		select {
		case jobs <- encodeJob{seqNum: seqNum, start: start, end: min(start+blockSize, numSites)}:
			seqNum++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// collectBlocks adds results to b in seqNum order. It keeps draining after
// the first error so workers never block, and calls stop to wind them down.
func collectBlocks(results <-chan encodeResult, b *biallelic.Builder, numPops int, stop func()) error {
	pending := make(map[int]encodeResult)
	nextSeqNum := 0
	var firstErr error

	for result := range results {
		if firstErr != nil {
			if result.block != nil {
				siteBlockPool.Put(result.block)
			}
			continue
		}
		pending[result.seqNum] = result

		for {
			next, ok := pending[nextSeqNum]
			if !ok {
				break
			}
			delete(pending, nextSeqNum)
			nextSeqNum++

			if next.err != nil {
				firstErr = next.err
			} else {
				firstErr = next.block.addTo(b, numPops)
				siteBlockPool.Put(next.block)
			}
			if firstErr != nil {
				stop()
				break
			}
		}
	}

	for _, r := range pending {
		if r.block != nil {
			siteBlockPool.Put(r.block)
		}
	}
	return firstErr
}
