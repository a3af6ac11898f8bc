// Package biallelic is the weighted site-pattern dataset consumed by the
// likelihood engine.
//
// A Builder accumulates populations and per-site count vectors and freezes
// them into a Data. Data exposes a read API, three mutating transforms
// (constant-pattern removal, missing-population removal and folding) and a
// validator. A Data is owned by one goroutine while it is transformed; once
// that is done its read methods may be called concurrently.
package biallelic

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/phyletica/coevolity-sub001/internal/encoder"
	"github.com/phyletica/coevolity-sub001/internal/errs"
	"github.com/phyletica/coevolity-sub001/internal/pattern"
	"github.com/phyletica/coevolity-sub001/internal/population"
)

// Builder collects the patterns of one dataset.
type Builder struct {
	path     string
	encoding encoder.Encoding
	pops     *population.Index
	table    *pattern.Table
	log      logrus.FieldLogger

	folded          bool
	constantRemoved uint64
	missingRemoved  uint64
}

// NewBuilder starts a dataset read from path. pops must already hold every
// population; its size fixes the length of each count vector.
func NewBuilder(path string, encoding encoder.Encoding, pops *population.Index) *Builder {
	return &Builder{
		path:     path,
		encoding: encoding,
		pops:     pops,
		table:    pattern.NewTable(),
		log:      discardLogger(),
	}
}

// SetLogger sets where the dataset logs its transforms. nil discards.
func (b *Builder) SetLogger(log logrus.FieldLogger) {
	if log == nil {
		log = discardLogger()
	}
	b.log = log
}

// SetFolded marks the patterns as already folded, as when a folded table is
// restored from disk.
func (b *Builder) SetFolded(folded bool) {
	b.folded = folded
}

// SetSitesRemoved records the column weight that earlier transforms dropped.
func (b *Builder) SetSitesRemoved(constant, missing uint64) {
	b.constantRemoved = constant
	b.missingRemoved = missing
}

func (b *Builder) checkVectors(alleles, red []uint32) error {
	n := b.pops.Len()
	if len(alleles) != n || len(red) != n {
		return errs.Data("got %d allele counts and %d red allele counts for %d populations", len(alleles), len(red), n)
	}
	for p := range alleles {
		if red[p] > alleles[p] {
			return errs.Data("population %d: red allele count %d exceeds allele count %d", p, red[p], alleles[p])
		}
	}
	return nil
}

func (b *Builder) checkOpen() error {
	if b.table == nil {
		return errs.WithPath(errs.Data("builder already built"), b.path)
	}
	return nil
}

// AddSite records one alignment column and returns its pattern index.
func (b *Builder) AddSite(alleles, red []uint32) (int, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	if err := b.checkVectors(alleles, red); err != nil {
		return 0, errs.WithPath(err, b.path)
	}
	return b.table.FindOrInsert(alleles, red), nil
}

// AddPattern records a pattern that stands for weight columns.
func (b *Builder) AddPattern(alleles, red []uint32, weight uint32) (int, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	if weight == 0 {
		return 0, errs.WithPath(errs.Data("pattern weight must be positive"), b.path)
	}
	if err := b.checkVectors(alleles, red); err != nil {
		return 0, errs.WithPath(err, b.path)
	}
	return b.table.AddWeighted(alleles, red, weight), nil
}

// Build freezes the collected patterns. Later AddSite and AddPattern calls
// fail with ErrData, and Build must not be called twice.
func (b *Builder) Build() *Data {
	d := &Data{
		path:            b.path,
		encoding:        b.encoding,
		pops:            b.pops,
		table:           b.table,
		log:             b.log,
		folded:          b.folded,
		constantRemoved: b.constantRemoved,
		missingRemoved:  b.missingRemoved,
	}
	d.updateFlags()
	b.table = nil
	d.log.WithFields(logrus.Fields{
		"path":        d.path,
		"encoding":    d.encoding.String(),
		"populations": d.NumPopulations(),
		"patterns":    d.NumPatterns(),
		"sites":       d.NumSites(),
	}).Debug("built pattern table")
	return d
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
