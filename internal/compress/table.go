package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/phyletica/coevolity-sub001/internal/biallelic"
	"github.com/phyletica/coevolity-sub001/internal/encoder"
	"github.com/phyletica/coevolity-sub001/internal/errs"
	"github.com/phyletica/coevolity-sub001/internal/format"
	"github.com/phyletica/coevolity-sub001/internal/population"
)

// TableBlockSize is the number of patterns per BPZ block.
const TableBlockSize = 8192

// WriteTable writes d to w in BPZ format.
func WriteTable(w io.Writer, d *biallelic.Data) error {
	header := format.FileHeader{
		Version:              format.CurrentVersion,
		NumPopulations:       uint32(d.NumPopulations()), //nolint:gosec // population count bounded by taxa
		NumPatterns:          uint32(d.NumPatterns()),    //nolint:gosec // pattern count bounded by sites
		ConstantSitesRemoved: d.ConstantSitesRemoved(),
		MissingSitesRemoved:  d.MissingSitesRemoved(),
	}
	if d.MarkersAreDominant() {
		header.Flags |= format.FlagDominant
	}
	if d.GenotypesAreDiploid() {
		header.Flags |= format.FlagDiploid
	}
	if d.PatternsAreFolded() {
		header.Flags |= format.FlagFolded
	}
	if err := header.Write(w); err != nil {
		return fmt.Errorf("writing file header: %w", err)
	}

	zstdEnc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer zstdEnc.Close() //nolint:errcheck // encoder close during cleanup

	if err := writeLabels(w, d, zstdEnc); err != nil {
		return fmt.Errorf("writing labels: %w", err)
	}

	for start := 0; start < d.NumPatterns(); start += TableBlockSize {
		if err := writePatternBlock(w, d, start, min(start+TableBlockSize, d.NumPatterns()), zstdEnc); err != nil {
			return fmt.Errorf("writing pattern block: %w", err)
		}
	}
	return nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func writeLabels(w io.Writer, d *biallelic.Data, zstdEnc *zstd.Encoder) error {
	pops := d.Populations()
	raw := binary.AppendUvarint(nil, uint64(len(pops)))
	for _, pop := range pops {
		raw = appendString(raw, pop.Label)
		raw = binary.AppendUvarint(raw, uint64(len(pop.SequenceLabels)))
		for _, seq := range pop.SequenceLabels {
			raw = appendString(raw, seq)
		}
	}
	comp := zstdEnc.EncodeAll(raw, nil)

	//nolint:gosec // label data is far below 4 GiB
	header := format.LabelsHeader{
		LabelsSize:         uint32(len(comp)),
		OriginalLabelsSize: uint32(len(raw)),
	}
	if err := header.Write(w); err != nil {
		return err
	}
	_, err := w.Write(comp)
	return err
}

func writePatternBlock(w io.Writer, d *biallelic.Data, start, end int, zstdEnc *zstd.Encoder) error {
	var alleles, red, weights []byte
	for i := start; i < end; i++ {
		a, err := d.AlleleCounts(i)
		if err != nil {
			return err
		}
		r, err := d.RedAlleleCounts(i)
		if err != nil {
			return err
		}
		wt, err := d.PatternWeight(i)
		if err != nil {
			return err
		}
		for p := range a {
			alleles = binary.AppendUvarint(alleles, uint64(a[p]))
			red = binary.AppendUvarint(red, uint64(r[p]))
		}
		weights = binary.AppendUvarint(weights, uint64(wt))
	}

	compAlleles := zstdEnc.EncodeAll(alleles, nil)
	compRed := zstdEnc.EncodeAll(red, nil)
	compWeights := zstdEnc.EncodeAll(weights, nil)

	//nolint:gosec // All lengths are bounded by block size
	header := format.BlockHeader{
		NumPatterns:              uint32(end - start),
		AlleleCountsSize:         uint32(len(compAlleles)),
		RedCountsSize:            uint32(len(compRed)),
		WeightsSize:              uint32(len(compWeights)),
		OriginalAlleleCountsSize: uint32(len(alleles)),
		OriginalRedCountsSize:    uint32(len(red)),
		OriginalWeightsSize:      uint32(len(weights)),
	}
	if err := header.Write(w); err != nil {
		return err
	}
	for _, data := range [][]byte{compAlleles, compRed, compWeights} {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

// ReadTable reads a BPZ table from r. path is recorded as the source of the
// returned dataset, whose derived flags are recomputed and validated.
func ReadTable(r io.Reader, path string) (*biallelic.Data, error) {
	fileHeader, err := format.ReadFileHeader(r)
	if err != nil {
		return nil, fmt.Errorf("reading file header: %w", err)
	}

	zstdDec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer zstdDec.Close()

	pops, err := readLabels(r, zstdDec)
	if err != nil {
		return nil, errs.WithPath(err, path)
	}
	if pops.Len() != int(fileHeader.NumPopulations) {
		return nil, errs.WithPath(errs.Parsing("header lists %d populations, labels hold %d", fileHeader.NumPopulations, pops.Len()), path)
	}

	enc := encoder.NewEncoding(fileHeader.Flags&format.FlagDominant != 0, fileHeader.Flags&format.FlagDiploid != 0)
	b := biallelic.NewBuilder(path, enc, pops)
	b.SetFolded(fileHeader.Flags&format.FlagFolded != 0)
	b.SetSitesRemoved(fileHeader.ConstantSitesRemoved, fileHeader.MissingSitesRemoved)

	var numPatterns uint64
	for {
		blockHeader, err := format.ReadBlockHeader(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading block header: %w", err)
		}
		if err := readPatternBlock(r, blockHeader, pops.Len(), b, zstdDec); err != nil {
			return nil, errs.WithPath(err, path)
		}
		numPatterns += uint64(blockHeader.NumPatterns)
	}
	if numPatterns != uint64(fileHeader.NumPatterns) {
		return nil, errs.WithPath(errs.Parsing("header lists %d patterns, blocks hold %d", fileHeader.NumPatterns, numPatterns), path)
	}

	d := b.Build()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// readStream reads one compressed stream and checks its decoded size.
func readStream(r io.Reader, zstdDec *zstd.Decoder, size, originalSize uint32, name string) ([]byte, error) {
	comp := make([]byte, size)
	if _, err := io.ReadFull(r, comp); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	data, err := zstdDec.DecodeAll(comp, make([]byte, 0, originalSize))
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", name, err)
	}
	if len(data) != int(originalSize) {
		return nil, errs.Parsing("%s: decoded %d bytes, expected %d", name, len(data), originalSize)
	}
	return data, nil
}

func readLabels(r io.Reader, zstdDec *zstd.Decoder) (*population.Index, error) {
	header, err := format.ReadLabelsHeader(r)
	if err != nil {
		return nil, fmt.Errorf("reading labels header: %w", err)
	}
	raw, err := readStream(r, zstdDec, header.LabelsSize, header.OriginalLabelsSize, "labels")
	if err != nil {
		return nil, err
	}

	c := &cursor{buf: raw}
	numPops := c.uvarint()
	pops := population.NewIndex(' ', true)
	for range numPops {
		if c.err != nil {
			break
		}
		idx := pops.AddPopulation(c.string())
		numSeqs := c.uvarint()
		for range numSeqs {
			seq := c.string()
			if c.err != nil {
				break
			}
			if err := pops.Assign(seq, idx); err != nil {
				return nil, err
			}
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return pops, nil
}

func readPatternBlock(r io.Reader, header *format.BlockHeader, numPops int, b *biallelic.Builder, zstdDec *zstd.Decoder) error {
	alleleData, err := readStream(r, zstdDec, header.AlleleCountsSize, header.OriginalAlleleCountsSize, "allele counts")
	if err != nil {
		return err
	}
	redData, err := readStream(r, zstdDec, header.RedCountsSize, header.OriginalRedCountsSize, "red allele counts")
	if err != nil {
		return err
	}
	weightData, err := readStream(r, zstdDec, header.WeightsSize, header.OriginalWeightsSize, "weights")
	if err != nil {
		return err
	}

	ac, rc, wc := &cursor{buf: alleleData}, &cursor{buf: redData}, &cursor{buf: weightData}
	alleles := make([]uint32, numPops)
	red := make([]uint32, numPops)
	for range header.NumPatterns {
		for p := range numPops {
			alleles[p] = ac.uint32()
			red[p] = rc.uint32()
		}
		weight := wc.uint32()
		for _, c := range []*cursor{ac, rc, wc} {
			if c.err != nil {
				return c.err
			}
		}
		if _, err := b.AddPattern(alleles, red, weight); err != nil {
			return err
		}
	}
	return nil
}

// cursor decodes uvarint-framed values and remembers the first error.
type cursor struct {
	buf []byte
	off int
	err error
}

func (c *cursor) uvarint() uint64 {
	if c.err != nil {
		return 0
	}
	v, n := binary.Uvarint(c.buf[c.off:])
	if n <= 0 {
		c.err = errs.Parsing("truncated or malformed varint at offset %d", c.off)
		return 0
	}
	c.off += n
	return v
}

func (c *cursor) uint32() uint32 {
	v := c.uvarint()
	if v > 1<<32-1 {
		c.err = errs.Parsing("count %d overflows uint32", v)
		return 0
	}
	return uint32(v)
}

func (c *cursor) string() string {
	n := c.uvarint()
	if c.err != nil {
		return ""
	}
	if n > uint64(len(c.buf)-c.off) {
		c.err = errs.Parsing("truncated label at offset %d", c.off)
		return ""
	}
	s := string(c.buf[c.off : c.off+int(n)])
	c.off += int(n)
	return s
}
