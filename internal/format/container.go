// Package format defines the BPZ file format for compressed pattern tables.
//
// A BPZ file is a FileHeader, one labels section and a run of pattern
// blocks until EOF. Every section body is a zstd stream.
package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes identifying BPZ format.
var Magic = [4]byte{'B', 'P', 'Z', 0x00}

// Format flags.
const (
	FlagDominant uint8 = 1 << 0 // Markers are dominant
	FlagDiploid  uint8 = 1 << 1 // Genotypes are diploid
	FlagFolded   uint8 = 1 << 2 // Patterns have been folded
)

// Supported file format versions.
const (
	Version1 uint8 = 1

	CurrentVersion = Version1
)

// Errors returned while reading headers.
var (
	ErrBadMagic           = errors.New("invalid magic bytes: not a BPZ file")
	ErrUnsupportedVersion = errors.New("unsupported BPZ version")
)

const (
	fileHeaderSize   = 26
	labelsHeaderSize = 8
	blockHeaderSize  = 28
)

// FileHeader is written at the start of every BPZ file.
type FileHeader struct {
	Version              uint8
	Flags                uint8
	NumPopulations       uint32
	NumPatterns          uint32
	ConstantSitesRemoved uint64 // column weight dropped as constant
	MissingSitesRemoved  uint64 // column weight dropped for missing populations
}

// Write serializes the file header to the writer.
func (h *FileHeader) Write(w io.Writer) error {
	if _, err := w.Write(Magic[:]); err != nil {
		return err
	}
	buf := make([]byte, fileHeaderSize)
	buf[0] = h.Version
	buf[1] = h.Flags
	binary.LittleEndian.PutUint32(buf[2:6], h.NumPopulations)
	binary.LittleEndian.PutUint32(buf[6:10], h.NumPatterns)
	binary.LittleEndian.PutUint64(buf[10:18], h.ConstantSitesRemoved)
	binary.LittleEndian.PutUint64(buf[18:26], h.MissingSitesRemoved)
	_, err := w.Write(buf)
	return err
}

// ReadFileHeader reads and validates a file header.
func ReadFileHeader(r io.Reader) (*FileHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}

	buf := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if buf[0] != Version1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, buf[0])
	}

	return &FileHeader{
		Version:              buf[0],
		Flags:                buf[1],
		NumPopulations:       binary.LittleEndian.Uint32(buf[2:6]),
		NumPatterns:          binary.LittleEndian.Uint32(buf[6:10]),
		ConstantSitesRemoved: binary.LittleEndian.Uint64(buf[10:18]),
		MissingSitesRemoved:  binary.LittleEndian.Uint64(buf[18:26]),
	}, nil
}

// LabelsHeader precedes the population and sequence labels.
type LabelsHeader struct {
	LabelsSize         uint32 // Compressed labels size
	OriginalLabelsSize uint32 // Uncompressed labels size
}

// Write serializes the labels header to the writer.
func (h *LabelsHeader) Write(w io.Writer) error {
	buf := make([]byte, labelsHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.LabelsSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.OriginalLabelsSize)
	_, err := w.Write(buf)
	return err
}

// ReadLabelsHeader reads a labels header from the reader.
func ReadLabelsHeader(r io.Reader) (*LabelsHeader, error) {
	buf := make([]byte, labelsHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &LabelsHeader{
		LabelsSize:         binary.LittleEndian.Uint32(buf[0:4]),
		OriginalLabelsSize: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// BlockHeader precedes each compressed block of patterns.
type BlockHeader struct {
	NumPatterns              uint32 // Number of patterns in this block
	AlleleCountsSize         uint32 // Compressed allele counts size
	RedCountsSize            uint32 // Compressed red allele counts size
	WeightsSize              uint32 // Compressed weights size
	OriginalAlleleCountsSize uint32
	OriginalRedCountsSize    uint32
	OriginalWeightsSize      uint32
}

// Write serializes the block header to the writer.
func (b *BlockHeader) Write(w io.Writer) error {
	buf := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], b.NumPatterns)
	binary.LittleEndian.PutUint32(buf[4:8], b.AlleleCountsSize)
	binary.LittleEndian.PutUint32(buf[8:12], b.RedCountsSize)
	binary.LittleEndian.PutUint32(buf[12:16], b.WeightsSize)
	binary.LittleEndian.PutUint32(buf[16:20], b.OriginalAlleleCountsSize)
	binary.LittleEndian.PutUint32(buf[20:24], b.OriginalRedCountsSize)
	binary.LittleEndian.PutUint32(buf[24:28], b.OriginalWeightsSize)
	_, err := w.Write(buf)
	return err
}

// ReadBlockHeader reads a block header from the reader. It returns io.EOF
// when the stream ends cleanly before a header.
func ReadBlockHeader(r io.Reader) (*BlockHeader, error) {
	buf := make([]byte, blockHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &BlockHeader{
		NumPatterns:              binary.LittleEndian.Uint32(buf[0:4]),
		AlleleCountsSize:         binary.LittleEndian.Uint32(buf[4:8]),
		RedCountsSize:            binary.LittleEndian.Uint32(buf[8:12]),
		WeightsSize:              binary.LittleEndian.Uint32(buf[12:16]),
		OriginalAlleleCountsSize: binary.LittleEndian.Uint32(buf[16:20]),
		OriginalRedCountsSize:    binary.LittleEndian.Uint32(buf[20:24]),
		OriginalWeightsSize:      binary.LittleEndian.Uint32(buf[24:28]),
	}, nil
}
