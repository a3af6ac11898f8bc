// Package encoder turns discrete genotype codes into allele counts.
package encoder

import (
	"errors"

	"github.com/phyletica/coevolity-sub001/internal/alignment"
	"github.com/phyletica/coevolity-sub001/internal/errs"
)

// Encoding is the marker-type and ploidy combination of a dataset.
type Encoding uint8

// Genotype encodings.
const (
	HaploidCodominant Encoding = iota // 0/1 codes, one allele per cell
	DiploidCodominant                 // 0/1/2 codes count red alleles of two
	HaploidDominant                   // 0/1 codes stand for homozygous genotypes
	DiploidDominant                   // 0/2 codes, heterozygotes are unobservable
)

// NewEncoding returns the Encoding for the given flags.
func NewEncoding(dominant, diploid bool) Encoding {
	switch {
	case dominant && diploid:
		return DiploidDominant
	case dominant:
		return HaploidDominant
	case diploid:
		return DiploidCodominant
	default:
		return HaploidCodominant
	}
}

// Dominant reports whether markers are dominant.
func (e Encoding) Dominant() bool {
	return e == HaploidDominant || e == DiploidDominant
}

// Diploid reports whether genotypes are diploid.
func (e Encoding) Diploid() bool {
	return e == DiploidCodominant || e == DiploidDominant
}

func (e Encoding) String() string {
	switch e {
	case HaploidCodominant:
		return "haploid co-dominant"
	case DiploidCodominant:
		return "diploid co-dominant"
	case HaploidDominant:
		return "haploid dominant"
	case DiploidDominant:
		return "diploid dominant"
	default:
		return "unknown encoding"
	}
}

// Contribution is what one cell adds to its population's totals at a site.
type Contribution struct {
	Alleles uint32
	Red     uint32
}

// Encode converts one cell. Missing cells contribute nothing; ambiguous
// cells and codes the encoding does not allow are ErrInvalidCharacter.
func (e Encoding) Encode(state, numStates int) (Contribution, error) {
	if state < 0 {
		return Contribution{}, nil
	}
	if numStates > 1 {
		return Contribution{}, errs.InvalidCharacter("polymorphic or ambiguous character (%d possible states)", numStates)
	}

	switch e {
	case DiploidDominant:
		switch state {
		case 0, 2:
			return Contribution{Alleles: 2, Red: uint32(state)}, nil
		case 1:
			return Contribution{}, errs.InvalidCharacter("heterozygous code invalid for dominant diploid data")
		}
	case HaploidDominant:
		if state <= 1 {
			return Contribution{Alleles: 2, Red: 2 * uint32(state)}, nil
		}
	case DiploidCodominant:
		if state <= 2 {
			return Contribution{Alleles: 2, Red: uint32(state)}, nil
		}
	case HaploidCodominant:
		if state <= 1 {
			return Contribution{Alleles: 1, Red: uint32(state)}, nil
		}
	}
	return Contribution{}, errs.InvalidCharacter("state code %d out of range for %s data", state, e)
}

// CheckHighestState validates the encoding against the highest state code
// of the source datatype. A highest code of 1 means haploid-only data and 2
// means diploid-capable data; anything else cannot be biallelic.
func (e Encoding) CheckHighestState(highest int) error {
	switch highest {
	case 1:
		return nil
	case 2:
		if !e.Diploid() {
			return errs.Parsing("highest state code is 2, but genotypes are haploid")
		}
		return nil
	default:
		return errs.Parsing("highest state code is %d; expected 1 (haploid) or 2 (diploid)", highest)
	}
}

// EncodeSite accumulates one alignment column into per-population allele
// and red allele counts. popOf maps each taxon to its population. alleles
// and red are zeroed first and must have one slot per population.
func (e Encoding) EncodeSite(m alignment.Matrix, site int, popOf []int, alleles, red []uint32) error {
	clear(alleles)
	clear(red)
	for taxon, pop := range popOf {
		c, err := e.Encode(m.State(taxon, site), m.NumStates(taxon, site))
		if err != nil {
			return locate(err, m.Label(taxon), site)
		}
		alleles[pop] += c.Alleles
		red[pop] += c.Red
	}
	return nil
}

// locate attaches the cell position to err when it carries an *errs.Error.
func locate(err error, taxon string, site int) error {
	var ce *errs.Error
	if errors.As(err, &ce) {
		ce.At(taxon, site)
	}
	return err
}
