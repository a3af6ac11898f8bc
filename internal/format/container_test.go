package format

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHeader_WriteRead(t *testing.T) {
	t.Parallel()

	header := FileHeader{
		Version:              CurrentVersion,
		Flags:                FlagDiploid | FlagFolded,
		NumPopulations:       3,
		NumPatterns:          4096,
		ConstantSitesRemoved: 1 << 33,
		MissingSitesRemoved:  17,
	}

	var buf bytes.Buffer
	require.NoError(t, header.Write(&buf))

	assert.Equal(t, []byte{'B', 'P', 'Z', 0x00}, buf.Bytes()[:4])
	assert.Equal(t, 4+fileHeaderSize, buf.Len())

	readHeader, err := ReadFileHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, header, *readHeader)
}

func TestFileHeader_InvalidMagic(t *testing.T) {
	t.Parallel()

	buf := bytes.NewReader([]byte{'F', 'Q', 'Z', 0x00, 1, 0, 0, 0, 0, 0})
	_, err := ReadFileHeader(buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadMagic)
	assert.Contains(t, err.Error(), "invalid magic")
}

func TestFileHeader_UnsupportedVersion(t *testing.T) {
	t.Parallel()

	header := FileHeader{Version: 9}
	var buf bytes.Buffer
	require.NoError(t, header.Write(&buf))

	_, err := ReadFileHeader(&buf)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestFileHeader_Truncated(t *testing.T) {
	t.Parallel()

	_, err := ReadFileHeader(bytes.NewReader([]byte{'B', 'P', 'Z', 0x00, 1, 0}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestLabelsHeader_WriteRead(t *testing.T) {
	t.Parallel()

	header := LabelsHeader{LabelsSize: 120, OriginalLabelsSize: 900}
	var buf bytes.Buffer
	require.NoError(t, header.Write(&buf))

	readHeader, err := ReadLabelsHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, header, *readHeader)
}

func TestBlockHeader_WriteRead(t *testing.T) {
	t.Parallel()

	block := BlockHeader{
		NumPatterns:              1000,
		AlleleCountsSize:         5000,
		RedCountsSize:            8000,
		WeightsSize:              500,
		OriginalAlleleCountsSize: 20000,
		OriginalRedCountsSize:    20000,
		OriginalWeightsSize:      1200,
	}

	var buf bytes.Buffer
	require.NoError(t, block.Write(&buf))

	readBlock, err := ReadBlockHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, block, *readBlock)

	// A clean end of stream is io.EOF, not a truncation.
	_, err = ReadBlockHeader(&buf)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                      string
		flags                     uint8
		dominant, diploid, folded bool
	}{
		{"no flags", 0, false, false, false},
		{"dominant", FlagDominant, true, false, false},
		{"diploid folded", FlagDiploid | FlagFolded, false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.dominant, tt.flags&FlagDominant != 0)
			assert.Equal(t, tt.diploid, tt.flags&FlagDiploid != 0)
			assert.Equal(t, tt.folded, tt.flags&FlagFolded != 0)
		})
	}
}
