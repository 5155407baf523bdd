package model

import (
	"github.com/encsearch/findex/pkg/errors"
)

const (
	// BlockLength is the width of one chain block: a flag byte plus data.
	BlockLength = 32

	blockDataLength = BlockLength - 1

	// ChainLineWidth is the number of blocks in one Chain Table row.
	ChainLineWidth = 5

	// ChainPayloadLength is the fixed plaintext width of a Chain Table row.
	ChainPayloadLength = BlockLength * ChainLineWidth
)

// Block flags. A zero flag marks padding; 0xFF marks a full block whose
// entry continues in the next block; otherwise the block terminates an
// entry and the flag carries the operation bit and the data length.
const (
	flagPadding      byte = 0x00
	flagContinuation byte = 0xFF
	flagTerminal     byte = 0x40
	flagDelete       byte = 0x20
	flagLengthMask   byte = 0x1F
)

// ChainOp distinguishes insertions from tombstones in the Chain Table.
type ChainOp uint8

const (
	OpInsert ChainOp = iota
	OpDelete
)

// ChainEntry is one logical record of a keyword's chain: an IndexedValue
// together with whether it was added or removed.
type ChainEntry struct {
	Op    ChainOp
	Value IndexedValue
}

// EncodeChainLines packs entries into fixed-width Chain Table rows. An
// entry's serialized value spans one or more blocks; the final row is
// padded with zero blocks. Entries never straddle a padding boundary, so
// rows produced by independent calls decode as a concatenated chain.
func EncodeChainLines(entries []ChainEntry) [][]byte {
	var blocks [][]byte
	for _, e := range entries {
		data := e.Value.Bytes()
		for len(data) > blockDataLength {
			b := make([]byte, BlockLength)
			b[0] = flagContinuation
			copy(b[1:], data[:blockDataLength])
			blocks = append(blocks, b)
			data = data[blockDataLength:]
		}
		b := make([]byte, BlockLength)
		b[0] = flagTerminal | byte(len(data))
		if e.Op == OpDelete {
			b[0] |= flagDelete
		}
		copy(b[1:], data)
		blocks = append(blocks, b)
	}

	var lines [][]byte
	for i := 0; i < len(blocks); i += ChainLineWidth {
		line := make([]byte, ChainPayloadLength)
		for j := 0; j < ChainLineWidth && i+j < len(blocks); j++ {
			copy(line[j*BlockLength:], blocks[i+j])
		}
		lines = append(lines, line)
	}
	return lines
}

// DecodeChainLines parses rows back into the ordered list of chain entries.
// Padding blocks end the current row; an entry interrupted by padding means
// a corrupted chain.
func DecodeChainLines(lines [][]byte) ([]ChainEntry, error) {
	var entries []ChainEntry
	var pending []byte
	accumulating := false

	for _, line := range lines {
		if len(line) != ChainPayloadLength {
			return nil, errors.Serializationf("chain row must be %d bytes, got %d", ChainPayloadLength, len(line))
		}
		for j := 0; j < ChainLineWidth; j++ {
			block := line[j*BlockLength : (j+1)*BlockLength]
			flag := block[0]

			switch {
			case flag == flagPadding:
				if accumulating {
					return nil, errors.Serializationf("chain entry interrupted by padding")
				}
				j = ChainLineWidth // rest of the row is padding

			case flag == flagContinuation:
				pending = append(pending, block[1:]...)
				accumulating = true

			case flag&flagTerminal != 0:
				n := int(flag & flagLengthMask)
				if n == 0 || n > blockDataLength {
					return nil, errors.Serializationf("invalid terminal block length %d", n)
				}
				pending = append(pending, block[1:1+n]...)
				value, err := ParseIndexedValue(pending)
				if err != nil {
					return nil, err
				}
				op := OpInsert
				if flag&flagDelete != 0 {
					op = OpDelete
				}
				entries = append(entries, ChainEntry{Op: op, Value: value})
				pending = nil
				accumulating = false

			default:
				return nil, errors.Serializationf("invalid chain block flag 0x%02x", flag)
			}
		}
	}

	if accumulating {
		return nil, errors.Serializationf("truncated chain entry")
	}
	return entries, nil
}

// CollapseChain replays a chain in order and returns the visible value set:
// insertions not cancelled by a later tombstone.
func CollapseChain(entries []ChainEntry) []IndexedValue {
	var visible []IndexedValue
	for _, e := range entries {
		switch e.Op {
		case OpInsert:
			present := false
			for _, v := range visible {
				if v.Equal(e.Value) {
					present = true
					break
				}
			}
			if !present {
				visible = append(visible, e.Value)
			}
		case OpDelete:
			for i, v := range visible {
				if v.Equal(e.Value) {
					visible = append(visible[:i], visible[i+1:]...)
					break
				}
			}
		}
	}
	return visible
}
