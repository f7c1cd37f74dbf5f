// Package device provides block device implementations backing an HN4
// volume: an in-memory device for tests and tooling, and a file-backed
// device for images and raw partitions.
package device

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/deploymenttheory/go-hn4/internal/types"
)

// Memory is a RAM-backed block device. Reads of never-written blocks return
// zeroes; PoisonBlock can plant the DMA poison pattern to exercise the
// detection path.
type Memory struct {
	blockSize uint32
	total     uint64
	readonly  bool

	mu   sync.RWMutex
	data map[types.Paddr][]byte

	blocksRead    atomic.Int64
	blocksWritten atomic.Int64
}

// NewMemory builds an all-zero memory device.
func NewMemory(blockSize uint32, totalBlocks uint64) *Memory {
	return &Memory{
		blockSize: blockSize,
		total:     totalBlocks,
		data:      make(map[types.Paddr][]byte),
	}
}

// SetReadOnly flips the device's write protection.
func (m *Memory) SetReadOnly(ro bool) { m.readonly = ro }

// ReadBlock returns a copy of the block at address.
func (m *Memory) ReadBlock(address types.Paddr) ([]byte, error) {
	if !m.IsValidAddress(address) {
		return nil, fmt.Errorf("read beyond device: block %d of %d", address, m.total)
	}
	m.blocksRead.Add(1)

	out := make([]byte, m.blockSize)
	m.mu.RLock()
	if blk, ok := m.data[address]; ok {
		copy(out, blk)
	}
	m.mu.RUnlock()
	return out, nil
}

// WriteBlock stores a copy of data at address.
func (m *Memory) WriteBlock(address types.Paddr, data []byte) error {
	if m.readonly {
		return fmt.Errorf("device is read-only")
	}
	if !m.IsValidAddress(address) {
		return fmt.Errorf("write beyond device: block %d of %d", address, m.total)
	}
	if uint32(len(data)) != m.blockSize {
		return fmt.Errorf("write of %d bytes to %d-byte block", len(data), m.blockSize)
	}
	m.blocksWritten.Add(1)

	blk := make([]byte, m.blockSize)
	copy(blk, data)
	m.mu.Lock()
	m.data[address] = blk
	m.mu.Unlock()
	return nil
}

// PoisonBlock fills a block with the DMA poison pattern, simulating an
// ejected or failed transfer. Test hook.
func (m *Memory) PoisonBlock(address types.Paddr) {
	blk := make([]byte, m.blockSize)
	for i := 0; i+4 <= len(blk); i += 4 {
		binary.LittleEndian.PutUint32(blk[i:], types.PoisonWord)
	}
	m.mu.Lock()
	m.data[address] = blk
	m.mu.Unlock()
}

// FlushWrites is a no-op for the memory device.
func (m *Memory) FlushWrites() error { return nil }

// IsReadOnly reports the device's write protection.
func (m *Memory) IsReadOnly() bool { return m.readonly }

// BlockSize returns the size of a single block in bytes.
func (m *Memory) BlockSize() uint32 { return m.blockSize }

// TotalBlocks returns the total number of blocks on the device.
func (m *Memory) TotalBlocks() uint64 { return m.total }

// IsValidAddress checks if a block address is valid.
func (m *Memory) IsValidAddress(address types.Paddr) bool {
	return uint64(address) < m.total
}

// Stats returns cumulative read and write block counts.
func (m *Memory) Stats() (reads, writes int64) {
	return m.blocksRead.Load(), m.blocksWritten.Load()
}
