//go:build unix

package device

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/deploymenttheory/go-hn4/internal/types"
)

// File is a block device over a volume image or raw partition, using
// positioned reads and writes so concurrent block I/O needs no seek lock.
type File struct {
	fd        int
	path      string
	blockSize uint32
	total     uint64
	readonly  bool

	blocksRead    atomic.Int64
	blocksWritten atomic.Int64
}

// OpenFile opens an image or device node as a block device.
func OpenFile(path string, blockSize uint32, readonly bool) (*File, error) {
	flags := unix.O_RDWR
	if readonly {
		flags = unix.O_RDONLY
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	return &File{
		fd:        fd,
		path:      path,
		blockSize: blockSize,
		total:     uint64(st.Size) / uint64(blockSize),
		readonly:  readonly,
	}, nil
}

// Close releases the underlying descriptor.
func (f *File) Close() error {
	return unix.Close(f.fd)
}

// ReadBlock reads a single block at the specified address.
func (f *File) ReadBlock(address types.Paddr) ([]byte, error) {
	if !f.IsValidAddress(address) {
		return nil, fmt.Errorf("read beyond device: block %d of %d", address, f.total)
	}
	buf := make([]byte, f.blockSize)
	n, err := unix.Pread(f.fd, buf, int64(address)*int64(f.blockSize))
	if err != nil {
		return nil, fmt.Errorf("pread block %d: %w", address, err)
	}
	if n != len(buf) {
		return nil, fmt.Errorf("short read at block %d: %d of %d bytes", address, n, len(buf))
	}
	f.blocksRead.Add(1)
	return buf, nil
}

// WriteBlock writes a single block at the specified address.
func (f *File) WriteBlock(address types.Paddr, data []byte) error {
	if f.readonly {
		return fmt.Errorf("device is read-only")
	}
	if !f.IsValidAddress(address) {
		return fmt.Errorf("write beyond device: block %d of %d", address, f.total)
	}
	if uint32(len(data)) != f.blockSize {
		return fmt.Errorf("write of %d bytes to %d-byte block", len(data), f.blockSize)
	}
	n, err := unix.Pwrite(f.fd, data, int64(address)*int64(f.blockSize))
	if err != nil {
		return fmt.Errorf("pwrite block %d: %w", address, err)
	}
	if n != len(data) {
		return fmt.Errorf("short write at block %d: %d of %d bytes", address, n, len(data))
	}
	f.blocksWritten.Add(1)
	return nil
}

// FlushWrites forces dirty pages to stable storage.
func (f *File) FlushWrites() error {
	if err := unix.Fsync(f.fd); err != nil {
		return fmt.Errorf("fsync %s: %w", f.path, err)
	}
	return nil
}

// IsReadOnly reports the device's write protection.
func (f *File) IsReadOnly() bool { return f.readonly }

// BlockSize returns the size of a single block in bytes.
func (f *File) BlockSize() uint32 { return f.blockSize }

// TotalBlocks returns the total number of blocks on the device.
func (f *File) TotalBlocks() uint64 { return f.total }

// IsValidAddress checks if a block address is valid.
func (f *File) IsValidAddress(address types.Paddr) bool {
	return uint64(address) < f.total
}

// Stats returns cumulative read and write block counts.
func (f *File) Stats() (reads, writes int64) {
	return f.blocksRead.Load(), f.blocksWritten.Load()
}
