// Package hal abstracts access to the shared-memory region backing the
// fabric: a flat byte buffer with 4- and 8-byte atomic accessors, reachable
// either through a real mmap (native provider) or an in-process buffer (for
// tests and the in-memory sandbox guest).
package hal

import "errors"

var (
	ErrOutOfBounds      = errors.New("hal: offset out of bounds")
	ErrMisaligned       = errors.New("hal: offset is not aligned to the access width")
	ErrCapacityExceeded = errors.New("hal: requested size exceeds the hard region ceiling")
	ErrShrink           = errors.New("hal: remap to a smaller size is not supported")
)

// MemoryProvider abstracts the shared-memory region. Every offset is
// relative to the start of the region; callers never see a raw pointer.
// Remap grows the region in place (MAP_FIXED semantics for the native
// provider); it is a no-op when newSize <= Size().
type MemoryProvider interface {
	Size() uint32
	ReadAt(offset uint32, dest []byte) error
	WriteAt(offset uint32, src []byte) error

	AtomicLoad32(offset uint32) (uint32, error)
	AtomicStore32(offset uint32, val uint32) error
	AtomicAdd32(offset uint32, delta uint32) (uint32, error)
	AtomicCAS32(offset uint32, old, new uint32) (bool, error)

	AtomicLoad64(offset uint32) (uint64, error)
	AtomicStore64(offset uint32, val uint64) error
	AtomicAdd64(offset uint32, delta uint64) (uint64, error)
	AtomicCAS64(offset uint32, old, new uint64) (bool, error)

	Remap(newSize uint32) error
	Close() error
}
