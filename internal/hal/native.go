//go:build linux

package hal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// fixedBase is the virtual address every process maps the region at. A
// shared fixed base lets offsets stored inside the region (free-list links,
// stream cursors, registry payload pointers) stay valid across processes
// without any pointer translation.
const fixedBase = uintptr(0x8000_0000)

// NativeProvider backs the region with a file-mapped mmap at a fixed
// virtual address, growable in place via ftruncate+mmap(MAP_FIXED): the
// re-mmap replaces the existing mapping atomically (no intervening
// munmap), so the fixed base is never unmapped while a concurrent atomic
// accessor might be dereferencing into it. mu is held for the full
// duration of both Remap and every Atomic* accessor (not just the pointer
// computation), since the pointer is only valid as long as Remap hasn't
// swapped n.data out from under it.
type NativeProvider struct {
	mu   sync.RWMutex
	path string
	file *os.File
	data []byte
	size uint32
}

// Options configures the native provider.
type Options struct {
	Path   string
	Size   uint32 // required when Create is true
	Create bool
}

// DefaultPath returns /dev/shm/<name> when /dev/shm exists, falling back to
// os.TempDir() otherwise.
func DefaultPath(name string) string {
	if _, err := os.Stat("/dev/shm"); err == nil {
		return filepath.Join("/dev/shm", name)
	}
	return filepath.Join(os.TempDir(), name)
}

// Open creates or attaches to the region file and maps it at fixedBase.
func Open(opts Options) (*NativeProvider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("hal: path required")
	}
	flags := os.O_RDWR
	if opts.Create {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(filepath.Clean(opts.Path), flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("hal: open region file: %w", err)
	}
	if opts.Create {
		if opts.Size == 0 {
			_ = file.Close()
			return nil, fmt.Errorf("hal: size required when creating")
		}
		if err := file.Truncate(int64(opts.Size)); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("hal: truncate region file: %w", err)
		}
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("hal: stat region file: %w", err)
	}
	size := uint32(info.Size())
	if size == 0 {
		_ = file.Close()
		return nil, fmt.Errorf("hal: region file has zero size")
	}

	data, err := mmapFixed(file, size)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	return &NativeProvider{path: opts.Path, file: file, data: data, size: size}, nil
}

func mmapFixed(file *os.File, size uint32) ([]byte, error) {
	addr, _, errno := syscall.Syscall6(
		syscall.SYS_MMAP,
		fixedBase,
		uintptr(size),
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_SHARED|syscall.MAP_FIXED,
		file.Fd(),
		0,
	)
	if errno != 0 {
		return nil, fmt.Errorf("hal: mmap(MAP_FIXED) at 0x%x: %w", fixedBase, errno)
	}
	if addr != fixedBase {
		return nil, fmt.Errorf("hal: kernel mapped region at 0x%x, wanted 0x%x", addr, fixedBase)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size)), nil
}

func (n *NativeProvider) Size() uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.size
}

func (n *NativeProvider) ReadAt(offset uint32, dest []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if uint64(offset)+uint64(len(dest)) > uint64(n.size) {
		return ErrOutOfBounds
	}
	copy(dest, n.data[offset:offset+uint32(len(dest))])
	return nil
}

func (n *NativeProvider) WriteAt(offset uint32, src []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if uint64(offset)+uint64(len(src)) > uint64(n.size) {
		return ErrOutOfBounds
	}
	copy(n.data[offset:offset+uint32(len(src))], src)
	return nil
}

// ptr32/ptr64 must only be called with n.mu already held (read or write):
// the returned pointer is only valid as long as a concurrent Remap can't
// swap n.data out from under the caller, so every Atomic* method keeps the
// lock held across both the pointer computation and the atomic op itself.
func (n *NativeProvider) ptr32(offset uint32) (unsafe.Pointer, error) {
	if uint64(offset)+4 > uint64(n.size) {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&n.data[offset]), nil
}

func (n *NativeProvider) ptr64(offset uint32) (unsafe.Pointer, error) {
	if uint64(offset)+8 > uint64(n.size) {
		return nil, ErrOutOfBounds
	}
	if offset%8 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&n.data[offset]), nil
}

func (n *NativeProvider) AtomicLoad32(offset uint32) (uint32, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ptr, err := n.ptr32(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(ptr)), nil
}

func (n *NativeProvider) AtomicStore32(offset uint32, val uint32) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ptr, err := n.ptr32(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(ptr), val)
	return nil
}

func (n *NativeProvider) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ptr, err := n.ptr32(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32((*uint32)(ptr), delta), nil
}

func (n *NativeProvider) AtomicCAS32(offset uint32, old, new uint32) (bool, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ptr, err := n.ptr32(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint32((*uint32)(ptr), old, new), nil
}

func (n *NativeProvider) AtomicLoad64(offset uint32) (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ptr, err := n.ptr64(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64((*uint64)(ptr)), nil
}

func (n *NativeProvider) AtomicStore64(offset uint32, val uint64) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ptr, err := n.ptr64(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint64((*uint64)(ptr), val)
	return nil
}

func (n *NativeProvider) AtomicAdd64(offset uint32, delta uint64) (uint64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ptr, err := n.ptr64(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint64((*uint64)(ptr), delta), nil
}

func (n *NativeProvider) AtomicCAS64(offset uint32, old, new uint64) (bool, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ptr, err := n.ptr64(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint64((*uint64)(ptr), old, new), nil
}

// Remap grows the region in place: truncate the backing file to newSize,
// then mmap(MAP_FIXED) the larger size back at the same fixedBase address.
// No explicit munmap precedes the re-mmap: per mmap(2), a MAP_FIXED mapping
// that overlaps an existing one replaces it in the same syscall, so the
// fixed base is never left unmapped for concurrent Atomic* accessors to
// fault on — matching astest/host/src/shm.rs::expand_mapping, which relies
// on the same kernel replace-in-place semantics rather than calling munmap
// first. Every offset computed against the old mapping stays valid because
// the base address never moves. A no-op when newSize <= the current size;
// shrinking is never attempted. Takes the write lock for the whole
// operation so no Atomic* accessor can be mid-dereference while the
// mapping is replaced.
func (n *NativeProvider) Remap(newSize uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if newSize <= n.size {
		return nil
	}
	if newSize > BumpCeilingCap {
		return ErrCapacityExceeded
	}
	if err := n.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("hal: truncate for remap: %w", err)
	}
	data, err := mmapFixed(n.file, newSize)
	if err != nil {
		return fmt.Errorf("hal: remap: %w", err)
	}
	n.data = data
	n.size = newSize
	return nil
}

func (n *NativeProvider) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var err error
	if n.data != nil {
		if unmapErr := syscall.Munmap(n.data); unmapErr != nil {
			err = unmapErr
		}
		n.data = nil
	}
	if n.file != nil {
		if closeErr := n.file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		n.file = nil
	}
	return err
}

// BumpCeilingCap is the hard region-size ceiling (spec.md §4.2/§9): the
// region never grows past this even if doubling would overshoot it.
const BumpCeilingCap = 0x7FF0_0000
