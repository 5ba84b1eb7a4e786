package hal

import (
	"sync/atomic"
	"unsafe"
)

// InMemoryProvider backs the region with a plain Go slice. Used by tests and
// by the in-process thread guest, which shares the host's address space and
// has no need for a real mmap.
type InMemoryProvider struct {
	data []byte
}

// NewInMemoryProvider allocates a zeroed region of the requested size.
func NewInMemoryProvider(size uint32) *InMemoryProvider {
	return &InMemoryProvider{data: make([]byte, size)}
}

func (m *InMemoryProvider) Size() uint32 { return uint32(len(m.data)) }

func (m *InMemoryProvider) ReadAt(offset uint32, dest []byte) error {
	if uint64(offset)+uint64(len(dest)) > uint64(len(m.data)) {
		return ErrOutOfBounds
	}
	copy(dest, m.data[offset:offset+uint32(len(dest))])
	return nil
}

func (m *InMemoryProvider) WriteAt(offset uint32, src []byte) error {
	if uint64(offset)+uint64(len(src)) > uint64(len(m.data)) {
		return ErrOutOfBounds
	}
	copy(m.data[offset:offset+uint32(len(src))], src)
	return nil
}

func (m *InMemoryProvider) ptr32(offset uint32) (unsafe.Pointer, error) {
	if uint64(offset)+4 > uint64(len(m.data)) {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&m.data[offset]), nil
}

func (m *InMemoryProvider) ptr64(offset uint32) (unsafe.Pointer, error) {
	if uint64(offset)+8 > uint64(len(m.data)) {
		return nil, ErrOutOfBounds
	}
	if offset%8 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&m.data[offset]), nil
}

func (m *InMemoryProvider) AtomicLoad32(offset uint32) (uint32, error) {
	ptr, err := m.ptr32(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(ptr)), nil
}

func (m *InMemoryProvider) AtomicStore32(offset uint32, val uint32) error {
	ptr, err := m.ptr32(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(ptr), val)
	return nil
}

func (m *InMemoryProvider) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	ptr, err := m.ptr32(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32((*uint32)(ptr), delta), nil
}

func (m *InMemoryProvider) AtomicCAS32(offset uint32, old, new uint32) (bool, error) {
	ptr, err := m.ptr32(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint32((*uint32)(ptr), old, new), nil
}

func (m *InMemoryProvider) AtomicLoad64(offset uint32) (uint64, error) {
	ptr, err := m.ptr64(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64((*uint64)(ptr)), nil
}

func (m *InMemoryProvider) AtomicStore64(offset uint32, val uint64) error {
	ptr, err := m.ptr64(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint64((*uint64)(ptr), val)
	return nil
}

func (m *InMemoryProvider) AtomicAdd64(offset uint32, delta uint64) (uint64, error) {
	ptr, err := m.ptr64(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint64((*uint64)(ptr), delta), nil
}

func (m *InMemoryProvider) AtomicCAS64(offset uint32, old, new uint64) (bool, error) {
	ptr, err := m.ptr64(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint64((*uint64)(ptr), old, new), nil
}

// Remap grows the backing slice in place. Like the native provider it
// never shrinks: growth only, a no-op returning nil for
// newSize <= Size().
func (m *InMemoryProvider) Remap(newSize uint32) error {
	if newSize <= uint32(len(m.data)) {
		return nil
	}
	grown := make([]byte, newSize)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func (m *InMemoryProvider) Close() error {
	m.data = nil
	return nil
}
