package region

import (
	"fmt"

	"github.com/nmxmxh/shmfabric/internal/hal"
)

// Superblock is a thin, offset-based accessor over the region's first 4KiB.
// There is no struct overlay on the mapped bytes (the teacher's native HAL
// already shows the one unsafe.Pointer cast atomic ops need; this keeps that
// the module's only unsafe surface): every field read or write goes through
// the provider's atomic accessors, which is also what makes the fields safe
// to touch from any process mapping the same region.
type Superblock struct {
	mem hal.MemoryProvider
}

// New wraps a MemoryProvider whose first SuperblockSize bytes hold the
// superblock layout.
func New(mem hal.MemoryProvider) *Superblock {
	return &Superblock{mem: mem}
}

func (s *Superblock) Magic() (uint32, error) { return s.mem.AtomicLoad32(OffMagic) }

func (s *Superblock) WriteMagic() error { return s.mem.AtomicStore32(OffMagic, Magic) }

// Bump is the next unallocated offset in the page arena.
func (s *Superblock) Bump() (uint32, error) { return s.mem.AtomicLoad32(OffBump) }

func (s *Superblock) StoreBump(v uint32) error { return s.mem.AtomicStore32(OffBump, v) }

func (s *Superblock) CASBump(old, new uint32) (bool, error) {
	return s.mem.AtomicCAS32(OffBump, old, new)
}

// GlobalCapacity is the authoritative region size, as last observed by any
// process that performed (or was notified of) a remap.
func (s *Superblock) GlobalCapacity() (uint32, error) {
	return s.mem.AtomicLoad32(OffGlobalCapacity)
}

func (s *Superblock) StoreGlobalCapacity(v uint32) error {
	return s.mem.AtomicStore32(OffGlobalCapacity, v)
}

func (s *Superblock) CASGlobalCapacity(old, new uint32) (bool, error) {
	return s.mem.AtomicCAS32(OffGlobalCapacity, old, new)
}

// LogCursor is the relaxed fetch_add reservation pointer into the log arena.
func (s *Superblock) LogCursor() (uint32, error) { return s.mem.AtomicLoad32(OffLogCursor) }

func (s *Superblock) AddLogCursor(delta uint32) (uint32, error) {
	return s.mem.AtomicAdd32(OffLogCursor, delta)
}

// RegistryLock is the CAS spinlock (0 == free, 1 == held) guarding the named
// registry's linear scan and append.
func (s *Superblock) TryLockRegistry() (bool, error) {
	return s.mem.AtomicCAS32(OffRegistryLock, 0, 1)
}

func (s *Superblock) UnlockRegistry() error {
	return s.mem.AtomicStore32(OffRegistryLock, 0)
}

// NextAtomicIdx is the next free index in the shared atomic-arena / registry
// index namespace, advanced under the registry lock.
func (s *Superblock) NextAtomicIdx() (uint32, error) {
	return s.mem.AtomicLoad32(OffNextAtomicIdx)
}

func (s *Superblock) StoreNextAtomicIdx(v uint32) error {
	return s.mem.AtomicStore32(OffNextAtomicIdx, v)
}

func (s *Superblock) MapBase() (uint32, error) { return s.mem.AtomicLoad32(OffMapBase) }

func (s *Superblock) StoreMapBase(v uint32) error { return s.mem.AtomicStore32(OffMapBase, v) }

// FreeListHead is the Treiber-stack head of the recycled-page free list.
// 0 means empty (0 also serves as the NULL sentinel for all offsets).
func (s *Superblock) FreeListHead() (uint32, error) {
	return s.mem.AtomicLoad32(OffFreeListHead)
}

func (s *Superblock) CASFreeListHead(old, new uint32) (bool, error) {
	return s.mem.AtomicCAS32(OffFreeListHead, old, new)
}

func (s *Superblock) WriterHead(writerID uint32) (uint32, error) {
	if writerID >= WriterCount {
		return 0, fmt.Errorf("region: writer id %d out of range", writerID)
	}
	return s.mem.AtomicLoad32(OffWriterHeads + writerID*4)
}

func (s *Superblock) CASWriterHead(writerID uint32, old, new uint32) (bool, error) {
	if writerID >= WriterCount {
		return false, fmt.Errorf("region: writer id %d out of range", writerID)
	}
	return s.mem.AtomicCAS32(OffWriterHeads+writerID*4, old, new)
}

func (s *Superblock) WriterTail(writerID uint32) (uint32, error) {
	if writerID >= WriterCount {
		return 0, fmt.Errorf("region: writer id %d out of range", writerID)
	}
	return s.mem.AtomicLoad32(OffWriterTails + writerID*4)
}

func (s *Superblock) StoreWriterTail(writerID uint32, v uint32) error {
	if writerID >= WriterCount {
		return fmt.Errorf("region: writer id %d out of range", writerID)
	}
	return s.mem.AtomicStore32(OffWriterTails+writerID*4, v)
}

func (s *Superblock) CASWriterTail(writerID uint32, old, new uint32) (bool, error) {
	if writerID >= WriterCount {
		return false, fmt.Errorf("region: writer id %d out of range", writerID)
	}
	return s.mem.AtomicCAS32(OffWriterTails+writerID*4, old, new)
}
