package registry

import (
	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/region"
)

// AtomicArena is a flat array of u64 counters, index-addressed and sharing
// its index namespace with the named registry: a registry entry's index
// field is also the slot this arena exposes for that name.
type AtomicArena struct {
	mem hal.MemoryProvider
}

func NewAtomicArena(mem hal.MemoryProvider) *AtomicArena {
	return &AtomicArena{mem: mem}
}

func slotOffset(index uint32) uint32 { return region.AtomicArenaOffset + index*8 }

func (a *AtomicArena) Get(index uint32) (uint64, error) {
	return a.mem.AtomicLoad64(slotOffset(index))
}

func (a *AtomicArena) Set(index uint32, val uint64) error {
	return a.mem.AtomicStore64(slotOffset(index), val)
}

func (a *AtomicArena) Add(index uint32, delta uint64) (uint64, error) {
	return a.mem.AtomicAdd64(slotOffset(index), delta)
}

func (a *AtomicArena) CAS(index uint32, old, new uint64) (bool, error) {
	return a.mem.AtomicCAS64(slotOffset(index), old, new)
}
