// Package pagealloc implements the lock-free 4KiB page allocator backing
// every other channel in the region: a Treiber-stack free list checked
// first, falling back to a bump pointer that grows the region on demand.
package pagealloc

import (
	"errors"
	"fmt"

	"github.com/nmxmxh/shmfabric/internal/capacity"
	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/region"
)

// Page header layout: next:u32 at offset+0, cursor:u32 at offset+4, then
// DataSize bytes of payload.
const (
	OffNext   = 0
	OffCursor = 4
	HeaderSize = 8
	DataSize   = region.PageSize - HeaderSize // 4088
)

var ErrPoolExhausted = errors.New("pagealloc: region is at its hard ceiling and has no free pages")

// Allocator hands out and recycles pages from a single region, shared by
// every process mapping it.
type Allocator struct {
	mem hal.MemoryProvider
	sb  *region.Superblock
	cap *capacity.Manager
}

func New(mem hal.MemoryProvider, sb *region.Superblock, cap *capacity.Manager) *Allocator {
	return &Allocator{mem: mem, sb: sb, cap: cap}
}

// InitBump sets the bump pointer to the start of the page arena. Called
// once, by whichever process formats the region.
func (a *Allocator) InitBump() error {
	return a.sb.StoreBump(region.ArenaOffset)
}

// Alloc returns the offset of a fresh, zeroed 4KiB page: a popped free-list
// entry if one is available, otherwise a bump allocation (growing the
// region first if the arena is exhausted).
func (a *Allocator) Alloc() (uint32, error) {
	if off, ok, err := a.popFree(); err != nil {
		return 0, err
	} else if ok {
		if err := a.zero(off); err != nil {
			return 0, err
		}
		return off, nil
	}
	off, err := a.bumpAlloc()
	if err != nil {
		return 0, err
	}
	if err := a.zero(off); err != nil {
		return 0, err
	}
	return off, nil
}

// Free recycles a page onto the free list. Pages are pushed one at a time,
// never spliced in as a whole list, so the head pointer is always a single
// live node and a concurrent popper never observes a torn chain.
func (a *Allocator) Free(pageOffset uint32) error {
	return a.pushFree(pageOffset)
}

func (a *Allocator) popFree() (uint32, bool, error) {
	for {
		head, err := a.sb.FreeListHead()
		if err != nil {
			return 0, false, err
		}
		if head == 0 {
			return 0, false, nil
		}
		next, err := a.mem.AtomicLoad32(head + OffNext)
		if err != nil {
			return 0, false, err
		}
		ok, err := a.sb.CASFreeListHead(head, next)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return head, true, nil
		}
	}
}

func (a *Allocator) pushFree(pageOffset uint32) error {
	for {
		head, err := a.sb.FreeListHead()
		if err != nil {
			return err
		}
		if err := a.mem.AtomicStore32(pageOffset+OffNext, head); err != nil {
			return err
		}
		ok, err := a.sb.CASFreeListHead(head, pageOffset)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

func (a *Allocator) bumpAlloc() (uint32, error) {
	for {
		bump, err := a.sb.Bump()
		if err != nil {
			return 0, err
		}
		local := a.cap.LocalCapacity()
		if bump+region.PageSize > local {
			if local >= region.BumpCeiling {
				return 0, ErrPoolExhausted
			}
			if err := a.cap.EnsureLocal(capacity.NextSize(local)); err != nil {
				return 0, fmt.Errorf("pagealloc: grow region: %w", err)
			}
			continue
		}
		ok, err := a.sb.CASBump(bump, bump+region.PageSize)
		if err != nil {
			return 0, err
		}
		if ok {
			return bump, nil
		}
	}
}

func (a *Allocator) zero(pageOffset uint32) error {
	var zeros [region.PageSize]byte
	return a.mem.WriteAt(pageOffset, zeros[:])
}
