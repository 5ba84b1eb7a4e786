package pagealloc

import (
	"testing"

	"github.com/nmxmxh/shmfabric/internal/capacity"
	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/region"
)

func newTestAllocator(t *testing.T) (*Allocator, *region.Superblock) {
	t.Helper()
	mem := hal.NewInMemoryProvider(region.InitialRegionSize)
	sb := region.New(mem)
	if err := sb.StoreGlobalCapacity(region.InitialRegionSize); err != nil {
		t.Fatalf("store global capacity: %v", err)
	}
	cap := capacity.New(mem, sb, region.InitialRegionSize)
	a := New(mem, sb, cap)
	if err := a.InitBump(); err != nil {
		t.Fatalf("init bump: %v", err)
	}
	return a, sb
}

func TestFirstAllocIsArenaStart(t *testing.T) {
	a, _ := newTestAllocator(t)
	off, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if off != region.ArenaOffset {
		t.Fatalf("first alloc = %d, want %d", off, region.ArenaOffset)
	}
}

func TestAllocIsMonotonic(t *testing.T) {
	a, _ := newTestAllocator(t)
	prev, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	for i := 0; i < 10; i++ {
		next, err := a.Alloc()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		if next != prev+region.PageSize {
			t.Fatalf("alloc %d = %d, want %d", i, next, prev+region.PageSize)
		}
		prev = next
	}
}

func TestFreeThenAllocReusesPage(t *testing.T) {
	a, _ := newTestAllocator(t)
	first, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	second, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if err := a.Free(second); err != nil {
		t.Fatalf("free: %v", err)
	}
	reused, err := a.Alloc()
	if err != nil {
		t.Fatalf("alloc after free: %v", err)
	}
	if reused != second {
		t.Fatalf("expected to reuse freed page %d, got %d (first alloc was %d)", second, reused, first)
	}
}

func TestFreeListAndLiveRootDisjoint(t *testing.T) {
	a, sb := newTestAllocator(t)
	pages := make([]uint32, 5)
	for i := range pages {
		off, err := a.Alloc()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		pages[i] = off
	}
	for _, p := range pages[:3] {
		if err := a.Free(p); err != nil {
			t.Fatalf("free %d: %v", p, err)
		}
	}
	head, err := sb.FreeListHead()
	if err != nil {
		t.Fatalf("read free list head: %v", err)
	}
	for _, live := range pages[3:] {
		if head == live {
			t.Fatalf("free list head %d aliases a live page", head)
		}
	}
}

func TestAllocGrowsRegionOnExhaustion(t *testing.T) {
	mem := hal.NewInMemoryProvider(region.ArenaOffset + region.PageSize)
	sb := region.New(mem)
	if err := sb.StoreGlobalCapacity(region.ArenaOffset + region.PageSize); err != nil {
		t.Fatalf("store global capacity: %v", err)
	}
	cap := capacity.New(mem, sb, region.ArenaOffset+region.PageSize)
	a := New(mem, sb, cap)
	if err := a.InitBump(); err != nil {
		t.Fatalf("init bump: %v", err)
	}

	if _, err := a.Alloc(); err != nil {
		t.Fatalf("first alloc should fit: %v", err)
	}
	off, err := a.Alloc()
	if err != nil {
		t.Fatalf("second alloc should trigger growth: %v", err)
	}
	if off != region.ArenaOffset+region.PageSize {
		t.Fatalf("second alloc = %d, want %d", off, region.ArenaOffset+region.PageSize)
	}
	if cap.LocalCapacity() <= region.ArenaOffset+region.PageSize {
		t.Fatalf("region should have grown, local capacity = %d", cap.LocalCapacity())
	}
}
