package registry

import (
	"testing"

	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/region"
)

func newTestRegistry(t *testing.T) (*Registry, *AtomicArena) {
	t.Helper()
	mem := hal.NewInMemoryProvider(region.InitialRegionSize)
	sb := region.New(mem)
	return New(mem, sb), NewAtomicArena(mem)
}

func TestResolveCreatesThenReuses(t *testing.T) {
	reg, _ := newTestRegistry(t)
	idx1, err := reg.Resolve("total_requests")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	idx2, err := reg.Resolve("total_requests")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if idx1 != idx2 {
		t.Fatalf("resolving the same name twice should return the same index: %d != %d", idx1, idx2)
	}
}

func TestResolveIndicesAreImmutableAndDistinct(t *testing.T) {
	reg, _ := newTestRegistry(t)
	names := []string{"a", "b", "c", "d"}
	indices := make(map[string]uint32, len(names))
	for _, n := range names {
		idx, err := reg.Resolve(n)
		if err != nil {
			t.Fatalf("resolve %q: %v", n, err)
		}
		indices[n] = idx
	}
	for _, n := range names {
		idx, err := reg.Resolve(n)
		if err != nil {
			t.Fatalf("re-resolve %q: %v", n, err)
		}
		if idx != indices[n] {
			t.Fatalf("index for %q changed: %d != %d", n, idx, indices[n])
		}
	}
	seen := map[uint32]bool{}
	for _, idx := range indices {
		if seen[idx] {
			t.Fatalf("duplicate index %d assigned to distinct names", idx)
		}
		seen[idx] = true
	}
}

func TestResolveRejectsOversizedName(t *testing.T) {
	reg, _ := newTestRegistry(t)
	long := make([]byte, nameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := reg.Resolve(string(long)); err != ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestAtomicArenaSharesIndexNamespace(t *testing.T) {
	reg, arena := newTestRegistry(t)
	idx, err := reg.Resolve("global_batch_counter")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := arena.Add(idx, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := arena.Get(idx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != 1 {
		t.Fatalf("counter = %d, want 1", got)
	}
}

func TestPayloadPublishAndRead(t *testing.T) {
	reg, _ := newTestRegistry(t)
	idx, err := reg.Resolve("shared_key")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	off, length, err := reg.PayloadFor(idx)
	if err != nil {
		t.Fatalf("payload for fresh entry: %v", err)
	}
	if off != 0 || length != 0 {
		t.Fatalf("fresh entry should have zero payload, got off=%d len=%d", off, length)
	}
	if err := reg.PublishPayload(idx, region.ArenaOffset, 42); err != nil {
		t.Fatalf("publish: %v", err)
	}
	off, length, err = reg.PayloadFor(idx)
	if err != nil {
		t.Fatalf("payload after publish: %v", err)
	}
	if off != region.ArenaOffset || length != 42 {
		t.Fatalf("got off=%d len=%d, want off=%d len=42", off, length, region.ArenaOffset)
	}
}
