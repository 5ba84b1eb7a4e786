package logarena

import (
	"bytes"
	"testing"

	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/region"
)

func newTestLogArena(t *testing.T) (*LogArena, *region.Superblock) {
	t.Helper()
	mem := hal.NewInMemoryProvider(region.InitialRegionSize)
	sb := region.New(mem)
	return New(mem, sb), sb
}

func TestAppendThenSnapshot(t *testing.T) {
	log, sb := newTestLogArena(t)
	if err := log.Append([]byte("hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Append([]byte("world")); err != nil {
		t.Fatalf("append: %v", err)
	}
	cursor, err := sb.LogCursor()
	if err != nil {
		t.Fatalf("log cursor: %v", err)
	}
	snap, err := log.Snapshot(cursor)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !bytes.Equal(snap, []byte("helloworld")) {
		t.Fatalf("snapshot = %q, want %q", snap, "helloworld")
	}
}

func TestAppendDropsSilentlyPastCapacity(t *testing.T) {
	log, sb := newTestLogArena(t)
	if _, err := sb.AddLogCursor(region.LogArenaSize - 2); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
	if err := log.Append([]byte("abcdef")); err != nil {
		t.Fatalf("append should silently drop, not error: %v", err)
	}
}

func TestEmptyAppendIsNoop(t *testing.T) {
	log, sb := newTestLogArena(t)
	before, _ := sb.LogCursor()
	if err := log.Append(nil); err != nil {
		t.Fatalf("append nil: %v", err)
	}
	after, _ := sb.LogCursor()
	if before != after {
		t.Fatalf("cursor moved on empty append: %d -> %d", before, after)
	}
}
