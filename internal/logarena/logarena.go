// Package logarena implements the append-only log arena: writers reserve
// space with a relaxed fetch-add on the cursor and write their bytes
// unframed. There is no record delimiter (confirmed against the original
// `append_log`) and no contention on the write itself, only on the cursor.
package logarena

import "github.com/nmxmxh/shmfabric/internal/region"

type memoryProvider interface {
	ReadAt(offset uint32, dest []byte) error
	WriteAt(offset uint32, src []byte) error
}

type superblock interface {
	AddLogCursor(delta uint32) (uint32, error)
}

// LogArena appends raw bytes into the region's fixed-size log region.
// Reservations past the end of the arena are silently dropped: the cursor
// still advances (so later callers correctly see the arena as full) but no
// bytes are written, matching the original's unbounded fetch_add with no
// backpressure.
type LogArena struct {
	mem memoryProvider
	sb  superblock
}

func New(mem memoryProvider, sb superblock) *LogArena {
	return &LogArena{mem: mem, sb: sb}
}

// Append reserves len(data) bytes and writes them, or drops them silently
// if the reservation runs past the end of the arena.
func (l *LogArena) Append(data []byte) error {
	size := uint32(len(data))
	if size == 0 {
		return nil
	}
	newCursor, err := l.sb.AddLogCursor(size)
	if err != nil {
		return err
	}
	start := newCursor - size
	if start >= region.LogArenaSize || start+size > region.LogArenaSize {
		return nil
	}
	return l.mem.WriteAt(region.LogArenaOffset+start, data)
}

// Snapshot returns a copy of everything written so far, for operator
// inspection (the `dump` CLI role). Clamped to the arena's fixed capacity
// even if the cursor has advanced past it.
func (l *LogArena) Snapshot(written uint32) ([]byte, error) {
	if written > region.LogArenaSize {
		written = region.LogArenaSize
	}
	buf := make([]byte, written)
	if err := l.mem.ReadAt(region.LogArenaOffset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
