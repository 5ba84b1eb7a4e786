// Package stream implements the per-writer stream channel: each of the
// four writer ids owns a single-writer page chain of length-framed
// records, readable concurrently by any number of readers that each track
// their own position and never free pages (pages are only recycled by the
// allocator once nothing references them, which this module never does on
// its own).
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/pagealloc"
	"github.com/nmxmxh/shmfabric/internal/region"
)

const frameHeaderSize = 4 // u32 length prefix

// ErrRecordTooLarge is returned when a record (plus its 4-byte length
// prefix) cannot fit in a single page; records are never split across
// pages, which keeps the reader side lock-free and allocation-free.
var ErrRecordTooLarge = errors.New("stream: record exceeds the per-page capacity")

type superblock interface {
	WriterHead(writerID uint32) (uint32, error)
	CASWriterHead(writerID uint32, old, new uint32) (bool, error)
	WriterTail(writerID uint32) (uint32, error)
	StoreWriterTail(writerID uint32, v uint32) error
}

// Stream manages the four writer-id page chains in a region.
type Stream struct {
	mem   hal.MemoryProvider
	sb    superblock
	alloc *pagealloc.Allocator
}

func New(mem hal.MemoryProvider, sb superblock, alloc *pagealloc.Allocator) *Stream {
	return &Stream{mem: mem, sb: sb, alloc: alloc}
}

// Append writes one length-framed record into writerID's chain. It is not
// safe to call concurrently for the same writerID (the tail page's cursor
// is read and advanced without a CAS); spec.md's single-writer invariant
// means callers never share a writer id across goroutines/processes.
func (s *Stream) Append(writerID uint32, payload []byte) error {
	if writerID >= region.WriterCount {
		return fmt.Errorf("stream: writer id %d out of range", writerID)
	}
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	if len(frame) > pagealloc.DataSize {
		return ErrRecordTooLarge
	}

	tail, err := s.ensureTail(writerID)
	if err != nil {
		return err
	}

	cursor, err := s.mem.AtomicLoad32(tail + pagealloc.OffCursor)
	if err != nil {
		return err
	}
	if int(cursor)+len(frame) > pagealloc.DataSize {
		next, err := s.alloc.Alloc()
		if err != nil {
			return err
		}
		if err := s.mem.AtomicStore32(tail+pagealloc.OffNext, next); err != nil {
			return err
		}
		if err := s.sb.StoreWriterTail(writerID, next); err != nil {
			return err
		}
		tail = next
		cursor = 0
	}

	if err := s.mem.WriteAt(tail+pagealloc.HeaderSize+cursor, frame); err != nil {
		return err
	}
	// Release-store: readers must not observe the new cursor until the
	// frame bytes underneath it are fully written.
	return s.mem.AtomicStore32(tail+pagealloc.OffCursor, cursor+uint32(len(frame)))
}

func (s *Stream) ensureTail(writerID uint32) (uint32, error) {
	tail, err := s.sb.WriterTail(writerID)
	if err != nil {
		return 0, err
	}
	if tail != 0 {
		return tail, nil
	}
	page, err := s.alloc.Alloc()
	if err != nil {
		return 0, err
	}
	if _, err := s.sb.CASWriterHead(writerID, 0, page); err != nil {
		return 0, err
	}
	if err := s.sb.StoreWriterTail(writerID, page); err != nil {
		return 0, err
	}
	return page, nil
}

// Cursor tracks one reader's position within a writer's chain. The zero
// value is not valid; obtain one with Stream.NewReader.
type Cursor struct {
	page uint32
	pos  uint32
}

// NewReader starts a cursor at the current head of writerID's chain. A
// reader created before any data exists will simply see nothing until the
// writer appends (Next returns ok=false, never an error, in that case).
func (s *Stream) NewReader(writerID uint32) (Cursor, error) {
	if writerID >= region.WriterCount {
		return Cursor{}, fmt.Errorf("stream: writer id %d out of range", writerID)
	}
	head, err := s.sb.WriterHead(writerID)
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{page: head}, nil
}

// Next returns the next complete record after cur, advancing cur in place.
// ok is false when there is nothing new to read yet, not an error.
func (s *Stream) Next(cur *Cursor) ([]byte, bool, error) {
	for {
		if cur.page == 0 {
			return nil, false, nil
		}
		// Acquire-load: pairs with the writer's release-store of the
		// cursor, so any frame bytes below it are guaranteed visible.
		written, err := s.mem.AtomicLoad32(cur.page + pagealloc.OffCursor)
		if err != nil {
			return nil, false, err
		}
		if cur.pos+frameHeaderSize <= written {
			var lenBuf [frameHeaderSize]byte
			if err := s.mem.ReadAt(cur.page+pagealloc.HeaderSize+cur.pos, lenBuf[:]); err != nil {
				return nil, false, err
			}
			length := binary.LittleEndian.Uint32(lenBuf[:])
			if cur.pos+frameHeaderSize+length <= written {
				payload := make([]byte, length)
				if err := s.mem.ReadAt(cur.page+pagealloc.HeaderSize+cur.pos+frameHeaderSize, payload); err != nil {
					return nil, false, err
				}
				cur.pos += frameHeaderSize + length
				return payload, true, nil
			}
		}
		next, err := s.mem.AtomicLoad32(cur.page + pagealloc.OffNext)
		if err != nil {
			return nil, false, err
		}
		if next != 0 && cur.pos >= written {
			cur.page = next
			cur.pos = 0
			continue
		}
		return nil, false, nil
	}
}

// Latest scans writerID's chain from the head on every call and returns
// the most recently completed frame's payload, copied out. It never
// advances or retains any state between calls: spec.md §4.5's
// read_latest_bytes is a plain query, not a consuming reader, and
// astest/guest/src/api.rs::read_latest_bytes confirms this by reassigning
// latest_data on every completely-read frame and only returning it after
// walking to the end of the chain — the last complete frame found wins,
// even across repeated calls that see the same data.
func (s *Stream) Latest(writerID uint32) ([]byte, bool, error) {
	offset, length, ok, err := s.LatestOffset(writerID)
	if err != nil || !ok {
		return nil, ok, err
	}
	payload := make([]byte, length)
	if err := s.mem.ReadAt(offset, payload); err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// LatestOffset behaves like Latest but returns the record's region offset
// and length instead of copying it out, for callers that want a zero-copy
// view directly into the mapped region (guestapi.Reader). Partial frames
// (the in-progress write at the tail) are skipped, not returned.
func (s *Stream) LatestOffset(writerID uint32) (offset uint32, length uint32, ok bool, err error) {
	if writerID >= region.WriterCount {
		return 0, 0, false, fmt.Errorf("stream: writer id %d out of range", writerID)
	}
	page, err := s.sb.WriterHead(writerID)
	if err != nil {
		return 0, 0, false, err
	}
	for page != 0 {
		// Acquire-load: pairs with the writer's release-store of the
		// cursor, so any frame bytes below it are guaranteed visible.
		written, err := s.mem.AtomicLoad32(page + pagealloc.OffCursor)
		if err != nil {
			return 0, 0, false, err
		}
		pos := uint32(0)
		for pos+frameHeaderSize <= written {
			var lenBuf [frameHeaderSize]byte
			if err := s.mem.ReadAt(page+pagealloc.HeaderSize+pos, lenBuf[:]); err != nil {
				return 0, 0, false, err
			}
			recLen := binary.LittleEndian.Uint32(lenBuf[:])
			if pos+frameHeaderSize+recLen > written {
				break // partial frame at the tail: stop, don't return it
			}
			offset = page + pagealloc.HeaderSize + pos + frameHeaderSize
			length = recLen
			ok = true
			pos += frameHeaderSize + recLen
		}
		next, err := s.mem.AtomicLoad32(page + pagealloc.OffNext)
		if err != nil {
			return 0, 0, false, err
		}
		page = next
	}
	return offset, length, ok, nil
}
