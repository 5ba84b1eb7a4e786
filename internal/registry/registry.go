// Package registry implements the named registry (a spinlock-guarded,
// linear-scan, append-only table mapping string names to atomic-arena
// indices and, later, to organizer-published shared-state payloads) and the
// flat atomic arena that shares its index namespace.
package registry

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/region"
)

const (
	entrySize    = region.RegistryEntrySize // 64
	offName      = 0
	nameLen      = region.MaxNameLength // 52
	offIndex     = nameLen              // 52
	offPayloadOff = nameLen + 4         // 56
	offPayloadLen = nameLen + 8         // 60

	capacity = region.RegistrySize / entrySize
)

var (
	ErrNameTooLong  = errors.New("registry: name exceeds 52 bytes")
	ErrRegistryFull = errors.New("registry: no free entry slots remain")
)

// Registry is a host-resolvable directory from name to atomic-arena index.
// Every mutation happens under the superblock's registry spinlock; reads of
// already-published entries need no lock (the name and index fields are
// written once, before the entry becomes visible to a scan).
type Registry struct {
	mem hal.MemoryProvider
	sb  *region.Superblock
}

func New(mem hal.MemoryProvider, sb *region.Superblock) *Registry {
	return &Registry{mem: mem, sb: sb}
}

func entryOffset(i uint32) uint32 { return region.RegistryOffset + i*entrySize }

// Resolve returns the atomic-arena index for name, creating a new entry
// (and a corresponding atomic-arena slot) if one does not already exist.
// This is the host-only `resolve_atomic` upcall from spec.md §6: guests
// never scan the registry themselves.
func (r *Registry) Resolve(name string) (uint32, error) {
	if len(name) > nameLen {
		return 0, ErrNameTooLong
	}

	r.lock()
	defer r.unlock()

	for i := uint32(0); i < capacity; i++ {
		off := entryOffset(i)
		var nameBuf [nameLen]byte
		if err := r.mem.ReadAt(off+offName, nameBuf[:]); err != nil {
			return 0, err
		}
		if nameBuf[0] == 0 {
			return r.appendLocked(i, name)
		}
		if entryNameEquals(nameBuf[:], name) {
			idx, err := r.mem.AtomicLoad32(off + offIndex)
			if err != nil {
				return 0, err
			}
			return idx, nil
		}
	}
	return 0, ErrRegistryFull
}

func entryNameEquals(buf []byte, name string) bool {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n]) == name
}

// appendLocked writes a fresh entry at slot i and allocates it the next
// atomic-arena index. Caller must hold the registry lock.
func (r *Registry) appendLocked(i uint32, name string) (uint32, error) {
	idx, err := r.sb.NextAtomicIdx()
	if err != nil {
		return 0, err
	}
	off := entryOffset(i)

	var nameBuf [nameLen]byte
	copy(nameBuf[:], name)
	if err := r.mem.WriteAt(off+offName, nameBuf[:]); err != nil {
		return 0, err
	}
	if err := r.mem.AtomicStore32(off+offIndex, idx); err != nil {
		return 0, err
	}
	if err := r.mem.AtomicStore32(off+offPayloadOff, 0); err != nil {
		return 0, err
	}
	if err := r.mem.AtomicStore32(off+offPayloadLen, 0); err != nil {
		return 0, err
	}
	if err := r.sb.StoreNextAtomicIdx(idx + 1); err != nil {
		return 0, err
	}
	return idx, nil
}

// PayloadFor returns the offset/length the organizer most recently
// published for the registry index backing `name`, or (0, 0) if nothing has
// been published yet. Readable without the registry lock: payload fields
// are published with release ordering by the organizer and observed here
// with acquire ordering (spec.md §5).
func (r *Registry) PayloadFor(index uint32) (uint32, uint32, error) {
	off, err := r.entryOffsetForIndex(index)
	if err != nil {
		return 0, 0, err
	}
	// Length first: it is the field PublishPayload stores last, so a
	// nonzero length read here implies the offset store is visible too.
	payloadLen, err := r.mem.AtomicLoad32(off + offPayloadLen)
	if err != nil {
		return 0, 0, err
	}
	payloadOff, err := r.mem.AtomicLoad32(off + offPayloadOff)
	if err != nil {
		return 0, 0, err
	}
	return payloadOff, payloadLen, nil
}

// PublishPayload is called by the organizer to record the winning node's
// payload location for a registry index. payloadLen is stored last (release
// semantics): a reader that observes a nonzero length is guaranteed to see
// a valid offset.
func (r *Registry) PublishPayload(index uint32, payloadOff, payloadLen uint32) error {
	off, err := r.entryOffsetForIndex(index)
	if err != nil {
		return err
	}
	if err := r.mem.AtomicStore32(off+offPayloadOff, payloadOff); err != nil {
		return err
	}
	return r.mem.AtomicStore32(off+offPayloadLen, payloadLen)
}

func (r *Registry) entryOffsetForIndex(index uint32) (uint32, error) {
	for i := uint32(0); i < capacity; i++ {
		off := entryOffset(i)
		var nameBuf [nameLen]byte
		if err := r.mem.ReadAt(off+offName, nameBuf[:]); err != nil {
			return 0, err
		}
		if nameBuf[0] == 0 {
			break
		}
		idx, err := r.mem.AtomicLoad32(off + offIndex)
		if err != nil {
			return 0, err
		}
		if idx == index {
			return off, nil
		}
	}
	return 0, fmt.Errorf("registry: no entry for index %d", index)
}

func (r *Registry) lock() {
	for {
		ok, err := r.sb.TryLockRegistry()
		if err == nil && ok {
			return
		}
		runtime.Gosched()
	}
}

func (r *Registry) unlock() {
	_ = r.sb.UnlockRegistry()
}
