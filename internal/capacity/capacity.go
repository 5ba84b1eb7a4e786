// Package capacity implements the region growth contract: doubling the
// region size on demand, capped below the hard ceiling, with each process
// tracking its own view of how much of the region it has mapped.
package capacity

import (
	"fmt"

	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/region"
)

// Manager tracks a process-local view of the region size (localCapacity)
// against the authoritative size recorded in the superblock
// (global_capacity). Only the host process actually performs remap(); guest
// sandboxes observe global_capacity and ask the host to remap on their
// behalf through an upcall (internal/sandbox).
type Manager struct {
	mem   hal.MemoryProvider
	sb    *region.Superblock
	local uint32
}

// New wraps a provider already mapped at size localSize.
func New(mem hal.MemoryProvider, sb *region.Superblock, localSize uint32) *Manager {
	return &Manager{mem: mem, sb: sb, local: localSize}
}

// LocalCapacity returns how much of the region this process has mapped.
func (m *Manager) LocalCapacity() uint32 { return m.local }

// GlobalCapacity returns the authoritative size recorded in the superblock,
// which may be larger than LocalCapacity if another process grew the region
// since this process last synced.
func (m *Manager) GlobalCapacity() (uint32, error) { return m.sb.GlobalCapacity() }

// NextSize computes the grown size for a region currently at `current`:
// double it, capped at region.BumpCeiling, and never exceeding
// region.MaxRegionSize.
func NextSize(current uint32) uint32 {
	next := current * 2
	if next > region.BumpCeiling {
		next = region.BumpCeiling
	}
	if next > region.MaxRegionSize {
		next = region.MaxRegionSize
	}
	if next <= current {
		next = current
	}
	return next
}

// Remap is host-only: it truncates and re-maps the backing file in place,
// then publishes the new size into the superblock so other processes can
// observe it. Idempotent for newSize <= the current global capacity.
// Remap failures are fatal for the calling process (spec.md §7): the
// caller should log and exit rather than continue with a stale mapping.
func (m *Manager) Remap(newSize uint32) error {
	global, err := m.sb.GlobalCapacity()
	if err != nil {
		return fmt.Errorf("capacity: read global capacity: %w", err)
	}
	if newSize <= global {
		if err := m.mem.Remap(global); err != nil {
			return fmt.Errorf("capacity: sync remap to %d: %w", global, err)
		}
		m.local = global
		return nil
	}
	if newSize > region.BumpCeiling {
		return hal.ErrCapacityExceeded
	}
	if err := m.mem.Remap(newSize); err != nil {
		return fmt.Errorf("capacity: remap to %d: %w", newSize, err)
	}
	m.local = newSize

	for {
		cur, err := m.sb.GlobalCapacity()
		if err != nil {
			return fmt.Errorf("capacity: read global capacity after remap: %w", err)
		}
		if cur >= newSize {
			return nil
		}
		ok, err := m.sb.CASGlobalCapacity(cur, newSize)
		if err != nil {
			return fmt.Errorf("capacity: publish global capacity: %w", err)
		}
		if ok {
			return nil
		}
	}
}

// EnsureLocal grows the local mapping to at least `need`, remapping the
// file if the host's view of global capacity already covers it, or
// growing global capacity first if not. A no-op when need <= LocalCapacity.
func (m *Manager) EnsureLocal(need uint32) error {
	if need <= m.local {
		return nil
	}
	global, err := m.sb.GlobalCapacity()
	if err != nil {
		return fmt.Errorf("capacity: read global capacity: %w", err)
	}
	if need <= global {
		if err := m.mem.Remap(global); err != nil {
			return fmt.Errorf("capacity: sync remap to %d: %w", global, err)
		}
		m.local = global
		return nil
	}
	return m.Remap(NextSize(global))
}
