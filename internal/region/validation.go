package region

import "fmt"

// ValidateSize checks that a candidate region size can hold the fixed
// header regions (superblock, registry, atomic arena, log arena) plus at
// least one page of allocatable arena, and does not exceed the hard
// ceiling. Mirrors the teacher's layout-overlap checks, simplified because
// this module's header regions are statically laid out rather than
// dynamically registered.
func ValidateSize(size uint32) error {
	if size < ArenaOffset+PageSize {
		return fmt.Errorf("region: size %d too small for fixed header regions (need >= %d)", size, ArenaOffset+PageSize)
	}
	if size > BumpCeiling {
		return fmt.Errorf("region: size %d exceeds hard ceiling %d", size, BumpCeiling)
	}
	return nil
}

// Regions describes the static layout for diagnostics (the `dump` CLI role).
type Region struct {
	Name   string
	Offset uint32
	Size   uint32
}

func Regions(totalSize uint32) []Region {
	arenaSize := uint32(0)
	if totalSize > ArenaOffset {
		arenaSize = totalSize - ArenaOffset
	}
	return []Region{
		{"Superblock", 0, SuperblockSize},
		{"Registry", RegistryOffset, RegistrySize},
		{"AtomicArena", AtomicArenaOffset, AtomicArenaSize},
		{"LogArena", LogArenaOffset, LogArenaSize},
		{"PageArena", ArenaOffset, arenaSize},
	}
}
