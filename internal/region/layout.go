// Package region defines the fixed byte layout of the shared-memory region
// and the superblock accessor used to read and mutate it atomically.
package region

const (
	PageSize       = 4096
	SuperblockSize = 4096

	RegistrySize    = 1 << 20 // 1 MiB
	AtomicArenaSize = 1 << 20 // 1 MiB
	LogArenaSize    = 16 << 20

	RegistryOffset    = SuperblockSize
	AtomicArenaOffset = RegistryOffset + RegistrySize
	LogArenaOffset    = AtomicArenaOffset + AtomicArenaSize
	ArenaOffset       = LogArenaOffset + LogArenaSize // == BumpAllocatorStart

	InitialRegionSize = 36 << 20  // 36 MiB, astest/common/src/lib.rs INITIAL_SHM_SIZE
	MaxRegionSize     = 1 << 31   // 2 GiB
	BumpCeiling       = 0x7FF0_0000

	BucketCount       = PageSize / 4 // 1024
	RegistryEntrySize = 64
	MaxNameLength     = 52

	WriterCount = 4

	Magic uint32 = 0xDEADBEEF
)

// Superblock field byte offsets, pinned to astest/common/src/lib.rs's
// Superblock field order: magic, bump, global_capacity, log_cursor,
// registry_lock, next_atomic_idx, map_base, free_list_head, writer_heads[4],
// writer_tails[4].
const (
	OffMagic          = 0
	OffBump           = 4
	OffGlobalCapacity = 8
	OffLogCursor      = 12
	OffRegistryLock   = 16
	OffNextAtomicIdx  = 20
	OffMapBase        = 24
	OffFreeListHead   = 28
	OffWriterHeads    = 32 // [4]uint32, 32..48
	OffWriterTails    = 48 // [4]uint32, 48..64
)
