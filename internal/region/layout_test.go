package region

import "testing"

func TestLayoutNoOverlap(t *testing.T) {
	if RegistryOffset < SuperblockSize {
		t.Error("registry overlaps superblock")
	}
	if AtomicArenaOffset < RegistryOffset+RegistrySize {
		t.Error("atomic arena overlaps registry")
	}
	if LogArenaOffset < AtomicArenaOffset+AtomicArenaSize {
		t.Error("log arena overlaps atomic arena")
	}
	if ArenaOffset < LogArenaOffset+LogArenaSize {
		t.Error("page arena overlaps log arena")
	}
}

func TestValidateSize(t *testing.T) {
	if err := ValidateSize(InitialRegionSize); err != nil {
		t.Errorf("InitialRegionSize should validate: %v", err)
	}
	if err := ValidateSize(ArenaOffset); err == nil {
		t.Error("size with zero arena pages should be rejected")
	}
	if err := ValidateSize(BumpCeiling + 1); err == nil {
		t.Error("size above the hard ceiling should be rejected")
	}
}

func TestWriterOffsetsFitSuperblock(t *testing.T) {
	if OffWriterHeads+WriterCount*4 > SuperblockSize {
		t.Error("writer heads overflow the superblock")
	}
	if OffWriterTails+WriterCount*4 > SuperblockSize {
		t.Error("writer tails overflow the superblock")
	}
}
