// Package fabric wires every channel (registry, atomic arena, log arena,
// stream, shared state) onto one mapped region and owns the two
// region-level lifecycle operations: formatting a fresh region and
// attaching to an existing one.
package fabric

import (
	"fmt"

	"github.com/nmxmxh/shmfabric/internal/capacity"
	"github.com/nmxmxh/shmfabric/internal/fabriclog"
	"github.com/nmxmxh/shmfabric/internal/guestapi"
	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/logarena"
	"github.com/nmxmxh/shmfabric/internal/pagealloc"
	"github.com/nmxmxh/shmfabric/internal/region"
	"github.com/nmxmxh/shmfabric/internal/registry"
	"github.com/nmxmxh/shmfabric/internal/sharedstate"
	"github.com/nmxmxh/shmfabric/internal/stream"
)

// Fabric is the assembled channel set backing one mapped region.
type Fabric struct {
	Mem        hal.MemoryProvider
	Superblock *region.Superblock
	Capacity   *capacity.Manager
	Pages      *pagealloc.Allocator
	Registry   *registry.Registry
	Atomic     *registry.AtomicArena
	Log        *logarena.LogArena
	Stream     *stream.Stream
	Shared     *sharedstate.SharedState
	Organizer  *sharedstate.Organizer
	API        *guestapi.API

	log *fabriclog.Logger
}

// Format lays down a fresh superblock over mem and allocates the
// shared-state bucket table, then wires the rest of the channel set on
// top. mem must already be sized to at least region.InitialRegionSize.
// A format/mapping failure is fatal (log.Fatal), matching the original
// node's panic-on-bad-mapping startup contract.
func Format(mem hal.MemoryProvider, log *fabriclog.Logger) *Fabric {
	sb := region.New(mem)
	if err := sb.WriteMagic(); err != nil {
		log.Fatal("format: write magic", fabriclog.Err(err))
	}
	if err := sb.StoreGlobalCapacity(mem.Size()); err != nil {
		log.Fatal("format: store global capacity", fabriclog.Err(err))
	}

	cap := capacity.New(mem, sb, mem.Size())
	alloc := pagealloc.New(mem, sb, cap)
	if err := alloc.InitBump(); err != nil {
		log.Fatal("format: init bump allocator", fabriclog.Err(err))
	}

	bucketTable, err := alloc.Alloc()
	if err != nil {
		log.Fatal("format: allocate shared-state bucket table", fabriclog.Err(err))
	}
	if err := sb.StoreMapBase(bucketTable); err != nil {
		log.Fatal("format: store bucket table offset", fabriclog.Err(err))
	}

	return assemble(mem, sb, cap, alloc, log)
}

// Open attaches to an existing formatted region, validating its magic
// before wiring the channel set.
func Open(mem hal.MemoryProvider, log *fabriclog.Logger) (*Fabric, error) {
	sb := region.New(mem)
	magic, err := sb.Magic()
	if err != nil {
		return nil, fmt.Errorf("fabric: read magic: %w", err)
	}
	if magic != region.Magic {
		return nil, fmt.Errorf("fabric: bad magic 0x%x, region is not formatted", magic)
	}

	global, err := sb.GlobalCapacity()
	if err != nil {
		return nil, fmt.Errorf("fabric: read global capacity: %w", err)
	}
	cap := capacity.New(mem, sb, mem.Size())
	if err := cap.EnsureLocal(global); err != nil {
		return nil, fmt.Errorf("fabric: sync local mapping to global capacity: %w", err)
	}
	alloc := pagealloc.New(mem, sb, cap)

	return assemble(mem, sb, cap, alloc, log), nil
}

func assemble(mem hal.MemoryProvider, sb *region.Superblock, cap *capacity.Manager, alloc *pagealloc.Allocator, log *fabriclog.Logger) *Fabric {
	reg := registry.New(mem, sb)
	arena := registry.NewAtomicArena(mem)
	lg := logarena.New(mem, sb)
	strm := stream.New(mem, sb, alloc)
	shared := sharedstate.New(mem, sb, alloc)
	org := sharedstate.NewOrganizer(shared, reg, alloc)
	api := guestapi.New(mem, reg, arena, lg, strm, shared)

	return &Fabric{
		Mem:        mem,
		Superblock: sb,
		Capacity:   cap,
		Pages:      alloc,
		Registry:   reg,
		Atomic:     arena,
		Log:        lg,
		Stream:     strm,
		Shared:     shared,
		Organizer:  org,
		API:        api,
		log:        log,
	}
}

// Close releases the underlying mapping, logging (but not panicking on)
// any unmap failure.
func (f *Fabric) Close() error {
	if err := f.Mem.Close(); err != nil {
		f.log.Error("close mapping", fabriclog.Err(err))
		return err
	}
	return nil
}
