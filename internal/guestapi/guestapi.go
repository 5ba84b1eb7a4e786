// Package guestapi is the surface guest node functions call: named
// atomics, log appends, per-writer stream append/read, and shared-state
// submission. It is the Go-side equivalent of the original guest/src/api.rs
// ShmApi, adapted so a guest running in-process (internal/sandbox's thread
// guest) or inside a WASM instance (the wasmer-go guest) sees the same
// method set either way.
package guestapi

import (
	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/logarena"
	"github.com/nmxmxh/shmfabric/internal/region"
	"github.com/nmxmxh/shmfabric/internal/registry"
	"github.com/nmxmxh/shmfabric/internal/sharedstate"
	"github.com/nmxmxh/shmfabric/internal/stream"
)

// API wires every channel together behind the guest-callable surface.
type API struct {
	mem      hal.MemoryProvider
	registry *registry.Registry
	arena    *registry.AtomicArena
	log      *logarena.LogArena
	stream   *stream.Stream
	shared   *sharedstate.SharedState
}

func New(mem hal.MemoryProvider, reg *registry.Registry, arena *registry.AtomicArena, log *logarena.LogArena, strm *stream.Stream, shared *sharedstate.SharedState) *API {
	return &API{mem: mem, registry: reg, arena: arena, log: log, stream: strm, shared: shared}
}

// AppendLog writes raw bytes to the unframed log arena.
func (a *API) AppendLog(data []byte) error { return a.log.Append(data) }

// ResolveAtomic is the host-only upcall backing named-atomic lookups: it
// resolves (creating if necessary) the registry index for name.
func (a *API) ResolveAtomic(name string) (uint32, error) { return a.registry.Resolve(name) }

// GetNamedAtomic reads the u64 counter behind name, creating its registry
// entry on first use.
func (a *API) GetNamedAtomic(name string) (uint64, error) {
	idx, err := a.registry.Resolve(name)
	if err != nil {
		return 0, err
	}
	return a.arena.Get(idx)
}

// AddNamedAtomic increments the u64 counter behind name and returns its
// new value.
func (a *API) AddNamedAtomic(name string, delta uint64) (uint64, error) {
	idx, err := a.registry.Resolve(name)
	if err != nil {
		return 0, err
	}
	return a.arena.Add(idx, delta)
}

// GetAtomic reads an already-resolved index directly, for callers that
// cached the index from a prior ResolveAtomic/GetNamedAtomic call.
func (a *API) GetAtomic(index uint32) (uint64, error) { return a.arena.Get(index) }

// AppendBytes writes one length-framed record to writerID's stream.
func (a *API) AppendBytes(writerID uint32, payload []byte) error {
	return a.stream.Append(writerID, payload)
}

// Reader returns the most recently completed record in writerID's stream,
// packed as (offset<<32)|length, an offset into the region rather than a
// raw pointer (spec.md §9's address-space-coupling note sanctions this
// substitution for guest models, like WASM, that don't share the host's
// pointer space). This is a non-consuming query per spec.md §4.5/§6:
// every call rescans the chain from its head, so repeated calls with no
// new writes return the same record rather than advancing past it. A
// zero return means nothing has been completely written yet.
func (a *API) Reader(writerID uint32) (uint64, error) {
	offset, length, ok, err := a.stream.LatestOffset(writerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return (uint64(offset) << 32) | uint64(length), nil
}

// ReadLiveGlobal reports the region's current global capacity, the guest's
// equivalent of read_live_global() in the original guest library.
func (a *API) ReadLiveGlobal(sb *region.Superblock) (uint64, error) {
	cap, err := sb.GlobalCapacity()
	return uint64(cap), err
}

// WriteSharedState submits data under key into the shared-state channel.
func (a *API) WriteSharedState(writerID uint32, key string, data []byte) error {
	idx, err := a.registry.Resolve(key)
	if err != nil {
		return err
	}
	return a.shared.Submit(writerID, idx, data)
}

// ReadSharedState returns the organizer's most recently published payload
// for key, or nil if nothing has been organized yet.
func (a *API) ReadSharedState(key string) ([]byte, error) {
	idx, err := a.registry.Resolve(key)
	if err != nil {
		return nil, err
	}
	off, _, err := a.registry.PayloadFor(idx)
	if err != nil {
		return nil, err
	}
	return sharedstate.ReadPublished(a.mem, off)
}
