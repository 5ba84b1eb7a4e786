package sandbox

import (
	"fmt"
	"os"

	"github.com/nmxmxh/shmfabric/internal/capacity"
	"github.com/nmxmxh/shmfabric/internal/registry"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// WasmerGuest runs guest node functions inside a real WASM instance,
// matching astest/host/src/worker.rs's wasmtime-based worker: host_remap
// and host_resolve_atomic are exposed as env imports so the guest never
// needs its own capacity-growth or registry logic, only a pointer into
// its own linear memory.
type WasmerGuest struct {
	instance *wasmer.Instance
	memory   *wasmer.Memory

	writerFn         wasmer.NativeFunction
	readerFn         wasmer.NativeFunction
	readLiveGlobalFn wasmer.NativeFunction
}

// NewWasmerGuest loads wasmPath and instantiates it, wiring host_remap
// (backed by cap) and host_resolve_atomic (backed by reg) as env imports.
func NewWasmerGuest(wasmPath string, cap *capacity.Manager, reg *registry.Registry) (*WasmerGuest, error) {
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("wasmer guest: read module: %w", err)
	}

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("wasmer guest: compile module: %w", err)
	}

	importObject := wasmer.NewImportObject()
	var guestMemory *wasmer.Memory

	hostRemap := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32), wasmer.NewValueTypes()),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if err := cap.Remap(uint32(args[0].I32())); err != nil {
				return nil, fmt.Errorf("host_remap: %w", err)
			}
			return []wasmer.Value{}, nil
		},
	)

	hostResolveAtomic := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(wasmer.NewValueTypes(wasmer.I32, wasmer.I32), wasmer.NewValueTypes(wasmer.I32)),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if guestMemory == nil {
				return nil, fmt.Errorf("host_resolve_atomic: guest memory not yet exported")
			}
			ptr, length := args[0].I32(), args[1].I32()
			data := guestMemory.Data()
			if int(ptr+length) > len(data) {
				return nil, fmt.Errorf("host_resolve_atomic: name out of bounds")
			}
			idx, err := reg.Resolve(string(data[ptr : ptr+length]))
			if err != nil {
				return nil, fmt.Errorf("host_resolve_atomic: %w", err)
			}
			return []wasmer.Value{wasmer.NewI32(int32(idx))}, nil
		},
	)

	importObject.Register("env", map[string]wasmer.IntoExtern{
		"host_remap":          hostRemap,
		"host_resolve_atomic": hostResolveAtomic,
	})

	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return nil, fmt.Errorf("wasmer guest: instantiate: %w", err)
	}

	guestMemory, err = instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, fmt.Errorf("wasmer guest: missing exported memory: %w", err)
	}

	writerFn, err := instance.Exports.GetFunction("writer")
	if err != nil {
		return nil, fmt.Errorf("wasmer guest: missing writer export: %w", err)
	}
	readerFn, err := instance.Exports.GetFunction("reader")
	if err != nil {
		return nil, fmt.Errorf("wasmer guest: missing reader export: %w", err)
	}
	readLiveGlobalFn, err := instance.Exports.GetFunction("read_live_global")
	if err != nil {
		return nil, fmt.Errorf("wasmer guest: missing read_live_global export: %w", err)
	}

	return &WasmerGuest{
		instance:         instance,
		memory:           guestMemory,
		writerFn:         writerFn,
		readerFn:         readerFn,
		readLiveGlobalFn: readLiveGlobalFn,
	}, nil
}

func (g *WasmerGuest) Writer(id uint32) error {
	_, err := g.writerFn(int32(id))
	return err
}

func (g *WasmerGuest) Reader(id uint32) (uint64, error) {
	result, err := g.readerFn(int32(id))
	if err != nil {
		return 0, err
	}
	packed, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("wasmer guest: reader returned unexpected type %T", result)
	}
	return uint64(packed), nil
}

// ReadLiveGlobal calls the guest's exported read_live_global function and
// returns its i64 result as the live global capacity.
func (g *WasmerGuest) ReadLiveGlobal() (uint64, error) {
	result, err := g.readLiveGlobalFn()
	if err != nil {
		return 0, err
	}
	packed, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("wasmer guest: read_live_global returned unexpected type %T", result)
	}
	return uint64(packed), nil
}

func (g *WasmerGuest) Close() error { return nil }
