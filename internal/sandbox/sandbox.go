// Package sandbox runs guest node functions against the fabric, either
// in-process (ThreadGuest, sharing the host's address space directly) or
// inside a real WASM instance (WasmerGuest, via wasmer-go), matching
// astest/host/src/worker.rs's choice of execution strategy per run.
package sandbox

// Guest is the execution surface a worker role drives: one writer tick,
// one reader tick, and a global-capacity probe.
type Guest interface {
	Writer(id uint32) error
	Reader(id uint32) (packed uint64, err error)
	ReadLiveGlobal() (uint64, error)
	Close() error
}
