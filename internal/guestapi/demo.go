package guestapi

import (
	"encoding/json"
	"fmt"
)

// demoRecord is the JSON-ish record the demo writer appends to its stream,
// matching the shape guest/src/lib.rs's writer(id) produces.
type demoRecord struct {
	WorkerID  uint32 `json:"worker_id"`
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp"`
}

const sharedStateDemoKey = "demo_shared_key"

// DemoWriter reproduces the original guest's writer(id) workload: bump two
// named atomics, write a per-worker named atomic, contend a shared-state
// key, and append a stream record. It exists as a runnable example node
// function and a template for user-defined ones (spec.md §6).
func (a *API) DemoWriter(writerID uint32, timestamp int64) error {
	if _, err := a.AddNamedAtomic("total_requests", 1); err != nil {
		return fmt.Errorf("demo writer: total_requests: %w", err)
	}
	seq, err := a.AddNamedAtomic("global_batch_counter", 1)
	if err != nil {
		return fmt.Errorf("demo writer: global_batch_counter: %w", err)
	}
	if _, err := a.AddNamedAtomic(fmt.Sprintf("worker_%d_count", writerID), 1); err != nil {
		return fmt.Errorf("demo writer: per-worker counter: %w", err)
	}

	payload, err := json.Marshal(struct {
		WorkerID uint32 `json:"worker_id"`
		Sequence uint64 `json:"sequence"`
	}{writerID, seq})
	if err != nil {
		return fmt.Errorf("demo writer: marshal shared-state payload: %w", err)
	}
	if err := a.WriteSharedState(writerID, sharedStateDemoKey, payload); err != nil {
		return fmt.Errorf("demo writer: shared state submit: %w", err)
	}

	rec, err := json.Marshal(demoRecord{WorkerID: writerID, Sequence: seq, Timestamp: timestamp})
	if err != nil {
		return fmt.Errorf("demo writer: marshal record: %w", err)
	}
	if err := a.AppendBytes(writerID, rec); err != nil {
		return fmt.Errorf("demo writer: stream append: %w", err)
	}
	return nil
}

// DemoReader reads, without consuming, whatever is newest in writerID's
// stream and the organized shared-state key, for operator inspection.
func (a *API) DemoReader(writerID uint32) (record []byte, sharedState []byte, err error) {
	packed, err := a.Reader(writerID)
	if err != nil {
		return nil, nil, fmt.Errorf("demo reader: stream read: %w", err)
	}
	if packed != 0 {
		offset := uint32(packed >> 32)
		length := uint32(packed)
		record = make([]byte, length)
		if err := a.mem.ReadAt(offset, record); err != nil {
			return nil, nil, fmt.Errorf("demo reader: read packed record: %w", err)
		}
	}
	sharedState, err = a.ReadSharedState(sharedStateDemoKey)
	if err != nil {
		return nil, nil, fmt.Errorf("demo reader: shared state read: %w", err)
	}
	return record, sharedState, nil
}
