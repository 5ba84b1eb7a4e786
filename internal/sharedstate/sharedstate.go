// Package sharedstate implements the shared-state channel: a 1024-bucket
// hash table of CAS-prepended submission chains, and the host-only
// organizer that periodically consumes every bucket, resolves each
// registry index's competing submissions with a consumption policy, and
// publishes the winner into the named registry.
package sharedstate

import (
	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/pagealloc"
	"github.com/nmxmxh/shmfabric/internal/region"
)

// Head-node layout: nextNode, writerID, dataLen, registryIndex,
// nextPayloadPage (5 x u32 = 20 bytes), then payload.
const (
	offNextNode        = 0
	offWriterID        = 4
	offDataLen         = 8
	offRegistryIndex   = 12
	offNextPayloadPage = 16
	headHeaderSize     = 20
	headPayloadCap     = region.PageSize - headHeaderSize // 4076

	overflowHeaderSize = 4
	overflowPayloadCap = region.PageSize - overflowHeaderSize // 4092
)

type superblock interface {
	MapBase() (uint32, error)
}

// SharedState writes submissions into bucket chains. Reading and resolving
// those chains is the organizer's job (organizer.go); SharedState itself
// only ever appends.
type SharedState struct {
	mem   hal.MemoryProvider
	sb    superblock
	alloc *pagealloc.Allocator
}

func New(mem hal.MemoryProvider, sb superblock, alloc *pagealloc.Allocator) *SharedState {
	return &SharedState{mem: mem, sb: sb, alloc: alloc}
}

func bucketFor(registryIndex uint32) uint32 { return registryIndex % region.BucketCount }

func (s *SharedState) bucketOffset(bucket uint32) (uint32, error) {
	base, err := s.sb.MapBase()
	if err != nil {
		return 0, err
	}
	return base + bucket*4, nil
}

// Submit writes data into a fresh node and CAS-prepends it onto the bucket
// chain for registryIndex. Bucket-head insertion succeeds with release
// ordering (so a reader that observes the new head also observes every
// byte of the node underneath it) and retries on CAS failure.
func (s *SharedState) Submit(writerID, registryIndex uint32, data []byte) error {
	headOffset, err := s.writeChain(writerID, registryIndex, data)
	if err != nil {
		return err
	}
	bucketOff, err := s.bucketOffset(bucketFor(registryIndex))
	if err != nil {
		return err
	}
	for {
		head, err := s.mem.AtomicLoad32(bucketOff)
		if err != nil {
			return err
		}
		if err := s.mem.AtomicStore32(headOffset+offNextNode, head); err != nil {
			return err
		}
		ok, err := s.mem.AtomicCAS32(bucketOff, head, headOffset)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
}

// writeChain allocates and fills the head page plus as many overflow pages
// as data requires, returning the head page's offset.
func (s *SharedState) writeChain(writerID, registryIndex uint32, data []byte) (uint32, error) {
	head, err := s.alloc.Alloc()
	if err != nil {
		return 0, err
	}
	if err := s.mem.AtomicStore32(head+offWriterID, writerID); err != nil {
		return 0, err
	}
	if err := s.mem.AtomicStore32(head+offDataLen, uint32(len(data))); err != nil {
		return 0, err
	}
	if err := s.mem.AtomicStore32(head+offRegistryIndex, registryIndex); err != nil {
		return 0, err
	}

	first := data
	if len(first) > headPayloadCap {
		first = data[:headPayloadCap]
	}
	if err := s.mem.WriteAt(head+headHeaderSize, first); err != nil {
		return 0, err
	}
	rest := data[len(first):]

	prevNextField := head + offNextPayloadPage
	for len(rest) > 0 {
		page, err := s.alloc.Alloc()
		if err != nil {
			return 0, err
		}
		if err := s.mem.AtomicStore32(prevNextField, page); err != nil {
			return 0, err
		}
		chunk := rest
		if len(chunk) > overflowPayloadCap {
			chunk = rest[:overflowPayloadCap]
		}
		if err := s.mem.WriteAt(page+overflowHeaderSize, chunk); err != nil {
			return 0, err
		}
		rest = rest[len(chunk):]
		prevNextField = page + offNext
	}
	return head, nil
}

const offNext = 0 // overflow page's own next-pointer field, same offset as offNextNode's slot width

// readChain reconstructs a node's full payload and the list of page
// offsets backing it (head page first, then overflow pages in order), for
// both the organizer's winner-publication and loser-recycling paths.
func readChain(mem hal.MemoryProvider, head uint32) (writerID, registryIndex uint32, payload []byte, pages []uint32, err error) {
	writerID, err = mem.AtomicLoad32(head + offWriterID)
	if err != nil {
		return
	}
	registryIndex, err = mem.AtomicLoad32(head + offRegistryIndex)
	if err != nil {
		return
	}
	dataLen, err := mem.AtomicLoad32(head + offDataLen)
	if err != nil {
		return
	}
	pages = append(pages, head)

	payload = make([]byte, 0, dataLen)
	remaining := dataLen

	firstLen := remaining
	if firstLen > headPayloadCap {
		firstLen = headPayloadCap
	}
	buf := make([]byte, firstLen)
	if err = mem.ReadAt(head+headHeaderSize, buf); err != nil {
		return
	}
	payload = append(payload, buf...)
	remaining -= firstLen

	next, err := mem.AtomicLoad32(head + offNextPayloadPage)
	if err != nil {
		return
	}
	for remaining > 0 && next != 0 {
		pages = append(pages, next)
		chunkLen := remaining
		if chunkLen > overflowPayloadCap {
			chunkLen = overflowPayloadCap
		}
		buf := make([]byte, chunkLen)
		if err = mem.ReadAt(next+overflowHeaderSize, buf); err != nil {
			return
		}
		payload = append(payload, buf...)
		remaining -= chunkLen
		next, err = mem.AtomicLoad32(next + offNext)
		if err != nil {
			return
		}
	}
	return
}

// ReadPublished reconstructs the payload the organizer most recently
// published for a registry index, given the offset the registry reports.
// That offset is the winning node's head-page offset, not a flat copy, so
// this walks the same chain format Submit wrote; the length comes from the
// node's own data_len field.
func ReadPublished(mem hal.MemoryProvider, nodeOffset uint32) ([]byte, error) {
	if nodeOffset == 0 {
		return nil, nil
	}
	_, _, payload, _, err := readChain(mem, nodeOffset)
	return payload, err
}
