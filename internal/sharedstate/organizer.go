package sharedstate

import (
	"github.com/nmxmxh/shmfabric/internal/pagealloc"
	"github.com/nmxmxh/shmfabric/internal/region"
	"github.com/nmxmxh/shmfabric/internal/registry"
)

// Node is one bucket-chain submission, fully reconstructed: payload bytes
// plus the bookkeeping the organizer needs to recycle its pages.
type Node struct {
	WriterID      uint32
	RegistryIndex uint32
	Payload       []byte

	headOffset uint32
	pages      []uint32
}

// Policy resolves a group of competing submissions for the same registry
// index to the index of the winning Node within the group.
type Policy func(nodes []Node) int

// Organizer is host-only: it detaches every bucket's submission chain,
// resolves each registry index's competing submissions, publishes the
// winner into the registry, and recycles every loser (and the previously
// published winner, now orphaned) back to the page allocator.
type Organizer struct {
	ss       *SharedState
	registry *registry.Registry
	alloc    *pagealloc.Allocator
}

func NewOrganizer(ss *SharedState, reg *registry.Registry, alloc *pagealloc.Allocator) *Organizer {
	return &Organizer{ss: ss, registry: reg, alloc: alloc}
}

// ConsumeAllBuckets runs one full organize pass.
func (o *Organizer) ConsumeAllBuckets(policy Policy) error {
	for bucket := uint32(0); bucket < region.BucketCount; bucket++ {
		if err := o.consumeBucket(bucket, policy); err != nil {
			return err
		}
	}
	return nil
}

func (o *Organizer) consumeBucket(bucket uint32, policy Policy) error {
	bucketOff, err := o.ss.bucketOffset(bucket)
	if err != nil {
		return err
	}
	head, err := o.detach(bucketOff)
	if err != nil {
		return err
	}
	if head == 0 {
		return nil
	}

	nodes, err := o.collect(head)
	if err != nil {
		return err
	}

	order, groups := groupByRegistryIndex(nodes)
	for _, idx := range order {
		group := groups[idx]
		winnerIdx := policy(group)
		winner := group[winnerIdx]

		oldOff, oldLen, err := o.registry.PayloadFor(idx)
		if err != nil {
			return err
		}
		if oldLen > 0 && oldOff != winner.headOffset {
			if err := o.recycleChainAt(oldOff); err != nil {
				return err
			}
		}

		if err := o.registry.PublishPayload(idx, winner.headOffset, uint32(len(winner.Payload))); err != nil {
			return err
		}

		for i, n := range group {
			if i == winnerIdx {
				continue
			}
			if err := o.recyclePages(n.pages); err != nil {
				return err
			}
		}
	}
	return nil
}

func groupByRegistryIndex(nodes []Node) ([]uint32, map[uint32][]Node) {
	order := make([]uint32, 0, len(nodes))
	groups := make(map[uint32][]Node, len(nodes))
	for _, n := range nodes {
		if _, seen := groups[n.RegistryIndex]; !seen {
			order = append(order, n.RegistryIndex)
		}
		groups[n.RegistryIndex] = append(groups[n.RegistryIndex], n)
	}
	return order, groups
}

// detach atomically swaps a bucket head to 0 and returns the previous
// value, via a CAS loop (there is no single-instruction atomic swap
// exposed by hal.MemoryProvider).
func (o *Organizer) detach(bucketOff uint32) (uint32, error) {
	for {
		head, err := o.ss.mem.AtomicLoad32(bucketOff)
		if err != nil {
			return 0, err
		}
		if head == 0 {
			return 0, nil
		}
		ok, err := o.ss.mem.AtomicCAS32(bucketOff, head, 0)
		if err != nil {
			return 0, err
		}
		if ok {
			return head, nil
		}
	}
}

// collect walks a detached chain from its head. The chain was built by
// CAS-prepend, so head is the most recently submitted node; collect
// preserves that order, which is exactly what LastWriteWins needs.
func (o *Organizer) collect(head uint32) ([]Node, error) {
	var nodes []Node
	cur := head
	for cur != 0 {
		writerID, registryIndex, payload, pages, err := readChain(o.ss.mem, cur)
		if err != nil {
			return nil, err
		}
		next, err := o.ss.mem.AtomicLoad32(cur + offNextNode)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, Node{
			WriterID:      writerID,
			RegistryIndex: registryIndex,
			Payload:       payload,
			headOffset:    cur,
			pages:         pages,
		})
		cur = next
	}
	return nodes, nil
}

func (o *Organizer) recycleChainAt(head uint32) error {
	_, _, _, pages, err := readChain(o.ss.mem, head)
	if err != nil {
		return err
	}
	return o.recyclePages(pages)
}

// recyclePages pushes every page onto the free list one at a time (never
// spliced in as a whole list), so a concurrent popper never observes a
// chain that is only half-linked.
func (o *Organizer) recyclePages(pages []uint32) error {
	for _, p := range pages {
		if err := o.alloc.Free(p); err != nil {
			return err
		}
	}
	return nil
}
