package sandbox

import (
	"time"

	"github.com/nmxmxh/shmfabric/internal/guestapi"
	"github.com/nmxmxh/shmfabric/internal/region"
)

// ThreadGuest runs the demo node functions directly against the host's own
// mapping: the simplest possible guest, used when --sandbox=thread. It
// shares the host's address space, so Reader's packed (offset<<32)|len
// return value is safe to dereference directly against the same
// hal.MemoryProvider the host already holds.
type ThreadGuest struct {
	api *guestapi.API
	sb  *region.Superblock
}

func NewThreadGuest(api *guestapi.API, sb *region.Superblock) *ThreadGuest {
	return &ThreadGuest{api: api, sb: sb}
}

func (g *ThreadGuest) Writer(id uint32) error {
	return g.api.DemoWriter(id, time.Now().UnixNano())
}

func (g *ThreadGuest) Reader(id uint32) (uint64, error) {
	return g.api.Reader(id)
}

func (g *ThreadGuest) ReadLiveGlobal() (uint64, error) {
	return g.api.ReadLiveGlobal(g.sb)
}

func (g *ThreadGuest) Close() error { return nil }
