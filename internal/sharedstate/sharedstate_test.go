package sharedstate

import (
	"bytes"
	"testing"

	"github.com/nmxmxh/shmfabric/internal/capacity"
	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/pagealloc"
	"github.com/nmxmxh/shmfabric/internal/region"
	"github.com/nmxmxh/shmfabric/internal/registry"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mem   hal.MemoryProvider
	sb    *region.Superblock
	alloc *pagealloc.Allocator
	reg   *registry.Registry
	ss    *SharedState
	org   *Organizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := hal.NewInMemoryProvider(region.InitialRegionSize)
	sb := region.New(mem)
	require.NoError(t, sb.StoreGlobalCapacity(region.InitialRegionSize))
	cap := capacity.New(mem, sb, region.InitialRegionSize)
	alloc := pagealloc.New(mem, sb, cap)
	require.NoError(t, alloc.InitBump())

	bucketTablePage, err := alloc.Alloc()
	require.NoError(t, err)
	require.NoError(t, sb.StoreMapBase(bucketTablePage))

	reg := registry.New(mem, sb)
	ss := New(mem, sb, alloc)
	org := NewOrganizer(ss, reg, alloc)

	return &fixture{mem: mem, sb: sb, alloc: alloc, reg: reg, ss: ss, org: org}
}

func TestSingleSubmissionRoundTripsAfterOrganize(t *testing.T) {
	f := newFixture(t)
	idx, err := f.reg.Resolve("counter_key")
	require.NoError(t, err)

	require.NoError(t, f.ss.Submit(0, idx, []byte("payload-a")))
	require.NoError(t, f.org.ConsumeAllBuckets(LastWriteWins))

	off, length, err := f.reg.PayloadFor(idx)
	require.NoError(t, err)
	require.NotZero(t, off)
	require.EqualValues(t, len("payload-a"), length)

	got, err := ReadPublished(f.mem, off)
	require.NoError(t, err)
	require.Equal(t, []byte("payload-a"), got)
}

func TestMaxIDWinsPicksHighestWriter(t *testing.T) {
	f := newFixture(t)
	idx, err := f.reg.Resolve("contested")
	require.NoError(t, err)

	require.NoError(t, f.ss.Submit(1, idx, []byte("from-1")))
	require.NoError(t, f.ss.Submit(3, idx, []byte("from-3")))
	require.NoError(t, f.ss.Submit(2, idx, []byte("from-2")))

	require.NoError(t, f.org.ConsumeAllBuckets(MaxIDWins))
	off, _, err := f.reg.PayloadFor(idx)
	require.NoError(t, err)
	got, err := ReadPublished(f.mem, off)
	require.NoError(t, err)
	require.Equal(t, []byte("from-3"), got)
}

func TestMinIDWinsPicksLowestWriter(t *testing.T) {
	f := newFixture(t)
	idx, err := f.reg.Resolve("contested")
	require.NoError(t, err)

	require.NoError(t, f.ss.Submit(1, idx, []byte("from-1")))
	require.NoError(t, f.ss.Submit(3, idx, []byte("from-3")))
	require.NoError(t, f.ss.Submit(2, idx, []byte("from-2")))

	require.NoError(t, f.org.ConsumeAllBuckets(MinIDWins))
	off, _, err := f.reg.PayloadFor(idx)
	require.NoError(t, err)
	got, err := ReadPublished(f.mem, off)
	require.NoError(t, err)
	require.Equal(t, []byte("from-1"), got)
}

func TestLastWriteWinsPicksMostRecentSubmission(t *testing.T) {
	f := newFixture(t)
	idx, err := f.reg.Resolve("contested")
	require.NoError(t, err)

	require.NoError(t, f.ss.Submit(0, idx, []byte("old")))
	require.NoError(t, f.ss.Submit(0, idx, []byte("new")))

	require.NoError(t, f.org.ConsumeAllBuckets(LastWriteWins))
	off, _, err := f.reg.PayloadFor(idx)
	require.NoError(t, err)
	got, err := ReadPublished(f.mem, off)
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)
}

func TestMajorityWinsPicksModePayload(t *testing.T) {
	f := newFixture(t)
	idx, err := f.reg.Resolve("contested")
	require.NoError(t, err)

	require.NoError(t, f.ss.Submit(0, idx, []byte("agree")))
	require.NoError(t, f.ss.Submit(1, idx, []byte("agree")))
	require.NoError(t, f.ss.Submit(2, idx, []byte("outlier")))

	require.NoError(t, f.org.ConsumeAllBuckets(MajorityWins))
	off, _, err := f.reg.PayloadFor(idx)
	require.NoError(t, err)
	got, err := ReadPublished(f.mem, off)
	require.NoError(t, err)
	require.Equal(t, []byte("agree"), got)
}

func TestOrganizeRecyclesLoserPages(t *testing.T) {
	f := newFixture(t)
	idx, err := f.reg.Resolve("contested")
	require.NoError(t, err)

	require.NoError(t, f.ss.Submit(1, idx, []byte("loser")))
	require.NoError(t, f.ss.Submit(2, idx, []byte("winner")))

	beforeFree, err := f.sb.FreeListHead()
	require.NoError(t, err)
	require.Zero(t, beforeFree)

	require.NoError(t, f.org.ConsumeAllBuckets(MaxIDWins))

	afterFree, err := f.sb.FreeListHead()
	require.NoError(t, err)
	require.NotZero(t, afterFree)
}

func TestOrganizeRecyclesPreviousWinnerOnReorganize(t *testing.T) {
	f := newFixture(t)
	idx, err := f.reg.Resolve("contested")
	require.NoError(t, err)

	require.NoError(t, f.ss.Submit(0, idx, []byte("round-1")))
	require.NoError(t, f.org.ConsumeAllBuckets(LastWriteWins))
	firstOff, _, err := f.reg.PayloadFor(idx)
	require.NoError(t, err)

	require.NoError(t, f.ss.Submit(0, idx, []byte("round-2")))
	require.NoError(t, f.org.ConsumeAllBuckets(LastWriteWins))
	secondOff, secondLen, err := f.reg.PayloadFor(idx)
	require.NoError(t, err)
	require.NotEqual(t, firstOff, secondOff)

	freeHead, err := f.sb.FreeListHead()
	require.NoError(t, err)
	require.Equal(t, firstOff, freeHead)

	got, err := ReadPublished(f.mem, secondOff)
	require.NoError(t, err)
	require.Equal(t, []byte("round-2"), got)
	require.EqualValues(t, len("round-2"), secondLen)
}

func TestPostOrganizeBucketHeadIsZero(t *testing.T) {
	f := newFixture(t)
	idx, err := f.reg.Resolve("bucket-check")
	require.NoError(t, err)
	require.NoError(t, f.ss.Submit(0, idx, []byte("x")))

	bucketOff, err := f.ss.bucketOffset(bucketFor(idx))
	require.NoError(t, err)
	before, err := f.mem.AtomicLoad32(bucketOff)
	require.NoError(t, err)
	require.NotZero(t, before)

	require.NoError(t, f.org.ConsumeAllBuckets(LastWriteWins))

	after, err := f.mem.AtomicLoad32(bucketOff)
	require.NoError(t, err)
	require.Zero(t, after)
}

func TestLargePayloadSpansOverflowPages(t *testing.T) {
	f := newFixture(t)
	idx, err := f.reg.Resolve("large")
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("z"), headPayloadCap+overflowPayloadCap+10)
	require.NoError(t, f.ss.Submit(0, idx, payload))
	require.NoError(t, f.org.ConsumeAllBuckets(LastWriteWins))

	off, length, err := f.reg.PayloadFor(idx)
	require.NoError(t, err)
	require.EqualValues(t, len(payload), length)
	got, err := ReadPublished(f.mem, off)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
