package fabric

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nmxmxh/shmfabric/internal/fabriclog"
	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/region"
	"github.com/nmxmxh/shmfabric/internal/sharedstate"
	"github.com/stretchr/testify/require"
)

func testLogger() *fabriclog.Logger { return fabriclog.New("fabric-test") }

func TestFormatThenRoundTripThroughAPI(t *testing.T) {
	mem := hal.NewInMemoryProvider(region.InitialRegionSize)
	f := Format(mem, testLogger())

	magic, err := f.Superblock.Magic()
	require.NoError(t, err)
	require.Equal(t, region.Magic, magic)

	require.NoError(t, f.API.DemoWriter(2, 42))
	require.NoError(t, f.Organizer.ConsumeAllBuckets(sharedstate.MajorityWins))

	record, shared, err := f.API.DemoReader(2)
	require.NoError(t, err)
	require.NotEmpty(t, record)
	require.NotEmpty(t, shared)
}

func TestOpenRejectsUnformattedRegion(t *testing.T) {
	mem := hal.NewInMemoryProvider(region.InitialRegionSize)
	_, err := Open(mem, testLogger())
	require.Error(t, err)
}

func TestOpenAcceptsFormattedRegion(t *testing.T) {
	mem := hal.NewInMemoryProvider(region.InitialRegionSize)
	Format(mem, testLogger())

	f, err := Open(mem, testLogger())
	require.NoError(t, err)
	require.NotNil(t, f.API)
}

func TestShutdownRunsRegisteredFunctionsLIFO(t *testing.T) {
	sd := NewShutdown(time.Second, testLogger())
	var order []int
	sd.Register(func() error { order = append(order, 1); return nil })
	sd.Register(func() error { order = append(order, 2); return nil })

	require.NoError(t, sd.Run(context.Background()))
	require.Equal(t, []int{2, 1}, order)
}

func TestShutdownTimesOut(t *testing.T) {
	sd := NewShutdown(10*time.Millisecond, testLogger())
	sd.Register(func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	})
	err := sd.Run(context.Background())
	require.Error(t, err)
}

func TestShutdownCollectsIndividualErrorsWithoutFailingRun(t *testing.T) {
	sd := NewShutdown(time.Second, testLogger())
	sd.Register(func() error { return errors.New("boom") })
	require.NoError(t, sd.Run(context.Background()))
}
