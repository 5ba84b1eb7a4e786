// Command fabric-host is the CLI entrypoint for the shared-memory fabric:
// it either formats a region and spawns reader/writer workers (manager,
// the zero-argument form) or runs a single worker role against an
// already-formatted region (role shm_path id), mirroring
// astest/host/src/main.rs's argument contract.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/nmxmxh/shmfabric/internal/fabric"
	"github.com/nmxmxh/shmfabric/internal/fabriclog"
	"github.com/nmxmxh/shmfabric/internal/hal"
	"github.com/nmxmxh/shmfabric/internal/region"
	"github.com/nmxmxh/shmfabric/internal/sandbox"
	"github.com/nmxmxh/shmfabric/internal/sharedstate"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// shutdownTimeout bounds how long a worker or manager waits for registered
// teardown functions before giving up.
const shutdownTimeout = 5 * time.Second

const shmName = "shmfabric_region"

var (
	flagPath    string
	flagSize    uint32
	flagSandbox string
	flagWasm    string
	flagPolicy  string
	flagVerbose bool

	flagWriterTicks   uint32
	flagReaderPolls   uint32
	flagReaderDelayMs uint32
)

func main() {
	pflag.StringVar(&flagPath, "path", hal.DefaultPath(shmName), "backing file for the shared-memory region")
	pflag.Uint32Var(&flagSize, "size", region.InitialRegionSize, "initial region size in bytes (manager only)")
	pflag.StringVar(&flagSandbox, "sandbox", "thread", "guest execution strategy: thread|wasm")
	pflag.StringVar(&flagWasm, "wasm-path", "", "compiled guest module (required when --sandbox=wasm)")
	pflag.StringVar(&flagPolicy, "policy", "majority", "shared-state consumption policy: maxid|minid|majority|lastwrite")
	pflag.BoolVar(&flagVerbose, "verbose", false, "log at debug level")
	pflag.Uint32Var(&flagWriterTicks, "writer-ticks", 5000, "number of writer() calls per writer worker")
	pflag.Uint32Var(&flagReaderPolls, "reader-polls", 15, "number of reader() polls per reader worker")
	pflag.Uint32Var(&flagReaderDelayMs, "reader-poll-interval-ms", 200, "delay between reader polls")
	pflag.Parse()

	log := newLogger("fabric-host")
	args := pflag.Args()

	if len(args) == 0 {
		runManager(log)
		return
	}

	role := args[0]
	shmPath := flagPath
	var id uint32
	if len(args) > 1 {
		shmPath = args[1]
	}
	if len(args) > 2 {
		parsed, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			id = 0
		} else {
			id = uint32(parsed)
		}
	}

	runWorker(log, role, shmPath, id)
}

func newLogger(component string) *fabriclog.Logger {
	if flagVerbose {
		return fabriclog.NewAtLevel(component, zapcore.DebugLevel)
	}
	return fabriclog.New(component)
}

func runManager(log *fabriclog.Logger) {
	if err := region.ValidateSize(flagSize); err != nil {
		log.Fatal("invalid --size", fabriclog.Err(err))
	}

	log.Info("formatting region", fabriclog.String("path", flagPath), fabriclog.Uint32("size", flagSize))

	mem, err := hal.Open(hal.Options{Path: flagPath, Size: flagSize, Create: true})
	if err != nil {
		log.Fatal("open region for format", fabriclog.Err(err))
	}
	f := fabric.Format(mem, log)
	if err := f.Close(); err != nil {
		log.Fatal("close formatted region", fabriclog.Err(err))
	}

	self, err := os.Executable()
	if err != nil {
		log.Fatal("resolve self executable", fabriclog.Err(err))
	}

	var readers []*exec.Cmd
	for i := uint32(0); i < region.WriterCount; i++ {
		cmd := spawn(self, "reader", flagPath, i)
		readers = append(readers, cmd)
	}
	time.Sleep(300 * time.Millisecond)

	var writers []*exec.Cmd
	for i := uint32(0); i < region.WriterCount; i++ {
		cmd := spawn(self, "writer", flagPath, i)
		writers = append(writers, cmd)
	}

	// On SIGINT/SIGTERM, terminate every spawned worker instead of leaving
	// them running past the manager's own exit.
	sd := fabric.NewShutdown(shutdownTimeout, log)
	for _, cmd := range append(append([]*exec.Cmd{}, readers...), writers...) {
		proc := cmd
		sd.Register(func() error {
			if proc.Process == nil {
				return nil
			}
			return proc.Process.Signal(syscall.SIGTERM)
		})
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	var once sync.Once
	go func() {
		<-ctx.Done()
		once.Do(func() {
			log.Warn("manager received shutdown signal, terminating workers")
			_ = sd.Run(context.Background())
		})
	}()

	for _, cmd := range writers {
		if err := cmd.Wait(); err != nil {
			log.Error("writer worker exited with error", fabriclog.Err(err))
		}
	}
	for _, cmd := range readers {
		if err := cmd.Wait(); err != nil {
			log.Error("reader worker exited with error", fabriclog.Err(err))
		}
	}
	stop()

	log.Info("manager complete")
}

func spawn(self, role, path string, id uint32) *exec.Cmd {
	cmd := exec.Command(self, role, path, strconv.FormatUint(uint64(id), 10))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "fabric-host: failed to spawn %s %d: %v\n", role, id, err)
	}
	return cmd
}

func runWorker(log *fabriclog.Logger, role, shmPath string, id uint32) {
	mem, err := hal.Open(hal.Options{Path: shmPath, Create: false})
	if err != nil {
		log.Fatal("open region", fabriclog.Err(err), fabriclog.String("path", shmPath))
	}

	f, err := fabric.Open(mem, log)
	if err != nil {
		log.Fatal("attach to region", fabriclog.Err(err))
	}

	guest, err := newGuest(f)
	if err != nil {
		log.Fatal("construct guest sandbox", fabriclog.Err(err))
	}

	// Registered LIFO: the guest sandbox tears down before the mapping it
	// was built on top of is unmapped.
	sd := fabric.NewShutdown(shutdownTimeout, log)
	sd.Register(func() error { return f.Close() })
	sd.Register(guest.Close)

	var once sync.Once
	teardown := func() { once.Do(func() { _ = sd.Run(context.Background()) }) }
	defer teardown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Warn("worker received shutdown signal", fabriclog.String("role", role), fabriclog.Uint32("id", id))
		teardown()
	}()

	switch role {
	case "writer":
		runWriterRole(log, f, guest, id)
	case "reader":
		runReaderRole(log, guest, id)
	case "dump":
		runDumpRole(log, f)
	default:
		log.Fatal("unknown role", fabriclog.String("role", role))
	}
}

func newGuest(f *fabric.Fabric) (sandbox.Guest, error) {
	switch flagSandbox {
	case "thread":
		return sandbox.NewThreadGuest(f.API, f.Superblock), nil
	case "wasm":
		if flagWasm == "" {
			return nil, fmt.Errorf("fabric-host: --wasm-path required for --sandbox=wasm")
		}
		return sandbox.NewWasmerGuest(flagWasm, f.Capacity, f.Registry)
	default:
		return nil, fmt.Errorf("fabric-host: unknown --sandbox %q", flagSandbox)
	}
}

func runWriterRole(log *fabriclog.Logger, f *fabric.Fabric, guest sandbox.Guest, id uint32) {
	log.Info("writer started", fabriclog.Uint32("id", id))
	for i := uint32(0); i < flagWriterTicks; i++ {
		if err := guest.Writer(id); err != nil {
			log.Error("writer tick failed", fabriclog.Uint32("id", id), fabriclog.Err(err))
		}
	}
	log.Info("writer finished", fabriclog.Uint32("id", id))

	policy, err := resolvePolicy(flagPolicy)
	if err != nil {
		log.Fatal("resolve policy", fabriclog.Err(err))
	}
	if err := f.Organizer.ConsumeAllBuckets(policy); err != nil {
		log.Error("organize shared state", fabriclog.Err(err))
	}
	log.Info("organization and garbage collection complete")
}

func runReaderRole(log *fabriclog.Logger, guest sandbox.Guest, id uint32) {
	for i := uint32(0); i < flagReaderPolls; i++ {
		packed, err := guest.Reader(id)
		if err != nil {
			log.Error("reader poll failed", fabriclog.Uint32("id", id), fabriclog.Err(err))
		}
		global, err := guest.ReadLiveGlobal()
		if err != nil {
			log.Error("read live global failed", fabriclog.Uint32("id", id), fabriclog.Err(err))
		}
		if packed != 0 {
			log.Info("reader observed record", fabriclog.Uint32("id", id), fabriclog.Uint64("packed", packed), fabriclog.Uint64("global_capacity", global))
		} else {
			log.Info("reader waiting", fabriclog.Uint32("id", id), fabriclog.Uint64("global_capacity", global))
		}
		time.Sleep(time.Duration(flagReaderDelayMs) * time.Millisecond)
	}
}

func runDumpRole(log *fabriclog.Logger, f *fabric.Fabric) {
	global, err := f.Superblock.GlobalCapacity()
	if err != nil {
		log.Fatal("read global capacity", fabriclog.Err(err))
	}
	for _, r := range region.Regions(global) {
		fmt.Fprintf(os.Stdout, "%-12s offset=0x%08x size=%d\n", r.Name, r.Offset, r.Size)
	}

	cursor, err := f.Superblock.LogCursor()
	if err != nil {
		log.Fatal("read log cursor", fabriclog.Err(err))
	}
	snap, err := f.Log.Snapshot(cursor)
	if err != nil {
		log.Fatal("snapshot log arena", fabriclog.Err(err))
	}
	os.Stdout.Write(snap)
}

func resolvePolicy(name string) (sharedstate.Policy, error) {
	switch name {
	case "maxid":
		return sharedstate.MaxIDWins, nil
	case "minid":
		return sharedstate.MinIDWins, nil
	case "majority":
		return sharedstate.MajorityWins, nil
	case "lastwrite":
		return sharedstate.LastWriteWins, nil
	default:
		return nil, fmt.Errorf("fabric-host: unknown --policy %q", name)
	}
}
