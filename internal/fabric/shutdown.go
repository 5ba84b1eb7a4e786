package fabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nmxmxh/shmfabric/internal/fabriclog"
)

// Shutdown runs registered teardown functions one after another in LIFO
// order, all under one shared deadline.
type Shutdown struct {
	mu      sync.Mutex
	fns     []func() error
	timeout time.Duration
	log     *fabriclog.Logger
}

// NewShutdown creates a shutdown coordinator bounded by timeout.
func NewShutdown(timeout time.Duration, log *fabriclog.Logger) *Shutdown {
	if log == nil {
		log = fabriclog.New("shutdown")
	}
	return &Shutdown{timeout: timeout, log: log}
}

// Register adds fn to the teardown list. Registration order matters:
// Run executes fns in reverse registration order, so the last resource
// acquired is the first one released.
func (s *Shutdown) Register(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

// Run executes every registered function, LIFO, within ctx bounded by
// s.timeout. Individual failures are logged and collected; Run itself
// only returns an error on timeout.
func (s *Shutdown) Run(ctx context.Context) error {
	s.mu.Lock()
	fns := make([]func() error, len(s.fns))
	copy(fns, s.fns)
	s.mu.Unlock()

	s.log.Info("shutdown starting", fabriclog.Int("components", len(fns)))

	shutdownCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(fns) - 1; i >= 0; i-- {
			if err := fns[i](); err != nil {
				s.log.Error("shutdown function failed", fabriclog.Int("index", i), fabriclog.Err(err))
			}
		}
	}()

	select {
	case <-done:
		s.log.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		s.log.Warn("shutdown timed out")
		return fmt.Errorf("fabric: shutdown timed out after %s", s.timeout)
	}
}
