// Package shutdown implements a cooperative shutdown coordinator: a single
// process-wide quiescence flag, an operator-interrupt handler, and an
// optional terminal heartbeat. The flag generalizes a single global
// sig_atomic_t into an atomic value any number of stages and ring buffers
// can poll without needing their own signal plumbing.
package shutdown

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// requested is the single process-wide "stop requested" boolean. It is
// read by many goroutines and written by any; atomic access with
// acquire/release semantics is the only synchronization it needs.
var requested int32

// Request sets the shutdown flag. Monotonic: once set, further calls are a
// no-op. Safe to call from any goroutine, any number of times.
func Request() {
	atomic.StoreInt32(&requested, 1)
}

// Requested reports whether shutdown has been requested.
func Requested() bool {
	return atomic.LoadInt32(&requested) == 1
}

// reset clears the flag. Exists only for tests: the flag is process-global
// and otherwise never un-sets once tripped — a one-way transition from
// clear to set.
func reset() {
	atomic.StoreInt32(&requested, 0)
}

// InterruptHandler installs a handler for SIGINT/SIGTERM that sets the
// shutdown flag and detaches itself: a second signal proceeds with the
// default disposition, so an operator can always force a hard exit with a
// repeated Ctrl-C. No I/O happens from signal context — the notice is
// printed by the goroutine that observes the channel, never inside a
// signal handler.
type InterruptHandler struct {
	ch   chan os.Signal
	stop chan struct{}
	once sync.Once
	done chan struct{}
}

// Install starts watching for SIGINT/SIGTERM.
func Install() *InterruptHandler {
	h := &InterruptHandler{
		ch:   make(chan os.Signal, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	signal.Notify(h.ch, os.Interrupt, syscall.SIGTERM)
	go h.watch()
	return h
}

func (h *InterruptHandler) watch() {
	defer close(h.done)
	select {
	case sig := <-h.ch:
		signal.Stop(h.ch)
		fmt.Printf("\nINFO: %v caught, shutting down.\n", sig)
		Request()
	case <-h.stop:
		signal.Stop(h.ch)
	}
}

// Detach stops watching for signals without requesting shutdown. Safe to
// call once; subsequent calls are no-ops.
func (h *InterruptHandler) Detach() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}
