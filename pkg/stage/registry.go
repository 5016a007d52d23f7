package stage

import (
	"sync"

	"github.com/convertino-dsp/dspnode/internal/evlog"
)

// Registry tracks how many live stages share a process-wide logger, so the
// logger can be torn down exactly once — when the last stage using it is
// cleaned up. Callers hold their own Registry and pass it down the stage
// construction path, rather than discovering a shared logger through a
// package-level global.
type Registry struct {
	mu     sync.Mutex
	logger *evlog.Logger
	count  int
}

// NewRegistry wraps an already-constructed logger for shared lifetime
// tracking across the stages about to be built from it.
func NewRegistry(logger *evlog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Acquire registers one more stage as a user of the shared logger and
// returns it.
func (r *Registry) Acquire() *evlog.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	return r.logger
}

// Release drops one reference. When the last reference is released, the
// shared logger is flushed and closed.
func (r *Registry) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count > 0 {
		r.count--
	}
	if r.count == 0 && r.logger != nil {
		err := r.logger.Cleanup()
		r.logger = nil
		return err
	}
	return nil
}
