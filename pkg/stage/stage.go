// Package stage implements the runtime shell around pipeline nodes:
// lifecycle, typed input/output binding, worker activation, join, and
// teardown, built around a single plug-in Payload interface. The
// receiver of a Payload's methods IS the per-stage data handle, so the
// compiler checks the binding between a stage's state and its behavior
// instead of leaving it to convention around an opaque handle.
package stage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/convertino-dsp/dspnode/internal/evlog"
	"github.com/convertino-dsp/dspnode/internal/shutdown"
	"github.com/convertino-dsp/dspnode/pkg/ring"
	"github.com/convertino-dsp/dspnode/pkg/sample"
)

// Payload is the triple of callbacks a concrete stage body implements. The
// receiver of these methods is that stage's own data handle, holding
// whatever state Init acquires.
type Payload interface {
	// Init runs synchronously during stage setup. It must return the
	// concrete element tags this payload reads (in) and writes (out)
	// through the stage's ring buffers — sample.Invalid means "no channel
	// on this side". A non-nil error leaves the stage safe to Cleanup but
	// not to Start.
	Init(st *Stage) (in, out sample.Tag, err error)
	// Run executes on the stage's worker goroutine. It must return when
	// upstream signals end-of-stream, when the shutdown flag is observed,
	// or on an unrecoverable error. The worker ends the stage's owned
	// output ring buffer once Run returns, whatever the reason.
	Run(st *Stage) error
	// Free releases what Init acquired. Called only after the worker has
	// joined; must not touch ring buffers the stage did not own.
	Free(st *Stage) error
}

// lifecycle is the stage's CREATED -> READY -> READY* (bound) -> RUNNING
// -> JOINED state machine.
type lifecycle int32

const (
	created lifecycle = iota
	ready
	bound
	running
	joined
)

// Config configures a stage at creation time.
type Config struct {
	// Name is a stable display name, consumed by observability adaptors;
	// purely diagnostic.
	Name string
	// Capacity is the output ring buffer's capacity in elements.
	Capacity int
	// ChunkSize is the advisory per-iteration element count a payload's
	// Run loop should aim for; not a framing boundary.
	ChunkSize int
	// Logger receives lifecycle and warning records. May be nil.
	Logger *evlog.Logger
}

// Stage is one processing unit in the graph: it owns its output ring
// buffer (if any), holds a reference to an upstream stage's output ring
// buffer as its input (if any), and runs exactly one worker goroutine.
type Stage struct {
	id   uuid.UUID
	name string

	capacity  int
	chunkSize int
	logger    *evlog.Logger

	inputTag, outputTag   sample.Tag
	inputSize, outputSize int

	output *ring.Buffer // owned; nil if outputTag is Invalid
	input  *ring.Buffer // weak reference into an upstream stage's output

	payload Payload

	processed uint64 // atomic, monotone total elements processed
	active    int32  // atomic bool

	mu    sync.Mutex
	state lifecycle

	workerDone chan struct{}
	endOnce    sync.Once
	endCh      chan struct{}
}

// New allocates a stage with the given configuration. The stage starts in
// the CREATED state; call Setup to advance it to READY.
func New(cfg Config) *Stage {
	return &Stage{
		id:        uuid.New(),
		name:      cfg.Name,
		capacity:  cfg.Capacity,
		chunkSize: cfg.ChunkSize,
		logger:    cfg.Logger,
		inputTag:  sample.Invalid,
		outputTag: sample.Invalid,
		endCh:     make(chan struct{}),
	}
}

// ID returns the stage's unique identifier.
func (s *Stage) ID() uuid.UUID { return s.id }

// Name returns the stage's display name.
func (s *Stage) Name() string { return s.name }

// ChunkSize returns the advisory per-iteration element count.
func (s *Stage) ChunkSize() int { return s.chunkSize }

// InputTag returns the element tag this stage reads, or sample.Invalid.
func (s *Stage) InputTag() sample.Tag { return s.inputTag }

// OutputTag returns the element tag this stage writes, or sample.Invalid.
func (s *Stage) OutputTag() sample.Tag { return s.outputTag }

// InputSize returns the byte size of one input element.
func (s *Stage) InputSize() int { return s.inputSize }

// OutputSize returns the byte size of one output element.
func (s *Stage) OutputSize() int { return s.outputSize }

// Processed returns the monotone total-elements-processed counter. Word-
// sized atomic access; readers may observe a stale but never torn value.
func (s *Stage) Processed() uint64 { return atomic.LoadUint64(&s.processed) }

// AddProcessed increments the total-elements-processed counter. Only the
// stage's own worker goroutine should call this, from inside Run.
func (s *Stage) AddProcessed(n uint64) { atomic.AddUint64(&s.processed, n) }

// Active reports whether the worker goroutine is currently executing Run.
func (s *Stage) Active() bool { return atomic.LoadInt32(&s.active) == 1 }

// Output returns the stage's owned output ring buffer, or nil if its
// output tag is Invalid.
func (s *Stage) Output() *ring.Buffer { return s.output }

// Input returns the stage's bound input ring buffer (owned by an upstream
// stage), or nil if none is bound.
func (s *Stage) Input() *ring.Buffer { return s.input }

// Logger returns the stage's logger, which may be nil.
func (s *Stage) Logger() *evlog.Logger { return s.logger }

// Done returns a channel closed when EndRequest is called, for a payload's
// Run loop to optionally select on — the Go equivalent of the original's
// pthread_kill(SIGUSR1) best-effort nudge, since Go has no signal-a-
// specific-goroutine primitive.
func (s *Stage) Done() <-chan struct{} { return s.endCh }

// Cancelled is the cancellation predicate wired into every blocking ring
// buffer call a payload makes: it is true once the process shutdown flag
// is set, or once this stage's own EndRequest has fired.
func (s *Stage) Cancelled() bool {
	if shutdown.Requested() {
		return true
	}
	select {
	case <-s.endCh:
		return true
	default:
		return false
	}
}

// Setup invokes Init, derives element sizes from the returned tags, and —
// if the output tag is concrete — creates the owned output ring buffer.
// Any failure leaves the stage safe for Cleanup.
func (s *Stage) Setup(p Payload) error {
	s.mu.Lock()
	if s.state != created {
		s.mu.Unlock()
		return fmt.Errorf("stage: Setup called out of order (state=%v)", s.state)
	}
	s.mu.Unlock()

	s.payload = p

	in, out, err := p.Init(s)
	s.inputTag = in
	s.outputTag = out
	s.inputSize = in.Size()
	s.outputSize = out.Size()

	if err != nil {
		return fmt.Errorf("stage %s: init: %w", s.name, err)
	}

	if s.outputTag.Valid() {
		buf, err := ring.New(s.capacity, s.outputSize)
		if err != nil {
			return fmt.Errorf("stage %s: output ring: %w", s.name, err)
		}
		s.output = buf
	}

	s.mu.Lock()
	s.state = ready
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("stage %s (%s) ready", s.name, s.id)
	}

	return nil
}

// BindInput sets this stage's input ring buffer reference to producer's
// output ring buffer. No ownership transfer occurs: producer keeps owning
// it. A type mismatch or an invalid tag on either side is a warning, never
// a failure — type coercion is the payload's responsibility.
func (s *Stage) BindInput(producer *Stage) error {
	if producer == nil {
		return fmt.Errorf("stage %s: BindInput: producer is nil", s.name)
	}

	if !producer.outputTag.Valid() {
		s.warnf("producer %s has no output (type %s); binding is inert", producer.name, producer.outputTag)
	}
	if !s.inputTag.Valid() {
		s.warnf("input type is invalid on %s; no input needed or init failed", s.name)
	}
	if s.inputTag.Valid() && producer.outputTag.Valid() && s.inputTag != producer.outputTag {
		s.warnf("format mismatch: %s needs %s, %s outputs %s", s.name, s.inputTag, producer.name, producer.outputTag)
	}

	s.input = producer.output

	s.mu.Lock()
	if s.state == ready {
		s.state = bound
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("stage %s bound to input from %s", s.name, producer.name)
	}
	return nil
}

func (s *Stage) warnf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(format, args...)
	}
}

// Start spawns the worker goroutine running Payload.Run.
func (s *Stage) Start() error {
	s.mu.Lock()
	if s.state != ready && s.state != bound {
		s.mu.Unlock()
		return fmt.Errorf("stage %s: Start called out of order (state=%v)", s.name, s.state)
	}
	s.state = running
	s.workerDone = make(chan struct{})
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("stage %s started", s.name)
	}

	go s.runWorker()
	return nil
}

func (s *Stage) runWorker() {
	atomic.StoreInt32(&s.active, 1)

	err := s.payload.Run(s)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("stage %s: run: %v", s.name, err)
		}
		shutdown.Request()
	}

	if s.output != nil {
		s.output.End()
	}

	atomic.StoreInt32(&s.active, 0)
	close(s.workerDone)
}

// Join blocks until the worker goroutine has returned.
func (s *Stage) Join() {
	s.mu.Lock()
	done := s.workerDone
	s.mu.Unlock()
	if done == nil {
		return
	}
	<-done

	s.mu.Lock()
	s.state = joined
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("stage %s joined", s.name)
	}
}

// EndRequest is a best-effort nudge for a stuck worker: it closes the
// stage's Done channel, which a cooperative payload may select on.
// Correct shutdown never depends on this — it exists for diagnostic use.
func (s *Stage) EndRequest() {
	s.endOnce.Do(func() { close(s.endCh) })
}

// Cleanup releases what Setup/Init acquired: it invokes Payload.Free, then
// destroys the owned output ring buffer. The worker must have already
// joined; calling Cleanup on a stage that was started and not yet joined
// is an error.
func (s *Stage) Cleanup() error {
	s.mu.Lock()
	started := s.state == running
	s.mu.Unlock()
	if started || s.Active() {
		return fmt.Errorf("stage %s: Cleanup called while still active", s.name)
	}
	if s.payload == nil {
		return nil
	}

	err := s.payload.Free(s)

	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}

	if s.logger != nil {
		if err != nil {
			s.logger.Error("stage %s: free: %v", s.name, err)
		} else {
			s.logger.Info("stage %s cleaned up", s.name)
		}
	}

	return err
}
