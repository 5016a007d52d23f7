// Package evlog implements a single process-wide, ordered, non-blocking
// diagnostic log, kept separate from any user-facing terminal output. It
// backs itself with its own ring buffer and a dedicated writer goroutine
// draining records to a file, so enqueue never blocks on file I/O — only,
// briefly, on the ring filling. See DESIGN.md for why this stays
// self-hosted rather than reaching for a third-party structured logger.
package evlog

import (
	"fmt"
	"os"
	"sync"

	"github.com/convertino-dsp/dspnode/pkg/ring"
)

const (
	// ringCapacity bounds how many bytes of pending records can queue
	// before a writer blocks.
	ringCapacity = 1 << 10
	// drainChunk is the writer goroutine's read size per iteration, in
	// bytes.
	drainChunk = 1 << 8
	// maxMessage caps a single formatted record.
	maxMessage = 240
)

// Severity tags a log record.
type Severity string

const (
	Info    Severity = "INFO   "
	Warning Severity = "WARNING"
	Error   Severity = "ERROR  "
)

// Logger is an append-only diagnostic log backed by an internal ring
// buffer and drained by a single writer goroutine.
type Logger struct {
	file *os.File
	path string
	ring *ring.Buffer

	writerDone chan struct{}
	closeOnce  sync.Once
}

// New creates a logger writing to path+".log". The file is truncated if it
// exists.
func New(path string) (*Logger, error) {
	fullPath := path + ".log"

	f, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("evlog: open %s: %w", fullPath, err)
	}

	rb, err := ring.New(ringCapacity, 1)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("evlog: ring init: %w", err)
	}

	l := &Logger{
		file:       f,
		path:       fullPath,
		ring:       rb,
		writerDone: make(chan struct{}),
	}

	go l.drain()

	return l, nil
}

// Info writes an INFO record.
func (l *Logger) Info(format string, args ...any) error {
	return l.write(Info, format, args...)
}

// Warn writes a WARNING record.
func (l *Logger) Warn(format string, args ...any) error {
	return l.write(Warning, format, args...)
}

// Error writes an ERROR record.
func (l *Logger) Error(format string, args ...any) error {
	return l.write(Error, format, args...)
}

// write enqueues a formatted record. Callers never block on file I/O —
// only, briefly, on the internal ring buffer filling.
func (l *Logger) write(sev Severity, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if len(msg) > maxMessage {
		return fmt.Errorf("evlog: message exceeds %d characters", maxMessage)
	}

	record := fmt.Sprintf("%s :: %s\n", sev, msg)
	data := []byte(record)

	n := l.ring.BlockingWrite(data, len(data), nil)
	if n < len(data) {
		return ring.ErrClosed
	}
	return nil
}

// drain is the single writer goroutine: it blocks on the ring buffer,
// writes whatever it reads, and flushes each batch.
func (l *Logger) drain() {
	defer close(l.writerDone)

	buf := make([]byte, drainChunk)
	for {
		n := l.ring.BlockingRead(buf, len(buf), nil)
		if n > 0 {
			total := 0
			for total < n {
				w, err := l.file.Write(buf[total:n])
				if err != nil {
					break
				}
				total += w
			}
			l.file.Sync()
		}
		if n == 0 && !l.ring.IsAlive() {
			return
		}
	}
}

// Cleanup ends the internal buffer, joins the writer goroutine, and closes
// the file. Safe to call from any goroutine, exactly once — repeat calls
// are no-ops.
func (l *Logger) Cleanup() error {
	var closeErr error
	l.closeOnce.Do(func() {
		l.ring.End()
		<-l.writerDone
		closeErr = l.file.Close()
	})
	return closeErr
}
