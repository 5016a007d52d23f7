// Package memory provides minimal in-memory source and sink stage
// payloads, useful for testing pipelines end to end without touching a
// file, socket, or audio device, and as the smallest possible example of
// the Payload contract for anyone wiring a new stage catalog entry.
package memory

import (
	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
)

// Source emits a fixed byte slice once, in order, then ends its output.
// Data is emitted as whole elements of the output tag's size; trailing
// bytes that do not fill an element are not emitted.
type Source struct {
	Data []byte
	Tag  sample.Tag
}

// Init sets no input (this is a pure producer) and the configured output tag.
func (s *Source) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	return sample.Invalid, s.Tag, nil
}

// Run writes Data to the output ring buffer, looping on short writes, then
// returns — the stage's worker ends the output buffer once Run returns.
func (s *Source) Run(st *stage.Stage) error {
	out := st.Output()
	elemSize := out.ElementSize()
	total := len(s.Data) / elemSize
	off := 0
	for off < total {
		n := out.BlockingWrite(s.Data[off*elemSize:], total-off, st.Cancelled)
		if n == 0 {
			break
		}
		off += n
		st.AddProcessed(uint64(n))
	}
	return nil
}

// Free releases nothing; Source acquires no external resource.
func (s *Source) Free(st *stage.Stage) error { return nil }

// Sink reads from its bound input until end-of-stream and accumulates
// everything it reads, in order.
type Sink struct {
	Tag      sample.Tag
	Received []byte
}

// Init sets the configured input tag and no output (this is a pure consumer).
func (s *Sink) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	return s.Tag, sample.Invalid, nil
}

// Run reads from the input ring buffer until it drains to end-of-stream.
func (s *Sink) Run(st *stage.Stage) error {
	in := st.Input()
	elemSize := in.ElementSize()
	buf := make([]byte, st.ChunkSize()*elemSize)
	if len(buf) == 0 {
		buf = make([]byte, 64)
	}
	for {
		n := in.BlockingRead(buf, len(buf)/elemSize, st.Cancelled)
		if n == 0 && !in.IsAlive() {
			return nil
		}
		s.Received = append(s.Received, buf[:n*elemSize]...)
		st.AddProcessed(uint64(n))
	}
}

// Free releases nothing; Sink acquires no external resource.
func (s *Sink) Free(st *stage.Stage) error { return nil }
